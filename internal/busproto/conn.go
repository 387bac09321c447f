package busproto

import (
	"encoding/hex"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/aelkeyd/aelkeyd/internal/reactor"
)

// SignalHandler is invoked for every TypeSignal message received, keyed by
// the sender's chosen dispatch (Conn itself does no filtering beyond what
// AddMatch installed on the bus).
type SignalHandler func(*Message)

// Conn is one AF_UNIX connection to a D-Bus daemon, registered with the
// reactor like any other fd. Grounded on zaolin-framework-powerd's
// raw-socket Monitor for the
// "unix.Socket + reactor-driven read loop" shape, generalized from a
// netlink multicast socket to a stream-oriented AF_UNIX peer connection.
type Conn struct {
	fd int

	mu       sync.Mutex
	serial   uint32
	pending  map[uint32]chan *Message
	signals  []SignalHandler
	readBuf  []byte
	closed   bool
}

// Dial connects to addr (a unix socket path, typically read from
// DBUS_SYSTEM_BUS_ADDRESS or the well-known /var/run/dbus/system_bus_socket)
// and performs SASL EXTERNAL authentication.
func Dial(addr string) (*Conn, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("busproto: socket: %w", err)
	}
	sa := &unix.SockaddrUnix{Name: addr}
	if err := unix.Connect(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("busproto: connect %s: %w", addr, err)
	}
	c := &Conn{fd: fd, pending: make(map[uint32]chan *Message)}
	if err := c.authenticate(); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return c, nil
}

// authenticate performs the minimal SASL EXTERNAL handshake D-Bus requires:
// a leading NUL byte, "AUTH EXTERNAL <hex-uid>", then "BEGIN".
func (c *Conn) authenticate() error {
	if _, err := unix.Write(c.fd, []byte{0}); err != nil {
		return fmt.Errorf("busproto: auth nul byte: %w", err)
	}
	uid := fmt.Sprintf("%d", os.Getuid())
	line := fmt.Sprintf("AUTH EXTERNAL %s\r\n", hex.EncodeToString([]byte(uid)))
	if _, err := unix.Write(c.fd, []byte(line)); err != nil {
		return fmt.Errorf("busproto: auth line: %w", err)
	}
	reply := make([]byte, 256)
	n, err := unix.Read(c.fd, reply)
	if err != nil {
		return fmt.Errorf("busproto: auth reply: %w", err)
	}
	if n < 2 || string(reply[:2]) != "OK" {
		return fmt.Errorf("busproto: SASL rejected: %q", string(reply[:n]))
	}
	if _, err := unix.Write(c.fd, []byte("BEGIN\r\n")); err != nil {
		return fmt.Errorf("busproto: auth begin: %w", err)
	}
	return nil
}

// FD returns the connection's file descriptor for reactor registration.
func (c *Conn) FD() int { return c.fd }

// OnSignal registers a callback invoked for every received signal message.
func (c *Conn) OnSignal(h SignalHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.signals = append(c.signals, h)
}

// nextSerial returns the next outgoing message serial (D-Bus serials are
// 1-based and must never repeat on a connection).
func (c *Conn) nextSerial() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.serial++
	return c.serial
}

// Call sends a method call and blocks until its reply arrives (delivered
// from HandleEvent on the reactor goroutine) or an error reply is seen.
// Under the single-threaded reactor model, Call must only be invoked from
// reactor-driven code paths that can tolerate re-entering WaitOnce while
// awaiting the reply. CallAsync below is the non-blocking variant.
func (c *Conn) Call(dest string, path ObjectPath, iface, member, sig string, args ...any) (*Message, error) {
	ch := make(chan *Message, 1)
	serial, err := c.send(dest, path, iface, member, sig, ch, args...)
	if err != nil {
		return nil, err
	}
	reply := <-ch
	c.mu.Lock()
	delete(c.pending, serial)
	c.mu.Unlock()
	if reply.Type == TypeError {
		return nil, fmt.Errorf("busproto: %s.%s: %s", iface, member, reply.ErrorName)
	}
	return reply, nil
}

// CallAsync sends a method call and returns immediately; onReply fires
// from HandleEvent when the matching reply arrives.
func (c *Conn) CallAsync(dest string, path ObjectPath, iface, member, sig string, onReply func(*Message, error), args ...any) error {
	ch := make(chan *Message, 1)
	serial, err := c.send(dest, path, iface, member, sig, ch, args...)
	if err != nil {
		return err
	}
	go func() {
		reply := <-ch
		c.mu.Lock()
		delete(c.pending, serial)
		c.mu.Unlock()
		if reply.Type == TypeError {
			onReply(nil, fmt.Errorf("busproto: %s.%s: %s", iface, member, reply.ErrorName))
			return
		}
		onReply(reply, nil)
	}()
	return nil
}

func (c *Conn) send(dest string, path ObjectPath, iface, member, sig string, ch chan *Message, args ...any) (uint32, error) {
	m := &Message{
		Type:        TypeMethodCall,
		Serial:      c.nextSerial(),
		Path:        path,
		Interface:   iface,
		Member:      member,
		Destination: dest,
	}
	if sig != "" {
		if err := m.MarshalBody(sig, args...); err != nil {
			return 0, err
		}
	}
	c.mu.Lock()
	c.pending[m.Serial] = ch
	c.mu.Unlock()

	if _, err := unix.Write(c.fd, m.Encode()); err != nil {
		c.mu.Lock()
		delete(c.pending, m.Serial)
		c.mu.Unlock()
		return 0, fmt.Errorf("busproto: write: %w", err)
	}
	return m.Serial, nil
}

// HandleEvent implements reactor.Handler: it drains and dispatches every
// complete message currently available on the socket.
func (c *Conn) HandleEvent(payload any, r reactor.Readiness) {
	if !r.Readable {
		return
	}
	for {
		msg, err := c.readOne()
		if err != nil {
			return
		}
		if msg == nil {
			return
		}
		c.dispatch(msg)
	}
}

// readOne reads exactly one framed message, blocking on this connection's
// fd (safe because the caller only invokes this from readiness callbacks,
// and D-Bus frames are small relative to socket buffers).
func (c *Conn) readOne() (*Message, error) {
	head := make([]byte, headerLen)
	if err := c.readFull(head); err != nil {
		return nil, err
	}
	order, _, bodyLen, fieldsLen, err := DecodeHeader(head)
	if err != nil {
		return nil, err
	}
	fieldsAndPad := int(fieldsLen)
	if r := (headerLen + fieldsAndPad) % 8; r != 0 {
		fieldsAndPad += 8 - r
	}
	rest := make([]byte, fieldsAndPad+int(bodyLen))
	if err := c.readFull(rest); err != nil {
		return nil, err
	}
	full := append(head, rest...)
	return Decode(full, order)
}

func (c *Conn) readFull(buf []byte) error {
	read := 0
	for read < len(buf) {
		n, err := unix.Read(c.fd, buf[read:])
		if err != nil {
			if err == unix.EAGAIN {
				if read == 0 {
					return err
				}
				continue
			}
			return err
		}
		if n == 0 {
			return fmt.Errorf("busproto: connection closed")
		}
		read += n
	}
	return nil
}

func (c *Conn) dispatch(msg *Message) {
	switch msg.Type {
	case TypeMethodReturn, TypeError:
		c.mu.Lock()
		ch, ok := c.pending[msg.ReplySerial]
		c.mu.Unlock()
		if ok {
			ch <- msg
		}
	case TypeSignal:
		c.mu.Lock()
		handlers := append([]SignalHandler(nil), c.signals...)
		c.mu.Unlock()
		for _, h := range handlers {
			h(msg)
		}
	}
}

// Close closes the underlying socket.
func (c *Conn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return unix.Close(c.fd)
}
