package busproto

import (
	"encoding/binary"
	"fmt"
)

// Message types (D-Bus spec §Message Format).
const (
	TypeMethodCall   byte = 1
	TypeMethodReturn byte = 2
	TypeError        byte = 3
	TypeSignal       byte = 4
)

// Header field codes.
const (
	fieldPath        byte = 1
	fieldInterface   byte = 2
	fieldMember      byte = 3
	fieldErrorName   byte = 4
	fieldReplySerial byte = 5
	fieldDestination byte = 6
	fieldSender      byte = 7
	fieldSignature   byte = 8
)

const noReplyExpected byte = 0x01

// Message is a fully decoded or to-be-encoded D-Bus message. Body holds
// already-marshaled argument bytes (use MarshalBody to build it from
// typed args); Args is populated by Decode.
type Message struct {
	Type        byte
	NoReply     bool
	Serial      uint32
	Path        ObjectPath
	Interface   string
	Member      string
	ErrorName   string
	ReplySerial uint32
	Destination string
	Sender      string
	Signature   string
	Body        []byte
	Args        []any
}

// MarshalBody encodes args against sig (e.g. "s", "oss", "sa{sv}") into
// m.Body/m.Signature, for use before Encode.
func (m *Message) MarshalBody(sig string, args ...any) error {
	e := newEncoder()
	rest := sig
	for _, a := range args {
		one, next, err := splitOne(rest)
		if err != nil {
			return err
		}
		if err := e.value(one, a); err != nil {
			return err
		}
		rest = next
	}
	if rest != "" {
		return fmt.Errorf("busproto: %d args short for signature %q", len(args), sig)
	}
	m.Signature = sig
	m.Body = e.buf
	return nil
}

// Encode serializes m as a complete little-endian D-Bus message (header +
// body), padded to an 8-byte boundary before the body per the D-Bus wire
// protocol.
func (m *Message) Encode() []byte {
	fe := newEncoder()
	writeField := func(code byte, sig string, v any) {
		fe.padTo(8)
		fe.byte(code)
		fe.sig(sig)
		_ = fe.value(sig, v)
	}
	if m.Path != "" {
		writeField(fieldPath, "o", m.Path)
	}
	if m.Interface != "" {
		writeField(fieldInterface, "s", m.Interface)
	}
	if m.Member != "" {
		writeField(fieldMember, "s", m.Member)
	}
	if m.ErrorName != "" {
		writeField(fieldErrorName, "s", m.ErrorName)
	}
	if m.ReplySerial != 0 {
		writeField(fieldReplySerial, "u", m.ReplySerial)
	}
	if m.Destination != "" {
		writeField(fieldDestination, "s", m.Destination)
	}
	if m.Signature != "" {
		writeField(fieldSignature, "g", Signature(m.Signature))
	}
	fields := fe.buf

	head := newEncoder()
	head.byte('l') // little-endian
	head.byte(m.Type)
	flags := byte(0)
	if m.NoReply {
		flags |= noReplyExpected
	}
	head.byte(flags)
	head.byte(1) // protocol version
	head.uint32(uint32(len(m.Body)))
	head.uint32(m.Serial)
	head.uint32(uint32(len(fields)))
	head.buf = append(head.buf, fields...)
	head.padTo(8)

	out := append(head.buf, m.Body...)
	return out
}

// headerLen is the fixed prefix before the variable header-fields array:
// endian, type, flags, version (4 bytes) + body length + serial + fields
// array length (3x uint32) = 16 bytes.
const headerLen = 16

// DecodeHeader parses the fixed 16-byte prefix and returns the byte order,
// body length and header-fields-array length, so the caller knows how
// many more bytes to read from the transport before calling Decode.
func DecodeHeader(buf []byte) (order binary.ByteOrder, msgType byte, bodyLen, fieldsLen uint32, err error) {
	if len(buf) < headerLen {
		return nil, 0, 0, 0, fmt.Errorf("busproto: short header")
	}
	switch buf[0] {
	case 'l':
		order = binary.LittleEndian
	case 'B':
		order = binary.BigEndian
	default:
		return nil, 0, 0, 0, fmt.Errorf("busproto: bad endian byte %q", buf[0])
	}
	msgType = buf[1]
	bodyLen = order.Uint32(buf[4:8])
	fieldsLen = order.Uint32(buf[12:16])
	return order, msgType, bodyLen, fieldsLen, nil
}

// Decode parses a complete message (header prefix + fields array + padding
// + body) given the byte order determined by DecodeHeader.
func Decode(buf []byte, order binary.ByteOrder) (*Message, error) {
	d := newDecoder(buf, order)
	d.off = 1 // endian byte already consumed by DecodeHeader
	msgType, err := d.byte()
	if err != nil {
		return nil, err
	}
	flags, err := d.byte()
	if err != nil {
		return nil, err
	}
	if _, err := d.byte(); err != nil { // protocol version
		return nil, err
	}
	bodyLen, err := d.uint32()
	if err != nil {
		return nil, err
	}
	serial, err := d.uint32()
	if err != nil {
		return nil, err
	}
	fieldsLen, err := d.uint32()
	if err != nil {
		return nil, err
	}

	m := &Message{Type: msgType, Serial: serial, NoReply: flags&noReplyExpected != 0}
	fieldsEnd := d.off + int(fieldsLen)
	for d.off < fieldsEnd {
		d.padTo(8)
		if d.off >= fieldsEnd {
			break
		}
		code, err := d.byte()
		if err != nil {
			return nil, err
		}
		sig, err := d.sig()
		if err != nil {
			return nil, err
		}
		v, _, err := d.value(sig)
		if err != nil {
			return nil, err
		}
		switch code {
		case fieldPath:
			m.Path = v.(ObjectPath)
		case fieldInterface:
			m.Interface = v.(string)
		case fieldMember:
			m.Member = v.(string)
		case fieldErrorName:
			m.ErrorName = v.(string)
		case fieldReplySerial:
			m.ReplySerial = v.(uint32)
		case fieldDestination:
			m.Destination = v.(string)
		case fieldSender:
			m.Sender = v.(string)
		case fieldSignature:
			m.Signature = string(v.(Signature))
		}
	}
	d.padTo(8)

	bodyStart := d.off
	bodyEnd := bodyStart + int(bodyLen)
	if bodyEnd > len(buf) {
		return nil, fmt.Errorf("busproto: truncated body")
	}
	m.Body = buf[bodyStart:bodyEnd]

	if m.Signature != "" {
		bd := newDecoder(m.Body, order)
		rest := m.Signature
		for rest != "" {
			one, next, err := splitOne(rest)
			if err != nil {
				return nil, err
			}
			v, _, err := bd.value(one)
			if err != nil {
				return nil, err
			}
			m.Args = append(m.Args, v)
			rest = next
		}
	}
	return m, nil
}
