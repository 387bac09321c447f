// Package busproto is a hand-rolled D-Bus client: just enough of the
// session/system-bus wire protocol to drive BlueZ's GATT object tree
// (ObjectManager.GetManagedObjects, GattCharacteristic1.StartNotify/
// ReadValue/WriteValue, PropertiesChanged notifications). The GATT
// transport is an external message bus daemon; no D-Bus binding is wired
// in (see SPEC_FULL.md DOMAIN STACK / DESIGN.md), so the wire format is
// marshaled directly, in the same spirit as VIIPER's own hand-rolled
// USB/IP wire structs (usbip/usbip.go).
//
// Only little-endian messages are produced; the codec still decodes
// big-endian replies since any real bus may echo either.
package busproto

import (
	"encoding/binary"
	"fmt"
)

// ObjectPath, Signature and Variant mirror D-Bus's basic container types.
type ObjectPath string

type Signature string

// Variant pairs a value with its D-Bus signature, used for a{sv} property
// maps and any method argument/return typed as "v".
type Variant struct {
	Sig   Signature
	Value any
}

// align pads n up to the given D-Bus alignment boundary.
func align(n, boundary int) int {
	if r := n % boundary; r != 0 {
		n += boundary - r
	}
	return n
}

func alignmentOf(sig byte) int {
	switch sig {
	case 'y', 'g':
		return 1
	case 'n', 'q':
		return 2
	case 'i', 'u', 'b', 's', 'o', 'h':
		return 4
	case 'x', 't', 'd':
		return 8
	case 'a':
		return 4
	case '(', 'e':
		return 8
	case 'v':
		return 1
	default:
		return 1
	}
}

// encoder accumulates a little-endian D-Bus byte stream.
type encoder struct {
	order binary.ByteOrder
	buf   []byte
}

func newEncoder() *encoder {
	return &encoder{order: binary.LittleEndian}
}

func (e *encoder) padTo(n int) {
	for len(e.buf)%n != 0 {
		e.buf = append(e.buf, 0)
	}
}

func (e *encoder) byte(b byte) { e.buf = append(e.buf, b) }

func (e *encoder) uint16(v uint16) {
	e.padTo(2)
	var b [2]byte
	e.order.PutUint16(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

func (e *encoder) uint32(v uint32) {
	e.padTo(4)
	var b [4]byte
	e.order.PutUint32(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

func (e *encoder) uint64(v uint64) {
	e.padTo(8)
	var b [8]byte
	e.order.PutUint64(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

func (e *encoder) int16(v int16) { e.uint16(uint16(v)) }
func (e *encoder) int32(v int32) { e.uint32(uint32(v)) }
func (e *encoder) int64(v int64) { e.uint64(uint64(v)) }

func (e *encoder) boolean(v bool) {
	if v {
		e.uint32(1)
	} else {
		e.uint32(0)
	}
}

func (e *encoder) str(s string) {
	e.uint32(uint32(len(s)))
	e.buf = append(e.buf, s...)
	e.byte(0)
}

func (e *encoder) sig(s string) {
	e.byte(byte(len(s)))
	e.buf = append(e.buf, s...)
	e.byte(0)
}

// value marshals v according to sig (a single complete D-Bus type, e.g.
// "s", "ay", "a{sv}", "v", "o"). It covers the subset this client needs:
// byte/bool/int16/uint16/int32/uint32/int64/uint64/string/object path/
// signature/variant, plus the two array forms "ay" and "a{sv}".
func (e *encoder) value(sig string, v any) error {
	switch sig {
	case "y":
		e.byte(v.(byte))
	case "b":
		e.boolean(v.(bool))
	case "n":
		e.int16(v.(int16))
	case "q":
		e.uint16(v.(uint16))
	case "i":
		e.int32(v.(int32))
	case "u":
		e.uint32(v.(uint32))
	case "x":
		e.int64(v.(int64))
	case "t":
		e.uint64(v.(uint64))
	case "s":
		e.str(v.(string))
	case "o":
		e.str(string(v.(ObjectPath)))
	case "g":
		e.sig(string(v.(Signature)))
	case "v":
		vv := v.(Variant)
		e.sig(string(vv.Sig))
		return e.value(string(vv.Sig), vv.Value)
	case "ay":
		b := v.([]byte)
		e.uint32(uint32(len(b)))
		e.buf = append(e.buf, b...)
	case "a{sv}":
		m := v.(map[string]Variant)
		e.uint32(0) // placeholder, patched below
		lenOff := len(e.buf) - 4
		e.padTo(8)
		bodyStart := len(e.buf)
		for k, val := range m {
			e.padTo(8)
			e.str(k)
			e.sig(string(val.Sig))
			if err := e.value(string(val.Sig), val.Value); err != nil {
				return err
			}
		}
		e.order.PutUint32(e.buf[lenOff:lenOff+4], uint32(len(e.buf)-bodyStart))
	default:
		return fmt.Errorf("busproto: unsupported marshal signature %q", sig)
	}
	return nil
}

// decoder walks a D-Bus byte stream using an explicit order (messages may
// declare either endianness via their header's first byte).
type decoder struct {
	order binary.ByteOrder
	buf   []byte
	off   int
}

func newDecoder(buf []byte, order binary.ByteOrder) *decoder {
	return &decoder{order: order, buf: buf}
}

func (d *decoder) padTo(n int) {
	for d.off%n != 0 {
		d.off++
	}
}

func (d *decoder) remaining() int { return len(d.buf) - d.off }

func (d *decoder) byte() (byte, error) {
	if d.remaining() < 1 {
		return 0, fmt.Errorf("busproto: short read (byte)")
	}
	b := d.buf[d.off]
	d.off++
	return b, nil
}

func (d *decoder) uint16() (uint16, error) {
	d.padTo(2)
	if d.remaining() < 2 {
		return 0, fmt.Errorf("busproto: short read (uint16)")
	}
	v := d.order.Uint16(d.buf[d.off:])
	d.off += 2
	return v, nil
}

func (d *decoder) uint32() (uint32, error) {
	d.padTo(4)
	if d.remaining() < 4 {
		return 0, fmt.Errorf("busproto: short read (uint32)")
	}
	v := d.order.Uint32(d.buf[d.off:])
	d.off += 4
	return v, nil
}

func (d *decoder) uint64() (uint64, error) {
	d.padTo(8)
	if d.remaining() < 8 {
		return 0, fmt.Errorf("busproto: short read (uint64)")
	}
	v := d.order.Uint64(d.buf[d.off:])
	d.off += 8
	return v, nil
}

func (d *decoder) str() (string, error) {
	n, err := d.uint32()
	if err != nil {
		return "", err
	}
	if d.remaining() < int(n)+1 {
		return "", fmt.Errorf("busproto: short read (string body)")
	}
	s := string(d.buf[d.off : d.off+int(n)])
	d.off += int(n) + 1 // skip NUL terminator
	return s, nil
}

func (d *decoder) sig() (string, error) {
	n, err := d.byte()
	if err != nil {
		return "", err
	}
	if d.remaining() < int(n)+1 {
		return "", fmt.Errorf("busproto: short read (signature body)")
	}
	s := string(d.buf[d.off : d.off+int(n)])
	d.off += int(n) + 1
	return s, nil
}

// value decodes a single complete D-Bus type signature into a Go value.
// Supports enough of the type system to read GetManagedObjects replies
// (a{oa{sa{sv}}}), PropertiesChanged signal bodies (sa{sv}as), and
// ReadValue replies (ay).
func (d *decoder) value(sig string) (any, string, error) {
	if len(sig) == 0 {
		return nil, "", fmt.Errorf("busproto: empty signature")
	}
	switch sig[0] {
	case 'y':
		v, err := d.byte()
		return v, sig[1:], err
	case 'b':
		v, err := d.uint32()
		return v != 0, sig[1:], err
	case 'n':
		v, err := d.uint16()
		return int16(v), sig[1:], err
	case 'q':
		v, err := d.uint16()
		return v, sig[1:], err
	case 'i':
		v, err := d.uint32()
		return int32(v), sig[1:], err
	case 'u':
		v, err := d.uint32()
		return v, sig[1:], err
	case 'x':
		v, err := d.uint64()
		return int64(v), sig[1:], err
	case 't':
		v, err := d.uint64()
		return v, sig[1:], err
	case 's':
		v, err := d.str()
		return v, sig[1:], err
	case 'o':
		v, err := d.str()
		return ObjectPath(v), sig[1:], err
	case 'g':
		v, err := d.sig()
		return Signature(v), sig[1:], err
	case 'v':
		elemSig, err := d.sig()
		if err != nil {
			return nil, "", err
		}
		v, _, err := d.value(elemSig)
		if err != nil {
			return nil, "", err
		}
		return Variant{Sig: Signature(elemSig), Value: v}, sig[1:], nil
	case 'a':
		return d.array(sig)
	case '{':
		return d.dictEntry(sig)
	default:
		return nil, "", fmt.Errorf("busproto: unsupported decode signature %q", sig)
	}
}

func (d *decoder) array(sig string) (any, string, error) {
	elemSig, rest, err := splitOne(sig[1:])
	if err != nil {
		return nil, "", err
	}
	arrayLen, err := d.uint32()
	if err != nil {
		return nil, "", err
	}
	d.padTo(alignmentOf(elemSig[0]))
	end := d.off + int(arrayLen)
	if elemSig == "y" {
		if end > len(d.buf) {
			return nil, "", fmt.Errorf("busproto: short read (array body)")
		}
		out := append([]byte(nil), d.buf[d.off:end]...)
		d.off = end
		return out, rest, nil
	}
	if elemSig[0] == '{' {
		m := make(map[string]Variant)
		for d.off < end {
			kv, _, err := d.dictEntry(elemSig)
			if err != nil {
				return nil, "", err
			}
			pair := kv.(dictPair)
			sv, ok := pair.Value.(Variant)
			if !ok {
				sv = Variant{Value: pair.Value}
			}
			m[pair.Key] = sv
		}
		return m, rest, nil
	}
	var out []any
	for d.off < end {
		v, _, err := d.value(elemSig)
		if err != nil {
			return nil, "", err
		}
		out = append(out, v)
	}
	return out, rest, nil
}

type dictPair struct {
	Key   string
	Value any
}

func (d *decoder) dictEntry(sig string) (any, string, error) {
	inner, rest, err := splitDict(sig)
	if err != nil {
		return nil, "", err
	}
	d.padTo(8)
	keySig, valSig, err := splitOne(inner)
	if err != nil {
		return nil, "", err
	}
	key, _, err := d.value(keySig)
	if err != nil {
		return nil, "", err
	}
	val, _, err := d.value(valSig)
	if err != nil {
		return nil, "", err
	}
	ks, _ := key.(string)
	if ks == "" {
		if op, ok := key.(ObjectPath); ok {
			ks = string(op)
		}
	}
	return dictPair{Key: ks, Value: val}, rest, nil
}

// splitOne returns the first complete type in sig and the remainder.
func splitOne(sig string) (string, string, error) {
	if len(sig) == 0 {
		return "", "", fmt.Errorf("busproto: empty signature in splitOne")
	}
	switch sig[0] {
	case 'a':
		elem, rest, err := splitOne(sig[1:])
		if err != nil {
			return "", "", err
		}
		return "a" + elem, rest, nil
	case '{':
		depth := 0
		for i, c := range sig {
			switch c {
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					return sig[:i+1], sig[i+1:], nil
				}
			}
		}
		return "", "", fmt.Errorf("busproto: unterminated dict signature %q", sig)
	case '(':
		depth := 0
		for i, c := range sig {
			switch c {
			case '(':
				depth++
			case ')':
				depth--
				if depth == 0 {
					return sig[:i+1], sig[i+1:], nil
				}
			}
		}
		return "", "", fmt.Errorf("busproto: unterminated struct signature %q", sig)
	default:
		return sig[:1], sig[1:], nil
	}
}

// splitDict validates sig starts with "{...}" and returns its inner two
// types plus the remainder after the closing brace.
func splitDict(sig string) (inner, rest string, err error) {
	if len(sig) < 2 || sig[0] != '{' {
		return "", "", fmt.Errorf("busproto: not a dict-entry signature %q", sig)
	}
	depth := 0
	for i, c := range sig {
		switch c {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return sig[1:i], sig[i+1:], nil
			}
		}
	}
	return "", "", fmt.Errorf("busproto: unterminated dict signature %q", sig)
}
