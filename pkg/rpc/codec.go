package rpc

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// codecName is the content-subtype negotiated with peers.
const codecName = "raftwire"

// wireMessage is implemented by every message carried by the raft and admin
// services. Encoding follows the protobuf wire format so the services can be
// described by a .proto file and called from other languages.
type wireMessage interface {
	appendWire(b []byte) []byte
	decodeWire(b []byte) error
}

// rawMessage is an already encoded message. It lets a caller look at the
// encoded size before choosing call options.
type rawMessage []byte

type codec struct{}

func (codec) Name() string { return codecName }

func (codec) Marshal(v any) ([]byte, error) {
	switch m := v.(type) {
	case rawMessage:
		return m, nil
	case wireMessage:
		return m.appendWire(nil), nil
	default:
		return nil, fmt.Errorf("rpc: cannot marshal %T", v)
	}
}

func (codec) Unmarshal(data []byte, v any) error {
	m, ok := v.(wireMessage)
	if !ok {
		return fmt.Errorf("rpc: cannot unmarshal into %T", v)
	}
	return m.decodeWire(data)
}

func appendSint(b []byte, num protowire.Number, v int64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeZigZag(v))
}

// appendRepeatedSint writes one element of an unpacked repeated field, zero
// included.
func appendRepeatedSint(b []byte, num protowire.Number, v int64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeZigZag(v))
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, 1)
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

// appendMessage writes m as a length delimited field. Empty messages are
// still written so repeated fields keep their element count.
func appendMessage(b []byte, num protowire.Number, m wireMessage) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, m.appendWire(nil))
}

// decoder walks the fields of one message. The first error sticks and stops
// the walk.
type decoder struct {
	b   []byte
	err error
}

func (d *decoder) more() bool { return d.err == nil && len(d.b) > 0 }

func (d *decoder) fail(n int) {
	if d.err == nil {
		d.err = protowire.ParseError(n)
	}
}

func (d *decoder) tag() (protowire.Number, protowire.Type) {
	num, typ, n := protowire.ConsumeTag(d.b)
	if n < 0 {
		d.fail(n)
		return 0, 0
	}
	d.b = d.b[n:]
	return num, typ
}

func (d *decoder) expect(num protowire.Number, got, want protowire.Type) bool {
	if got == want {
		return true
	}
	if d.err == nil {
		d.err = fmt.Errorf("rpc: field %d has wire type %d, want %d", num, got, want)
	}
	return false
}

func (d *decoder) varint(num protowire.Number, typ protowire.Type) uint64 {
	if !d.expect(num, typ, protowire.VarintType) {
		return 0
	}
	v, n := protowire.ConsumeVarint(d.b)
	if n < 0 {
		d.fail(n)
		return 0
	}
	d.b = d.b[n:]
	return v
}

func (d *decoder) sint(num protowire.Number, typ protowire.Type) int64 {
	return protowire.DecodeZigZag(d.varint(num, typ))
}

func (d *decoder) flag(num protowire.Number, typ protowire.Type) bool {
	return d.varint(num, typ) != 0
}

func (d *decoder) bytes(num protowire.Number, typ protowire.Type) []byte {
	if !d.expect(num, typ, protowire.BytesType) {
		return nil
	}
	v, n := protowire.ConsumeBytes(d.b)
	if n < 0 {
		d.fail(n)
		return nil
	}
	d.b = d.b[n:]
	return v
}

func (d *decoder) str(num protowire.Number, typ protowire.Type) string {
	return string(d.bytes(num, typ))
}

func (d *decoder) message(num protowire.Number, typ protowire.Type, m wireMessage) {
	b := d.bytes(num, typ)
	if d.err != nil {
		return
	}
	if err := m.decodeWire(b); err != nil {
		d.err = fmt.Errorf("rpc: field %d: %w", num, err)
	}
}

// skip discards a field this version does not know.
func (d *decoder) skip(num protowire.Number, typ protowire.Type) {
	n := protowire.ConsumeFieldValue(num, typ, d.b)
	if n < 0 {
		d.fail(n)
		return
	}
	d.b = d.b[n:]
}
