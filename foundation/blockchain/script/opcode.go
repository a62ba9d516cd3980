// Package script implements the small stack language used to lock and
// unlock transaction outputs.
package script

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Opcode is a single script instruction byte.
type Opcode byte

// The fixed set of supported opcodes. Bytes 0x01-0x4b push that many bytes
// of data directly.
const (
	OpFalse               Opcode = 0x00
	OpPushData1           Opcode = 0x4c
	OpPushData2           Opcode = 0x4d
	OpPushData4           Opcode = 0x4e
	OpTrue                Opcode = 0x51
	OpVerify              Opcode = 0x69
	OpDup                 Opcode = 0x76
	OpEqual               Opcode = 0x87
	OpEqualVerify         Opcode = 0x88
	OpHash160             Opcode = 0xa9
	OpCheckMLDSASig       Opcode = 0xc8
	OpCheckMLDSASigVerify Opcode = 0xc9
)

// Script limits.
const (
	MaxScriptSize  = 10_000
	MaxOps         = 201
	MaxStackSize   = 1000
	MaxElementSize = 10_000
	maxDirectPush  = 0x4b
)

var opNames = map[Opcode]string{
	OpFalse:               "OP_FALSE",
	OpPushData1:           "OP_PUSHDATA1",
	OpPushData2:           "OP_PUSHDATA2",
	OpPushData4:           "OP_PUSHDATA4",
	OpTrue:                "OP_TRUE",
	OpVerify:              "OP_VERIFY",
	OpDup:                 "OP_DUP",
	OpEqual:               "OP_EQUAL",
	OpEqualVerify:         "OP_EQUALVERIFY",
	OpHash160:             "OP_HASH160",
	OpCheckMLDSASig:       "OP_CHECKMLDSASIG",
	OpCheckMLDSASigVerify: "OP_CHECKMLDSASIGVERIFY",
}

// String returns the mnemonic for the opcode.
func (op Opcode) String() string {
	if name, ok := opNames[op]; ok {
		return name
	}
	if op > OpFalse && op <= maxDirectPush {
		return fmt.Sprintf("OP_DATA_%d", op)
	}
	return fmt.Sprintf("OP_UNKNOWN_%#x", byte(op))
}

// Instruction is one parsed element of a script. Push instructions carry
// their data; all other instructions carry only the opcode.
type Instruction struct {
	Op   Opcode
	Data []byte
}

// IsPush reports whether the instruction only pushes data.
func (in Instruction) IsPush() bool {
	return in.Op <= OpPushData4 || in.Op == OpTrue
}

// String returns a readable form of the instruction.
func (in Instruction) String() string {
	if in.Op <= OpPushData4 && in.Op != OpFalse {
		return fmt.Sprintf("PUSH(%d)", len(in.Data))
	}
	return in.Op.String()
}

// =============================================================================

// Parse errors.
var (
	ErrScriptTooLarge = errors.New("script too large")
	ErrMalformedPush  = errors.New("malformed push")
	ErrUnknownOpcode  = errors.New("unknown opcode")
)

// Parse decodes a raw script into instructions.
func Parse(raw []byte) ([]Instruction, error) {
	if len(raw) > MaxScriptSize {
		return nil, ErrScriptTooLarge
	}

	var out []Instruction
	for i := 0; i < len(raw); {
		op := Opcode(raw[i])
		i++

		var n int
		switch {
		case op == OpFalse:
			out = append(out, Instruction{Op: op, Data: []byte{}})
			continue

		case op <= maxDirectPush:
			n = int(op)

		case op == OpPushData1:
			if i+1 > len(raw) {
				return nil, ErrMalformedPush
			}
			n = int(raw[i])
			i++

		case op == OpPushData2:
			if i+2 > len(raw) {
				return nil, ErrMalformedPush
			}
			n = int(binary.LittleEndian.Uint16(raw[i:]))
			i += 2

		case op == OpPushData4:
			if i+4 > len(raw) {
				return nil, ErrMalformedPush
			}
			n = int(binary.LittleEndian.Uint32(raw[i:]))
			i += 4

		default:
			if _, ok := opNames[op]; !ok {
				return nil, fmt.Errorf("%w: %s", ErrUnknownOpcode, op)
			}
			out = append(out, Instruction{Op: op})
			continue
		}

		if n < 0 || i+n > len(raw) {
			return nil, ErrMalformedPush
		}

		data := make([]byte, n)
		copy(data, raw[i:i+n])
		out = append(out, Instruction{Op: op, Data: data})
		i += n
	}

	return out, nil
}

// =============================================================================

// Builder assembles a script using the smallest push encoding for data.
type Builder struct {
	buf []byte
	err error
}

// NewBuilder returns an empty script builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// AddOp appends a non push opcode.
func (b *Builder) AddOp(op Opcode) *Builder {
	b.buf = append(b.buf, byte(op))
	return b
}

// AddData appends a push of the data.
func (b *Builder) AddData(data []byte) *Builder {
	n := len(data)
	switch {
	case n == 0:
		b.buf = append(b.buf, byte(OpFalse))
		return b
	case n <= maxDirectPush:
		b.buf = append(b.buf, byte(n))
	case n <= 0xff:
		b.buf = append(b.buf, byte(OpPushData1), byte(n))
	case n <= 0xffff:
		b.buf = append(b.buf, byte(OpPushData2))
		b.buf = binary.LittleEndian.AppendUint16(b.buf, uint16(n))
	default:
		b.buf = append(b.buf, byte(OpPushData4))
		b.buf = binary.LittleEndian.AppendUint32(b.buf, uint32(n))
	}

	if n > MaxElementSize {
		b.err = fmt.Errorf("push of %d bytes exceeds element limit", n)
	}

	b.buf = append(b.buf, data...)
	return b
}

// Script returns the assembled script.
func (b *Builder) Script() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.buf) > MaxScriptSize {
		return nil, ErrScriptTooLarge
	}

	out := make([]byte, len(b.buf))
	copy(out, b.buf)
	return out, nil
}
