package protocol

import "fmt"

// Builder assembles an outgoing message using the wire conventions:
// fixed 3-digit opcode, 5-digit zero-padded numbers, length-prefixed strings.
type Builder struct {
	buf []byte
}

// NewBuilder starts a message with the given opcode.
func NewBuilder(code Code) *Builder {
	b := &Builder{}
	b.buf = append(b.buf, fmt.Sprintf("%03d", int(code))...)
	return b
}

// Num appends a 5-digit zero-padded decimal.
func (b *Builder) Num(n int) *Builder {
	b.buf = append(b.buf, fmt.Sprintf("%05d", n)...)
	return b
}

// Str appends a 5-digit length prefix followed by the raw bytes of s.
func (b *Builder) Str(s string) *Builder {
	b.Num(len(s))
	b.buf = append(b.buf, s...)
	return b
}

// Raw appends s without a length prefix. Used for trailing free-form fields
// such as error text or user id digits.
func (b *Builder) Raw(s string) *Builder {
	b.buf = append(b.buf, s...)
	return b
}

// Bytes returns the assembled message.
func (b *Builder) Bytes() []byte {
	return b.buf
}

// Encode is shorthand for a bare opcode message.
func Encode(code Code) []byte {
	return NewBuilder(code).Bytes()
}
