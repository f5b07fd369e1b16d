package protocol

import (
	"bytes"
	"encoding/binary"
	"syscall"

	"github.com/pkg/errors"
)

// ErrMalformed is the cause of every decoding failure. It aborts the current
// message only.
var ErrMalformed = errors.New("malformed spawn payload")

func malformed(format string, args ...interface{}) error {
	return errors.Wrapf(ErrMalformed, format, args...)
}

// Payload is a position-tracked reader over one datagram
type Payload struct {
	b   []byte
	pos int
}

// NewPayload creates a reader over b
func NewPayload(b []byte) *Payload {
	return &Payload{b: b}
}

// IsEmpty returns true if every byte was consumed
func (p *Payload) IsEmpty() bool {
	return p.pos >= len(p.b)
}

// Len returns the number of unread bytes
func (p *Payload) Len() int {
	return len(p.b) - p.pos
}

func (p *Payload) next(n int, what string) ([]byte, error) {
	if p.Len() < n {
		return nil, malformed("short %s at offset %d", what, p.pos)
	}
	b := p.b[p.pos : p.pos+n]
	p.pos += n
	return b, nil
}

// ReadByte reads a single byte
func (p *Payload) ReadByte() (byte, error) {
	b, err := p.next(1, "byte")
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadBool reads a single byte as boolean
func (p *Payload) ReadBool() (bool, error) {
	b, err := p.ReadByte()
	return b != 0, err
}

// ReadUint16 reads a native 16-bit integer
func (p *Payload) ReadUint16() (uint16, error) {
	b, err := p.next(2, "uint16")
	if err != nil {
		return 0, err
	}
	return binary.NativeEndian.Uint16(b), nil
}

// ReadUint32 reads a native 32-bit integer
func (p *Payload) ReadUint32() (uint32, error) {
	b, err := p.next(4, "uint32")
	if err != nil {
		return 0, err
	}
	return binary.NativeEndian.Uint32(b), nil
}

// ReadInt32 reads a native signed 32-bit integer
func (p *Payload) ReadInt32() (int32, error) {
	v, err := p.ReadUint32()
	return int32(v), err
}

// ReadUint64 reads a native 64-bit integer
func (p *Payload) ReadUint64() (uint64, error) {
	b, err := p.next(8, "uint64")
	if err != nil {
		return 0, err
	}
	return binary.NativeEndian.Uint64(b), nil
}

// ReadString reads a NUL-terminated string
func (p *Payload) ReadString() (string, error) {
	i := bytes.IndexByte(p.b[p.pos:], 0)
	if i < 0 {
		return "", malformed("unterminated string at offset %d", p.pos)
	}
	s := string(p.b[p.pos : p.pos+i])
	p.pos += i + 1
	return s, nil
}

// ReadRlimit reads a struct rlimit (rlim_cur, rlim_max)
func (p *Payload) ReadRlimit() (syscall.Rlimit, error) {
	cur, err := p.ReadUint64()
	if err != nil {
		return syscall.Rlimit{}, err
	}
	max, err := p.ReadUint64()
	if err != nil {
		return syscall.Rlimit{}, err
	}
	return syscall.Rlimit{Cur: cur, Max: max}, nil
}
