package protocol

import (
	"encoding/binary"
	"strings"
	"syscall"

	"github.com/pkg/errors"
)

// Serializer builds one datagram and the descriptors sent along with it.
// The first error is kept and reported by Finish.
type Serializer struct {
	buf []byte
	fds []int
	err error
}

// NewRequest creates a Serializer for a request datagram
func NewRequest(cmd RequestCommand) *Serializer {
	return &Serializer{buf: []byte{byte(cmd)}}
}

// NewResponse creates a Serializer for a response datagram
func NewResponse(cmd ResponseCommand) *Serializer {
	return &Serializer{buf: []byte{byte(cmd)}}
}

// WriteByte appends a single byte
func (s *Serializer) WriteByte(b byte) error {
	s.buf = append(s.buf, b)
	return nil
}

// WriteBool appends a boolean as one byte
func (s *Serializer) WriteBool(v bool) {
	if v {
		s.WriteByte(1)
	} else {
		s.WriteByte(0)
	}
}

// WriteCommand appends an EXEC sub-command tag
func (s *Serializer) WriteCommand(c ExecCommand) {
	s.WriteByte(byte(c))
}

// WriteUint16 appends a native 16-bit integer
func (s *Serializer) WriteUint16(v uint16) {
	s.buf = binary.NativeEndian.AppendUint16(s.buf, v)
}

// WriteUint32 appends a native 32-bit integer
func (s *Serializer) WriteUint32(v uint32) {
	s.buf = binary.NativeEndian.AppendUint32(s.buf, v)
}

// WriteInt32 appends a native signed 32-bit integer
func (s *Serializer) WriteInt32(v int32) {
	s.WriteUint32(uint32(v))
}

// WriteUint64 appends a native 64-bit integer
func (s *Serializer) WriteUint64(v uint64) {
	s.buf = binary.NativeEndian.AppendUint64(s.buf, v)
}

// WriteString appends a NUL-terminated string
func (s *Serializer) WriteString(v string) {
	if strings.IndexByte(v, 0) >= 0 {
		s.fail(errors.Errorf("string %q contains NUL", v))
		return
	}
	s.buf = append(s.buf, v...)
	s.buf = append(s.buf, 0)
}

// WriteRlimit appends a struct rlimit
func (s *Serializer) WriteRlimit(r syscall.Rlimit) {
	s.WriteUint64(r.Cur)
	s.WriteUint64(r.Max)
}

// WriteFd queues a descriptor for the given sub-command
func (s *Serializer) WriteFd(c ExecCommand, fd int) {
	if len(s.fds) >= MaxFds {
		s.fail(errors.New("too many file descriptors"))
		return
	}
	s.WriteCommand(c)
	s.fds = append(s.fds, fd)
}

// WriteOptional appends tag followed by the string if v is not empty
func (s *Serializer) WriteOptional(c ExecCommand, v string) {
	if v != "" {
		s.WriteCommand(c)
		s.WriteString(v)
	}
}

// WriteFlag appends tag if v is true
func (s *Serializer) WriteFlag(c ExecCommand, v bool) {
	if v {
		s.WriteCommand(c)
	}
}

func (s *Serializer) fail(err error) {
	if s.err == nil {
		s.err = err
	}
}

// Finish returns the datagram and its descriptors
func (s *Serializer) Finish() ([]byte, []int, error) {
	if s.err != nil {
		return nil, nil, s.err
	}
	if len(s.buf) > MaxPayload {
		return nil, nil, errors.Errorf("payload too large (%d bytes)", len(s.buf))
	}
	return s.buf, s.fds, nil
}
