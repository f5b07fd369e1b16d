package protocol

import (
	"syscall"
)

// ExitResponse reports the wait status of a child
type ExitResponse struct {
	ID     int32
	Status syscall.WaitStatus
}

// EncodeExit encodes an EXIT response
func EncodeExit(id int32, status syscall.WaitStatus) []byte {
	s := NewResponse(ResponseExit)
	s.WriteInt32(id)
	s.WriteInt32(int32(status))
	b, _, _ := s.Finish()
	return b
}

// EncodeCgroupsAvailable encodes the unsolicited CGROUPS_AVAILABLE response
func EncodeCgroupsAvailable() []byte {
	return []byte{byte(ResponseCgroupsAvailable)}
}

// DecodeResponse splits the leading command byte from a response datagram
func DecodeResponse(b []byte) (ResponseCommand, *Payload, error) {
	if len(b) == 0 {
		return 0, nil, malformed("empty response")
	}
	cmd := ResponseCommand(b[0])
	if cmd > ResponseExit {
		return cmd, nil, malformed("unknown response command %d", b[0])
	}
	return cmd, NewPayload(b[1:]), nil
}

// DecodeExit decodes the fields of an EXIT response
func DecodeExit(p *Payload) (*ExitResponse, error) {
	id, err := p.ReadInt32()
	if err != nil {
		return nil, err
	}
	status, err := p.ReadInt32()
	if err != nil {
		return nil, err
	}
	if !p.IsEmpty() {
		return nil, malformed("EXIT with %d trailing bytes", p.Len())
	}
	return &ExitResponse{ID: id, Status: syscall.WaitStatus(uint32(status))}, nil
}
