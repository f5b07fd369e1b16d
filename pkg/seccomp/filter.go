// Package seccomp builds the seccomp filters applied to spawned children
// before they drop privileges.
package seccomp

import (
	"syscall"

	"golang.org/x/net/bpf"
)

// Filter is the BPF seccomp filter value
type Filter []syscall.SockFilter

// SockFprog converts Filter to SockFprog for seccomp syscall
func (f Filter) SockFprog() *syscall.SockFprog {
	b := []syscall.SockFilter(f)
	return &syscall.SockFprog{
		Len:    uint16(len(b)),
		Filter: &b[0],
	}
}

// FromInstructions assembles bpf program into a Filter
func FromInstructions(insts []bpf.Instruction) (Filter, error) {
	raw, err := bpf.Assemble(insts)
	if err != nil {
		return nil, err
	}
	f := make(Filter, 0, len(raw))
	for _, r := range raw {
		f = append(f, syscall.SockFilter{Code: r.Op, Jt: r.Jt, Jf: r.Jf, K: r.K})
	}
	return f, nil
}
