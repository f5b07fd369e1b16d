package seccomp

import (
	"encoding/binary"
	"syscall"

	libseccomp "github.com/elastic/go-seccomp-bpf"
	"github.com/elastic/go-seccomp-bpf/arch"
	"github.com/pkg/errors"
	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"
)

// seccomp return values (linux/seccomp.h)
const (
	retKillProcess = 0x80000000
	retErrno       = 0x00050000
	retAllow       = 0x7fff0000
)

// struct seccomp_data layout
const (
	offNr   = 0
	offArch = 4
	offArgs = 16
)

// x32 syscalls are the x86_64 numbers with this bit set
const x32SyscallBit = 0x40000000

// setsockopt options that join a multicast group
var multicastOptions = [...]struct{ level, name uint32 }{
	{unix.IPPROTO_IP, unix.IP_ADD_MEMBERSHIP},
	{unix.IPPROTO_IPV6, unix.IPV6_ADD_MEMBERSHIP},
}

// Options selects the filters to install
type Options struct {
	ForbidUserNS    bool
	ForbidMulticast bool
	ForbidBind      bool
}

// IsEmpty returns true if no filter is requested
func (o Options) IsEmpty() bool {
	return !o.ForbidUserNS && !o.ForbidMulticast && !o.ForbidBind
}

// Build creates one filter per requested restriction. Each filter allows
// everything it does not explicitly reject, so they can be loaded one after
// another.
func Build(o Options) ([]Filter, error) {
	var ret []Filter
	if o.ForbidUserNS {
		f, err := ForbidUserNS()
		if err != nil {
			return nil, errors.Wrap(err, "seccomp: forbid user namespace")
		}
		ret = append(ret, f)
	}
	if o.ForbidMulticast {
		f, err := ForbidMulticast()
		if err != nil {
			return nil, errors.Wrap(err, "seccomp: forbid multicast")
		}
		ret = append(ret, f)
	}
	if o.ForbidBind {
		f, err := ForbidBind()
		if err != nil {
			return nil, errors.Wrap(err, "seccomp: forbid bind")
		}
		ret = append(ret, f)
	}
	return ret, nil
}

// ForbidBind rejects bind and listen with EPERM
func ForbidBind() (Filter, error) {
	policy := libseccomp.Policy{
		DefaultAction: libseccomp.ActionAllow,
		Syscalls: []libseccomp.SyscallGroup{
			{
				Names:  []string{"bind", "listen"},
				// assembled with EPERM as return data
				Action: libseccomp.ActionErrno,
			},
		},
	}
	insts, err := policy.Assemble()
	if err != nil {
		return nil, err
	}
	return FromInstructions(insts)
}

// ForbidUserNS rejects clone and unshare with CLONE_NEWUSER. clone3 passes its
// flags in memory the filter cannot inspect, so it fails with ENOSYS and libc
// falls back to clone.
func ForbidUserNS() (Filter, error) {
	p, err := newProgram()
	if err != nil {
		return nil, err
	}
	for _, nr := range []uint32{unix.SYS_CLONE, unix.SYS_UNSHARE} {
		p.rejectIfArgBits(nr, 0, unix.CLONE_NEWUSER, unix.EPERM)
	}
	p.reject(unix.SYS_CLONE3, unix.ENOSYS)
	return p.assemble()
}

// ForbidMulticast rejects setsockopt calls joining a multicast group
func ForbidMulticast() (Filter, error) {
	p, err := newProgram()
	if err != nil {
		return nil, err
	}
	for _, o := range multicastOptions {
		p.rejectIfArgs(unix.SYS_SETSOCKOPT, 1, o.level, 2, o.name, unix.EPERM)
	}
	return p.assemble()
}

// program is a hand written filter with a fixed prologue checking the
// architecture; every rule reloads what it needs and either returns or
// falls through to the next rule.
type program struct {
	insts []bpf.Instruction
}

func newProgram() (*program, error) {
	info, err := arch.GetInfo("")
	if err != nil {
		return nil, err
	}
	p := &program{
		insts: []bpf.Instruction{
			bpf.LoadAbsolute{Off: offArch, Size: 4},
			bpf.JumpIf{Cond: bpf.JumpEqual, Val: uint32(info.ID), SkipTrue: 1},
			bpf.RetConstant{Val: retKillProcess},
		},
	}
	if info.Name == "x86_64" {
		p.insts = append(p.insts,
			bpf.LoadAbsolute{Off: offNr, Size: 4},
			bpf.JumpIf{Cond: bpf.JumpGreaterOrEqual, Val: x32SyscallBit, SkipFalse: 1},
			bpf.RetConstant{Val: retKillProcess},
		)
	}
	return p, nil
}

func (p *program) reject(nr uint32, errno syscall.Errno) {
	p.insts = append(p.insts,
		bpf.LoadAbsolute{Off: offNr, Size: 4},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: nr, SkipFalse: 1},
		bpf.RetConstant{Val: retErrno | uint32(errno)},
	)
}

func (p *program) rejectIfArgBits(nr uint32, arg int, bits uint32, errno syscall.Errno) {
	p.insts = append(p.insts,
		bpf.LoadAbsolute{Off: offNr, Size: 4},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: nr, SkipFalse: 3},
		bpf.LoadAbsolute{Off: argLow(arg), Size: 4},
		bpf.JumpIf{Cond: bpf.JumpBitsSet, Val: bits, SkipFalse: 1},
		bpf.RetConstant{Val: retErrno | uint32(errno)},
	)
}

func (p *program) rejectIfArgs(nr uint32, arg1 int, v1 uint32, arg2 int, v2 uint32, errno syscall.Errno) {
	p.insts = append(p.insts,
		bpf.LoadAbsolute{Off: offNr, Size: 4},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: nr, SkipFalse: 5},
		bpf.LoadAbsolute{Off: argLow(arg1), Size: 4},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: v1, SkipFalse: 3},
		bpf.LoadAbsolute{Off: argLow(arg2), Size: 4},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: v2, SkipFalse: 1},
		bpf.RetConstant{Val: retErrno | uint32(errno)},
	)
}

func (p *program) assemble() (Filter, error) {
	return FromInstructions(append(p.insts, bpf.RetConstant{Val: retAllow}))
}

// argLow returns the offset of the lower 32 bits of args[i]
func argLow(i int) uint32 {
	off := uint32(offArgs + 8*i)
	if binary.NativeEndian.Uint16([]byte{0, 1}) == 1 {
		off += 4
	}
	return off
}
