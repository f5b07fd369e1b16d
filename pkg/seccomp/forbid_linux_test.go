package seccomp

import (
	"encoding/binary"
	"syscall"
	"testing"

	"github.com/elastic/go-seccomp-bpf/arch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"
)

// vmOrder rewrites every 32 bit word of the native seccomp_data into the
// big endian order the bpf VM loads, so loads see the values the kernel
// would see
func vmOrder(data []byte) {
	for i := 0; i+4 <= len(data); i += 4 {
		binary.BigEndian.PutUint32(data[i:], binary.NativeEndian.Uint32(data[i:]))
	}
}

// run evaluates f against a seccomp_data for the native architecture
func run(t *testing.T, f Filter, nr uint32, args ...uint64) uint32 {
	t.Helper()
	info, err := arch.GetInfo("")
	require.NoError(t, err)

	data := make([]byte, 64)
	binary.NativeEndian.PutUint32(data[offNr:], nr)
	binary.NativeEndian.PutUint32(data[offArch:], uint32(info.ID))
	for i, a := range args {
		binary.NativeEndian.PutUint64(data[offArgs+8*i:], a)
	}
	vmOrder(data)

	raw := make([]bpf.RawInstruction, 0, len(f))
	for _, s := range f {
		raw = append(raw, bpf.RawInstruction{Op: s.Code, Jt: s.Jt, Jf: s.Jf, K: s.K})
	}
	insts, ok := bpf.Disassemble(raw)
	require.True(t, ok)
	vm, err := bpf.NewVM(insts)
	require.NoError(t, err)
	ret, err := vm.Run(data)
	require.NoError(t, err)
	return uint32(ret)
}

func TestVMOrder(t *testing.T) {
	data := make([]byte, 24)
	binary.NativeEndian.PutUint32(data[offNr:], 41)
	binary.NativeEndian.PutUint64(data[offArgs:], 0x1_0000_0002)
	vmOrder(data)

	assert.Equal(t, uint32(41), binary.BigEndian.Uint32(data[offNr:]))
	assert.Equal(t, uint32(2), binary.BigEndian.Uint32(data[argLow(0):]))
}

func errnoRet(e syscall.Errno) uint32 {
	return retErrno | uint32(e)
}

func TestForbidUserNS(t *testing.T) {
	f, err := ForbidUserNS()
	require.NoError(t, err)

	assert.Equal(t, errnoRet(unix.EPERM), run(t, f, unix.SYS_UNSHARE, unix.CLONE_NEWUSER|unix.CLONE_NEWNS))
	assert.Equal(t, errnoRet(unix.EPERM), run(t, f, unix.SYS_CLONE, unix.CLONE_NEWUSER))
	assert.Equal(t, errnoRet(unix.ENOSYS), run(t, f, unix.SYS_CLONE3))
	assert.Equal(t, uint32(retAllow), run(t, f, unix.SYS_UNSHARE, unix.CLONE_NEWNS))
	assert.Equal(t, uint32(retAllow), run(t, f, unix.SYS_CLONE, uint64(syscall.SIGCHLD)))
	assert.Equal(t, uint32(retAllow), run(t, f, unix.SYS_GETPID))
}

func TestForbidMulticast(t *testing.T) {
	f, err := ForbidMulticast()
	require.NoError(t, err)

	assert.Equal(t, errnoRet(unix.EPERM), run(t, f, unix.SYS_SETSOCKOPT, 3, unix.IPPROTO_IP, unix.IP_ADD_MEMBERSHIP))
	assert.Equal(t, errnoRet(unix.EPERM), run(t, f, unix.SYS_SETSOCKOPT, 3, unix.IPPROTO_IPV6, unix.IPV6_ADD_MEMBERSHIP))
	assert.Equal(t, uint32(retAllow), run(t, f, unix.SYS_SETSOCKOPT, 3, unix.SOL_SOCKET, unix.SO_REUSEADDR))
	assert.Equal(t, uint32(retAllow), run(t, f, unix.SYS_SETSOCKOPT, 3, unix.IPPROTO_IP, unix.IP_TTL))
	assert.Equal(t, uint32(retAllow), run(t, f, unix.SYS_SOCKET, unix.AF_INET))
}

func TestForbidBind(t *testing.T) {
	f, err := ForbidBind()
	require.NoError(t, err)

	assert.Equal(t, errnoRet(unix.EPERM), run(t, f, unix.SYS_BIND))
	assert.Equal(t, errnoRet(unix.EPERM), run(t, f, unix.SYS_LISTEN))
	assert.Equal(t, uint32(retAllow), run(t, f, unix.SYS_CONNECT))
}

func TestForeignArchKilled(t *testing.T) {
	f, err := ForbidMulticast()
	require.NoError(t, err)
	raw := make([]bpf.RawInstruction, 0, len(f))
	for _, s := range f {
		raw = append(raw, bpf.RawInstruction{Op: s.Code, Jt: s.Jt, Jf: s.Jf, K: s.K})
	}
	insts, _ := bpf.Disassemble(raw)
	vm, err := bpf.NewVM(insts)
	require.NoError(t, err)

	data := make([]byte, 64)
	binary.NativeEndian.PutUint32(data[offArch:], 0xdeadbeef)
	vmOrder(data)
	ret, err := vm.Run(data)
	require.NoError(t, err)
	assert.Equal(t, uint32(retKillProcess), uint32(ret))
}

func TestBuild(t *testing.T) {
	fs, err := Build(Options{})
	require.NoError(t, err)
	assert.Empty(t, fs)
	assert.True(t, Options{}.IsEmpty())

	o := Options{ForbidUserNS: true, ForbidMulticast: true, ForbidBind: true}
	assert.False(t, o.IsEmpty())
	fs, err = Build(o)
	require.NoError(t, err)
	require.Len(t, fs, 3)
	for _, f := range fs {
		p := f.SockFprog()
		assert.Equal(t, uint16(len(f)), p.Len)
	}
}
