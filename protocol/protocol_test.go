package protocol

import (
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/criyle/go-spawn/types"
)

func dupFds(t *testing.T, fds []int) *FdList {
	t.Helper()
	dup := make([]int, 0, len(fds))
	for _, fd := range fds {
		nfd, err := syscall.Dup(fd)
		require.NoError(t, err)
		dup = append(dup, nfd)
	}
	return NewFdList(dup)
}

func decodeExecBytes(t *testing.T, b []byte, fds *FdList) (*ExecRequest, error) {
	t.Helper()
	cmd, p, err := DecodeRequest(b)
	require.NoError(t, err)
	require.Equal(t, RequestExec, cmd)
	return DecodeExec(p, fds)
}

func TestExecRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		set  func(c *types.ChildSpec)
	}{
		{"ARG", func(c *types.ChildSpec) { c.Args = []string{"/bin/echo", "hi", ""} }},
		{"SETENV", func(c *types.ChildSpec) { c.Env = []string{"PATH=/bin", "A=b"} }},
		{"UMASK", func(c *types.ChildSpec) { c.Umask = 022 }},
		{"STDERR_PATH", func(c *types.ChildSpec) { c.StderrPath = "/var/log/x" }},
		{"TTY", func(c *types.ChildSpec) { c.TTY = true }},
		{"REFENCE", func(c *types.ChildSpec) { c.Refence = "site" }},
		{"USER_NS", func(c *types.ChildSpec) { c.Namespace.EnableUser = true }},
		{"PID_NS", func(c *types.ChildSpec) { c.Namespace.EnablePID = true }},
		{"CGROUP_NS", func(c *types.ChildSpec) { c.Namespace.EnableCgroup = true }},
		{"NETWORK_NS", func(c *types.ChildSpec) { c.Namespace.EnableNetwork = true }},
		{"NETWORK_NS_NAME", func(c *types.ChildSpec) { c.Namespace.NetworkNamespace = "blue" }},
		{"IPC_NS", func(c *types.ChildSpec) { c.Namespace.EnableIPC = true }},
		{"MOUNT_NS", func(c *types.ChildSpec) { c.Namespace.EnableMount = true }},
		{"MOUNT_ROOT_TMPFS", func(c *types.ChildSpec) { c.Namespace.MountRootTmpfs = true }},
		{"MOUNT_PROC", func(c *types.ChildSpec) { c.Namespace.MountProc = true }},
		{"WRITABLE_PROC", func(c *types.ChildSpec) { c.Namespace.WritableProc = true }},
		{"MOUNT_PTS", func(c *types.ChildSpec) { c.Namespace.MountPts = true }},
		{"BIND_MOUNT_PTS", func(c *types.ChildSpec) { c.Namespace.BindMountPts = true }},
		{"PIVOT_ROOT", func(c *types.ChildSpec) { c.Namespace.PivotRoot = "/srv/root" }},
		{"MOUNT_HOME", func(c *types.ChildSpec) { c.Namespace.MountHome, c.Namespace.Home = "/home/u", "/data/u" }},
		{"MOUNT_TMP_TMPFS", func(c *types.ChildSpec) {
			c.Namespace.MountTmpTmpfs, c.Namespace.TmpTmpfsOptions = true, "size=16M"
		}},
		{"MOUNT_TMP_TMPFS default options", func(c *types.ChildSpec) { c.Namespace.MountTmpTmpfs = true }},
		{"MOUNT_TMPFS", func(c *types.ChildSpec) { c.Namespace.MountTmpfs = "/run" }},
		{"BIND_MOUNT", func(c *types.ChildSpec) {
			c.Namespace.BindMounts = []types.BindMount{
				{Source: "/a", Target: "/x/a", Writable: true},
				{Source: "/b", Target: "/x/b", Exec: true},
			}
		}},
		{"HOSTNAME", func(c *types.ChildSpec) { c.Namespace.Hostname = "box" }},
		{"RLIMIT", func(c *types.ChildSpec) {
			c.RLimits.Set(syscall.RLIMIT_NOFILE, syscall.Rlimit{Cur: 64, Max: 128})
			c.RLimits.Set(syscall.RLIMIT_CORE, syscall.Rlimit{})
		}},
		{"UID_GID", func(c *types.ChildSpec) {
			c.UidGid = types.UidGid{Uid: 1000, Gid: 100, Groups: []uint32{10, 20}}
		}},
		{"UID_GID no groups", func(c *types.ChildSpec) { c.UidGid = types.UidGid{Uid: 1000, Gid: 100} }},
		{"SCHED_IDLE", func(c *types.ChildSpec) { c.SchedIdle = true }},
		{"IOPRIO_IDLE", func(c *types.ChildSpec) { c.IOPrioIdle = true }},
		{"FORBID_USER_NS", func(c *types.ChildSpec) { c.ForbidUserNS = true }},
		{"FORBID_MULTICAST", func(c *types.ChildSpec) { c.ForbidMulticast = true }},
		{"FORBID_BIND", func(c *types.ChildSpec) { c.ForbidBind = true }},
		{"NO_NEW_PRIVS", func(c *types.ChildSpec) { c.NoNewPrivs = true }},
		{"CGROUP", func(c *types.ChildSpec) {
			c.Cgroup = types.CgroupSpec{
				Name: "app",
				Settings: []types.CgroupSetting{
					{Key: "memory.max", Value: "100M"},
					{Key: "pids.max", Value: "16"},
				},
			}
		}},
		{"PRIORITY", func(c *types.ChildSpec) { c.Priority = -5 }},
		{"CHROOT", func(c *types.ChildSpec) { c.Chroot = "/srv" }},
		{"CHDIR", func(c *types.ChildSpec) { c.Chdir = "/work" }},
		{"HOOK_INFO", func(c *types.ChildSpec) { c.HookInfo = "trusted" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want := types.NewChildSpec()
			tt.set(want)

			b, fds, err := EncodeExec(42, "job", want)
			require.NoError(t, err)
			assert.Empty(t, fds)

			req, err := decodeExecBytes(t, b, NewFdList(nil))
			require.NoError(t, err)
			assert.Equal(t, int32(42), req.ID)
			assert.Equal(t, "job", req.Name)
			assert.Equal(t, want, req.Spec)
		})
	}
}

func TestExecRoundTripFiles(t *testing.T) {
	var files []*os.File
	for i := 0; i < 2; i++ {
		r, w, err := os.Pipe()
		require.NoError(t, err)
		defer r.Close()
		defer w.Close()
		files = append(files, r, w)
	}

	want := types.NewChildSpec()
	want.Stdin, want.Stdout, want.Stderr, want.Control = files[0], files[1], files[2], files[3]
	b, fds, err := EncodeExec(1, "io", want)
	require.NoError(t, err)
	require.Len(t, fds, 4)

	req, err := decodeExecBytes(t, b, dupFds(t, fds))
	require.NoError(t, err)
	defer req.Spec.Close()

	got := req.Spec.Files()
	for i, f := range got {
		require.NotNil(t, f, "file %d", i)
		var want, have syscall.Stat_t
		require.NoError(t, syscall.Fstat(int(files[i].Fd()), &want))
		require.NoError(t, syscall.Fstat(int(f.Fd()), &have))
		assert.Equal(t, want.Ino, have.Ino, "file %d", i)
	}
}

func TestExecFdMismatch(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	t.Run("shortfall", func(t *testing.T) {
		spec := types.NewChildSpec()
		spec.Stdin = r
		b, _, err := EncodeExec(1, "x", spec)
		require.NoError(t, err)
		_, err = decodeExecBytes(t, b, NewFdList(nil))
		assert.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("surplus", func(t *testing.T) {
		spec := types.NewChildSpec()
		spec.Args = []string{"true"}
		b, _, err := EncodeExec(1, "x", spec)
		require.NoError(t, err)
		fds := dupFds(t, []int{int(w.Fd())})
		_, err = decodeExecBytes(t, b, fds)
		assert.ErrorIs(t, err, ErrMalformed)
		fds.Close()
	})
}

func TestTooManyGroups(t *testing.T) {
	s := NewRequest(RequestExec)
	s.WriteInt32(7)
	s.WriteString("groups")
	s.WriteCommand(ExecArg)
	s.WriteString("/bin/true")
	s.WriteCommand(ExecUidGid)
	s.WriteUint32(1000)
	s.WriteUint32(1000)
	s.WriteByte(types.MaxGroups + 1)
	for i := 0; i < types.MaxGroups+1; i++ {
		s.WriteUint32(uint32(i))
	}
	b, _, err := s.Finish()
	require.NoError(t, err)

	_, err = decodeExecBytes(t, b, NewFdList(nil))
	assert.ErrorIs(t, err, ErrMalformed)

	// decoded fields are not touched by the failing sub-command
	_, p, err := DecodeRequest(b)
	require.NoError(t, err)
	_, err = p.ReadInt32()
	require.NoError(t, err)
	_, err = p.ReadString()
	require.NoError(t, err)
	spec := types.NewChildSpec()
	require.NoError(t, decodeExecCommand(p, NewFdList(nil), spec))
	err = decodeExecCommand(p, NewFdList(nil), spec)
	assert.ErrorIs(t, err, ErrMalformed)
	assert.Equal(t, []string{"/bin/true"}, spec.Args)
	assert.True(t, spec.UidGid.IsEmpty())
}

func TestExecMalformed(t *testing.T) {
	tests := []struct {
		name  string
		build func(s *Serializer)
	}{
		{"unknown command", func(s *Serializer) { s.WriteByte(byte(execCommandEnd)) }},
		{"unterminated string", func(s *Serializer) {
			s.WriteCommand(ExecArg)
			s.buf = append(s.buf, 'a', 'b')
		}},
		{"short umask", func(s *Serializer) {
			s.WriteCommand(ExecUmask)
			s.WriteByte(1)
		}},
		{"rlimit index", func(s *Serializer) {
			s.WriteCommand(ExecRLimit)
			s.WriteByte(16)
			s.WriteRlimit(syscall.Rlimit{})
		}},
		{"short rlimit", func(s *Serializer) {
			s.WriteCommand(ExecRLimit)
			s.WriteByte(0)
			s.WriteUint64(1)
		}},
		{"bind mount without flags", func(s *Serializer) {
			s.WriteCommand(ExecBindMount)
			s.WriteString("/a")
			s.WriteString("/b")
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewRequest(RequestExec)
			s.WriteInt32(1)
			s.WriteString("bad")
			tt.build(s)
			b, _, err := s.Finish()
			require.NoError(t, err)
			_, err = decodeExecBytes(t, b, NewFdList(nil))
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestTooManyArgs(t *testing.T) {
	s := NewRequest(RequestExec)
	s.WriteInt32(1)
	s.WriteString("args")
	for i := 0; i <= types.MaxArgs; i++ {
		s.WriteCommand(ExecArg)
		s.WriteString("")
	}
	// bypass MaxPayload check of Finish
	_, err := decodeExecBytes(t, s.buf, NewFdList(nil))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestConnect(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	b, fds := EncodeConnect(int(r.Fd()))

	for _, n := range []int{0, 2} {
		cmd, p, err := DecodeRequest(b)
		require.NoError(t, err)
		require.Equal(t, RequestConnect, cmd)
		l := dupFds(t, repeat(int(r.Fd()), n))
		_, err = DecodeConnect(p, l)
		assert.ErrorIs(t, err, ErrMalformed, "%d fds", n)
		l.Close()
	}

	cmd, p, err := DecodeRequest(b)
	require.NoError(t, err)
	require.Equal(t, RequestConnect, cmd)
	f, err := DecodeConnect(p, dupFds(t, fds))
	require.NoError(t, err)
	f.Close()

	_, p, err = DecodeRequest([]byte{byte(RequestConnect), 0})
	require.NoError(t, err)
	l := dupFds(t, fds)
	_, err = DecodeConnect(p, l)
	assert.ErrorIs(t, err, ErrMalformed)
	l.Close()
}

func repeat(v, n int) []int {
	r := make([]int, n)
	for i := range r {
		r[i] = v
	}
	return r
}

func TestKill(t *testing.T) {
	b := EncodeKill(3, syscall.SIGTERM)
	cmd, p, err := DecodeRequest(b)
	require.NoError(t, err)
	require.Equal(t, RequestKill, cmd)
	id, sig, err := DecodeKill(p, NewFdList(nil))
	require.NoError(t, err)
	assert.Equal(t, int32(3), id)
	assert.Equal(t, int32(syscall.SIGTERM), sig)

	_, p, _ = DecodeRequest(append(b, 0))
	_, _, err = DecodeKill(p, NewFdList(nil))
	assert.ErrorIs(t, err, ErrMalformed)

	_, p, _ = DecodeRequest(b[:5])
	_, _, err = DecodeKill(p, NewFdList(nil))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeRequestInvalid(t *testing.T) {
	_, _, err := DecodeRequest(nil)
	assert.ErrorIs(t, err, ErrMalformed)
	_, _, err = DecodeRequest([]byte{99})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestExitRoundTrip(t *testing.T) {
	for _, st := range []syscall.WaitStatus{0, types.SpawnFailed, syscall.WaitStatus(syscall.SIGKILL), 0x7f | 0x1300} {
		cmd, p, err := DecodeResponse(EncodeExit(9, st))
		require.NoError(t, err)
		require.Equal(t, ResponseExit, cmd)
		e, err := DecodeExit(p)
		require.NoError(t, err)
		assert.Equal(t, &ExitResponse{ID: 9, Status: st}, e)
	}

	cmd, p, err := DecodeResponse(EncodeCgroupsAvailable())
	require.NoError(t, err)
	assert.Equal(t, ResponseCgroupsAvailable, cmd)
	assert.True(t, p.IsEmpty())
}

func TestSerializerNul(t *testing.T) {
	spec := types.NewChildSpec()
	spec.Args = []string{"a\x00b"}
	_, _, err := EncodeExec(1, "nul", spec)
	assert.Error(t, err)
}
