package mount

import (
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

const (
	bind      = unix.MS_BIND | unix.MS_PRIVATE | unix.MS_NOSUID | unix.MS_NODEV
	mFlag     = unix.MS_NOSUID | unix.MS_NODEV
	procFlag  = unix.MS_NOSUID | unix.MS_NODEV | unix.MS_NOEXEC
	ptsFlag   = unix.MS_NOSUID | unix.MS_NOEXEC
	ptsBind   = unix.MS_BIND | unix.MS_PRIVATE | ptsFlag
	devptsOpt = "newinstance,ptmxmode=0666,mode=620"
)

// Builder builds fork_exec friendly mount syscall format
type Builder struct {
	Mounts []Mount
}

// NewBuilder creates new mount builder instance
func NewBuilder() *Builder {
	return &Builder{}
}

// Build creates sequence of syscalls for fork_exec in the order mounts were added
// skipNotExists skips bind mounts that source not exists
func (b *Builder) Build(skipNotExists bool) ([]SyscallParams, error) {
	var err error
	ret := make([]SyscallParams, 0, len(b.Mounts))
	for _, m := range b.Mounts {
		var mknod bool
		if mknod, err = isBindMountFileOrNotExists(m); err != nil {
			if skipNotExists {
				continue
			}
			return nil, err
		}
		sp, err := m.ToSyscall()
		if err != nil {
			return nil, err
		}
		sp.MakeNod = mknod
		ret = append(ret, *sp)
	}
	return ret, nil
}

func isBindMountFileOrNotExists(m Mount) (bool, error) {
	if m.IsBindMount() {
		if fi, err := os.Stat(m.Source); err != nil {
			return false, err
		} else if !fi.IsDir() {
			return true, nil
		}
	}
	return false, nil
}

// WithBind adds a bind mount to builder
func (b *Builder) WithBind(source, target string, writable, exec bool) *Builder {
	var flags uintptr = bind
	if !writable {
		flags |= unix.MS_RDONLY
	}
	if !exec {
		flags |= unix.MS_NOEXEC
	}
	b.Mounts = append(b.Mounts, Mount{
		Source: source,
		Target: target,
		Flags:  flags,
	})
	return b
}

// WithBindPts bind mounts an existing devpts. Unlike WithBind it keeps
// device nodes usable, ptys cannot be opened on a nodev mount.
func (b *Builder) WithBindPts(source, target string) *Builder {
	b.Mounts = append(b.Mounts, Mount{
		Source: source,
		Target: target,
		Flags:  ptsBind,
	})
	return b
}

// WithTmpfs add a tmpfs mount to builder
func (b *Builder) WithTmpfs(target, data string) *Builder {
	b.Mounts = append(b.Mounts, Mount{
		Source: "tmpfs",
		Target: target,
		FsType: "tmpfs",
		Flags:  mFlag,
		Data:   data,
	})
	return b
}

// WithProc add proc file system, read-only unless writable
func (b *Builder) WithProc(target string, writable bool) *Builder {
	var flags uintptr = procFlag
	if !writable {
		flags |= unix.MS_RDONLY
	}
	b.Mounts = append(b.Mounts, Mount{
		Source: "proc",
		Target: target,
		FsType: "proc",
		Flags:  flags,
	})
	return b
}

// WithDevpts add a new devpts instance
func (b *Builder) WithDevpts(target string) *Builder {
	b.Mounts = append(b.Mounts, Mount{
		Source: "devpts",
		Target: target,
		FsType: "devpts",
		Flags:  ptsFlag,
		Data:   devptsOpt,
	})
	return b
}

func (b Builder) String() string {
	var sb strings.Builder
	sb.WriteString("Mounts: ")
	for i, m := range b.Mounts {
		sb.WriteString(m.String())
		if i != len(b.Mounts)-1 {
			sb.WriteString(", ")
		}
	}
	return sb.String()
}
