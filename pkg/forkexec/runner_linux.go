package forkexec

import (
	"syscall"

	"github.com/criyle/go-spawn/pkg/mount"
	"github.com/criyle/go-spawn/pkg/rlimit"
)

// Runner is the configuration including the exec path, argv, resource limits,
// namespaces, mounts and credentials of a single child.
type Runner struct {
	// argv and env for execve syscall for the child process
	Args []string
	Env  []string

	// POSIX Resource limit set by set rlimit
	RLimits []rlimit.RLimit

	// file disriptors map for new process, from 0 to len - 1
	Files []uintptr

	// work path set by chdir(dir) (current working directory for child)
	// it is executed after the root is changed
	WorkDir string

	// seccomp syscall filters loaded in order after the sync
	Seccomp []*syscall.SockFprog

	// clone unshare flag to create linux namespace, effective when clone child
	// since unshare syscall does not join the new pid group
	CloneFlags uintptr

	// NetNs is a network namespace fd to join with setns, 0 for none.
	// Since setns requires privilege in the owning user namespace, all
	// namespaces except pid are unshared after the join.
	NetNs int

	// Root is the directory the mounts are relative to. Empty means the
	// current root ("/").
	Root string

	// RootTmpfs mounts an empty tmpfs at Root before the mounts and remounts
	// it read-only after the root is pivoted
	RootTmpfs bool

	// PivotRoot switches to Root with pivot_root, otherwise Root is chroot-ed
	// Call path:
	// mount("tmpfs", root, "tmpfs", 0, nil) or mount(root, root, MS_BIND | MS_REC)
	// chdir(root)
	// [do mounts]
	// mkdir("old_root")
	// pivot_root(root, "old_root")
	// umount("old_root", MNT_DETACH)
	// rmdir("old_root")
	PivotRoot bool

	// mounts defines the mount syscalls after unshare mount namespace with
	// targets relative to Root
	Mounts []mount.SyscallParams

	// HostName to be set after unshare UTS & user (CAP_SYS_ADMIN)
	HostName string

	// UidMappings / GidMappings for unshared user namespaces, the current
	// euid / egid is mapped to root if mapping is null
	UIDMappings []syscall.SysProcIDMap
	GIDMappings []syscall.SysProcIDMap

	// GidMappingsEnableSetgroups allows / disallows setgroups syscall.
	// deny if GIDMappings is nil
	GIDMappingsEnableSetgroups bool

	// Credential holds user and group identities assumed right before execve
	Credential *syscall.Credential

	// Priority is the nice value set by setpriority, 0 to keep
	Priority int

	// SchedIdle / IOPrioIdle switch to the idle cpu / io scheduling class
	SchedIdle  bool
	IOPrioIdle bool

	// Umask sets the file mode creation mask, -1 to keep
	Umask int

	// Refence is written to /proc/cm4all/refence/self if not empty (best effort)
	Refence string

	// Parent and child process with sync sataus through a socket pair.
	// SyncFunc will invoke with the child pid. If SyncFunc return some error,
	// parent will signal child to stop and report the error
	// SyncFunc is called right before execve, thus it could place the child
	// into a cgroup before it runs
	SyncFunc func(int) error

	// no_new_privs calls prctl(PR_SET_NO_NEW_PRIVS) to disable calls to
	// setuid processes
	NoNewPrivs bool

	// UnshareCgroupAfterSync specifies whether to unshare cgroup namespace after
	// sync (the syncFunc might be add the child to the cgroup)
	UnshareCgroupAfterSync bool

	// CTTY specifies if set the fd 0 as controlling TTY
	CTTY bool
}
