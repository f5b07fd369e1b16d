package forkexec

import (
	"fmt"
	"syscall"
)

// ErrorLocation defines the location where child process failed to exec
type ErrorLocation int

// ChildError defines the specific error and location where it failed
type ChildError struct {
	Err      syscall.Errno
	Location ErrorLocation
	Index    int
}

// Location constants
const (
	LocClone ErrorLocation = iota + 1
	LocCloseWrite
	LocSetNs
	LocUnshare
	LocUnshareUserRead
	LocGetPid
	LocDup3
	LocFcntl
	LocSetSid
	LocIoctl
	LocMountRoot
	LocMountTmpfs
	LocMountChdir
	LocMount
	LocMountMkdir
	LocPivotRoot
	LocChroot
	LocSetHostName
	LocChdir
	LocSetRlimit
	LocSetPriority
	LocSchedIdle
	LocIOPrioIdle
	LocSyncWrite
	LocSyncRead
	LocUnshareCgroup
	LocSeccomp
	LocSetGroups
	LocSetGid
	LocSetUid
	LocSetNoNewPrivs
	LocExecve
)

var locToString = []string{
	"unknown",
	"clone",
	"close_write",
	"setns",
	"unshare",
	"unshare_user_read",
	"getpid",
	"dup3",
	"fcntl",
	"setsid",
	"ioctl",
	"mount(root)",
	"mount(tmpfs)",
	"mount(chdir)",
	"mount",
	"mount(mkdir)",
	"pivot_root",
	"chroot",
	"sethostname",
	"chdir",
	"setrlimit",
	"setpriority",
	"sched_idle",
	"ioprio_idle",
	"sync_write",
	"sync_read",
	"unshare(cgroup)",
	"seccomp",
	"setgroups",
	"setgid",
	"setuid",
	"set_no_new_privs",
	"execve",
}

func (e ErrorLocation) String() string {
	if e >= LocClone && e <= LocExecve {
		return locToString[e]
	}
	return "unknown"
}

func (e ChildError) Error() string {
	if e.Index > 0 {
		return fmt.Sprintf("%s(%d): %s", e.Location.String(), e.Index, e.Err.Error())
	}
	return fmt.Sprintf("%s: %s", e.Location.String(), e.Err.Error())
}

// Unwrap returns the errno so errors.Is(err, syscall.ENOENT) works
func (e ChildError) Unwrap() error {
	return e.Err
}
