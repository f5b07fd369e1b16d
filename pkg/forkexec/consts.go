package forkexec

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// defines missing consts from syscall package
const (
	SECCOMP_SET_MODE_STRICT   = 0
	SECCOMP_SET_MODE_FILTER   = 1
	SECCOMP_FILTER_FLAG_TSYNC = 1

	// Unshare flags
	UnshareFlags = unix.CLONE_NEWIPC | unix.CLONE_NEWNET | unix.CLONE_NEWNS |
		unix.CLONE_NEWPID | unix.CLONE_NEWUSER | unix.CLONE_NEWUTS | unix.CLONE_NEWCGROUP

	// securebits
	_SECURE_NOROOT                 = 1 << 0
	_SECURE_NOROOT_LOCKED          = 1 << 1
	_SECURE_NO_SETUID_FIXUP        = 1 << 2
	_SECURE_NO_SETUID_FIXUP_LOCKED = 1 << 3
	_SECURE_KEEP_CAPS              = 1 << 4
	_SECURE_KEEP_CAPS_LOCKED       = 1 << 5

	// sched_setscheduler policy
	schedIdle = 5

	// ioprio_set(IOPRIO_WHO_PROCESS, 0, IOPRIO_PRIO_VALUE(IOPRIO_CLASS_IDLE, 7))
	ioprioWhoProcess = 1
	ioprioIdle       = 3<<13 | 7

	// maximum execve attempts on ETXTBSY
	etxtbsyRetries = 50
)

// used by unshare remount / to private
var (
	none  = [...]byte{'n', 'o', 'n', 'e', 0}
	slash = [...]byte{'/', 0}
	dot   = [...]byte{'.', 0}
	empty = [...]byte{0}
	tmpfs = [...]byte{'t', 'm', 'p', 'f', 's', 0}

	// tmp dir made by pivot_root
	oldRoot = [...]byte{'o', 'l', 'd', '_', 'r', 'o', 'o', 't', 0}

	// uid / gid map setgroups content
	setGIDAllow = []byte("allow")
	setGIDDeny  = []byte("deny")

	// written by REFENCE
	refencePath = [...]byte{'/', 'p', 'r', 'o', 'c', '/', 'c', 'm', '4', 'a', 'l', 'l', '/',
		'r', 'e', 'f', 'e', 'n', 'c', 'e', '/', 's', 'e', 'l', 'f', 0}

	// go does not allow constant uintptr to be negative...
	_AT_FDCWD = unix.AT_FDCWD

	// sched_param for SCHED_IDLE
	schedParam int32

	etxtbsyRetryInterval = syscall.Timespec{Nsec: 1 * 1000 * 1000} // 1ms
)
