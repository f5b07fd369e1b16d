// Package protocol implements the spawn server wire format: typed request and
// response datagrams with ancillary descriptors sent over a SOCK_SEQPACKET
// socket. Integers are encoded in host byte order.
package protocol

import "fmt"

// RequestCommand is the leading byte of a request datagram
type RequestCommand uint8

// Request commands
const (
	RequestConnect RequestCommand = iota
	RequestExec
	RequestKill
)

// ExecCommand is the tag of a sub-command inside an EXEC request
type ExecCommand uint8

// EXEC sub-commands
const (
	ExecArg ExecCommand = iota
	ExecSetEnv
	ExecUmask
	ExecStdin
	ExecStdout
	ExecStderr
	ExecStderrPath
	ExecControl
	ExecTTY
	ExecRefence
	ExecUserNS
	ExecPidNS
	ExecNetworkNS
	ExecNetworkNSName
	ExecIpcNS
	ExecMountNS
	ExecMountProc
	ExecWritableProc
	ExecPivotRoot
	ExecMountHome
	ExecMountTmpTmpfs
	ExecMountTmpfs
	ExecBindMount
	ExecHostname
	ExecRLimit
	ExecUidGid
	ExecSchedIdle
	ExecIOPrioIdle
	ExecForbidUserNS
	ExecForbidMulticast
	ExecForbidBind
	ExecNoNewPrivs
	ExecCgroup
	ExecCgroupSet
	ExecPriority
	ExecChroot
	ExecChdir
	ExecHookInfo
	ExecMountRootTmpfs
	ExecMountPts
	ExecBindMountPts
	ExecCgroupNS

	execCommandEnd
)

// ResponseCommand is the leading byte of a response datagram
type ResponseCommand uint8

// Response commands
const (
	ResponseCgroupsAvailable ResponseCommand = iota
	ResponseExit
)

// MaxPayload is the largest datagram the server reads
const MaxPayload = 8192

// MaxFds is the largest number of descriptors accepted with one datagram
const MaxFds = 32

func (c RequestCommand) String() string {
	switch c {
	case RequestConnect:
		return "CONNECT"
	case RequestExec:
		return "EXEC"
	case RequestKill:
		return "KILL"
	default:
		return fmt.Sprintf("RequestCommand(%d)", uint8(c))
	}
}

func (c ResponseCommand) String() string {
	switch c {
	case ResponseCgroupsAvailable:
		return "CGROUPS_AVAILABLE"
	case ResponseExit:
		return "EXIT"
	default:
		return fmt.Sprintf("ResponseCommand(%d)", uint8(c))
	}
}

var execCommandNames = [...]string{
	"ARG", "SETENV", "UMASK", "STDIN", "STDOUT", "STDERR", "STDERR_PATH", "CONTROL",
	"TTY", "REFENCE", "USER_NS", "PID_NS", "NETWORK_NS", "NETWORK_NS_NAME", "IPC_NS",
	"MOUNT_NS", "MOUNT_PROC", "WRITABLE_PROC", "PIVOT_ROOT", "MOUNT_HOME",
	"MOUNT_TMP_TMPFS", "MOUNT_TMPFS", "BIND_MOUNT", "HOSTNAME", "RLIMIT", "UID_GID",
	"SCHED_IDLE", "IOPRIO_IDLE", "FORBID_USER_NS", "FORBID_MULTICAST", "FORBID_BIND",
	"NO_NEW_PRIVS", "CGROUP", "CGROUP_SET", "PRIORITY", "CHROOT", "CHDIR", "HOOK_INFO",
	"MOUNT_ROOT_TMPFS", "MOUNT_PTS", "BIND_MOUNT_PTS", "CGROUP_NS",
}

func (c ExecCommand) String() string {
	if c < execCommandEnd {
		return execCommandNames[c]
	}
	return fmt.Sprintf("ExecCommand(%d)", uint8(c))
}
