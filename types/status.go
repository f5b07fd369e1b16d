package types

import (
	"fmt"
	"syscall"
)

// ExitStatus creates the wait status of a process exited normally with code
func ExitStatus(code int) syscall.WaitStatus {
	return syscall.WaitStatus((code & 0xff) << 8)
}

// SpawnFailed is reported for a child that could not be created (exit 255, no signal)
var SpawnFailed = ExitStatus(0xff)

// DescribeStatus formats the wait status for logs
func DescribeStatus(ws syscall.WaitStatus) string {
	switch {
	case ws.Exited():
		return fmt.Sprintf("exited %d", ws.ExitStatus())
	case ws.Signaled():
		if ws.CoreDump() {
			return fmt.Sprintf("signal %v (core dumped)", ws.Signal())
		}
		return fmt.Sprintf("signal %v", ws.Signal())
	case ws.Stopped():
		return fmt.Sprintf("stopped %v", ws.StopSignal())
	default:
		return fmt.Sprintf("status %#x", uint32(ws))
	}
}
