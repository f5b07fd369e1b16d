package forkexec

import (
	"errors"
	"syscall"
	"unsafe" // required for go:linkname.

	"golang.org/x/sys/unix"
)

//go:linkname beforeFork syscall.runtime_BeforeFork
func beforeFork()

//go:linkname afterFork syscall.runtime_AfterFork
func afterFork()

//go:linkname afterForkInChild syscall.runtime_AfterForkInChild
func afterForkInChild()

// Start clones the child, waits until it reaches the sync point, runs
// SyncFunc and lets it execve.
// Return pid and potential error (ChildError if the child failed during setup)
func (r *Runner) Start() (int, error) {
	c, err := prepareChildStrings(r)
	if err != nil {
		return 0, err
	}

	// socketpair p used to notify child the uid / gid mapping have been setup
	// socketpair p is also used to sync with parent before final execve
	// p[0] is used by parent and p[1] is used by child
	p, err := syscall.Socketpair(syscall.AF_LOCAL, syscall.SOCK_STREAM|syscall.SOCK_CLOEXEC, 0)
	if err != nil {
		return 0, err
	}

	// fork in child
	pid, err1 := forkAndExecInChild(r, c, p)

	// restore all signals
	afterFork()
	syscall.ForkLock.Unlock()

	return syncWithChild(r, p, int(pid), err1)
}

func syncWithChild(r *Runner, p [2]int, pid int, err1 syscall.Errno) (int, error) {
	unshareUser := r.CloneFlags&unix.CLONE_NEWUSER == unix.CLONE_NEWUSER

	// sync with child
	unix.Close(p[1])

	// clone syscall failed
	if err1 != 0 {
		unix.Close(p[0])
		return 0, ChildError{Err: err1, Location: LocClone}
	}

	fail := func(err error) (int, error) {
		unix.Close(p[0])
		handleChildFailed(pid)
		return 0, err
	}

	// synchronize with child for uid / gid map
	if unshareUser {
		if err := readSync(p[0]); err != nil {
			return fail(err)
		}
		err := writeIDMaps(r, pid)
		if werr := writeErrno(p[0], toErrno(err)); err == nil {
			err = werr
		}
		if err != nil {
			return fail(err)
		}
	}

	if err := readSync(p[0]); err != nil {
		return fail(err)
	}

	// if syncfunc return error, then fail child immediately
	if r.SyncFunc != nil {
		if err := r.SyncFunc(pid); err != nil {
			return fail(err)
		}
	}
	// otherwise, ack child
	if err := writeErrno(p[0], 0); err != nil {
		return fail(err)
	}

	// if read anything mean child failed after sync (close_on_exec so it should not block)
	ce, n, err := readChildError(p[0])
	unix.Close(p[0])
	switch {
	case err != nil:
		handleChildFailed(pid)
		return 0, err
	case n == int(unsafe.Sizeof(ce)):
		handleChildFailed(pid)
		return 0, ce
	case n != 0:
		handleChildFailed(pid)
		return 0, syscall.EPIPE
	}
	return pid, nil
}

// readSync reads the message the child sends when it waits for the parent,
// a zero ChildError means ready
func readSync(fd int) error {
	ce, n, err := readChildError(fd)
	if err != nil {
		return err
	}
	if n != int(unsafe.Sizeof(ce)) {
		return syscall.EPIPE
	}
	if ce.Err != 0 {
		return ce
	}
	return nil
}

func readChildError(fd int) (ChildError, int, error) {
	var ce ChildError
	n, err := unix.Read(fd, unsafe.Slice((*byte)(unsafe.Pointer(&ce)), unsafe.Sizeof(ce)))
	for err == unix.EINTR {
		n, err = unix.Read(fd, unsafe.Slice((*byte)(unsafe.Pointer(&ce)), unsafe.Sizeof(ce)))
	}
	return ce, n, err
}

func writeErrno(fd int, errno syscall.Errno) error {
	_, err := unix.Write(fd, unsafe.Slice((*byte)(unsafe.Pointer(&errno)), unsafe.Sizeof(errno)))
	return err
}

func toErrno(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno
	}
	return syscall.EINVAL
}

func handleChildFailed(pid int) {
	var wstatus syscall.WaitStatus
	// make sure not blocked
	syscall.Kill(pid, syscall.SIGKILL)
	// child failed; wait for it to exit, to make sure the zombies don't accumulate
	_, err := syscall.Wait4(pid, &wstatus, 0, nil)
	for err == syscall.EINTR {
		_, err = syscall.Wait4(pid, &wstatus, 0, nil)
	}
}
