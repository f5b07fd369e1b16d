package forkexec

import (
	"syscall"
)

// prepareExec prepares execve parameters
func prepareExec(Args, Env []string) (*byte, []*byte, []*byte, error) {
	// make exec args0
	argv0, err := syscall.BytePtrFromString(Args[0])
	if err != nil {
		return nil, nil, nil, err
	}
	// make exec args
	argv, err := syscall.SlicePtrFromStrings(Args)
	if err != nil {
		return nil, nil, nil, err
	}
	// make env
	env, err := syscall.SlicePtrFromStrings(Env)
	if err != nil {
		return nil, nil, nil, err
	}
	return argv0, argv, env, nil
}

// prepareFds prepares fd array
func prepareFds(files []uintptr) ([]int, int) {
	fd := make([]int, len(files))
	nextfd := len(files)
	for i, ufd := range files {
		if nextfd < int(ufd) {
			nextfd = int(ufd)
		}
		fd[i] = int(ufd)
	}
	nextfd++
	return fd, nextfd
}

// syscallStringFromString prepares *byte if string is not empty, other wise nil
func syscallStringFromString(str string) (*byte, error) {
	if str != "" {
		return syscall.BytePtrFromString(str)
	}
	return nil, nil
}

// childStrings are the strings converted before fork since the child cannot
// allocate
type childStrings struct {
	argv0      *byte
	argv, env  []*byte
	workdir    *byte
	hostname   *byte
	root       *byte
	refence    []byte
	lateFlags  uintptr
	cloneFlags uintptr
}

func prepareChildStrings(r *Runner) (*childStrings, error) {
	var (
		c   childStrings
		err error
	)
	if len(r.Args) == 0 {
		return nil, syscall.EINVAL
	}
	if c.argv0, c.argv, c.env, err = prepareExec(r.Args, r.Env); err != nil {
		return nil, err
	}
	if c.workdir, err = syscallStringFromString(r.WorkDir); err != nil {
		return nil, err
	}
	if c.hostname, err = syscallStringFromString(r.HostName); err != nil {
		return nil, err
	}
	root := r.Root
	if root == "" {
		root = "/"
	}
	if c.root, err = syscall.BytePtrFromString(root); err != nil {
		return nil, err
	}
	c.refence = []byte(r.Refence)

	c.cloneFlags = r.CloneFlags & UnshareFlags
	if r.NetNs > 0 {
		// join the network namespace with the original privilege first
		c.lateFlags = c.cloneFlags &^ (syscall.CLONE_NEWPID | syscall.CLONE_NEWNET)
		c.cloneFlags &= syscall.CLONE_NEWPID
	}
	return &c, nil
}
