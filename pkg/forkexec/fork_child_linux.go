package forkexec

import (
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Reference to src/syscall/exec_linux.go
//
//go:norace
func forkAndExecInChild(r *Runner, c *childStrings, p [2]int) (r1 uintptr, err1 syscall.Errno) {
	// similar to exec_linux, avoid side effect by shuffling around
	fd, nextfd := prepareFds(r.Files)

	// Acquire the fork lock so that no other threads
	// create new fds that are not yet close-on-exec
	// before we fork.
	syscall.ForkLock.Lock()

	// About to call fork.
	// No more allocation or calls of non-assembly functions.
	beforeFork()

	// UnshareFlags (new namespaces) is activated by clone syscall
	r1, _, err1 = syscall.RawSyscall6(syscall.SYS_CLONE, uintptr(syscall.SIGCHLD)|c.cloneFlags, 0, 0, 0, 0, 0)
	if err1 != 0 || r1 != 0 {
		// in parent process, immediate return
		return
	}

	// In child process
	afterForkInChild()
	// Notice: cannot call any GO functions beyond this point

	pipe := p[1]
	var (
		err2        syscall.Errno
		ready       ChildError
		unshareUser = r.CloneFlags&unix.CLONE_NEWUSER == unix.CLONE_NEWUSER
	)

	// Close write end of pipe
	if _, _, err1 = syscall.RawSyscall(syscall.SYS_CLOSE, uintptr(p[0]), 0, 0); err1 != 0 {
		childExitError(pipe, LocCloseWrite, err1)
	}

	// Join the named network namespace while still privileged in the
	// original user namespace, then create the remaining namespaces
	if r.NetNs > 0 {
		_, _, err1 = syscall.RawSyscall(unix.SYS_SETNS, uintptr(r.NetNs), uintptr(unix.CLONE_NEWNET), 0)
		if err1 != 0 {
			childExitError(pipe, LocSetNs, err1)
		}
		if c.lateFlags != 0 {
			_, _, err1 = syscall.RawSyscall(syscall.SYS_UNSHARE, c.lateFlags, 0, 0)
			if err1 != 0 {
				childExitError(pipe, LocUnshare, err1)
			}
		}
	}

	// If usernamespace is unshared, uid map and gid map is required to create folders
	// and files
	// We need parent to setup uid_map / gid_map for us since we do not have capabilities
	// in the original namespace
	if unshareUser {
		r1, _, err1 = syscall.RawSyscall(syscall.SYS_WRITE, uintptr(pipe), uintptr(unsafe.Pointer(&ready)), unsafe.Sizeof(ready))
		if r1 == 0 || err1 != 0 {
			childExitError(pipe, LocSyncWrite, err1)
		}
		r1, _, err1 = syscall.RawSyscall(syscall.SYS_READ, uintptr(pipe), uintptr(unsafe.Pointer(&err2)), unsafe.Sizeof(err2))
		if err1 != 0 {
			childExitError(pipe, LocUnshareUserRead, err1)
		}
		if r1 != unsafe.Sizeof(err2) {
			err1 = syscall.EINVAL
			childExitError(pipe, LocUnshareUserRead, err1)
		}
		if err2 != 0 {
			err1 = err2
			childExitError(pipe, LocUnshareUserRead, err1)
		}
	}

	// Pass 1 & pass 2 assigns fds for child process
	// Pass 1: fd[i] < i => nextfd
	if pipe < nextfd {
		_, _, err1 = syscall.RawSyscall(syscall.SYS_DUP3, uintptr(pipe), uintptr(nextfd), syscall.O_CLOEXEC)
		if err1 != 0 {
			childExitError(pipe, LocDup3, err1)
		}
		pipe = nextfd
		nextfd++
	}
	for i := 0; i < len(fd); i++ {
		if fd[i] >= 0 && fd[i] < int(i) {
			// Avoid fd rewrite
			for nextfd == pipe {
				nextfd++
			}
			_, _, err1 = syscall.RawSyscall(syscall.SYS_DUP3, uintptr(fd[i]), uintptr(nextfd), syscall.O_CLOEXEC)
			if err1 != 0 {
				childExitError(pipe, LocDup3, err1)
			}
			// Set up close on exec
			fd[i] = nextfd
			nextfd++
		}
	}
	// Pass 2: fd[i] => i
	for i := 0; i < len(fd); i++ {
		if fd[i] == -1 {
			syscall.RawSyscall(syscall.SYS_CLOSE, uintptr(i), 0, 0)
			continue
		}
		if fd[i] == int(i) {
			// dup2(i, i) will not clear close on exec flag, need to reset the flag
			_, _, err1 = syscall.RawSyscall(syscall.SYS_FCNTL, uintptr(fd[i]), syscall.F_SETFD, 0)
			if err1 != 0 {
				childExitError(pipe, LocFcntl, err1)
			}
			continue
		}
		_, _, err1 = syscall.RawSyscall(syscall.SYS_DUP3, uintptr(fd[i]), uintptr(i), 0)
		if err1 != 0 {
			childExitError(pipe, LocDup3, err1)
		}
	}

	// Set the session ID
	_, _, err1 = syscall.RawSyscall(syscall.SYS_SETSID, 0, 0, 0)
	if err1 != 0 {
		childExitError(pipe, LocSetSid, err1)
	}

	// Set the controlling TTY
	if r.CTTY {
		_, _, err1 = syscall.RawSyscall(syscall.SYS_IOCTL, uintptr(0), uintptr(syscall.TIOCSCTTY), 1)
		if err1 != 0 {
			childExitError(pipe, LocIoctl, err1)
		}
	}

	// Mount file system
	{
		// If mount point is unshared, mark root as private to avoid propagate
		// outside to the original mount namespace
		if r.CloneFlags&syscall.CLONE_NEWNS == syscall.CLONE_NEWNS {
			_, _, err1 = syscall.RawSyscall6(syscall.SYS_MOUNT, uintptr(unsafe.Pointer(&none[0])),
				uintptr(unsafe.Pointer(&slash[0])), 0, syscall.MS_REC|syscall.MS_PRIVATE, 0, 0)
			if err1 != 0 {
				childExitError(pipe, LocMountRoot, err1)
			}
		}

		if r.RootTmpfs {
			// mount("tmpfs", root, "tmpfs", 0, "")
			_, _, err1 = syscall.RawSyscall6(syscall.SYS_MOUNT, uintptr(unsafe.Pointer(&tmpfs[0])),
				uintptr(unsafe.Pointer(c.root)), uintptr(unsafe.Pointer(&tmpfs[0])), 0,
				uintptr(unsafe.Pointer(&empty[0])), 0)
			if err1 != 0 {
				childExitError(pipe, LocMountTmpfs, err1)
			}
		} else if r.PivotRoot {
			// pivot_root requires the new root to be a mount point
			_, _, err1 = syscall.RawSyscall6(syscall.SYS_MOUNT, uintptr(unsafe.Pointer(c.root)),
				uintptr(unsafe.Pointer(c.root)), 0, syscall.MS_BIND|syscall.MS_REC, 0, 0)
			if err1 != 0 {
				childExitError(pipe, LocMountRoot, err1)
			}
		}

		// mount targets are relative to the new root
		_, _, err1 = syscall.RawSyscall(syscall.SYS_CHDIR, uintptr(unsafe.Pointer(c.root)), 0, 0)
		if err1 != 0 {
			childExitError(pipe, LocMountChdir, err1)
		}

		// performing mounts
		for i := range r.Mounts {
			m := &r.Mounts[i]
			// mkdirs(target)
			for j, p := range m.Prefixes {
				// if target mount point is a file, mknod(target)
				if j == len(m.Prefixes)-1 && m.MakeNod {
					_, _, err1 = syscall.RawSyscall(syscall.SYS_MKNODAT, uintptr(_AT_FDCWD), uintptr(unsafe.Pointer(p)), 0755)
					if err1 != 0 && err1 != syscall.EEXIST {
						childExitErrorWithIndex(pipe, LocMountMkdir, i, err1)
					}
					break
				}
				_, _, err1 = syscall.RawSyscall(syscall.SYS_MKDIRAT, uintptr(_AT_FDCWD), uintptr(unsafe.Pointer(p)), 0755)
				if err1 != 0 && err1 != syscall.EEXIST {
					childExitErrorWithIndex(pipe, LocMountMkdir, i, err1)
				}
			}
			// mount(source, target, fsType, flags, data)
			_, _, err1 = syscall.RawSyscall6(syscall.SYS_MOUNT, uintptr(unsafe.Pointer(m.Source)),
				uintptr(unsafe.Pointer(m.Target)), uintptr(unsafe.Pointer(m.FsType)), uintptr(m.Flags),
				uintptr(unsafe.Pointer(m.Data)), 0)
			if err1 != 0 {
				childExitErrorWithIndex(pipe, LocMount, i, err1)
			}
			// bind mount is not respect ro, nosuid, nodev, noexec flags so that
			// it needs remount
			if m.Remount {
				_, _, err1 = syscall.RawSyscall6(syscall.SYS_MOUNT, uintptr(unsafe.Pointer(&empty[0])),
					uintptr(unsafe.Pointer(m.Target)), uintptr(unsafe.Pointer(m.FsType)),
					uintptr(m.Flags|syscall.MS_REMOUNT), uintptr(unsafe.Pointer(m.Data)), 0)
				if err1 != 0 {
					childExitErrorWithIndex(pipe, LocMount, i, err1)
				}
			}
		}

		if r.PivotRoot {
			// mkdir("old_root")
			_, _, err1 = syscall.RawSyscall(syscall.SYS_MKDIRAT, uintptr(_AT_FDCWD), uintptr(unsafe.Pointer(&oldRoot[0])), 0755)
			if err1 != 0 {
				childExitError(pipe, LocPivotRoot, err1)
			}

			// pivot_root(root, "old_root")
			_, _, err1 = syscall.RawSyscall(syscall.SYS_PIVOT_ROOT, uintptr(unsafe.Pointer(c.root)), uintptr(unsafe.Pointer(&oldRoot[0])), 0)
			if err1 != 0 {
				childExitError(pipe, LocPivotRoot, err1)
			}

			// umount("old_root", MNT_DETACH)
			_, _, err1 = syscall.RawSyscall(syscall.SYS_UMOUNT2, uintptr(unsafe.Pointer(&oldRoot[0])), syscall.MNT_DETACH, 0)
			if err1 != 0 {
				childExitError(pipe, LocPivotRoot, err1)
			}

			// rmdir("old_root")
			_, _, err1 = syscall.RawSyscall(syscall.SYS_UNLINKAT, uintptr(_AT_FDCWD), uintptr(unsafe.Pointer(&oldRoot[0])), uintptr(unix.AT_REMOVEDIR))
			if err1 != 0 {
				childExitError(pipe, LocPivotRoot, err1)
			}

			if r.RootTmpfs {
				// mount("tmpfs", "/", "tmpfs", MS_BIND | MS_REMOUNT | MS_RDONLY | MS_NOATIME | MS_NOSUID, nil)
				_, _, err1 = syscall.RawSyscall6(syscall.SYS_MOUNT, uintptr(unsafe.Pointer(&tmpfs[0])),
					uintptr(unsafe.Pointer(&slash[0])), uintptr(unsafe.Pointer(&tmpfs[0])),
					uintptr(syscall.MS_BIND|syscall.MS_REMOUNT|syscall.MS_RDONLY|syscall.MS_NOATIME|syscall.MS_NOSUID),
					uintptr(unsafe.Pointer(&empty[0])), 0)
				if err1 != 0 {
					childExitError(pipe, LocPivotRoot, err1)
				}
			}
		} else if r.Root != "" {
			// chroot(".")
			_, _, err1 = syscall.RawSyscall(syscall.SYS_CHROOT, uintptr(unsafe.Pointer(&dot[0])), 0, 0)
			if err1 != 0 {
				childExitError(pipe, LocChroot, err1)
			}
		}

		_, _, err1 = syscall.RawSyscall(syscall.SYS_CHDIR, uintptr(unsafe.Pointer(&slash[0])), 0, 0)
		if err1 != 0 {
			childExitError(pipe, LocChdir, err1)
		}
	}

	// SetHostName
	if c.hostname != nil {
		_, _, err1 = syscall.RawSyscall(syscall.SYS_SETHOSTNAME,
			uintptr(unsafe.Pointer(c.hostname)), uintptr(len(r.HostName)), 0)
		if err1 != 0 {
			childExitError(pipe, LocSetHostName, err1)
		}
	}

	// chdir for child
	if c.workdir != nil {
		_, _, err1 = syscall.RawSyscall(syscall.SYS_CHDIR, uintptr(unsafe.Pointer(c.workdir)), 0, 0)
		if err1 != 0 {
			childExitError(pipe, LocChdir, err1)
		}
	}

	// Set limit
	for i := range r.RLimits {
		// prlimit instead of setrlimit to avoid 32-bit limitation (linux > 3.2)
		_, _, err1 = syscall.RawSyscall6(syscall.SYS_PRLIMIT64, 0, uintptr(r.RLimits[i].Res), uintptr(unsafe.Pointer(&r.RLimits[i].Rlim)), 0, 0, 0)
		if err1 != 0 {
			childExitErrorWithIndex(pipe, LocSetRlimit, i, err1)
		}
	}

	// Scheduling
	if r.Priority != 0 {
		_, _, err1 = syscall.RawSyscall(syscall.SYS_SETPRIORITY, uintptr(unix.PRIO_PROCESS), 0, uintptr(r.Priority))
		if err1 != 0 {
			childExitError(pipe, LocSetPriority, err1)
		}
	}
	if r.SchedIdle {
		_, _, err1 = syscall.RawSyscall(unix.SYS_SCHED_SETSCHEDULER, 0, schedIdle, uintptr(unsafe.Pointer(&schedParam)))
		if err1 != 0 {
			childExitError(pipe, LocSchedIdle, err1)
		}
	}
	if r.IOPrioIdle {
		_, _, err1 = syscall.RawSyscall(unix.SYS_IOPRIO_SET, ioprioWhoProcess, 0, ioprioIdle)
		if err1 != 0 {
			childExitError(pipe, LocIOPrioIdle, err1)
		}
	}

	if r.Umask >= 0 {
		syscall.RawSyscall(syscall.SYS_UMASK, uintptr(r.Umask), 0, 0)
	}

	// refence is best effort, the file only exists with a patched kernel
	if len(c.refence) > 0 {
		r1, _, err1 = syscall.RawSyscall6(syscall.SYS_OPENAT, uintptr(_AT_FDCWD), uintptr(unsafe.Pointer(&refencePath[0])),
			uintptr(syscall.O_WRONLY|syscall.O_CLOEXEC), 0, 0, 0)
		if err1 == 0 {
			syscall.RawSyscall(syscall.SYS_WRITE, r1, uintptr(unsafe.Pointer(&c.refence[0])), uintptr(len(c.refence)))
			syscall.RawSyscall(syscall.SYS_CLOSE, r1, 0, 0)
		}
	}

	// Before privilege drop and exec, sync with parent through pipe
	// (configured as close_on_exec). The parent places us into the cgroup.
	{
		r1, _, err1 = syscall.RawSyscall(syscall.SYS_WRITE, uintptr(pipe), uintptr(unsafe.Pointer(&ready)), unsafe.Sizeof(ready))
		if r1 == 0 || err1 != 0 {
			childExitError(pipe, LocSyncWrite, err1)
		}

		r1, _, err1 = syscall.RawSyscall(syscall.SYS_READ, uintptr(pipe), uintptr(unsafe.Pointer(&err2)), unsafe.Sizeof(err2))
		if r1 == 0 || err1 != 0 {
			childExitError(pipe, LocSyncRead, err1)
		}
	}

	// unshare cgroup namespace, the new root is the group we were just moved into
	if r.UnshareCgroupAfterSync {
		_, _, err1 = syscall.RawSyscall(syscall.SYS_UNSHARE, uintptr(unix.CLONE_NEWCGROUP), 0, 0)
		if err1 != 0 {
			childExitError(pipe, LocUnshareCgroup, err1)
		}
	}

	// Load seccomp filters while still privileged (no_new_privs is optional)
	for i, f := range r.Seccomp {
		_, _, err1 = syscall.RawSyscall(unix.SYS_SECCOMP, SECCOMP_SET_MODE_FILTER, 0, uintptr(unsafe.Pointer(f)))
		if err1 != 0 {
			childExitErrorWithIndex(pipe, LocSeccomp, i, err1)
		}
	}

	// set the credential for the child process(exec_linux.go)
	if cred := r.Credential; cred != nil {
		ngroups := uintptr(len(cred.Groups))
		groups := uintptr(0)
		if ngroups > 0 {
			groups = uintptr(unsafe.Pointer(&cred.Groups[0]))
		}
		// setgroups is denied inside a user namespace without mapping
		if !(unshareUser && !r.GIDMappingsEnableSetgroups) && !cred.NoSetGroups {
			_, _, err1 = syscall.RawSyscall(unix.SYS_SETGROUPS, ngroups, groups, 0)
			if err1 != 0 {
				childExitError(pipe, LocSetGroups, err1)
			}
		}
		_, _, err1 = syscall.RawSyscall(unix.SYS_SETGID, uintptr(cred.Gid), 0, 0)
		if err1 != 0 {
			childExitError(pipe, LocSetGid, err1)
		}
		_, _, err1 = syscall.RawSyscall(unix.SYS_SETUID, uintptr(cred.Uid), 0, 0)
		if err1 != 0 {
			childExitError(pipe, LocSetUid, err1)
		}
	}

	// No new privs
	if r.NoNewPrivs {
		_, _, err1 = syscall.RawSyscall6(syscall.SYS_PRCTL, unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0, 0)
		if err1 != 0 {
			childExitError(pipe, LocSetNoNewPrivs, err1)
		}
	}

	// time to exec
	_, _, err1 = syscall.RawSyscall(unix.SYS_EXECVE, uintptr(unsafe.Pointer(c.argv0)),
		uintptr(unsafe.Pointer(&c.argv[0])), uintptr(unsafe.Pointer(&c.env[0])))

	// Fix potential ETXTBSY but with caution (max 50 attempt)
	// The ETXTBSY happens when the executable was just written and another
	// goroutine forks but not execve yet, the forked process is still holding
	// the fd of the written file.
	for range [etxtbsyRetries]struct{}{} {
		if err1 != syscall.ETXTBSY {
			break
		}
		// wait instead of busy wait
		syscall.RawSyscall(unix.SYS_NANOSLEEP, uintptr(unsafe.Pointer(&etxtbsyRetryInterval)), 0, 0)
		_, _, err1 = syscall.RawSyscall(unix.SYS_EXECVE, uintptr(unsafe.Pointer(c.argv0)),
			uintptr(unsafe.Pointer(&c.argv[0])), uintptr(unsafe.Pointer(&c.env[0])))
	}
	childExitError(pipe, LocExecve, err1)
	return
}

//go:nosplit
func childExitError(pipe int, loc ErrorLocation, err syscall.Errno) {
	childExitErrorWithIndex(pipe, loc, 0, err)
}

//go:nosplit
func childExitErrorWithIndex(pipe int, loc ErrorLocation, idx int, err syscall.Errno) {
	// send error code on pipe
	childError := ChildError{
		Err:      err,
		Location: loc,
		Index:    idx,
	}

	// a zero errno would look like a sync message
	if childError.Err == 0 {
		childError.Err = syscall.EPIPE
	}

	// send error code on pipe
	syscall.RawSyscall(unix.SYS_WRITE, uintptr(pipe), uintptr(unsafe.Pointer(&childError)), unsafe.Sizeof(childError))
	for {
		syscall.RawSyscall(syscall.SYS_EXIT, uintptr(err), 0, 0)
	}
}
