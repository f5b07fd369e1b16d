package types

import "golang.org/x/sys/unix"

// BindMount is an explicit bind mount, applied in declaration order
type BindMount struct {
	Source, Target string
	Writable, Exec bool
}

// NamespaceSpec defines the namespaces and mounts of the child
type NamespaceSpec struct {
	EnableUser    bool
	EnablePID     bool
	EnableCgroup  bool
	EnableNetwork bool
	EnableIPC     bool
	EnableMount   bool

	// NetworkNamespace joins the named network namespace (ip netns) instead
	// of creating a new one
	NetworkNamespace string

	MountRootTmpfs bool
	MountProc      bool
	WritableProc   bool
	MountPts       bool
	BindMountPts   bool

	PivotRoot string

	// MountHome is the target inside the new root, Home the source directory
	MountHome string
	Home      string

	// MountTmpTmpfs mounts a tmpfs on /tmp, TmpTmpfsOptions may be empty
	MountTmpTmpfs   bool
	TmpTmpfsOptions string
	// MountTmpfs mounts an empty tmpfs at the given target
	MountTmpfs string

	BindMounts []BindMount

	Hostname string
}

// CloneFlags returns the namespace flags passed to clone
func (n *NamespaceSpec) CloneFlags() uintptr {
	var flags uintptr
	if n.EnableUser {
		flags |= unix.CLONE_NEWUSER
	}
	if n.EnablePID {
		flags |= unix.CLONE_NEWPID
	}
	if n.EnableNetwork {
		flags |= unix.CLONE_NEWNET
	}
	if n.EnableIPC {
		flags |= unix.CLONE_NEWIPC
	}
	if n.MountNamespace() {
		flags |= unix.CLONE_NEWNS
	}
	if n.Hostname != "" {
		flags |= unix.CLONE_NEWUTS
	}
	return flags
}

// MountNamespace returns true if the child gets a mount namespace, any
// requested mount implies one
func (n *NamespaceSpec) MountNamespace() bool {
	return n.EnableMount || n.HasMounts()
}

// HasMounts returns true if any mount is requested inside the mount namespace
func (n *NamespaceSpec) HasMounts() bool {
	return n.MountRootTmpfs || n.MountProc || n.MountPts || n.BindMountPts ||
		n.PivotRoot != "" || n.MountHome != "" || n.MountTmpTmpfs ||
		n.MountTmpfs != "" || len(n.BindMounts) > 0
}
