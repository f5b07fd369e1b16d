// Package mount provides the ordered mount list of a new mount namespace and
// converts it into raw syscall arguments usable after fork.
package mount

import (
	"fmt"
	"syscall"
)

// Mount defines syscall for mount points
type Mount struct {
	Source, Target, FsType, Data string
	Flags                        uintptr
}

// SyscallParams defines the raw syscall arguments to mount
type SyscallParams struct {
	Source, Target, FsType, Data *byte
	Flags                        uintptr
	Prefixes                     []*byte
	// MakeNod creates the last prefix as a file (bind mount of a file)
	MakeNod bool
	// Remount applies the flags of a bind mount with a second mount call
	Remount bool
}

const bindRemountFlags = syscall.MS_RDONLY | syscall.MS_NOSUID | syscall.MS_NODEV | syscall.MS_NOEXEC

// IsBindMount returns true if it is a bind mount
func (m *Mount) IsBindMount() bool {
	return m.Flags&syscall.MS_BIND == syscall.MS_BIND
}

// IsReadOnly returns true if the mount is read-only
func (m *Mount) IsReadOnly() bool {
	return m.Flags&syscall.MS_RDONLY == syscall.MS_RDONLY
}

// ToSyscall convert Mount to SyscallPrams
func (m *Mount) ToSyscall() (*SyscallParams, error) {
	var data, fsType *byte
	source, err := syscall.BytePtrFromString(m.Source)
	if err != nil {
		return nil, err
	}
	target, err := syscall.BytePtrFromString(m.Target)
	if err != nil {
		return nil, err
	}
	if m.FsType != "" {
		fsType, err = syscall.BytePtrFromString(m.FsType)
		if err != nil {
			return nil, err
		}
	}
	if m.Data != "" {
		data, err = syscall.BytePtrFromString(m.Data)
		if err != nil {
			return nil, err
		}
	}
	paths, err := arrayPtrFromStrings(pathPrefix(m.Target))
	if err != nil {
		return nil, err
	}
	return &SyscallParams{
		Source:   source,
		Target:   target,
		FsType:   fsType,
		Flags:    m.Flags,
		Data:     data,
		Prefixes: paths,
		Remount:  m.IsBindMount() && m.Flags&bindRemountFlags != 0,
	}, nil
}

func (m Mount) String() string {
	switch {
	case m.IsBindMount():
		flag := "rw"
		if m.IsReadOnly() {
			flag = "ro"
		}
		if m.Flags&syscall.MS_NOEXEC == 0 {
			flag += ",exec"
		}
		return fmt.Sprintf("bind[%s:%s:%s]", m.Source, m.Target, flag)

	case m.FsType == "tmpfs":
		return fmt.Sprintf("tmpfs[%s]", m.Target)

	case m.FsType == "proc":
		if m.IsReadOnly() {
			return "proc[ro]"
		}
		return "proc[rw]"

	case m.FsType == "devpts":
		return fmt.Sprintf("devpts[%s]", m.Target)

	default:
		return fmt.Sprintf("mount[%s,%s:%s:%x,%s]", m.FsType, m.Source, m.Target, m.Flags, m.Data)
	}
}

// pathPrefix get all components from path
func pathPrefix(path string) []string {
	ret := make([]string, 0)
	for i := 1; i < len(path); i++ {
		if path[i] == '/' {
			ret = append(ret, path[:i])
		}
	}
	ret = append(ret, path)
	return ret
}

// arrayPtrFromStrings converts srings to c style strings
func arrayPtrFromStrings(strs []string) ([]*byte, error) {
	bytes := make([]*byte, 0, len(strs))
	for _, s := range strs {
		b, err := syscall.BytePtrFromString(s)
		if err != nil {
			return nil, err
		}
		bytes = append(bytes, b)
	}
	return bytes, nil
}
