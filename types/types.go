// Package types defines the child process description shared by the protocol
// decoder, the sandbox builder and the spawn server.
package types

import (
	"os"

	"github.com/criyle/go-spawn/pkg/cgroup"
	"github.com/criyle/go-spawn/pkg/rlimit"
)

// Limits of a single EXEC request
const (
	MaxArgs   = 16384
	MaxEnv    = 16384
	MaxGroups = 32
)

// UidGid is the identity the child runs as
type UidGid struct {
	Uid    uint32
	Gid    uint32
	Groups []uint32
}

// IsEmpty returns true if neither uid nor gid was given
func (u *UidGid) IsEmpty() bool {
	return u.Uid == 0 && u.Gid == 0
}

// CgroupSetting is a single controller file write
type CgroupSetting = cgroup.Setting

// CgroupSpec defines the cgroup the child is moved into
type CgroupSpec struct {
	// Name of the group under the delegated cgroup root, empty means no placement
	Name string
	// Settings are written in order before the child is added to the group
	Settings []CgroupSetting
}

// IsEnabled returns true if the child should be placed in a cgroup
func (c *CgroupSpec) IsEnabled() bool {
	return c.Name != ""
}

// ChildSpec is the full description of a process to create
type ChildSpec struct {
	Args []string
	Env  []string

	// owned files, nil means /dev/null (Control: not passed)
	Stdin, Stdout, Stderr, Control *os.File

	// StderrPath is opened by the server if Stderr is nil
	StderrPath string

	// TTY sets stdin as the controlling terminal
	TTY bool

	// Refence is written to /proc/cm4all/refence/self when available
	Refence string

	Chdir  string
	Chroot string

	// Umask is applied if not negative
	Umask int

	UidGid  UidGid
	RLimits rlimit.Table

	Priority   int
	SchedIdle  bool
	IOPrioIdle bool

	NoNewPrivs      bool
	ForbidUserNS    bool
	ForbidMulticast bool
	ForbidBind      bool

	// HookInfo is a free-form tag checked by the verification hook
	HookInfo string

	Namespace NamespaceSpec
	Cgroup    CgroupSpec
}

// NewChildSpec creates an empty ChildSpec with the umask unset
func NewChildSpec() *ChildSpec {
	return &ChildSpec{Umask: -1}
}

// Files returns the owned files in order stdin, stdout, stderr, control
func (c *ChildSpec) Files() []*os.File {
	return []*os.File{c.Stdin, c.Stdout, c.Stderr, c.Control}
}

// Close releases every file owned by c
func (c *ChildSpec) Close() {
	for _, f := range c.Files() {
		if f != nil {
			f.Close()
		}
	}
	c.Stdin, c.Stdout, c.Stderr, c.Control = nil, nil, nil, nil
}
