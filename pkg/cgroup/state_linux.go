package cgroup

import (
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
)

// Setting is a controller file write, e.g. memory.max=100M
type Setting struct {
	Key, Value string
}

// State is the delegated cgroup the server may create groups in. The zero
// value means cgroups are not available.
type State struct {
	// Root is the absolute directory of the delegated group
	Root string
	// Controllers enabled for the children of Root
	Controllers []string
}

// NewState creates State for the delegated group at root
func NewState(root string) (*State, error) {
	ct, err := GetAvailableControllerV2(root)
	if err != nil {
		return nil, err
	}
	return &State{Root: root, Controllers: ct}, nil
}

// LoadState creates State for a group given relative to /sys/fs/cgroup
func LoadState(group string) (*State, error) {
	return NewState(path.Join(basePath, group))
}

// IsEnabled returns true if groups can be created
func (s *State) IsEnabled() bool {
	return s != nil && s.Root != ""
}

// Open creates (if not exists) the group name below Root
func (s *State) Open(name string) (*CgroupV2, error) {
	if !s.IsEnabled() {
		return nil, errors.New("cgroup: not available")
	}
	if err := validName(name); err != nil {
		return nil, err
	}
	p := path.Join(s.Root, name)
	if err := os.MkdirAll(p, dirPerm); err != nil {
		return nil, err
	}
	return &CgroupV2{path: p}, nil
}

// Place creates group name, writes settings in order, then moves pid into it
func (s *State) Place(pid int, name string, settings []Setting) error {
	cg, err := s.Open(name)
	if err != nil {
		return err
	}
	for _, set := range settings {
		if err := validKey(set.Key); err != nil {
			return err
		}
		if err := cg.WriteFile(set.Key, []byte(set.Value)); err != nil {
			return fmt.Errorf("cgroup: write %s: %w", set.Key, err)
		}
	}
	if err := cg.AddProc(pid); err != nil {
		return fmt.Errorf("cgroup: add %d to %s: %w", pid, name, err)
	}
	return nil
}

func validName(name string) error {
	if name == "" || strings.HasPrefix(name, "/") {
		return fmt.Errorf("cgroup: invalid group name %q", name)
	}
	for _, c := range strings.Split(name, "/") {
		if c == "" || c == "." || c == ".." || c == initPath {
			return fmt.Errorf("cgroup: invalid group name %q", name)
		}
	}
	return nil
}

// controller files only, the core cgroup.* interface files are reserved
func validKey(key string) error {
	dot := strings.IndexByte(key, '.')
	if dot <= 0 || strings.ContainsRune(key, '/') || strings.HasPrefix(key, "cgroup.") {
		return fmt.Errorf("cgroup: invalid setting %q", key)
	}
	return nil
}
