package forkexec

import (
	"fmt"
	"strconv"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// idMap is one /proc/<pid>/{uid,gid}_map document
type idMap []syscall.SysProcIDMap

// identity maps the current effective id to 0 inside the namespace
func identity(id int) idMap {
	return idMap{{ContainerID: 0, HostID: id, Size: 1}}
}

func (m idMap) bytes() []byte {
	var b strings.Builder
	for _, e := range m {
		fmt.Fprintf(&b, "%d %d %d\n", e.ContainerID, e.HostID, e.Size)
	}
	return []byte(b.String())
}

// writeIDMaps is called by the parent while the child waits in its new
// user namespace. setgroups must be written before gid_map.
func writeIDMaps(r *Runner, pid int) error {
	dir := "/proc/" + strconv.Itoa(pid) + "/"

	uid := idMap(r.UIDMappings)
	if uid == nil {
		uid = identity(unix.Geteuid())
	}
	gid := idMap(r.GIDMappings)
	if gid == nil {
		gid = identity(unix.Getegid())
	}
	setGroups := setGIDDeny
	if r.GIDMappings != nil && r.GIDMappingsEnableSetgroups {
		setGroups = setGIDAllow
	}

	for _, w := range []struct {
		name    string
		content []byte
	}{
		{"uid_map", uid.bytes()},
		{"setgroups", setGroups},
		{"gid_map", gid.bytes()},
	} {
		if err := writeProcFile(dir+w.name, w.content); err != nil {
			return errors.Wrapf(err, "write %s", w.name)
		}
	}
	return nil
}

// writeProcFile writes content with a single write, proc id maps reject
// partial documents
func writeProcFile(path string, content []byte) error {
	fd, err := unix.Open(path, unix.O_WRONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return err
	}
	_, err = unix.Write(fd, content)
	if cerr := unix.Close(fd); err == nil {
		err = cerr
	}
	return err
}
