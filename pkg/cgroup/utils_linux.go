package cgroup

import (
	"errors"
	"io/fs"
	"os"
	"path"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// EnableV2Nesting migrates all process in the delegated root into the nested
// leaf and enables all available controllers for the children of root
func EnableV2Nesting(root string) error {
	p, err := readFile(path.Join(root, cgroupProcs))
	if err != nil {
		return err
	}
	procs := strings.Fields(string(p))

	// mkdir init
	if err := os.Mkdir(path.Join(root, initPath), dirPerm); err != nil && !errors.Is(err, os.ErrExist) {
		return err
	}
	// move all process into init cgroup, one pid per write
	for _, v := range procs {
		if err := writeFile(path.Join(root, initPath, cgroupProcs), []byte(v), filePerm); err != nil && !errors.Is(err, syscall.ESRCH) {
			return err
		}
	}

	s, err := getAvailableControllerV2path(path.Join(root, cgroupControllers))
	if err != nil {
		return err
	}
	if len(s) == 0 {
		return nil
	}
	controlMsg := []byte("+" + strings.Join(s, " +"))
	return writeFile(path.Join(root, cgroupSubtreeControl), controlMsg, filePerm)
}

// DetectType detects current mounted cgroup type in systemd default path
func DetectType() CgroupType {
	// if /sys/fs/cgroup is mounted as CGROUPV2 or TMPFS (V1)
	var st unix.Statfs_t
	if err := unix.Statfs(basePath, &st); err != nil {
		// ignore errors, defalting to CgroupV1
		return CgroupTypeV1
	}
	if st.Type == unix.CGROUP2_SUPER_MAGIC {
		return CgroupTypeV2
	}
	return CgroupTypeV1
}

func readFile(p string) ([]byte, error) {
	data, err := os.ReadFile(p)
	for err != nil && errors.Is(err, syscall.EINTR) {
		data, err = os.ReadFile(p)
	}
	return data, err
}

func writeFile(p string, content []byte, perm fs.FileMode) error {
	err := os.WriteFile(p, content, perm)
	for err != nil && errors.Is(err, syscall.EINTR) {
		err = os.WriteFile(p, content, perm)
	}
	return err
}
