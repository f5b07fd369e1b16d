package cgroup

import (
	"path"
	"strconv"
)

// CgroupV2 is a single group directory
type CgroupV2 struct {
	path string
}

// AddProc moves pid into the group
func (c *CgroupV2) AddProc(pid int) error {
	return c.WriteUint(cgroupProcs, uint64(pid))
}

// WriteUint writes uint64 into given file
func (c *CgroupV2) WriteUint(filename string, i uint64) error {
	return c.WriteFile(filename, []byte(strconv.FormatUint(i, 10)))
}

// WriteFile writes cgroup file and handles potential EINTR error while writes to
// the slow device (cgroup)
func (c *CgroupV2) WriteFile(name string, content []byte) error {
	p := path.Join(c.path, name)
	return writeFile(p, content, filePerm)
}
