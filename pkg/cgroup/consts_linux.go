package cgroup

const (
	// systemd mounted cgroups
	basePath    = "/sys/fs/cgroup"
	cgroupProcs = "cgroup.procs"

	cgroupSubtreeControl = "cgroup.subtree_control"
	cgroupControllers    = "cgroup.controllers"

	filePerm = 0644
	dirPerm  = 0755

	// initPath is the leaf the delegating process itself is moved into
	initPath = "_"
)

// CgroupType is the type of the cgroup hierarchy mounted at /sys/fs/cgroup
type CgroupType int

// cgroup types
const (
	CgroupTypeV1 = iota + 1
	CgroupTypeV2
)

func (t CgroupType) String() string {
	switch t {
	case CgroupTypeV1:
		return "v1"
	case CgroupTypeV2:
		return "v2"
	default:
		return "invalid"
	}
}
