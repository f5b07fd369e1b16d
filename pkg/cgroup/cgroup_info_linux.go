package cgroup

import (
	"path"
	"strings"
)

// GetAvailableControllerV2 reads cgroup.controllers of the given group
func GetAvailableControllerV2(group string) ([]string, error) {
	return getAvailableControllerV2path(path.Join(group, cgroupControllers))
}

func getAvailableControllerV2path(p string) ([]string, error) {
	c, err := readFile(p)
	if err != nil {
		return nil, err
	}
	return strings.Fields(string(c)), nil
}
