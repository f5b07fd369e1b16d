// Package cgroup manages child groups below a delegated cgroup v2 directory
// (e.g. a systemd scope with Delegate=yes): it creates the group, writes
// controller settings and moves processes into it.
package cgroup
