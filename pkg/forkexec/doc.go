// Package forkexec starts a single child process with raw clone and
// execve. Between the two the child enters its namespaces, builds its
// mount tree, applies limits and scheduling, synchronizes with the parent
// for id maps and cgroup placement, loads seccomp filters and finally
// drops its credentials.
//
// A failure in the child is reported as a ChildError naming the step.
package forkexec
