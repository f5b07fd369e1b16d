// Package registry tracks the children of the server by pid and dispatches
// their exit status to the owner.
package registry

import (
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/criyle/go-spawn/types"
)

// ExitFunc is called once with the wait status of an exited child
type ExitFunc func(syscall.WaitStatus)

type entry struct {
	name   string
	onExit ExitFunc
	start  time.Time
}

// Registry maps pids to their exit listeners. It is not safe for concurrent
// use: all calls happen on the server loop.
type Registry struct {
	logger   logrus.FieldLogger
	children map[int]*entry
	volatile bool

	kill func(pid int, sig syscall.Signal) error
	wait func(pid int, ws *syscall.WaitStatus, options int, ru *syscall.Rusage) (int, error)
}

// Option customizes the process syscalls used by the registry
type Option func(*Registry)

// WithKill replaces kill(2)
func WithKill(kill func(pid int, sig syscall.Signal) error) Option {
	return func(r *Registry) {
		r.kill = kill
	}
}

// WithWait replaces wait4(2)
func WithWait(wait func(pid int, ws *syscall.WaitStatus, options int, ru *syscall.Rusage) (int, error)) Option {
	return func(r *Registry) {
		r.wait = wait
	}
}

// New creates an empty registry
func New(logger logrus.FieldLogger, opts ...Option) *Registry {
	r := &Registry{
		logger:   logger,
		children: make(map[int]*entry),
		kill:     syscall.Kill,
		wait:     syscall.Wait4,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Add registers pid, onExit is called when it exits
func (r *Registry) Add(pid int, name string, onExit ExitFunc) error {
	if _, ok := r.children[pid]; ok {
		return errors.Errorf("registry: pid %d already registered", pid)
	}
	r.children[pid] = &entry{name: name, onExit: onExit, start: time.Now()}
	return nil
}

// Kill sends sig to pid and forgets it, the exit status is not reported.
// Unknown pids are ignored.
func (r *Registry) Kill(pid int, sig syscall.Signal) {
	e, ok := r.children[pid]
	if !ok {
		return
	}
	delete(r.children, pid)
	if err := r.kill(pid, sig); err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"pid":  pid,
			"name": e.name,
		}).Warn("failed to kill child")
	}
}

// Remove forgets pid without signaling it
func (r *Registry) Remove(pid int) {
	delete(r.children, pid)
}

// Exited reports the exit of pid to its listener and forgets it
func (r *Registry) Exited(pid int, ws syscall.WaitStatus, ru *syscall.Rusage) {
	e, ok := r.children[pid]
	if !ok {
		return
	}
	delete(r.children, pid)

	fields := logrus.Fields{
		"pid":      pid,
		"name":     e.name,
		"status":   types.DescribeStatus(ws),
		"duration": time.Since(e.start).Round(time.Millisecond),
	}
	if ru != nil {
		fields["utime"] = time.Duration(ru.Utime.Nano())
		fields["stime"] = time.Duration(ru.Stime.Nano())
	}
	r.logger.WithFields(fields).Debug("child exited")

	if e.onExit != nil {
		e.onExit(ws)
	}
}

// Reap collects every exited child without blocking, it is called on SIGCHLD.
// It returns the number of children collected.
func (r *Registry) Reap() int {
	n := 0
	for {
		var (
			ws syscall.WaitStatus
			ru syscall.Rusage
		)
		pid, err := r.wait(-1, &ws, syscall.WNOHANG, &ru)
		if err == syscall.EINTR {
			continue
		}
		if err != nil || pid <= 0 {
			return n
		}
		n++
		r.Exited(pid, ws, &ru)
	}
}

// SetVolatile marks the registry as draining: once it becomes empty the
// server may exit
func (r *Registry) SetVolatile() {
	r.volatile = true
}

// IsVolatile returns true after SetVolatile
func (r *Registry) IsVolatile() bool {
	return r.volatile
}

// Len returns the number of registered children
func (r *Registry) Len() int {
	return len(r.children)
}

// Contains returns true if pid is registered
func (r *Registry) Contains(pid int) bool {
	_, ok := r.children[pid]
	return ok
}
