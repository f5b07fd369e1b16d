// Package systemd creates the transient scope the server delegates child
// cgroups from and reports readiness to the service manager.
package systemd

import (
	"context"
	"strings"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/coreos/go-systemd/v22/dbus"
	godbus "github.com/godbus/dbus/v5"
	"github.com/pkg/errors"

	"github.com/criyle/go-spawn/pkg/cgroup"
)

const scopeSuffix = ".scope"

// Scope describes the transient scope unit
type Scope struct {
	Name        string
	Description string
	// Slice is the parent slice, empty for the systemd default
	Slice string
	// Delegate asks systemd to hand the cgroup subtree to us
	Delegate bool
}

// UnitName returns the name with the .scope suffix
func (s Scope) UnitName() string {
	if strings.HasSuffix(s.Name, scopeSuffix) {
		return s.Name
	}
	return s.Name + scopeSuffix
}

func (s Scope) properties(pid int) []dbus.Property {
	props := []dbus.Property{
		dbus.PropDescription(s.Description),
		dbus.PropPids(uint32(pid)),
		{Name: "Delegate", Value: godbus.MakeVariant(s.Delegate)},
	}
	if s.Slice != "" {
		props = append(props, dbus.PropSlice(s.Slice))
	}
	return props
}

// unitManager is the part of the systemd D-Bus api used here
type unitManager interface {
	StartTransientUnitContext(ctx context.Context, name string, mode string, properties []dbus.Property, ch chan<- string) (int, error)
	GetUnitTypePropertyContext(ctx context.Context, unit string, unitType string, propertyName string) (*dbus.Property, error)
}

// CreateScope creates the scope, moves pid into it and returns the delegated
// cgroup state. The calling process is moved into a leaf of the scope so the
// scope itself can enable controllers for its children.
func CreateScope(ctx context.Context, s Scope, pid int) (*cgroup.State, error) {
	conn, err := dbus.NewWithContext(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "systemd: connect")
	}
	defer conn.Close()

	group, err := startScope(ctx, conn, s, pid)
	if err != nil {
		return nil, err
	}
	st, err := cgroup.LoadState(group)
	if err != nil {
		return nil, errors.Wrapf(err, "systemd: load cgroup %s", group)
	}
	if s.Delegate {
		if err := cgroup.EnableV2Nesting(st.Root); err != nil {
			return nil, errors.Wrapf(err, "systemd: enable nesting in %s", st.Root)
		}
	}
	return st, nil
}

// startScope starts the unit, waits for the job and returns its control group
// relative to the cgroup mount
func startScope(ctx context.Context, m unitManager, s Scope, pid int) (string, error) {
	name := s.UnitName()
	ch := make(chan string, 1)
	if _, err := m.StartTransientUnitContext(ctx, name, "replace", s.properties(pid), ch); err != nil {
		return "", errors.Wrapf(err, "systemd: start %s", name)
	}
	select {
	case res := <-ch:
		if res != "done" {
			return "", errors.Errorf("systemd: start %s: job %s", name, res)
		}
	case <-ctx.Done():
		return "", ctx.Err()
	}

	p, err := m.GetUnitTypePropertyContext(ctx, name, "Scope", "ControlGroup")
	if err != nil {
		return "", errors.Wrapf(err, "systemd: control group of %s", name)
	}
	group, ok := p.Value.Value().(string)
	if !ok || group == "" {
		return "", errors.Errorf("systemd: %s has no control group", name)
	}
	return strings.TrimPrefix(group, "/"), nil
}

// NotifyReady sends READY=1, it is a no-op when not started by systemd
func NotifyReady() (bool, error) {
	return daemon.SdNotify(false, daemon.SdNotifyReady)
}
