// Package sandbox translates a ChildSpec into the clone, mount and privilege
// setup of a new process and starts it.
package sandbox

import (
	"os"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/vishvananda/netns"

	"github.com/criyle/go-spawn/pkg/cgroup"
	"github.com/criyle/go-spawn/pkg/forkexec"
	"github.com/criyle/go-spawn/pkg/mount"
	"github.com/criyle/go-spawn/pkg/seccomp"
	"github.com/criyle/go-spawn/types"
)

// rootTmpfsDir is where the empty tmpfs root is mounted inside the new
// mount namespace before it is pivoted into
const rootTmpfsDir = "/tmp"

const stderrPathMode = 0600

// Builder prepares and starts children
type Builder struct {
	// Cgroup is the delegated cgroup, nil if cgroups are not available
	Cgroup *cgroup.State
	Logger logrus.FieldLogger

	lookupNetns func(name string) (netns.NsHandle, error)
}

// NewBuilder creates a Builder placing children below cg (may be nil)
func NewBuilder(cg *cgroup.State, logger logrus.FieldLogger) *Builder {
	return &Builder{
		Cgroup:      cg,
		Logger:      logger,
		lookupNetns: netns.GetFromName,
	}
}

// Process is a prepared child with the parent side resources it holds until
// it is started
type Process struct {
	Runner *forkexec.Runner
	files  []*os.File
	ns     []netns.NsHandle
}

// Close releases the parent copies of descriptors opened by Prepare
func (p *Process) Close() {
	for _, f := range p.files {
		f.Close()
	}
	for _, h := range p.ns {
		h.Close()
	}
	p.files, p.ns = nil, nil
}

// Spawn prepares and starts the child. The files owned by spec are not
// closed.
func (b *Builder) Spawn(spec *types.ChildSpec) (int, error) {
	p, err := b.Prepare(spec)
	if err != nil {
		return 0, err
	}
	defer p.Close()

	pid, err := p.Runner.Start()
	if err != nil {
		return 0, startError(err)
	}
	return pid, nil
}

// Prepare computes the Runner for spec without starting anything
func (b *Builder) Prepare(spec *types.ChildSpec) (*Process, error) {
	if len(spec.Args) == 0 {
		return nil, setupError("prepare", syscall.EINVAL)
	}
	p := &Process{
		Runner: &forkexec.Runner{
			Args:       spec.Args,
			Env:        spec.Env,
			RLimits:    spec.RLimits.PrepareRLimit(),
			WorkDir:    spec.Chdir,
			CloneFlags: spec.Namespace.CloneFlags(),
			Priority:   spec.Priority,
			SchedIdle:  spec.SchedIdle,
			IOPrioIdle: spec.IOPrioIdle,
			Umask:      spec.Umask,
			Refence:    spec.Refence,
			NoNewPrivs: spec.NoNewPrivs,
			CTTY:       spec.TTY,
		},
	}
	steps := []struct {
		name string
		fn   func(*types.ChildSpec, *Process) error
	}{
		{"stdio", b.prepareFiles},
		{"namespace", b.prepareNamespace},
		{"mount", b.prepareMounts},
		{"seccomp", b.prepareSeccomp},
		{"credential", b.prepareCredential},
		{"cgroup", b.prepareCgroup},
	}
	for _, s := range steps {
		if err := s.fn(spec, p); err != nil {
			p.Close()
			return nil, setupError(s.name, err)
		}
	}
	return p, nil
}

func (b *Builder) prepareFiles(spec *types.ChildSpec, p *Process) error {
	var null *os.File
	orNull := func(f *os.File) (*os.File, error) {
		if f != nil {
			return f, nil
		}
		if null == nil {
			var err error
			if null, err = os.OpenFile(os.DevNull, os.O_RDWR, 0); err != nil {
				return nil, err
			}
			p.files = append(p.files, null)
		}
		return null, nil
	}

	stderr := spec.Stderr
	if stderr == nil && spec.StderrPath != "" {
		f, err := os.OpenFile(spec.StderrPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, stderrPathMode)
		if err != nil {
			return err
		}
		p.files = append(p.files, f)
		stderr = f
	}

	var fds []uintptr
	for _, f := range []*os.File{spec.Stdin, spec.Stdout, stderr} {
		f, err := orNull(f)
		if err != nil {
			return err
		}
		fds = append(fds, f.Fd())
	}
	if spec.Control != nil {
		fds = append(fds, spec.Control.Fd())
	}
	p.Runner.Files = fds
	return nil
}

func (b *Builder) prepareNamespace(spec *types.ChildSpec, p *Process) error {
	ns := &spec.Namespace
	r := p.Runner

	if ns.NetworkNamespace != "" {
		h, err := b.lookupNetns(ns.NetworkNamespace)
		if err != nil {
			return err
		}
		p.ns = append(p.ns, h)
		r.NetNs = int(h)
		r.CloneFlags &^= syscall.CLONE_NEWNET
	}

	if ns.EnableUser {
		uid, gid := int(spec.UidGid.Uid), int(spec.UidGid.Gid)
		r.UIDMappings = []syscall.SysProcIDMap{{ContainerID: uid, HostID: uid, Size: 1}}
		r.GIDMappings = []syscall.SysProcIDMap{{ContainerID: gid, HostID: gid, Size: 1}}
	}
	if ns.Hostname != "" {
		r.HostName = ns.Hostname
	}
	r.UnshareCgroupAfterSync = ns.EnableCgroup
	return nil
}

func (b *Builder) prepareMounts(spec *types.ChildSpec, p *Process) error {
	ns := &spec.Namespace
	r := p.Runner

	if !ns.MountNamespace() {
		r.Root = spec.Chroot
		return nil
	}

	switch {
	case ns.PivotRoot != "":
		r.Root, r.PivotRoot = ns.PivotRoot, true
		r.RootTmpfs = ns.MountRootTmpfs
	case ns.MountRootTmpfs:
		r.Root, r.PivotRoot, r.RootTmpfs = rootTmpfsDir, true, true
	default:
		r.Root = spec.Chroot
	}

	mb := mount.NewBuilder()
	if ns.MountProc {
		mb.WithProc(target("/proc"), ns.WritableProc)
	}
	if ns.MountPts {
		mb.WithDevpts(target("/dev/pts"))
	} else if ns.BindMountPts {
		mb.WithBindPts("/dev/pts", target("/dev/pts"))
	}
	if ns.MountTmpTmpfs {
		mb.WithTmpfs(target("/tmp"), ns.TmpTmpfsOptions)
	}
	if ns.MountTmpfs != "" {
		mb.WithTmpfs(target(ns.MountTmpfs), "")
	}
	if ns.MountHome != "" && ns.Home != "" {
		mb.WithBind(ns.Home, target(ns.MountHome), true, true)
	}
	for _, bm := range ns.BindMounts {
		mb.WithBind(bm.Source, target(bm.Target), bm.Writable, bm.Exec)
	}
	if b.Logger != nil && len(mb.Mounts) > 0 {
		b.Logger.WithField("mounts", mb.String()).Debug("prepare mounts")
	}

	ms, err := mb.Build(false)
	if err != nil {
		return err
	}
	r.Mounts = ms
	return nil
}

// target makes the mount target relative to the new root
func target(p string) string {
	p = strings.TrimLeft(p, "/")
	if p == "" {
		return "."
	}
	return p
}

func (b *Builder) prepareSeccomp(spec *types.ChildSpec, p *Process) error {
	filters, err := seccomp.Build(seccomp.Options{
		ForbidUserNS:    spec.ForbidUserNS,
		ForbidMulticast: spec.ForbidMulticast,
		ForbidBind:      spec.ForbidBind,
	})
	if err != nil {
		return err
	}
	for _, f := range filters {
		p.Runner.Seccomp = append(p.Runner.Seccomp, f.SockFprog())
	}
	return nil
}

func (b *Builder) prepareCredential(spec *types.ChildSpec, p *Process) error {
	u := &spec.UidGid
	if u.IsEmpty() {
		return nil
	}
	groups := u.Groups
	if groups == nil {
		// drop the supplementary groups of the server
		groups = []uint32{}
	}
	p.Runner.Credential = &syscall.Credential{
		Uid:    u.Uid,
		Gid:    u.Gid,
		Groups: groups,
	}
	return nil
}

func (b *Builder) prepareCgroup(spec *types.ChildSpec, p *Process) error {
	cg := &spec.Cgroup
	if !cg.IsEnabled() {
		return nil
	}
	if !b.Cgroup.IsEnabled() {
		if b.Logger != nil {
			b.Logger.WithField("cgroup", cg.Name).Warn("cgroups not available, ignoring")
		}
		return nil
	}
	state, name, settings := b.Cgroup, cg.Name, cg.Settings
	p.Runner.SyncFunc = func(pid int) error {
		return state.Place(pid, name, settings)
	}
	return nil
}
