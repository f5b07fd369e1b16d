package protocol

import (
	"os"

	"github.com/criyle/go-spawn/types"
)

// ExecRequest is a decoded EXEC request
type ExecRequest struct {
	ID   int32
	Name string
	Spec *types.ChildSpec
}

// DecodeRequest splits the leading command byte from the datagram
func DecodeRequest(b []byte) (RequestCommand, *Payload, error) {
	if len(b) == 0 {
		return 0, nil, malformed("empty request")
	}
	cmd := RequestCommand(b[0])
	if cmd > RequestKill {
		return cmd, nil, malformed("unknown request command %d", b[0])
	}
	return cmd, NewPayload(b[1:]), nil
}

// DecodeConnect decodes a CONNECT request: no payload and exactly one socket
func DecodeConnect(p *Payload, fds *FdList) (*os.File, error) {
	if !p.IsEmpty() || fds.Len() != 1 {
		return nil, malformed("CONNECT with %d bytes and %d fds", p.Len(), fds.Len())
	}
	return fds.Take()
}

// DecodeKill decodes a KILL request
func DecodeKill(p *Payload, fds *FdList) (id, signo int32, err error) {
	if fds.Len() != 0 {
		return 0, 0, malformed("KILL with %d fds", fds.Len())
	}
	if id, err = p.ReadInt32(); err != nil {
		return
	}
	if signo, err = p.ReadInt32(); err != nil {
		return
	}
	if !p.IsEmpty() {
		return 0, 0, malformed("KILL with %d trailing bytes", p.Len())
	}
	return id, signo, nil
}

// DecodeExec decodes an EXEC request. Descriptors are taken from fds in the
// order the sub-commands needing them appear; a surplus is malformed. On
// error, every descriptor already moved into the ChildSpec is closed.
func DecodeExec(p *Payload, fds *FdList) (*ExecRequest, error) {
	id, err := p.ReadInt32()
	if err != nil {
		return nil, err
	}
	name, err := p.ReadString()
	if err != nil {
		return nil, err
	}

	spec := types.NewChildSpec()
	for !p.IsEmpty() {
		if err := decodeExecCommand(p, fds, spec); err != nil {
			spec.Close()
			return nil, err
		}
	}
	if fds.Len() != 0 {
		spec.Close()
		return nil, malformed("%d surplus fds", fds.Len())
	}
	return &ExecRequest{ID: id, Name: name, Spec: spec}, nil
}

func decodeExecCommand(p *Payload, fds *FdList, c *types.ChildSpec) error {
	b, err := p.ReadByte()
	if err != nil {
		return err
	}
	ns := &c.Namespace

	switch cmd := ExecCommand(b); cmd {
	case ExecArg:
		if len(c.Args) >= types.MaxArgs {
			return malformed("too many arguments")
		}
		return readString(p, func(s string) { c.Args = append(c.Args, s) })

	case ExecSetEnv:
		if len(c.Env) >= types.MaxEnv {
			return malformed("too many environment entries")
		}
		return readString(p, func(s string) { c.Env = append(c.Env, s) })

	case ExecUmask:
		v, err := p.ReadUint16()
		if err != nil {
			return err
		}
		c.Umask = int(v)

	case ExecStdin:
		return takeFile(fds, &c.Stdin)

	case ExecStdout:
		return takeFile(fds, &c.Stdout)

	case ExecStderr:
		return takeFile(fds, &c.Stderr)

	case ExecControl:
		return takeFile(fds, &c.Control)

	case ExecStderrPath:
		return readString(p, func(s string) { c.StderrPath = s })

	case ExecTTY:
		c.TTY = true

	case ExecRefence:
		return readString(p, func(s string) { c.Refence = s })

	case ExecUserNS:
		ns.EnableUser = true

	case ExecPidNS:
		ns.EnablePID = true

	case ExecNetworkNS:
		ns.EnableNetwork = true

	case ExecNetworkNSName:
		return readString(p, func(s string) { ns.NetworkNamespace = s })

	case ExecIpcNS:
		ns.EnableIPC = true

	case ExecMountNS:
		ns.EnableMount = true

	case ExecMountProc:
		ns.MountProc = true

	case ExecWritableProc:
		ns.WritableProc = true

	case ExecPivotRoot:
		return readString(p, func(s string) { ns.PivotRoot = s })

	case ExecMountHome:
		target, err := p.ReadString()
		if err != nil {
			return err
		}
		home, err := p.ReadString()
		if err != nil {
			return err
		}
		ns.MountHome, ns.Home = target, home

	case ExecMountTmpTmpfs:
		return readString(p, func(s string) {
			ns.MountTmpTmpfs, ns.TmpTmpfsOptions = true, s
		})

	case ExecMountTmpfs:
		return readString(p, func(s string) { ns.MountTmpfs = s })

	case ExecBindMount:
		m, err := readBindMount(p)
		if err != nil {
			return err
		}
		ns.BindMounts = append(ns.BindMounts, m)

	case ExecHostname:
		return readString(p, func(s string) { ns.Hostname = s })

	case ExecRLimit:
		i, err := p.ReadByte()
		if err != nil {
			return err
		}
		rlim, err := p.ReadRlimit()
		if err != nil {
			return err
		}
		if err := c.RLimits.Set(int(i), rlim); err != nil {
			return malformed("%v", err)
		}

	case ExecUidGid:
		u, err := readUidGid(p)
		if err != nil {
			return err
		}
		c.UidGid = u

	case ExecSchedIdle:
		c.SchedIdle = true

	case ExecIOPrioIdle:
		c.IOPrioIdle = true

	case ExecForbidUserNS:
		c.ForbidUserNS = true

	case ExecForbidMulticast:
		c.ForbidMulticast = true

	case ExecForbidBind:
		c.ForbidBind = true

	case ExecNoNewPrivs:
		c.NoNewPrivs = true

	case ExecCgroup:
		return readString(p, func(s string) { c.Cgroup.Name = s })

	case ExecCgroupSet:
		key, err := p.ReadString()
		if err != nil {
			return err
		}
		value, err := p.ReadString()
		if err != nil {
			return err
		}
		c.Cgroup.Settings = append(c.Cgroup.Settings, types.CgroupSetting{Key: key, Value: value})

	case ExecPriority:
		v, err := p.ReadInt32()
		if err != nil {
			return err
		}
		c.Priority = int(v)

	case ExecChroot:
		return readString(p, func(s string) { c.Chroot = s })

	case ExecChdir:
		return readString(p, func(s string) { c.Chdir = s })

	case ExecHookInfo:
		return readString(p, func(s string) { c.HookInfo = s })

	case ExecMountRootTmpfs:
		ns.MountRootTmpfs = true

	case ExecMountPts:
		ns.MountPts = true

	case ExecBindMountPts:
		ns.BindMountPts = true

	case ExecCgroupNS:
		ns.EnableCgroup = true

	default:
		return malformed("unknown exec command %v", cmd)
	}
	return nil
}

func readString(p *Payload, set func(string)) error {
	s, err := p.ReadString()
	if err != nil {
		return err
	}
	set(s)
	return nil
}

func takeFile(fds *FdList, f **os.File) error {
	nf, err := fds.Take()
	if err != nil {
		return err
	}
	// a repeated sub-command replaces the earlier descriptor
	if *f != nil {
		(*f).Close()
	}
	*f = nf
	return nil
}

func readBindMount(p *Payload) (types.BindMount, error) {
	var (
		m   types.BindMount
		err error
	)
	if m.Source, err = p.ReadString(); err != nil {
		return m, err
	}
	if m.Target, err = p.ReadString(); err != nil {
		return m, err
	}
	if m.Writable, err = p.ReadBool(); err != nil {
		return m, err
	}
	if m.Exec, err = p.ReadBool(); err != nil {
		return m, err
	}
	return m, nil
}

func readUidGid(p *Payload) (types.UidGid, error) {
	var (
		u   types.UidGid
		err error
	)
	if u.Uid, err = p.ReadUint32(); err != nil {
		return u, err
	}
	if u.Gid, err = p.ReadUint32(); err != nil {
		return u, err
	}
	n, err := p.ReadByte()
	if err != nil {
		return u, err
	}
	if int(n) > types.MaxGroups {
		return u, malformed("%d supplementary groups", n)
	}
	for i := 0; i < int(n); i++ {
		g, err := p.ReadUint32()
		if err != nil {
			return u, err
		}
		u.Groups = append(u.Groups, g)
	}
	return u, nil
}
