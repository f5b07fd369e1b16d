package protocol

import (
	"syscall"

	"github.com/pkg/errors"

	"github.com/criyle/go-spawn/types"
)

// EncodeConnect encodes a CONNECT request; fd is the socket handed over
func EncodeConnect(fd int) ([]byte, []int) {
	return []byte{byte(RequestConnect)}, []int{fd}
}

// EncodeKill encodes a KILL request
func EncodeKill(id int32, sig syscall.Signal) []byte {
	s := NewRequest(RequestKill)
	s.WriteInt32(id)
	s.WriteInt32(int32(sig))
	b, _, _ := s.Finish()
	return b
}

// EncodeExec encodes an EXEC request. The returned descriptors belong to the
// spec and must stay open until the datagram is sent.
func EncodeExec(id int32, name string, c *types.ChildSpec) ([]byte, []int, error) {
	s := NewRequest(RequestExec)
	s.WriteInt32(id)
	s.WriteString(name)

	for _, a := range c.Args {
		s.WriteCommand(ExecArg)
		s.WriteString(a)
	}
	for _, e := range c.Env {
		s.WriteCommand(ExecSetEnv)
		s.WriteString(e)
	}
	if c.Umask >= 0 {
		s.WriteCommand(ExecUmask)
		s.WriteUint16(uint16(c.Umask))
	}
	for i, f := range c.Files() {
		if f != nil {
			s.WriteFd([]ExecCommand{ExecStdin, ExecStdout, ExecStderr, ExecControl}[i], int(f.Fd()))
		}
	}
	s.WriteOptional(ExecStderrPath, c.StderrPath)
	s.WriteFlag(ExecTTY, c.TTY)
	s.WriteOptional(ExecRefence, c.Refence)

	ns := &c.Namespace
	s.WriteFlag(ExecUserNS, ns.EnableUser)
	s.WriteFlag(ExecPidNS, ns.EnablePID)
	s.WriteFlag(ExecCgroupNS, ns.EnableCgroup)
	s.WriteFlag(ExecNetworkNS, ns.EnableNetwork)
	s.WriteOptional(ExecNetworkNSName, ns.NetworkNamespace)
	s.WriteFlag(ExecIpcNS, ns.EnableIPC)
	s.WriteFlag(ExecMountNS, ns.EnableMount)
	s.WriteFlag(ExecMountRootTmpfs, ns.MountRootTmpfs)
	s.WriteFlag(ExecMountProc, ns.MountProc)
	s.WriteFlag(ExecWritableProc, ns.WritableProc)
	s.WriteFlag(ExecMountPts, ns.MountPts)
	s.WriteFlag(ExecBindMountPts, ns.BindMountPts)
	s.WriteOptional(ExecPivotRoot, ns.PivotRoot)
	if ns.MountHome != "" {
		s.WriteCommand(ExecMountHome)
		s.WriteString(ns.MountHome)
		s.WriteString(ns.Home)
	}
	if ns.MountTmpTmpfs {
		s.WriteCommand(ExecMountTmpTmpfs)
		s.WriteString(ns.TmpTmpfsOptions)
	}
	s.WriteOptional(ExecMountTmpfs, ns.MountTmpfs)
	for _, m := range ns.BindMounts {
		s.WriteCommand(ExecBindMount)
		s.WriteString(m.Source)
		s.WriteString(m.Target)
		s.WriteBool(m.Writable)
		s.WriteBool(m.Exec)
	}
	s.WriteOptional(ExecHostname, ns.Hostname)

	for _, r := range c.RLimits.PrepareRLimit() {
		s.WriteCommand(ExecRLimit)
		s.WriteByte(byte(r.Res))
		s.WriteRlimit(r.Rlim)
	}

	if !c.UidGid.IsEmpty() {
		if len(c.UidGid.Groups) > types.MaxGroups {
			return nil, nil, errors.Errorf("%d supplementary groups", len(c.UidGid.Groups))
		}
		s.WriteCommand(ExecUidGid)
		s.WriteUint32(c.UidGid.Uid)
		s.WriteUint32(c.UidGid.Gid)
		s.WriteByte(byte(len(c.UidGid.Groups)))
		for _, g := range c.UidGid.Groups {
			s.WriteUint32(g)
		}
	}

	s.WriteFlag(ExecSchedIdle, c.SchedIdle)
	s.WriteFlag(ExecIOPrioIdle, c.IOPrioIdle)
	s.WriteFlag(ExecForbidUserNS, c.ForbidUserNS)
	s.WriteFlag(ExecForbidMulticast, c.ForbidMulticast)
	s.WriteFlag(ExecForbidBind, c.ForbidBind)
	s.WriteFlag(ExecNoNewPrivs, c.NoNewPrivs)

	for _, set := range c.Cgroup.Settings {
		s.WriteCommand(ExecCgroupSet)
		s.WriteString(set.Key)
		s.WriteString(set.Value)
	}
	s.WriteOptional(ExecCgroup, c.Cgroup.Name)

	if c.Priority != 0 {
		s.WriteCommand(ExecPriority)
		s.WriteInt32(int32(c.Priority))
	}
	s.WriteOptional(ExecChroot, c.Chroot)
	s.WriteOptional(ExecChdir, c.Chdir)
	s.WriteOptional(ExecHookInfo, c.HookInfo)

	return s.Finish()
}
