// Package unixsocket provides wrapper for Linux unix socket to send and recv oob messages
// including fd and user credential.
package unixsocket

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// oob size enough for 32 fds and a credential
const oobSize = 4 << 10 // 4kb

// ErrTimeout is returned when the socket did not become writable in time
var ErrTimeout = errors.New("unixsocket: wait for writable timed out")

// Socket wrappers a unix socket connection
type Socket struct {
	*net.UnixConn
	sendBuff []byte
	recvBuff []byte
}

// Msg is the oob msg with the message
type Msg struct {
	Fds  []int          // unix rights
	Cred *syscall.Ucred // unix credential

	// Truncated reports MSG_TRUNC or MSG_CTRUNC on receive
	Truncated bool
}

func newSocket(conn *net.UnixConn) *Socket {
	return &Socket{
		UnixConn: conn,
		sendBuff: make([]byte, oobSize),
		recvBuff: make([]byte, oobSize),
	}
}

// NewSocket creates Socket conn struct using existing unix socket fd
// creates by socketpair or net.DialUnix and mark it as close_on_exec (avoid fd leak)
// it need SOCK_SEQPACKET socket for reliable transfer
// the original fd is closed, the Socket holds a duplicate
func NewSocket(fd int) (*Socket, error) {
	if fd < 0 {
		return nil, fmt.Errorf("NewSocket: %d is not a valid fd", fd)
	}
	syscall.SetNonblock(fd, true)
	syscall.CloseOnExec(fd)

	file := os.NewFile(uintptr(fd), "unix-socket")
	if file == nil {
		return nil, fmt.Errorf("NewSocket: %d is not a valid fd", fd)
	}
	return NewSocketFromFile(file)
}

// NewSocketFromFile creates Socket from a file received from another process,
// file is closed
func NewSocketFromFile(file *os.File) (*Socket, error) {
	defer file.Close()

	conn, err := net.FileConn(file)
	if err != nil {
		return nil, err
	}

	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("NewSocket: %s is not a valid unix socket connection", file.Name())
	}
	return newSocket(unixConn), nil
}

// NewSocketPair creates connected unix socketpair using SOCK_SEQPACKET
func NewSocketPair() (*Socket, *Socket, error) {
	fd, err := syscall.Socketpair(syscall.AF_LOCAL, syscall.SOCK_SEQPACKET|syscall.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("NewSocketPair: failed to call socketpair %v", err)
	}

	ins, err := NewSocket(fd[0])
	if err != nil {
		syscall.Close(fd[0])
		syscall.Close(fd[1])
		return nil, nil, fmt.Errorf("NewSocketPair: failed to call NewSocket on sender %v", err)
	}

	outs, err := NewSocket(fd[1])
	if err != nil {
		ins.Close()
		syscall.Close(fd[1])
		return nil, nil, fmt.Errorf("NewSocketPair: failed to call NewSocket receiver %v", err)
	}

	return ins, outs, nil
}

// SetPassCred set sockopt for pass cred for unix socket
func (s *Socket) SetPassCred(option int) error {
	sysconn, err := s.SyscallConn()
	if err != nil {
		return err
	}
	return sysconn.Control(func(fd uintptr) {
		syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_PASSCRED, option)
	})
}

func (s *Socket) encodeOob(m Msg) []byte {
	oob := bytes.NewBuffer(s.sendBuff[:0])
	if len(m.Fds) > 0 {
		oob.Write(syscall.UnixRights(m.Fds...))
	}
	if m.Cred != nil {
		oob.Write(syscall.UnixCredentials(m.Cred))
	}
	return oob.Bytes()
}

// SendMsg sendmsg to unix socket and encode possible unix right / credential
func (s *Socket) SendMsg(b []byte, m Msg) error {
	_, _, err := s.WriteMsgUnix(b, s.encodeOob(m), nil)
	if err != nil {
		return err
	}
	return nil
}

// SendMsgNonblock calls sendmsg once with MSG_DONTWAIT, it returns
// syscall.EAGAIN if the send buffer is full
func (s *Socket) SendMsgNonblock(b []byte, m Msg) error {
	sysconn, err := s.SyscallConn()
	if err != nil {
		return err
	}
	oob := s.encodeOob(m)
	var serr error
	err = sysconn.Write(func(fd uintptr) bool {
		serr = unix.Sendmsg(int(fd), b, oob, nil, unix.MSG_DONTWAIT|unix.MSG_NOSIGNAL)
		for serr == unix.EINTR {
			serr = unix.Sendmsg(int(fd), b, oob, nil, unix.MSG_DONTWAIT|unix.MSG_NOSIGNAL)
		}
		return true
	})
	if err != nil {
		return err
	}
	return serr
}

// WaitWritable blocks the calling thread in ppoll until the socket is
// writable or timeout passed. Every signal is blocked during the wait.
func (s *Socket) WaitWritable(timeout time.Duration) error {
	sysconn, err := s.SyscallConn()
	if err != nil {
		return err
	}
	var (
		n    int
		perr error
	)
	err = sysconn.Control(func(fd uintptr) {
		var mask unix.Sigset_t
		for i := range mask.Val {
			mask.Val[i] = ^mask.Val[i]
		}
		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
		ts := unix.NsecToTimespec(int64(timeout))
		n, perr = unix.Ppoll(fds, &ts, &mask)
	})
	if err != nil {
		return err
	}
	if perr != nil {
		return perr
	}
	if n == 0 {
		return ErrTimeout
	}
	return nil
}

// RecvMsg recvmsg from unix socket and parse possible unix right / credential
func (s *Socket) RecvMsg(b []byte) (int, Msg, error) {
	var msg Msg
	n, oobn, flags, _, err := s.ReadMsgUnix(b, s.recvBuff)
	if err != nil {
		return 0, msg, err
	}
	// parse oob msg
	msgs, err := syscall.ParseSocketControlMessage(s.recvBuff[:oobn])
	if err != nil {
		return 0, msg, err
	}
	msg, err = parseMsg(msgs)
	if err != nil {
		return 0, msg, err
	}
	msg.Truncated = flags&(syscall.MSG_TRUNC|syscall.MSG_CTRUNC) != 0
	return n, msg, nil
}

func parseMsg(msgs []syscall.SocketControlMessage) (msg Msg, err error) {
	defer func() {
		if err != nil {
			for _, f := range msg.Fds {
				syscall.Close(f)
			}
			msg.Fds = nil
		}
	}()
	for _, m := range msgs {
		if m.Header.Level != syscall.SOL_SOCKET {
			continue
		}

		switch m.Header.Type {
		case syscall.SCM_CREDENTIALS:
			cred, err := syscall.ParseUnixCredentials(&m)
			if err != nil {
				return msg, err
			}
			msg.Cred = cred

		case syscall.SCM_RIGHTS:
			fds, err := syscall.ParseUnixRights(&m)
			if err != nil {
				return msg, err
			}
			msg.Fds = append(msg.Fds, fds...)
		}
	}
	return msg, nil
}
