package server

import (
	"io"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/criyle/go-spawn/pkg/unixsocket"
	"github.com/criyle/go-spawn/protocol"
	"github.com/criyle/go-spawn/types"
)

// sendTimeout bounds the wait for a full socket before EXIT is retried
const sendTimeout = 10 * time.Second

// child is a process spawned on behalf of a connection
type child struct {
	id   int32
	pid  int
	name string
}

// connection is the server side of one worker socket
type connection struct {
	id       int
	server   *Server
	socket   Socket
	logger   logrus.FieldLogger
	children map[int32]*child

	done   chan struct{}
	closed bool
}

func newConnection(s *Server, sock Socket, id int) *connection {
	return &connection{
		id:       id,
		server:   s,
		socket:   sock,
		logger:   s.logger.WithField("conn", id),
		children: make(map[int32]*child),
		done:     make(chan struct{}),
	}
}

// recvLoop reads datagrams and forwards them to the loop until the socket
// fails or the connection is torn down
func (c *connection) recvLoop(events chan<- event) {
	for {
		buf := make([]byte, protocol.MaxPayload)
		n, msg, err := c.socket.RecvMsg(buf)
		if err == nil && n == 0 {
			// zero length datagram: peer closed
			err = io.EOF
		}
		ev := event{
			conn:      c,
			buf:       buf[:n],
			fds:       msg.Fds,
			truncated: msg.Truncated,
			err:       err,
		}
		select {
		case events <- ev:
		case <-c.done:
			closeFds(msg.Fds)
			return
		}
		if err != nil {
			return
		}
	}
}

func (c *connection) handleDatagram(ev event) error {
	fds := protocol.NewFdList(ev.fds)
	defer fds.Close()

	if ev.truncated {
		return errors.Wrap(protocol.ErrMalformed, "truncated datagram")
	}
	if fds.Len() > protocol.MaxFds {
		return errors.Wrapf(protocol.ErrMalformed, "%d fds", fds.Len())
	}

	cmd, p, err := protocol.DecodeRequest(ev.buf)
	if err != nil {
		return err
	}
	switch cmd {
	case protocol.RequestConnect:
		f, err := protocol.DecodeConnect(p, fds)
		if err != nil {
			return err
		}
		sock, err := unixsocket.NewSocketFromFile(f)
		if err != nil {
			return errors.Wrapf(protocol.ErrMalformed, "CONNECT: %v", err)
		}
		c.server.AddConnection(sock)
		return nil

	case protocol.RequestExec:
		req, err := protocol.DecodeExec(p, fds)
		if err != nil {
			return err
		}
		return c.spawnChild(req)

	case protocol.RequestKill:
		id, signo, err := protocol.DecodeKill(p, fds)
		if err != nil {
			return err
		}
		c.killChild(id, syscall.Signal(signo))
		return nil
	}
	return errors.Wrapf(protocol.ErrMalformed, "unexpected command %v", cmd)
}

// spawnChild creates the child for req. Rejected or failed spawns are
// reported with an EXIT of status 255 without any child being created.
func (c *connection) spawnChild(req *protocol.ExecRequest) error {
	spec := req.Spec
	defer spec.Close()

	if _, ok := c.children[req.ID]; ok {
		return errors.Wrapf(protocol.ErrMalformed, "duplicate child id %d", req.ID)
	}
	logger := c.logger.WithFields(logrus.Fields{
		"id":   req.ID,
		"name": req.Name,
	})
	if spec.HookInfo != "" {
		logger = logger.WithField("hook_info", spec.HookInfo)
	}

	if err := c.server.verify(spec); err != nil {
		logger.WithError(err).Warn("spawn rejected")
		return c.sendExit(req.ID, types.SpawnFailed)
	}

	pid, err := c.server.opts.Spawner.Spawn(spec)
	if err != nil {
		logger.WithError(err).Warn("spawn failed")
		return c.sendExit(req.ID, types.SpawnFailed)
	}

	ch := &child{id: req.ID, pid: pid, name: req.Name}
	c.children[ch.id] = ch
	if err := c.server.registry.Add(pid, req.Name, func(ws syscall.WaitStatus) {
		c.childExited(ch, ws)
	}); err != nil {
		logger.WithError(err).Error("failed to register child")
	}
	logger.WithField("pid", pid).Debug("child spawned")
	return nil
}

func (c *connection) childExited(ch *child, ws syscall.WaitStatus) {
	delete(c.children, ch.id)
	if c.closed {
		return
	}
	if err := c.sendExit(ch.id, ws); err != nil {
		c.logger.WithError(err).Info("closing connection")
		c.teardown()
	}
}

// killChild signals the child; its exit will not be reported. Unknown ids
// are ignored.
func (c *connection) killChild(id int32, sig syscall.Signal) {
	ch, ok := c.children[id]
	if !ok {
		return
	}
	delete(c.children, id)
	c.server.registry.Kill(ch.pid, sig)
}

// sendExit reports a child status. A full socket is waited on once, then
// the send is retried once.
func (c *connection) sendExit(id int32, ws syscall.WaitStatus) error {
	return errors.Wrapf(c.send(protocol.EncodeExit(id, ws)), "send EXIT %d", id)
}

func (c *connection) send(b []byte) error {
	err := c.socket.SendMsgNonblock(b, unixsocket.Msg{})
	if errors.Is(err, syscall.EAGAIN) {
		if err = c.socket.WaitWritable(sendTimeout); err != nil {
			return err
		}
		err = c.socket.SendMsgNonblock(b, unixsocket.Msg{})
	}
	return err
}

// teardown terminates every child of the connection and removes it from the
// server
func (c *connection) teardown() {
	if c.closed {
		return
	}
	c.closed = true
	for id, ch := range c.children {
		c.server.registry.Kill(ch.pid, syscall.SIGTERM)
		delete(c.children, id)
	}
	close(c.done)
	c.socket.Close()
	c.server.RemoveConnection(c)
}

func isMalformed(err error) bool {
	return errors.Is(err, protocol.ErrMalformed)
}
