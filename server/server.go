// Package server implements the spawn server: it owns the connections to
// the workers, decodes their requests and reports child exits back.
package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/criyle/go-spawn/pkg/unixsocket"
	"github.com/criyle/go-spawn/protocol"
	"github.com/criyle/go-spawn/registry"
	"github.com/criyle/go-spawn/types"
)

// ErrPolicy is returned when a request is rejected by the uid / gid policy
var ErrPolicy = errors.New("spawn policy violation")

// Socket is the datagram transport of a connection
type Socket interface {
	RecvMsg(b []byte) (int, unixsocket.Msg, error)
	SendMsgNonblock(b []byte, m unixsocket.Msg) error
	WaitWritable(timeout time.Duration) error
	Close() error
}

// Spawner starts a child described by spec
type Spawner interface {
	Spawn(spec *types.ChildSpec) (int, error)
}

// Verifier is a hook that may accept a spec before the uid / gid policy is
// consulted. It returns true to trust the child, false to fall through.
type Verifier interface {
	Verify(spec *types.ChildSpec) (bool, error)
}

// Policy defines which identities children may run as
type Policy interface {
	// DefaultUidGid is used when a request does not name one
	DefaultUidGid() (types.UidGid, bool)
	// VerifyUidGid checks an explicitly requested identity
	VerifyUidGid(u types.UidGid) error
}

// Options configures the server
type Options struct {
	Policy   Policy
	Hook     Verifier
	Spawner  Spawner
	Registry *registry.Registry
	Logger   logrus.FieldLogger

	// Cgroups announces CGROUPS_AVAILABLE on the initial connection
	Cgroups bool

	// Ready is called once the loop is about to run
	Ready func()
}

// event is produced by the reader goroutine of a connection
type event struct {
	conn      *connection
	buf       []byte
	fds       []int
	truncated bool
	err       error
}

// Server multiplexes the connections on a single loop goroutine
type Server struct {
	opts     Options
	logger   logrus.FieldLogger
	registry *registry.Registry

	conns  map[*connection]struct{}
	events chan event
	nextID int
}

// New creates the server
func New(o Options) *Server {
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
	if o.Registry == nil {
		o.Registry = registry.New(o.Logger)
	}
	return &Server{
		opts:     o,
		logger:   o.Logger,
		registry: o.Registry,
		conns:    make(map[*connection]struct{}),
		events:   make(chan event),
	}
}

// Run serves the initial connection and every connection passed with
// CONNECT until all are closed and all children are gone, or ctx is done.
func (s *Server) Run(ctx context.Context, initial *os.File) error {
	sock, err := unixsocket.NewSocketFromFile(initial)
	if err != nil {
		return errors.Wrap(err, "initial socket")
	}

	sigCh := make(chan os.Signal, 16)
	signal.Notify(sigCh, syscall.SIGCHLD)
	defer signal.Stop(sigCh)

	return s.run(ctx, sock, sigCh)
}

func (s *Server) run(ctx context.Context, initial Socket, sigCh <-chan os.Signal) error {
	c := s.addConnection(initial)
	if s.opts.Cgroups {
		if err := c.send(protocol.EncodeCgroupsAvailable()); err != nil {
			s.logger.WithError(err).Warn("failed to announce cgroups")
		}
	}
	if s.opts.Ready != nil {
		s.opts.Ready()
	}
	return s.loop(ctx, sigCh)
}

func (s *Server) loop(ctx context.Context, sigCh <-chan os.Signal) error {
	for {
		if len(s.conns) == 0 && s.registry.IsVolatile() && s.registry.Len() == 0 {
			s.logger.Info("no connections and no children left, exiting")
			return nil
		}
		select {
		case <-ctx.Done():
			for c := range s.conns {
				c.teardown()
			}
			return ctx.Err()

		case <-sigCh:
			s.registry.Reap()

		case ev := <-s.events:
			s.handleEvent(ev)
		}
	}
}

// AddConnection registers a connection and starts reading from it
func (s *Server) AddConnection(sock Socket) {
	s.addConnection(sock)
}

func (s *Server) addConnection(sock Socket) *connection {
	s.nextID++
	c := newConnection(s, sock, s.nextID)
	s.conns[c] = struct{}{}
	s.logger.WithField("conn", c.id).Debug("connection added")
	go c.recvLoop(s.events)
	return c
}

// RemoveConnection forgets c, once no connection is left the registry is
// marked volatile so the server exits when the last child is gone
func (s *Server) RemoveConnection(c *connection) {
	delete(s.conns, c)
	if len(s.conns) == 0 {
		s.registry.SetVolatile()
	}
}

func (s *Server) handleEvent(ev event) {
	c := ev.conn
	if c.closed {
		closeFds(ev.fds)
		return
	}
	if ev.err != nil {
		c.logger.WithError(ev.err).Info("connection closed")
		c.teardown()
		return
	}
	if err := c.handleDatagram(ev); err != nil {
		if isMalformed(err) {
			c.logger.WithError(err).Debug("malformed payload")
			return
		}
		c.logger.WithError(err).Info("closing connection")
		c.teardown()
	}
}

// verify resolves the identity of spec according to the policy
func (s *Server) verify(spec *types.ChildSpec) error {
	u := &spec.UidGid
	if !u.IsEmpty() {
		if s.opts.Hook != nil {
			ok, err := s.opts.Hook.Verify(spec)
			if err != nil {
				return errors.Wrapf(ErrPolicy, "hook: %v", err)
			}
			if ok {
				return nil
			}
		}
		if s.opts.Policy == nil {
			return nil
		}
		if err := s.opts.Policy.VerifyUidGid(*u); err != nil {
			return errors.Wrapf(ErrPolicy, "%v", err)
		}
		return nil
	}

	if s.opts.Policy != nil {
		if def, ok := s.opts.Policy.DefaultUidGid(); ok {
			*u = def
			return nil
		}
	}
	return errors.Wrap(ErrPolicy, "no uid/gid specified")
}

func closeFds(fds []int) {
	for _, fd := range fds {
		syscall.Close(fd)
	}
}
