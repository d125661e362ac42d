//go:build linux || darwin || freebsd
// +build linux darwin freebsd

package server

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/fzft/go-fdwatch/log"
	"github.com/fzft/go-fdwatch/reactor"
	"github.com/fzft/go-fdwatch/watch"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Server is a TCP server whose listener and connections are all handlers on one
// reactor. Start, Close and every callback run on the reactor's loop goroutine.
type Server struct {
	addr     string
	reactor  *reactor.Reactor
	reg      *watch.Registry
	handler  ReaderHandler
	logger   *zap.Logger
	maxConns int
	backoff  time.Duration

	lnFile *os.File
	ln     *listener
	conns  map[int]*conn
}

type Option func(*Server)

func WithHandler(h ReaderHandler) Option {
	return func(s *Server) {
		s.handler = h
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMaxConns caps concurrent connections; extra ones are accepted and closed
// straight away. Zero means no cap.
func WithMaxConns(n int) Option {
	return func(s *Server) {
		s.maxConns = n
	}
}

// DefaultAcceptBackoff is how long accepts pause after accept itself fails.
const DefaultAcceptBackoff = 100 * time.Millisecond

// WithAcceptBackoff sets how long the listener stops accepting after a failed
// accept, e.g. when the process is out of descriptors.
func WithAcceptBackoff(d time.Duration) Option {
	return func(s *Server) {
		s.backoff = d
	}
}

func New(addr string, r *reactor.Reactor, opts ...Option) *Server {
	s := &Server{
		addr:    addr,
		reactor: r,
		reg:     r.Registry(),
		handler: DefaultHandler{},
		logger:  log.Logger,
		backoff: DefaultAcceptBackoff,
		conns:   make(map[int]*conn),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start opens the listening socket and declares read interest on it. It must run
// on the reactor loop, e.g. through reactor.DoWait.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.logger.Error("listen error", zap.Error(err))
		return err
	}
	tcp, ok := ln.(*net.TCPListener)
	if !ok {
		_ = ln.Close()
		return fmt.Errorf("server: %s is not a TCP address", s.addr)
	}
	f, err := tcp.File()
	s.addr = ln.Addr().String()
	// the duplicate in f keeps the socket open
	_ = ln.Close()
	if err != nil {
		s.logger.Error("failed to get listener fd", zap.Error(err))
		return err
	}

	fd := int(f.Fd())
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = f.Close()
		return os.NewSyscallError("setnonblock", err)
	}

	s.lnFile = f
	s.ln = &listener{fd: fd, srv: s}
	s.reg.Register(s.ln)
	if err := s.reg.ReadInterestIs(s.ln, fd, true); err != nil {
		_ = s.reg.Unregister(s.ln)
		_ = f.Close()
		s.ln, s.lnFile = nil, nil
		return err
	}

	s.logger.Info("listening", zap.String("addr", s.addr), zap.Int("fd", fd))
	return nil
}

// Addr returns the bound address once Start has succeeded.
func (s *Server) Addr() string {
	return s.addr
}

// Conns returns the number of open connections.
func (s *Server) Conns() int {
	return len(s.conns)
}

// Close order: listener, connections. Like Start it must run on the reactor loop.
func (s *Server) Close() error {
	var errs error
	if s.ln != nil {
		errs = multierr.Append(errs, s.reg.Unregister(s.ln))
		errs = multierr.Append(errs, s.lnFile.Close())
		s.ln, s.lnFile = nil, nil
	}
	for _, c := range s.conns {
		errs = multierr.Append(errs, c.Close())
	}
	s.logger.Info("server closed", zap.String("addr", s.addr))
	return errs
}

// listener accepts connections whenever the listening socket is readable.
type listener struct {
	fd     int
	srv    *Server
	paused bool
}

func (l *listener) OnReadable(fd int) {
	for {
		done, err := l.srv.accept(fd)
		var se *os.SyscallError
		if errors.As(err, &se) && se.Syscall == "accept" {
			l.srv.pauseAccept(l, err)
			return
		}
		if err != nil {
			l.srv.logger.Error("accept error", zap.Error(err))
			return
		}
		if done {
			return
		}
	}
}

func (l *listener) OnWritable(int) {}

func (l *listener) OnException(fd int) {
	l.srv.logger.Warn("exceptional condition on listener", zap.Int("fd", fd))
}

// pauseAccept withdraws read interest from the listener for the backoff period.
// A socket whose accept keeps failing, e.g. with EMFILE, stays readable and would
// otherwise be dispatched on every pass of the loop.
func (s *Server) pauseAccept(l *listener, cause error) {
	if l.paused {
		return
	}
	s.logger.Error("accept error, pausing accepts", zap.Error(cause), zap.Duration("backoff", s.backoff))
	if err := s.reg.ReadInterestIs(l, l.fd, false); err != nil {
		s.logger.Error("failed to pause accepts", zap.Error(err))
		return
	}
	l.paused = true

	time.AfterFunc(s.backoff, func() {
		err := s.reactor.Do(func() { s.resumeAccept(l) })
		if err != nil && !errors.Is(err, reactor.ErrStopped) {
			s.logger.Warn("failed to schedule accept resume", zap.Error(err))
		}
	})
}

func (s *Server) resumeAccept(l *listener) {
	// closed while paused
	if s.ln != l || !l.paused {
		return
	}
	l.paused = false
	if err := s.reg.ReadInterestIs(l, l.fd, true); err != nil {
		s.logger.Error("failed to resume accepts", zap.Error(err))
		return
	}
	s.logger.Info("accepts resumed", zap.String("addr", s.addr))
}

// accept takes one pending connection. done reports that none are left.
func (s *Server) accept(fd int) (done bool, err error) {
	connFd, sa, err := unix.Accept(fd)
	if err != nil {
		// no more connections to accept right now
		if isTemporary(err) || err == unix.ECONNABORTED {
			return true, nil
		}
		return true, os.NewSyscallError("accept", err)
	}
	unix.CloseOnExec(connFd)

	if s.maxConns > 0 && len(s.conns) >= s.maxConns {
		s.logger.Warn("too many connections, rejecting", zap.Int("max", s.maxConns))
		_ = unix.Close(connFd)
		return false, nil
	}

	// set the socket to non-blocking mode
	if err := unix.SetNonblock(connFd, true); err != nil {
		_ = unix.Close(connFd)
		return false, fmt.Errorf("set nonblock error for fd %d: %w", connFd, err)
	}

	c := &conn{fd: connFd, ip: sockaddrIP(sa), srv: s}
	s.reg.Register(c)
	if err := s.reg.ReadInterestIs(c, connFd, true); err != nil {
		_ = s.reg.Unregister(c)
		_ = unix.Close(connFd)
		return false, fmt.Errorf("register read error for fd %d: %w", connFd, err)
	}
	s.conns[connFd] = c

	s.logger.Debug("new connection", zap.Int("fd", connFd), zap.String("ip", c.ip))
	return false, nil
}

func sockaddrIP(sa unix.Sockaddr) string {
	switch addr := sa.(type) {
	case *unix.SockaddrInet4:
		return net.IP(addr.Addr[:]).String()
	case *unix.SockaddrInet6:
		return net.IP(addr.Addr[:]).String()
	}
	return ""
}
