//go:build linux || darwin || freebsd
// +build linux darwin freebsd

package server

import (
	"bytes"
	"errors"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const readBufferSize = 4096

// conn is a client connection. It is a watch.Handler: the server keeps read
// interest on it for its whole life and write interest only while output is
// buffered.
type conn struct {
	fd        int
	ip        string
	srv       *Server
	outBuffer bytes.Buffer
	closed    bool
}

func (c *conn) OnReadable(fd int) {
	data, eof, err := c.read()
	if len(data) > 0 {
		if err := c.srv.handler.Read(c, data); err != nil {
			c.srv.logger.Warn("handler error", zap.Int("fd", fd), zap.Error(err))
			c.closeLogged()
			return
		}
	}
	if err != nil {
		c.srv.logger.Debug("read error", zap.Int("fd", fd), zap.Error(err))
		c.closeLogged()
		return
	}
	if eof {
		c.srv.logger.Debug("peer closed", zap.Int("fd", fd), zap.String("ip", c.ip))
		c.closeLogged()
	}
}

// read drains the socket until it would block.
func (c *conn) read() (data []byte, eof bool, err error) {
	var buf bytes.Buffer
	readBuffer := make([]byte, readBufferSize)

	for {
		n, err := unix.Read(c.fd, readBuffer)
		if n > 0 {
			buf.Write(readBuffer[:n])
			continue
		}
		if err != nil {
			if isTemporary(err) {
				return buf.Bytes(), false, nil
			}
			return buf.Bytes(), false, err
		}
		// n == 0 and no error
		return buf.Bytes(), true, nil
	}
}

func (c *conn) OnWritable(fd int) {
	if err := c.flush(); err != nil {
		c.srv.logger.Warn("write error", zap.Int("fd", fd), zap.Error(err))
		c.closeLogged()
	}
}

func (c *conn) OnException(fd int) {
	c.srv.logger.Warn("exceptional condition on connection", zap.Int("fd", fd))
	c.closeLogged()
}

func (c *conn) Write(data []byte) error {
	if c.closed {
		return errClosedConn
	}
	// earlier output still pending: keep ordering, the writable callback flushes
	if c.outBuffer.Len() > 0 {
		c.outBuffer.Write(data)
		return nil
	}
	c.outBuffer.Write(data)
	return c.flush()
}

// flush writes buffered output and keeps write interest exactly while some of it
// remains.
func (c *conn) flush() error {
	for c.outBuffer.Len() > 0 {
		n, err := unix.Write(c.fd, c.outBuffer.Bytes())
		if n > 0 {
			c.outBuffer.Next(n)
		}
		if err != nil {
			if isTemporary(err) {
				break
			}
			return fmt.Errorf("write error for fd %d: %w", c.fd, err)
		}
	}
	return c.srv.reg.WriteInterestIs(c, c.fd, c.outBuffer.Len() > 0)
}

func (c *conn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	delete(c.srv.conns, c.fd)

	err := c.srv.reg.Unregister(c)
	return multierr.Append(err, unix.Close(c.fd))
}

func (c *conn) closeLogged() {
	if err := c.Close(); err != nil {
		c.srv.logger.Warn("failed to close connection", zap.Int("fd", c.fd), zap.Error(err))
	}
}

func (c *conn) Fd() int {
	return c.fd
}

func (c *conn) Ip() string {
	return c.ip
}

var errClosedConn = errors.New("server: connection closed")

// isTemporary checks if the error is temporary, e.g., EAGAIN or EWOULDBLOCK.
func isTemporary(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EINTR)
}
