package server

import (
	"github.com/fzft/go-fdwatch/log"
	"go.uber.org/zap"
)

// Conn is the connection a ReaderHandler sees.
type Conn interface {
	// Write queues data and flushes as much of it as the socket takes.
	Write(data []byte) error

	// Close unregisters and closes the connection.
	Close() error

	Fd() int
	Ip() string
}

// ReaderHandler defines an interface for custom read logic.
type ReaderHandler interface {
	Read(conn Conn, data []byte) error
}

// ReaderFunc adapts a function to ReaderHandler.
type ReaderFunc func(conn Conn, data []byte) error

func (f ReaderFunc) Read(conn Conn, data []byte) error {
	return f(conn, data)
}

// DefaultHandler echoes whatever it reads.
type DefaultHandler struct{}

func (DefaultHandler) Read(conn Conn, data []byte) error {
	log.Logger.Debug("read data", zap.Int("fd", conn.Fd()), zap.ByteString("data", data))
	return conn.Write(data)
}
