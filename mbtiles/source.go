package mbtiles

import (
	"errors"
	"fmt"

	"zombiezen.com/go/sqlite"
)

// Source names a tile store either by its file path or by a connection the
// caller already holds. Operations given a path open the file and close it
// before returning; operations given a connection use it and leave it open.
type Source struct {
	path string
	conn *sqlite.Conn
}

// FromPath returns a Source opened on demand from a file.
func FromPath(path string) Source {
	return Source{path: path}
}

// FromConn returns a Source backed by an open connection.
func FromConn(conn *sqlite.Conn) Source {
	return Source{conn: conn}
}

// Path returns the file path, or "" for a connection-backed Source.
func (s Source) Path() string {
	return s.path
}

func (s Source) String() string {
	if s.conn != nil {
		return "<open connection>"
	}
	return s.path
}

type accessMode int

const (
	readOnly accessMode = iota
	readWrite
	readWriteCreate
)

func (m accessMode) flags() sqlite.OpenFlags {
	switch m {
	case readWrite:
		return sqlite.OpenReadWrite
	case readWriteCreate:
		return sqlite.OpenReadWrite | sqlite.OpenCreate
	}
	return sqlite.OpenReadOnly
}

func openConn(path string, mode accessMode) (*sqlite.Conn, error) {
	if path == "" {
		return nil, errors.New("empty tile store path")
	}
	conn, err := sqlite.OpenConn(path, mode.flags())
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return conn, nil
}

// with runs fn on a connection to the store, opening and closing one when
// the Source is a path.
func (s Source) with(mode accessMode, fn func(conn *sqlite.Conn) error) (err error) {
	if s.conn != nil {
		return fn(s.conn)
	}
	conn, err := openConn(s.path, mode)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := conn.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close %s: %w", s.path, closeErr)
		}
	}()
	return fn(conn)
}
