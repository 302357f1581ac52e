package dirfile

import "errors"

var (
	// ErrNotFound is returned when opening a path with no container.
	ErrNotFound = errors.New("directory file not found")
	// ErrExists is returned when creating over an existing path.
	ErrExists = errors.New("directory file already exists")
	// ErrCorrupt is returned when an offset or record block cannot be
	// parsed.
	ErrCorrupt = errors.New("corrupt directory file")
	// ErrReadOnly is returned by mutators on a read-only session.
	ErrReadOnly = errors.New("session is read-only")
	// ErrBusy is returned when another process holds the writer lock.
	ErrBusy = errors.New("directory file locked by another writer")
)
