package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultRuntimeDir is the production runtime root.
const DefaultRuntimeDir = "/run/saiagent"

// maxSocketPath is the usable length of sockaddr_un.sun_path on Linux.
const maxSocketPath = 107

// RuntimeDirs lays out the paths an agent owns under one root:
//
//	{base}/.lock              agent lock
//	{base}/db/state.db        persisted switch state
//	{base}-sock/saiagent.sock diagnostics socket
//
// The socket lives beside the root, not under it, so it can be bind
// mounted into a container without exposing the database. Build one
// with NewRuntimeDirs.
type RuntimeDirs struct {
	base string
}

// DefaultRuntimeDirs returns the layout rooted at DefaultRuntimeDir.
func DefaultRuntimeDirs() RuntimeDirs {
	return RuntimeDirs{base: DefaultRuntimeDir}
}

// NewRuntimeDirs returns the layout rooted at base, which must be an
// absolute path short enough that the socket path fits in a unix
// socket address.
func NewRuntimeDirs(base string) (RuntimeDirs, error) {
	if base == "" {
		return RuntimeDirs{}, errors.New("runtime dir is empty")
	}
	if !filepath.IsAbs(base) {
		return RuntimeDirs{}, fmt.Errorf("runtime dir %q is not absolute", base)
	}
	d := RuntimeDirs{base: filepath.Clean(base)}
	if n := len(d.SocketPath()); n > maxSocketPath {
		return RuntimeDirs{}, fmt.Errorf("runtime dir %q: socket path is %d bytes, limit %d", base, n, maxSocketPath)
	}
	return d, nil
}

func (d RuntimeDirs) Base() string       { return d.base }
func (d RuntimeDirs) DB() string         { return filepath.Join(d.base, "db") }
func (d RuntimeDirs) DBPath() string     { return filepath.Join(d.DB(), "state.db") }
func (d RuntimeDirs) Sock() string       { return d.base + "-sock" }
func (d RuntimeDirs) SocketPath() string { return filepath.Join(d.Sock(), "saiagent.sock") }
func (d RuntimeDirs) Lock() string       { return filepath.Join(d.base, ".lock") }

// EnsureDirectories creates the root, database and socket directories.
func (d RuntimeDirs) EnsureDirectories() error {
	for _, dir := range []string{d.base, d.DB(), d.Sock()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}
