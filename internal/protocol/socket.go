//go:build !windows

package protocol

import (
	"os"
	"path/filepath"
)

// SocketEnvVar overrides the default socket path when set.
const SocketEnvVar = "BEACON_SOCKET"

const socketFilename = "beacon-daemon.sock"

// ResolveSocketPath picks the control socket path. Precedence: the explicit
// value (from --socket), then BEACON_SOCKET, then XDG_RUNTIME_DIR, then /tmp.
func ResolveSocketPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if env := os.Getenv(SocketEnvVar); env != "" {
		return env
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, socketFilename)
	}
	return filepath.Join("/tmp", socketFilename)
}
