//go:build windows

package protocol

import "os"

// SocketEnvVar overrides the default endpoint path when set.
const SocketEnvVar = "BEACON_SOCKET"

// ResolveSocketPath picks the control endpoint. On Windows the daemon uses
// the named-pipe namespace.
func ResolveSocketPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if env := os.Getenv(SocketEnvVar); env != "" {
		return env
	}
	return `\\.\pipe\beacon-daemon`
}
