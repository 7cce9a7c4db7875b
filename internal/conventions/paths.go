package conventions

import "path/filepath"

const (
	// DefaultDataDir is the default taskd data directory name (relative to home).
	DefaultDataDir = ".taskd"
	// TmpDir is the subdirectory where the workers read and write their files.
	TmpDir = "tmp"

	// DefaultAddress is the default address of the task service.
	DefaultAddress = "127.0.0.1:8090"
	// WebSocketPath is the HTTP path of the client websocket.
	WebSocketPath = "/ws"
)

// TempDir returns the worker files directory inside a data directory.
func TempDir(dataDir string) string {
	return filepath.Join(dataDir, TmpDir)
}
