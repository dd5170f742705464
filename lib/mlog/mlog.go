/*package mlog provides the module-tagged loggers used by the mesh and adapt
control code. It is a thin wrapper around log/slog: each subsystem asks for a
logger tagged with its module name once and keeps it.
*/
package mlog

import (
	"io"
	"log/slog"
	"os"
	"sync/atomic"
)

// Module tags used across the repository.
const (
	MeshModule  = "mesh_mod"
	AdaptModule = "adapt_mod"
	SimModule   = "sim_mod"
)

var root atomic.Value

func init() {
	root.Store(newRoot(os.Stderr, slog.LevelWarn))
}

func newRoot(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// SetOutput redirects all module loggers to w at the given verbosity. Call it
// once at startup, before any block handlers run.
func SetOutput(w io.Writer, level slog.Level) {
	root.Store(newRoot(w, level))
}

// Module returns a logger tagged with the given module name.
func Module(tag string) *slog.Logger {
	return root.Load().(*slog.Logger).With("module", tag)
}
