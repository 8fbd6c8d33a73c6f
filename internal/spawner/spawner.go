// Package spawner starts, polls, and stops single-user backend processes.
package spawner

import (
	"context"

	"github.com/gautam20feb/jupyterhub/internal/user"
)

// Info describes a successfully started backend.
type Info struct {
	// Addr is the host:port the backend listens on.
	Addr string
}

// StartOptions carries hub configuration down to the backend process.
type StartOptions struct {
	// HubBaseURL is the hub's path prefix, passed so the backend can
	// compute its own base path.
	HubBaseURL string
	// Environ is extra environment for the backend process.
	Environ []string
}

// Spawner drives one user's backend process. Implementations are not
// required to be safe for concurrent use; the lifecycle orchestrator
// serializes calls per user.
type Spawner interface {
	// Start launches the backend and returns once it is accepting
	// connections, or fails.
	Start(ctx context.Context, opts StartOptions) (Info, error)
	// Poll returns the exit status if the process has exited, or nil while
	// it is still running.
	Poll(ctx context.Context) (*int, error)
	// Stop terminates the backend. Stopping suppresses the exit callback.
	Stop(ctx context.Context) error
	// OnExit registers a callback fired at most once, only when the process
	// exits without Stop having been requested. Registering after an
	// unsolicited exit fires the callback immediately.
	OnExit(fn func(exitCode int))
}

// Factory creates a spawner bound to one user.
type Factory func(u user.User) Spawner
