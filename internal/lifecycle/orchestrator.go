// Package lifecycle drives each user's backend through its state machine:
// Stopped → Spawning → Running → Stopping → Stopped, with an off-path crash
// detected by a watchdog callback.
package lifecycle

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/gautam20feb/jupyterhub/internal/platform/errors"
	"github.com/gautam20feb/jupyterhub/internal/spawner"
	"github.com/gautam20feb/jupyterhub/internal/storage"
	"github.com/gautam20feb/jupyterhub/internal/telemetry"
	"github.com/gautam20feb/jupyterhub/internal/user"
)

// Proxy is the routing collaborator consumed by the orchestrator.
type Proxy interface {
	AddRoute(ctx context.Context, u user.User) error
	DeleteRoute(ctx context.Context, u user.User) error
}

// State is a user's backend lifecycle state.
type State int

const (
	StateStopped State = iota
	StateSpawning
	StateRunning
	StateStopping
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateSpawning:
		return "spawning"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "stopped"
	}
}

// record tracks one user's lifecycle. Its mutex serializes every lifecycle
// mutation for that user, so a watchdog fire and a request-driven spawn can
// never interleave.
type record struct {
	mu      sync.Mutex
	state   State
	spawner spawner.Spawner
	server  *user.Server
}

// Orchestrator owns backend lifecycles for all hub users.
type Orchestrator struct {
	users      storage.UserStore
	proxy      Proxy
	factory    spawner.Factory
	telemetry  *telemetry.Emitter
	hubBaseURL string
	environ    []string

	mu      sync.Mutex
	records map[string]*record
}

// New creates an orchestrator.
func New(users storage.UserStore, proxy Proxy, factory spawner.Factory, emitter *telemetry.Emitter, hubBaseURL string) *Orchestrator {
	return &Orchestrator{
		users:      users,
		proxy:      proxy,
		factory:    factory,
		telemetry:  emitter,
		hubBaseURL: hubBaseURL,
		records:    make(map[string]*record),
	}
}

// SetEnviron sets extra environment passed to spawned backends.
func (o *Orchestrator) SetEnviron(environ []string) {
	o.environ = environ
}

func (o *Orchestrator) recordFor(name string) *record {
	o.mu.Lock()
	defer o.mu.Unlock()
	rec, ok := o.records[name]
	if !ok {
		rec = &record{}
		o.records[name] = rec
	}
	return rec
}

// Status returns the user's current lifecycle state.
func (o *Orchestrator) Status(name string) State {
	rec := o.recordFor(name)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.state
}

// EnsureRunning makes sure the user's backend is alive, spawning it when
// needed. Concurrent calls for the same user serialize on the user's record,
// so at most one spawn is in flight and later callers observe the running
// backend instead of spawning a second one.
//
// The user's Server field is updated in place on spawn.
func (o *Orchestrator) EnsureRunning(ctx context.Context, u *user.User) error {
	rec := o.recordFor(u.Name)
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.spawner != nil {
		status, err := rec.spawner.Poll(ctx)
		if err != nil {
			return fmt.Errorf("poll backend for %s: %w", u.Name, err)
		}
		if status == nil {
			// A caller that loaded its user before a concurrent spawn
			// persisted the record still needs the live descriptor.
			u.Server = rec.server
			return nil
		}
		// The record was stale: the process exited without the watchdog
		// having cleaned up yet. Re-spawn.
		log.Printf("backend for %s found dead with exit code %d, respawning", u.Name, *status)
		rec.spawner = nil
		rec.server = nil
		rec.state = StateStopped
	}

	return o.spawnLocked(ctx, rec, u)
}

// spawnLocked runs the Stopped → Spawning → Running transition. The route is
// registered only after the spawner confirms the process started, and the
// watchdog is installed before the state becomes Running.
func (o *Orchestrator) spawnLocked(ctx context.Context, rec *record, u *user.User) error {
	rec.state = StateSpawning

	sp := o.factory(*u)
	info, err := sp.Start(ctx, spawner.StartOptions{
		HubBaseURL: o.hubBaseURL,
		Environ:    o.environ,
	})
	if err != nil {
		rec.state = StateStopped
		return &errors.Error{
			Code:    errors.CodeUnavailable,
			Reason:  "Failed to start your server",
			Message: fmt.Sprintf("spawn backend for %s", u.Name),
			Cause:   err,
		}
	}

	srv := user.BackendServer(o.hubBaseURL, u.Name, info.Addr)
	u.Server = srv
	if err := o.users.SetUserServer(ctx, u.Name, srv); err != nil {
		u.Server = nil
		rec.state = StateStopped
		o.stopAbandoned(sp, u.Name)
		return fmt.Errorf("record backend for %s: %w", u.Name, err)
	}

	if err := o.proxy.AddRoute(ctx, *u); err != nil {
		u.Server = nil
		rec.state = StateStopped
		o.stopAbandoned(sp, u.Name)
		if clearErr := o.users.SetUserServer(ctx, u.Name, nil); clearErr != nil {
			log.Printf("clear backend record for %s: %v", u.Name, clearErr)
		}
		return &errors.Error{
			Code:    errors.CodeUnavailable,
			Reason:  "Failed to register your server with the proxy",
			Message: fmt.Sprintf("add route for %s", u.Name),
			Cause:   err,
		}
	}

	rec.spawner = sp
	rec.server = srv
	rec.state = StateRunning

	// The callback fires inline when the process has already exited, and
	// unexpectedStop takes the record mutex this path holds, so the watchdog
	// is dispatched on its own goroutine. The handle is installed above so
	// an immediate fire resolves against the current spawner.
	sp.OnExit(func(exitCode int) {
		go o.unexpectedStop(u.Name, sp, exitCode)
	})

	if err := o.telemetry.Emit(ctx, storage.TelemetryEvent{
		Kind:     telemetry.KindServerSpawn,
		UserName: u.Name,
		Detail:   info.Addr,
	}); err != nil {
		log.Printf("emit spawn telemetry for %s: %v", u.Name, err)
	}
	return nil
}

// stopAbandoned kills a process whose spawn could not be completed.
func (o *Orchestrator) stopAbandoned(sp spawner.Spawner, name string) {
	if err := sp.Stop(context.Background()); err != nil {
		log.Printf("stop abandoned backend for %s: %v", name, err)
	}
}

// unexpectedStop is the watchdog path: the spawner noticed the process exit
// without a stop having been requested. It runs under the user's record
// mutex, so it cannot interleave with EnsureRunning or Stop, and it ignores
// stale fires for a spawner that has already been replaced.
func (o *Orchestrator) unexpectedStop(name string, sp spawner.Spawner, exitCode int) {
	rec := o.recordFor(name)
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.spawner != sp {
		return
	}

	log.Printf("user %s server stopped, with exit code: %d", name, exitCode)

	ctx := context.Background()
	u, err := o.users.GetUser(ctx, name)
	if err != nil {
		log.Printf("load user %s during crash cleanup: %v", name, err)
		u = user.User{Name: name}
	}
	if err := o.proxy.DeleteRoute(ctx, u); err != nil {
		log.Printf("delete route for %s after crash: %v", name, err)
	}

	rec.spawner = nil
	rec.server = nil
	rec.state = StateStopped
	if err := o.users.SetUserServer(ctx, name, nil); err != nil {
		log.Printf("clear backend record for %s after crash: %v", name, err)
	}

	if err := o.telemetry.Emit(ctx, storage.TelemetryEvent{
		Kind:     telemetry.KindServerCrash,
		UserName: name,
		Detail:   fmt.Sprintf("exit code %d", exitCode),
	}); err != nil {
		log.Printf("emit crash telemetry for %s: %v", name, err)
	}
}

// Stop tears down the user's backend: the route is removed first so no new
// request can be routed to a process that is being killed, then the process
// is stopped, then the server record is cleared.
func (o *Orchestrator) Stop(ctx context.Context, u *user.User) error {
	rec := o.recordFor(u.Name)
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.spawner == nil {
		return nil
	}
	rec.state = StateStopping

	if err := o.proxy.DeleteRoute(ctx, *u); err != nil {
		rec.state = StateRunning
		return fmt.Errorf("delete route for %s: %w", u.Name, err)
	}
	if err := rec.spawner.Stop(ctx); err != nil {
		return fmt.Errorf("stop backend for %s: %w", u.Name, err)
	}

	rec.spawner = nil
	rec.server = nil
	rec.state = StateStopped
	u.Server = nil
	if err := o.users.SetUserServer(ctx, u.Name, nil); err != nil {
		return fmt.Errorf("clear backend record for %s: %w", u.Name, err)
	}

	if err := o.telemetry.Emit(ctx, storage.TelemetryEvent{
		Kind:     telemetry.KindServerStop,
		UserName: u.Name,
	}); err != nil {
		log.Printf("emit stop telemetry for %s: %v", u.Name, err)
	}
	return nil
}
