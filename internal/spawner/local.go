package spawner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/gautam20feb/jupyterhub/internal/user"
)

const defaultReadyTimeout = 30 * time.Second

// Local runs a user's backend as a child process on a loopback port.
type Local struct {
	user    user.User
	command []string

	mu            sync.Mutex
	cmd           *exec.Cmd
	addr          string
	exitCh        chan struct{}
	exitCode      int
	stopRequested bool
	onExit        func(int)
	fired         bool

	readyTimeout   time.Duration
	skipReadyCheck bool
}

// NewLocalFactory returns a Factory that launches command for each user.
// The command receives --user, --port, and --base-url flags.
func NewLocalFactory(command []string) Factory {
	return func(u user.User) Spawner {
		return &Local{
			user:         u,
			command:      command,
			readyTimeout: defaultReadyTimeout,
		}
	}
}

// Start launches the backend and blocks until its port accepts connections.
func (s *Local) Start(ctx context.Context, opts StartOptions) (Info, error) {
	s.mu.Lock()
	if s.cmd != nil {
		s.mu.Unlock()
		return Info{}, fmt.Errorf("backend for %s already started", s.user.Name)
	}
	if len(s.command) == 0 {
		s.mu.Unlock()
		return Info{}, errors.New("spawner command is empty")
	}

	port, err := freePort()
	if err != nil {
		s.mu.Unlock()
		return Info{}, fmt.Errorf("allocate backend port: %w", err)
	}
	addr := fmt.Sprintf("127.0.0.1:%d", port)

	args := append([]string{}, s.command[1:]...)
	args = append(args,
		"--user="+s.user.Name,
		fmt.Sprintf("--port=%d", port),
		"--base-url="+user.JoinURLPath(opts.HubBaseURL, "user", s.user.Name)+"/",
	)
	cmd := exec.Command(s.command[0], args...)
	cmd.Env = append(os.Environ(), opts.Environ...)
	cmd.Env = append(cmd.Env, "JUPYTERHUB_USER="+s.user.Name)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		s.mu.Unlock()
		return Info{}, fmt.Errorf("start backend for %s: %w", s.user.Name, err)
	}

	exitCh := make(chan struct{})
	s.cmd = cmd
	s.addr = addr
	s.exitCh = exitCh
	s.mu.Unlock()

	go s.wait(cmd, exitCh)

	if !s.skipReadyCheck {
		if err := s.awaitReady(ctx, addr, exitCh); err != nil {
			_ = s.Stop(context.Background())
			return Info{}, err
		}
	}
	return Info{Addr: addr}, nil
}

// wait reaps the process and fires the exit callback for unsolicited exits.
func (s *Local) wait(cmd *exec.Cmd, exitCh chan struct{}) {
	err := cmd.Wait()
	code := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}

	s.mu.Lock()
	s.exitCode = code
	close(exitCh)
	fn := s.onExit
	solicited := s.stopRequested
	if fn != nil && !solicited && !s.fired {
		s.fired = true
	} else {
		fn = nil
	}
	s.mu.Unlock()

	if fn != nil {
		fn(code)
	}
}

// awaitReady blocks until addr accepts a TCP connection, the process exits,
// or the deadline passes.
func (s *Local) awaitReady(ctx context.Context, addr string, exitCh chan struct{}) error {
	timeout := s.readyTimeout
	if timeout <= 0 {
		timeout = defaultReadyTimeout
	}
	deadline := time.Now().Add(timeout)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-exitCh:
			s.mu.Lock()
			code := s.exitCode
			s.mu.Unlock()
			return fmt.Errorf("backend for %s exited during startup with code %d", s.user.Name, code)
		default:
		}

		conn, err := net.DialTimeout("tcp", addr, 250*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("backend for %s not ready after %s", s.user.Name, timeout)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

// Poll returns the exit status if the process has exited, or nil while it
// is still running.
func (s *Local) Poll(_ context.Context) (*int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil {
		return nil, errors.New("backend was never started")
	}
	select {
	case <-s.exitCh:
		code := s.exitCode
		return &code, nil
	default:
		return nil, nil
	}
}

// Stop terminates the backend, escalating from interrupt to kill. The exit
// callback is suppressed for stops requested here.
func (s *Local) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.cmd == nil || s.cmd.Process == nil {
		s.mu.Unlock()
		return nil
	}
	s.stopRequested = true
	cmd := s.cmd
	exitCh := s.exitCh
	s.mu.Unlock()

	select {
	case <-exitCh:
		return nil
	default:
	}

	if err := cmd.Process.Signal(os.Interrupt); err != nil {
		log.Printf("interrupt backend for %s: %v", s.user.Name, err)
	}

	select {
	case <-exitCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Second):
	}

	if err := cmd.Process.Kill(); err != nil {
		return fmt.Errorf("kill backend for %s: %w", s.user.Name, err)
	}
	<-exitCh
	return nil
}

// OnExit registers the unsolicited-exit callback. If the process already
// exited without a stop request, the callback fires immediately.
func (s *Local) OnExit(fn func(exitCode int)) {
	s.mu.Lock()
	if s.exitCh != nil {
		select {
		case <-s.exitCh:
			if !s.stopRequested && !s.fired {
				s.fired = true
				code := s.exitCode
				s.mu.Unlock()
				fn(code)
				return
			}
			s.mu.Unlock()
			return
		default:
		}
	}
	s.onExit = fn
	s.mu.Unlock()
}

// freePort reserves and releases a loopback port for the backend to bind.
func freePort() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()
	return port, nil
}
