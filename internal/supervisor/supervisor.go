// Package supervisor keeps the orchestrator process alive. It launches the
// engine as an isolated child process, waits on its lifetime, and relaunches
// it after a delay on any exit, crash or clean. The two processes share no
// memory; they communicate only through the exit status and an OS terminate
// signal.
package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

// Config controls the restart policy. The default policy is the original
// "never give up": constant delay, no restart ceiling. A backoff factor
// above 1.0 grows the delay per consecutive restart up to MaxDelay.
type Config struct {
	Command  string   // child binary; defaults to the current executable
	Args     []string // child arguments, e.g. ["run"]
	Delay    time.Duration
	Backoff  float64 // >= 1.0; 1.0 means constant delay
	MaxDelay time.Duration
}

// Supervisor owns the watchdog loop. Its state (child handle, restart count,
// last exit code) is never shared with the engine it supervises.
type Supervisor struct {
	cfg    Config
	logger *slog.Logger

	mu           sync.Mutex
	child        *exec.Cmd
	restartCount int
	lastExitCode int
}

// New builds a supervisor. Delay must be positive; Backoff below 1.0 is
// treated as 1.0.
func New(cfg Config, logger *slog.Logger) *Supervisor {
	if cfg.Command == "" {
		if exe, err := os.Executable(); err == nil {
			cfg.Command = exe
		}
	}
	if cfg.Backoff < 1.0 {
		cfg.Backoff = 1.0
	}
	if cfg.MaxDelay < cfg.Delay {
		cfg.MaxDelay = cfg.Delay
	}
	return &Supervisor{cfg: cfg, logger: logger}
}

// RestartCount returns how many times the child has been relaunched.
func (s *Supervisor) RestartCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restartCount
}

// LastExitCode returns the child's most recent exit code.
func (s *Supervisor) LastExitCode() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastExitCode
}

// Run launches the child and blocks, restarting it on every exit until ctx
// is cancelled. On cancellation it forwards a terminate signal to the
// running child, waits for it to exit, and returns. Cancellation during the
// restart delay aborts without one more launch.
func (s *Supervisor) Run(ctx context.Context) error {
	// Forward cancellation as a terminate signal so the child can finalize
	// its current cycle.
	go func() {
		<-ctx.Done()
		s.mu.Lock()
		child := s.child
		s.mu.Unlock()
		if child != nil && child.Process != nil {
			_ = child.Process.Signal(os.Interrupt)
		}
	}()

	delay := s.cfg.Delay
	for {
		if err := s.launch(ctx); err != nil {
			// Launch failure (bad binary, fork error) is treated like a
			// crashed child: log and retry after the delay.
			s.logger.Error("supervisor: launch failed", "error", err)
		} else {
			exitCode, waitErr := s.wait(ctx)
			if ctx.Err() != nil {
				// We asked the child to terminate; its exit is the clean
				// end of supervision, not a crash.
				s.logger.Info("supervisor: child terminated, shutting down",
					"exit_code", exitCode)
				return nil
			}
			if waitErr != nil {
				s.logger.Error("supervisor: wait failed", "error", waitErr)
			}
			if exitCode == 0 {
				delay = s.cfg.Delay
			}
			s.logger.Warn("orchestrator exited, restarting",
				"exit_code", exitCode,
				"restart_count", s.RestartCount(),
				"delay", delay)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		s.mu.Lock()
		s.restartCount++
		count := s.restartCount
		s.mu.Unlock()
		if count%10 == 0 {
			s.logger.Warn("supervisor: child keeps exiting",
				"restart_count", count)
		}

		next := time.Duration(float64(delay) * s.cfg.Backoff)
		if next > s.cfg.MaxDelay {
			next = s.cfg.MaxDelay
		}
		delay = next
	}
}

func (s *Supervisor) launch(ctx context.Context) error {
	cmd := exec.Command(s.cfg.Command, s.cfg.Args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = os.Environ()
	if err := cmd.Start(); err != nil {
		return err
	}
	s.mu.Lock()
	s.child = cmd
	s.mu.Unlock()
	s.logger.Info("supervisor: orchestrator started", "pid", cmd.Process.Pid)

	// Re-check cancellation: ctx may have fired between Start and the
	// child handle becoming visible to the forwarding goroutine.
	if ctx.Err() != nil {
		_ = cmd.Process.Signal(os.Interrupt)
	}
	return nil
}

// wait blocks on the child and records its exit code.
func (s *Supervisor) wait(_ context.Context) (int, error) {
	s.mu.Lock()
	child := s.child
	s.mu.Unlock()

	err := child.Wait()
	code := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
			err = nil
		}
	}
	s.mu.Lock()
	s.lastExitCode = code
	s.child = nil
	s.mu.Unlock()
	return code, err
}
