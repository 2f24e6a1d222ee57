package supervisor

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewDefaults(t *testing.T) {
	s := New(Config{Delay: time.Second, Backoff: 0.5, MaxDelay: time.Millisecond}, discardLogger())

	assert.NotEmpty(t, s.cfg.Command, "defaults to the current executable")
	assert.Equal(t, 1.0, s.cfg.Backoff, "backoff below 1.0 is clamped")
	assert.Equal(t, time.Second, s.cfg.MaxDelay, "max delay is raised to the base delay")
}

func TestRunRestartsExitedChild(t *testing.T) {
	// /bin/true exits immediately; the supervisor should relaunch it until
	// the context is cancelled.
	s := New(Config{
		Command: "/bin/true",
		Delay:   5 * time.Millisecond,
	}, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		return s.RestartCount() >= 3
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, s.LastExitCode())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not return after cancel")
	}
}

func TestRunRestartsCrashedChild(t *testing.T) {
	s := New(Config{
		Command: "/bin/sh",
		Args:    []string{"-c", "exit 3"},
		Delay:   5 * time.Millisecond,
	}, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		return s.RestartCount() >= 2
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, s.LastExitCode())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not return after cancel")
	}
}

func TestRunTerminatesLongRunningChild(t *testing.T) {
	// A sleeping child must receive the terminate signal on cancellation and
	// Run must return without waiting out the sleep.
	s := New(Config{
		Command: "/bin/sleep",
		Args:    []string{"60"},
		Delay:   5 * time.Millisecond,
	}, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// Give the child time to start, then cancel.
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not terminate the child")
	}
}

func TestRunSurvivesLaunchFailure(t *testing.T) {
	// A nonexistent binary is treated like a crashed child: retried after
	// the delay, never fatal.
	s := New(Config{
		Command: "/nonexistent/meridian-binary",
		Delay:   5 * time.Millisecond,
	}, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		return s.RestartCount() >= 2
	}, 5*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not return after cancel")
	}
}
