package supervisor

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/devplane/devplane/internal/broadcast"
	"github.com/devplane/devplane/internal/registry"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("probe port: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()
	return port
}

// newTestSupervisor builds a supervisor whose resolver spawns script via
// /bin/sh instead of consulting package.json.
func newTestSupervisor(t *testing.T, script string) *Supervisor {
	t.Helper()
	dir := t.TempDir()

	bc := broadcast.New(io.Discard, io.Discard)
	go bc.Run()
	t.Cleanup(bc.Close)

	s := New(Config{
		Dir:         dir,
		Port:        freePort(t),
		Registry:    registry.New(filepath.Join(dir, "devserver.pid")),
		Broadcaster: bc,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		StopGrace:   500 * time.Millisecond,
		StopPoll:    25 * time.Millisecond,
		KillSettle:  2 * time.Second,
	})
	s.resolve = func(string, int) (string, []string, error) {
		return "/bin/sh", []string{"-c", script}, nil
	}
	t.Cleanup(func() { _, _ = s.Stop() })
	return s
}

func waitUntil(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", d)
}

func TestStartStatusStop(t *testing.T) {
	s := newTestSupervisor(t, "sleep 60")

	pid, err := s.Start(nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if pid <= 0 {
		t.Fatalf("expected positive pid, got %d", pid)
	}

	st := s.Status()
	if !st.Running || st.PID != pid {
		t.Fatalf("unexpected status after start: %+v", st)
	}

	forced, err := s.Stop()
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if forced {
		t.Fatalf("sleep should die on SIGTERM without escalation")
	}
	if st := s.Status(); st.Running {
		t.Fatalf("still running after stop: %+v", st)
	}
	if _, err := s.reg.Read(); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("expected cleared pid record, got %v", err)
	}
}

func TestStartWhileRunningConflicts(t *testing.T) {
	s := newTestSupervisor(t, "sleep 60")
	if _, err := s.Start(nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := s.Start(nil); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestStartOccupiedPortConflicts(t *testing.T) {
	s := newTestSupervisor(t, "sleep 60")
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.Port()))
	if err != nil {
		t.Fatalf("occupy port: %v", err)
	}
	defer func() { _ = ln.Close() }()

	if _, err := s.Start(nil); !errors.Is(err, ErrPortInUse) {
		t.Fatalf("expected ErrPortInUse, got %v", err)
	}
}

func TestStopWithoutServerIsNoop(t *testing.T) {
	s := newTestSupervisor(t, "sleep 60")
	forced, err := s.Stop()
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if forced {
		t.Fatalf("no-op stop must not report a force kill")
	}
}

func TestRestartReplacesProcess(t *testing.T) {
	s := newTestSupervisor(t, "sleep 60")
	first, err := s.Start(nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	second, forced, err := s.Restart(nil)
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if forced {
		t.Fatalf("sleep should not need a force kill on restart")
	}
	if first == second {
		t.Fatalf("restart returned the old pid %d", first)
	}
	if s.reg.IsAlive(first) {
		t.Fatalf("old process %d survived restart", first)
	}
	if st := s.Status(); !st.Running || st.PID != second {
		t.Fatalf("unexpected status after restart: %+v", st)
	}
}

func TestStubbornChildGetsSIGKILL(t *testing.T) {
	s := newTestSupervisor(t, "trap '' TERM; while true; do sleep 1; done")
	pid, err := s.Start(nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	forced, err := s.Stop()
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !forced {
		t.Fatalf("expected escalation to SIGKILL")
	}
	waitUntil(t, 3*time.Second, func() bool { return !s.reg.IsAlive(pid) })
}

func TestSpontaneousExitClearsState(t *testing.T) {
	s := newTestSupervisor(t, "exit 0")
	if _, err := s.Start(nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitUntil(t, 3*time.Second, func() bool { return !s.Status().Running })
	waitUntil(t, time.Second, func() bool {
		_, err := s.reg.Read()
		return errors.Is(err, registry.ErrNotFound)
	})
}

func TestChildOutputReachesSubscribers(t *testing.T) {
	s := newTestSupervisor(t, "echo hello; echo oops 1>&2; sleep 60")

	sub := s.bc.Register()
	defer s.bc.Unregister(sub)

	if _, err := s.Start(nil); err != nil {
		t.Fatalf("start: %v", err)
	}

	var gotOut, gotErr bool
	deadline := time.After(3 * time.Second)
	for !(gotOut && gotErr) {
		select {
		case msg := <-sub.Lines():
			switch {
			case msg.Text == "hello" && !msg.IsErr:
				gotOut = true
			case msg.Text == "oops" && msg.IsErr:
				gotErr = true
			}
		case <-deadline:
			t.Fatalf("missing output: stdout=%v stderr=%v", gotOut, gotErr)
		}
	}
}
