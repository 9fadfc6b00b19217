// Package supervisor owns the single supervised dev-server child: resolving
// its command, spawning it in its own process group, streaming its output to
// the broadcaster, and tearing the whole group down on stop.
package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/devplane/devplane/internal/broadcast"
	"github.com/devplane/devplane/internal/metrics"
	"github.com/devplane/devplane/internal/prewarm"
	"github.com/devplane/devplane/internal/registry"
	"github.com/devplane/devplane/internal/resolver"
	"github.com/devplane/devplane/internal/store"
)

var (
	// ErrAlreadyRunning reports a start attempt while a live dev server exists.
	ErrAlreadyRunning = errors.New("dev server already running")
	// ErrPortInUse reports that the app port is bound by another process.
	ErrPortInUse = errors.New("dev server port already in use")
)

const (
	// DefaultStopGrace is how long SIGTERM gets before escalation.
	DefaultStopGrace = 5 * time.Second
	// DefaultStopPoll is the liveness poll interval while waiting for exit.
	DefaultStopPoll = 150 * time.Millisecond
	// DefaultKillSettle bounds the wait for the group to die after SIGKILL.
	DefaultKillSettle = time.Second

	storeTimeout = 5 * time.Second
)

// Config wires a Supervisor. Dir, Port, Registry and Broadcaster are
// required; Runs may be nil to disable run persistence.
type Config struct {
	Dir         string
	Port        int
	Registry    *registry.Registry
	Broadcaster *broadcast.Broadcaster
	Prewarm     *prewarm.Engine
	Runs        store.Store
	Logger      *slog.Logger

	StopGrace  time.Duration
	StopPoll   time.Duration
	KillSettle time.Duration
}

// Status is the externally visible dev-server state.
type Status struct {
	Running bool
	PID     int
	Port    int
}

// Supervisor manages at most one dev-server child. Start, Stop and Restart
// serialize on an internal mutex; concurrent callers block rather than fail,
// and conflicts (already running, port taken) surface as typed errors.
type Supervisor struct {
	dir  string
	port int
	reg  *registry.Registry
	bc   *broadcast.Broadcaster
	warm *prewarm.Engine
	runs store.Store
	log  *slog.Logger

	stopGrace  time.Duration
	stopPoll   time.Duration
	killSettle time.Duration

	// resolve is swapped in tests to spawn plain shell children.
	resolve func(dir string, port int) (string, []string, error)

	mu sync.Mutex // serializes start/stop/restart

	childMu sync.Mutex
	child   *child
}

// child is one spawned dev-server process. done closes once the process is
// reaped; forced records whether SIGKILL was used so the exit can be
// classified after the fact.
type child struct {
	cmd       *exec.Cmd
	pid       int
	uniq      string
	startedAt time.Time

	ioWg    sync.WaitGroup
	done    chan struct{}
	exitErr error
	forced  atomic.Bool
	final   sync.Once
}

func New(cfg Config) *Supervisor {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Prewarm == nil {
		cfg.Prewarm = prewarm.NewEngine(cfg.Logger)
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = DefaultStopGrace
	}
	if cfg.StopPoll <= 0 {
		cfg.StopPoll = DefaultStopPoll
	}
	if cfg.KillSettle <= 0 {
		cfg.KillSettle = DefaultKillSettle
	}
	return &Supervisor{
		dir:        cfg.Dir,
		port:       cfg.Port,
		reg:        cfg.Registry,
		bc:         cfg.Broadcaster,
		warm:       cfg.Prewarm,
		runs:       cfg.Runs,
		log:        cfg.Logger,
		resolve:    resolver.Resolve,
		stopGrace:  cfg.StopGrace,
		stopPoll:   cfg.StopPoll,
		killSettle: cfg.KillSettle,
	}
}

// Port returns the app port the dev server is started on.
func (s *Supervisor) Port() int { return s.port }

// Status reports liveness from the pid registry without taking the operation
// lock, so it stays responsive during a slow stop or start.
func (s *Supervisor) Status() Status {
	pid, alive := s.reg.Alive()
	if !alive {
		return Status{}
	}
	port := s.reg.Port()
	if port == 0 {
		port = s.port
	}
	return Status{Running: true, PID: pid, Port: port}
}

// Start spawns the dev server and returns its pid. Conflicting state maps to
// ErrAlreadyRunning or ErrPortInUse. When warm is non-nil the prewarm engine
// is triggered after the child is up, outside the operation lock.
func (s *Supervisor) Start(warm *prewarm.Config) (int, error) {
	s.mu.Lock()
	pid, err := s.startLocked()
	s.mu.Unlock()
	if err != nil {
		return 0, err
	}
	s.triggerPrewarm(warm)
	return pid, nil
}

// Stop terminates the running dev server's process group and reports whether
// SIGKILL was needed. Stopping an absent server is a no-op, not an error.
func (s *Supervisor) Stop() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked()
}

// Restart stops then starts under a single hold of the operation lock, so no
// interleaved start or stop can observe the halfway state. Stop failures are
// logged and do not abort the start.
func (s *Supervisor) Restart(warm *prewarm.Config) (int, bool, error) {
	s.mu.Lock()
	s.bc.Submit("--- Server restarting... ---", false)
	forced, err := s.stopLocked()
	if err != nil {
		s.log.Warn("stop during restart failed", "error", err)
	}
	pid, err := s.startLocked()
	s.mu.Unlock()
	if err != nil {
		return 0, forced, err
	}
	s.triggerPrewarm(warm)
	return pid, forced, nil
}

// Prewarm runs the prewarm engine against the current app port, used by the
// sync flow after a batch landed. Nil or empty configs are ignored.
func (s *Supervisor) Prewarm(warm *prewarm.Config) { s.triggerPrewarm(warm) }

// triggerPrewarm kicks the prewarm engine after a successful start, with
// system markers on the log stream so subscribers can follow it.
func (s *Supervisor) triggerPrewarm(warm *prewarm.Config) {
	if warm == nil || len(warm.Paths) == 0 {
		return
	}
	s.bc.Submitf("--- Pre-warming %d paths ---", len(warm.Paths))
	s.warm.Trigger(*warm, s.port)
	if warm.WaitForCompletion {
		s.bc.Submit("--- Pre-warming completed ---", false)
	} else {
		s.bc.Submit("--- Pre-warming running in the background ---", false)
	}
}

func (s *Supervisor) startLocked() (int, error) {
	if pid, alive := s.reg.Alive(); alive {
		return 0, fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, pid)
	}
	// Probe the app port before spawning so an occupied port fails fast with
	// a conflict instead of a dead child that exits moments later.
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return 0, fmt.Errorf("%w: %d", ErrPortInUse, s.port)
	}
	_ = ln.Close()

	name, args, err := s.resolve(s.dir, s.port)
	if err != nil {
		return 0, err
	}
	cmdLine := name + " " + strings.Join(args, " ")

	cmd := exec.Command(name, args...) // #nosec G204 -- command comes from the app's own package.json
	cmd.Dir = s.dir
	cmd.Env = append(os.Environ(), fmt.Sprintf("PORT=%d", s.port), "HOST=0.0.0.0")
	setProcessGroup(cmd)

	outPipe, err := cmd.StdoutPipe()
	if err != nil {
		return 0, err
	}
	errPipe, err := cmd.StderrPipe()
	if err != nil {
		return 0, err
	}
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("spawn %q: %w", cmdLine, err)
	}

	now := time.Now()
	c := &child{
		cmd:       cmd,
		pid:       cmd.Process.Pid,
		uniq:      store.UniqueKey(cmd.Process.Pid, now),
		startedAt: now,
		done:      make(chan struct{}),
	}
	c.ioWg.Add(2)
	go s.stream(&c.ioWg, outPipe, false)
	go s.stream(&c.ioWg, errPipe, true)

	if err := s.reg.Write(c.pid, s.port); err != nil {
		// Without a pid record a later daemon restart could not find or stop
		// this child, so refuse to leave it running.
		terminateGroup(c.pid, syscall.SIGKILL)
		c.ioWg.Wait()
		_ = cmd.Wait()
		return 0, fmt.Errorf("persist pid record: %w", err)
	}

	s.childMu.Lock()
	s.child = c
	s.childMu.Unlock()
	go s.reap(c)

	if s.runs != nil {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		rec := store.Record{PID: c.pid, Port: s.port, Command: cmdLine, StartedAt: now}
		if err := s.runs.RecordStart(ctx, rec); err != nil {
			s.log.Warn("run store write failed", "error", err)
		}
		cancel()
	}
	metrics.IncServerStart()
	s.log.Info("dev server started", "pid", c.pid, "port", s.port, "command", cmdLine)
	s.bc.Submitf("--- Server started with PID %d on port %d ---", c.pid, s.port)
	return c.pid, nil
}

func (s *Supervisor) stopLocked() (bool, error) {
	s.childMu.Lock()
	c := s.child
	s.childMu.Unlock()

	pid, alive := s.reg.Alive()
	if !alive {
		// Clear a stale marker left by a crashed run.
		if err := s.reg.Clear(); err != nil {
			s.log.Warn("clearing stale pid record failed", "error", err)
		}
		return false, nil
	}

	s.log.Info("stopping dev server", "pid", pid)
	terminateGroup(pid, syscall.SIGTERM)
	if s.waitGone(c, pid, s.stopGrace) {
		s.settle(c, pid, false)
		s.bc.Submitf("--- Server (PID %d) stopped ---", pid)
		return false, nil
	}

	s.log.Warn("dev server did not exit in time, sending SIGKILL", "pid", pid)
	if c != nil {
		c.forced.Store(true)
	}
	terminateGroup(pid, syscall.SIGKILL)
	if !s.waitGone(c, pid, s.killSettle) {
		s.log.Error("dev server process group survived SIGKILL", "pid", pid)
	}
	s.settle(c, pid, true)
	s.bc.Submitf("--- Server (PID %d) force-killed ---", pid)
	return true, nil
}

// waitGone waits up to d for the child to exit. Our own child is observed via
// its reaper; an adopted pid (found in the registry after a daemon restart)
// is polled with signal 0.
func (s *Supervisor) waitGone(c *child, pid int, d time.Duration) bool {
	if c != nil && c.pid == pid {
		select {
		case <-c.done:
			return true
		case <-time.After(d):
			return false
		}
	}
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if !s.reg.IsAlive(pid) {
			return true
		}
		time.Sleep(s.stopPoll)
	}
	return !s.reg.IsAlive(pid)
}

// settle finishes a stop. Our own child's reaper does the full finalization;
// an adopted pid only has metrics and the registry entry to clean up. The pid
// record is removed in either case so status reflects the stop immediately.
func (s *Supervisor) settle(c *child, pid int, forced bool) {
	if c == nil || c.pid != pid {
		metrics.IncServerStop()
		if forced {
			metrics.IncServerForceKill()
		}
	}
	if err := s.reg.Clear(); err != nil {
		s.log.Warn("clearing pid record failed", "error", err)
	}
}

func (s *Supervisor) stream(wg *sync.WaitGroup, r io.Reader, isErr bool) {
	defer wg.Done()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		s.bc.Submit(sc.Text(), isErr)
	}
}

// reap waits for the child and finalizes exactly once, whether the exit was
// requested or spontaneous. Output readers must drain before Wait closes the
// pipes.
func (s *Supervisor) reap(c *child) {
	c.ioWg.Wait()
	c.exitErr = c.cmd.Wait()
	close(c.done)
	s.finalize(c)
}

func (s *Supervisor) finalize(c *child) {
	c.final.Do(func() {
		s.childMu.Lock()
		if s.child == c {
			s.child = nil
			if err := s.reg.Clear(); err != nil {
				s.log.Warn("clearing pid record failed", "error", err)
			}
		}
		s.childMu.Unlock()

		forced := c.forced.Load()
		note := ""
		if c.exitErr != nil {
			note = c.exitErr.Error()
		}
		metrics.IncServerStop()
		if forced {
			metrics.IncServerForceKill()
		}
		if s.runs != nil {
			ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
			if err := s.runs.RecordStop(ctx, c.uniq, time.Now(), forced, note); err != nil {
				s.log.Warn("run store update failed", "error", err)
			}
			cancel()
		}
		s.log.Info("dev server exited",
			"pid", c.pid, "force_killed", forced, "uptime", time.Since(c.startedAt).Round(time.Millisecond), "note", note)
	})
}
