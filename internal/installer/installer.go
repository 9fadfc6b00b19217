// Package installer runs the dependency manager for the managed application.
// The command is treated as opaque: an exit code and its output stream are
// the whole contract.
package installer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"

	"github.com/devplane/devplane/internal/broadcast"
	"github.com/devplane/devplane/internal/metrics"
)

// DefaultArgs keeps container installs quiet and fast.
var DefaultArgs = []string{"--no-fund", "--prefer-offline", "--no-optional", "--no-audit"}

// Installer invokes npm inside the application directory.
type Installer struct {
	dir      string
	command  string
	baseArgs []string
	log      *slog.Logger
}

// Result carries the outcome the HTTP surface reports verbatim.
type Result struct {
	ExitCode int
	Output   string
}

// New builds an installer for dir. baseArgs are appended to every install
// invocation, after DefaultArgs and before any per-request extras.
func New(dir string, log *slog.Logger, baseArgs ...string) *Installer {
	if log == nil {
		log = slog.Default()
	}
	return &Installer{dir: dir, command: "npm", baseArgs: baseArgs, log: log}
}

// Install runs `npm install` with the default flags plus extraArgs, capturing
// combined output. A non-zero exit returns the Result alongside the error so
// callers can surface exit code and output for diagnosis.
func (i *Installer) Install(ctx context.Context, extraArgs []string) (Result, error) {
	args := i.installArgs(extraArgs...)
	// #nosec G204 -- fixed binary, args validated upstream
	cmd := exec.CommandContext(ctx, i.command, args...)
	cmd.Dir = i.dir

	i.log.Info("running dependency install", "args", strings.Join(args, " "), "dir", i.dir)
	output, err := cmd.CombinedOutput()
	if err != nil {
		exitCode := -1
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			exitCode = ee.ExitCode()
		}
		metrics.IncInstall(false)
		return Result{ExitCode: exitCode, Output: string(output)},
			fmt.Errorf("npm install failed: %w", err)
	}
	metrics.IncInstall(true)
	return Result{ExitCode: 0, Output: string(output)}, nil
}

// Reconcile runs install followed by prune, streaming every output line to
// the broadcaster. Used after a sync batch rewrote the manifest.
func (i *Installer) Reconcile(ctx context.Context, b *broadcast.Broadcaster) error {
	if err := i.runStreaming(ctx, b, i.installArgs()...); err != nil {
		metrics.IncInstall(false)
		return fmt.Errorf("npm install failed: %w", err)
	}
	if err := i.runStreaming(ctx, b, "prune"); err != nil {
		metrics.IncInstall(false)
		return fmt.Errorf("npm prune failed: %w", err)
	}
	metrics.IncInstall(true)
	return nil
}

func (i *Installer) installArgs(extra ...string) []string {
	args := append([]string{"install"}, DefaultArgs...)
	args = append(args, i.baseArgs...)
	return append(args, extra...)
}

// runStreaming executes npm with args, feeding stdout/stderr lines to the
// broadcaster as they arrive.
func (i *Installer) runStreaming(ctx context.Context, b *broadcast.Broadcaster, args ...string) error {
	// #nosec G204 -- fixed binary
	cmd := exec.CommandContext(ctx, i.command, args...)
	cmd.Dir = i.dir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	display := i.command + " " + strings.Join(args, " ")
	i.log.Info("running", "command", display, "dir", i.dir)
	b.Submitf("--- Running: %s ---", display)

	if err := cmd.Start(); err != nil {
		b.Submitf("--- Failed to start command: %s ---", display)
		return fmt.Errorf("start %s: %w", display, err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		streamLines(stdout, b, false, i.log)
	}()
	go func() {
		defer wg.Done()
		streamLines(stderr, b, true, i.log)
	}()
	// Drain the pipes fully before Wait so no output is lost.
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		b.Submitf("--- Command failed: %s (%v) ---", display, err)
		return err
	}
	b.Submitf("--- Command finished successfully: %s ---", display)
	return nil
}

func streamLines(pipe io.Reader, b *broadcast.Broadcaster, isErr bool, log *slog.Logger) {
	scanner := bufio.NewScanner(pipe)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		b.Submit(scanner.Text(), isErr)
	}
	if err := scanner.Err(); err != nil {
		log.Warn("error reading command output", "stderr", isErr, "error", err)
	}
}
