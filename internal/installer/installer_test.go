package installer

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/devplane/devplane/internal/broadcast"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeNPM writes a stub script standing in for npm so tests control exit
// codes and output.
func fakeNPM(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "npm")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	return path
}

func TestInstallCapturesOutputAndZeroExit(t *testing.T) {
	dir := t.TempDir()
	i := New(dir, discardLogger())
	i.command = fakeNPM(t, `echo "added 12 packages"`)
	res, err := i.Install(context.Background(), nil)
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if res.ExitCode != 0 {
		t.Fatalf("exit code: got %d want 0", res.ExitCode)
	}
	if !strings.Contains(res.Output, "added 12 packages") {
		t.Fatalf("output not captured: %q", res.Output)
	}
}

func TestInstallSurfacesExitCodeAndOutputOnFailure(t *testing.T) {
	i := New(t.TempDir(), discardLogger())
	i.command = fakeNPM(t, `echo "ERESOLVE unable to resolve" >&2; exit 7`)
	res, err := i.Install(context.Background(), nil)
	if err == nil {
		t.Fatalf("expected error for non-zero exit")
	}
	if res.ExitCode != 7 {
		t.Fatalf("exit code: got %d want 7", res.ExitCode)
	}
	if !strings.Contains(res.Output, "ERESOLVE") {
		t.Fatalf("captured output missing: %q", res.Output)
	}
}

func TestInstallPassesDefaultAndExtraArgs(t *testing.T) {
	i := New(t.TempDir(), discardLogger(), "--engine-strict")
	i.command = fakeNPM(t, `echo "$@"`)
	res, err := i.Install(context.Background(), []string{"--legacy-peer-deps"})
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	wants := append([]string{"install"}, DefaultArgs...)
	wants = append(wants, "--engine-strict", "--legacy-peer-deps")
	for _, want := range wants {
		if !strings.Contains(res.Output, want) {
			t.Fatalf("args missing %q: %q", want, res.Output)
		}
	}
}

func TestReconcileStreamsInstallThenPrune(t *testing.T) {
	b := broadcast.New(io.Discard, io.Discard)
	go b.Run()
	defer b.Close()
	sub := b.Register()

	i := New(t.TempDir(), discardLogger())
	i.command = fakeNPM(t, `echo "step $1"`)
	if err := i.Reconcile(context.Background(), b); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	var lines []string
	deadline := time.After(2 * time.Second)
collect:
	for {
		select {
		case m := <-sub.Lines():
			lines = append(lines, m.Text)
			if strings.Contains(m.Text, "finished successfully") && strings.Contains(m.Text, "prune") {
				break collect
			}
		case <-deadline:
			t.Fatalf("timed out; lines so far: %v", lines)
		}
	}
	joined := strings.Join(lines, "\n")
	if !strings.Contains(joined, "step install") || !strings.Contains(joined, "step prune") {
		t.Fatalf("expected install then prune output, got:\n%s", joined)
	}
	if strings.Index(joined, "step install") > strings.Index(joined, "step prune") {
		t.Fatalf("prune ran before install:\n%s", joined)
	}
}

func TestReconcileFailureStopsBeforePrune(t *testing.T) {
	b := broadcast.New(io.Discard, io.Discard)
	go b.Run()
	defer b.Close()

	i := New(t.TempDir(), discardLogger())
	i.command = fakeNPM(t, `if [ "$1" = "install" ]; then exit 3; fi; echo prune-ran`)
	err := i.Reconcile(context.Background(), b)
	if err == nil || !strings.Contains(err.Error(), "npm install failed") {
		t.Fatalf("want install failure, got %v", err)
	}
}
