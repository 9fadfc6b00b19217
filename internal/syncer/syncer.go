// Package syncer applies batches of file writes and deletes into the managed
// application directory.
package syncer

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/devplane/devplane/internal/appdir"
	"github.com/devplane/devplane/internal/metrics"
	"github.com/devplane/devplane/internal/resolver"
)

// Batch is one request-scoped set of file operations. File contents arrive
// base64-encoded; paths are relative to the application root.
type Batch struct {
	Files   map[string]string `json:"files"`
	Deletes []string          `json:"deleted_file_paths"`
}

// BatchError aggregates per-entry failures. Entries that succeeded before a
// failure are not rolled back; partial application is a documented outcome.
type BatchError struct {
	Failures []string
}

func (e *BatchError) Error() string {
	return strings.Join(e.Failures, "; ")
}

// Syncer validates every path through the guard and applies entries
// concurrently. Concurrency is safe because each entry's resolved target is
// independent and already confined to the root.
type Syncer struct {
	guard *appdir.Guard
	log   *slog.Logger
}

func New(guard *appdir.Guard, log *slog.Logger) *Syncer {
	if log == nil {
		log = slog.Default()
	}
	return &Syncer{guard: guard, log: log}
}

// Apply performs all writes and deletes concurrently. It reports whether the
// application manifest was among the successfully written paths (the signal
// for dependency reconciliation), and a *BatchError carrying every per-entry
// failure when any occurred.
func (s *Syncer) Apply(b Batch) (manifestChanged bool, err error) {
	var wg sync.WaitGroup
	errs := make(chan string, len(b.Files)+len(b.Deletes))

	for p, b64 := range b.Files {
		wg.Add(1)
		go func(p, b64 string) {
			defer wg.Done()
			if err := s.writeFile(p, b64); err != nil {
				metrics.IncSyncFailure()
				errs <- fmt.Sprintf("failed to write %s: %v", p, err)
				return
			}
			metrics.IncSyncWrite()
		}(p, b64)
	}
	for _, p := range b.Deletes {
		wg.Add(1)
		go func(p string) {
			defer wg.Done()
			if err := s.deletePath(p); err != nil {
				metrics.IncSyncFailure()
				errs <- fmt.Sprintf("failed to delete %s: %v", p, err)
				return
			}
			metrics.IncSyncDelete()
		}(p)
	}
	wg.Wait()
	close(errs)

	var failures []string
	for msg := range errs {
		failures = append(failures, msg)
	}
	if len(failures) > 0 {
		sort.Strings(failures)
		s.log.Warn("sync batch applied with failures", "failed", len(failures))
		return false, &BatchError{Failures: failures}
	}

	for p := range b.Files {
		if filepath.Clean(p) == resolver.ManifestName {
			manifestChanged = true
			break
		}
	}
	return manifestChanged, nil
}

func (s *Syncer) writeFile(rel, b64 string) error {
	dest, err := s.guard.Resolve(rel)
	if err != nil {
		return err
	}
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return fmt.Errorf("invalid base64 content: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dest, data, 0o644)
}

// deletePath removes the target recursively; an already-absent target is a
// success.
func (s *Syncer) deletePath(rel string) error {
	dest, err := s.guard.Resolve(rel)
	if err != nil {
		return err
	}
	return os.RemoveAll(dest)
}
