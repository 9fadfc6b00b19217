// Package prewarm issues best-effort requests against a freshly started dev
// server so first user-facing hits are not slowed by lazy compilation.
// Prewarming is an optimization, never a correctness gate: every failure here
// is swallowed.
package prewarm

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Config carries one prewarm invocation's parameters.
type Config struct {
	Paths             []string `json:"paths"`
	WaitForCompletion bool     `json:"wait_for_completion"`
}

// Engine polls a started server for readiness and then warms the configured
// paths concurrently.
type Engine struct {
	// Host is the scheme+host prefix the target port is appended to.
	Host string
	// ReadyTimeout bounds the readiness poll; on expiry warming proceeds
	// anyway.
	ReadyTimeout  time.Duration
	ReadyInterval time.Duration
	// RequestTimeout bounds each individual warm-up GET.
	RequestTimeout time.Duration

	log *slog.Logger
}

func NewEngine(log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		Host:           "http://localhost",
		ReadyTimeout:   20 * time.Second,
		ReadyInterval:  250 * time.Millisecond,
		RequestTimeout: 10 * time.Second,
		log:            log,
	}
}

// Trigger runs the prewarm inline when cfg.WaitForCompletion is set,
// otherwise detached. Detached runs have no cancellation handle; they finish
// or time out regardless of the caller.
func (e *Engine) Trigger(cfg Config, port int) {
	if len(cfg.Paths) == 0 {
		return
	}
	if cfg.WaitForCompletion {
		e.Run(cfg, port)
		return
	}
	go e.Run(cfg, port)
}

// Run waits for readiness and then issues one GET per unique path.
func (e *Engine) Run(cfg Config, port int) {
	e.log.Info("prewarm starting", "paths", len(cfg.Paths), "port", port)
	if !e.WaitReady(port) {
		e.log.Warn("dev server not ready within timeout; prewarming anyway", "port", port)
	}

	client := &http.Client{Timeout: e.RequestTimeout}
	var wg sync.WaitGroup
	for _, path := range uniquePaths(cfg.Paths) {
		wg.Add(1)
		go func(p string) {
			defer wg.Done()
			url := fmt.Sprintf("%s:%d%s", e.Host, port, p)
			resp, err := client.Get(url)
			if err != nil {
				e.log.Debug("prewarm request failed", "url", url, "error", err)
				return
			}
			defer func() { _ = resp.Body.Close() }()
			_, _ = io.Copy(io.Discard, resp.Body)
			e.log.Debug("prewarmed", "url", url, "status", resp.Status)
		}(path)
	}
	wg.Wait()
	e.log.Info("prewarm completed", "port", port)
}

// WaitReady polls the server root until it answers with any successful status
// or 404 (up but routes not all mapped yet counts as ready), or the deadline
// passes.
func (e *Engine) WaitReady(port int) bool {
	base := fmt.Sprintf("%s:%d", e.Host, port)
	deadline := time.Now().Add(e.ReadyTimeout)
	client := &http.Client{Timeout: 2 * time.Second}
	for time.Now().Before(deadline) {
		resp, err := client.Get(base)
		if err == nil {
			status := resp.StatusCode
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			if (status >= 200 && status < 300) || status == http.StatusNotFound {
				return true
			}
		}
		time.Sleep(e.ReadyInterval)
	}
	return false
}

// uniquePaths filters to well-formed, deduplicated paths preserving order.
func uniquePaths(paths []string) []string {
	seen := make(map[string]struct{}, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if !strings.HasPrefix(p, "/") {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
