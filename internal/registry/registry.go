package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ErrNotFound reports that no process record exists. It is the legitimate
// "no server" condition, not a failure.
var ErrNotFound = errors.New("no process record")

// meta is the optional second line of the marker file. Recording the child's
// start time lets a later liveness probe notice PID reuse after a reboot or
// a long-lived marker.
type meta struct {
	StartUnix int64     `json:"start_unix"`
	Port      int       `json:"port,omitempty"`
	WrittenAt time.Time `json:"written_at"`
}

// Registry persists the supervised process id to a plain-text marker file so
// the record survives control-plane restarts. The first line is the decimal
// PID; an optional JSON meta line follows.
type Registry struct {
	path string
}

func New(path string) *Registry { return &Registry{path: path} }

func (r *Registry) Path() string { return r.path }

// Write records pid (and its port) as the single live process record.
func (r *Registry) Write(pid, port int) error {
	if pid <= 0 {
		return fmt.Errorf("registry: invalid pid %d", pid)
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o750); err != nil {
		return fmt.Errorf("registry: create marker dir: %w", err)
	}
	m := meta{StartUnix: procStartUnix(pid), Port: port, WrittenAt: time.Now().UTC()}
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	content := strconv.Itoa(pid) + "\n" + string(b) + "\n"
	if err := os.WriteFile(r.path, []byte(content), 0o600); err != nil {
		return fmt.Errorf("registry: write marker: %w", err)
	}
	return nil
}

// Read returns the recorded pid, or ErrNotFound when the marker is absent or
// unparsable.
func (r *Registry) Read() (int, error) {
	pid, _, err := r.read()
	return pid, err
}

func (r *Registry) read() (int, *meta, error) {
	b, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil, ErrNotFound
		}
		return 0, nil, fmt.Errorf("registry: read marker: %w", err)
	}
	pidLine, rest, _ := strings.Cut(strings.ReplaceAll(string(b), "\r\n", "\n"), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(pidLine))
	if err != nil || pid <= 0 {
		// Garbage in the marker is treated as "no record"; the next start
		// overwrites it.
		return 0, nil, ErrNotFound
	}
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return pid, nil, nil
	}
	var m meta
	if err := json.Unmarshal([]byte(rest), &m); err != nil {
		// Legacy marker with only a PID line.
		return pid, nil, nil
	}
	return pid, &m, nil
}

// Clear removes the marker. A missing marker is not an error.
func (r *Registry) Clear() error {
	if err := os.Remove(r.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("registry: clear marker: %w", err)
	}
	return nil
}

// IsAlive probes pid with a no-op signal; the process is never perturbed.
func (r *Registry) IsAlive(pid int) bool {
	return pidAlive(pid)
}

// Alive reads the record and probes it, including the PID-reuse check against
// the recorded start time. It returns the pid and whether that pid is our
// live supervised process.
func (r *Registry) Alive() (int, bool) {
	pid, m, err := r.read()
	if err != nil {
		return 0, false
	}
	if m != nil && m.StartUnix > 0 {
		if cur := procStartUnix(pid); cur > 0 && cur != m.StartUnix {
			return pid, false // PID reused; not our process
		}
	}
	return pid, pidAlive(pid)
}

// Port returns the recorded listening port, or 0 when unknown.
func (r *Registry) Port() int {
	_, m, err := r.read()
	if err != nil || m == nil {
		return 0
	}
	return m.Port
}
