package resolver

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// ErrUnresolvable reports that the manifest declares neither a usable run
// script nor a recognized framework dependency. Callers surface it as a
// user-actionable error, not a crash.
var ErrUnresolvable = errors.New("no suitable dev command found in package.json (checked 'dev'/'start' scripts and 'next'/'vite'/'@angular/cli' dependencies)")

// ManifestName is the dependency/script descriptor consulted for command
// resolution.
const ManifestName = "package.json"

type manifest struct {
	Scripts         map[string]string `json:"scripts"`
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
}

// Resolve inspects dir's package.json and returns the executable and argument
// vector that starts the dev server on port.
//
// Resolution order is fixed policy: explicit run scripts win over framework
// detection. A "dev" script is preferred, then a "start" script; only when
// neither exists are declared dependencies examined for a known framework
// (next, vite, @angular/cli), whose dev binary is invoked with explicit
// all-interfaces host and the requested port.
func Resolve(dir string, port int) (string, []string, error) {
	b, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if err != nil {
		return "", nil, fmt.Errorf("cannot read %s: %w", ManifestName, err)
	}
	var m manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return "", nil, fmt.Errorf("cannot parse %s: %w", ManifestName, err)
	}

	if _, ok := m.Scripts["dev"]; ok {
		return "npm", []string{"run", "dev"}, nil
	}
	if _, ok := m.Scripts["start"]; ok {
		return "npm", []string{"start"}, nil
	}

	p := strconv.Itoa(port)
	if m.hasDependency("next") {
		return "node", []string{"node_modules/next/dist/bin/next", "dev", "-H", "0.0.0.0", "-p", p}, nil
	}
	if m.hasDependency("vite") {
		return "node", []string{"node_modules/vite/bin/vite.js", "--host", "0.0.0.0", "--port", p}, nil
	}
	if m.hasDependency("@angular/cli") {
		return "npx", []string{"ng", "serve", "--host", "0.0.0.0", "--port", p}, nil
	}

	return "", nil, ErrUnresolvable
}

func (m *manifest) hasDependency(name string) bool {
	if _, ok := m.Dependencies[name]; ok {
		return true
	}
	_, ok := m.DevDependencies[name]
	return ok
}
