package resolver

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writeManifest(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, ManifestName), []byte(content), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
}

func TestResolvePrefersDevScript(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `{"scripts":{"dev":"next dev","start":"next start"},"dependencies":{"next":"14.0.0"}}`)
	cmd, args, err := Resolve(dir, 3000)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cmd != "npm" || !reflect.DeepEqual(args, []string{"run", "dev"}) {
		t.Fatalf("got %s %v, want npm [run dev]", cmd, args)
	}
}

func TestResolveFallsBackToStartScript(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `{"scripts":{"start":"node server.js"}}`)
	cmd, args, err := Resolve(dir, 3000)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cmd != "npm" || !reflect.DeepEqual(args, []string{"start"}) {
		t.Fatalf("got %s %v, want npm [start]", cmd, args)
	}
}

func TestResolveScriptBeatsFrameworkDetection(t *testing.T) {
	dir := t.TempDir()
	// Both a script and a framework dependency present: the script wins.
	writeManifest(t, dir, `{"scripts":{"dev":"custom"},"dependencies":{"vite":"5.0.0"}}`)
	cmd, _, err := Resolve(dir, 3000)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cmd != "npm" {
		t.Fatalf("script must take priority over framework detection, got %s", cmd)
	}
}

func TestResolveNextDependency(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `{"dependencies":{"next":"14.0.0","react":"18.0.0"}}`)
	cmd, args, err := Resolve(dir, 4100)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := []string{"node_modules/next/dist/bin/next", "dev", "-H", "0.0.0.0", "-p", "4100"}
	if cmd != "node" || !reflect.DeepEqual(args, want) {
		t.Fatalf("got %s %v, want node %v", cmd, args, want)
	}
}

func TestResolveViteDevDependency(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `{"devDependencies":{"vite":"5.0.0"}}`)
	cmd, args, err := Resolve(dir, 5173)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cmd != "node" || args[len(args)-1] != "5173" {
		t.Fatalf("got %s %v", cmd, args)
	}
}

func TestResolveAngularDependency(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `{"dependencies":{"@angular/cli":"17.0.0"}}`)
	cmd, args, err := Resolve(dir, 4200)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cmd != "npx" || args[0] != "ng" {
		t.Fatalf("got %s %v", cmd, args)
	}
}

func TestResolveUnresolvable(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `{"dependencies":{"left-pad":"1.0.0"}}`)
	if _, _, err := Resolve(dir, 3000); !errors.Is(err, ErrUnresolvable) {
		t.Fatalf("want ErrUnresolvable, got %v", err)
	}
}

func TestResolveMissingManifest(t *testing.T) {
	if _, _, err := Resolve(t.TempDir(), 3000); err == nil {
		t.Fatalf("expected error for missing manifest")
	}
}

func TestResolveMalformedManifest(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `{"scripts":`)
	if _, _, err := Resolve(dir, 3000); err == nil {
		t.Fatalf("expected error for malformed manifest")
	}
}
