package logger

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestMirrorWritersDerivedFromDir(t *testing.T) {
	dir := t.TempDir()
	c := MirrorConfig{Dir: dir}
	outW, errW := c.Writers("devserver")
	if outW == nil || errW == nil {
		t.Fatalf("expected both writers when Dir is set")
	}
	if _, err := outW.Write([]byte("out line\n")); err != nil {
		t.Fatalf("write stdout mirror: %v", err)
	}
	if _, err := errW.Write([]byte("err line\n")); err != nil {
		t.Fatalf("write stderr mirror: %v", err)
	}
	_ = outW.Close()
	_ = errW.Close()
	b, err := os.ReadFile(filepath.Join(dir, "devserver.stdout.log"))
	if err != nil {
		t.Fatalf("read mirror: %v", err)
	}
	if !strings.Contains(string(b), "out line") {
		t.Fatalf("mirror content missing, got %q", b)
	}
}

func TestMirrorWritersNilWhenUnconfigured(t *testing.T) {
	outW, errW := MirrorConfig{}.Writers("devserver")
	if outW != nil || errW != nil {
		t.Fatalf("expected nil writers without destinations")
	}
}

func TestExplicitPathsOverrideDir(t *testing.T) {
	dir := t.TempDir()
	c := MirrorConfig{Dir: dir, StdoutPath: filepath.Join(dir, "custom.log")}
	outW, _ := c.Writers("devserver")
	if _, err := outW.Write([]byte("x\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = outW.Close()
	if _, err := os.Stat(filepath.Join(dir, "custom.log")); err != nil {
		t.Fatalf("explicit stdout path not used: %v", err)
	}
}

func TestNewRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	lg := New(&buf, "warn", false)
	lg.Info("hidden")
	lg.Warn("visible")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info should be filtered at warn level: %q", out)
	}
	if !strings.Contains(out, "visible") {
		t.Fatalf("warn line missing: %q", out)
	}
}

func TestColorHandlerPrefixesLevel(t *testing.T) {
	var buf bytes.Buffer
	lg := New(&buf, "debug", true)
	lg.Error("boom")
	if !strings.Contains(buf.String(), "\033[31m"+slog.LevelError.String()) {
		t.Fatalf("missing color prefix: %q", buf.String())
	}
}
