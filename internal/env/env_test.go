package env

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewHonorsOverrideVar(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(overrideVar, dir)

	e, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if e.Base != dir {
		t.Fatalf("expected Base=%q, got %q", dir, e.Base)
	}
}

func TestNewFallsBackToHomeDir(t *testing.T) {
	t.Setenv(overrideVar, "")

	e, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		t.Fatalf("UserHomeDir: %v", err)
	}
	if e.Base != filepath.Join(home, ".dockvirt") {
		t.Fatalf("unexpected Base %q", e.Base)
	}
}

func TestPathHelpers(t *testing.T) {
	e := &Environment{Base: "/tmp/example"}
	if got, want := e.ConfigFile(), "/tmp/example/config.yaml"; got != want {
		t.Errorf("ConfigFile() = %q, want %q", got, want)
	}
	if got, want := e.ImagesDir(), "/tmp/example/images"; got != want {
		t.Errorf("ImagesDir() = %q, want %q", got, want)
	}
	if got, want := e.VMDir("web"), "/tmp/example/web"; got != want {
		t.Errorf("VMDir() = %q, want %q", got, want)
	}
	if got, want := e.LogFile(), "/tmp/example/cli.log"; got != want {
		t.Errorf("LogFile() = %q, want %q", got, want)
	}
}

func TestEnsureBaseCreatesPrivateDirs(t *testing.T) {
	dir := t.TempDir()
	e := &Environment{Base: filepath.Join(dir, "base")}

	if err := e.EnsureBase(); err != nil {
		t.Fatalf("EnsureBase: %v", err)
	}
	if info, err := os.Stat(e.Base); err != nil || !info.IsDir() || info.Mode().Perm() != 0o700 {
		t.Fatalf("expected base dir to exist with mode 0700, err=%v", err)
	}
	if info, err := os.Stat(e.ImagesDir()); err != nil || !info.IsDir() || info.Mode().Perm() != 0o700 {
		t.Fatalf("expected images dir to exist with mode 0700, err=%v", err)
	}
}
