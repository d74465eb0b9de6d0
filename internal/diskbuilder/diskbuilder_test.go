package diskbuilder

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/dockvirt/dockvirt/internal/dockvirt"
)

// qemu-img is not assumed present in every test environment, and even when
// it is, a nonexistent backing file makes the invocation fail regardless —
// so this exercises the DiskCreate error-wrapping path without depending on
// a real qemu-img install succeeding.
func TestBuildWrapsFailureAsDiskCreate(t *testing.T) {
	dir := t.TempDir()
	_, err := Build(context.Background(), filepath.Join(dir, "missing-base.qcow2"), dir, 10)
	if err == nil {
		t.Fatal("expected an error for a nonexistent backing file")
	}
	if dockvirt.KindOf(err) != dockvirt.DiskCreate {
		t.Fatalf("expected DiskCreate, got %v", dockvirt.KindOf(err))
	}
}

func TestResizeWrapsFailureAsDiskCreate(t *testing.T) {
	dir := t.TempDir()
	err := Resize(context.Background(), filepath.Join(dir, "missing-disk.qcow2"), 20)
	if err == nil {
		t.Fatal("expected an error for a nonexistent disk")
	}
	if dockvirt.KindOf(err) != dockvirt.DiskCreate {
		t.Fatalf("expected DiskCreate, got %v", dockvirt.KindOf(err))
	}
}

func TestDiskNameIsStableAcrossWorkDirs(t *testing.T) {
	if DiskName != "disk.qcow2" {
		t.Fatalf("unexpected disk name %q", DiskName)
	}
}
