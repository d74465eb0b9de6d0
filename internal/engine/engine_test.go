package engine

import (
	"testing"

	"github.com/dockvirt/dockvirt/internal/config"
	"github.com/dockvirt/dockvirt/internal/dockvirt"
)

func TestSpecMetaRoundTripNoConflict(t *testing.T) {
	dir := t.TempDir()
	port := 80
	spec := &config.VMSpec{Name: "demo", Image: "nginx:latest", Port: &port}

	if err := writeSpecMeta(dir, spec); err != nil {
		t.Fatalf("writeSpecMeta: %v", err)
	}

	e := &Engine{}
	if err := e.checkSpecConflict(spec, dir); err != nil {
		t.Fatalf("expected no conflict for unchanged spec, got %v", err)
	}
}

func TestSpecConflictOnImageChange(t *testing.T) {
	dir := t.TempDir()
	port := 80
	original := &config.VMSpec{Name: "demo", Image: "nginx:latest", Port: &port}
	if err := writeSpecMeta(dir, original); err != nil {
		t.Fatalf("writeSpecMeta: %v", err)
	}

	changed := &config.VMSpec{Name: "demo", Image: "httpd:latest", Port: &port}
	e := &Engine{}
	err := e.checkSpecConflict(changed, dir)
	if err == nil || dockvirt.KindOf(err) != dockvirt.SpecConflict {
		t.Fatalf("expected SpecConflict, got %v", err)
	}
}

func TestSpecConflictOnPortChange(t *testing.T) {
	dir := t.TempDir()
	portA, portB := 80, 8080
	original := &config.VMSpec{Name: "demo", Image: "nginx:latest", Port: &portA}
	if err := writeSpecMeta(dir, original); err != nil {
		t.Fatalf("writeSpecMeta: %v", err)
	}

	changed := &config.VMSpec{Name: "demo", Image: "nginx:latest", Port: &portB}
	e := &Engine{}
	err := e.checkSpecConflict(changed, dir)
	if err == nil || dockvirt.KindOf(err) != dockvirt.SpecConflict {
		t.Fatalf("expected SpecConflict, got %v", err)
	}
}

func TestNoConflictWhenNoPriorSpecRecorded(t *testing.T) {
	dir := t.TempDir()
	spec := &config.VMSpec{Name: "demo", Image: "nginx:latest"}
	e := &Engine{}
	if err := e.checkSpecConflict(spec, dir); err != nil {
		t.Fatalf("expected no conflict with no recorded spec, got %v", err)
	}
}
