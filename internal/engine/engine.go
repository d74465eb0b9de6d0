// Package engine implements the VM Lifecycle Engine (C7): orchestrating
// C1-C6 and C11 for one named VM through the state machine
// Absent -> Prepared -> Defined -> Running -> Ready -> Torn-down.
// Grounded on h3ow3d-nlab/cmd/nlab/main.go's runUp/runDown orchestration
// (mkdir work dir -> network -> VM create -> readiness), generalized from
// nlab's fixed lab-stack shape into the single-VM primitive the spec's C7
// describes, with stack-level fan-out left to internal/stack.
package engine

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/dockvirt/dockvirt/internal/config"
	"github.com/dockvirt/dockvirt/internal/diskbuilder"
	"github.com/dockvirt/dockvirt/internal/dockvirt"
	"github.com/dockvirt/dockvirt/internal/env"
	"github.com/dockvirt/dockvirt/internal/hypervisor"
	"github.com/dockvirt/dockvirt/internal/imagecache"
	"github.com/dockvirt/dockvirt/internal/readiness"
	"github.com/dockvirt/dockvirt/internal/seed"
)

// State is one point in the VMInstance state machine (§4.7).
type State string

const (
	Absent   State = "Absent"
	Prepared State = "Prepared"
	Defined  State = "Defined"
	Running  State = "Running"
	Ready    State = "Ready"
	TornDown State = "Torn-down"
)

// Instance is the runtime VMInstance value (§3).
type Instance struct {
	Spec    *config.VMSpec
	WorkDir string
	Disk    string
	SeedISO string
	State   State
	IP      string
}

// Engine threads the Environment, image cache, and hypervisor driver
// through every operation, per the design notes' call to avoid ambient
// singletons.
type Engine struct {
	Env          *env.Environment
	Cache        *imagecache.Cache
	Driver       *hypervisor.Driver
	Seed         *seed.Builder
	LeaseTimeout time.Duration
	HTTPTimeout  time.Duration
}

// New returns an Engine with the §4.11 default timeouts.
func New(e *env.Environment, cache *imagecache.Cache, driver *hypervisor.Driver) *Engine {
	return &Engine{
		Env:          e,
		Cache:        cache,
		Driver:       driver,
		Seed:         seed.New(),
		LeaseTimeout: readiness.DefaultLeaseTimeout,
		HTTPTimeout:  readiness.DefaultHTTPTimeout,
	}
}

// specMeta is persisted alongside a VM's artifacts so a subsequent `up`
// can detect a spec mismatch against an already-running domain (§4.7
// "same image reference and port").
type specMeta struct {
	Image string `json:"image"`
	Port  *int   `json:"port"`
}

func specMetaPath(workDir string) string { return filepath.Join(workDir, "spec.json") }

// Up resolves spec into a running, ready VM. If the domain already exists
// and is running, it verifies the spec matches (image + port) and proceeds
// straight to the readiness check; a mismatch is SpecConflict, not an
// auto-replace (§4.7).
func (e *Engine) Up(ctx context.Context, spec *config.VMSpec, global *config.GlobalConfig, projectDir string) (*Instance, error) {
	workDir := e.Env.VMDir(spec.Name)
	inst := &Instance{Spec: spec, WorkDir: workDir, State: Absent}

	exists, err := e.Driver.DomainExists(ctx, spec.Name)
	if err != nil {
		return inst, err
	}

	if exists {
		if err := e.checkSpecConflict(spec, workDir); err != nil {
			return inst, err
		}
		inst.State = Running
		inst.Disk = filepath.Join(workDir, diskbuilder.DiskName)
		inst.SeedISO = filepath.Join(workDir, seed.IsoName)
		return e.awaitReady(ctx, inst)
	}

	if err := e.prepare(ctx, inst, global, projectDir); err != nil {
		// A partial prepare may have already written user-data/meta-data/the
		// seed ISO before failing; no domain was defined yet, so cleanup is
		// just removing those artifacts (§4.7 "preparation errors leave no
		// domain defined and a clean work_dir").
		_ = os.RemoveAll(workDir)
		return inst, err
	}
	inst.State = Prepared

	if err := e.defineAndStart(ctx, inst, global); err != nil {
		// Post-definition errors roll back: destroy the partial domain and
		// clean work_dir before surfacing (§4.7).
		_ = e.Driver.Destroy(ctx, spec.Name)
		_ = os.RemoveAll(workDir)
		return inst, err
	}
	inst.State = Running

	if err := writeSpecMeta(workDir, spec); err != nil {
		return inst, err
	}

	return e.awaitReady(ctx, inst)
}

// prepare runs C1 (already done by the caller), C3, C4, C5: work_dir
// populated, nothing defined yet (Absent -> Prepared).
func (e *Engine) prepare(ctx context.Context, inst *Instance, global *config.GlobalConfig, projectDir string) error {
	spec := inst.Spec

	img, err := config.Lookup(global, spec.OS)
	if err != nil {
		return err
	}

	basePath, err := e.Cache.Ensure(ctx, img)
	if err != nil {
		return err
	}

	isoPath, err := e.Seed.Build(ctx, spec, img.Variant, projectDir, inst.WorkDir)
	if err != nil {
		return err
	}

	diskPath, err := diskbuilder.Build(ctx, basePath, inst.WorkDir, spec.Disk)
	if err != nil {
		return err
	}

	inst.SeedISO = isoPath
	inst.Disk = diskPath
	return nil
}

// defineAndStart runs C6 (Prepared -> Defined -> Running).
func (e *Engine) defineAndStart(ctx context.Context, inst *Instance, global *config.GlobalConfig) error {
	spec := inst.Spec
	img, err := config.Lookup(global, spec.OS)
	if err != nil {
		return err
	}
	req := hypervisor.DomainRequest{
		Name:         spec.Name,
		MemMiB:       spec.Mem,
		CPUs:         spec.CPUs,
		DiskPath:     inst.Disk,
		SeedPath:     inst.SeedISO,
		GuestVariant: img.Variant,
		Network:      hypervisor.ParseNetworkSpec(spec.Net),
	}
	return e.Driver.DefineAndStart(ctx, req)
}

// awaitReady runs C11 (Running -> Ready). LeaseTimeout/HTTPTimeout are
// non-fatal to domain state: the domain stays Running, the engine reports
// the warning, Up returns a non-nil error (§4.7, §7).
func (e *Engine) awaitReady(ctx context.Context, inst *Instance) (*Instance, error) {
	res, err := readiness.Probe(ctx, e.Driver, inst.Spec.Name, inst.Spec.Net, inst.Spec.Domain, inst.Spec.Port, e.LeaseTimeout, e.HTTPTimeout)
	inst.IP = res.IP
	if err != nil {
		return inst, err
	}
	if inst.Spec.Port == nil || res.HTTPOK {
		inst.State = Ready
	}
	return inst, nil
}

// checkSpecConflict compares an existing domain's recorded spec against
// the newly-resolved one.
func (e *Engine) checkSpecConflict(spec *config.VMSpec, workDir string) error {
	data, err := os.ReadFile(specMetaPath(workDir))
	if err != nil {
		// No recorded spec (e.g. domain predates this tool's bookkeeping):
		// nothing to conflict against.
		return nil
	}
	var prev specMeta
	if err := json.Unmarshal(data, &prev); err != nil {
		return nil
	}

	portsMatch := (prev.Port == nil && spec.Port == nil) ||
		(prev.Port != nil && spec.Port != nil && *prev.Port == *spec.Port)

	if prev.Image != spec.Image || !portsMatch {
		return dockvirt.New(dockvirt.SpecConflict, "running domain's spec differs from the resolved spec", spec.Name, "run `dockvirt down` first, or adjust your project config to match")
	}
	return nil
}

func writeSpecMeta(workDir string, spec *config.VMSpec) error {
	data, err := json.Marshal(specMeta{Image: spec.Image, Port: spec.Port})
	if err != nil {
		return dockvirt.Wrap(dockvirt.Internal, err, "marshal spec metadata", workDir, "")
	}
	if err := os.WriteFile(specMetaPath(workDir), data, 0o600); err != nil {
		return dockvirt.Wrap(dockvirt.Internal, err, "write spec metadata", workDir, "")
	}
	return nil
}

// Down tears down name idempotently: destroys the domain (C6) and deletes
// work_dir. Safe to call repeatedly (§4.7, §8).
func (e *Engine) Down(ctx context.Context, name string) error {
	if err := e.Driver.Destroy(ctx, name); err != nil {
		return err
	}
	return os.RemoveAll(e.Env.VMDir(name))
}

// IP returns the domain's current lease, failing if none is held. This is
// a single, non-polling lookup: `ip` should fail fast rather than wait
// (§6 "print the current IPv4 or exit nonzero if not leased").
func (e *Engine) IP(ctx context.Context, name, network string) (string, error) {
	return e.Driver.Lease(ctx, name, network, time.Duration(0))
}
