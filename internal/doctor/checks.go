package doctor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/dockvirt/dockvirt/internal/config"
	"github.com/dockvirt/dockvirt/internal/env"
)

const libvirtURI = "qemu:///system"

// Doctor runs the check sequence against one Environment.
type Doctor struct {
	Env *env.Environment
}

// New returns a Doctor for e.
func New(e *env.Environment) *Doctor {
	return &Doctor{Env: e}
}

// Run executes every check. When apply is true, fixable findings that
// failed have their Fix invoked immediately and the finding is re-checked
// (§4.9, §6 "heal --apply").
func (d *Doctor) Run(ctx context.Context, apply bool) *Report {
	family := DetectOSFamily()
	checks := []func(context.Context, OSFamily) Finding{
		d.checkTools,
		d.checkLibvirtdService,
		d.checkGroupMembership,
		d.checkHypervisorContexts,
		d.checkDefaultNetwork,
		d.checkDefaultPool,
		d.checkBaseDirAccess,
		d.checkImageCatalog,
		d.checkTemplates,
	}

	report := &Report{}
	for _, check := range checks {
		f := check(ctx, family)
		if apply && !f.OK && f.Fixable && f.Fix != nil {
			if err := f.Fix(ctx); err == nil {
				f = check(ctx, family)
			} else {
				f.Message += fmt.Sprintf(" (repair failed: %v)", err)
			}
		}
		report.Findings = append(report.Findings, f)
	}
	return report
}

// checkTools is §4.9's "Required tools present" row.
func (d *Doctor) checkTools(_ context.Context, family OSFamily) Finding {
	var missing []string
	for _, tool := range requiredTools {
		if _, err := exec.LookPath(tool); err != nil {
			missing = append(missing, tool)
		}
	}
	if len(missing) == 0 {
		return Finding{ID: "tools", OK: true, Severity: SevInfo, Message: "all required tools present"}
	}
	hints := make([]string, len(missing))
	for i, tool := range missing {
		hints[i] = tool + ": " + installHint(family, tool)
	}
	return Finding{
		ID: "tools", OK: false, Severity: SevError,
		Message: "missing tools: " + strings.Join(missing, ", ") + " (" + strings.Join(hints, "; ") + ")",
		Fixable: false,
	}
}

// checkLibvirtdService is the feature supplement distinguishing "libvirtd
// down" from "network inactive" as its own, more specific finding
// (original_source/scripts/doctor.py).
func (d *Doctor) checkLibvirtdService(ctx context.Context, _ OSFamily) Finding {
	cmd := exec.CommandContext(ctx, "virsh", "--connect", libvirtURI, "version")
	if err := cmd.Run(); err == nil {
		return Finding{ID: "libvirtd", OK: true, Severity: SevInfo, Message: "libvirtd reachable"}
	}
	return Finding{
		ID: "libvirtd", OK: false, Severity: SevError,
		Message: "cannot reach libvirtd at " + libvirtURI,
		Fixable: false,
	}
}

// requiredGroups are the groups the invoking user needs to reach libvirt
// and the VM disk/image files it manages without elevation.
var requiredGroups = []string{"libvirt", "kvm"}

// checkGroupMembership is the feature supplement's promised check: it only
// ever suggests a `usermod` command, never runs one, since adding a user to
// a group takes effect on their next login and this process cannot make
// that happen for them (original_source/scripts/doctor.py).
func (d *Doctor) checkGroupMembership(ctx context.Context, _ OSFamily) Finding {
	out, err := exec.CommandContext(ctx, "id", "-nG").Output()
	if err != nil {
		return Finding{
			ID: "group-membership", OK: false, Severity: SevWarn,
			Message: "could not determine current user's groups: " + err.Error(),
			Fixable: false,
		}
	}
	groups := strings.Fields(string(out))
	var missing []string
	for _, g := range requiredGroups {
		found := false
		for _, have := range groups {
			if have == g {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, g)
		}
	}
	if len(missing) == 0 {
		return Finding{ID: "group-membership", OK: true, Severity: SevInfo, Message: "current user is in " + strings.Join(requiredGroups, ", ")}
	}

	whoami, _ := exec.CommandContext(ctx, "whoami").Output()
	suggestion := fmt.Sprintf("sudo usermod -aG %s %s", strings.Join(missing, ","), strings.TrimSpace(string(whoami)))
	return Finding{
		ID: "group-membership", OK: false, Severity: SevWarn,
		Message: "current user is missing group(s): " + strings.Join(missing, ", ") + " (run: " + suggestion + ", then log out and back in)",
		Fixable: false,
	}
}

// checkHypervisorContexts reports C10's dual-context reachability: whether
// virsh can reach libvirt under both the system connection (qemu:///system,
// what the Hypervisor Driver always uses) and the per-user session
// connection (qemu:///session). Only the system context is load-bearing for
// this tool's own operations, but §4.10 names both as a distinct finding.
func (d *Doctor) checkHypervisorContexts(ctx context.Context, _ OSFamily) Finding {
	systemOK := exec.CommandContext(ctx, "virsh", "--connect", "qemu:///system", "version").Run() == nil
	sessionOK := exec.CommandContext(ctx, "virsh", "--connect", "qemu:///session", "version").Run() == nil

	if systemOK {
		msg := "system context (qemu:///system) reachable"
		if sessionOK {
			msg += "; session context (qemu:///session) also reachable"
		} else {
			msg += "; session context (qemu:///session) not reachable (not required by this tool)"
		}
		return Finding{ID: "hypervisor-contexts", OK: true, Severity: SevInfo, Message: msg}
	}
	msg := "system context (qemu:///system) not reachable — this is the context every operation uses"
	if sessionOK {
		msg += "; session context (qemu:///session) reachable"
	} else {
		msg += "; session context (qemu:///session) not reachable"
	}
	return Finding{
		ID: "hypervisor-contexts", OK: false, Severity: SevError,
		Message: msg,
		Fixable: false,
	}
}

// checkDefaultNetwork is §4.9's network row: defined, active, autostart.
func (d *Doctor) checkDefaultNetwork(ctx context.Context, _ OSFamily) Finding {
	defined, active, autostart := netInfo(ctx, "default")
	if defined && active && autostart {
		return Finding{ID: "network", OK: true, Severity: SevInfo, Message: "default network defined and active"}
	}
	return Finding{
		ID: "network", OK: false, Severity: SevError,
		Message: "default network not fully ready (defined=" + boolStr(defined) + " active=" + boolStr(active) + " autostart=" + boolStr(autostart) + ")",
		Fixable: true,
		Fix: func(ctx context.Context) error {
			return repairNetwork(ctx, defined, active)
		},
	}
}

// checkDefaultPool is §4.9's storage pool row.
func (d *Doctor) checkDefaultPool(ctx context.Context, _ OSFamily) Finding {
	defined, active, autostart := poolInfo(ctx, "default")
	if defined && active && autostart {
		return Finding{ID: "pool", OK: true, Severity: SevInfo, Message: "default storage pool defined and active"}
	}
	return Finding{
		ID: "pool", OK: false, Severity: SevError,
		Message: "default storage pool not fully ready",
		Fixable: true,
		Fix: func(ctx context.Context) error {
			return repairPool(ctx, defined, active)
		},
	}
}

// checkBaseDirAccess is §4.9's ACL/SELinux row.
func (d *Doctor) checkBaseDirAccess(ctx context.Context, _ OSFamily) Finding {
	cmd := exec.CommandContext(ctx, "sudo", "-n", "-u", "qemu", "test", "-x", d.Env.Base)
	if err := cmd.Run(); err == nil {
		return Finding{ID: "base-dir-access", OK: true, Severity: SevInfo, Message: "hypervisor service account can traverse base directory"}
	}
	return Finding{
		ID: "base-dir-access", OK: false, Severity: SevError,
		Message: "hypervisor service account cannot traverse " + d.Env.Base,
		Fixable: true,
		Fix: func(ctx context.Context) error {
			return repairBaseDirAccess(ctx, d.Env.Base)
		},
	}
}

// checkImageCatalog is §4.9's catalog-normalization row.
func (d *Doctor) checkImageCatalog(_ context.Context, _ OSFamily) Finding {
	cfg, err := config.LoadGlobal(d.Env.ConfigFile())
	if err != nil {
		return Finding{
			ID: "catalog", OK: false, Severity: SevError,
			Message: "global config invalid: " + err.Error(),
			Fixable: true,
			Fix: func(context.Context) error {
				fresh, err := config.LoadGlobal(d.Env.ConfigFile())
				if err != nil {
					return err
				}
				return config.SaveGlobal(d.Env.ConfigFile(), fresh)
			},
		}
	}
	if data, err := os.ReadFile(d.Env.ConfigFile()); err == nil && strings.Contains(string(data), "os_images:") {
		return Finding{
			ID: "catalog", OK: false, Severity: SevWarn,
			Message: "global config still uses the legacy os_images key",
			Fixable: true,
			Fix: func(context.Context) error {
				return config.SaveGlobal(d.Env.ConfigFile(), cfg)
			},
		}
	}
	return Finding{ID: "catalog", OK: true, Severity: SevInfo, Message: "image catalog normalized, default_os=" + cfg.DefaultOS}
}

// checkTemplates is §4.9's template-presence row. The three cloud-init
// documents are pure Go functions (internal/seed), not files on disk, so
// this check always resolves — it exists to keep the check sequence
// complete relative to §4.9's table, not because template files can go
// missing in this implementation.
func (d *Doctor) checkTemplates(_ context.Context, _ OSFamily) Finding {
	return Finding{ID: "templates", OK: true, Severity: SevInfo, Message: "cloud-init templates resolve"}
}

func boolStr(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
