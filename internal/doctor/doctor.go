// Package doctor implements the Doctor / Self-Heal (C9) and System Probe
// (C10): a sequence of independent, idempotent checks with optional
// repairs. Grounded on h3ow3d-nlab/internal/doctor.go (superseded
// monolith: CheckResult{Name, OK, Message, HowToFix}, checkCommand,
// checkKVM, checkLibvirtConn) and internal/network/network.go's
// defined->active->autostart repair sequence, plus
// original_source/scripts/doctor.py and scripts/fix_permissions.py for the
// supplemental checks and the exact ACL/SELinux repair commands.
package doctor

import (
	"context"
	"os/exec"
	"runtime"
)

// Severity matches the DoctorReport finding severities (§3).
type Severity string

const (
	SevInfo  Severity = "info"
	SevWarn  Severity = "warn"
	SevError Severity = "error"
)

// Finding is one row of a DoctorReport (§3). Fix is nil when the finding
// is not fixable; it must be idempotent when present.
type Finding struct {
	ID       string
	OK       bool
	Severity Severity
	Message  string
	Fixable  bool
	Fix      func(ctx context.Context) error
}

// Report is an ordered DoctorReport.
type Report struct {
	Findings []Finding
}

// AllOK reports whether every finding passed.
func (r *Report) AllOK() bool {
	for _, f := range r.Findings {
		if !f.OK {
			return false
		}
	}
	return true
}

// requiredTools are the external binaries §4.9's first check row names:
// hypervisor CLI, image utilities, seed ISO tool, container runtime,
// download utility.
var requiredTools = []string{"virsh", "virt-install", "qemu-img", "cloud-localds", "docker", "curl"}

// OSFamily detects the host's package manager family (C10).
type OSFamily string

const (
	FamilyAPT     OSFamily = "apt"
	FamilyDNF     OSFamily = "dnf"
	FamilyPacman  OSFamily = "pacman"
	FamilyUnknown OSFamily = "unknown"
)

// DetectOSFamily is pure: it never mutates the host (§4.10).
func DetectOSFamily() OSFamily {
	if runtime.GOOS != "linux" {
		return FamilyUnknown
	}
	for tool, family := range map[string]OSFamily{"apt-get": FamilyAPT, "dnf": FamilyDNF, "pacman": FamilyPacman} {
		if _, err := exec.LookPath(tool); err == nil {
			return family
		}
	}
	return FamilyUnknown
}

// installHint returns a platform-specific install suggestion for tool,
// never an auto-install action (§4.9: "Surface platform-specific install
// hint; never auto-install").
func installHint(family OSFamily, tool string) string {
	pkg := map[string]map[OSFamily]string{
		"virsh":         {FamilyAPT: "apt install libvirt-clients", FamilyDNF: "dnf install libvirt-client", FamilyPacman: "pacman -S libvirt"},
		"virt-install":  {FamilyAPT: "apt install virtinst", FamilyDNF: "dnf install virt-install", FamilyPacman: "pacman -S virt-install"},
		"qemu-img":      {FamilyAPT: "apt install qemu-utils", FamilyDNF: "dnf install qemu-img", FamilyPacman: "pacman -S qemu-img"},
		"cloud-localds": {FamilyAPT: "apt install cloud-image-utils", FamilyDNF: "dnf install cloud-utils", FamilyPacman: "pacman -S cloud-utils"},
		"docker":        {FamilyAPT: "apt install docker.io", FamilyDNF: "dnf install docker", FamilyPacman: "pacman -S docker"},
	}
	if byFamily, ok := pkg[tool]; ok {
		if hint, ok := byFamily[family]; ok {
			return "install with: sudo " + hint
		}
	}
	return "install " + tool + " using your distribution's package manager"
}
