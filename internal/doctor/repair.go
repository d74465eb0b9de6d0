package doctor

import (
	"context"
	"os/exec"
	"strings"
)

func virsh(ctx context.Context, args ...string) (string, error) {
	full := append([]string{"--connect", libvirtURI}, args...)
	out, err := exec.CommandContext(ctx, "virsh", full...).CombinedOutput()
	return string(out), err
}

// netInfo reports a libvirt network's defined/active/autostart state,
// mirroring h3ow3d-nlab/internal/network/network.go's isDefined/isActive.
func netInfo(ctx context.Context, name string) (defined, active, autostart bool) {
	out, err := virsh(ctx, "net-info", name)
	if err != nil {
		return false, false, false
	}
	defined = true
	for _, line := range strings.Split(out, "\n") {
		switch {
		case strings.HasPrefix(line, "Active:"):
			active = strings.Contains(line, "yes")
		case strings.HasPrefix(line, "Autostart:"):
			autostart = strings.Contains(line, "yes")
		}
	}
	return
}

// repairNetwork defines (from the system-provided NAT XML) and starts the
// default network, then sets autostart — the exact sequence
// h3ow3d-nlab/internal/network/network.go's Create uses, generalized to
// the host's own default-network XML instead of a lab-specific one.
func repairNetwork(ctx context.Context, defined, active bool) error {
	if !defined {
		if _, err := virsh(ctx, "net-define", "/usr/share/libvirt/networks/default.xml"); err != nil {
			return err
		}
	}
	if !active {
		if _, err := virsh(ctx, "net-start", "default"); err != nil {
			return err
		}
	}
	_, err := virsh(ctx, "net-autostart", "default")
	return err
}

// poolInfo reports a libvirt storage pool's defined/active/autostart state.
func poolInfo(ctx context.Context, name string) (defined, active, autostart bool) {
	out, err := virsh(ctx, "pool-info", name)
	if err != nil {
		return false, false, false
	}
	defined = true
	for _, line := range strings.Split(out, "\n") {
		switch {
		case strings.HasPrefix(line, "State:"):
			active = strings.Contains(line, "running")
		case strings.HasPrefix(line, "Autostart:"):
			autostart = strings.Contains(line, "yes")
		}
	}
	return
}

// repairPool defines a directory pool under the system images directory,
// builds, starts, and autostarts it (§4.9).
func repairPool(ctx context.Context, defined, active bool) error {
	const imagesDir = "/var/lib/libvirt/images"
	if !defined {
		if _, err := virsh(ctx, "pool-define-as", "default", "dir", "--target", imagesDir); err != nil {
			return err
		}
		if _, err := virsh(ctx, "pool-build", "default"); err != nil {
			return err
		}
	}
	if !active {
		if _, err := virsh(ctx, "pool-start", "default"); err != nil {
			return err
		}
	}
	_, err := virsh(ctx, "pool-autostart", "default")
	return err
}

// repairBaseDirAccess grants the hypervisor service account (qemu) ACL
// read+execute on the base directory and, when SELinux is enforcing,
// applies a label permitting access and restores contexts recursively.
// Commands are taken verbatim from
// original_source/scripts/fix_permissions.py.
func repairBaseDirAccess(ctx context.Context, base string) error {
	if out, err := exec.CommandContext(ctx, "setfacl", "-R", "-m", "u:qemu:rx", base).CombinedOutput(); err != nil {
		return wrapCmdErr("setfacl", out, err)
	}

	if mode, err := exec.CommandContext(ctx, "getenforce").Output(); err == nil && strings.TrimSpace(string(mode)) == "Enforcing" {
		pattern := base + "(/.*)?"
		_, _ = exec.CommandContext(ctx, "semanage", "fcontext", "-a", "-t", "svirt_image_t", pattern).CombinedOutput()
		if out, err := exec.CommandContext(ctx, "restorecon", "-Rv", base).CombinedOutput(); err != nil {
			return wrapCmdErr("restorecon", out, err)
		}
	}
	return nil
}

func wrapCmdErr(cmd string, out []byte, err error) error {
	return &cmdError{cmd: cmd, out: string(out), cause: err}
}

type cmdError struct {
	cmd   string
	out   string
	cause error
}

func (e *cmdError) Error() string { return e.cmd + ": " + e.cause.Error() + ": " + e.out }
func (e *cmdError) Unwrap() error { return e.cause }
