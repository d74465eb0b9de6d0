// Package installer implements the `generate-image` verb. Its output
// contract is explicitly left to the implementer (§9 Open Questions).
// Generate writes an ISO 9660 image carrying the compiled binary, a
// first-boot systemd unit that runs `dockvirt heal --apply`, and a copy of
// the default global config. The image has no boot record, and nothing on
// it copies those files onto a host: it is a data disc. Assembled by
// running genisoimage as a child process, the same subprocess idiom
// internal/seed uses with cloud-localds.
package installer

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/dockvirt/dockvirt/internal/config"
	"github.com/dockvirt/dockvirt/internal/dockvirt"
)

const firstBootUnit = `[Unit]
Description=dockvirt first-boot self-heal
After=network-online.target
Wants=network-online.target
ConditionPathExists=!/var/lib/dockvirt-installer/first-boot-done

[Service]
Type=oneshot
ExecStart=/usr/local/bin/dockvirt heal --apply
ExecStartPost=/bin/touch /var/lib/dockvirt-installer/first-boot-done
RemainAfterExit=true

[Install]
WantedBy=multi-user.target
`

// Generate assembles an installer ISO at outputPath: the compiled binary at
// binaryPath, the default GlobalConfig, and the first-boot unit above. The
// ISO carries no boot record.
func Generate(ctx context.Context, binaryPath, outputPath string) error {
	staging, err := os.MkdirTemp("", "dockvirt-installer-")
	if err != nil {
		return dockvirt.Wrap(dockvirt.Internal, err, "create staging dir", "", "")
	}
	defer os.RemoveAll(staging)

	binData, err := os.ReadFile(binaryPath)
	if err != nil {
		return dockvirt.Wrap(dockvirt.Internal, err, "read dockvirt binary", binaryPath, "build it first")
	}
	if err := os.WriteFile(filepath.Join(staging, "dockvirt"), binData, 0o755); err != nil {
		return dockvirt.Wrap(dockvirt.Internal, err, "stage binary", staging, "")
	}

	if err := os.WriteFile(filepath.Join(staging, "dockvirt-heal.service"), []byte(firstBootUnit), 0o644); err != nil {
		return dockvirt.Wrap(dockvirt.Internal, err, "stage systemd unit", staging, "")
	}

	defaultConfigPath := filepath.Join(staging, "config.yaml")
	if err := config.SaveGlobal(defaultConfigPath, defaultConfigForInstaller()); err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, "genisoimage",
		"-o", outputPath,
		"-V", "DOCKVIRTINST",
		"-r", "-J",
		staging,
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return dockvirt.Wrap(dockvirt.Internal, err, "genisoimage", string(out), "ensure genisoimage (or mkisofs) is installed")
	}
	return nil
}

func defaultConfigForInstaller() *config.GlobalConfig {
	return &config.GlobalConfig{
		DefaultOS: "ubuntu22.04",
		Images: map[string]config.OSImage{
			"ubuntu22.04": {
				URL:     "https://cloud-images.ubuntu.com/jammy/current/jammy-server-cloudimg-amd64.img",
				Variant: "ubuntu22.04",
			},
		},
	}
}
