// Package diskbuilder implements the Disk Builder (C5): a qemu-img overlay
// disk backed by the cached base image. Grounded on
// original_source/dockvirt/vm_manager.py's
// "qemu-img create -f qcow2 -b {base_image} {disk_img} {disk}G" invocation
// and on h3ow3d-nlab/internal/vm/vm.go's subprocess-wrapping idiom.
package diskbuilder

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"

	"github.com/dockvirt/dockvirt/internal/dockvirt"
)

// DiskName is the overlay disk filename inside a VM's work_dir (§6).
const DiskName = "disk.qcow2"

// Build creates <workDir>/disk.qcow2 as a copy-on-write overlay of
// basePath, sized to diskGiB (§4.5).
func Build(ctx context.Context, basePath, workDir string, diskGiB int) (string, error) {
	diskPath := filepath.Join(workDir, DiskName)

	cmd := exec.CommandContext(ctx, "qemu-img", "create",
		"-f", "qcow2",
		"-F", "qcow2",
		"-b", basePath,
		diskPath,
		fmt.Sprintf("%dG", diskGiB),
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", dockvirt.Wrap(dockvirt.DiskCreate, err, "qemu-img create", string(out), "check that qemu-img is installed and the base image path is correct")
	}
	return diskPath, nil
}

// Resize grows the overlay disk at diskPath to diskGiB. The overlay must be
// resizable to the configured disk size (§4.5).
func Resize(ctx context.Context, diskPath string, diskGiB int) error {
	cmd := exec.CommandContext(ctx, "qemu-img", "resize", diskPath, fmt.Sprintf("%dG", diskGiB))
	if out, err := cmd.CombinedOutput(); err != nil {
		return dockvirt.Wrap(dockvirt.DiskCreate, err, "qemu-img resize", string(out), "")
	}
	return nil
}
