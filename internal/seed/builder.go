package seed

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/base64"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/dockvirt/dockvirt/internal/config"
	"github.com/dockvirt/dockvirt/internal/dockvirt"
	"github.com/dockvirt/dockvirt/internal/ociref"
)

// IsoName is the filename the Disk Builder and Hypervisor Driver expect the
// Seed Builder to have produced inside a VM's work_dir.
const IsoName = "seed.iso"

// registryProbeTimeout bounds the remote registry check so a slow or
// unreachable registry can't leave `up` blocked indefinitely (§5 "none are
// unbounded") even though the caller's own context carries no deadline.
const registryProbeTimeout = 5 * time.Second

// Resolver decides whether an image reference is fetchable from a remote
// registry. A seam over ociref.Resolvable, mirroring hypervisor.Runner, so
// Builder.Build is testable without a live network call.
type Resolver interface {
	Resolvable(ctx context.Context, ref string) (normalized string, ok bool)
}

type ociResolver struct{}

func (ociResolver) Resolvable(ctx context.Context, ref string) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, registryProbeTimeout)
	defer cancel()
	return ociref.Resolvable(ctx, ref)
}

// Builder assembles the cloud-init seed ISO for one VMSpec (C4). Resolver is
// an explicit seam, per the design notes' call to avoid ambient singletons
// and keep the network call stubbable.
type Builder struct {
	Resolver Resolver
}

// New returns a Builder backed by the real, timeout-bounded registry
// resolver.
func New() *Builder {
	return &Builder{Resolver: ociResolver{}}
}

// Build renders user-data/meta-data/network-config into workDir, stages the
// project directory (if the image is not remote-resolvable), and assembles
// them into a cidata-labeled ISO via cloud-localds (§4.4, §6).
func (b *Builder) Build(ctx context.Context, spec *config.VMSpec, guestVariant, projectDir, workDir string) (string, error) {
	if err := os.MkdirAll(workDir, 0o700); err != nil {
		return "", dockvirt.Wrap(dockvirt.Internal, err, "create work_dir", workDir, "")
	}

	tctx := Context{Spec: spec, GuestVariant: guestVariant}

	normalized, remote := b.Resolver.Resolvable(ctx, spec.Image)
	if remote {
		tctx.RemoteImage = true
		tctx.NormalizedImage = normalized
	} else {
		// Carry the whole project directory, not just the Dockerfile: a
		// real Dockerfile's COPY/ADD instructions need the files they
		// reference to exist in the in-guest build context too (§4.4
		// feature supplement).
		archive, err := tarProjectDir(projectDir)
		if err != nil {
			return "", dockvirt.Wrap(dockvirt.Internal, err, "tar project directory", projectDir, "")
		}
		if archive != nil {
			tctx.ProjectContextB64 = base64.StdEncoding.EncodeToString(archive)
		}
	}

	userData := UserData(tctx)
	metaData := MetaData(tctx)
	networkConfig := NetworkConfig(tctx)

	userDataPath := filepath.Join(workDir, "user-data")
	metaDataPath := filepath.Join(workDir, "meta-data")
	networkConfigPath := filepath.Join(workDir, "network-config")

	for path, content := range map[string]string{
		userDataPath:      userData,
		metaDataPath:      metaData,
		networkConfigPath: networkConfig,
	} {
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			return "", dockvirt.Wrap(dockvirt.Internal, err, "write cloud-init document", path, "")
		}
	}

	isoPath := filepath.Join(workDir, IsoName)
	cmd := exec.CommandContext(ctx, "cloud-localds",
		"--network-config", networkConfigPath,
		isoPath, userDataPath, metaDataPath,
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", dockvirt.Wrap(dockvirt.Internal, err, "cloud-localds", string(out), "ensure cloud-image-utils is installed")
	}

	return isoPath, nil
}

// tarProjectDir gzips the whole projectDir into an in-memory tar archive.
// Returns a nil archive (not an error) when projectDir doesn't exist: a
// VMSpec isn't required to have a local build context if its image always
// turns out remote-resolvable in practice.
func tarProjectDir(projectDir string) ([]byte, error) {
	if _, err := os.Stat(projectDir); os.IsNotExist(err) {
		return nil, nil
	}

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)

	walkErr := filepath.Walk(projectDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(projectDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if info.IsDir() && (info.Name() == ".git" || info.Name() == "node_modules") {
			return filepath.SkipDir
		}

		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if walkErr != nil {
		return nil, walkErr
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := gw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
