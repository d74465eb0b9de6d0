// Package config implements the Config Resolver (C1) and Image Catalog
// (C2): merging GlobalConfig/ProjectConfig/CLI overrides into a frozen
// VMSpec, and maintaining the per-OS image catalog with its legacy key
// alias. Grounded on h3ow3d-nlab/internal/stack/stack.go's yaml.v3
// load pattern and on original_source/dockvirt/image_manager.py's
// get_image_path alias-merge semantics.
package config

import (
	"bytes"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/dockvirt/dockvirt/internal/dockvirt"
)

// OSImage is one entry of the image catalog (§3).
type OSImage struct {
	Key     string
	URL     string `yaml:"url"`
	Variant string `yaml:"variant"`
}

// GlobalConfig is the per-user catalog persisted at <base>/config.yaml (§3).
type GlobalConfig struct {
	DefaultOS string             `yaml:"default_os"`
	Images    map[string]OSImage `yaml:"images"`
}

// rawGlobalConfig mirrors the on-disk shape, accepting both the current
// "images" key and the legacy "os_images" alias so both can be read and
// unified before validation (§3, §4.2).
type rawGlobalConfig struct {
	DefaultOS string             `yaml:"default_os"`
	Images    map[string]OSImage `yaml:"images"`
	OSImages  map[string]OSImage `yaml:"os_images"`
}

// defaultCatalog is written on first run: a current Ubuntu LTS and a current
// Fedora Cloud base, per §4.2 and the feature supplement pinning their exact
// values.
func defaultCatalog() *GlobalConfig {
	return &GlobalConfig{
		DefaultOS: "ubuntu22.04",
		Images: map[string]OSImage{
			"ubuntu22.04": {
				URL:     "https://cloud-images.ubuntu.com/jammy/current/jammy-server-cloudimg-amd64.img",
				Variant: "ubuntu22.04",
			},
			"fedora39": {
				URL:     "https://download.fedoraproject.org/pub/fedora/linux/releases/39/Cloud/x86_64/images/Fedora-Cloud-Base-39-1.5.x86_64.qcow2",
				Variant: "fedora39",
			},
		},
	}
}

// LoadGlobal reads the GlobalConfig at path, writing a default one if
// absent, and normalizes the legacy os_images alias into images without
// rewriting the file (normalization-on-write happens only via SaveGlobal,
// per §4.2 "normalizes to images: on write").
func LoadGlobal(path string) (*GlobalConfig, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg := defaultCatalog()
		if err := SaveGlobal(path, cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	if err != nil {
		return nil, dockvirt.Wrap(dockvirt.Internal, err, "read global config", path, "")
	}

	var raw rawGlobalConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		return nil, dockvirt.Wrap(dockvirt.ConfigInvalid, err, "parse global config", path, "fix the YAML syntax")
	}

	cfg := &GlobalConfig{DefaultOS: raw.DefaultOS, Images: map[string]OSImage{}}
	for k, v := range raw.OSImages {
		v.Key = k
		cfg.Images[k] = v
	}
	for k, v := range raw.Images {
		v.Key = k
		cfg.Images[k] = v // images always wins over os_images, mirroring get_image_path
	}

	if cfg.DefaultOS == "" {
		return nil, dockvirt.New(dockvirt.ConfigInvalid, "default_os is required", path, "set default_os in config.yaml")
	}
	if _, ok := cfg.Images[cfg.DefaultOS]; !ok {
		return nil, dockvirt.New(dockvirt.ConfigInvalid, "default_os is not a known image key", cfg.DefaultOS, "add an images entry for it or change default_os")
	}

	return cfg, nil
}

// SaveGlobal writes cfg to path, always under the current "images" key —
// this is the write-side half of the legacy alias unification.
func SaveGlobal(path string, cfg *GlobalConfig) error {
	images := make(map[string]OSImage, len(cfg.Images))
	for k, v := range cfg.Images {
		images[k] = OSImage{URL: v.URL, Variant: v.Variant}
	}
	out := GlobalConfig{DefaultOS: cfg.DefaultOS, Images: images}

	data, err := yaml.Marshal(out)
	if err != nil {
		return dockvirt.Wrap(dockvirt.Internal, err, "marshal global config", path, "")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return dockvirt.Wrap(dockvirt.Internal, err, "create config dir", path, "")
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return dockvirt.Wrap(dockvirt.Internal, err, "write global config", path, "")
	}
	return nil
}

// Lookup returns the OSImage for key, failing with UnknownOS otherwise
// (§4.2).
func Lookup(cfg *GlobalConfig, key string) (OSImage, error) {
	img, ok := cfg.Images[key]
	if !ok {
		return OSImage{}, dockvirt.New(dockvirt.UnknownOS, "unknown OS image key", key, "run `dockvirt check` to see configured images, or add one to config.yaml")
	}
	img.Key = key
	return img, nil
}
