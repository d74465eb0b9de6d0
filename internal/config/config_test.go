package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dockvirt/dockvirt/internal/dockvirt"
)

func TestLegacyAliasRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	raw := `default_os: ubuntu22.04
os_images:
  ubuntu22.04:
    url: https://example.invalid/ubuntu.img
    variant: ubuntu22.04
`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadGlobal(path)
	if err != nil {
		t.Fatalf("LoadGlobal: %v", err)
	}
	if _, ok := cfg.Images["ubuntu22.04"]; !ok {
		t.Fatalf("expected os_images entry to read back under images, got %v", cfg.Images)
	}

	if err := SaveGlobal(path, cfg); err != nil {
		t.Fatalf("SaveGlobal: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if containsKey(string(data), "os_images") {
		t.Fatalf("expected file to contain only images after write, got:\n%s", data)
	}
	if !containsKey(string(data), "images") {
		t.Fatalf("expected file to contain images after write, got:\n%s", data)
	}
}

func containsKey(doc, key string) bool {
	return len(doc) > 0 && (indexOf(doc, key+":") >= 0)
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

func TestDefaultCatalogWrittenOnFirstRun(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg, err := LoadGlobal(path)
	if err != nil {
		t.Fatalf("LoadGlobal: %v", err)
	}
	if len(cfg.Images) < 2 {
		t.Fatalf("expected at least two default images, got %d", len(cfg.Images))
	}
	if _, ok := cfg.Images[cfg.DefaultOS]; !ok {
		t.Fatalf("default_os %q not present in images", cfg.DefaultOS)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected config file to be written, stat: %v", err)
	}
}

func TestResolvePrecedence(t *testing.T) {
	global := defaultCatalog()

	project := map[string]string{"name": "fromproject", "mem": "1024"}
	overrides := map[string]string{"mem": "2048"}

	spec, err := Resolve(global, project, overrides, "fallback")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if spec.Name != "fromproject" {
		t.Errorf("expected project name to win over fallback, got %q", spec.Name)
	}
	if spec.Mem != 2048 {
		t.Errorf("expected CLI override to win over project, got mem=%d", spec.Mem)
	}
}

func TestResolveBoundaries(t *testing.T) {
	global := defaultCatalog()

	cases := []struct {
		name    string
		kv      map[string]string
		wantErr dockvirt.Kind
	}{
		{"mem too low", map[string]string{"mem": "255"}, dockvirt.ConfigInvalid},
		{"mem at floor", map[string]string{"mem": "256"}, ""},
		{"port zero", map[string]string{"port": "0"}, dockvirt.ConfigInvalid},
		{"port too big", map[string]string{"port": "65536"}, dockvirt.ConfigInvalid},
		{"port valid", map[string]string{"port": "80"}, ""},
		{"unknown os", map[string]string{"os": "alpine99"}, dockvirt.UnknownOS},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := Resolve(global, map[string]string{"name": "demo"}, c.kv, "demo")
			if c.wantErr == "" {
				if err != nil {
					t.Fatalf("expected success, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error of kind %s, got nil", c.wantErr)
			}
			if dockvirt.KindOf(err) != c.wantErr {
				t.Fatalf("expected kind %s, got %s (%v)", c.wantErr, dockvirt.KindOf(err), err)
			}
		})
	}
}

func TestParseProjectFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".dockvirtrc")
	content := "# comment\nname=demo\n\ndomain=demo.local\nname=demo2\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	kv, err := ParseProjectFile(path)
	if err != nil {
		t.Fatalf("ParseProjectFile: %v", err)
	}
	if kv["name"] != "demo2" {
		t.Errorf("expected last-wins duplicate key, got %q", kv["name"])
	}
	if kv["domain"] != "demo.local" {
		t.Errorf("expected domain=demo.local, got %q", kv["domain"])
	}
}

func TestDiscoverProjectFileWalksUpward(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b", "c")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}
	rcPath := filepath.Join(root, "a", ".dockvirtrc")
	if err := os.WriteFile(rcPath, []byte("name=demo\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	found, err := DiscoverProjectFile(nested)
	if err != nil {
		t.Fatalf("DiscoverProjectFile: %v", err)
	}
	if found != rcPath {
		t.Errorf("expected %q, got %q", rcPath, found)
	}
}
