package config

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/dockvirt/dockvirt/internal/dockvirt"
)

// dns1123 matches a DNS-1123 label: lowercase alphanumerics and '-', must
// start/end with an alphanumeric.
var dns1123 = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]*[a-z0-9])?$`)

// VMSpec is the frozen merge of GlobalConfig defaults, ProjectConfig, and
// CLI overrides (§3). Port is a pointer: a VM with no declared guest port
// skips the HTTP half of readiness probing (§4.11).
type VMSpec struct {
	Name   string
	Domain string
	Image  string
	Port   *int
	OS     string
	Mem    int // MiB
	CPUs   int
	Disk   int // GiB
	Net    string
}

// defaultMem, defaultCPUs, defaultDisk, defaultNet are the
// values used when the corresponding key is absent from every tier.
const (
	defaultMem  = 512
	defaultCPUs = 1
	defaultDisk = 10
	defaultNet  = "default"
)

// Resolve merges project and overrides (both key=value maps in the
// ProjectConfig grammar) on top of global's defaults into a frozen VMSpec,
// validating every invariant from §3. Precedence is global < project <
// overrides; overrides always win (§8).
func Resolve(global *GlobalConfig, project, overrides map[string]string, fallbackName string) (*VMSpec, error) {
	merged := map[string]string{}
	for k, v := range project {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}

	spec := &VMSpec{
		Name: fallbackName,
		OS:   global.DefaultOS,
		Mem:  defaultMem,
		CPUs: defaultCPUs,
		Disk: defaultDisk,
		Net:  defaultNet,
	}

	if v, ok := merged["name"]; ok && v != "" {
		spec.Name = v
	}
	if v, ok := merged["domain"]; ok {
		spec.Domain = v
	}
	if v, ok := merged["image"]; ok {
		spec.Image = v
	}
	if v, ok := merged["os"]; ok && v != "" {
		spec.OS = v
	}
	if v, ok := merged["net"]; ok && v != "" {
		spec.Net = v
	}

	if v, ok := merged["port"]; ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, dockvirt.New(dockvirt.ConfigInvalid, "port must be an integer", v, "set port=<1-65535>")
		}
		spec.Port = &n
	}
	if v, ok := merged["mem"]; ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, dockvirt.New(dockvirt.ConfigInvalid, "mem must be an integer", v, "set mem=<MiB, >=256>")
		}
		spec.Mem = n
	}
	if v, ok := merged["cpus"]; ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, dockvirt.New(dockvirt.ConfigInvalid, "cpus must be an integer", v, "set cpus=<>=1>")
		}
		spec.CPUs = n
	}
	if v, ok := merged["disk"]; ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, dockvirt.New(dockvirt.ConfigInvalid, "disk must be an integer", v, "set disk=<GiB, >=1>")
		}
		spec.Disk = n
	}

	if err := validate(spec, global); err != nil {
		return nil, err
	}
	return spec, nil
}

// validate checks every VMSpec invariant from §3.
func validate(spec *VMSpec, global *GlobalConfig) error {
	name := strings.ToLower(spec.Name)
	if name == "" || !dns1123.MatchString(name) || len(name) > 63 {
		return dockvirt.New(dockvirt.ConfigInvalid, "name must be a valid DNS-1123 label", spec.Name, "use lowercase letters, digits, and '-'")
	}
	spec.Name = name

	if _, ok := global.Images[spec.OS]; !ok {
		return dockvirt.New(dockvirt.UnknownOS, "os is not a known image key", spec.OS, "run `dockvirt check` or add an images entry")
	}
	if spec.Port != nil && (*spec.Port < 1 || *spec.Port > 65535) {
		return dockvirt.New(dockvirt.ConfigInvalid, "port must be in [1,65535]", strconv.Itoa(*spec.Port), "set port=<1-65535>")
	}
	if spec.Mem < 256 {
		return dockvirt.New(dockvirt.ConfigInvalid, "mem must be >= 256", strconv.Itoa(spec.Mem), "set mem=<MiB, >=256>")
	}
	if spec.CPUs < 1 {
		return dockvirt.New(dockvirt.ConfigInvalid, "cpus must be >= 1", strconv.Itoa(spec.CPUs), "set cpus=<>=1>")
	}
	if spec.Disk < 1 {
		return dockvirt.New(dockvirt.ConfigInvalid, "disk must be >= 1", strconv.Itoa(spec.Disk), "set disk=<GiB, >=1>")
	}
	return nil
}
