package seed

import (
	"strings"
	"testing"

	"github.com/dockvirt/dockvirt/internal/config"
)

func TestUserDataRemoteImage(t *testing.T) {
	port := 80
	spec := &config.VMSpec{Name: "demo", Domain: "demo.local", Port: &port}
	c := Context{Spec: spec, RemoteImage: true, NormalizedImage: "index.docker.io/library/nginx:latest"}

	doc := UserData(c)
	if !strings.Contains(doc, "docker pull index.docker.io/library/nginx:latest") {
		t.Errorf("expected pull command for remote image, got:\n%s", doc)
	}
	if !strings.Contains(doc, "-p 80:80") {
		t.Errorf("expected published guest port, got:\n%s", doc)
	}
	if !strings.Contains(doc, "/etc/caddy/Caddyfile") {
		t.Errorf("expected Caddyfile write_files entry, got:\n%s", doc)
	}
}

func TestUserDataBuildInVM(t *testing.T) {
	port := 8080
	spec := &config.VMSpec{Name: "demo", Domain: "demo.local", Port: &port}
	c := Context{Spec: spec, RemoteImage: false, ProjectContextB64: "RlJPTSBzY3JhdGNo"}

	doc := UserData(c)
	if !strings.Contains(doc, "docker build -t app:local /opt/app") {
		t.Errorf("expected in-VM build command, got:\n%s", doc)
	}
	if !strings.Contains(doc, "tar -xzf /opt/app-context.tar.gz -C /opt/app") {
		t.Errorf("expected project context to be untarred before build, got:\n%s", doc)
	}
}

func TestUserDataNoPortSkipsProxy(t *testing.T) {
	spec := &config.VMSpec{Name: "demo"}
	c := Context{Spec: spec, RemoteImage: true, NormalizedImage: "nginx"}

	doc := UserData(c)
	if strings.Contains(doc, "Caddyfile") {
		t.Errorf("expected no reverse proxy config without a declared port, got:\n%s", doc)
	}
}

func TestMetaDataAndNetworkConfig(t *testing.T) {
	spec := &config.VMSpec{Name: "demo"}
	c := Context{Spec: spec}

	md := MetaData(c)
	if !strings.Contains(md, "instance-id: demo") || !strings.Contains(md, "local-hostname: demo") {
		t.Errorf("unexpected meta-data:\n%s", md)
	}

	nc := NetworkConfig(c)
	if !strings.Contains(nc, "dhcp4: true") {
		t.Errorf("expected dhcp4 network-config, got:\n%s", nc)
	}
}
