package config

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/dockvirt/dockvirt/internal/dockvirt"
)

// projectFileName is the fixed, hidden conventional name discovered by
// upward traversal (§6).
const projectFileName = ".dockvirtrc"

// DiscoverProjectFile walks upward from dir until it finds projectFileName
// or reaches the filesystem root. It returns "" with no error if none is
// found — a missing project file is not itself a ConfigInvalid condition,
// callers resolve purely from global defaults and CLI overrides in that
// case.
func DiscoverProjectFile(dir string) (string, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", dockvirt.Wrap(dockvirt.Internal, err, "resolve working directory", dir, "")
	}
	for {
		candidate := filepath.Join(dir, projectFileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}

// ParseProjectFile parses a key=value file: "#" comments and blank lines are
// ignored, duplicate keys have last-wins semantics, unknown keys are
// preserved (§4.1, §6). The core never does I/O beyond reading this single
// file.
func ParseProjectFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, dockvirt.Wrap(dockvirt.ConfigInvalid, err, "read project config", path, "")
	}
	defer f.Close()

	out := map[string]string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		out[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		return nil, dockvirt.Wrap(dockvirt.ConfigInvalid, err, "scan project config", path, "")
	}
	return out, nil
}
