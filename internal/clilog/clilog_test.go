package clilog

import (
	"bytes"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/dockvirt/dockvirt/internal/dockvirt"
)

// captureStdout is needed because Info/Ok/Skip write directly to os.Stdout;
// term.IsTerminal is always false against the redirected pipe, so no ANSI
// codes need to be stripped from the assertions below.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	orig := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	fn()
	w.Close()

	var buf bytes.Buffer
	io.Copy(&buf, r)
	return buf.String()
}

func TestInfoUsesPlusPrefix(t *testing.T) {
	out := captureStdout(t, func() { Info("hello") })
	if !strings.Contains(out, "[+]") || !strings.Contains(out, "hello") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestOkUsesCheckPrefix(t *testing.T) {
	out := captureStdout(t, func() { Ok("done") })
	if !strings.Contains(out, "[✓]") || !strings.Contains(out, "done") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestSkipUsesEqualsPrefix(t *testing.T) {
	out := captureStdout(t, func() { Skip("already present") })
	if !strings.Contains(out, "[=]") {
		t.Fatalf("unexpected output %q", out)
	}
}

// captureStderr mirrors captureStdout for Error/Warn/Outcome, which write to
// os.Stderr.
func captureStderr(t *testing.T, fn func()) string {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	orig := os.Stderr
	os.Stderr = w
	defer func() { os.Stderr = orig }()

	fn()
	w.Close()

	var buf bytes.Buffer
	io.Copy(&buf, r)
	return buf.String()
}

func TestOutcomeWarnsOnLeaseTimeout(t *testing.T) {
	err := dockvirt.New(dockvirt.LeaseTimeout, "no DHCP lease acquired", "demo", "")
	out := captureStderr(t, func() { Outcome(err) })
	if !strings.Contains(out, "[~]") {
		t.Fatalf("expected a warn prefix for a LeaseTimeout outcome, got %q", out)
	}
}

func TestOutcomeErrorsOnOtherKinds(t *testing.T) {
	err := dockvirt.New(dockvirt.DomainCreate, "domain already exists", "demo", "")
	out := captureStderr(t, func() { Outcome(err) })
	if !strings.Contains(out, "[!]") {
		t.Fatalf("expected an error prefix for a DomainCreate outcome, got %q", out)
	}
}
