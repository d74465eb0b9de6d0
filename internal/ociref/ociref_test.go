package ociref

import (
	"context"
	"testing"
)

func TestResolvableRejectsMalformedReference(t *testing.T) {
	_, ok := Resolvable(context.Background(), "not a valid ref!!")
	if ok {
		t.Fatal("expected a malformed reference to report ok=false")
	}
}

func TestResolvableNormalizesBareName(t *testing.T) {
	// A bare name without a registry host still parses; whether it is
	// actually fetchable depends on network access this test does not have,
	// so only the parse/normalize half is asserted here.
	normalized, _ := Resolvable(context.Background(), "library/nginx:latest")
	if normalized == "" {
		t.Fatal("expected a well-formed bare reference to normalize to a non-empty name")
	}
}
