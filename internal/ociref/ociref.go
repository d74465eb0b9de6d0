// Package ociref validates and normalizes the container image reference
// named in a VMSpec, determining whether it is remote-resolvable — the
// Seed Builder's check for §4.4 point 2 ("pull a published image if the
// container image reference is remote-resolvable"). Grounded on
// maxdollinger-walk.io/pkg/oci/registry.go's NewRegistryProvider, which
// normalizes bare image names the same way (adds the docker.io/library/
// prefix) before calling name.ParseReference.
package ociref

import (
	"context"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote"
)

// Resolvable reports whether ref parses as a well-formed image reference
// and whether it (as best-effort, not authenticated) looks fetchable from
// its registry. Parse failures are reported via ok=false rather than an
// error: an unparsceable reference simply means the Seed Builder falls back
// to the in-VM-build path (point 2's "OR") instead of failing the whole
// VMSpec.
func Resolvable(ctx context.Context, ref string) (normalized string, ok bool) {
	r, err := name.ParseReference(ref, name.WithDefaultRegistry("index.docker.io"))
	if err != nil {
		return "", false
	}
	normalized = r.Name()

	if _, err := remote.Head(r, remote.WithContext(ctx)); err != nil {
		// Registry unreachable, private, or the tag doesn't exist: still a
		// well-formed reference, but not confirmed remote-resolvable. The
		// Seed Builder treats this the same as "build in VM".
		return normalized, false
	}
	return normalized, true
}
