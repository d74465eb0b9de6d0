// Package stack implements the Stack Reconciler (C8): deploying and
// destroying a declared, acyclic set of named VMs with dependency order and
// bounded parallelism. Grounded on h3ow3d-nlab/internal/stack/stack.go's
// yaml.v3 Config{Network, VMs} shape, generalized from "all VMs in one
// network, no dependencies" to named nodes with depends_on, and on
// cmd/nlab/main.go's parallel-fan-out-with-WaitGroup idiom for the worker
// pool (here bounded via golang.org/x/sync/errgroup.SetLimit instead of an
// unbounded goroutine-per-VM).
package stack

// NodeSpec is one VMSpec-shaped entry in a StackDecl (§3). KV holds the
// same key=value shape ProjectConfig uses, per §6's "an implementation MAY
// accept the same key/value shape... to keep the surfaces uniform".
type NodeSpec struct {
	Name      string
	KV        map[string]string
	DependsOn []string
}

// Decl is a StackDecl (§3): an ordered sequence of VMSpec-producing entries
// with optional depends_on, invariantly acyclic with unique names.
type Decl struct {
	Nodes []NodeSpec
}

// Status is a node's outcome in a Deploy/Destroy run.
type Status string

const (
	Pending   Status = "Pending"
	Succeeded Status = "Succeeded"
	// Degraded means the node's VM reached Running but a readiness warning
	// (LeaseTimeout/HTTPTimeout) occurred; dependents are not blocked by a
	// degraded dependency, since the ordering guarantee is about reaching
	// Running, not Ready (§5).
	Degraded Status = "Degraded"
	Failed   Status = "Failed"
	Skipped  Status = "Skipped"
)

// satisfiesDependents reports whether a node's terminal status is enough to
// let its dependents proceed.
func (s Status) satisfiesDependents() bool {
	return s == Succeeded || s == Degraded
}
