package stack

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dockvirt/dockvirt/internal/config"
	"github.com/dockvirt/dockvirt/internal/dockvirt"
	"github.com/dockvirt/dockvirt/internal/engine"
)

// VMEngine is the slice of the VM Lifecycle Engine the reconciler needs.
// EngineAdapter wraps *engine.Engine to satisfy it; tests substitute their
// own stub so stack logic (ordering, skip propagation, status
// classification) is verifiable without a real hypervisor.
type VMEngine interface {
	Up(ctx context.Context, spec *config.VMSpec, global *config.GlobalConfig, projectDir string) error
	Down(ctx context.Context, name string) error
}

// EngineAdapter adapts *engine.Engine's (*Instance, error) return to the
// error-only VMEngine the reconciler needs; the instance itself is not
// part of the stack's per-node status model.
type EngineAdapter struct {
	*engine.Engine
}

func (a EngineAdapter) Up(ctx context.Context, spec *config.VMSpec, global *config.GlobalConfig, projectDir string) error {
	_, err := a.Engine.Up(ctx, spec, global, projectDir)
	return err
}

// Reconciler deploys/destroys a Decl via the VM Lifecycle Engine (§4.8):
// "it does not talk to C6 directly".
type Reconciler struct {
	Engine      VMEngine
	Global      *config.GlobalConfig
	Parallelism int // 0 means use the §5 default
}

// parallelism returns the worker-pool size: min(4, |independent set|) by
// default (§5). Computing the true max antichain width of the DAG is more
// machinery than this pool warrants; the root-node count (nodes with no
// dependencies, ready to run immediately) is used as the "independent set"
// approximation, which is exact for the common case of a shallow stack.
func (r *Reconciler) parallelism(decl *Decl) int {
	if r.Parallelism > 0 {
		return r.Parallelism
	}
	roots := 0
	for _, n := range decl.Nodes {
		if len(n.DependsOn) == 0 {
			roots++
		}
	}
	if roots < 1 {
		roots = 1
	}
	if roots > 4 {
		return 4
	}
	return roots
}

// Deploy validates decl, then deploys in dependency order with bounded
// parallelism across independent nodes. A failing node marks its
// transitive dependents Skipped; already-started nodes are left running,
// not rolled back (§4.8).
func (r *Reconciler) Deploy(ctx context.Context, decl *Decl, projectDir string) (map[string]Status, error) {
	if err := Validate(decl); err != nil {
		return nil, err
	}
	return r.run(ctx, decl, projectDir, false)
}

// Destroy reverses Deploy's order: a node is torn down only after every
// node that depends on it has finished (§4.8).
func (r *Reconciler) Destroy(ctx context.Context, decl *Decl, projectDir string) (map[string]Status, error) {
	if err := Validate(decl); err != nil {
		return nil, err
	}
	return r.run(ctx, decl, projectDir, true)
}

func (r *Reconciler) run(ctx context.Context, decl *Decl, projectDir string, reverse bool) (map[string]Status, error) {
	byName := map[string]NodeSpec{}
	for _, n := range decl.Nodes {
		byName[n.Name] = n
	}

	// waitFor[name] is the set of names a node must see finish before it
	// may proceed; forward deploy waits on DependsOn, reverse destroy waits
	// on every node that lists this one as a dependency.
	waitFor := map[string][]string{}
	if reverse {
		for _, n := range decl.Nodes {
			for _, dep := range n.DependsOn {
				waitFor[dep] = append(waitFor[dep], n.Name)
			}
		}
	} else {
		for _, n := range decl.Nodes {
			waitFor[n.Name] = n.DependsOn
		}
	}

	status := make(map[string]Status, len(decl.Nodes))
	doneCh := make(map[string]chan struct{}, len(decl.Nodes))
	var mu sync.Mutex
	for _, n := range decl.Nodes {
		status[n.Name] = Pending
		doneCh[n.Name] = make(chan struct{})
	}

	pool := &errgroup.Group{}
	pool.SetLimit(r.parallelism(decl))

	var wg sync.WaitGroup
	for _, n := range decl.Nodes {
		n := n
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer close(doneCh[n.Name])

			for _, dep := range waitFor[n.Name] {
				<-doneCh[dep]
			}

			mu.Lock()
			blocked := false
			if !reverse {
				for _, dep := range n.DependsOn {
					if !status[dep].satisfiesDependents() {
						blocked = true
						break
					}
				}
			}
			mu.Unlock()
			if blocked {
				mu.Lock()
				status[n.Name] = Skipped
				mu.Unlock()
				return
			}

			result := make(chan Status, 1)
			pool.Go(func() error {
				if reverse {
					result <- r.destroyOne(ctx, n)
				} else {
					result <- r.deployOne(ctx, n, projectDir)
				}
				return nil
			})

			mu.Lock()
			status[n.Name] = <-result
			mu.Unlock()
		}()
	}

	wg.Wait()
	_ = pool.Wait()
	return status, nil
}

func (r *Reconciler) deployOne(ctx context.Context, n NodeSpec, projectDir string) Status {
	spec, err := config.Resolve(r.Global, n.KV, nil, n.Name)
	if err == nil {
		err = r.Engine.Up(ctx, spec, r.Global, projectDir)
	}
	if err == nil {
		return Succeeded
	}
	switch dockvirt.KindOf(err) {
	case dockvirt.LeaseTimeout, dockvirt.HTTPTimeout:
		return Degraded
	default:
		return Failed
	}
}

func (r *Reconciler) destroyOne(ctx context.Context, n NodeSpec) Status {
	if err := r.Engine.Down(ctx, n.Name); err != nil {
		return Failed
	}
	return Succeeded
}
