package stack

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dockvirt/dockvirt/internal/dockvirt"
)

// rawNode mirrors the on-disk document shape: a name, optional depends_on,
// and everything else treated as the node's key/value VMSpec fields, so a
// stack.yaml entry reads the same way as a ProjectConfig file (§6).
type rawNode struct {
	Name      string   `yaml:"name"`
	DependsOn []string `yaml:"depends_on"`
	// Vars carries every other recognized VMSpec key (domain, image, port,
	// os, mem, cpus, disk, net) as plain strings, decoded via yaml.v3's
	// inline map support.
	Vars map[string]string `yaml:",inline"`
}

type rawDecl struct {
	VMs []rawNode `yaml:"vms"`
}

// Load reads a stack declaration file and validates it (§4.8).
func Load(path string) (*Decl, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, dockvirt.Wrap(dockvirt.ConfigInvalid, err, "read stack declaration", path, "")
	}

	var raw rawDecl
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, dockvirt.Wrap(dockvirt.ConfigInvalid, err, "parse stack declaration", path, "")
	}

	decl := &Decl{}
	for _, n := range raw.VMs {
		kv := map[string]string{}
		for k, v := range n.Vars {
			if k == "depends_on" || k == "name" {
				continue
			}
			kv[k] = v
		}
		kv["name"] = n.Name
		decl.Nodes = append(decl.Nodes, NodeSpec{Name: n.Name, KV: kv, DependsOn: n.DependsOn})
	}

	if err := Validate(decl); err != nil {
		return nil, err
	}
	return decl, nil
}

// Validate checks the acyclicity and name-uniqueness invariants (§3),
// accumulating every problem found rather than stopping at the first,
// matching h3ow3d-nlab's internal/manifest (superseded subpackage)
// accumulate-all-errors validation style.
func Validate(decl *Decl) error {
	var problems []string

	seen := map[string]bool{}
	for _, n := range decl.Nodes {
		if n.Name == "" {
			problems = append(problems, "a node is missing a name")
			continue
		}
		if seen[n.Name] {
			problems = append(problems, fmt.Sprintf("duplicate node name %q", n.Name))
		}
		seen[n.Name] = true
	}

	for _, n := range decl.Nodes {
		for _, dep := range n.DependsOn {
			if !seen[dep] {
				problems = append(problems, fmt.Sprintf("node %q depends on unknown node %q", n.Name, dep))
			}
		}
	}

	if len(problems) == 0 {
		if _, err := TopoOrder(decl); err != nil {
			problems = append(problems, err.Error())
		}
	}

	if len(problems) > 0 {
		return dockvirt.New(dockvirt.ConfigInvalid, "invalid stack declaration", strings.Join(problems, "; "), "fix the listed problems in the stack file")
	}
	return nil
}

// TopoOrder computes a topological order over decl's dependency graph,
// failing if it is not acyclic.
func TopoOrder(decl *Decl) ([]string, error) {
	indegree := map[string]int{}
	edges := map[string][]string{} // dep -> dependents
	for _, n := range decl.Nodes {
		if _, ok := indegree[n.Name]; !ok {
			indegree[n.Name] = 0
		}
		for _, dep := range n.DependsOn {
			indegree[n.Name]++
			edges[dep] = append(edges[dep], n.Name)
		}
	}

	var queue, order []string
	for name, deg := range indegree {
		if deg == 0 {
			queue = append(queue, name)
		}
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		order = append(order, cur)
		for _, next := range edges[cur] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(order) != len(indegree) {
		return nil, fmt.Errorf("dependency graph contains a cycle")
	}
	return order, nil
}
