package engine

import (
	"fmt"
	"slices"
	"strings"
	"sync"
)

// DependencyGraph holds the parts of a build session and the edges derived
// from their "after" lists. Parts are registered with AddPart, then the graph
// is finalized once; after that it is read-only and safe for concurrent use.
//
// All graph algorithms work on part names. The graph is the single owning
// registry resolving a name to its Part.
type DependencyGraph struct {
	// parts maps part names to their parts
	parts map[string]*Part

	// declared holds part names in declaration order
	declared []string

	// index maps part names to their declaration position
	index map[string]int

	// after maps part names to their direct dependencies, deduplicated,
	// in declared order
	after map[string][]string

	// dependents maps part names to the parts that list them in "after"
	dependents map[string][]string

	once      sync.Once
	finalized bool
	err       error
	order     []string
	levels    [][]string
}

// NewDependencyGraph creates an empty graph.
func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{
		parts:      make(map[string]*Part),
		index:      make(map[string]int),
		after:      make(map[string][]string),
		dependents: make(map[string][]string),
	}
}

// AddPart registers part with its declared "after" names. Names that do not
// resolve are reported by Finalize, so parts may be added in any order.
func (g *DependencyGraph) AddPart(part *Part) error {
	if part == nil || part.Name == "" {
		return NewPermanentError("part has empty name", nil).WithCode(ErrCodeValidation)
	}
	if g.finalized {
		return NewPermanentError("cannot add part to a finalized graph", nil).
			WithCode(ErrCodeInternal).WithPart(part.Name)
	}
	if _, exists := g.parts[part.Name]; exists {
		return NewPermanentError(fmt.Sprintf("duplicate part: %s", part.Name), nil).
			WithCode(ErrCodeDuplicatePart).WithPart(part.Name)
	}

	deps := make([]string, 0, len(part.After))
	for _, dep := range part.After {
		if !slices.Contains(deps, dep) {
			deps = append(deps, dep)
		}
	}

	g.parts[part.Name] = part
	g.index[part.Name] = len(g.declared)
	g.declared = append(g.declared, part.Name)
	g.after[part.Name] = deps
	return nil
}

// Finalize validates the graph and computes the build order. It fails with
// an UnknownDependency error for the first unresolved "after" name (in
// declaration order) and with a CyclicDependency error naming the cycle.
// Finalize is idempotent and returns the same result on every call.
func (g *DependencyGraph) Finalize() error {
	g.once.Do(func() {
		g.finalized = true
		g.err = g.finalize()
	})
	return g.err
}

func (g *DependencyGraph) finalize() error {
	for _, name := range g.declared {
		for _, dep := range g.after[name] {
			if _, exists := g.parts[dep]; !exists {
				return NewUnknownDependencyError(name, dep)
			}
			g.dependents[dep] = append(g.dependents[dep], name)
		}
	}

	if cycle := g.findCycle(); cycle != nil {
		return NewCyclicDependencyError(cycle)
	}

	g.order = g.topologicalOrder()
	if len(g.order) != len(g.declared) {
		return NewPermanentError("failed to order all parts - possible cycle", nil).
			WithCode(ErrCodeInternal)
	}
	g.levels = g.computeLevels()
	return nil
}

// findCycle uses depth-first search over "after" edges, starting from each
// part in declaration order, and returns the first cycle found with its
// first part repeated at the end.
func (g *DependencyGraph) findCycle() []string {
	visited := make(map[string]bool)
	onPath := make(map[string]bool)
	var path []string

	var visit func(name string) []string
	visit = func(name string) []string {
		visited[name] = true
		onPath[name] = true
		path = append(path, name)

		for _, dep := range g.after[name] {
			if onPath[dep] {
				start := slices.Index(path, dep)
				cycle := slices.Clone(path[start:])
				return append(cycle, dep)
			}
			if !visited[dep] {
				if cycle := visit(dep); cycle != nil {
					return cycle
				}
			}
		}

		onPath[name] = false
		path = path[:len(path)-1]
		return nil
	}

	for _, name := range g.declared {
		if !visited[name] {
			if cycle := visit(name); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// topologicalOrder runs Kahn's algorithm, always picking the ready part
// declared earliest.
func (g *DependencyGraph) topologicalOrder() []string {
	inDegree := make(map[string]int, len(g.declared))
	var ready []string
	for _, name := range g.declared {
		inDegree[name] = len(g.after[name])
		if inDegree[name] == 0 {
			ready = append(ready, name)
		}
	}

	order := make([]string, 0, len(g.declared))
	for len(ready) > 0 {
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)

		for _, dependent := range g.dependents[next] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				ready = g.insertByDeclaration(ready, dependent)
			}
		}
	}
	return order
}

func (g *DependencyGraph) insertByDeclaration(names []string, name string) []string {
	i, _ := slices.BinarySearchFunc(names, name, func(a, b string) int {
		return g.index[a] - g.index[b]
	})
	return slices.Insert(names, i, name)
}

// computeLevels assigns each part the level one above its deepest
// dependency. Parts at the same level are independent of each other.
func (g *DependencyGraph) computeLevels() [][]string {
	level := make(map[string]int, len(g.order))
	depth := 0
	for _, name := range g.order {
		l := 0
		for _, dep := range g.after[name] {
			l = max(l, level[dep]+1)
		}
		level[name] = l
		depth = max(depth, l+1)
	}

	levels := make([][]string, depth)
	for _, name := range g.declared {
		levels[level[name]] = append(levels[level[name]], name)
	}
	return levels
}

// Order returns the parts in build order: every part appears after all of
// its direct and transitive dependencies, ties broken by declaration order.
func (g *DependencyGraph) Order() ([]*Part, error) {
	names, err := g.OrderNames()
	if err != nil {
		return nil, err
	}
	parts := make([]*Part, len(names))
	for i, name := range names {
		parts[i] = g.parts[name]
	}
	return parts, nil
}

// OrderNames is Order returning part names.
func (g *DependencyGraph) OrderNames() ([]string, error) {
	if err := g.Finalize(); err != nil {
		return nil, err
	}
	return slices.Clone(g.order), nil
}

// Levels groups the parts by depth; level 0 holds parts without
// dependencies. Each level lists its parts in declaration order.
func (g *DependencyGraph) Levels() ([][]string, error) {
	if err := g.Finalize(); err != nil {
		return nil, err
	}
	levels := make([][]string, len(g.levels))
	for i, l := range g.levels {
		levels[i] = slices.Clone(l)
	}
	return levels, nil
}

// DependenciesOf returns the parts reachable from name via "after" edges.
// Direct dependencies are returned in declared order; the transitive set is
// returned in build order.
func (g *DependencyGraph) DependenciesOf(name string, transitive bool) ([]*Part, error) {
	if err := g.Finalize(); err != nil {
		return nil, err
	}
	if _, ok := g.parts[name]; !ok {
		return nil, NewPermanentError(fmt.Sprintf("unknown part: %s", name), nil).
			WithCode(ErrCodeValidation).WithPart(name)
	}

	if !transitive {
		deps := make([]*Part, 0, len(g.after[name]))
		for _, dep := range g.after[name] {
			deps = append(deps, g.parts[dep])
		}
		return deps, nil
	}

	reachable := g.reachable(name)
	var deps []*Part
	for _, n := range g.order {
		if reachable[n] {
			deps = append(deps, g.parts[n])
		}
	}
	return deps, nil
}

func (g *DependencyGraph) reachable(name string) map[string]bool {
	seen := make(map[string]bool)
	stack := slices.Clone(g.after[name])
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[n] {
			continue
		}
		seen[n] = true
		stack = append(stack, g.after[n]...)
	}
	return seen
}

// DependsOn reports whether part depends directly or transitively on dep.
func (g *DependencyGraph) DependsOn(part, dep string) bool {
	if g.Finalize() != nil {
		return false
	}
	return g.reachable(part)[dep]
}

// Dependents returns the parts that list name in their "after" list, in
// declaration order.
func (g *DependencyGraph) Dependents(name string) []string {
	if g.Finalize() != nil {
		return nil
	}
	return slices.Clone(g.dependents[name])
}

// Part looks up a part by name.
func (g *DependencyGraph) Part(name string) (*Part, bool) {
	p, ok := g.parts[name]
	return p, ok
}

// Parts returns every part in declaration order.
func (g *DependencyGraph) Parts() []*Part {
	parts := make([]*Part, len(g.declared))
	for i, name := range g.declared {
		parts[i] = g.parts[name]
	}
	return parts
}

// Len returns the number of registered parts.
func (g *DependencyGraph) Len() int {
	return len(g.declared)
}

// ToDOT renders the graph in Graphviz DOT format with an edge from each
// dependency to the part that waits for it.
func (g *DependencyGraph) ToDOT() string {
	var sb strings.Builder
	sb.WriteString("digraph parts {\n")
	sb.WriteString("  rankdir=LR;\n")
	sb.WriteString("  node [shape=box];\n")

	for _, name := range g.declared {
		fmt.Fprintf(&sb, "  %q;\n", name)
	}
	for _, name := range g.declared {
		for _, dep := range g.after[name] {
			fmt.Fprintf(&sb, "  %q -> %q;\n", dep, name)
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}
