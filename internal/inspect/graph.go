package inspect

import (
	"fmt"
	"log/slog"
	"strings"
)

// Graph is the static dependency graph of a set of declarations.
type Graph struct {
	index   map[string]*node
	edges   map[*node][]*edge
	nodes   []*node
	missing []Missing
}

type node struct {
	decl *Declaration
	key  string
}

type edge struct {
	to      *node
	slot    int
	guarded bool
}

// Missing is a dependency slot whose identity no declaration provides.
type Missing struct {
	Holder   string `json:"holder"`
	Identity string `json:"identity"`
	Slot     int    `json:"slot"`
}

// NewGraph builds the graph of decls. A later declaration of an identity
// replaces an earlier one, the same way re-registering does at runtime.
func NewGraph(decls []*Declaration) *Graph {
	g := &Graph{
		index: make(map[string]*node),
		edges: make(map[*node][]*edge),
	}

	for _, decl := range decls {
		if decl == nil || decl.Provides == nil {
			continue
		}

		key := typeKey(decl.Provides)
		if n, ok := g.index[key]; ok {
			slog.Debug("declaration replaced", "identity", key, "previous", n.decl.Pos, "current", decl.Pos)
			n.decl = decl
			continue
		}

		n := &node{decl: decl, key: key}
		g.index[key] = n
		g.nodes = append(g.nodes, n)
	}

	for _, n := range g.nodes {
		for i, slot := range n.decl.Slots {
			if slot.Forward || slot.Type == nil {
				continue
			}

			to, ok := g.index[typeKey(slot.Type)]
			if !ok {
				g.missing = append(g.missing, Missing{
					Holder:   typeName(n.decl.Provides),
					Identity: typeName(slot.Type),
					Slot:     i,
				})
				continue
			}

			g.edges[n] = append(g.edges[n], &edge{to: to, slot: i})
		}
	}

	// An edge whose target depends straight back on its holder is deferred at
	// runtime, so it never takes part in an eager cycle.
	for from, edges := range g.edges {
		for _, e := range edges {
			e.guarded = g.dependsOn(e.to, from)
		}
	}

	return g
}

func (g *Graph) dependsOn(from, to *node) bool {
	for _, e := range g.edges[from] {
		if e.to == to {
			return true
		}
	}
	return false
}

// nodeColor represents the color of a node during DFS for cycle detection
type nodeColor int

const (
	white nodeColor = iota // unvisited
	gray                   // currently being processed
	black                  // completely processed
)

// CycleError is a cycle through three or more declarations that no forward
// reference breaks.
type CycleError struct {
	Cycle []string
}

func (e *CycleError) Error() string {
	if len(e.Cycle) == 0 {
		return "circular dependency detected"
	}

	return fmt.Sprintf("circular dependency detected: %s -> %s", strings.Join(e.Cycle, " -> "), e.Cycle[0])
}

// DeferredSlotError is a slot that is deferred at runtime but whose parameter
// is not declared as kiban.Ref.
type DeferredSlotError struct {
	Holder     string
	Dependency string
	Position   string
	Slot       int
}

func (e *DeferredSlotError) Error() string {
	return fmt.Sprintf("%s: %s parameter %d depends on %s, which depends back on it: declare it as kiban.Ref[%s]",
		e.Position, e.Holder, e.Slot, e.Dependency, e.Dependency)
}

// detectCycles detects eager cycles in the dependency graph using DFS.
// Guarded edges are skipped.
func (g *Graph) detectCycles() []*CycleError {
	colors := make(map[*node]nodeColor)
	parent := make(map[*node]*node)

	// Initialize all nodes as white (unvisited)
	for _, n := range g.nodes {
		colors[n] = white
	}

	var cycles []*CycleError
	for _, n := range g.nodes {
		if colors[n] == white {
			g.dfsCycleDetection(n, colors, parent, func(cycle []*node) {
				names := make([]string, 0, len(cycle))
				for _, c := range cycle {
					names = append(names, typeName(c.decl.Provides))
				}
				cycles = append(cycles, &CycleError{Cycle: names})
			})
		}
	}

	return cycles
}

// dfsCycleDetection performs DFS and reports every back edge it finds as a cycle.
func (g *Graph) dfsCycleDetection(n *node, colors map[*node]nodeColor, parent map[*node]*node, report func([]*node)) {
	colors[n] = gray

	for _, e := range g.edges[n] {
		if e.guarded {
			continue
		}

		switch colors[e.to] {
		case gray:
			// Back edge found - cycle detected
			report(g.buildCyclePath(e.to, n, parent))
		case white:
			parent[e.to] = n
			g.dfsCycleDetection(e.to, colors, parent, report)
		}
	}

	colors[n] = black
}

// buildCyclePath builds the cycle path from the detected back edge
func (g *Graph) buildCyclePath(cycleStart, cycleEnd *node, parent map[*node]*node) []*node {
	var cycle []*node

	current := cycleEnd
	for current != cycleStart {
		cycle = append([]*node{current}, cycle...)
		current = parent[current]
		if current == nil {
			break
		}
	}

	return append([]*node{cycleStart}, cycle...)
}

// deferredSlots returns the guarded edges whose holder parameter cannot
// receive a deferred handle.
func (g *Graph) deferredSlots() []*DeferredSlotError {
	var errs []*DeferredSlotError
	for _, n := range g.nodes {
		for _, e := range g.edges[n] {
			if !e.guarded || n.decl.Slots[e.slot].Ref {
				continue
			}
			errs = append(errs, &DeferredSlotError{
				Holder:     typeName(n.decl.Provides),
				Dependency: typeName(e.to.decl.Provides),
				Position:   n.decl.Pos.String(),
				Slot:       e.slot,
			})
		}
	}
	return errs
}
