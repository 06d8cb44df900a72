package inspect

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

// Report is the result of analyzing a graph.
type Report struct {
	Providers     []Provider           `json:"providers"`
	Edges         []Edge               `json:"edges"`
	Missing       []Missing            `json:"missing,omitempty"`
	Cycles        []*CycleError        `json:"-"`
	DeferredSlots []*DeferredSlotError `json:"-"`
	Problems      []string             `json:"problems,omitempty"`
}

// Provider describes one declaration in a report.
type Provider struct {
	Identity  string `json:"identity"`
	Kind      string `json:"kind"`
	Position  string `json:"position"`
	Path      string `json:"path,omitempty"`
	Method    string `json:"method,omitempty"`
	Namespace string `json:"namespace,omitempty"`
}

// Edge is a dependency slot in a report.
type Edge struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Slot    int    `json:"slot"`
	Forward bool   `json:"forward,omitempty"`
	Guarded bool   `json:"guarded,omitempty"`
}

// Analyze reports the declarations, dependencies and problems of g.
func (g *Graph) Analyze() *Report {
	r := &Report{
		Missing:       g.missing,
		Cycles:        g.detectCycles(),
		DeferredSlots: g.deferredSlots(),
	}

	for _, n := range g.nodes {
		from := typeName(n.decl.Provides)
		r.Providers = append(r.Providers, Provider{
			Identity:  from,
			Kind:      n.decl.Kind,
			Position:  n.decl.Pos.String(),
			Path:      n.decl.Path,
			Method:    n.decl.Method,
			Namespace: n.decl.Namespace,
		})

		for i, slot := range n.decl.Slots {
			if slot.Forward {
				r.Edges = append(r.Edges, Edge{From: from, To: "?", Slot: i, Forward: true})
			}
		}
		for _, e := range g.edges[n] {
			r.Edges = append(r.Edges, Edge{
				From:    from,
				To:      typeName(e.to.decl.Provides),
				Slot:    e.slot,
				Guarded: e.guarded,
			})
		}
	}

	for _, err := range r.Cycles {
		r.Problems = append(r.Problems, err.Error())
	}
	for _, err := range r.DeferredSlots {
		r.Problems = append(r.Problems, err.Error())
	}

	return r
}

// Err returns the problems found as one error, or nil.
func (r *Report) Err() error {
	errs := make([]error, 0, len(r.Cycles)+len(r.DeferredSlots))
	for _, err := range r.Cycles {
		errs = append(errs, err)
	}
	for _, err := range r.DeferredSlots {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// WriteText writes a human readable report.
func (r *Report) WriteText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintln(tw, "IDENTITY\tKIND\tROUTE\tPOSITION")
	for _, p := range r.Providers {
		route := strings.TrimSpace(p.Method + " " + p.Path + p.Namespace)
		if route == "" {
			route = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.Identity, p.Kind, route, p.Position)
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}

	for _, m := range r.Missing {
		fmt.Fprintf(w, "warning: %s parameter %d: %s is not declared\n", m.Holder, m.Slot, m.Identity)
	}
	for _, p := range r.Problems {
		fmt.Fprintf(w, "error: %s\n", p)
	}

	_, err := fmt.Fprintf(w, "%d providers, %d dependencies, %d problems\n", len(r.Providers), len(r.Edges), len(r.Problems))
	return err
}

// WriteJSON writes the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return nil
}

// WriteDOT writes the dependency graph in Graphviz DOT format. Deferred
// edges are dashed.
func (r *Report) WriteDOT(w io.Writer) error {
	var b strings.Builder

	b.WriteString("digraph kiban {\n")
	for _, p := range r.Providers {
		fmt.Fprintf(&b, "  %q [label=%q];\n", p.Identity, p.Identity+"\n"+p.Kind)
	}
	for _, e := range r.Edges {
		if e.Forward {
			continue
		}
		style := "solid"
		if e.Guarded {
			style = "dashed"
		}
		fmt.Fprintf(&b, "  %q -> %q [label=\"%d\", style=%s];\n", e.From, e.To, e.Slot, style)
	}
	b.WriteString("}\n")

	_, err := io.WriteString(w, b.String())
	return err
}
