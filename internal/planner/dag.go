// Package planner compiles a Spec into an executable Plan: it validates the
// step dependency graph and partitions it into parallel-safe batches. Plan
// works from the Spec's authored steps alone and does not call the Model
// Router; only Replan asks the router, for a revised step list after a
// failed Attempt.
package planner

import (
	"fmt"

	"github.com/antigravity-dev/chakravarti/internal/model"
)

// depGraph is an in-memory, read-only view of a Plan's step dependencies.
// Nodes are cloned in on construction so mutating the caller's steps after
// the fact cannot alias into the graph.
type depGraph struct {
	nodes   map[string]model.SpecStep
	forward map[string][]string // id -> ids it depends on
	reverse map[string][]string // id -> ids that depend on it
	order   []string            // insertion order, for deterministic iteration
}

// buildDepGraph clones steps into a depGraph, detecting duplicate IDs and
// edges that reference steps not present in the input.
func buildDepGraph(steps []model.SpecStep) (*depGraph, error) {
	g := &depGraph{
		nodes:   make(map[string]model.SpecStep, len(steps)),
		forward: make(map[string][]string, len(steps)),
		reverse: make(map[string][]string, len(steps)),
		order:   make([]string, 0, len(steps)),
	}

	for _, s := range steps {
		if s.ID == "" {
			return nil, fmt.Errorf("planner: step has empty id")
		}
		if _, exists := g.nodes[s.ID]; exists {
			return nil, fmt.Errorf("planner: duplicate step id %q", s.ID)
		}
		clone := s
		clone.DependsOn = append([]string(nil), s.DependsOn...)
		g.nodes[s.ID] = clone
		g.order = append(g.order, s.ID)
	}

	for _, s := range steps {
		for _, dep := range s.DependsOn {
			if _, ok := g.nodes[dep]; !ok {
				return nil, fmt.Errorf("planner: step %q depends on unknown step %q", s.ID, dep)
			}
			if dep == s.ID {
				return nil, fmt.Errorf("planner: step %q depends on itself", s.ID)
			}
			g.forward[s.ID] = append(g.forward[s.ID], dep)
			g.reverse[dep] = append(g.reverse[dep], s.ID)
		}
	}

	return g, nil
}

// Nodes returns step IDs in their original insertion order.
func (g *depGraph) Nodes() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// DependsOnIDs returns the IDs id directly depends on.
func (g *depGraph) DependsOnIDs(id string) []string {
	deps := g.forward[id]
	out := make([]string, len(deps))
	copy(out, deps)
	return out
}

// detectCycle returns the first cycle found as a slice of step IDs, or nil
// if the graph is acyclic.
func (g *depGraph) detectCycle() []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.nodes))
	var path []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		path = append(path, id)
		for _, dep := range g.forward[id] {
			switch color[dep] {
			case gray:
				// found a back-edge; extract the cycle from path
				start := 0
				for i, p := range path {
					if p == dep {
						start = i
						break
					}
				}
				cycle = append([]string(nil), path[start:]...)
				cycle = append(cycle, dep)
				return true
			case white:
				if visit(dep) {
					return true
				}
			}
		}
		path = path[:len(path)-1]
		color[id] = black
		return false
	}

	for _, id := range g.order {
		if color[id] == white {
			if visit(id) {
				return cycle
			}
		}
	}
	return nil
}

// batches computes a deterministic batching of the graph into waves of
// mutually-independent steps: batch N contains every step whose dependencies
// were all satisfied by batches 0..N-1, ties broken by original order.
func (g *depGraph) batches() [][]string {
	remaining := make(map[string][]string, len(g.forward))
	for id := range g.nodes {
		remaining[id] = append([]string(nil), g.forward[id]...)
	}

	done := make(map[string]bool, len(g.nodes))
	var out [][]string

	for len(done) < len(g.nodes) {
		var wave []string
		for _, id := range g.order {
			if done[id] {
				continue
			}
			ready := true
			for _, dep := range remaining[id] {
				if !done[dep] {
					ready = false
					break
				}
			}
			if ready {
				wave = append(wave, id)
			}
		}
		if len(wave) == 0 {
			// should be unreachable once detectCycle has run, but guard anyway
			break
		}
		for _, id := range wave {
			done[id] = true
		}
		out = append(out, wave)
	}

	return out
}
