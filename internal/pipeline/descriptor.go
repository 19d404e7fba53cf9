// Package pipeline runs the extract, transform and load stages as an explicit
// step graph.
//
// A Descriptor names each step and the steps it depends on. Nothing runs when
// a Descriptor is built; Execute walks the graph in dependency order and hands
// each step the output of its dependencies. Edges exposes the same graph to an
// external scheduler.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"customeretl/internal/metrics"
)

// ErrInvalidDescriptor is returned for duplicate or empty step names, unknown
// dependencies and cycles.
var ErrInvalidDescriptor = errors.New("invalid pipeline descriptor")

// StepFunc runs one step. input is nil for a step with no dependencies, the
// dependency's output for a step with one, and a map[string]any keyed by step
// name for a step with several.
type StepFunc func(ctx context.Context, input any) (any, error)

// Step is one node of the graph.
type Step struct {
	Name      string
	DependsOn []string
	Run       StepFunc
}

// Descriptor is a named step graph.
type Descriptor struct {
	Name  string
	Steps []Step
}

// Edge is a dependency: To runs after From has completed.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Order validates the graph and returns its steps in an order where every step
// follows all of its dependencies. Ties keep declaration order.
func (d Descriptor) Order() ([]Step, error) {
	pos := make(map[string]int, len(d.Steps))
	for i, s := range d.Steps {
		if s.Name == "" {
			return nil, fmt.Errorf("%w: step %d has no name", ErrInvalidDescriptor, i)
		}
		if _, dup := pos[s.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate step %q", ErrInvalidDescriptor, s.Name)
		}
		pos[s.Name] = i
	}

	indegree := make([]int, len(d.Steps))
	dependents := make([][]int, len(d.Steps))
	for i, s := range d.Steps {
		seen := map[string]bool{}
		for _, dep := range s.DependsOn {
			j, ok := pos[dep]
			if !ok {
				return nil, fmt.Errorf("%w: step %q depends on unknown step %q", ErrInvalidDescriptor, s.Name, dep)
			}
			if seen[dep] {
				continue
			}
			seen[dep] = true
			indegree[i]++
			dependents[j] = append(dependents[j], i)
		}
	}

	out := make([]Step, 0, len(d.Steps))
	done := make([]bool, len(d.Steps))
	for len(out) < len(d.Steps) {
		next := -1
		for i := range d.Steps {
			if !done[i] && indegree[i] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			return nil, fmt.Errorf("%w: cycle among %v", ErrInvalidDescriptor, pending(d.Steps, done))
		}
		done[next] = true
		out = append(out, d.Steps[next])
		for _, k := range dependents[next] {
			indegree[k]--
		}
	}
	return out, nil
}

func pending(steps []Step, done []bool) []string {
	var names []string
	for i, s := range steps {
		if !done[i] {
			names = append(names, s.Name)
		}
	}
	return names
}

// Edges lists every dependency edge in declaration order.
func (d Descriptor) Edges() []Edge {
	var edges []Edge
	for _, s := range d.Steps {
		for _, dep := range s.DependsOn {
			edges = append(edges, Edge{From: dep, To: s.Name})
		}
	}
	return edges
}

// Execute runs every step in dependency order and returns each step's output
// keyed by name. The first failing step stops the run; its error is wrapped
// with the step name. Each step is timed and counted through metrics under the
// descriptor's name.
func Execute(ctx context.Context, d Descriptor) (map[string]any, error) {
	steps, err := d.Order()
	if err != nil {
		return nil, err
	}
	for _, s := range steps {
		if s.Run == nil {
			return nil, fmt.Errorf("%w: step %q has no run func", ErrInvalidDescriptor, s.Name)
		}
	}

	outputs := make(map[string]any, len(steps))
	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return outputs, fmt.Errorf("step %s: %w", s.Name, err)
		}

		start := time.Now()
		out, err := s.Run(ctx, inputFor(s, outputs))
		elapsed := time.Since(start)
		metrics.RecordStep(d.Name, s.Name, err, elapsed)
		if err != nil {
			log.Printf("pipeline: %s: step=%s failed after %s: %v", d.Name, s.Name, elapsed.Round(time.Millisecond), err)
			return outputs, fmt.Errorf("step %s: %w", s.Name, err)
		}
		log.Printf("pipeline: %s: step=%s done in %s", d.Name, s.Name, elapsed.Round(time.Millisecond))
		outputs[s.Name] = out
	}
	return outputs, nil
}

func inputFor(s Step, outputs map[string]any) any {
	switch len(s.DependsOn) {
	case 0:
		return nil
	case 1:
		return outputs[s.DependsOn[0]]
	}
	in := make(map[string]any, len(s.DependsOn))
	for _, dep := range s.DependsOn {
		in[dep] = outputs[dep]
	}
	return in
}
