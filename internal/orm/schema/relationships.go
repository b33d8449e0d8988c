// Package schema provides inheritance and association graph analysis
package schema

import (
	"fmt"
	"sort"
	"strings"
)

// InheritanceGraph represents the superclass edges between entities
type InheritanceGraph struct {
	nodes map[string]*Entity
	edges map[string][]string // entity -> superclass
}

// NewInheritanceGraph creates a new inheritance graph
func NewInheritanceGraph(entities map[string]*Entity) *InheritanceGraph {
	graph := &InheritanceGraph{
		nodes: entities,
		edges: make(map[string][]string),
	}

	for name, entity := range entities {
		if entity.Superclass != "" {
			graph.edges[name] = append(graph.edges[name], entity.Superclass)
		}
	}

	return graph
}

// sortedNodes returns node names in a stable order
func (g *InheritanceGraph) sortedNodes() []string {
	names := make([]string, 0, len(g.nodes))
	for name := range g.nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DetectCycles detects circular superclass chains
func (g *InheritanceGraph) DetectCycles() [][]string {
	var cycles [][]string
	visited := make(map[string]bool)
	recursionStack := make(map[string]bool)

	var dfs func(node string, path []string) bool
	dfs = func(node string, path []string) bool {
		visited[node] = true
		recursionStack[node] = true
		path = append(path, node)

		for _, neighbor := range g.edges[node] {
			if !visited[neighbor] {
				if dfs(neighbor, path) {
					return true
				}
			} else if recursionStack[neighbor] {
				cycleStart := -1
				for i, n := range path {
					if n == neighbor {
						cycleStart = i
						break
					}
				}
				if cycleStart >= 0 {
					cycle := make([]string, len(path)-cycleStart)
					copy(cycle, path[cycleStart:])
					cycles = append(cycles, cycle)
				}
				return true
			}
		}

		recursionStack[node] = false
		return false
	}

	for _, node := range g.sortedNodes() {
		if !visited[node] {
			dfs(node, []string{})
		}
	}

	return cycles
}

// TopologicalSort returns entities with every superclass before its subclasses
func (g *InheritanceGraph) TopologicalSort() ([]string, error) {
	outDegree := make(map[string]int)
	for node := range g.nodes {
		outDegree[node] = len(g.edges[node])
	}

	reverseEdges := make(map[string][]string)
	for source, targets := range g.edges {
		for _, target := range targets {
			reverseEdges[target] = append(reverseEdges[target], source)
		}
	}
	for _, dependents := range reverseEdges {
		sort.Strings(dependents)
	}

	queue := []string{}
	for _, node := range g.sortedNodes() {
		if outDegree[node] == 0 {
			queue = append(queue, node)
		}
	}

	result := []string{}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		result = append(result, node)

		for _, dependent := range reverseEdges[node] {
			outDegree[dependent]--
			if outDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(result) != len(g.nodes) {
		cycles := g.DetectCycles()
		if len(cycles) > 0 {
			return nil, &MappingError{Message: "circular inheritance detected:\n" + formatCycles(cycles)}
		}
		return nil, &MappingError{Message: "inheritance references an unknown superclass"}
	}

	return result, nil
}

// Ancestors returns the superclass chain of an entity, nearest first
func (g *InheritanceGraph) Ancestors(entity string) []string {
	var chain []string
	seen := map[string]bool{entity: true}
	current := entity
	for {
		parents := g.edges[current]
		if len(parents) == 0 {
			return chain
		}
		current = parents[0]
		if seen[current] {
			return chain
		}
		seen[current] = true
		chain = append(chain, current)
	}
}

// Subclasses returns the entities that directly extend the given entity
func (g *InheritanceGraph) Subclasses(entity string) []string {
	subclasses := []string{}
	for _, node := range g.sortedNodes() {
		for _, parent := range g.edges[node] {
			if parent == entity {
				subclasses = append(subclasses, node)
				break
			}
		}
	}
	return subclasses
}

// ValidateGraph checks for cycles and for references to unknown entities
func (g *InheritanceGraph) ValidateGraph() error {
	cycles := g.DetectCycles()
	if len(cycles) > 0 {
		return &MappingError{Message: "circular inheritance detected:\n" + formatCycles(cycles)}
	}

	var errs MappingErrors
	for _, name := range g.sortedNodes() {
		entity := g.nodes[name]
		if entity.Superclass != "" {
			if _, exists := g.nodes[entity.Superclass]; !exists {
				errs = append(errs, &MappingError{
					Entity:  name,
					Message: fmt.Sprintf("superclass %s is not registered", entity.Superclass),
				})
			}
		}
		for _, assoc := range entity.Associations {
			if _, exists := g.nodes[assoc.Target]; !exists {
				errs = append(errs, &MappingError{
					Entity:  name,
					Column:  assoc.Name,
					Message: fmt.Sprintf("association references unknown entity %s", assoc.Target),
				})
			}
		}
	}
	if len(errs) > 0 {
		return errs
	}

	return nil
}

// formatCycles formats cycle information for error messages
func formatCycles(cycles [][]string) string {
	var b strings.Builder
	for i, cycle := range cycles {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(fmt.Sprintf("  Cycle %d: %s -> %s",
			i+1,
			strings.Join(cycle, " -> "),
			cycle[0]))
	}
	return b.String()
}
