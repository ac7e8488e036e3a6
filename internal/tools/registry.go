// Package tools provides the named callables available to the agent.
// Every tool takes string arguments and returns text; the orchestrator
// never invokes tools directly.
package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Tool is one named callable with a string-based contract.
type Tool struct {
	Name        string
	Description string
	Run         func(ctx context.Context, args map[string]string) (string, error)
}

// Registry holds the tools available to an agent.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, replacing any previous tool with the same name.
func (r *Registry) Register(t Tool) {
	r.tools[t.Name] = t
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe renders one "name: description" line per tool for prompt
// assembly.
func (r *Registry) Describe() string {
	var lines []string
	for _, name := range r.Names() {
		lines = append(lines, fmt.Sprintf("- %s: %s", name, r.tools[name].Description))
	}
	return strings.Join(lines, "\n")
}
