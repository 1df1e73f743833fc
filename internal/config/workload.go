package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Workload is a named bundle of token defaults (§6 "workload=<name>"),
// loaded from a TOML preset file so common shapes (e.g. "oltp-random",
// "sequential-scan") don't need to be retyped on every invocation.
type Workload struct {
	Name   string            `toml:"name"`
	Tokens map[string]string `toml:"tokens"`
}

// WorkloadSet is a file of named presets, one [workloads.<name>] table
// per workload.
type WorkloadSet struct {
	Workloads map[string]Workload `toml:"workloads"`
}

// LoadWorkloads parses a workload preset file.
func LoadWorkloads(path string) (*WorkloadSet, error) {
	var ws WorkloadSet
	if _, err := toml.DecodeFile(path, &ws); err != nil {
		return nil, fmt.Errorf("config: loading workloads from %s: %w", path, err)
	}
	return &ws, nil
}

// Apply overlays a workload's token defaults under t (explicit tokens
// already in t win, since workload=<name> supplies defaults, not
// overrides).
func (ws *WorkloadSet) Apply(name string, t *Tokens) error {
	w, ok := ws.Workloads[name]
	if !ok {
		return fmt.Errorf("config: unknown workload %q", name)
	}
	merged := newTokens()
	for k, v := range w.Tokens {
		merged.Set(k, v)
	}
	merged.Merge(t)
	*t = *merged
	return nil
}
