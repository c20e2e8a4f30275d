// Package transform runs the SQL transformation project that turns raw
// tables into the customers model.
package transform

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"airlift-demo/internal/asset"
	"airlift-demo/internal/domain"
)

// Manifest is the subset of the transformation project's manifest.json
// needed to declare and execute its models.
type Manifest struct {
	Nodes   map[string]Node   `json:"nodes"`
	Sources map[string]Source `json:"sources"`
}

// Node is a manifest node. Only nodes with ResourceType "model" are used.
type Node struct {
	UniqueID     string     `json:"unique_id"`
	ResourceType string     `json:"resource_type"`
	Name         string     `json:"name"`
	Database     string     `json:"database"`
	Schema       string     `json:"schema"`
	Alias        string     `json:"alias"`
	Description  string     `json:"description"`
	Config       NodeConfig `json:"config"`
	DependsOn    DependsOn  `json:"depends_on"`
	RawCode      string     `json:"raw_code"`
	CompiledCode string     `json:"compiled_code"`
}

// NodeConfig holds the node settings read from the manifest.
type NodeConfig struct {
	Materialized string `json:"materialized"`
}

// DependsOn lists upstream unique ids.
type DependsOn struct {
	Nodes []string `json:"nodes"`
}

// Source is an external table read by the models.
type Source struct {
	UniqueID   string `json:"unique_id"`
	SourceName string `json:"source_name"`
	Name       string `json:"name"`
	Database   string `json:"database"`
	Schema     string `json:"schema"`
	Identifier string `json:"identifier"`
}

// Relation returns the table name the source resolves to.
func (s Source) Relation() string {
	if s.Identifier != "" {
		return s.Identifier
	}
	return s.Name
}

// Relation returns the table or view name the model materializes to.
func (n Node) Relation() string {
	if n.Alias != "" {
		return n.Alias
	}
	return n.Name
}

// LoadManifest reads and parses a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from configuration
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return ParseManifest(data)
}

// ParseManifest parses manifest JSON.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, domain.ErrValidation("parse manifest: %v", err)
	}
	for id, n := range m.Nodes {
		if n.UniqueID == "" {
			n.UniqueID = id
			m.Nodes[id] = n
		}
	}
	for id, s := range m.Sources {
		if s.UniqueID == "" {
			s.UniqueID = id
			m.Sources[id] = s
		}
	}
	return &m, nil
}

// Models returns the model nodes sorted by name.
func (m *Manifest) Models() []Node {
	var out []Node
	for _, n := range m.Nodes {
		if n.ResourceType == "model" {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// KeyFor maps a model or source unique id to its asset key. Models are
// keyed by name; sources by [schema, name].
func (m *Manifest) KeyFor(uniqueID string) (asset.Key, bool) {
	if n, ok := m.Nodes[uniqueID]; ok && n.ResourceType == "model" {
		return asset.NewKey(n.Name), true
	}
	if s, ok := m.Sources[uniqueID]; ok {
		return asset.NewKey(s.Schema, s.Name), true
	}
	return asset.Key{}, false
}

// AssetSpecs declares one spec per model. Dependencies on models and
// sources become asset deps; other node kinds are dropped.
func (m *Manifest) AssetSpecs() []asset.Spec {
	models := m.Models()
	out := make([]asset.Spec, 0, len(models))
	for _, n := range models {
		spec := asset.Spec{
			Key:         asset.NewKey(n.Name),
			Description: n.Description,
			Metadata: map[string]any{
				"unique_id":    n.UniqueID,
				"materialized": n.Config.Materialized,
			},
		}
		seen := make(map[asset.Key]bool)
		for _, dep := range n.DependsOn.Nodes {
			k, ok := m.KeyFor(dep)
			if !ok || seen[k] {
				continue
			}
			seen[k] = true
			spec.Deps = append(spec.Deps, k)
		}
		out = append(out, spec)
	}
	return out
}
