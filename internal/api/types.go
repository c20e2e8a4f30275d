package api

import (
	"time"

	"airlift-demo/internal/asset"
	"airlift-demo/internal/bridge"
	"airlift-demo/internal/domain"
)

// Asset is one declared asset with its latest materialization. Proxied is
// set only for assets mapped to a task or DAG: true when they run locally.
type Asset struct {
	Key                   string            `json:"key"`
	Deps                  []string          `json:"deps"`
	Description           string            `json:"description,omitempty"`
	Definition            string            `json:"definition"`
	Executable            bool              `json:"executable"`
	Partitioned           bool              `json:"partitioned"`
	Checks                []string          `json:"checks,omitempty"`
	Proxied               *bool             `json:"proxied,omitempty"`
	Metadata              map[string]string `json:"metadata,omitempty"`
	LatestMaterialization *Materialization  `json:"latest_materialization,omitempty"`
}

// ListAssetsResponse is the body of GET /api/v1/assets.
type ListAssetsResponse struct {
	Stage  string  `json:"stage"`
	Assets []Asset `json:"assets"`
}

// Materialization is a recorded materialization event.
type Materialization struct {
	ID           string         `json:"id"`
	AssetKey     string         `json:"asset_key"`
	RunID        string         `json:"run_id"`
	PartitionKey *string        `json:"partition_key,omitempty"`
	Source       string         `json:"source"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// ListMaterializationsResponse is the body of the materializations listing.
type ListMaterializationsResponse struct {
	AssetKey         string            `json:"asset_key"`
	Materializations []Materialization `json:"materializations"`
}

// CheckEvaluation is a recorded check result.
type CheckEvaluation struct {
	AssetKey    string         `json:"asset_key"`
	CheckName   string         `json:"check_name"`
	RunID       string         `json:"run_id"`
	Outcome     string         `json:"outcome"`
	Severity    string         `json:"severity,omitempty"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// MaterializeRequest is the body of POST /api/v1/materialize. An empty
// selection runs every executable asset.
type MaterializeRequest struct {
	Selection    []string `json:"selection"`
	PartitionKey *string  `json:"partition_key,omitempty"`
}

// RunTaskRequest is the optional body of the proxied task and DAG
// endpoints.
type RunTaskRequest struct {
	RunID string `json:"run_id,omitempty"`
}

// Unit is the outcome of one definition within a run.
type Unit struct {
	Name      string            `json:"name"`
	AssetKeys []string          `json:"asset_keys"`
	Status    string            `json:"status"`
	Error     *string           `json:"error,omitempty"`
	Checks    []CheckEvaluation `json:"checks,omitempty"`
}

// Run is the body returned by the run endpoints.
type Run struct {
	ID           string     `json:"id"`
	Status       string     `json:"status"`
	TriggerType  string     `json:"trigger_type"`
	PartitionKey *string    `json:"partition_key,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Units        []Unit     `json:"units"`
}

func assetFromSpec(defs *asset.Definitions, s asset.Spec, state bridge.ProxiedState) Asset {
	a := Asset{
		Key:         s.Key.String(),
		Deps:        make([]string, len(s.Deps)),
		Description: s.Description,
		Partitioned: s.Partitions != nil,
	}
	for i, d := range s.Deps {
		a.Deps[i] = d.String()
	}
	if d, ok := defs.DefinitionFor(s.Key); ok {
		a.Definition = d.Name
		a.Executable = d.Executable()
		a.Metadata = d.Metadata
		if state != nil {
			if proxied, mapped := state.DefinitionProxied(d); mapped {
				a.Proxied = &proxied
			}
		}
	}
	for _, c := range defs.ChecksFor(s.Key) {
		a.Checks = append(a.Checks, c.Key.Name)
	}
	return a
}

func materializationFromEvent(ev domain.MaterializationEvent) Materialization {
	return Materialization{
		ID:           ev.ID,
		AssetKey:     ev.AssetKey,
		RunID:        ev.RunID,
		PartitionKey: ev.PartitionKey,
		Source:       ev.Source,
		Metadata:     ev.Metadata,
		CreatedAt:    ev.CreatedAt,
	}
}

func checkFromEvaluation(ev domain.CheckEvaluation) CheckEvaluation {
	c := CheckEvaluation{
		AssetKey:    ev.AssetKey,
		CheckName:   ev.CheckName,
		RunID:       ev.RunID,
		Outcome:     string(ev.Outcome),
		Description: ev.Description,
		Metadata:    ev.Metadata,
		CreatedAt:   ev.CreatedAt,
	}
	if ev.Outcome != domain.CheckOutcomePass {
		c.Severity = string(ev.Severity)
	}
	return c
}

func runFromDomain(r *domain.Run) Run {
	out := Run{
		ID:           r.ID,
		Status:       r.Status,
		TriggerType:  r.TriggerType,
		PartitionKey: r.PartitionKey,
		StartedAt:    r.StartedAt,
		FinishedAt:   r.FinishedAt,
		Units:        make([]Unit, len(r.Units)),
	}
	for i, u := range r.Units {
		unit := Unit{Name: u.Name, AssetKeys: u.AssetKeys, Status: u.Status, Error: u.ErrorMessage}
		for _, c := range u.Checks {
			unit.Checks = append(unit.Checks, checkFromEvaluation(c))
		}
		out.Units[i] = unit
	}
	return out
}
