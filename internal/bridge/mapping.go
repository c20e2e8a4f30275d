// Package bridge connects asset definitions to the DAGs and tasks of the
// task engine: it declares one asset per DAG, forwards finished runs as
// materializations, and executes proxied tasks locally.
package bridge

import (
	"sort"

	"airlift-demo/internal/asset"
	"airlift-demo/internal/domain"
)

// Definition metadata keys set by the mapping functions.
const (
	MetadataDagID  = "airlift/dag_id"
	MetadataTaskID = "airlift/task_id"
	MetadataKind   = "airlift/kind"

	kindDag = "dag"
)

// AssetsWithTaskMappings tags each definition with the task that produces
// it. The result is ordered by task id.
func AssetsWithTaskMappings(dagID string, taskMappings map[string][]*asset.Definition) []*asset.Definition {
	taskIDs := make([]string, 0, len(taskMappings))
	for id := range taskMappings {
		taskIDs = append(taskIDs, id)
	}
	sort.Strings(taskIDs)

	var out []*asset.Definition
	for _, taskID := range taskIDs {
		for _, d := range taskMappings[taskID] {
			out = append(out, d.WithMetadata(MetadataDagID, dagID).WithMetadata(MetadataTaskID, taskID))
		}
	}
	return out
}

// AssetsWithDagMappings tags each definition with the DAG that produces it.
func AssetsWithDagMappings(dagMappings map[string][]*asset.Definition) []*asset.Definition {
	dagIDs := make([]string, 0, len(dagMappings))
	for id := range dagMappings {
		dagIDs = append(dagIDs, id)
	}
	sort.Strings(dagIDs)

	var out []*asset.Definition
	for _, dagID := range dagIDs {
		for _, d := range dagMappings[dagID] {
			out = append(out, d.WithMetadata(MetadataDagID, dagID))
		}
	}
	return out
}

// DagAssetKey is the key of the asset representing a DAG.
func DagAssetKey(instance, dagID string) asset.Key {
	return asset.NewKey(instance, "dag", dagID)
}

// BuildDefs adds one external asset per DAG to defs. DAGs come from
// dagIDs and from the mapping metadata of defs. Each DAG asset depends on
// every asset mapped to it.
func BuildDefs(instance string, dagIDs []string, defs *asset.Definitions) (*asset.Definitions, error) {
	if instance == "" {
		return nil, domain.ErrValidation("instance name is required")
	}
	if defs == nil {
		defs = &asset.Definitions{}
	}

	mapped := make(map[string][]asset.Key)
	for _, id := range dagIDs {
		mapped[id] = nil
	}
	for _, d := range defs.Assets {
		dagID := d.Metadata[MetadataDagID]
		if dagID == "" || d.Metadata[MetadataKind] == kindDag {
			continue
		}
		mapped[dagID] = append(mapped[dagID], d.Keys()...)
	}

	ids := make([]string, 0, len(mapped))
	for id := range mapped {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var dagDefs []*asset.Definition
	for _, dagID := range ids {
		deps := mapped[dagID]
		sort.Slice(deps, func(i, j int) bool { return deps[i].String() < deps[j].String() })
		spec := asset.Spec{
			Key:         DagAssetKey(instance, dagID),
			Deps:        deps,
			Description: "DAG " + dagID + " on " + instance,
			Metadata:    map[string]any{"dag_id": dagID, "instance": instance},
		}
		for _, d := range asset.External(spec) {
			dagDefs = append(dagDefs, d.WithMetadata(MetadataDagID, dagID).WithMetadata(MetadataKind, kindDag))
		}
	}

	out := asset.Merge(defs, &asset.Definitions{Assets: dagDefs})
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

// DagIDs returns the DAGs represented in defs, sorted.
func DagIDs(defs *asset.Definitions) []string {
	var out []string
	for _, d := range defs.Assets {
		if d.Metadata[MetadataKind] == kindDag {
			out = append(out, d.Metadata[MetadataDagID])
		}
	}
	sort.Strings(out)
	return out
}

// DagDefinition returns the asset representing dagID.
func DagDefinition(defs *asset.Definitions, dagID string) (*asset.Definition, bool) {
	for _, d := range defs.Assets {
		if d.Metadata[MetadataKind] == kindDag && d.Metadata[MetadataDagID] == dagID {
			return d, true
		}
	}
	return nil, false
}

// TaskDefinitions returns the definitions mapped to dagID/taskID.
func TaskDefinitions(defs *asset.Definitions, dagID, taskID string) []*asset.Definition {
	var out []*asset.Definition
	for _, d := range defs.Assets {
		if d.Metadata[MetadataDagID] == dagID && d.Metadata[MetadataTaskID] == taskID && taskID != "" {
			out = append(out, d)
		}
	}
	return out
}

// DagMappedDefinitions returns the definitions mapped to dagID as a whole.
func DagMappedDefinitions(defs *asset.Definitions, dagID string) []*asset.Definition {
	var out []*asset.Definition
	for _, d := range defs.Assets {
		if d.Metadata[MetadataDagID] == dagID && d.Metadata[MetadataTaskID] == "" && d.Metadata[MetadataKind] != kindDag {
			out = append(out, d)
		}
	}
	return out
}
