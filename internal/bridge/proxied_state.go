package bridge

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"airlift-demo/internal/asset"
	"airlift-demo/internal/domain"
)

// TaskProxiedState records whether one task is proxied.
type TaskProxiedState struct {
	ID      string `yaml:"id"`
	Proxied bool   `yaml:"proxied"`
}

// DagProxiedState is the content of proxied_state/<dag_id>.yaml. Either the
// whole DAG is proxied (Proxied set) or individual tasks are.
type DagProxiedState struct {
	Proxied *bool              `yaml:"proxied,omitempty"`
	Tasks   []TaskProxiedState `yaml:"tasks,omitempty"`
}

// TaskProxied reports whether taskID is proxied. Unknown tasks are not.
func (s *DagProxiedState) TaskProxied(taskID string) bool {
	if s == nil {
		return false
	}
	for _, t := range s.Tasks {
		if t.ID == taskID {
			return t.Proxied
		}
	}
	return false
}

// DagProxied reports whether the DAG as a whole is proxied.
func (s *DagProxiedState) DagProxied() bool {
	return s != nil && s.Proxied != nil && *s.Proxied
}

// ProxiedState maps DAG id to its state.
type ProxiedState map[string]*DagProxiedState

// TaskProxied reports whether dagID/taskID is proxied.
func (p ProxiedState) TaskProxied(dagID, taskID string) bool {
	return p[dagID].TaskProxied(taskID)
}

// DagProxied reports whether dagID is proxied as a whole.
func (p ProxiedState) DagProxied(dagID string) bool {
	return p[dagID].DagProxied()
}

// DefinitionProxied reports whether d runs locally because the task or
// DAG it is mapped to is proxied. mapped is false for definitions with no
// task or DAG mapping, including the assets representing DAGs.
func (p ProxiedState) DefinitionProxied(d *asset.Definition) (proxied, mapped bool) {
	dagID := d.Metadata[MetadataDagID]
	if dagID == "" || d.Metadata[MetadataKind] == kindDag {
		return false, false
	}
	if taskID := d.Metadata[MetadataTaskID]; taskID != "" {
		return p.TaskProxied(dagID, taskID), true
	}
	return p.DagProxied(dagID), true
}

// LoadProxiedState reads every <dag_id>.yaml file in dir. A missing
// directory yields an empty state.
func LoadProxiedState(dir string) (ProxiedState, error) {
	out := ProxiedState{}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return out, nil
		}
		return nil, fmt.Errorf("read proxied state dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".yaml" {
			continue
		}
		dagID := strings.TrimSuffix(e.Name(), ".yaml")
		st, err := LoadDagProxiedState(dir, dagID)
		if err != nil {
			return nil, err
		}
		out[dagID] = st
	}
	return out, nil
}

// LoadDagProxiedState reads the state of one DAG. A missing file yields an
// empty state.
func LoadDagProxiedState(dir, dagID string) (*DagProxiedState, error) {
	data, err := os.ReadFile(stateFile(dir, dagID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &DagProxiedState{}, nil
		}
		return nil, fmt.Errorf("read proxied state of %s: %w", dagID, err)
	}
	var st DagProxiedState
	if err := yaml.Unmarshal(data, &st); err != nil {
		return nil, domain.ErrValidation("parse proxied state of %s: %v", dagID, err)
	}
	seen := make(map[string]bool, len(st.Tasks))
	for _, t := range st.Tasks {
		if t.ID == "" {
			return nil, domain.ErrValidation("proxied state of %s: task id is required", dagID)
		}
		if seen[t.ID] {
			return nil, domain.ErrValidation("proxied state of %s: duplicate task %s", dagID, t.ID)
		}
		seen[t.ID] = true
	}
	return &st, nil
}

// MarkTaskProxied sets the proxied flag of dagID/taskID and writes the file
// back, adding the task when absent.
func MarkTaskProxied(dir, dagID, taskID string, proxied bool) error {
	if dagID == "" || taskID == "" {
		return domain.ErrValidation("dag id and task id are required")
	}
	st, err := LoadDagProxiedState(dir, dagID)
	if err != nil {
		return err
	}
	found := false
	for i := range st.Tasks {
		if st.Tasks[i].ID == taskID {
			st.Tasks[i].Proxied = proxied
			found = true
		}
	}
	if !found {
		st.Tasks = append(st.Tasks, TaskProxiedState{ID: taskID, Proxied: proxied})
	}
	return writeDagProxiedState(dir, dagID, st)
}

// MarkDagProxied sets the DAG-level proxied flag of dagID.
func MarkDagProxied(dir, dagID string, proxied bool) error {
	if dagID == "" {
		return domain.ErrValidation("dag id is required")
	}
	st, err := LoadDagProxiedState(dir, dagID)
	if err != nil {
		return err
	}
	st.Proxied = &proxied
	return writeDagProxiedState(dir, dagID, st)
}

// InitDagProxiedState writes a state listing taskIDs as not proxied, unless
// a state file already exists.
func InitDagProxiedState(dir, dagID string, taskIDs []string) error {
	if _, err := os.Stat(stateFile(dir, dagID)); err == nil {
		return nil
	}
	ids := append([]string(nil), taskIDs...)
	sort.Strings(ids)
	st := &DagProxiedState{}
	for _, id := range ids {
		st.Tasks = append(st.Tasks, TaskProxiedState{ID: id})
	}
	return writeDagProxiedState(dir, dagID, st)
}

const stateFileMode fs.FileMode = 0o644

func writeDagProxiedState(dir, dagID string, st *DagProxiedState) error {
	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // state is read by the task engine
		return fmt.Errorf("create proxied state dir: %w", err)
	}
	data, err := yaml.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal proxied state: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+dagID+".*.tmp")
	if err != nil {
		return fmt.Errorf("write proxied state of %s: %w", dagID, err)
	}
	// The task engine may run as another user.
	if err := tmp.Chmod(stateFileMode); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write proxied state of %s: %w", dagID, err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write proxied state of %s: %w", dagID, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write proxied state of %s: %w", dagID, err)
	}
	if err := os.Rename(tmp.Name(), stateFile(dir, dagID)); err != nil {
		return fmt.Errorf("write proxied state of %s: %w", dagID, err)
	}
	return nil
}

func stateFile(dir, dagID string) string {
	return filepath.Join(dir, dagID+".yaml")
}
