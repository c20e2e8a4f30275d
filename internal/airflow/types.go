package airflow

import "time"

// DAG run states reported by the REST API.
const (
	StateQueued  = "queued"
	StateRunning = "running"
	StateSuccess = "success"
	StateFailed  = "failed"
)

// DagRun is one run of a DAG.
type DagRun struct {
	DagID       string         `json:"dag_id"`
	DagRunID    string         `json:"dag_run_id"`
	State       string         `json:"state"`
	LogicalDate *time.Time     `json:"logical_date"`
	StartDate   *time.Time     `json:"start_date"`
	EndDate     *time.Time     `json:"end_date"`
	Conf        map[string]any `json:"conf,omitempty"`
}

// Terminal reports whether the run reached success or failed.
func (r *DagRun) Terminal() bool {
	return r.State == StateSuccess || r.State == StateFailed
}

// TaskInstance is one task's execution within a DAG run.
type TaskInstance struct {
	DagID     string     `json:"dag_id"`
	DagRunID  string     `json:"dag_run_id"`
	TaskID    string     `json:"task_id"`
	State     string     `json:"state"`
	StartDate *time.Time `json:"start_date"`
	EndDate   *time.Time `json:"end_date"`
}

// Dag describes a DAG known to the instance.
type Dag struct {
	DagID       string  `json:"dag_id"`
	IsPaused    bool    `json:"is_paused"`
	FileLoc     string  `json:"fileloc"`
	Description *string `json:"description"`
}

// Task describes a task of a DAG.
type Task struct {
	TaskID            string   `json:"task_id"`
	DownstreamTaskIDs []string `json:"downstream_task_ids"`
}

// ListDagRunsOptions filters ListDagRuns.
type ListDagRunsOptions struct {
	States     []string
	EndDateGTE *time.Time
	OrderBy    string // e.g. "end_date"
	Limit      int
}

type dagRunList struct {
	DagRuns      []DagRun `json:"dag_runs"`
	TotalEntries int      `json:"total_entries"`
}

type taskInstanceList struct {
	TaskInstances []TaskInstance `json:"task_instances"`
	TotalEntries  int            `json:"total_entries"`
}

type dagList struct {
	Dags         []Dag `json:"dags"`
	TotalEntries int   `json:"total_entries"`
}

type taskList struct {
	Tasks        []Task `json:"tasks"`
	TotalEntries int    `json:"total_entries"`
}

// apiProblem is the error body returned by the REST API.
type apiProblem struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Status int    `json:"status"`
}
