package bridge

import (
	"context"
	"log/slog"

	"airlift-demo/internal/asset"
	"airlift-demo/internal/domain"
)

// ProxyExecutor runs, locally, the assets of tasks the task engine has
// handed over. The engine calls back with the DAG and task ids.
type ProxyExecutor struct {
	defs         *asset.Definitions
	state        StateLoader
	materializer *asset.Materializer
	logger       *slog.Logger
}

// NewProxyExecutor creates a new ProxyExecutor.
func NewProxyExecutor(defs *asset.Definitions, state StateLoader, m *asset.Materializer, logger *slog.Logger) *ProxyExecutor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ProxyExecutor{defs: defs, state: state, materializer: m, logger: logger.With("component", "proxy")}
}

// RunTask materializes the assets mapped to dagID/taskID. Tasks that are
// not proxied are refused.
func (e *ProxyExecutor) RunTask(ctx context.Context, dagID, taskID, runID string) (*domain.Run, error) {
	state, err := e.state()
	if err != nil {
		return nil, err
	}
	if !state.TaskProxied(dagID, taskID) {
		return nil, domain.ErrValidation("task %s/%s is not proxied", dagID, taskID)
	}
	defs := TaskDefinitions(e.defs, dagID, taskID)
	if len(defs) == 0 {
		return nil, domain.ErrNotFound("no assets are mapped to task %s/%s", dagID, taskID)
	}
	e.logger.Info("running proxied task", "dag_id", dagID, "task_id", taskID)
	return e.run(ctx, defs, runID)
}

// RunDag materializes the assets mapped to dagID as a whole. The DAG must
// be proxied at DAG level.
func (e *ProxyExecutor) RunDag(ctx context.Context, dagID, runID string) (*domain.Run, error) {
	state, err := e.state()
	if err != nil {
		return nil, err
	}
	if !state.DagProxied(dagID) {
		return nil, domain.ErrValidation("dag %s is not proxied", dagID)
	}
	defs := DagMappedDefinitions(e.defs, dagID)
	if len(defs) == 0 {
		return nil, domain.ErrNotFound("no assets are mapped to dag %s", dagID)
	}
	e.logger.Info("running proxied dag", "dag_id", dagID)
	return e.run(ctx, defs, runID)
}

func (e *ProxyExecutor) run(ctx context.Context, defs []*asset.Definition, runID string) (*domain.Run, error) {
	var selection []asset.Key
	for _, d := range defs {
		if !d.Executable() {
			return nil, domain.ErrValidation("asset %s is observed only and cannot be executed", d.Name)
		}
		selection = append(selection, d.Keys()...)
	}
	return e.materializer.Materialize(ctx, e.defs, asset.MaterializeOptions{
		Selection:   selection,
		TriggerType: domain.TriggerTypeProxied,
		RunID:       runID,
	})
}
