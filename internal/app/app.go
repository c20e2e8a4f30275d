// Package app wires the configuration, the event store and the selected
// stage into a runnable application.
package app

import (
	"context"
	"log/slog"

	"airlift-demo/internal/airflow"
	"airlift-demo/internal/api"
	"airlift-demo/internal/asset"
	"airlift-demo/internal/bridge"
	"airlift-demo/internal/config"
	"airlift-demo/internal/db"
	"airlift-demo/internal/db/repository"
	"airlift-demo/internal/domain"
	"airlift-demo/internal/service/pipeline"
	"airlift-demo/internal/service/storage"
	"airlift-demo/internal/stages"
)

const readPoolSize = 4

// Deps holds what main() provides.
type Deps struct {
	Cfg    *config.Config
	Logger *slog.Logger
}

// App is the fully wired runtime of one stage.
type App struct {
	Cfg          *config.Config
	Env          *stages.Env
	Stage        *stages.Stage
	Store        *db.Store
	Events       *repository.EventRepo
	Cursors      *repository.CursorRepo
	Materializer *asset.Materializer
	Scheduler    *pipeline.Scheduler

	// Set for peered stages only.
	Airflow *airflow.Client
	Peer    *bridge.Peer
	Proxy   *bridge.ProxyExecutor
	State   bridge.StateLoader
}

// New opens the event store and builds stageName. The caller must Close
// the returned App.
func New(_ context.Context, deps Deps, stageName string) (*App, error) {
	cfg := deps.Cfg
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	env := stages.NewEnv(cfg, storage.NewPublisher(cfg, logger), logger)
	stage, err := stages.ByName(env, stageName)
	if err != nil {
		return nil, err
	}

	store, err := db.OpenStore(cfg.MetaDBPath, readPoolSize)
	if err != nil {
		return nil, err
	}

	events := repository.NewEventRepo(store.Write, store.Read)
	cursors := repository.NewCursorRepo(store.Write)
	materializer := asset.NewMaterializer(events, logger.With("component", "materializer"))

	a := &App{
		Cfg:          cfg,
		Env:          env,
		Stage:        stage,
		Store:        store,
		Events:       events,
		Cursors:      cursors,
		Materializer: materializer,
		Scheduler:    pipeline.NewScheduler(materializer, logger.With("component", "scheduler")),
	}
	a.Scheduler.SetDefinitions(stage.Defs)

	if stage.Peered {
		stateDir := cfg.ProxiedStateDir()
		state := func() (bridge.ProxiedState, error) { return bridge.LoadProxiedState(stateDir) }

		a.State = state
		a.Airflow = airflow.NewClient(cfg.Airflow, logger)
		a.Peer = bridge.NewPeer(a.Airflow, stage.Defs, state, events, cursors, logger)
		a.Peer.Subscribe(logMaterializations(logger.With("component", "peer")))
		a.Proxy = bridge.NewProxyExecutor(stage.Defs, state, materializer, logger)
		a.Scheduler.SetPoller(a.Peer, cfg.PeerPollSchedule)
	}

	logger.Info("application wired", "stage", stage.Name, "peered", stage.Peered,
		"assets", len(stage.Defs.AllKeys()), "publisher", env.Publisher.Enabled())
	return a, nil
}

// TaskRunner returns the proxied task and DAG executor, or a nil
// interface for stages without one.
func (a *App) TaskRunner() api.TaskRunner {
	if a.Proxy == nil {
		return nil
	}
	return a.Proxy
}

func logMaterializations(logger *slog.Logger) bridge.Listener {
	return bridge.ListenerFunc(func(ctx context.Context, ev domain.MaterializationEvent) {
		args := []any{"asset", ev.AssetKey, "run_id", ev.RunID}
		if ev.PartitionKey != nil {
			args = append(args, "partition", *ev.PartitionKey)
		}
		logger.InfoContext(ctx, "observed materialization", args...)
	})
}

// Close releases the event store.
func (a *App) Close() error {
	return a.Store.Close()
}
