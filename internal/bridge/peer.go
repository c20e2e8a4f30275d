package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"airlift-demo/internal/airflow"
	"airlift-demo/internal/asset"
	"airlift-demo/internal/domain"
)

// RunSource is the part of the task engine API the peer reads.
type RunSource interface {
	Name() string
	ListDagRuns(ctx context.Context, dagID string, opts airflow.ListDagRunsOptions) ([]airflow.DagRun, error)
	ListTaskInstances(ctx context.Context, dagID, runID string) ([]airflow.TaskInstance, error)
}

// Listener receives every materialization forwarded by the peer.
type Listener interface {
	OnMaterialization(ctx context.Context, ev domain.MaterializationEvent)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ctx context.Context, ev domain.MaterializationEvent)

// OnMaterialization implements Listener.
func (f ListenerFunc) OnMaterialization(ctx context.Context, ev domain.MaterializationEvent) {
	f(ctx, ev)
}

// StateLoader returns the current proxied state.
type StateLoader func() (ProxiedState, error)

// PollResult summarizes one Poll.
type PollResult struct {
	RunsProcessed int
	Events        []domain.MaterializationEvent
	Checks        []domain.CheckEvaluation
}

// Peer forwards finished DAG runs as materialization events. Each run is
// processed once; progress is stored under SensorName.
type Peer struct {
	source  RunSource
	defs    *asset.Definitions
	state   StateLoader
	events  domain.EventRepository
	cursors domain.CursorRepository
	logger  *slog.Logger
	now     func() time.Time

	mu        sync.Mutex // serializes Poll
	listeners []Listener
}

// NewPeer creates a new Peer over defs, which must come from BuildDefs.
func NewPeer(source RunSource, defs *asset.Definitions, state StateLoader,
	events domain.EventRepository, cursors domain.CursorRepository, logger *slog.Logger) *Peer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if state == nil {
		state = func() (ProxiedState, error) { return ProxiedState{}, nil }
	}
	return &Peer{
		source:  source,
		defs:    defs,
		state:   state,
		events:  events,
		cursors: cursors,
		logger:  logger.With("component", "peer", "instance", source.Name()),
		now:     time.Now,
	}
}

// SensorName is the cursor name used by this peer.
func (p *Peer) SensorName() string {
	return p.source.Name() + "__airflow_dag_status_sensor"
}

// Subscribe registers l for every event forwarded after this call.
func (p *Peer) Subscribe(l Listener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, l)
}

// peerCursor is the stored progress: the end date of the newest processed
// run and the ids of the runs that ended at exactly that instant.
type peerCursor struct {
	EndDate time.Time `json:"end_date"`
	RunIDs  []string  `json:"run_ids"`
}

func (c *peerCursor) seen(run airflow.DagRun) bool {
	if run.EndDate == nil || !run.EndDate.Equal(c.EndDate) {
		return false
	}
	key := run.DagID + "/" + run.DagRunID
	for _, id := range c.RunIDs {
		if id == key {
			return true
		}
	}
	return false
}

func (c *peerCursor) advance(run airflow.DagRun) {
	key := run.DagID + "/" + run.DagRunID
	if run.EndDate.After(c.EndDate) {
		c.EndDate = *run.EndDate
		c.RunIDs = []string{key}
		return
	}
	c.RunIDs = append(c.RunIDs, key)
}

func (p *Peer) loadCursor(ctx context.Context) (*peerCursor, error) {
	stored, err := p.cursors.GetCursor(ctx, p.SensorName())
	if err != nil {
		var nf *domain.NotFoundError
		if errors.As(err, &nf) {
			return nil, nil
		}
		return nil, fmt.Errorf("load cursor: %w", err)
	}
	var c peerCursor
	if err := json.Unmarshal([]byte(stored.Value), &c); err != nil {
		return nil, fmt.Errorf("decode cursor %q: %w", stored.Value, err)
	}
	return &c, nil
}

func (p *Peer) storeCursor(ctx context.Context, c *peerCursor) error {
	b, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode cursor: %w", err)
	}
	if err := p.cursors.SetCursor(ctx, p.SensorName(), string(b)); err != nil {
		return fmt.Errorf("store cursor: %w", err)
	}
	return nil
}

// Poll processes every run that finished since the stored cursor, oldest
// first. A run whose processing failed is retried by the next Poll; events
// the event store already holds for it are not forwarded again. Successful runs emit peered events for the DAG asset, for assets
// mapped to the DAG unless it is proxied, and for assets of successful
// tasks that are not proxied. Checks on emitted assets are evaluated. The
// cursor advances after each run.
func (p *Peer) Poll(ctx context.Context) (*PollResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cur, err := p.loadCursor(ctx)
	if err != nil {
		return nil, err
	}
	state, err := p.state()
	if err != nil {
		return nil, err
	}

	var runs []airflow.DagRun
	for _, dagID := range DagIDs(p.defs) {
		opts := airflow.ListDagRunsOptions{
			States:  []string{airflow.StateSuccess, airflow.StateFailed},
			OrderBy: "end_date",
		}
		if cur != nil {
			since := cur.EndDate
			opts.EndDateGTE = &since
		}
		dagRuns, err := p.source.ListDagRuns(ctx, dagID, opts)
		if err != nil {
			return nil, err
		}
		for _, r := range dagRuns {
			if r.EndDate == nil || !r.Terminal() {
				continue
			}
			if cur != nil && (r.EndDate.Before(cur.EndDate) || cur.seen(r)) {
				continue
			}
			runs = append(runs, r)
		}
	}
	sort.SliceStable(runs, func(i, j int) bool { return runs[i].EndDate.Before(*runs[j].EndDate) })

	if cur == nil {
		cur = &peerCursor{}
	}
	res := &PollResult{}
	for _, run := range runs {
		if err := p.processRun(ctx, run, state, res); err != nil {
			return res, err
		}
		cur.advance(run)
		if err := p.storeCursor(ctx, cur); err != nil {
			return res, err
		}
		res.RunsProcessed++
	}
	if len(runs) > 0 {
		p.logger.Info("peer poll processed runs", "runs", res.RunsProcessed, "events", len(res.Events))
	}
	return res, nil
}

func (p *Peer) processRun(ctx context.Context, run airflow.DagRun, state ProxiedState, res *PollResult) error {
	logger := p.logger.With("dag_id", run.DagID, "run_id", run.DagRunID, "state", run.State)
	if run.State != airflow.StateSuccess {
		logger.Info("skipping unsuccessful run")
		return nil
	}

	runMeta := map[string]any{
		"dag_id":   run.DagID,
		"run_id":   run.DagRunID,
		"instance": p.source.Name(),
	}
	if run.StartDate != nil {
		runMeta["start_date"] = run.StartDate.UTC().Format(time.RFC3339)
	}
	if run.EndDate != nil {
		runMeta["end_date"] = run.EndDate.UTC().Format(time.RFC3339)
	}

	var emit []*asset.Definition

	tis, err := p.source.ListTaskInstances(ctx, run.DagID, run.DagRunID)
	if err != nil {
		return err
	}
	sort.Slice(tis, func(i, j int) bool { return tis[i].TaskID < tis[j].TaskID })
	for _, ti := range tis {
		if ti.State != airflow.StateSuccess {
			continue
		}
		if state.TaskProxied(run.DagID, ti.TaskID) {
			logger.Debug("task is proxied; its events are recorded locally", "task_id", ti.TaskID)
			continue
		}
		emit = append(emit, TaskDefinitions(p.defs, run.DagID, ti.TaskID)...)
	}

	if !state.DagProxied(run.DagID) {
		emit = append(emit, DagMappedDefinitions(p.defs, run.DagID)...)
	}
	if d, ok := DagDefinition(p.defs, run.DagID); ok {
		emit = append(emit, d)
	}

	for _, d := range emit {
		for _, spec := range d.Specs {
			ev, err := p.record(ctx, run, spec, d, runMeta)
			var conflict *domain.ConflictError
			switch {
			case errors.As(err, &conflict):
				// Left over from a poll that failed partway through this run.
				logger.Debug("materialization already recorded", "asset", spec.Key.String())
			case err != nil:
				return err
			case ev == nil:
				continue
			default:
				res.Events = append(res.Events, *ev)
				for _, l := range p.listeners {
					l.OnMaterialization(ctx, *ev)
				}
			}
			checks, err := p.evaluateChecks(ctx, spec.Key, run.DagRunID)
			if err != nil {
				return err
			}
			res.Checks = append(res.Checks, checks...)
		}
	}
	return nil
}

func (p *Peer) record(ctx context.Context, run airflow.DagRun, spec asset.Spec, d *asset.Definition,
	runMeta map[string]any) (*domain.MaterializationEvent, error) {
	md := make(map[string]any, len(runMeta)+1)
	for k, v := range runMeta {
		md[k] = v
	}
	if taskID := d.Metadata[MetadataTaskID]; taskID != "" {
		md["task_id"] = taskID
	}

	var partition *string
	if spec.Partitions != nil {
		if run.LogicalDate == nil {
			p.logger.Warn("partitioned asset without logical date", "asset", spec.Key.String())
			return nil, nil
		}
		key := spec.Partitions.KeyFor(*run.LogicalDate)
		if err := spec.Partitions.Validate(key); err != nil {
			p.logger.Warn("run outside partition range", "asset", spec.Key.String(), "error", err)
			return nil, nil
		}
		partition = &key
	}

	ev, err := p.events.RecordMaterialization(ctx, &domain.MaterializationEvent{
		ID:           domain.NewID(),
		AssetKey:     spec.Key.String(),
		RunID:        run.DagRunID,
		PartitionKey: partition,
		Source:       domain.MaterializationSourcePeered,
		Metadata:     md,
		CreatedAt:    p.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("record peered materialization %s: %w", spec.Key, err)
	}
	return ev, nil
}

func (p *Peer) evaluateChecks(ctx context.Context, key asset.Key, runID string) ([]domain.CheckEvaluation, error) {
	var out []domain.CheckEvaluation
	for _, c := range p.defs.ChecksFor(key) {
		r := c.Fn(ctx)
		ev, err := p.events.RecordCheckEvaluation(ctx, &domain.CheckEvaluation{
			ID:          domain.NewID(),
			CheckName:   c.Key.Name,
			AssetKey:    key.String(),
			RunID:       runID,
			Outcome:     r.Outcome(),
			Severity:    r.Severity,
			Description: r.Description,
			Metadata:    r.Metadata,
			CreatedAt:   p.now(),
		})
		if err != nil {
			return nil, fmt.Errorf("record check %s: %w", c.Key, err)
		}
		out = append(out, *ev)
	}
	return out, nil
}
