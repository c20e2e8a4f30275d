// Package pipeline runs asset schedules and the peering poll on cron.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"airlift-demo/internal/asset"
	"airlift-demo/internal/bridge"
	"airlift-demo/internal/domain"
)

// PeerPollEntry names the cron entry of the peering poll.
const PeerPollEntry = "__peer_poll"

// Materializer runs a selection of definitions.
type Materializer interface {
	Materialize(ctx context.Context, defs *asset.Definitions, opts asset.MaterializeOptions) (*domain.Run, error)
}

// Poller observes finished runs of the task engine.
type Poller interface {
	Poll(ctx context.Context) (*bridge.PollResult, error)
}

// Scheduler manages cron-based materializations and peering polls.
type Scheduler struct {
	cron         *cron.Cron
	materializer Materializer
	logger       *slog.Logger
	now          func() time.Time

	mu       sync.Mutex
	ctx      context.Context
	defs     *asset.Definitions
	poller   Poller
	pollSpec string
	entries  map[string]cron.EntryID // schedule name → cron entry
}

// NewScheduler creates a new scheduler. Overlapping ticks of one entry are
// skipped while the previous tick is still running.
func NewScheduler(m Materializer, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Scheduler{
		cron:         cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		materializer: m,
		logger:       logger,
		now:          time.Now,
		ctx:          context.Background(),
		entries:      make(map[string]cron.EntryID),
	}
}

// SetDefinitions replaces the definitions whose schedules are run.
func (s *Scheduler) SetDefinitions(defs *asset.Definitions) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defs = defs
}

// SetPoller registers a peering poll on the cron spec. A nil poller
// disables polling.
func (s *Scheduler) SetPoller(p Poller, spec string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.poller = p
	s.pollSpec = spec
}

// Start loads every entry and starts the cron scheduler. Jobs run with ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	err := s.loadEntries()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("scheduler started", "entries", len(s.entries))
	return nil
}

// Stop stops the cron scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// Reload clears all cron entries and registers them again from the
// current definitions and poller.
func (s *Scheduler) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entryID := range s.entries {
		s.cron.Remove(entryID)
	}
	s.entries = make(map[string]cron.EntryID)

	return s.loadEntries()
}

// Entries returns the registered entry names mapped to their next run.
func (s *Scheduler) Entries() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]time.Time, len(s.entries))
	for name, id := range s.entries {
		out[name] = s.cron.Entry(id).Next
	}
	return out
}

// loadEntries adds one entry per schedule plus the poll. Invalid cron specs
// are an error: they come from code or configuration, not user input.
func (s *Scheduler) loadEntries() error {
	if s.defs != nil {
		for _, sched := range s.defs.Schedules {
			sched := sched
			defs := s.defs
			id, err := s.cron.AddFunc(sched.Cron, func() { s.runSchedule(defs, sched) })
			if err != nil {
				return domain.ErrConfig("schedule %s: invalid cron %q: %v", sched.Name, sched.Cron, err)
			}
			s.entries[sched.Name] = id
			s.logger.Info("scheduled assets", "schedule", sched.Name, "cron", sched.Cron)
		}
	}

	if s.poller != nil && s.pollSpec != "" {
		poller := s.poller
		id, err := s.cron.AddFunc(s.pollSpec, func() { s.runPoll(poller) })
		if err != nil {
			return domain.ErrConfig("peer poll: invalid cron %q: %v", s.pollSpec, err)
		}
		s.entries[PeerPollEntry] = id
		s.logger.Info("scheduled peer poll", "cron", s.pollSpec)
	}
	return nil
}

func (s *Scheduler) jobContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

// runSchedule materializes the selection. Partitioned selections target the
// last complete partition, i.e. the day before the tick.
func (s *Scheduler) runSchedule(defs *asset.Definitions, sched asset.Schedule) {
	logger := s.logger.With("schedule", sched.Name)
	opts := asset.MaterializeOptions{
		Selection:   sched.Selection,
		TriggerType: domain.TriggerTypeScheduled,
	}
	if p := selectionPartitions(defs, sched.Selection); p != nil {
		key := p.KeyFor(s.now().AddDate(0, 0, -1))
		if err := p.Validate(key); err != nil {
			logger.Info("no complete partition yet", "partition", key)
			return
		}
		opts.PartitionKey = &key
	}

	run, err := s.materializer.Materialize(s.jobContext(), defs, opts)
	if err != nil {
		logger.Warn("scheduled materialization failed", "error", err)
		return
	}
	logger.Info("scheduled materialization finished", "run_id", run.ID, "status", run.Status)
}

func (s *Scheduler) runPoll(p Poller) {
	res, err := p.Poll(s.jobContext())
	if err != nil {
		s.logger.Warn("peer poll failed", "error", err)
		return
	}
	if res.RunsProcessed > 0 {
		s.logger.Info("peer poll", "runs", res.RunsProcessed, "events", len(res.Events), "checks", len(res.Checks))
	}
}

func selectionPartitions(defs *asset.Definitions, selection []asset.Key) *asset.DailyPartitions {
	keys := selection
	if len(keys) == 0 {
		keys = defs.AllKeys()
	}
	for _, k := range keys {
		if spec, ok := defs.Spec(k); ok && spec.Partitions != nil {
			return spec.Partitions
		}
	}
	return nil
}
