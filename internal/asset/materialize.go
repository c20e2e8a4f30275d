package asset

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"airlift-demo/internal/domain"
)

// MaterializeOptions selects what to run.
type MaterializeOptions struct {
	// Selection lists asset keys to materialize. Every executable
	// definition owning a selected key runs. Empty selects all executable
	// definitions.
	Selection    []Key
	PartitionKey *string
	TriggerType  string
	RunID        string // generated when empty
}

// Materializer executes definitions and records their events.
type Materializer struct {
	events domain.EventRepository
	logger *slog.Logger
	now    func() time.Time
}

// NewMaterializer creates a new Materializer.
func NewMaterializer(events domain.EventRepository, logger *slog.Logger) *Materializer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Materializer{events: events, logger: logger, now: time.Now}
}

// Materialize runs the selected definitions tier by tier on the calling
// goroutine. A succeeded definition records one materialization per spec,
// then evaluates the checks on those specs. A failed definition causes
// every selected definition downstream of it to be skipped, including
// those reached only through definitions outside the selection; earlier
// results are kept.
//
// The returned error covers invalid input and storage failures. Body
// failures are reported in the run, which is returned together with an
// error when any unit failed.
func (m *Materializer) Materialize(ctx context.Context, defs *Definitions, opts MaterializeOptions) (*domain.Run, error) {
	if err := defs.Validate(); err != nil {
		return nil, err
	}

	selected, err := selectDefinitions(defs, opts.Selection)
	if err != nil {
		return nil, err
	}
	if err := checkPartition(selected, opts.PartitionKey); err != nil {
		return nil, err
	}

	tiers, err := ResolveTiers(defs.Assets)
	if err != nil {
		return nil, err
	}

	run := &domain.Run{
		ID:           opts.RunID,
		TriggerType:  opts.TriggerType,
		PartitionKey: opts.PartitionKey,
		Status:       domain.RunStatusRunning,
		StartedAt:    m.now(),
	}
	if run.ID == "" {
		run.ID = domain.NewID()
	}
	if run.TriggerType == "" {
		run.TriggerType = domain.TriggerTypeManual
	}
	logger := m.logger.With("run_id", run.ID)
	logger.Info("run started", "units", len(selected), "trigger", run.TriggerType)

	upstream := upstreamDefinitions(defs.Assets)
	blocked := make(map[string]string) // unit -> the failed unit it depends on

	for _, tier := range tiers {
		for _, def := range tier {
			if _, ok := selected[def.Name]; !ok {
				if cause := firstBlocked(upstream[def.Name], blocked); cause != "" {
					blocked[def.Name] = cause
				}
				continue
			}

			unit := domain.UnitResult{Name: def.Name, AssetKeys: keyStrings(def.Keys())}

			if cause := firstBlocked(upstream[def.Name], blocked); cause != "" {
				msg := fmt.Sprintf("upstream %s did not succeed", cause)
				unit.Status = domain.UnitStatusSkipped
				unit.ErrorMessage = &msg
				blocked[def.Name] = cause
				run.Units = append(run.Units, unit)
				logger.Warn("unit skipped", "unit", def.Name, "reason", msg)
				continue
			}

			ec := &ExecContext{
				RunID:        run.ID,
				PartitionKey: opts.PartitionKey,
				Logger:       logger.With("unit", def.Name),
			}
			if err := runBody(ctx, def, ec); err != nil {
				msg := err.Error()
				unit.Status = domain.UnitStatusFailed
				unit.ErrorMessage = &msg
				blocked[def.Name] = def.Name
				run.Units = append(run.Units, unit)
				logger.Error("unit failed", "unit", def.Name, "error", err)
				continue
			}

			if err := m.recordMaterializations(ctx, def, ec); err != nil {
				return nil, err
			}
			checks, err := m.evaluateChecks(ctx, defs, def, run.ID)
			if err != nil {
				return nil, err
			}
			unit.Status = domain.UnitStatusSuccess
			unit.Checks = checks
			run.Units = append(run.Units, unit)
			logger.Info("unit materialized", "unit", def.Name, "assets", len(def.Specs))
		}
	}

	finished := m.now()
	run.FinishedAt = &finished
	if run.Failed() {
		run.Status = domain.RunStatusFailed
		logger.Warn("run failed")
		return run, fmt.Errorf("run %s: one or more units failed", run.ID)
	}
	run.Status = domain.RunStatusSuccess
	logger.Info("run succeeded")
	return run, nil
}

// runBody executes def's body, converting panics into errors.
func runBody(ctx context.Context, def *Definition, ec *ExecContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if err := ctx.Err(); err != nil {
		return err
	}
	return def.Body(ctx, ec)
}

func (m *Materializer) recordMaterializations(ctx context.Context, def *Definition, ec *ExecContext) error {
	for _, s := range def.Specs {
		md := map[string]any{}
		for k, v := range ec.metadata[s.Key] {
			md[k] = v
		}
		var partition *string
		if s.Partitions != nil {
			partition = ec.PartitionKey
		}
		if _, err := m.events.RecordMaterialization(ctx, &domain.MaterializationEvent{
			ID:           domain.NewID(),
			AssetKey:     s.Key.String(),
			RunID:        ec.RunID,
			PartitionKey: partition,
			Source:       domain.MaterializationSourceLocal,
			Metadata:     md,
			CreatedAt:    m.now(),
		}); err != nil {
			return fmt.Errorf("record materialization %s: %w", s.Key, err)
		}
	}
	return nil
}

func (m *Materializer) evaluateChecks(ctx context.Context, defs *Definitions, def *Definition, runID string) ([]domain.CheckEvaluation, error) {
	var out []domain.CheckEvaluation
	for _, key := range def.Keys() {
		for _, c := range defs.ChecksFor(key) {
			res := c.Fn(ctx)
			ev := &domain.CheckEvaluation{
				ID:          domain.NewID(),
				CheckName:   c.Key.Name,
				AssetKey:    key.String(),
				RunID:       runID,
				Outcome:     res.Outcome(),
				Severity:    res.Severity,
				Description: res.Description,
				Metadata:    res.Metadata,
				CreatedAt:   m.now(),
			}
			recorded, err := m.events.RecordCheckEvaluation(ctx, ev)
			if err != nil {
				return nil, fmt.Errorf("record check %s: %w", c.Key, err)
			}
			out = append(out, *recorded)
		}
	}
	return out, nil
}

// selectDefinitions returns the executable definitions covering selection,
// by name.
func selectDefinitions(defs *Definitions, selection []Key) (map[string]*Definition, error) {
	out := make(map[string]*Definition)
	if len(selection) == 0 {
		for _, d := range defs.Assets {
			if d.Executable() {
				out[d.Name] = d
			}
		}
		return out, nil
	}
	for _, k := range selection {
		d, ok := defs.DefinitionFor(k)
		if !ok {
			return nil, domain.ErrNotFound("asset %s not found", k)
		}
		if !d.Executable() {
			return nil, domain.ErrValidation("asset %s is external and cannot be materialized", k)
		}
		out[d.Name] = d
	}
	return out, nil
}

func checkPartition(selected map[string]*Definition, partitionKey *string) error {
	for _, d := range selected {
		for _, s := range d.Specs {
			if s.Partitions == nil {
				continue
			}
			if partitionKey == nil {
				return domain.ErrValidation("asset %s is partitioned: a partition key is required", s.Key)
			}
			if err := s.Partitions.Validate(*partitionKey); err != nil {
				return err
			}
		}
	}
	return nil
}

// firstBlocked returns the failed unit behind the first blocked upstream.
func firstBlocked(upstream []string, blocked map[string]string) string {
	for _, u := range upstream {
		if cause, ok := blocked[u]; ok {
			return cause
		}
	}
	return ""
}
