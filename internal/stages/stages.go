package stages

import (
	"sort"

	"airlift-demo/internal/asset"
	"airlift-demo/internal/bridge"
	"airlift-demo/internal/domain"
)

// Stage names.
const (
	StagePeer                  = "peer"
	StagePeerWithCheck         = "peer_with_check"
	StageObserveTaskLevel      = "observe"
	StageObserveDagLevel       = "observe_dag_level"
	StageObserveWithPartitions = "observe_with_partitions"
	StageMigrate               = "migrate"
	StageMigrateWithCheck      = "migrate_with_check"
	StageMigrateDagLevel       = "migrate_dag_level"
	StageStandalone            = "standalone"
)

// Stage is a named set of definitions. Peered stages represent the DAG and
// need the task engine; the standalone stage does not.
type Stage struct {
	Name   string
	Defs   *asset.Definitions
	Peered bool
}

type builder func(e *Env) (*asset.Definitions, error)

var registry = map[string]struct {
	build  builder
	peered bool
}{
	StagePeer:                  {Peer, true},
	StagePeerWithCheck:         {PeerWithCheck, true},
	StageObserveTaskLevel:      {ObserveTaskLevel, true},
	StageObserveDagLevel:       {ObserveDagLevel, true},
	StageObserveWithPartitions: {ObserveWithPartitions, true},
	StageMigrate:               {Migrate, true},
	StageMigrateWithCheck:      {MigrateWithCheck, true},
	StageMigrateDagLevel:       {MigrateDagLevel, true},
	StageStandalone:            {Standalone, false},
}

// Names lists every stage, sorted.
func Names() []string {
	out := make([]string, 0, len(registry))
	for n := range registry {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// ByName builds the named stage.
func ByName(e *Env, name string) (*Stage, error) {
	entry, ok := registry[name]
	if !ok {
		return nil, domain.ErrNotFound("unknown stage %q", name)
	}
	defs, err := entry.build(e)
	if err != nil {
		return nil, err
	}
	return &Stage{Name: name, Defs: defs, Peered: entry.peered}, nil
}

func (e *Env) instance() string { return e.Config.Airflow.InstanceName }

// Peer represents the DAG as a single asset.
func Peer(e *Env) (*asset.Definitions, error) {
	return bridge.BuildDefs(e.instance(), []string{DagID}, nil)
}

// PeerWithCheck adds the export check to the DAG asset, so it runs each
// time a finished DAG run is observed.
func PeerWithCheck(e *Env) (*asset.Definitions, error) {
	return bridge.BuildDefs(e.instance(), []string{DagID}, &asset.Definitions{
		Checks: []*asset.Check{e.exportCheck(bridge.DagAssetKey(e.instance(), DagID))},
	})
}

// observedTaskMappings maps each task to observed-only specs.
func (e *Env) observedTaskMappings(p *asset.DailyPartitions) (map[string][]*asset.Definition, error) {
	dbt, err := e.dbtSpecs(p)
	if err != nil {
		return nil, err
	}
	return map[string][]*asset.Definition{
		TaskLoadRawCustomers: asset.External(e.rawCustomersSpec(p)),
		TaskBuildDBTModels:   asset.External(dbt...),
		TaskExportCustomers:  asset.External(e.customersCSVSpec(p)),
	}, nil
}

// ObserveTaskLevel maps observed-only assets to the task producing each.
func ObserveTaskLevel(e *Env) (*asset.Definitions, error) {
	mappings, err := e.observedTaskMappings(nil)
	if err != nil {
		return nil, err
	}
	return bridge.BuildDefs(e.instance(), []string{DagID}, &asset.Definitions{
		Assets: bridge.AssetsWithTaskMappings(DagID, mappings),
	})
}

// ObserveWithPartitions is ObserveTaskLevel with daily partitions; each
// observed run lands in the partition of its logical date.
func ObserveWithPartitions(e *Env) (*asset.Definitions, error) {
	mappings, err := e.observedTaskMappings(e.partitions())
	if err != nil {
		return nil, err
	}
	return bridge.BuildDefs(e.instance(), []string{DagID}, &asset.Definitions{
		Assets: bridge.AssetsWithTaskMappings(DagID, mappings),
	})
}

// ObserveDagLevel maps every observed-only asset to the DAG as a whole.
func ObserveDagLevel(e *Env) (*asset.Definitions, error) {
	dbt, err := e.dbtSpecs(nil)
	if err != nil {
		return nil, err
	}
	specs := append([]asset.Spec{e.rawCustomersSpec(nil)}, dbt...)
	specs = append(specs, e.customersCSVSpec(nil))
	return bridge.BuildDefs(e.instance(), []string{DagID}, &asset.Definitions{
		Assets: bridge.AssetsWithDagMappings(map[string][]*asset.Definition{
			DagID: asset.External(specs...),
		}),
	})
}

func (e *Env) executableDefinitions(p *asset.DailyPartitions) ([]*asset.Definition, error) {
	dbt, err := e.transformDefinition(p)
	if err != nil {
		return nil, err
	}
	return []*asset.Definition{e.loadDefinition(p), dbt, e.exportDefinition(p)}, nil
}

// Migrate maps executable assets to their tasks. Tasks marked proxied run
// here; the others are still observed.
func Migrate(e *Env) (*asset.Definitions, error) {
	defs, err := e.executableDefinitions(nil)
	if err != nil {
		return nil, err
	}
	return bridge.BuildDefs(e.instance(), []string{DagID}, &asset.Definitions{
		Assets: bridge.AssetsWithTaskMappings(DagID, map[string][]*asset.Definition{
			TaskLoadRawCustomers: {defs[0]},
			TaskBuildDBTModels:   {defs[1]},
			TaskExportCustomers:  {defs[2]},
		}),
	})
}

// MigrateWithCheck is Migrate plus the export check on customers_csv.
func MigrateWithCheck(e *Env) (*asset.Definitions, error) {
	defs, err := Migrate(e)
	if err != nil {
		return nil, err
	}
	defs.Checks = append(defs.Checks, e.exportCheck(CustomersCSVKey))
	if err := defs.Validate(); err != nil {
		return nil, err
	}
	return defs, nil
}

// MigrateDagLevel maps the executable assets to the DAG as a whole.
func MigrateDagLevel(e *Env) (*asset.Definitions, error) {
	defs, err := e.executableDefinitions(nil)
	if err != nil {
		return nil, err
	}
	return bridge.BuildDefs(e.instance(), []string{DagID}, &asset.Definitions{
		Assets: bridge.AssetsWithDagMappings(map[string][]*asset.Definition{DagID: defs}),
	})
}

// Standalone runs every asset here on a daily schedule, with no task
// engine involved.
func Standalone(e *Env) (*asset.Definitions, error) {
	defs, err := e.executableDefinitions(e.partitions())
	if err != nil {
		return nil, err
	}
	out := &asset.Definitions{
		Assets: defs,
		Checks: []*asset.Check{e.exportCheck(CustomersCSVKey)},
	}
	var selection []asset.Key
	for _, d := range defs {
		selection = append(selection, d.Keys()...)
	}
	out.Schedules = []asset.Schedule{{Name: ScheduleName, Cron: ScheduleCron, Selection: selection}}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}
