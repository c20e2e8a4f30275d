package domain

import "time"

// Materialization sources.
const (
	// MaterializationSourceLocal marks an event recorded after the asset body
	// executed in this process.
	MaterializationSourceLocal = "local"
	// MaterializationSourcePeered marks an event synthesized from a finished
	// run in the task engine.
	MaterializationSourcePeered = "peered"
)

// MaterializationEvent records that an asset was (re)computed.
type MaterializationEvent struct {
	ID           string
	AssetKey     string
	RunID        string
	PartitionKey *string
	Source       string
	Metadata     map[string]any
	CreatedAt    time.Time
}

// SensorCursor is the persisted progress marker of a polling sensor.
type SensorCursor struct {
	SensorName string
	Value      string
	UpdatedAt  time.Time
}
