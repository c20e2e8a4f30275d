package asset

import (
	"time"

	"airlift-demo/internal/domain"
)

// PartitionKeyLayout is the format of daily partition keys.
const PartitionKeyLayout = "2006-01-02"

// DailyPartitions splits an asset into one partition per UTC day starting
// at Start.
type DailyPartitions struct {
	Start time.Time
}

// NewDailyPartitions truncates start to UTC midnight.
func NewDailyPartitions(start time.Time) *DailyPartitions {
	return &DailyPartitions{Start: midnight(start)}
}

// KeyFor returns the partition key containing t.
func (p *DailyPartitions) KeyFor(t time.Time) string {
	return t.UTC().Format(PartitionKeyLayout)
}

// Validate checks that key is a well-formed day on or after Start.
func (p *DailyPartitions) Validate(key string) error {
	d, err := time.Parse(PartitionKeyLayout, key)
	if err != nil {
		return domain.ErrValidation("invalid partition key %q: expected YYYY-MM-DD", key)
	}
	if d.Before(p.Start) {
		return domain.ErrValidation("partition %s is before the first partition %s",
			key, p.Start.Format(PartitionKeyLayout))
	}
	return nil
}

func midnight(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
