package asset

import (
	"github.com/robfig/cron/v3"

	"airlift-demo/internal/domain"
)

// Schedule materializes Selection on a cron expression.
type Schedule struct {
	Name      string
	Cron      string
	Selection []Key
}

// Validate parses the cron expression with the standard 5-field parser.
func (s Schedule) Validate() error {
	if s.Name == "" {
		return domain.ErrValidation("schedule name is required")
	}
	if _, err := cron.ParseStandard(s.Cron); err != nil {
		return domain.ErrValidation("schedule %s: invalid cron %q: %v", s.Name, s.Cron, err)
	}
	return nil
}
