// Package domain defines the usage aggregator contract: one read that always
// answers, backed by the processor when possible and local meters otherwise.
package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Usage sources.
const (
	SourceProcessor = "processor"
	SourceLocal     = "local"
)

// DefaultMeterCode is the meter consulted when falling back locally.
const DefaultMeterCode = "events"

// Usage is the current billing-period usage for an org.
type Usage struct {
	Count       int64     `json:"count"`
	Type        string    `json:"type"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
	Source      string    `json:"source"`
}

type Service interface {
	// GetUsage returns current-cycle usage. Processor failures of any kind
	// degrade to the local aggregation; they are logged, never surfaced.
	GetUsage(ctx context.Context, orgID snowflake.ID) (*Usage, error)

	// RecordEvent appends one metered event. Replays of the same payment
	// event id are dropped.
	RecordEvent(ctx context.Context, orgID snowflake.ID, meterCode, paymentEventID string, value float64) error
}
