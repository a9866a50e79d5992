package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrInvalidMeterCode   = errors.New("invalid_meter_code")
	ErrInvalidValue       = errors.New("invalid_value")
	ErrInvalidAggregation = errors.New("invalid_aggregation")
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository

	// FindOrCreateMeter returns the org's meter for code, creating it with
	// the given aggregation on first use.
	FindOrCreateMeter(ctx context.Context, orgID snowflake.ID, code, aggregation string) (*Meter, error)

	// Append inserts one usage record. Replays of the same payment event id
	// are silently dropped.
	Append(ctx context.Context, record UsageRecord) (inserted bool, err error)

	// Aggregate folds the org's records for a meter code since the cycle
	// start using the meter's aggregation mode.
	Aggregate(ctx context.Context, orgID snowflake.ID, code string, since, until time.Time) (float64, error)
}
