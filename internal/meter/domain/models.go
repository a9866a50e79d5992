// Package domain contains persistence models for local usage metering.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Aggregation modes a meter supports.
const (
	AggregationSum   = "sum"
	AggregationAvg   = "avg"
	AggregationMax   = "max"
	AggregationMin   = "min"
	AggregationLast  = "last"
	AggregationCount = "count"
)

// Meter defines one metered quantity for an org.
type Meter struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	OrgID       snowflake.ID `gorm:"not null;index;uniqueIndex:ux_meters_org_code,priority:1"`
	Code        string       `gorm:"type:text;not null;uniqueIndex:ux_meters_org_code,priority:2"`
	Aggregation string       `gorm:"type:text;not null;default:'sum'"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Meter) TableName() string { return "meters" }

// UsageRecord stores a single unit of metered activity. The org-scoped
// payment event id keeps webhook replays from double counting; events with
// no payment event carry NULL and never collide.
type UsageRecord struct {
	ID             snowflake.ID      `gorm:"primaryKey"`
	OrgID          snowflake.ID      `gorm:"not null;index;uniqueIndex:ux_usage_org_event,priority:1"`
	MeterID        snowflake.ID      `gorm:"not null;index"`
	MeterCode      string            `gorm:"type:text;not null"` // snapshot
	Value          float64           `gorm:"not null"`
	PaymentEventID string            `gorm:"type:text;uniqueIndex:ux_usage_org_event,priority:2"`
	RecordedAt     time.Time         `gorm:"not null;index"`
	Metadata       datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (UsageRecord) TableName() string { return "usage_records" }
