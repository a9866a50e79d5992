// Package domain contains persistence models for tenant organizations.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// CloudConfig is the per-tenant billing linkage stored as a JSON column.
// Empty fields mean the org has never gone through checkout.
type CloudConfig struct {
	ProcessorCustomerID     string `json:"processor_customer_id,omitempty"`
	ProcessorSubscriptionID string `json:"processor_subscription_id,omitempty"`

	// ManualPlan marks an operator-managed plan override. While set, all
	// processor-backed mutations are rejected before any network call.
	ManualPlan string `json:"manual_plan,omitempty"`

	// BillingAnchorDay is the day-of-month the billing cycle starts on.
	// Zero falls back to the org creation date.
	BillingAnchorDay int `json:"billing_anchor_day,omitempty"`
}

// Manual reports whether the org is on an operator-managed plan.
func (c CloudConfig) Manual() bool { return c.ManualPlan != "" }

// Organization represents a tenant.
type Organization struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	Name        string       `gorm:"type:text;not null" json:"name"`
	CloudConfig CloudConfig  `gorm:"type:jsonb;serializer:json;not null;default:'{}'" json:"cloud_config"`
	Credits     int64        `gorm:"not null;default:0" json:"credits"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
	ExpiresAt   *time.Time   `json:"expires_at,omitempty"`
}

// TableName sets the database table name.
func (Organization) TableName() string { return "organizations" }
