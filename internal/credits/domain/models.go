// Package domain contains the credit ledger models and contracts.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// CreditGrant is one applied credit purchase. The org-scoped payment event
// id makes webhook replays no-ops.
type CreditGrant struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID          snowflake.ID `gorm:"not null;index;uniqueIndex:ux_credit_grants_org_event,priority:1" json:"org_id"`
	PaymentEventID string       `gorm:"type:text;not null;uniqueIndex:ux_credit_grants_org_event,priority:2" json:"payment_event_id"`
	Credits        int64        `gorm:"not null" json:"credits"`
	AmountCents    int64        `gorm:"not null;default:0" json:"amount_cents"`
	Currency       string       `gorm:"type:text;not null;default:'usd'" json:"currency"`
	CreatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (CreditGrant) TableName() string { return "credit_grants" }

// PurchaseRequest applies a paid credit pack to an org balance.
type PurchaseRequest struct {
	OrgID          snowflake.ID
	PaymentEventID string
	Credits        int64
	AmountCents    int64
	Currency       string
}

// PurchaseResult reports whether the grant was applied and the balance
// after the call. Replays return Applied false with the unchanged balance.
type PurchaseResult struct {
	Applied bool  `json:"applied"`
	Balance int64 `json:"balance"`
}

type Service interface {
	// PurchaseCredits applies a credit purchase exactly once per payment
	// event id. The grant insert and the balance increment commit together.
	PurchaseCredits(ctx context.Context, req PurchaseRequest) (*PurchaseResult, error)

	// GetCredits returns the org's current credit balance.
	GetCredits(ctx context.Context, orgID snowflake.ID) (int64, error)
}

var (
	ErrInvalidOrganization  = errors.New("invalid_organization")
	ErrInvalidPaymentEvent  = errors.New("invalid_payment_event")
	ErrInvalidCreditAmount  = errors.New("invalid_credit_amount")
	ErrOrganizationNotFound = errors.New("organization_not_found")
)
