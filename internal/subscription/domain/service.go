// Package domain defines the subscription lifecycle contract. The processor
// is the source of truth for subscription state; everything here is either a
// projection of it or a guarded call into it.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// State is the derived lifecycle position of an org's subscription.
type State string

const (
	StateNone            State = "NONE"
	StateActive          State = "ACTIVE"
	StateCancelScheduled State = "CANCEL_SCHEDULED"
	StateScheduledChange State = "SCHEDULED_CHANGE"
	StateCanceled        State = "CANCELED"

	// StateManual marks an operator-managed plan override. Every mutating
	// operation fails fast while the org is in this state.
	StateManual State = "MANUAL"
)

type BillingPeriod struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type Cancellation struct {
	At time.Time `json:"at"`
}

type ScheduledChange struct {
	ProductID   string    `json:"product_id"`
	EffectiveAt time.Time `json:"effective_at"`
}

type Discount struct {
	Code       string  `json:"code"`
	PercentOff float64 `json:"percent_off,omitempty"`
	AmountOff  int64   `json:"amount_off,omitempty"`
	Currency   string  `json:"currency,omitempty"`
}

// Info is the full subscription projection returned to callers. When the org
// has no processor subscription it is synthesized from local billing-cycle
// boundaries without any network call.
type Info struct {
	State                 State            `json:"state"`
	ProductID             string           `json:"product_id,omitempty"`
	ManualPlan            string           `json:"manual_plan,omitempty"`
	BillingPeriod         BillingPeriod    `json:"billing_period"`
	Cancellation          *Cancellation    `json:"cancellation,omitempty"`
	ScheduledChange       *ScheduledChange `json:"scheduled_change,omitempty"`
	Discounts             []Discount       `json:"discounts,omitempty"`
	HasValidPaymentMethod bool             `json:"has_valid_payment_method"`
}

type CheckoutSession struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// CancelNowResult distinguishes a real immediate cancellation from the
// defined no-op on orgs that never subscribed.
type CancelNowResult struct {
	Noop bool `json:"noop"`
}

type Service interface {
	GetSubscriptionInfo(ctx context.Context, orgID snowflake.ID) (*Info, error)
	CreateCheckoutSession(ctx context.Context, orgID snowflake.ID, productID, opID string) (*CheckoutSession, error)
	ChangePlan(ctx context.Context, orgID snowflake.ID, productID, opID string) (*Info, error)
	Cancel(ctx context.Context, orgID snowflake.ID, opID string) (*Info, error)
	Reactivate(ctx context.Context, orgID snowflake.ID, opID string) (*Info, error)
	CancelImmediatelyAndInvoice(ctx context.Context, orgID snowflake.ID, opID string) (*CancelNowResult, error)
	ClearPlanSwitchSchedule(ctx context.Context, orgID snowflake.ID, opID string) (*Info, error)
	ApplyPromotionCode(ctx context.Context, orgID snowflake.ID, code, opID string) (*Info, error)
}

var (
	ErrManualPlan       = errors.New("manual_plan_override")
	ErrNoSubscription   = errors.New("no_active_subscription")
	ErrInvalidProduct   = errors.New("invalid_product")
	ErrInvalidPromotion = errors.New("invalid_promotion_code")

	// ErrPromotionNewCustomersOnly replaces the processor's wording when a
	// promotion is rejected because the customer has prior transactions.
	ErrPromotionNewCustomersOnly = errors.New("Promotion code only valid for new customers")
)
