package domain

import "context"

// CheckoutSessionRequest starts hosted checkout for a plan purchase. An empty
// CustomerID lets the processor create the customer during checkout.
type CheckoutSessionRequest struct {
	CustomerID string `json:"customer_id,omitempty"`
	ProductID  string `json:"product_id"`
	ActorID    string `json:"actor_id,omitempty"`
	ActorEmail string `json:"actor_email,omitempty"`
	SuccessURL string `json:"success_url,omitempty"`
	CancelURL  string `json:"cancel_url,omitempty"`
}

// UpdateSubscriptionRequest switches the subscription to another product.
type UpdateSubscriptionRequest struct {
	ProductID string `json:"product_id"`
}

// CancelOptions controls how a subscription is torn down.
type CancelOptions struct {
	AtPeriodEnd bool `json:"at_period_end"`
	InvoiceNow  bool `json:"invoice_now"`
}

// InvoicePage selects one page of the invoice list. StartingAfter and
// EndingBefore are mutually exclusive opaque processor cursors.
type InvoicePage struct {
	Limit         int
	StartingAfter string
	EndingBefore  string
}

// API is the full processor surface the service depends on. Implemented by
// the HTTP client; consumers hold the interface so tests can substitute it.
type API interface {
	GetSubscription(ctx context.Context, orgID, subscriptionID string) (*Subscription, error)
	ListSubscriptions(ctx context.Context, orgID, customerID string) (*HistoryList, error)
	CreateCheckoutSession(ctx context.Context, orgID, opID string, req CheckoutSessionRequest) (*CheckoutSession, error)
	UpdateSubscription(ctx context.Context, orgID, opID, subscriptionID string, req UpdateSubscriptionRequest) (*Subscription, error)
	CancelSubscription(ctx context.Context, orgID, opID, subscriptionID string, opts CancelOptions) (*Subscription, error)
	ReactivateSubscription(ctx context.Context, orgID, opID, subscriptionID string) (*Subscription, error)
	ClearSchedule(ctx context.Context, orgID, opID, subscriptionID string) (*Subscription, error)
	ApplyPromotion(ctx context.Context, orgID, opID, subscriptionID, code string) (*Subscription, error)
	UsagePreview(ctx context.Context, orgID, customerID, subscriptionID string) (*UsagePreview, error)
	ListInvoices(ctx context.Context, orgID, customerID string, page InvoicePage) (*InvoiceList, error)
	GetProduct(ctx context.Context, orgID, productID string) (*Product, error)
	ListPaymentMethods(ctx context.Context, orgID, customerID string) ([]PaymentMethod, error)
}
