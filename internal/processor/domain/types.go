// Package domain defines the processor wire contract: per-operation response
// schemas decoded and validated at the adapter edge, processor-native field
// names (epoch seconds, minor currency units) preserved on the wire types.
package domain

import "time"

const (
	SubscriptionStatusActive   = "active"
	SubscriptionStatusTrialing = "trialing"
	SubscriptionStatusPastDue  = "past_due"
	SubscriptionStatusCanceled = "canceled"
)

// Subscription is the processor's view of a subscription.
type Subscription struct {
	ID                     string     `json:"id"`
	CustomerID             string     `json:"customer_id"`
	Status                 string     `json:"status"`
	ProductID              string     `json:"product_id"`
	PriceID                string     `json:"price_id"`
	CurrentPeriodStart     int64      `json:"current_period_start"`
	CurrentPeriodEnd       int64      `json:"current_period_end"`
	CancelAt               int64      `json:"cancel_at"`
	CanceledAt             int64      `json:"canceled_at"`
	Created                int64      `json:"created"`
	DefaultPaymentMethodID string     `json:"default_payment_method"`
	Schedule               *Schedule  `json:"schedule,omitempty"`
	Discounts              []Discount `json:"discounts,omitempty"`
}

// Schedule is a pending plan switch queued processor-side.
type Schedule struct {
	ProductID   string `json:"product_id"`
	EffectiveAt int64  `json:"effective_at"`
}

// Discount is an active coupon or promotion on the subscription.
type Discount struct {
	Code       string  `json:"code"`
	PercentOff float64 `json:"percent_off"`
	AmountOff  int64   `json:"amount_off"`
	Currency   string  `json:"currency"`
}

// CheckoutSession is a hosted checkout handle.
type CheckoutSession struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	ExpiresAt int64  `json:"expires_at"`
}

// UsagePreview is the billing-period usage the processor would invoice today.
type UsagePreview struct {
	UsageCount  int64  `json:"usage_count"`
	UsageType   string `json:"usage_type"`
	PeriodStart int64  `json:"period_start"`
	PeriodEnd   int64  `json:"period_end"`
}

// Invoice is a processor invoice with its cost breakdown in minor units.
type Invoice struct {
	ID                 string `json:"id"`
	Number             string `json:"number"`
	Status             string `json:"status"`
	Currency           string `json:"currency"`
	Created            int64  `json:"created"`
	HostedInvoiceURL   string `json:"hosted_invoice_url"`
	InvoicePDF         string `json:"invoice_pdf"`
	SubscriptionAmount int64  `json:"subscription_amount"`
	UsageAmount        int64  `json:"usage_amount"`
	DiscountAmount     int64  `json:"discount_amount"`
	TaxAmount          int64  `json:"tax_amount"`
	Total              int64  `json:"total"`
}

// InvoiceList is one page of invoices.
type InvoiceList struct {
	Invoices []Invoice `json:"data"`
	HasMore  bool      `json:"has_more"`
}

// LineItem ties a history entry to a sellable product.
type LineItem struct {
	ProductID string `json:"product_id"`
	PriceID   string `json:"price_id"`
}

// InvoiceSummary is the trimmed invoice nested under history entries.
type InvoiceSummary struct {
	ID      string `json:"id"`
	Number  string `json:"number"`
	Status  string `json:"status"`
	Total   int64  `json:"total"`
	Created int64  `json:"created"`
}

// HistoryEntry is a prior subscription of the customer.
type HistoryEntry struct {
	ID         string           `json:"id"`
	Status     string           `json:"status"`
	Created    int64            `json:"created"`
	CanceledAt int64            `json:"canceled_at"`
	Items      []LineItem       `json:"items"`
	Invoices   []InvoiceSummary `json:"invoices"`
}

// HistoryList is one page of prior subscriptions.
type HistoryList struct {
	Subscriptions []HistoryEntry `json:"data"`
	HasMore       bool           `json:"has_more"`
}

// Product is a sellable product record.
type Product struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// PaymentMethod is a stored payment instrument.
type PaymentMethod struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Label     string `json:"label"`
	IsDefault bool   `json:"is_default"`
}

// Time converts a processor epoch-second value into a UTC timestamp.
// Zero stays zero.
func Time(epoch int64) time.Time {
	if epoch == 0 {
		return time.Time{}
	}
	return time.Unix(epoch, 0).UTC()
}
