// Package domain defines the read-only projections of processor invoices,
// subscription history, and payment methods. Nothing here is persisted; the
// processor is fetched live and mapped into stable shapes.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// CostBreakdown is in minor currency units.
type CostBreakdown struct {
	Subscription int64 `json:"subscription"`
	Usage        int64 `json:"usage"`
	Discount     int64 `json:"discount"`
	Tax          int64 `json:"tax"`
	Total        int64 `json:"total"`
}

type Invoice struct {
	ID        string        `json:"id"`
	Number    string        `json:"number"`
	Status    string        `json:"status"`
	Currency  string        `json:"currency"`
	Created   time.Time     `json:"created"`
	HostedURL string        `json:"hosted_url,omitempty"`
	PDFURL    string        `json:"pdf_url,omitempty"`
	Breakdown CostBreakdown `json:"breakdown"`
}

// Cursors are opaque processor cursors for the next and previous page.
type Cursors struct {
	Next     string `json:"next,omitempty"`
	Previous string `json:"previous,omitempty"`
}

type InvoicePage struct {
	Invoices []Invoice `json:"invoices"`
	HasMore  bool      `json:"has_more"`
	Cursors  Cursors   `json:"cursors"`
}

type InvoicesRequest struct {
	Limit         int
	StartingAfter string
	EndingBefore  string
}

type ProductRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type InvoiceSummary struct {
	ID      string    `json:"id"`
	Number  string    `json:"number"`
	Status  string    `json:"status"`
	Total   int64     `json:"total"`
	Created time.Time `json:"created"`
}

type HistoryItem struct {
	ID         string           `json:"id"`
	Status     string           `json:"status"`
	Created    time.Time        `json:"created"`
	CanceledAt *time.Time       `json:"canceled_at,omitempty"`
	Products   []ProductRef     `json:"products"`
	Invoices   []InvoiceSummary `json:"invoices"`
}

type PaymentMethod struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Label   string `json:"label"`
	Default bool   `json:"default"`
}

type Service interface {
	// GetInvoices requires a processor customer; financial history has no
	// safe fallback, so failures surface loudly.
	GetInvoices(ctx context.Context, orgID snowflake.ID, req InvoicesRequest) (*InvoicePage, error)

	// GetSubscriptionHistory resolves product names with one lookup per
	// distinct product id, not per subscription.
	GetSubscriptionHistory(ctx context.Context, orgID snowflake.ID, limit int) ([]HistoryItem, error)

	ListPaymentMethods(ctx context.Context, orgID snowflake.ID) ([]PaymentMethod, error)
}

var (
	ErrNoCustomer      = errors.New("no_processor_customer")
	ErrInvalidCursors  = errors.New("invalid_cursors")
	ErrInvalidPageSize = errors.New("invalid_page_size")
)
