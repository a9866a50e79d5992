// Package processor implements the HTTP adapter against the payment
// processor. All responses are decoded and validated here so the rest of the
// service never parses processor payloads.
package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/helixconsole/billing/internal/config"
	"github.com/helixconsole/billing/internal/observability/metrics"
	"github.com/helixconsole/billing/internal/processor/domain"
)

const (
	defaultTimeout  = 30 * time.Second
	maxResponseSize = 1 << 20
)

// Client calls the processor's REST API. Safe for concurrent use.
type Client struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	http    *http.Client
	log     *zap.Logger
	metrics *metrics.Metrics
}

// NewClient builds the processor client from service configuration.
func NewClient(cfg config.Config, log *zap.Logger, m *metrics.Metrics) *Client {
	timeout := cfg.Processor.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: cfg.Processor.BaseURL,
		apiKey:  cfg.Processor.APIKey,
		timeout: timeout,
		http:    &http.Client{},
		log:     log.Named("processor.client"),
		metrics: m,
	}
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// do issues one processor request. Every call carries the org namespace
// header, the bearer credential, and the mutation token when present.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, orgID, opID string, body, out any) error {
	if c.apiKey == "" {
		return &domain.Error{Kind: domain.KindPrecondition, Op: op, Message: "processor credential is not configured"}
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return &domain.Error{Kind: domain.KindInternal, Op: op, Message: fmt.Sprintf("encode request: %v", err)}
		}
		payload = bytes.NewReader(raw)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, endpoint, payload)
	if err != nil {
		return &domain.Error{Kind: domain.KindInternal, Op: op, Message: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("X-Org-Id", orgID)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if opID != "" {
		req.Header.Set("Idempotency-Key", opID)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		kind := domain.KindInternal
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			kind = domain.KindTimeout
		}
		c.observe(ctx, op, orgID, 0, kind, start)
		return &domain.Error{Kind: kind, Op: op, Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		c.observe(ctx, op, orgID, resp.StatusCode, domain.KindInternal, start)
		return &domain.Error{Kind: domain.KindInternal, Op: op, Status: resp.StatusCode, Message: err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		kind := domain.KindFromStatus(resp.StatusCode)
		message := http.StatusText(resp.StatusCode)
		var parsed apiError
		if jsonErr := json.Unmarshal(raw, &parsed); jsonErr == nil && parsed.Error.Message != "" {
			message = parsed.Error.Message
		}
		c.observe(ctx, op, orgID, resp.StatusCode, kind, start)
		return &domain.Error{Kind: kind, Op: op, Status: resp.StatusCode, Message: message}
	}

	c.observe(ctx, op, orgID, resp.StatusCode, "", start)
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &domain.Error{Kind: domain.KindInternal, Op: op, Status: resp.StatusCode, Message: fmt.Sprintf("malformed response: %v", err)}
	}
	return nil
}

func (c *Client) observe(ctx context.Context, op, orgID string, status int, kind domain.Kind, start time.Time) {
	elapsed := time.Since(start)
	if c.metrics != nil {
		c.metrics.RecordProcessorRequest(ctx, op)
		if kind != "" {
			c.metrics.RecordProcessorError(ctx, op, string(kind))
		}
	}
	if kind != "" {
		c.log.Warn("processor call failed",
			zap.String("op", op),
			zap.String("org_id", orgID),
			zap.Int("status", status),
			zap.String("kind", string(kind)),
			zap.Duration("elapsed", elapsed),
		)
		return
	}
	c.log.Debug("processor call",
		zap.String("op", op),
		zap.Int("status", status),
		zap.Duration("elapsed", elapsed),
	)
}

func (c *Client) GetSubscription(ctx context.Context, orgID, subscriptionID string) (*domain.Subscription, error) {
	const op = "subscription.get"
	if subscriptionID == "" {
		return nil, &domain.Error{Kind: domain.KindBadRequest, Op: op, Message: "subscription id is required"}
	}
	var sub domain.Subscription
	if err := c.do(ctx, op, http.MethodGet, "/v1/subscriptions/"+url.PathEscape(subscriptionID), nil, orgID, "", nil, &sub); err != nil {
		return nil, err
	}
	if sub.ID == "" {
		return nil, &domain.Error{Kind: domain.KindInternal, Op: op, Message: "malformed response: missing subscription id"}
	}
	return &sub, nil
}

func (c *Client) ListSubscriptions(ctx context.Context, orgID, customerID string) (*domain.HistoryList, error) {
	const op = "subscription.list"
	query := url.Values{}
	query.Set("customer_id", customerID)
	query.Set("status", "all")
	var list domain.HistoryList
	if err := c.do(ctx, op, http.MethodGet, "/v1/subscriptions", query, orgID, "", nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

func (c *Client) CreateCheckoutSession(ctx context.Context, orgID, opID string, req domain.CheckoutSessionRequest) (*domain.CheckoutSession, error) {
	const op = "checkout.create"
	if req.ProductID == "" {
		return nil, &domain.Error{Kind: domain.KindBadRequest, Op: op, Message: "product id is required"}
	}
	var session domain.CheckoutSession
	if err := c.do(ctx, op, http.MethodPost, "/v1/checkout/sessions", nil, orgID, opID, req, &session); err != nil {
		return nil, err
	}
	if session.URL == "" {
		return nil, &domain.Error{Kind: domain.KindInternal, Op: op, Message: "malformed response: missing checkout url"}
	}
	return &session, nil
}

func (c *Client) UpdateSubscription(ctx context.Context, orgID, opID, subscriptionID string, req domain.UpdateSubscriptionRequest) (*domain.Subscription, error) {
	const op = "subscription.update"
	var sub domain.Subscription
	if err := c.do(ctx, op, http.MethodPost, "/v1/subscriptions/"+url.PathEscape(subscriptionID), nil, orgID, opID, req, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

func (c *Client) CancelSubscription(ctx context.Context, orgID, opID, subscriptionID string, opts domain.CancelOptions) (*domain.Subscription, error) {
	const op = "subscription.cancel"
	var sub domain.Subscription
	if err := c.do(ctx, op, http.MethodPost, "/v1/subscriptions/"+url.PathEscape(subscriptionID)+"/cancel", nil, orgID, opID, opts, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

func (c *Client) ReactivateSubscription(ctx context.Context, orgID, opID, subscriptionID string) (*domain.Subscription, error) {
	const op = "subscription.reactivate"
	var sub domain.Subscription
	if err := c.do(ctx, op, http.MethodPost, "/v1/subscriptions/"+url.PathEscape(subscriptionID)+"/reactivate", nil, orgID, opID, nil, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

func (c *Client) ClearSchedule(ctx context.Context, orgID, opID, subscriptionID string) (*domain.Subscription, error) {
	const op = "subscription.clear_schedule"
	var sub domain.Subscription
	if err := c.do(ctx, op, http.MethodDelete, "/v1/subscriptions/"+url.PathEscape(subscriptionID)+"/schedule", nil, orgID, opID, nil, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

func (c *Client) ApplyPromotion(ctx context.Context, orgID, opID, subscriptionID, code string) (*domain.Subscription, error) {
	const op = "subscription.apply_promotion"
	if code == "" {
		return nil, &domain.Error{Kind: domain.KindBadRequest, Op: op, Message: "promotion code is required"}
	}
	body := map[string]string{"code": code}
	var sub domain.Subscription
	if err := c.do(ctx, op, http.MethodPost, "/v1/subscriptions/"+url.PathEscape(subscriptionID)+"/promotions", nil, orgID, opID, body, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

func (c *Client) UsagePreview(ctx context.Context, orgID, customerID, subscriptionID string) (*domain.UsagePreview, error) {
	const op = "usage.preview"
	if customerID == "" {
		return nil, &domain.Error{Kind: domain.KindPrecondition, Op: op, Message: "customer id is required"}
	}
	query := url.Values{}
	if subscriptionID != "" {
		query.Set("subscription_id", subscriptionID)
	}
	var preview domain.UsagePreview
	if err := c.do(ctx, op, http.MethodGet, "/v1/customers/"+url.PathEscape(customerID)+"/usage_preview", query, orgID, "", nil, &preview); err != nil {
		return nil, err
	}
	return &preview, nil
}

func (c *Client) ListInvoices(ctx context.Context, orgID, customerID string, page domain.InvoicePage) (*domain.InvoiceList, error) {
	const op = "invoice.list"
	if page.StartingAfter != "" && page.EndingBefore != "" {
		return nil, &domain.Error{Kind: domain.KindBadRequest, Op: op, Message: "starting_after and ending_before are mutually exclusive"}
	}
	query := url.Values{}
	query.Set("customer_id", customerID)
	if page.Limit > 0 {
		query.Set("limit", strconv.Itoa(page.Limit))
	}
	if page.StartingAfter != "" {
		query.Set("starting_after", page.StartingAfter)
	}
	if page.EndingBefore != "" {
		query.Set("ending_before", page.EndingBefore)
	}
	var list domain.InvoiceList
	if err := c.do(ctx, op, http.MethodGet, "/v1/invoices", query, orgID, "", nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

func (c *Client) GetProduct(ctx context.Context, orgID, productID string) (*domain.Product, error) {
	const op = "product.get"
	var product domain.Product
	if err := c.do(ctx, op, http.MethodGet, "/v1/products/"+url.PathEscape(productID), nil, orgID, "", nil, &product); err != nil {
		return nil, err
	}
	return &product, nil
}

func (c *Client) ListPaymentMethods(ctx context.Context, orgID, customerID string) ([]domain.PaymentMethod, error) {
	const op = "payment_method.list"
	var out struct {
		Data []domain.PaymentMethod `json:"data"`
	}
	if err := c.do(ctx, op, http.MethodGet, "/v1/customers/"+url.PathEscape(customerID)+"/payment_methods", nil, orgID, "", nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}
