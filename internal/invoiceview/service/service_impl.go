package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/helixconsole/billing/internal/cache"
	"github.com/helixconsole/billing/internal/config"
	invoicedomain "github.com/helixconsole/billing/internal/invoiceview/domain"
	orgdomain "github.com/helixconsole/billing/internal/organization/domain"
	processordomain "github.com/helixconsole/billing/internal/processor/domain"
)

const (
	defaultPageSize  = 10
	maxPageSize      = 100
	paymentMethodTTL = 30 * time.Second
)

type Params struct {
	fx.In

	Log       *zap.Logger
	OrgRepo   orgdomain.Repository
	Processor processordomain.API
	Plans     *config.PlanCatalogHolder `optional:"true"`
}

type Service struct {
	log       *zap.Logger
	orgrepo   orgdomain.Repository
	processor processordomain.API
	plans     *config.PlanCatalogHolder

	// The console header polls payment methods on every page load.
	pmCache cache.Cache[snowflake.ID, []invoicedomain.PaymentMethod]
}

func NewService(p Params) invoicedomain.Service {
	return &Service{
		log:       p.Log.Named("invoiceview.service"),
		orgrepo:   p.OrgRepo,
		processor: p.Processor,
		plans:     p.Plans,
		pmCache:   cache.NewTTLCache[snowflake.ID, []invoicedomain.PaymentMethod](),
	}
}

func (s *Service) GetInvoices(ctx context.Context, orgID snowflake.ID, req invoicedomain.InvoicesRequest) (*invoicedomain.InvoicePage, error) {
	customerID, err := s.requireCustomer(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if req.StartingAfter != "" && req.EndingBefore != "" {
		return nil, invoicedomain.ErrInvalidCursors
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		return nil, invoicedomain.ErrInvalidPageSize
	}

	list, err := s.processor.ListInvoices(ctx, orgID.String(), customerID, processordomain.InvoicePage{
		Limit:         limit,
		StartingAfter: req.StartingAfter,
		EndingBefore:  req.EndingBefore,
	})
	if err != nil {
		return nil, err
	}

	page := &invoicedomain.InvoicePage{
		Invoices: make([]invoicedomain.Invoice, 0, len(list.Invoices)),
		HasMore:  list.HasMore,
	}
	for _, raw := range list.Invoices {
		page.Invoices = append(page.Invoices, invoicedomain.Invoice{
			ID:        raw.ID,
			Number:    raw.Number,
			Status:    raw.Status,
			Currency:  raw.Currency,
			Created:   processordomain.Time(raw.Created),
			HostedURL: raw.HostedInvoiceURL,
			PDFURL:    raw.InvoicePDF,
			Breakdown: invoicedomain.CostBreakdown{
				Subscription: raw.SubscriptionAmount,
				Usage:        raw.UsageAmount,
				Discount:     raw.DiscountAmount,
				Tax:          raw.TaxAmount,
				Total:        raw.Total,
			},
		})
	}
	if len(page.Invoices) > 0 {
		page.Cursors.Previous = page.Invoices[0].ID
		if page.HasMore {
			page.Cursors.Next = page.Invoices[len(page.Invoices)-1].ID
		}
	}
	return page, nil
}

func (s *Service) GetSubscriptionHistory(ctx context.Context, orgID snowflake.ID, limit int) ([]invoicedomain.HistoryItem, error) {
	customerID, err := s.requireCustomer(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultPageSize
	}

	list, err := s.processor.ListSubscriptions(ctx, orgID.String(), customerID)
	if err != nil {
		return nil, err
	}
	entries := list.Subscriptions
	if len(entries) > limit {
		entries = entries[:limit]
	}

	names := s.resolveProductNames(ctx, orgID, entries)

	items := make([]invoicedomain.HistoryItem, 0, len(entries))
	for _, entry := range entries {
		item := invoicedomain.HistoryItem{
			ID:      entry.ID,
			Status:  entry.Status,
			Created: processordomain.Time(entry.Created),
		}
		if canceled := processordomain.Time(entry.CanceledAt); !canceled.IsZero() {
			item.CanceledAt = &canceled
		}
		for _, line := range entry.Items {
			item.Products = append(item.Products, invoicedomain.ProductRef{
				ID:   line.ProductID,
				Name: names[line.ProductID],
			})
		}
		for _, inv := range entry.Invoices {
			item.Invoices = append(item.Invoices, invoicedomain.InvoiceSummary{
				ID:      inv.ID,
				Number:  inv.Number,
				Status:  inv.Status,
				Total:   inv.Total,
				Created: processordomain.Time(inv.Created),
			})
		}
		items = append(items, item)
	}
	return items, nil
}

// resolveProductNames fetches each distinct product once. A failed lookup
// falls back to the plan catalog, then to the raw id.
func (s *Service) resolveProductNames(ctx context.Context, orgID snowflake.ID, entries []processordomain.HistoryEntry) map[string]string {
	distinct := map[string]struct{}{}
	for _, entry := range entries {
		for _, line := range entry.Items {
			if line.ProductID != "" {
				distinct[line.ProductID] = struct{}{}
			}
		}
	}

	names := make(map[string]string, len(distinct))
	for productID := range distinct {
		product, err := s.processor.GetProduct(ctx, orgID.String(), productID)
		if err == nil && product.Name != "" {
			names[productID] = product.Name
			continue
		}
		if err != nil {
			s.log.Warn("product lookup failed",
				zap.String("product_id", productID),
				zap.Error(err),
			)
		}
		if s.plans != nil {
			if plan, ok := s.plans.Lookup(productID); ok {
				names[productID] = plan.Name
				continue
			}
		}
		names[productID] = productID
	}
	return names
}

func (s *Service) ListPaymentMethods(ctx context.Context, orgID snowflake.ID) ([]invoicedomain.PaymentMethod, error) {
	if cached, ok := s.pmCache.Get(orgID); ok {
		return cached, nil
	}

	customerID, err := s.requireCustomer(ctx, orgID)
	if err != nil {
		return nil, err
	}

	raw, err := s.processor.ListPaymentMethods(ctx, orgID.String(), customerID)
	if err != nil {
		return nil, err
	}

	methods := make([]invoicedomain.PaymentMethod, 0, len(raw))
	for _, method := range raw {
		methods = append(methods, invoicedomain.PaymentMethod{
			ID:      method.ID,
			Type:    method.Type,
			Label:   method.Label,
			Default: method.IsDefault,
		})
	}
	s.pmCache.Set(orgID, methods, paymentMethodTTL)
	return methods, nil
}

func (s *Service) requireCustomer(ctx context.Context, orgID snowflake.ID) (string, error) {
	org, err := s.orgrepo.FindByID(ctx, orgID)
	if err != nil {
		return "", err
	}
	if org.CloudConfig.ProcessorCustomerID == "" {
		return "", invoicedomain.ErrNoCustomer
	}
	return org.CloudConfig.ProcessorCustomerID, nil
}
