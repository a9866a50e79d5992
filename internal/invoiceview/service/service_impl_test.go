package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	invoicedomain "github.com/helixconsole/billing/internal/invoiceview/domain"
	orgdomain "github.com/helixconsole/billing/internal/organization/domain"
	orgrepo "github.com/helixconsole/billing/internal/organization/repository"
	processordomain "github.com/helixconsole/billing/internal/processor/domain"
)

type fakeProcessor struct {
	processordomain.API

	invoices []processordomain.Invoice
	history  []processordomain.HistoryEntry
	products map[string]string

	productCalls       int
	paymentMethodCalls int
}

func (f *fakeProcessor) ListInvoices(ctx context.Context, orgID, customerID string, page processordomain.InvoicePage) (*processordomain.InvoiceList, error) {
	start := 0
	if page.StartingAfter != "" {
		for i, inv := range f.invoices {
			if inv.ID == page.StartingAfter {
				start = i + 1
				break
			}
		}
	}
	end := start + page.Limit
	if end > len(f.invoices) {
		end = len(f.invoices)
	}
	return &processordomain.InvoiceList{
		Invoices: f.invoices[start:end],
		HasMore:  end < len(f.invoices),
	}, nil
}

func (f *fakeProcessor) ListSubscriptions(ctx context.Context, orgID, customerID string) (*processordomain.HistoryList, error) {
	return &processordomain.HistoryList{Subscriptions: f.history}, nil
}

func (f *fakeProcessor) GetProduct(ctx context.Context, orgID, productID string) (*processordomain.Product, error) {
	f.productCalls++
	name, ok := f.products[productID]
	if !ok {
		return nil, &processordomain.Error{Kind: processordomain.KindNotFound, Op: "product.get", Message: "no such product"}
	}
	return &processordomain.Product{ID: productID, Name: name}, nil
}

func (f *fakeProcessor) ListPaymentMethods(ctx context.Context, orgID, customerID string) ([]processordomain.PaymentMethod, error) {
	f.paymentMethodCalls++
	return []processordomain.PaymentMethod{
		{ID: "pm_1", Type: "card", Label: "Visa •••• 4242", IsDefault: true},
	}, nil
}

func newTestService(t *testing.T, proc *fakeProcessor) (*Service, snowflake.ID) {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := gdb.AutoMigrate(&orgdomain.Organization{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}
	org := orgdomain.Organization{
		ID:          node.Generate(),
		Name:        "acme",
		CloudConfig: orgdomain.CloudConfig{ProcessorCustomerID: "cus_1"},
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	if err := gdb.Create(&org).Error; err != nil {
		t.Fatalf("seed org: %v", err)
	}

	svc := NewService(Params{
		Log:       zap.NewNop(),
		OrgRepo:   orgrepo.NewRepository(gdb),
		Processor: proc,
	}).(*Service)
	return svc, org.ID
}

func fiveInvoices() []processordomain.Invoice {
	invoices := make([]processordomain.Invoice, 0, 5)
	for i := 1; i <= 5; i++ {
		invoices = append(invoices, processordomain.Invoice{
			ID:      fmt.Sprintf("in_%d", i),
			Number:  fmt.Sprintf("INV-%04d", i),
			Status:  "paid",
			Created: time.Date(2026, time.January, i, 0, 0, 0, 0, time.UTC).Unix(),
			Total:   int64(1000 * i),
		})
	}
	return invoices
}

func TestGetInvoicesPagination(t *testing.T) {
	proc := &fakeProcessor{invoices: fiveInvoices()}
	svc, orgID := newTestService(t, proc)

	page, err := svc.GetInvoices(context.Background(), orgID, invoicedomain.InvoicesRequest{Limit: 2})
	if err != nil {
		t.Fatalf("get invoices: %v", err)
	}
	if len(page.Invoices) != 2 {
		t.Fatalf("expected 2 invoices, got %d", len(page.Invoices))
	}
	if !page.HasMore {
		t.Fatal("expected hasMore")
	}
	if page.Cursors.Next == "" {
		t.Fatal("expected usable next cursor")
	}

	next, err := svc.GetInvoices(context.Background(), orgID, invoicedomain.InvoicesRequest{
		Limit:         2,
		StartingAfter: page.Cursors.Next,
	})
	if err != nil {
		t.Fatalf("next page: %v", err)
	}
	if len(next.Invoices) != 2 {
		t.Fatalf("expected 2 invoices on next page, got %d", len(next.Invoices))
	}
	if next.Invoices[0].ID != "in_3" {
		t.Fatalf("expected page to start at in_3, got %s", next.Invoices[0].ID)
	}
}

func TestGetInvoicesRequiresCustomer(t *testing.T) {
	proc := &fakeProcessor{invoices: fiveInvoices()}
	svc, _ := newTestService(t, proc)

	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := gdb.AutoMigrate(&orgdomain.Organization{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	node, _ := snowflake.NewNode(2)
	bare := orgdomain.Organization{ID: node.Generate(), Name: "bare", CreatedAt: time.Now().UTC()}
	if err := gdb.Create(&bare).Error; err != nil {
		t.Fatalf("seed org: %v", err)
	}
	svc.orgrepo = orgrepo.NewRepository(gdb)

	_, err = svc.GetInvoices(context.Background(), bare.ID, invoicedomain.InvoicesRequest{Limit: 2})
	if !errors.Is(err, invoicedomain.ErrNoCustomer) {
		t.Fatalf("expected ErrNoCustomer, got %v", err)
	}
}

func TestGetInvoicesRejectsBothCursors(t *testing.T) {
	proc := &fakeProcessor{invoices: fiveInvoices()}
	svc, orgID := newTestService(t, proc)

	_, err := svc.GetInvoices(context.Background(), orgID, invoicedomain.InvoicesRequest{
		Limit:         2,
		StartingAfter: "in_1",
		EndingBefore:  "in_5",
	})
	if !errors.Is(err, invoicedomain.ErrInvalidCursors) {
		t.Fatalf("expected ErrInvalidCursors, got %v", err)
	}
}

func TestHistoryDedupesProductLookups(t *testing.T) {
	proc := &fakeProcessor{
		products: map[string]string{"prod_pro": "Pro", "prod_enterprise": "Enterprise"},
		history: []processordomain.HistoryEntry{
			{ID: "sub_1", Status: "canceled", Items: []processordomain.LineItem{{ProductID: "prod_pro"}}},
			{ID: "sub_2", Status: "canceled", Items: []processordomain.LineItem{{ProductID: "prod_pro"}}},
			{ID: "sub_3", Status: "active", Items: []processordomain.LineItem{{ProductID: "prod_enterprise"}}},
			{ID: "sub_4", Status: "canceled", Items: []processordomain.LineItem{{ProductID: "prod_pro"}}},
		},
	}
	svc, orgID := newTestService(t, proc)

	items, err := svc.GetSubscriptionHistory(context.Background(), orgID, 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(items) != 4 {
		t.Fatalf("expected 4 history items, got %d", len(items))
	}
	if proc.productCalls != 2 {
		t.Fatalf("expected one lookup per distinct product, got %d", proc.productCalls)
	}
	if items[0].Products[0].Name != "Pro" {
		t.Fatalf("expected resolved product name, got %q", items[0].Products[0].Name)
	}
}

func TestListPaymentMethodsCached(t *testing.T) {
	proc := &fakeProcessor{}
	svc, orgID := newTestService(t, proc)

	for i := 0; i < 3; i++ {
		methods, err := svc.ListPaymentMethods(context.Background(), orgID)
		if err != nil {
			t.Fatalf("list payment methods: %v", err)
		}
		if len(methods) != 1 || !methods[0].Default {
			t.Fatalf("unexpected methods %+v", methods)
		}
	}
	if proc.paymentMethodCalls != 1 {
		t.Fatalf("expected one upstream call, got %d", proc.paymentMethodCalls)
	}
}
