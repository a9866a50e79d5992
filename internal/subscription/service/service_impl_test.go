package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	auditdomain "github.com/helixconsole/billing/internal/audit/domain"
	"github.com/helixconsole/billing/internal/billingcycle"
	"github.com/helixconsole/billing/internal/clock"
	"github.com/helixconsole/billing/internal/idempotency"
	orgdomain "github.com/helixconsole/billing/internal/organization/domain"
	orgrepo "github.com/helixconsole/billing/internal/organization/repository"
	processordomain "github.com/helixconsole/billing/internal/processor/domain"
	subdomain "github.com/helixconsole/billing/internal/subscription/domain"
)

type recordingAudit struct {
	mu      sync.Mutex
	entries []auditdomain.Entry
}

func (r *recordingAudit) Record(ctx context.Context, entry auditdomain.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
}

func (r *recordingAudit) List(ctx context.Context, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	return auditdomain.ListAuditLogResponse{}, nil
}

// fakeProcessor keeps one mutable subscription, the way the processor is the
// arbiter of state between calls.
type fakeProcessor struct {
	processordomain.API

	calls int
	sub   *processordomain.Subscription

	applyPromotionErr error
}

func (f *fakeProcessor) GetSubscription(ctx context.Context, orgID, subscriptionID string) (*processordomain.Subscription, error) {
	f.calls++
	if f.sub == nil || f.sub.ID != subscriptionID {
		return nil, &processordomain.Error{Kind: processordomain.KindNotFound, Op: "subscription.get", Message: "no such subscription"}
	}
	copied := *f.sub
	return &copied, nil
}

func (f *fakeProcessor) CreateCheckoutSession(ctx context.Context, orgID, opID string, req processordomain.CheckoutSessionRequest) (*processordomain.CheckoutSession, error) {
	f.calls++
	return &processordomain.CheckoutSession{ID: "cs_1", URL: "https://checkout.example/cs_1"}, nil
}

func (f *fakeProcessor) UpdateSubscription(ctx context.Context, orgID, opID, subscriptionID string, req processordomain.UpdateSubscriptionRequest) (*processordomain.Subscription, error) {
	f.calls++
	f.sub.ProductID = req.ProductID
	copied := *f.sub
	return &copied, nil
}

func (f *fakeProcessor) CancelSubscription(ctx context.Context, orgID, opID, subscriptionID string, opts processordomain.CancelOptions) (*processordomain.Subscription, error) {
	f.calls++
	if opts.AtPeriodEnd {
		f.sub.CancelAt = f.sub.CurrentPeriodEnd
	} else {
		f.sub.Status = processordomain.SubscriptionStatusCanceled
	}
	copied := *f.sub
	return &copied, nil
}

func (f *fakeProcessor) ReactivateSubscription(ctx context.Context, orgID, opID, subscriptionID string) (*processordomain.Subscription, error) {
	f.calls++
	f.sub.CancelAt = 0
	f.sub.Schedule = nil
	copied := *f.sub
	return &copied, nil
}

func (f *fakeProcessor) ClearSchedule(ctx context.Context, orgID, opID, subscriptionID string) (*processordomain.Subscription, error) {
	f.calls++
	f.sub.Schedule = nil
	copied := *f.sub
	return &copied, nil
}

func (f *fakeProcessor) ApplyPromotion(ctx context.Context, orgID, opID, subscriptionID, code string) (*processordomain.Subscription, error) {
	f.calls++
	if f.applyPromotionErr != nil {
		return nil, f.applyPromotionErr
	}
	copied := *f.sub
	copied.Discounts = []processordomain.Discount{{Code: code, PercentOff: 10}}
	f.sub = &copied
	return &copied, nil
}

var testNow = time.Date(2026, time.April, 10, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, proc *fakeProcessor) (*Service, *gorm.DB, *snowflake.Node, *recordingAudit) {
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

	audit := &recordingAudit{}
	svc := NewService(Params{
		Log:       zap.NewNop(),
		Clock:     clock.NewFakeClock(testNow),
		OrgRepo:   orgrepo.NewRepository(gdb),
		Processor: proc,
		AuditSvc:  audit,
		Idem:      idempotency.NewLocalStore(),
	}).(*Service)
	return svc, gdb, node, audit
}

func seedOrg(t *testing.T, gdb *gorm.DB, node *snowflake.Node, cfg orgdomain.CloudConfig) snowflake.ID {
	t.Helper()
	created := time.Date(2025, time.September, 4, 0, 0, 0, 0, time.UTC)
	org := orgdomain.Organization{
		ID:          node.Generate(),
		Name:        "acme",
		CloudConfig: cfg,
		CreatedAt:   created,
		UpdatedAt:   created,
	}
	if err := gdb.Create(&org).Error; err != nil {
		t.Fatalf("seed org: %v", err)
	}
	return org.ID
}

func activeSub() *processordomain.Subscription {
	return &processordomain.Subscription{
		ID:                     "sub_1",
		CustomerID:             "cus_1",
		Status:                 processordomain.SubscriptionStatusActive,
		ProductID:              "prod_pro",
		CurrentPeriodStart:     testNow.AddDate(0, 0, -10).Unix(),
		CurrentPeriodEnd:       testNow.AddDate(0, 0, 20).Unix(),
		DefaultPaymentMethodID: "pm_1",
	}
}

func subscribedConfig() orgdomain.CloudConfig {
	return orgdomain.CloudConfig{
		ProcessorCustomerID:     "cus_1",
		ProcessorSubscriptionID: "sub_1",
	}
}

func TestManualPlanBlocksMutationsWithoutProcessorCalls(t *testing.T) {
	proc := &fakeProcessor{sub: activeSub()}
	svc, gdb, node, _ := newTestService(t, proc)
	orgID := seedOrg(t, gdb, node, orgdomain.CloudConfig{
		ProcessorCustomerID:     "cus_1",
		ProcessorSubscriptionID: "sub_1",
		ManualPlan:              "enterprise",
	})

	ctx := context.Background()
	ops := []struct {
		name string
		call func() error
	}{
		{"checkout", func() error { _, err := svc.CreateCheckoutSession(ctx, orgID, "prod_pro", ""); return err }},
		{"change_plan", func() error { _, err := svc.ChangePlan(ctx, orgID, "prod_pro", ""); return err }},
		{"cancel", func() error { _, err := svc.Cancel(ctx, orgID, ""); return err }},
		{"reactivate", func() error { _, err := svc.Reactivate(ctx, orgID, ""); return err }},
		{"clear_schedule", func() error { _, err := svc.ClearPlanSwitchSchedule(ctx, orgID, ""); return err }},
		{"apply_promotion", func() error { _, err := svc.ApplyPromotionCode(ctx, orgID, "SAVE10", ""); return err }},
	}

	for _, op := range ops {
		if err := op.call(); !errors.Is(err, subdomain.ErrManualPlan) {
			t.Fatalf("%s: expected ErrManualPlan, got %v", op.name, err)
		}
	}
	if proc.calls != 0 {
		t.Fatalf("expected zero processor calls, got %d", proc.calls)
	}
}

func TestGetSubscriptionInfoSynthesizedWhenUnsubscribed(t *testing.T) {
	proc := &fakeProcessor{}
	svc, gdb, node, _ := newTestService(t, proc)
	orgID := seedOrg(t, gdb, node, orgdomain.CloudConfig{})

	info, err := svc.GetSubscriptionInfo(context.Background(), orgID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.State != subdomain.StateNone {
		t.Fatalf("expected NONE, got %s", info.State)
	}
	if info.Cancellation != nil {
		t.Fatal("expected nil cancellation")
	}
	if info.HasValidPaymentMethod {
		t.Fatal("expected no valid payment method")
	}

	created := time.Date(2025, time.September, 4, 0, 0, 0, 0, time.UTC)
	wantStart := billingcycle.Start(testNow, 0, created)
	wantEnd := billingcycle.End(testNow, 0, created)
	if !info.BillingPeriod.Start.Equal(wantStart) || !info.BillingPeriod.End.Equal(wantEnd) {
		t.Fatalf("expected local cycle [%s, %s), got [%s, %s)",
			wantStart, wantEnd, info.BillingPeriod.Start, info.BillingPeriod.End)
	}
	if proc.calls != 0 {
		t.Fatalf("synthesized info must not call the processor, got %d calls", proc.calls)
	}
}

func TestChangePlanRoundTrip(t *testing.T) {
	proc := &fakeProcessor{sub: activeSub()}
	svc, gdb, node, audit := newTestService(t, proc)
	orgID := seedOrg(t, gdb, node, subscribedConfig())

	info, err := svc.ChangePlan(context.Background(), orgID, "prod_enterprise", "op_1")
	if err != nil {
		t.Fatalf("change plan: %v", err)
	}
	if info.ProductID != "prod_enterprise" {
		t.Fatalf("expected new product on change result, got %q", info.ProductID)
	}

	after, err := svc.GetSubscriptionInfo(context.Background(), orgID)
	if err != nil {
		t.Fatalf("get info: %v", err)
	}
	if after.ProductID != "prod_enterprise" {
		t.Fatalf("expected processor-settled product, got %q", after.ProductID)
	}
	if after.State != subdomain.StateActive {
		t.Fatalf("expected ACTIVE, got %s", after.State)
	}
	if len(audit.entries) != 1 || audit.entries[0].Action != "billing.plan.changed" {
		t.Fatalf("expected one plan change audit entry, got %+v", audit.entries)
	}
}

func TestCancelSchedulesAtPeriodEnd(t *testing.T) {
	proc := &fakeProcessor{sub: activeSub()}
	svc, gdb, node, _ := newTestService(t, proc)
	orgID := seedOrg(t, gdb, node, subscribedConfig())

	info, err := svc.Cancel(context.Background(), orgID, "")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if info.State != subdomain.StateCancelScheduled {
		t.Fatalf("expected CANCEL_SCHEDULED, got %s", info.State)
	}
	if info.Cancellation == nil {
		t.Fatal("expected cancellation timestamp")
	}

	reactivated, err := svc.Reactivate(context.Background(), orgID, "")
	if err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	if reactivated.State != subdomain.StateActive {
		t.Fatalf("expected ACTIVE after reactivation, got %s", reactivated.State)
	}
	if reactivated.Cancellation != nil {
		t.Fatal("expected cancellation cleared")
	}
}

func TestCancelImmediatelyNoopWithoutSubscription(t *testing.T) {
	proc := &fakeProcessor{}
	svc, gdb, node, audit := newTestService(t, proc)
	orgID := seedOrg(t, gdb, node, orgdomain.CloudConfig{ProcessorCustomerID: "cus_1"})

	result, err := svc.CancelImmediatelyAndInvoice(context.Background(), orgID, "")
	if err != nil {
		t.Fatalf("expected noop, got error %v", err)
	}
	if !result.Noop {
		t.Fatal("expected noop result")
	}
	if proc.calls != 0 {
		t.Fatalf("noop must not call the processor, got %d calls", proc.calls)
	}
	if len(audit.entries) != 0 {
		t.Fatalf("noop must not audit, got %d entries", len(audit.entries))
	}
}

func TestCancelImmediatelyClearsSubscriptionReference(t *testing.T) {
	proc := &fakeProcessor{sub: activeSub()}
	svc, gdb, node, _ := newTestService(t, proc)
	orgID := seedOrg(t, gdb, node, subscribedConfig())

	result, err := svc.CancelImmediatelyAndInvoice(context.Background(), orgID, "")
	if err != nil {
		t.Fatalf("cancel now: %v", err)
	}
	if result.Noop {
		t.Fatal("expected real cancellation")
	}

	var org orgdomain.Organization
	if err := gdb.First(&org, "id = ?", orgID).Error; err != nil {
		t.Fatalf("reload org: %v", err)
	}
	if org.CloudConfig.ProcessorSubscriptionID != "" {
		t.Fatalf("expected subscription reference cleared, got %q", org.CloudConfig.ProcessorSubscriptionID)
	}
	if org.CloudConfig.ProcessorCustomerID != "cus_1" {
		t.Fatal("customer reference must survive cancellation")
	}
}

func TestApplyPromotionRemapsPriorTransactions(t *testing.T) {
	proc := &fakeProcessor{
		sub: activeSub(),
		applyPromotionErr: &processordomain.Error{
			Kind:    processordomain.KindBadRequest,
			Op:      "subscription.apply_promotion",
			Message: "coupon rejected: prior transactions exist for this customer",
		},
	}
	svc, gdb, node, _ := newTestService(t, proc)
	orgID := seedOrg(t, gdb, node, subscribedConfig())

	_, err := svc.ApplyPromotionCode(context.Background(), orgID, "EXPIREDCODE", "")
	if err == nil {
		t.Fatal("expected error")
	}
	if err.Error() != "Promotion code only valid for new customers" {
		t.Fatalf("expected remapped message, got %q", err.Error())
	}
}

func TestApplyPromotionPassesOtherErrorsThrough(t *testing.T) {
	proc := &fakeProcessor{
		sub: activeSub(),
		applyPromotionErr: &processordomain.Error{
			Kind:    processordomain.KindNotFound,
			Op:      "subscription.apply_promotion",
			Message: "no such promotion code",
		},
	}
	svc, gdb, node, _ := newTestService(t, proc)
	orgID := seedOrg(t, gdb, node, subscribedConfig())

	_, err := svc.ApplyPromotionCode(context.Background(), orgID, "NOPE", "")
	if !processordomain.IsKind(err, processordomain.KindNotFound) {
		t.Fatalf("expected NOT_FOUND pass-through, got %v", err)
	}
}

func TestMutationsRequireSubscription(t *testing.T) {
	proc := &fakeProcessor{}
	svc, gdb, node, _ := newTestService(t, proc)
	orgID := seedOrg(t, gdb, node, orgdomain.CloudConfig{ProcessorCustomerID: "cus_1"})

	if _, err := svc.ChangePlan(context.Background(), orgID, "prod_pro", ""); !errors.Is(err, subdomain.ErrNoSubscription) {
		t.Fatalf("change plan: expected ErrNoSubscription, got %v", err)
	}
	if _, err := svc.Cancel(context.Background(), orgID, ""); !errors.Is(err, subdomain.ErrNoSubscription) {
		t.Fatalf("cancel: expected ErrNoSubscription, got %v", err)
	}
	if proc.calls != 0 {
		t.Fatalf("expected zero processor calls, got %d", proc.calls)
	}
}

func TestDuplicateOpTokenRejected(t *testing.T) {
	proc := &fakeProcessor{sub: activeSub()}
	svc, gdb, node, _ := newTestService(t, proc)
	orgID := seedOrg(t, gdb, node, subscribedConfig())

	if _, err := svc.ChangePlan(context.Background(), orgID, "prod_enterprise", "op_dup"); err != nil {
		t.Fatalf("first change: %v", err)
	}
	_, err := svc.ChangePlan(context.Background(), orgID, "prod_enterprise", "op_dup")
	if !errors.Is(err, idempotency.ErrDuplicateOperation) {
		t.Fatalf("expected ErrDuplicateOperation, got %v", err)
	}
}
