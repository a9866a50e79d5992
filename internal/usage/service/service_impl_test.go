package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/helixconsole/billing/internal/clock"
	meterdomain "github.com/helixconsole/billing/internal/meter/domain"
	meterrepo "github.com/helixconsole/billing/internal/meter/repository"
	orgdomain "github.com/helixconsole/billing/internal/organization/domain"
	orgrepo "github.com/helixconsole/billing/internal/organization/repository"
	processordomain "github.com/helixconsole/billing/internal/processor/domain"
	usagedomain "github.com/helixconsole/billing/internal/usage/domain"
)

type fakeProcessor struct {
	processordomain.API

	previewCalls int
	preview      func(ctx context.Context, orgID, customerID, subscriptionID string) (*processordomain.UsagePreview, error)
}

func (f *fakeProcessor) UsagePreview(ctx context.Context, orgID, customerID, subscriptionID string) (*processordomain.UsagePreview, error) {
	f.previewCalls++
	return f.preview(ctx, orgID, customerID, subscriptionID)
}

func newTestService(t *testing.T, proc *fakeProcessor, now time.Time) (*Service, *gorm.DB, *snowflake.Node) {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := gdb.AutoMigrate(&orgdomain.Organization{}, &meterdomain.Meter{}, &meterdomain.UsageRecord{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}

	svc := NewService(ServiceParam{
		Log:       zap.NewNop(),
		Clock:     clock.NewFakeClock(now),
		OrgRepo:   orgrepo.NewRepository(gdb),
		MeterRepo: meterrepo.NewRepository(gdb, node),
		Processor: proc,
	}).(*Service)
	return svc, gdb, node
}

func seedOrg(t *testing.T, gdb *gorm.DB, node *snowflake.Node, cfg orgdomain.CloudConfig, createdAt time.Time) snowflake.ID {
	t.Helper()
	org := orgdomain.Organization{
		ID:          node.Generate(),
		Name:        "acme",
		CloudConfig: cfg,
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}
	if err := gdb.Create(&org).Error; err != nil {
		t.Fatalf("seed org: %v", err)
	}
	return org.ID
}

func TestGetUsagePrefersProcessorPreview(t *testing.T) {
	now := time.Date(2026, time.March, 20, 0, 0, 0, 0, time.UTC)
	proc := &fakeProcessor{preview: func(ctx context.Context, orgID, customerID, subscriptionID string) (*processordomain.UsagePreview, error) {
		return &processordomain.UsagePreview{
			UsageCount:  321,
			UsageType:   "events",
			PeriodStart: now.AddDate(0, 0, -10).Unix(),
			PeriodEnd:   now.AddDate(0, 0, 20).Unix(),
		}, nil
	}}
	svc, gdb, node := newTestService(t, proc, now)
	orgID := seedOrg(t, gdb, node, orgdomain.CloudConfig{ProcessorCustomerID: "cus_1", ProcessorSubscriptionID: "sub_1"}, now.AddDate(-1, 0, 0))

	usage, err := svc.GetUsage(context.Background(), orgID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if usage.Source != usagedomain.SourceProcessor {
		t.Fatalf("expected processor source, got %s", usage.Source)
	}
	if usage.Count != 321 {
		t.Fatalf("expected count 321, got %d", usage.Count)
	}
}

func TestGetUsageFallsBackOnProcessorError(t *testing.T) {
	now := time.Date(2026, time.March, 20, 0, 0, 0, 0, time.UTC)
	proc := &fakeProcessor{preview: func(ctx context.Context, orgID, customerID, subscriptionID string) (*processordomain.UsagePreview, error) {
		return nil, &processordomain.Error{Kind: processordomain.KindTimeout, Op: "usage.preview", Message: "deadline exceeded"}
	}}
	svc, gdb, node := newTestService(t, proc, now)
	created := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)
	orgID := seedOrg(t, gdb, node, orgdomain.CloudConfig{ProcessorCustomerID: "cus_1", ProcessorSubscriptionID: "sub_1"}, created)

	for i, eventID := range []string{"evt_1", "evt_2", "evt_3"} {
		err := svc.RecordEvent(context.Background(), orgID, "", eventID, float64(i+1))
		if err != nil {
			t.Fatalf("record event: %v", err)
		}
	}

	usage, err := svc.GetUsage(context.Background(), orgID)
	if err != nil {
		t.Fatalf("fallback must not surface processor errors: %v", err)
	}
	if usage.Source != usagedomain.SourceLocal {
		t.Fatalf("expected local source, got %s", usage.Source)
	}
	if usage.Count != 6 {
		t.Fatalf("expected summed count 6, got %d", usage.Count)
	}
	if !usage.PeriodStart.Before(now) || !usage.PeriodEnd.After(now) {
		t.Fatalf("cycle [%s, %s) must bracket now %s", usage.PeriodStart, usage.PeriodEnd, now)
	}
}

func TestGetUsageManualPlanSkipsProcessor(t *testing.T) {
	now := time.Date(2026, time.March, 20, 0, 0, 0, 0, time.UTC)
	proc := &fakeProcessor{preview: func(ctx context.Context, orgID, customerID, subscriptionID string) (*processordomain.UsagePreview, error) {
		t.Fatal("processor must not be called for manual plans")
		return nil, nil
	}}
	svc, gdb, node := newTestService(t, proc, now)
	orgID := seedOrg(t, gdb, node, orgdomain.CloudConfig{ProcessorCustomerID: "cus_1", ManualPlan: "enterprise"}, now.AddDate(-1, 0, 0))

	usage, err := svc.GetUsage(context.Background(), orgID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if usage.Source != usagedomain.SourceLocal {
		t.Fatalf("expected local source, got %s", usage.Source)
	}
	if proc.previewCalls != 0 {
		t.Fatalf("expected zero preview calls, got %d", proc.previewCalls)
	}
}

func TestGetUsageUnsubscribedCustomerSkipsProcessor(t *testing.T) {
	now := time.Date(2026, time.March, 20, 0, 0, 0, 0, time.UTC)
	proc := &fakeProcessor{preview: func(ctx context.Context, orgID, customerID, subscriptionID string) (*processordomain.UsagePreview, error) {
		return &processordomain.UsagePreview{UsageCount: 999}, nil
	}}
	svc, gdb, node := newTestService(t, proc, now)
	orgID := seedOrg(t, gdb, node, orgdomain.CloudConfig{ProcessorCustomerID: "cus_1"}, now.AddDate(0, -2, 0))

	usage, err := svc.GetUsage(context.Background(), orgID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if usage.Source != usagedomain.SourceLocal {
		t.Fatalf("expected local source without a subscription, got %s", usage.Source)
	}
	if proc.previewCalls != 0 {
		t.Fatalf("expected zero preview calls, got %d", proc.previewCalls)
	}
}

func TestRecordEventUnattributedEventsAccumulate(t *testing.T) {
	now := time.Date(2026, time.March, 20, 0, 0, 0, 0, time.UTC)
	proc := &fakeProcessor{preview: func(ctx context.Context, orgID, customerID, subscriptionID string) (*processordomain.UsagePreview, error) {
		t.Fatal("preview must not be called")
		return nil, nil
	}}
	svc, gdb, node := newTestService(t, proc, now)
	orgID := seedOrg(t, gdb, node, orgdomain.CloudConfig{}, now.AddDate(0, -2, 0))

	for i := 0; i < 3; i++ {
		if err := svc.RecordEvent(context.Background(), orgID, "events", "", 10); err != nil {
			t.Fatalf("record event: %v", err)
		}
	}

	usage, err := svc.GetUsage(context.Background(), orgID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if usage.Count != 30 {
		t.Fatalf("expected all un-attributed events counted, got %d", usage.Count)
	}
}

func TestRecordEventDropsReplays(t *testing.T) {
	now := time.Date(2026, time.March, 20, 0, 0, 0, 0, time.UTC)
	proc := &fakeProcessor{preview: func(ctx context.Context, orgID, customerID, subscriptionID string) (*processordomain.UsagePreview, error) {
		return nil, &processordomain.Error{Kind: processordomain.KindInternal, Op: "usage.preview", Message: "boom"}
	}}
	svc, gdb, node := newTestService(t, proc, now)
	orgID := seedOrg(t, gdb, node, orgdomain.CloudConfig{ProcessorCustomerID: "cus_1"}, now.AddDate(0, -2, 0))

	for i := 0; i < 3; i++ {
		if err := svc.RecordEvent(context.Background(), orgID, "events", "evt_dup", 5); err != nil {
			t.Fatalf("record event: %v", err)
		}
	}

	usage, err := svc.GetUsage(context.Background(), orgID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if usage.Count != 5 {
		t.Fatalf("expected replayed event counted once, got %d", usage.Count)
	}
}
