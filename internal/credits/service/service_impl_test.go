package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	auditdomain "github.com/helixconsole/billing/internal/audit/domain"
	creditsdomain "github.com/helixconsole/billing/internal/credits/domain"
	orgdomain "github.com/helixconsole/billing/internal/organization/domain"
)

type recordingAudit struct {
	entries []auditdomain.Entry
}

func (r *recordingAudit) Record(ctx context.Context, entry auditdomain.Entry) {
	r.entries = append(r.entries, entry)
}

func (r *recordingAudit) List(ctx context.Context, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	return auditdomain.ListAuditLogResponse{}, nil
}

func newTestService(t *testing.T) (*Service, *gorm.DB, *snowflake.Node, *recordingAudit) {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := gdb.AutoMigrate(&orgdomain.Organization{}, &creditsdomain.CreditGrant{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}

	audit := &recordingAudit{}
	svc := NewService(Params{
		DB:       gdb,
		Log:      zap.NewNop(),
		GenID:    node,
		AuditSvc: audit,
	}).(*Service)
	return svc, gdb, node, audit
}

func seedOrg(t *testing.T, gdb *gorm.DB, node *snowflake.Node, credits int64) snowflake.ID {
	t.Helper()
	org := orgdomain.Organization{
		ID:        node.Generate(),
		Name:      "acme",
		Credits:   credits,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := gdb.Create(&org).Error; err != nil {
		t.Fatalf("seed org: %v", err)
	}
	return org.ID
}

func TestPurchaseCreditsAppliesOnce(t *testing.T) {
	svc, gdb, node, audit := newTestService(t)
	orgID := seedOrg(t, gdb, node, 100)

	result, err := svc.PurchaseCredits(context.Background(), creditsdomain.PurchaseRequest{
		OrgID:          orgID,
		PaymentEventID: "evt_123",
		Credits:        500,
		AmountCents:    2500,
	})
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if !result.Applied {
		t.Fatal("first purchase must apply")
	}
	if result.Balance != 600 {
		t.Fatalf("expected balance 600, got %d", result.Balance)
	}
	if len(audit.entries) != 1 {
		t.Fatalf("expected one audit entry, got %d", len(audit.entries))
	}
}

func TestPurchaseCreditsReplayIsNoop(t *testing.T) {
	svc, gdb, node, audit := newTestService(t)
	orgID := seedOrg(t, gdb, node, 0)

	req := creditsdomain.PurchaseRequest{
		OrgID:          orgID,
		PaymentEventID: "evt_replay",
		Credits:        250,
	}
	if _, err := svc.PurchaseCredits(context.Background(), req); err != nil {
		t.Fatalf("first purchase: %v", err)
	}

	for i := 0; i < 3; i++ {
		result, err := svc.PurchaseCredits(context.Background(), req)
		if err != nil {
			t.Fatalf("replay %d: %v", i, err)
		}
		if result.Applied {
			t.Fatalf("replay %d must not apply", i)
		}
		if result.Balance != 250 {
			t.Fatalf("replay %d: expected balance 250, got %d", i, result.Balance)
		}
	}

	balance, err := svc.GetCredits(context.Background(), orgID)
	if err != nil {
		t.Fatalf("get credits: %v", err)
	}
	if balance != 250 {
		t.Fatalf("expected final balance 250, got %d", balance)
	}
	if len(audit.entries) != 1 {
		t.Fatalf("expected exactly one audit entry, got %d", len(audit.entries))
	}
}

func TestPurchaseCreditsDistinctEventsAccumulate(t *testing.T) {
	svc, gdb, node, _ := newTestService(t)
	orgID := seedOrg(t, gdb, node, 0)

	for _, eventID := range []string{"evt_a", "evt_b", "evt_c"} {
		result, err := svc.PurchaseCredits(context.Background(), creditsdomain.PurchaseRequest{
			OrgID:          orgID,
			PaymentEventID: eventID,
			Credits:        100,
		})
		if err != nil {
			t.Fatalf("purchase %s: %v", eventID, err)
		}
		if !result.Applied {
			t.Fatalf("purchase %s must apply", eventID)
		}
	}

	balance, err := svc.GetCredits(context.Background(), orgID)
	if err != nil {
		t.Fatalf("get credits: %v", err)
	}
	if balance != 300 {
		t.Fatalf("expected balance 300, got %d", balance)
	}
}

func TestPurchaseCreditsReportsSettledBalance(t *testing.T) {
	svc, gdb, node, audit := newTestService(t)
	orgID := seedOrg(t, gdb, node, 100)

	first, err := svc.PurchaseCredits(context.Background(), creditsdomain.PurchaseRequest{
		OrgID:          orgID,
		PaymentEventID: "evt_settle_1",
		Credits:        50,
	})
	if err != nil {
		t.Fatalf("first purchase: %v", err)
	}
	if first.Balance != 150 {
		t.Fatalf("expected settled balance 150, got %d", first.Balance)
	}

	second, err := svc.PurchaseCredits(context.Background(), creditsdomain.PurchaseRequest{
		OrgID:          orgID,
		PaymentEventID: "evt_settle_2",
		Credits:        25,
	})
	if err != nil {
		t.Fatalf("second purchase: %v", err)
	}
	if second.Balance != 175 {
		t.Fatalf("expected settled balance 175, got %d", second.Balance)
	}

	if len(audit.entries) != 2 {
		t.Fatalf("expected two audit entries, got %d", len(audit.entries))
	}
	wantSnapshots := []struct{ before, after int64 }{
		{before: 100, after: 150},
		{before: 150, after: 175},
	}
	for i, want := range wantSnapshots {
		entry := audit.entries[i]
		if got := entry.Before["credits"]; got != want.before {
			t.Fatalf("entry %d: expected before %d, got %v", i, want.before, got)
		}
		if got := entry.After["credits"]; got != want.after {
			t.Fatalf("entry %d: expected after %d, got %v", i, want.after, got)
		}
	}
}

func TestPurchaseCreditsValidation(t *testing.T) {
	svc, gdb, node, _ := newTestService(t)
	orgID := seedOrg(t, gdb, node, 0)

	_, err := svc.PurchaseCredits(context.Background(), creditsdomain.PurchaseRequest{
		OrgID:          orgID,
		PaymentEventID: "  ",
		Credits:        10,
	})
	if !errors.Is(err, creditsdomain.ErrInvalidPaymentEvent) {
		t.Fatalf("expected ErrInvalidPaymentEvent, got %v", err)
	}

	_, err = svc.PurchaseCredits(context.Background(), creditsdomain.PurchaseRequest{
		OrgID:          orgID,
		PaymentEventID: "evt_1",
		Credits:        0,
	})
	if !errors.Is(err, creditsdomain.ErrInvalidCreditAmount) {
		t.Fatalf("expected ErrInvalidCreditAmount, got %v", err)
	}
}
