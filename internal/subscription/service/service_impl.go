package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"

	auditdomain "github.com/helixconsole/billing/internal/audit/domain"
	"github.com/helixconsole/billing/internal/billingcycle"
	"github.com/helixconsole/billing/internal/clock"
	"github.com/helixconsole/billing/internal/config"
	"github.com/helixconsole/billing/internal/idempotency"
	orgdomain "github.com/helixconsole/billing/internal/organization/domain"
	processordomain "github.com/helixconsole/billing/internal/processor/domain"
	"github.com/helixconsole/billing/internal/sessionctx"
	subdomain "github.com/helixconsole/billing/internal/subscription/domain"
)

type Params struct {
	fx.In

	Log       *zap.Logger
	Clock     clock.Clock
	OrgRepo   orgdomain.Repository
	Processor processordomain.API
	AuditSvc  auditdomain.Service
	Idem      idempotency.Store
	Plans     *config.PlanCatalogHolder `optional:"true"`
}

type Service struct {
	log       *zap.Logger
	clock     clock.Clock
	orgrepo   orgdomain.Repository
	processor processordomain.API
	auditSvc  auditdomain.Service
	idem      idempotency.Store
	plans     *config.PlanCatalogHolder
}

func NewService(p Params) subdomain.Service {
	return &Service{
		log:       p.Log.Named("subscription.service"),
		clock:     p.Clock,
		orgrepo:   p.OrgRepo,
		processor: p.Processor,
		auditSvc:  p.AuditSvc,
		idem:      p.Idem,
		plans:     p.Plans,
	}
}

func (s *Service) GetSubscriptionInfo(ctx context.Context, orgID snowflake.ID) (*subdomain.Info, error) {
	org, err := s.orgrepo.FindByID(ctx, orgID)
	if err != nil {
		return nil, err
	}

	cfg := org.CloudConfig
	if cfg.Manual() {
		return &subdomain.Info{
			State:         subdomain.StateManual,
			ManualPlan:    cfg.ManualPlan,
			BillingPeriod: s.localPeriod(org),
		}, nil
	}
	if cfg.ProcessorSubscriptionID == "" {
		return &subdomain.Info{
			State:         subdomain.StateNone,
			BillingPeriod: s.localPeriod(org),
		}, nil
	}

	sub, err := s.processor.GetSubscription(ctx, orgID.String(), cfg.ProcessorSubscriptionID)
	if err != nil {
		return nil, err
	}
	return s.project(sub), nil
}

func (s *Service) CreateCheckoutSession(ctx context.Context, orgID snowflake.ID, productID, opID string) (*subdomain.CheckoutSession, error) {
	org, err := s.orgrepo.FindByID(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if org.CloudConfig.Manual() {
		return nil, subdomain.ErrManualPlan
	}
	if err := s.validateProduct(productID); err != nil {
		return nil, err
	}

	req := processordomain.CheckoutSessionRequest{
		CustomerID: org.CloudConfig.ProcessorCustomerID,
		ProductID:  productID,
	}
	if session, ok := sessionctx.FromContext(ctx); ok {
		req.ActorID = session.UserID
		req.ActorEmail = session.Email
	}

	opID = s.idem.Derive(opID)
	release, err := s.idem.Guard(ctx, orgID, "checkout", opID)
	if err != nil {
		return nil, err
	}

	session, err := s.processor.CreateCheckoutSession(ctx, orgID.String(), opID, req)
	if err != nil {
		release()
		return nil, err
	}

	s.auditSvc.Record(ctx, auditdomain.Entry{
		Action:     "billing.checkout.created",
		TargetType: "organization",
		TargetID:   orgID.String(),
		Metadata: map[string]any{
			"product_id":          productID,
			"checkout_session_id": session.ID,
			"op_id":               opID,
		},
	})

	return &subdomain.CheckoutSession{
		URL:       session.URL,
		ExpiresAt: processordomain.Time(session.ExpiresAt),
	}, nil
}

func (s *Service) ChangePlan(ctx context.Context, orgID snowflake.ID, productID, opID string) (*subdomain.Info, error) {
	_, cfg, err := s.requireSubscribed(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if err := s.validateProduct(productID); err != nil {
		return nil, err
	}

	opID = s.idem.Derive(opID)
	release, err := s.idem.Guard(ctx, orgID, "change_plan", opID)
	if err != nil {
		return nil, err
	}

	sub, err := s.processor.UpdateSubscription(ctx, orgID.String(), opID, cfg.ProcessorSubscriptionID,
		processordomain.UpdateSubscriptionRequest{ProductID: productID})
	if err != nil {
		release()
		return nil, err
	}

	s.auditSvc.Record(ctx, auditdomain.Entry{
		Action:     "billing.plan.changed",
		TargetType: "subscription",
		TargetID:   cfg.ProcessorSubscriptionID,
		After:      map[string]any{"product_id": productID},
		Metadata:   map[string]any{"op_id": opID},
	})

	return s.project(sub), nil
}

func (s *Service) Cancel(ctx context.Context, orgID snowflake.ID, opID string) (*subdomain.Info, error) {
	_, cfg, err := s.requireSubscribed(ctx, orgID)
	if err != nil {
		return nil, err
	}

	opID = s.idem.Derive(opID)
	release, err := s.idem.Guard(ctx, orgID, "cancel", opID)
	if err != nil {
		return nil, err
	}

	sub, err := s.processor.CancelSubscription(ctx, orgID.String(), opID, cfg.ProcessorSubscriptionID,
		processordomain.CancelOptions{AtPeriodEnd: true})
	if err != nil {
		release()
		return nil, err
	}

	s.auditSvc.Record(ctx, auditdomain.Entry{
		Action:     "billing.subscription.canceled",
		TargetType: "subscription",
		TargetID:   cfg.ProcessorSubscriptionID,
		Metadata:   map[string]any{"at_period_end": true, "op_id": opID},
	})

	return s.project(sub), nil
}

func (s *Service) Reactivate(ctx context.Context, orgID snowflake.ID, opID string) (*subdomain.Info, error) {
	_, cfg, err := s.requireSubscribed(ctx, orgID)
	if err != nil {
		return nil, err
	}

	opID = s.idem.Derive(opID)
	release, err := s.idem.Guard(ctx, orgID, "reactivate", opID)
	if err != nil {
		return nil, err
	}

	sub, err := s.processor.ReactivateSubscription(ctx, orgID.String(), opID, cfg.ProcessorSubscriptionID)
	if err != nil {
		release()
		return nil, err
	}

	s.auditSvc.Record(ctx, auditdomain.Entry{
		Action:     "billing.subscription.reactivated",
		TargetType: "subscription",
		TargetID:   cfg.ProcessorSubscriptionID,
		Metadata:   map[string]any{"op_id": opID},
	})

	return s.project(sub), nil
}

func (s *Service) CancelImmediatelyAndInvoice(ctx context.Context, orgID snowflake.ID, opID string) (*subdomain.CancelNowResult, error) {
	org, err := s.orgrepo.FindByID(ctx, orgID)
	if err != nil {
		return nil, err
	}
	cfg := org.CloudConfig
	if cfg.Manual() {
		return nil, subdomain.ErrManualPlan
	}
	if cfg.ProcessorSubscriptionID == "" {
		// Teardown paths call this unconditionally; nothing to cancel is
		// a defined no-op, not an error.
		return &subdomain.CancelNowResult{Noop: true}, nil
	}

	opID = s.idem.Derive(opID)
	release, err := s.idem.Guard(ctx, orgID, "cancel_now", opID)
	if err != nil {
		return nil, err
	}

	if _, err := s.processor.CancelSubscription(ctx, orgID.String(), opID, cfg.ProcessorSubscriptionID,
		processordomain.CancelOptions{AtPeriodEnd: false, InvoiceNow: true}); err != nil {
		release()
		return nil, err
	}

	next := cfg
	next.ProcessorSubscriptionID = ""
	if err := s.orgrepo.UpdateCloudConfig(ctx, orgID, next); err != nil {
		s.log.Error("cloud config update failed after immediate cancel",
			zap.String("org_id", orgID.String()),
			zap.Error(err),
		)
		return nil, err
	}

	s.auditSvc.Record(ctx, auditdomain.Entry{
		Action:     "billing.subscription.canceled_immediately",
		TargetType: "organization",
		TargetID:   orgID.String(),
		Before:     map[string]any{"cloud_config": cfg},
		After:      map[string]any{"cloud_config": next},
		Metadata:   map[string]any{"op_id": opID},
	})

	return &subdomain.CancelNowResult{Noop: false}, nil
}

func (s *Service) ClearPlanSwitchSchedule(ctx context.Context, orgID snowflake.ID, opID string) (*subdomain.Info, error) {
	_, cfg, err := s.requireSubscribed(ctx, orgID)
	if err != nil {
		return nil, err
	}

	opID = s.idem.Derive(opID)
	release, err := s.idem.Guard(ctx, orgID, "clear_schedule", opID)
	if err != nil {
		return nil, err
	}

	sub, err := s.processor.ClearSchedule(ctx, orgID.String(), opID, cfg.ProcessorSubscriptionID)
	if err != nil {
		release()
		return nil, err
	}

	s.auditSvc.Record(ctx, auditdomain.Entry{
		Action:     "billing.schedule.cleared",
		TargetType: "subscription",
		TargetID:   cfg.ProcessorSubscriptionID,
		Metadata:   map[string]any{"op_id": opID},
	})

	return s.project(sub), nil
}

func (s *Service) ApplyPromotionCode(ctx context.Context, orgID snowflake.ID, code, opID string) (*subdomain.Info, error) {
	_, cfg, err := s.requireSubscribed(ctx, orgID)
	if err != nil {
		return nil, err
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, subdomain.ErrInvalidPromotion
	}

	opID = s.idem.Derive(opID)
	release, err := s.idem.Guard(ctx, orgID, "apply_promotion", opID)
	if err != nil {
		return nil, err
	}

	sub, err := s.processor.ApplyPromotion(ctx, orgID.String(), opID, cfg.ProcessorSubscriptionID, code)
	if err != nil {
		release()
		var typed *processordomain.Error
		if errors.As(err, &typed) && strings.Contains(strings.ToLower(typed.Message), "prior transactions") {
			return nil, subdomain.ErrPromotionNewCustomersOnly
		}
		return nil, err
	}

	s.auditSvc.Record(ctx, auditdomain.Entry{
		Action:     "billing.promotion.applied",
		TargetType: "subscription",
		TargetID:   cfg.ProcessorSubscriptionID,
		Metadata:   map[string]any{"code": code, "op_id": opID},
	})

	return s.project(sub), nil
}

func (s *Service) requireSubscribed(ctx context.Context, orgID snowflake.ID) (*orgdomain.Organization, orgdomain.CloudConfig, error) {
	org, err := s.orgrepo.FindByID(ctx, orgID)
	if err != nil {
		return nil, orgdomain.CloudConfig{}, err
	}
	cfg := org.CloudConfig
	if cfg.Manual() {
		return nil, orgdomain.CloudConfig{}, subdomain.ErrManualPlan
	}
	if cfg.ProcessorSubscriptionID == "" {
		return nil, orgdomain.CloudConfig{}, subdomain.ErrNoSubscription
	}
	return org, cfg, nil
}

func (s *Service) validateProduct(productID string) error {
	if strings.TrimSpace(productID) == "" {
		return subdomain.ErrInvalidProduct
	}
	if s.plans == nil {
		return nil
	}
	if _, ok := s.plans.Lookup(productID); !ok {
		return subdomain.ErrInvalidProduct
	}
	return nil
}

func (s *Service) localPeriod(org *orgdomain.Organization) subdomain.BillingPeriod {
	now := s.clock.Now()
	return subdomain.BillingPeriod{
		Start: billingcycle.Start(now, org.CloudConfig.BillingAnchorDay, org.CreatedAt),
		End:   billingcycle.End(now, org.CloudConfig.BillingAnchorDay, org.CreatedAt),
	}
}

// project derives the caller-facing view from the processor subscription.
// The processor settles concurrent mutations; nothing here is cached.
func (s *Service) project(sub *processordomain.Subscription) *subdomain.Info {
	now := s.clock.Now()

	info := &subdomain.Info{
		State:     subdomain.StateActive,
		ProductID: sub.ProductID,
		BillingPeriod: subdomain.BillingPeriod{
			Start: processordomain.Time(sub.CurrentPeriodStart),
			End:   processordomain.Time(sub.CurrentPeriodEnd),
		},
		HasValidPaymentMethod: sub.DefaultPaymentMethodID != "",
	}

	if cancelAt := processordomain.Time(sub.CancelAt); !cancelAt.IsZero() && cancelAt.After(now) {
		info.Cancellation = &subdomain.Cancellation{At: cancelAt}
	}
	if sub.Schedule != nil && sub.Schedule.ProductID != "" {
		info.ScheduledChange = &subdomain.ScheduledChange{
			ProductID:   sub.Schedule.ProductID,
			EffectiveAt: processordomain.Time(sub.Schedule.EffectiveAt),
		}
	}
	for _, discount := range sub.Discounts {
		info.Discounts = append(info.Discounts, subdomain.Discount{
			Code:       discount.Code,
			PercentOff: discount.PercentOff,
			AmountOff:  discount.AmountOff,
			Currency:   discount.Currency,
		})
	}

	switch {
	case sub.Status == processordomain.SubscriptionStatusCanceled:
		info.State = subdomain.StateCanceled
	case info.Cancellation != nil:
		info.State = subdomain.StateCancelScheduled
	case info.ScheduledChange != nil:
		info.State = subdomain.StateScheduledChange
	}

	return info
}
