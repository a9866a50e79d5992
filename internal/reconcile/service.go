// Package reconcile is the façade the console's CRUD layer calls. It composes
// the subscription state machine, usage aggregator, credit ledger, and
// invoice projector into one operation set returning plain data.
package reconcile

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"

	creditsdomain "github.com/helixconsole/billing/internal/credits/domain"
	invoicedomain "github.com/helixconsole/billing/internal/invoiceview/domain"
	obsmetrics "github.com/helixconsole/billing/internal/observability/metrics"
	subdomain "github.com/helixconsole/billing/internal/subscription/domain"
	usagedomain "github.com/helixconsole/billing/internal/usage/domain"
)

type Params struct {
	fx.In

	Log        *zap.Logger
	SubSvc     subdomain.Service
	UsageSvc   usagedomain.Service
	CreditsSvc creditsdomain.Service
	InvoiceSvc invoicedomain.Service
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// Orchestrator fans operations out to the owning service and counts them.
type Orchestrator struct {
	log        *zap.Logger
	subSvc     subdomain.Service
	usageSvc   usagedomain.Service
	creditsSvc creditsdomain.Service
	invoiceSvc invoicedomain.Service
	metrics    *obsmetrics.Metrics
}

func NewOrchestrator(p Params) *Orchestrator {
	return &Orchestrator{
		log:        p.Log.Named("reconcile.orchestrator"),
		subSvc:     p.SubSvc,
		usageSvc:   p.UsageSvc,
		creditsSvc: p.CreditsSvc,
		invoiceSvc: p.InvoiceSvc,
		metrics:    p.ObsMetrics,
	}
}

func (o *Orchestrator) GetSubscriptionInfo(ctx context.Context, orgID snowflake.ID) (*subdomain.Info, error) {
	o.metrics.RecordReconcileOp(ctx, "get_subscription_info")
	return o.subSvc.GetSubscriptionInfo(ctx, orgID)
}

func (o *Orchestrator) CreateCheckoutSession(ctx context.Context, orgID snowflake.ID, productID, opID string) (*subdomain.CheckoutSession, error) {
	o.metrics.RecordReconcileOp(ctx, "create_checkout_session")
	return o.subSvc.CreateCheckoutSession(ctx, orgID, productID, opID)
}

func (o *Orchestrator) ChangePlan(ctx context.Context, orgID snowflake.ID, productID, opID string) (*subdomain.Info, error) {
	o.metrics.RecordReconcileOp(ctx, "change_plan")
	return o.subSvc.ChangePlan(ctx, orgID, productID, opID)
}

func (o *Orchestrator) Cancel(ctx context.Context, orgID snowflake.ID, opID string) (*subdomain.Info, error) {
	o.metrics.RecordReconcileOp(ctx, "cancel")
	return o.subSvc.Cancel(ctx, orgID, opID)
}

func (o *Orchestrator) Reactivate(ctx context.Context, orgID snowflake.ID, opID string) (*subdomain.Info, error) {
	o.metrics.RecordReconcileOp(ctx, "reactivate")
	return o.subSvc.Reactivate(ctx, orgID, opID)
}

func (o *Orchestrator) CancelImmediatelyAndInvoice(ctx context.Context, orgID snowflake.ID, opID string) (*subdomain.CancelNowResult, error) {
	o.metrics.RecordReconcileOp(ctx, "cancel_immediately")
	return o.subSvc.CancelImmediatelyAndInvoice(ctx, orgID, opID)
}

func (o *Orchestrator) ClearPlanSwitchSchedule(ctx context.Context, orgID snowflake.ID, opID string) (*subdomain.Info, error) {
	o.metrics.RecordReconcileOp(ctx, "clear_schedule")
	return o.subSvc.ClearPlanSwitchSchedule(ctx, orgID, opID)
}

func (o *Orchestrator) ApplyPromotionCode(ctx context.Context, orgID snowflake.ID, code, opID string) (*subdomain.Info, error) {
	o.metrics.RecordReconcileOp(ctx, "apply_promotion")
	return o.subSvc.ApplyPromotionCode(ctx, orgID, code, opID)
}

func (o *Orchestrator) GetUsage(ctx context.Context, orgID snowflake.ID) (*usagedomain.Usage, error) {
	o.metrics.RecordReconcileOp(ctx, "get_usage")
	return o.usageSvc.GetUsage(ctx, orgID)
}

func (o *Orchestrator) RecordUsageEvent(ctx context.Context, orgID snowflake.ID, meterCode, paymentEventID string, value float64) error {
	o.metrics.RecordReconcileOp(ctx, "record_usage_event")
	return o.usageSvc.RecordEvent(ctx, orgID, meterCode, paymentEventID, value)
}

func (o *Orchestrator) PurchaseCredits(ctx context.Context, req creditsdomain.PurchaseRequest) (*creditsdomain.PurchaseResult, error) {
	o.metrics.RecordReconcileOp(ctx, "purchase_credits")
	return o.creditsSvc.PurchaseCredits(ctx, req)
}

func (o *Orchestrator) GetCredits(ctx context.Context, orgID snowflake.ID) (int64, error) {
	o.metrics.RecordReconcileOp(ctx, "get_credits")
	return o.creditsSvc.GetCredits(ctx, orgID)
}

func (o *Orchestrator) GetInvoices(ctx context.Context, orgID snowflake.ID, req invoicedomain.InvoicesRequest) (*invoicedomain.InvoicePage, error) {
	o.metrics.RecordReconcileOp(ctx, "get_invoices")
	return o.invoiceSvc.GetInvoices(ctx, orgID, req)
}

func (o *Orchestrator) GetSubscriptionHistory(ctx context.Context, orgID snowflake.ID, limit int) ([]invoicedomain.HistoryItem, error) {
	o.metrics.RecordReconcileOp(ctx, "get_subscription_history")
	return o.invoiceSvc.GetSubscriptionHistory(ctx, orgID, limit)
}

func (o *Orchestrator) ListPaymentMethods(ctx context.Context, orgID snowflake.ID) ([]invoicedomain.PaymentMethod, error) {
	o.metrics.RecordReconcileOp(ctx, "list_payment_methods")
	return o.invoiceSvc.ListPaymentMethods(ctx, orgID)
}

var Module = fx.Module("reconcile",
	fx.Provide(NewOrchestrator),
)
