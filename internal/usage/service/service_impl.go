package service

import (
	"context"
	"math"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/helixconsole/billing/internal/billingcycle"
	"github.com/helixconsole/billing/internal/clock"
	meterdomain "github.com/helixconsole/billing/internal/meter/domain"
	obsmetrics "github.com/helixconsole/billing/internal/observability/metrics"
	orgdomain "github.com/helixconsole/billing/internal/organization/domain"
	processordomain "github.com/helixconsole/billing/internal/processor/domain"
	usagedomain "github.com/helixconsole/billing/internal/usage/domain"
)

type ServiceParam struct {
	fx.In

	Log       *zap.Logger
	Clock     clock.Clock
	OrgRepo   orgdomain.Repository
	MeterRepo meterdomain.Repository
	Processor processordomain.API
	Metrics   *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	log       *zap.Logger
	clock     clock.Clock
	orgrepo   orgdomain.Repository
	meterrepo meterdomain.Repository
	processor processordomain.API
	metrics   *obsmetrics.Metrics
}

func NewService(p ServiceParam) usagedomain.Service {
	return &Service{
		log:       p.Log.Named("usage.service"),
		clock:     p.Clock,
		orgrepo:   p.OrgRepo,
		meterrepo: p.MeterRepo,
		processor: p.Processor,
		metrics:   p.Metrics,
	}
}

func (s *Service) GetUsage(ctx context.Context, orgID snowflake.ID) (*usagedomain.Usage, error) {
	org, err := s.orgrepo.FindByID(ctx, orgID)
	if err != nil {
		return nil, err
	}

	cfg := org.CloudConfig
	if !cfg.Manual() && cfg.ProcessorCustomerID != "" && cfg.ProcessorSubscriptionID != "" {
		preview, err := s.processor.UsagePreview(ctx, orgID.String(), cfg.ProcessorCustomerID, cfg.ProcessorSubscriptionID)
		if err == nil {
			return &usagedomain.Usage{
				Count:       preview.UsageCount,
				Type:        preview.UsageType,
				PeriodStart: processordomain.Time(preview.PeriodStart),
				PeriodEnd:   processordomain.Time(preview.PeriodEnd),
				Source:      usagedomain.SourceProcessor,
			}, nil
		}
		s.log.Warn("usage preview failed, falling back to local meters",
			zap.String("org_id", orgID.String()),
			zap.String("kind", string(processordomain.KindOf(err))),
			zap.Error(err),
		)
		s.metrics.RecordUsageFallback(ctx, orgID.String())
	}

	return s.localUsage(ctx, org)
}

func (s *Service) localUsage(ctx context.Context, org *orgdomain.Organization) (*usagedomain.Usage, error) {
	now := s.clock.Now()
	start := billingcycle.Start(now, org.CloudConfig.BillingAnchorDay, org.CreatedAt)
	end := billingcycle.End(now, org.CloudConfig.BillingAnchorDay, org.CreatedAt)

	value, err := s.meterrepo.Aggregate(ctx, org.ID, usagedomain.DefaultMeterCode, start, end)
	if err != nil {
		return nil, err
	}

	return &usagedomain.Usage{
		Count:       int64(math.Round(value)),
		Type:        usagedomain.DefaultMeterCode,
		PeriodStart: start,
		PeriodEnd:   end,
		Source:      usagedomain.SourceLocal,
	}, nil
}

func (s *Service) RecordEvent(ctx context.Context, orgID snowflake.ID, meterCode, paymentEventID string, value float64) error {
	if meterCode == "" {
		meterCode = usagedomain.DefaultMeterCode
	}
	meter, err := s.meterrepo.FindOrCreateMeter(ctx, orgID, meterCode, meterdomain.AggregationSum)
	if err != nil {
		return err
	}

	inserted, err := s.meterrepo.Append(ctx, meterdomain.UsageRecord{
		OrgID:          orgID,
		MeterID:        meter.ID,
		MeterCode:      meter.Code,
		Value:          value,
		PaymentEventID: paymentEventID,
		RecordedAt:     s.clock.Now(),
	})
	if err != nil {
		return err
	}
	if !inserted {
		s.log.Debug("duplicate usage event dropped",
			zap.String("org_id", orgID.String()),
			zap.String("payment_event_id", paymentEventID),
		)
	}
	return nil
}
