package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	auditdomain "github.com/helixconsole/billing/internal/audit/domain"
	creditsdomain "github.com/helixconsole/billing/internal/credits/domain"
	obsmetrics "github.com/helixconsole/billing/internal/observability/metrics"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	AuditSvc   auditdomain.Service
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	auditSvc   auditdomain.Service
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) creditsdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("credits.service"),
		genID:      p.GenID,
		auditSvc:   p.AuditSvc,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) PurchaseCredits(ctx context.Context, req creditsdomain.PurchaseRequest) (*creditsdomain.PurchaseResult, error) {
	if req.OrgID == 0 {
		return nil, creditsdomain.ErrInvalidOrganization
	}
	eventID := strings.TrimSpace(req.PaymentEventID)
	if eventID == "" {
		return nil, creditsdomain.ErrInvalidPaymentEvent
	}
	if req.Credits <= 0 {
		return nil, creditsdomain.ErrInvalidCreditAmount
	}
	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "usd"
	}

	applied := false
	var before, balance int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.WithContext(ctx).Exec(
			`INSERT INTO credit_grants (
				id, org_id, payment_event_id, credits, amount_cents, currency, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (org_id, payment_event_id) DO NOTHING`,
			s.genID.Generate(),
			req.OrgID,
			eventID,
			req.Credits,
			req.AmountCents,
			currency,
			time.Now().UTC(),
		)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return tx.WithContext(ctx).Raw(
				`SELECT credits FROM organizations WHERE id = ?`, req.OrgID,
			).Scan(&balance).Error
		}

		// RETURNING reports the settled balance even when concurrent
		// purchases race the increment.
		update := tx.WithContext(ctx).Raw(
			`UPDATE organizations SET credits = credits + ?, updated_at = ? WHERE id = ? RETURNING credits`,
			req.Credits,
			time.Now().UTC(),
			req.OrgID,
		).Scan(&balance)
		if update.Error != nil {
			return update.Error
		}
		if update.RowsAffected == 0 {
			return creditsdomain.ErrOrganizationNotFound
		}

		applied = true
		before = balance - req.Credits
		return nil
	})
	if err != nil {
		return nil, err
	}

	if applied {
		s.obsMetrics.RecordCreditPurchase(ctx, req.OrgID.String())
		s.auditSvc.Record(ctx, auditdomain.Entry{
			Action:     "billing.credits.purchased",
			TargetType: "organization",
			TargetID:   req.OrgID.String(),
			Before:     map[string]any{"credits": before},
			After:      map[string]any{"credits": balance},
			Metadata: map[string]any{
				"payment_event_id": eventID,
				"credits":          req.Credits,
			},
		})
	} else {
		s.log.Info("credit purchase replay ignored",
			zap.String("org_id", req.OrgID.String()),
			zap.String("payment_event_id", eventID),
		)
	}

	return &creditsdomain.PurchaseResult{Applied: applied, Balance: balance}, nil
}

func (s *Service) GetCredits(ctx context.Context, orgID snowflake.ID) (int64, error) {
	if orgID == 0 {
		return 0, creditsdomain.ErrInvalidOrganization
	}
	var row struct {
		Credits int64
		Found   int64
	}
	err := s.db.WithContext(ctx).Raw(
		`SELECT credits, 1 AS found FROM organizations WHERE id = ?`, orgID,
	).Scan(&row).Error
	if err != nil {
		return 0, err
	}
	if row.Found == 0 {
		return 0, creditsdomain.ErrOrganizationNotFound
	}
	return row.Credits, nil
}
