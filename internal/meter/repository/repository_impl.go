package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/helixconsole/billing/internal/meter/domain"
	"github.com/helixconsole/billing/pkg/db"
)

type repository struct {
	db   *gorm.DB
	node *snowflake.Node
}

func NewRepository(gdb *gorm.DB, node *snowflake.Node) domain.Repository {
	return &repository{db: gdb, node: node}
}

func (r *repository) WithTx(tx *gorm.DB) domain.Repository {
	return &repository{db: tx, node: r.node}
}

func (r *repository) FindOrCreateMeter(ctx context.Context, orgID snowflake.ID, code, aggregation string) (*domain.Meter, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, domain.ErrInvalidMeterCode
	}
	if aggregation == "" {
		aggregation = domain.AggregationSum
	}
	switch aggregation {
	case domain.AggregationSum, domain.AggregationAvg, domain.AggregationMax,
		domain.AggregationMin, domain.AggregationLast, domain.AggregationCount:
	default:
		return nil, domain.ErrInvalidAggregation
	}

	var meter domain.Meter
	err := r.db.WithContext(ctx).
		First(&meter, "org_id = ? AND code = ?", orgID, code).Error
	if err == nil {
		return &meter, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	meter = domain.Meter{
		ID:          r.node.Generate(),
		OrgID:       orgID,
		Code:        code,
		Aggregation: aggregation,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(&meter).Error; err != nil {
		if db.IsDuplicateKeyErr(err) {
			err = r.db.WithContext(ctx).First(&meter, "org_id = ? AND code = ?", orgID, code).Error
			if err != nil {
				return nil, err
			}
			return &meter, nil
		}
		return nil, err
	}
	return &meter, nil
}

func (r *repository) Append(ctx context.Context, record domain.UsageRecord) (bool, error) {
	if record.Value < 0 {
		return false, domain.ErrInvalidValue
	}
	if record.ID == 0 {
		record.ID = r.node.Generate()
	}
	if record.RecordedAt.IsZero() {
		record.RecordedAt = time.Now().UTC()
	}

	eventID := strings.TrimSpace(record.PaymentEventID)
	if eventID == "" {
		// No payment event to dedupe on; the record carries NULL so
		// un-attributed events never collide with each other.
		err := r.db.WithContext(ctx).Exec(
			`INSERT INTO usage_records (id, org_id, meter_id, meter_code, value, payment_event_id, recorded_at, created_at)
			 VALUES (?, ?, ?, ?, ?, NULL, ?, ?)`,
			record.ID,
			record.OrgID,
			record.MeterID,
			record.MeterCode,
			record.Value,
			record.RecordedAt,
			time.Now().UTC(),
		).Error
		if err != nil {
			return false, err
		}
		return true, nil
	}

	result := r.db.WithContext(ctx).Exec(
		`INSERT INTO usage_records (id, org_id, meter_id, meter_code, value, payment_event_id, recorded_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (org_id, payment_event_id) DO NOTHING`,
		record.ID,
		record.OrgID,
		record.MeterID,
		record.MeterCode,
		record.Value,
		eventID,
		record.RecordedAt,
		time.Now().UTC(),
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) Aggregate(ctx context.Context, orgID snowflake.ID, code string, since, until time.Time) (float64, error) {
	var meter domain.Meter
	err := r.db.WithContext(ctx).First(&meter, "org_id = ? AND code = ?", orgID, code).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}

	if meter.Aggregation == domain.AggregationLast {
		var value float64
		err := r.db.WithContext(ctx).Raw(
			`SELECT COALESCE(value, 0) FROM usage_records
			 WHERE org_id = ? AND meter_id = ? AND recorded_at >= ? AND recorded_at < ?
			 ORDER BY recorded_at DESC LIMIT 1`,
			orgID, meter.ID, since, until,
		).Scan(&value).Error
		return value, err
	}

	var expr string
	switch meter.Aggregation {
	case domain.AggregationAvg:
		expr = "COALESCE(AVG(value), 0)"
	case domain.AggregationMax:
		expr = "COALESCE(MAX(value), 0)"
	case domain.AggregationMin:
		expr = "COALESCE(MIN(value), 0)"
	case domain.AggregationCount:
		expr = "COUNT(*)"
	default:
		expr = "COALESCE(SUM(value), 0)"
	}

	var value float64
	err = r.db.WithContext(ctx).Raw(
		`SELECT `+expr+` FROM usage_records
		 WHERE org_id = ? AND meter_id = ? AND recorded_at >= ? AND recorded_at < ?`,
		orgID, meter.ID, since, until,
	).Scan(&value).Error
	return value, err
}
