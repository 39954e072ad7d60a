package repository

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"
	"github.com/sifan077/PowerTrack/internal/app/apperr"
	"github.com/sifan077/PowerTrack/internal/app/model"
)

// Querier is the subset of pgxpool.Pool used by the conversion repository.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ConversionRepository is the durable, unique-per-conversion record of
// conversion events.
type ConversionRepository interface {
	EnsureSchema(ctx context.Context) error
	Create(ctx context.Context, event *model.ConversionEvent) error
	GetByID(ctx context.Context, conversionID string) (*model.ConversionEvent, error)
}

type conversionRepository struct {
	db Querier
}

// NewConversionRepository returns a pgx-backed ConversionRepository.
func NewConversionRepository(db Querier) ConversionRepository {
	return &conversionRepository{db: db}
}

const createConversionsTable = `CREATE TABLE IF NOT EXISTS conversions (
	conversion_id      TEXT PRIMARY KEY,
	event_id           TEXT NOT NULL,
	order_id           TEXT,
	campaign_id        TEXT,
	affiliate_id       TEXT,
	value              NUMERIC(14,2) NOT NULL,
	currency           CHAR(3) NOT NULL,
	type               TEXT NOT NULL,
	attributed         BOOLEAN NOT NULL,
	attribution_source TEXT NOT NULL,
	fraud_score        INTEGER NOT NULL,
	fraud_action       TEXT NOT NULL,
	payload            JSONB NOT NULL,
	created_at         TIMESTAMPTZ NOT NULL
)`

const insertConversion = `INSERT INTO conversions (
	conversion_id, event_id, order_id, campaign_id, affiliate_id, value, currency, type,
	attributed, attribution_source, fraud_score, fraud_action, payload, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (conversion_id) DO NOTHING`

const selectConversion = `SELECT payload FROM conversions WHERE conversion_id = $1`

func (r *conversionRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, createConversionsTable); err != nil {
		return eris.Wrap(err, "repository: create conversions table")
	}
	return nil
}

// Create inserts the event. A second insert with the same conversion id
// fails with apperr.ErrDuplicateConversion.
func (r *conversionRepository) Create(ctx context.Context, event *model.ConversionEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return eris.Wrap(err, "repository: encode conversion")
	}

	tag, err := r.db.Exec(ctx, insertConversion,
		event.ConversionID,
		event.EventID,
		nullable(event.OrderID),
		nullable(event.CampaignID),
		nullable(event.AffiliateID),
		event.Value,
		event.Currency,
		string(event.Type),
		event.Attribution.Attributed,
		string(event.Attribution.Source),
		event.Fraud.Score,
		string(event.Fraud.Action),
		payload,
		event.Timestamp,
	)
	if err != nil {
		return eris.Wrapf(err, "repository: insert conversion %s", event.ConversionID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(apperr.ErrDuplicateConversion, "conversion %s", event.ConversionID)
	}
	return nil
}

func (r *conversionRepository) GetByID(ctx context.Context, conversionID string) (*model.ConversionEvent, error) {
	var payload []byte
	if err := r.db.QueryRow(ctx, selectConversion, conversionID).Scan(&payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(apperr.ErrNotFound, "conversion %s", conversionID)
		}
		return nil, eris.Wrapf(err, "repository: get conversion %s", conversionID)
	}

	var event model.ConversionEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, eris.Wrapf(err, "repository: decode conversion %s", conversionID)
	}
	return &event, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
