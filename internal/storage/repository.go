package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"arb-radar/internal/opportunity"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	insertOpportunitySQL = `INSERT INTO opportunity_log (
        kind,
        opportunity_id,
        observed_at,
        generation,
        rank,
        venues,
        subject,
        metric_pct,
        estimated_profit,
        fees,
        net_profit,
        volume_24h,
        published_at,
        payload
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
    )
    ON CONFLICT (kind, opportunity_id, observed_at) DO UPDATE
    SET
        generation   = EXCLUDED.generation,
        rank         = LEAST(opportunity_log.rank, EXCLUDED.rank),
        published_at = EXCLUDED.published_at;`

	opportunityColumns = `kind,
        opportunity_id,
        observed_at,
        generation,
        rank,
        venues,
        subject,
        metric_pct,
        estimated_profit,
        fees,
        net_profit,
        volume_24h,
        published_at,
        payload,
        created_at`

	listOpportunitiesBetweenSQL = `SELECT ` + opportunityColumns + `
    FROM opportunity_log
    WHERE kind = $1
      AND observed_at >= $2
      AND observed_at < $3
    ORDER BY observed_at, rank;`

	listRecentOpportunitiesSQL = `SELECT ` + opportunityColumns + `
    FROM opportunity_log
    WHERE kind = $1
    ORDER BY observed_at DESC, rank
    LIMIT $2;`

	countOpportunitiesSQL = `SELECT COUNT(*) FROM opportunity_log;`

	deleteOpportunitiesBeforeSQL = `DELETE FROM opportunity_log WHERE observed_at < $1;`

	insertAlertSQL = `INSERT INTO alerts (
        kind,
        opportunity_id,
        observed_at,
        subject,
        metric_pct,
        net_profit,
        threshold,
        channels
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    )
    ON CONFLICT (opportunity_id, observed_at) DO UPDATE
    SET net_profit = EXCLUDED.net_profit,
        threshold  = EXCLUDED.threshold,
        channels   = EXCLUDED.channels
    RETURNING id, kind, opportunity_id, observed_at, subject, metric_pct, net_profit, threshold, channels, created_at;`

	listRecentAlertsSQL = `SELECT
        id,
        kind,
        opportunity_id,
        observed_at,
        subject,
        metric_pct,
        net_profit,
        threshold,
        channels,
        created_at
    FROM alerts
    ORDER BY created_at DESC
    LIMIT $1;`

	deleteAlertsBeforeSQL = `DELETE FROM alerts WHERE created_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// OpportunityStore defines operations for the recorded opportunity log.
type OpportunityStore interface {
	RecordOpportunities(ctx context.Context, records []OpportunityRecord) error
	ListOpportunitiesBetween(ctx context.Context, kind opportunity.Kind, from, to time.Time) ([]OpportunityRecord, error)
	ListRecentOpportunities(ctx context.Context, kind opportunity.Kind, limit int) ([]OpportunityRecord, error)
	CountOpportunities(ctx context.Context) (int64, error)
	DeleteOpportunitiesBefore(ctx context.Context, olderThan time.Time) error
}

// AlertStore defines operations for alert auditing.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error)
	DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to the opportunity log and alerts.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// releasing the connection drops the session lock even if the unlock fails
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// RecordOpportunities persists records in one batch. Re-recording the same
// observation only refreshes its generation and best rank.
func (s *Store) RecordOpportunities(ctx context.Context, records []OpportunityRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, rec := range records {
		batch.Queue(insertOpportunitySQL,
			string(rec.Kind),
			rec.OpportunityID,
			rec.ObservedAt,
			rec.Generation,
			rec.Rank,
			rec.Venues,
			rec.Subject,
			rec.MetricPct.String(),
			rec.EstimatedProfit.String(),
			rec.Fees.String(),
			rec.NetProfit.String(),
			rec.Volume24h.String(),
			rec.PublishedAt,
			[]byte(rec.Payload),
		)
	}

	results := pool.SendBatch(ctx, batch)
	defer results.Close()
	for range records {
		if _, execErr := results.Exec(); execErr != nil {
			return fmt.Errorf("record opportunity: %w", execErr)
		}
	}
	return nil
}

// ListOpportunitiesBetween lists recorded observations of kind within a time window.
func (s *Store) ListOpportunitiesBetween(ctx context.Context, kind opportunity.Kind, from, to time.Time) ([]OpportunityRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listOpportunitiesBetweenSQL, string(kind), from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list opportunities between: %w", queryErr)
	}
	defer rows.Close()

	records := make([]OpportunityRecord, 0)
	for rows.Next() {
		rec, scanErr := scanOpportunity(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

// ListRecentOpportunities lists the most recent observations of kind.
func (s *Store) ListRecentOpportunities(ctx context.Context, kind opportunity.Kind, limit int) ([]OpportunityRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentOpportunitiesSQL, string(kind), limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent opportunities: %w", queryErr)
	}
	defer rows.Close()

	records := make([]OpportunityRecord, 0, limit)
	for rows.Next() {
		rec, scanErr := scanOpportunity(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

// CountOpportunities counts recorded observations.
func (s *Store) CountOpportunities(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countOpportunitiesSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count opportunities: %w", scanErr)
	}
	return count, nil
}

// DeleteOpportunitiesBefore enforces the log retention.
func (s *Store) DeleteOpportunitiesBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteOpportunitiesBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete opportunities before: %w", execErr)
	}
	return nil
}

// InsertAlert persists an alert emission.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, err
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		string(alert.Kind),
		alert.OpportunityID,
		alert.ObservedAt,
		alert.Subject,
		alert.MetricPct.String(),
		alert.NetProfit.String(),
		alert.Threshold.String(),
		alert.Channels,
	)

	rec, scanErr := scanAlert(row)
	if scanErr != nil {
		return AlertRecord{}, fmt.Errorf("insert alert: %w", scanErr)
	}
	return rec, nil
}

// ListRecentAlerts lists most recent alerts.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0, limit)
	for rows.Next() {
		rec, scanErr := scanAlert(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// DeleteAlertsBefore deletes historical alerts.
func (s *Store) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteAlertsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete alerts before: %w", execErr)
	}
	return nil
}

func scanAlert(row pgx.Row) (AlertRecord, error) {
	var (
		rec          AlertRecord
		kind         string
		metricStr    string
		netStr       string
		thresholdStr string
	)
	if err := row.Scan(
		&rec.ID,
		&kind,
		&rec.OpportunityID,
		&rec.ObservedAt,
		&rec.Subject,
		&metricStr,
		&netStr,
		&thresholdStr,
		&rec.Channels,
		&rec.CreatedAt,
	); err != nil {
		return AlertRecord{}, err
	}
	rec.Kind = opportunity.Kind(kind)

	var err error
	if rec.MetricPct, err = decimal.NewFromString(metricStr); err != nil {
		return AlertRecord{}, fmt.Errorf("parse metric pct: %w", err)
	}
	if rec.NetProfit, err = decimal.NewFromString(netStr); err != nil {
		return AlertRecord{}, fmt.Errorf("parse net profit: %w", err)
	}
	if rec.Threshold, err = decimal.NewFromString(thresholdStr); err != nil {
		return AlertRecord{}, fmt.Errorf("parse threshold: %w", err)
	}
	return rec, nil
}

func scanOpportunity(rows pgx.Rows) (OpportunityRecord, error) {
	var (
		kind         string
		metricStr    string
		estimatedStr string
		feesStr      string
		netStr       string
		volumeStr    string
		payload      json.RawMessage
		rec          OpportunityRecord
	)

	if err := rows.Scan(
		&kind,
		&rec.OpportunityID,
		&rec.ObservedAt,
		&rec.Generation,
		&rec.Rank,
		&rec.Venues,
		&rec.Subject,
		&metricStr,
		&estimatedStr,
		&feesStr,
		&netStr,
		&volumeStr,
		&rec.PublishedAt,
		&payload,
		&rec.CreatedAt,
	); err != nil {
		return OpportunityRecord{}, err
	}
	rec.Kind = opportunity.Kind(kind)
	rec.Payload = payload

	fields := []struct {
		raw  string
		dst  *decimal.Decimal
		name string
	}{
		{metricStr, &rec.MetricPct, "metric pct"},
		{estimatedStr, &rec.EstimatedProfit, "estimated profit"},
		{feesStr, &rec.Fees, "fees"},
		{netStr, &rec.NetProfit, "net profit"},
		{volumeStr, &rec.Volume24h, "volume"},
	}
	for _, f := range fields {
		value, err := decimal.NewFromString(f.raw)
		if err != nil {
			return OpportunityRecord{}, fmt.Errorf("parse %s: %w", f.name, err)
		}
		*f.dst = value
	}
	return rec, nil
}
