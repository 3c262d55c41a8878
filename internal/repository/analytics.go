package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/turbotransfer/host/internal/model"
)

type AnalyticsRepository interface {
	Create(ctx context.Context, entry model.AnalyticsEntry) (*model.AnalyticsEntry, error)
	// FindRecent returns up to limit entries, oldest first.
	FindRecent(ctx context.Context, limit int) ([]model.AnalyticsEntry, error)
	Stats(ctx context.Context) (model.AnalyticsStats, error)
	DeleteAll(ctx context.Context) (int64, error)
}

type analyticsRepo struct {
	db *sqlx.DB
}

func NewAnalyticsRepository(db *sqlx.DB) AnalyticsRepository {
	return &analyticsRepo{db: db}
}

func (r *analyticsRepo) Create(ctx context.Context, entry model.AnalyticsEntry) (*model.AnalyticsEntry, error) {
	query := r.db.Rebind(`
		INSERT INTO transfer_history (timestamp, device, filename, size, direction, status)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id
	`)
	err := r.db.GetContext(ctx, &entry.ID, query,
		entry.Timestamp.UTC(), entry.Device, entry.Filename, entry.Size, entry.Direction, entry.Status)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *analyticsRepo) FindRecent(ctx context.Context, limit int) ([]model.AnalyticsEntry, error) {
	var entries []model.AnalyticsEntry
	query := r.db.Rebind(`
		SELECT id, timestamp, device, filename, size, direction, status
		FROM transfer_history
		ORDER BY id DESC
		LIMIT ?
	`)
	if err := r.db.SelectContext(ctx, &entries, query, limit); err != nil {
		return nil, err
	}
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

func (r *analyticsRepo) Stats(ctx context.Context) (model.AnalyticsStats, error) {
	var stats model.AnalyticsStats
	err := r.db.GetContext(ctx, &stats, `
		SELECT
			COALESCE(SUM(CASE WHEN direction = 'sent' AND status = 'success' THEN size ELSE 0 END), 0) AS total_sent,
			COALESCE(SUM(CASE WHEN direction = 'received' AND status = 'success' THEN size ELSE 0 END), 0) AS total_received,
			COUNT(*) AS count
		FROM transfer_history
	`)
	return stats, err
}

func (r *analyticsRepo) DeleteAll(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM transfer_history`)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
