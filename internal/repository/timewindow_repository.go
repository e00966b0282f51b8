package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/crmkit/broadcast-service/internal/domain"
)

// TimeWindowRepository handles database operations for time windows.
type TimeWindowRepository struct {
	db *sqlx.DB
}

func NewTimeWindowRepository(db *sqlx.DB) *TimeWindowRepository {
	return &TimeWindowRepository{db: db}
}

func (r *TimeWindowRepository) Create(ctx context.Context, w *domain.TimeWindow) error {
	query := `
		INSERT INTO time_windows (name, enabled, days, created_at, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	`

	result, err := r.db.ExecContext(ctx, query, w.Name, w.Enabled, w.Days)
	if err != nil {
		return fmt.Errorf("failed to create time window: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	w.ID = id
	return nil
}

func (r *TimeWindowRepository) GetByID(ctx context.Context, id int64) (*domain.TimeWindow, error) {
	query := `
		SELECT id, name, enabled, days, created_at, updated_at
		FROM time_windows
		WHERE id = ?
	`

	var w domain.TimeWindow
	if err := r.db.GetContext(ctx, &w, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get time window: %w", err)
	}

	return &w, nil
}

func (r *TimeWindowRepository) Update(ctx context.Context, w *domain.TimeWindow) error {
	query := `
		UPDATE time_windows
		SET name = ?, enabled = ?, days = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query, w.Name, w.Enabled, w.Days, w.ID)
	if err != nil {
		return fmt.Errorf("failed to update time window: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("no time window found with id %d", w.ID)
	}

	return nil
}

func (r *TimeWindowRepository) List(ctx context.Context) ([]domain.TimeWindow, error) {
	query := `
		SELECT id, name, enabled, days, created_at, updated_at
		FROM time_windows
		ORDER BY name ASC
	`

	var windows []domain.TimeWindow
	if err := r.db.SelectContext(ctx, &windows, query); err != nil {
		return nil, fmt.Errorf("failed to list time windows: %w", err)
	}

	return windows, nil
}
