package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/crmkit/broadcast-service/internal/domain"
)

// CampaignRepository handles database operations for campaigns.
type CampaignRepository struct {
	db *sqlx.DB
}

func NewCampaignRepository(db *sqlx.DB) *CampaignRepository {
	return &CampaignRepository{db: db}
}

const campaignColumns = `id, name, status, message, time_window_id, min_delay_seconds,
		max_delay_seconds, sent_count, failed_count, total_recipients,
		created_at, updated_at, completed_at, deleted_at`

func (r *CampaignRepository) Create(ctx context.Context, c *domain.Campaign) error {
	query := `
		INSERT INTO campaigns
			(name, status, message, time_window_id, min_delay_seconds, max_delay_seconds,
			 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	`

	result, err := r.db.ExecContext(ctx, query,
		c.Name, c.Status, c.Message, c.TimeWindowID, c.MinDelaySeconds, c.MaxDelaySeconds)
	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	c.ID = id
	return nil
}

func (r *CampaignRepository) GetByID(ctx context.Context, id int64) (*domain.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = ? AND deleted_at IS NULL`

	var c domain.Campaign
	if err := r.db.GetContext(ctx, &c, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}

	return &c, nil
}

// GetStatus reads the live status of a campaign. Used by the processor for
// the dispatch-time double check.
func (r *CampaignRepository) GetStatus(ctx context.Context, id int64) (domain.CampaignStatus, error) {
	var status domain.CampaignStatus
	if err := r.db.GetContext(ctx, &status, "SELECT status FROM campaigns WHERE id = ?", id); err != nil {
		return "", fmt.Errorf("failed to get campaign status: %w", err)
	}
	return status, nil
}

func (r *CampaignRepository) List(
	ctx context.Context,
	status *domain.CampaignStatus,
	page, pageSize int,
) ([]domain.Campaign, int64, error) {
	offset := (page - 1) * pageSize
	var totalCount int64
	var campaigns []domain.Campaign

	if status != nil {
		countQuery := "SELECT COUNT(*) FROM campaigns WHERE status = ? AND deleted_at IS NULL"
		if err := r.db.GetContext(ctx, &totalCount, countQuery, *status); err != nil {
			return nil, 0, fmt.Errorf("failed to count campaigns: %w", err)
		}

		query := `SELECT ` + campaignColumns + `
			FROM campaigns
			WHERE status = ? AND deleted_at IS NULL
			ORDER BY created_at DESC
			LIMIT ? OFFSET ?`
		if err := r.db.SelectContext(ctx, &campaigns, query, *status, pageSize, offset); err != nil {
			return nil, 0, fmt.Errorf("failed to list campaigns: %w", err)
		}
	} else {
		countQuery := "SELECT COUNT(*) FROM campaigns WHERE deleted_at IS NULL"
		if err := r.db.GetContext(ctx, &totalCount, countQuery); err != nil {
			return nil, 0, fmt.Errorf("failed to count campaigns: %w", err)
		}

		query := `SELECT ` + campaignColumns + `
			FROM campaigns
			WHERE deleted_at IS NULL
			ORDER BY created_at DESC
			LIMIT ? OFFSET ?`
		if err := r.db.SelectContext(ctx, &campaigns, query, pageSize, offset); err != nil {
			return nil, 0, fmt.Errorf("failed to list campaigns: %w", err)
		}
	}

	return campaigns, totalCount, nil
}

// UpdateStatus performs a guarded transition: the row changes only if its
// current status is one of from. The affected-row count is the source of
// truth, there is no confirming re-fetch.
func (r *CampaignRepository) UpdateStatus(
	ctx context.Context,
	id int64,
	from []domain.CampaignStatus,
	to domain.CampaignStatus,
) (bool, error) {
	query, args, err := sqlx.In(
		"UPDATE campaigns SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND status IN (?)",
		to, id, from,
	)
	if err != nil {
		return false, fmt.Errorf("failed to build status update: %w", err)
	}

	result, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return false, fmt.Errorf("failed to update campaign status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return rows > 0, nil
}

// MarkCompleted promotes a running campaign to completed. Only the processor
// calls this, and only after it observed zero open queue items.
func (r *CampaignRepository) MarkCompleted(ctx context.Context, id int64, completedAt time.Time) (bool, error) {
	query := `
		UPDATE campaigns
		SET status = ?, completed_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ?
	`

	result, err := r.db.ExecContext(ctx, query, domain.CampaignCompleted, completedAt, id, domain.CampaignRunning)
	if err != nil {
		return false, fmt.Errorf("failed to mark campaign completed: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return rows > 0, nil
}

// IncrementSentCount bumps the counter in SQL so concurrent batch workers
// never lose updates to a read-modify-write race.
func (r *CampaignRepository) IncrementSentCount(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE campaigns SET sent_count = sent_count + 1, updated_at = CURRENT_TIMESTAMP WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to increment sent count: %w", err)
	}
	return nil
}

func (r *CampaignRepository) IncrementFailedCount(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE campaigns SET failed_count = failed_count + 1, updated_at = CURRENT_TIMESTAMP WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to increment failed count: %w", err)
	}
	return nil
}

func (r *CampaignRepository) SetTotalRecipients(ctx context.Context, id int64, total int64) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE campaigns SET total_recipients = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?", total, id)
	if err != nil {
		return fmt.Errorf("failed to set total recipients: %w", err)
	}
	return nil
}

// SoftDelete hides a terminal campaign. Rows stay because queue items keep
// referencing them.
func (r *CampaignRepository) SoftDelete(ctx context.Context, id int64) (bool, error) {
	query, args, err := sqlx.In(
		"UPDATE campaigns SET deleted_at = CURRENT_TIMESTAMP WHERE id = ? AND deleted_at IS NULL AND status IN (?)",
		id, []domain.CampaignStatus{domain.CampaignCompleted, domain.CampaignCancelled, domain.CampaignFailed},
	)
	if err != nil {
		return false, fmt.Errorf("failed to build soft delete: %w", err)
	}

	result, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return false, fmt.Errorf("failed to soft delete campaign: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return rows > 0, nil
}
