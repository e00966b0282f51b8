package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/crmkit/broadcast-service/internal/domain"
)

// ClaimedItem is a claimed queue row joined with the parent campaign's
// dispatch configuration at claim time. The campaign status here is a
// snapshot; the processor re-checks the live status before every send.
type ClaimedItem struct {
	domain.QueueItem
	CampaignStatus  domain.CampaignStatus `db:"campaign_status"`
	CampaignMessage string                `db:"campaign_message"`
}

// QueueRepository handles database operations for queue items.
type QueueRepository struct {
	db *sqlx.DB
}

func NewQueueRepository(db *sqlx.DB) *QueueRepository {
	return &QueueRepository{db: db}
}

func (r *QueueRepository) BulkInsert(ctx context.Context, items []domain.QueueItem) error {
	if len(items) == 0 {
		return nil
	}

	query := `
		INSERT INTO queue_items
			(campaign_id, recipient_address, fields, status, scheduled_for, created_at, updated_at)
		VALUES (:campaign_id, :recipient_address, :fields, :status, :scheduled_for,
			CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	`

	if _, err := r.db.NamedExecContext(ctx, query, items); err != nil {
		return fmt.Errorf("failed to insert queue items: %w", err)
	}

	return nil
}

// ClaimDue atomically claims up to limit due items for one processor run.
// The UPDATE flips matching rows to processing and stamps them with a
// run-unique token; the follow-up SELECT fetches exactly the rows carrying
// that token. Two overlapping runs can therefore never claim the same row.
func (r *QueueRepository) ClaimDue(
	ctx context.Context,
	limit int,
	now time.Time,
	token string,
) ([]ClaimedItem, error) {
	claim := `
		UPDATE queue_items
		SET status = ?, claim_token = ?, updated_at = CURRENT_TIMESTAMP
		WHERE status = ? AND scheduled_for <= ?
		ORDER BY scheduled_for ASC
		LIMIT ?
	`

	if _, err := r.db.ExecContext(ctx, claim,
		domain.QueueProcessing, token, domain.QueueScheduled, now, limit); err != nil {
		return nil, fmt.Errorf("failed to claim due queue items: %w", err)
	}

	query := `
		SELECT q.id, q.campaign_id, q.recipient_address, q.fields, q.status,
			q.scheduled_for, q.claim_token, q.sent_at, q.transport_message_id,
			q.error_message, q.created_at, q.updated_at,
			c.status AS campaign_status, c.message AS campaign_message
		FROM queue_items q
		JOIN campaigns c ON c.id = q.campaign_id
		WHERE q.claim_token = ?
		ORDER BY q.scheduled_for ASC
	`

	var items []ClaimedItem
	if err := r.db.SelectContext(ctx, &items, query, token); err != nil {
		return nil, fmt.Errorf("failed to fetch claimed queue items: %w", err)
	}

	return items, nil
}

func (r *QueueRepository) MarkSent(
	ctx context.Context,
	id int64,
	transportMessageID string,
	sentAt time.Time,
) error {
	query := `
		UPDATE queue_items
		SET status = ?, transport_message_id = ?, sent_at = ?, claim_token = NULL,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		domain.QueueSent, transportMessageID, sentAt, id, domain.QueueProcessing)
	if err != nil {
		return fmt.Errorf("failed to mark queue item as sent: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("queue item %d was not in processing state", id)
	}

	return nil
}

func (r *QueueRepository) MarkFailed(ctx context.Context, id int64, errorMessage string) error {
	query := `
		UPDATE queue_items
		SET status = ?, error_message = ?, claim_token = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ?
	`

	if _, err := r.db.ExecContext(ctx, query,
		domain.QueueFailed, errorMessage, id, domain.QueueProcessing); err != nil {
		return fmt.Errorf("failed to mark queue item as failed: %w", err)
	}

	return nil
}

func (r *QueueRepository) MarkCancelled(ctx context.Context, id int64, reason string) error {
	query := `
		UPDATE queue_items
		SET status = ?, error_message = ?, claim_token = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ?
	`

	if _, err := r.db.ExecContext(ctx, query,
		domain.QueueCancelled, reason, id, domain.QueueProcessing); err != nil {
		return fmt.Errorf("failed to cancel queue item: %w", err)
	}

	return nil
}

// Release drops a claim and puts the item back on the schedule, keeping its
// scheduled_for. Used when the parent campaign turned out to be paused.
func (r *QueueRepository) Release(ctx context.Context, id int64) error {
	query := `
		UPDATE queue_items
		SET status = ?, claim_token = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ?
	`

	if _, err := r.db.ExecContext(ctx, query,
		domain.QueueScheduled, id, domain.QueueProcessing); err != nil {
		return fmt.Errorf("failed to release queue item: %w", err)
	}

	return nil
}

// ReleaseStale returns orphaned claims to the schedule. A row can sit in
// processing forever when the run that claimed it died between the claim and
// the item's resolution; ClaimDue only looks at scheduled rows, so nothing
// else would ever pick the row up again.
func (r *QueueRepository) ReleaseStale(ctx context.Context, olderThan time.Time) (int64, error) {
	query := `
		UPDATE queue_items
		SET status = ?, claim_token = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE status = ? AND updated_at < ?
	`

	result, err := r.db.ExecContext(ctx, query, domain.QueueScheduled, domain.QueueProcessing, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to release stale queue claims: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return rows, nil
}

// CancelOpen cascades a campaign cancellation to every item that has not yet
// resolved. Items currently claimed by a running batch are left alone; the
// processor's dispatch-time check cancels those itself.
func (r *QueueRepository) CancelOpen(ctx context.Context, campaignID int64, reason string) (int64, error) {
	query, args, err := sqlx.In(`
		UPDATE queue_items
		SET status = ?, error_message = ?, claim_token = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE campaign_id = ? AND status IN (?)`,
		domain.QueueCancelled, reason, campaignID,
		[]domain.QueueItemStatus{domain.QueuePending, domain.QueueScheduled},
	)
	if err != nil {
		return 0, fmt.Errorf("failed to build cascade cancel: %w", err)
	}

	result, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel open queue items: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return rows, nil
}

// CountOpen counts items that still block campaign completion, including
// in-flight claims.
func (r *QueueRepository) CountOpen(ctx context.Context, campaignID int64) (int64, error) {
	query, args, err := sqlx.In(
		"SELECT COUNT(*) FROM queue_items WHERE campaign_id = ? AND status IN (?)",
		campaignID,
		[]domain.QueueItemStatus{domain.QueuePending, domain.QueueScheduled, domain.QueueProcessing},
	)
	if err != nil {
		return 0, fmt.Errorf("failed to build open count: %w", err)
	}

	var count int64
	if err := r.db.GetContext(ctx, &count, r.db.Rebind(query), args...); err != nil {
		return 0, fmt.Errorf("failed to count open queue items: %w", err)
	}

	return count, nil
}

func (r *QueueRepository) CountByStatus(ctx context.Context, campaignID int64) (map[domain.QueueItemStatus]int64, error) {
	query := `
		SELECT status, COUNT(*) AS count
		FROM queue_items
		WHERE campaign_id = ?
		GROUP BY status
	`

	rows := []struct {
		Status domain.QueueItemStatus `db:"status"`
		Count  int64                  `db:"count"`
	}{}

	if err := r.db.SelectContext(ctx, &rows, query, campaignID); err != nil {
		return nil, fmt.Errorf("failed to count queue items by status: %w", err)
	}

	stats := make(map[domain.QueueItemStatus]int64, len(rows))
	for _, row := range rows {
		stats[row.Status] = row.Count
	}

	return stats, nil
}

func (r *QueueRepository) GetFailed(ctx context.Context, campaignID int64) ([]domain.QueueItem, error) {
	query := `
		SELECT id, campaign_id, recipient_address, fields, status, scheduled_for,
			claim_token, sent_at, transport_message_id, error_message, created_at, updated_at
		FROM queue_items
		WHERE campaign_id = ? AND status = ?
		ORDER BY id ASC
	`

	var items []domain.QueueItem
	if err := r.db.SelectContext(ctx, &items, query, campaignID, domain.QueueFailed); err != nil {
		return nil, fmt.Errorf("failed to get failed queue items: %w", err)
	}

	return items, nil
}

// Reschedule puts a failed item back on the queue with a fresh dispatch
// instant. Only the operator republish flow calls this.
func (r *QueueRepository) Reschedule(ctx context.Context, id int64, scheduledFor time.Time) error {
	query := `
		UPDATE queue_items
		SET status = ?, scheduled_for = ?, error_message = NULL, transport_message_id = NULL,
			sent_at = NULL, claim_token = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		domain.QueueScheduled, scheduledFor, id, domain.QueueFailed)
	if err != nil {
		return fmt.Errorf("failed to reschedule queue item: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("no failed queue item found with id %d", id)
	}

	return nil
}
