package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignRunning   CampaignStatus = "running"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
	CampaignCancelled CampaignStatus = "cancelled"
	CampaignFailed    CampaignStatus = "failed"
)

// campaignTransitions is the authoritative transition table. Terminal
// statuses have no outgoing edges, which is what makes transitions monotonic.
var campaignTransitions = map[CampaignStatus][]CampaignStatus{
	CampaignDraft:     {CampaignScheduled, CampaignCancelled},
	CampaignScheduled: {CampaignRunning, CampaignCancelled},
	CampaignRunning:   {CampaignPaused, CampaignCompleted, CampaignCancelled, CampaignFailed},
	CampaignPaused:    {CampaignRunning, CampaignCancelled},
}

func (s CampaignStatus) CanTransitionTo(target CampaignStatus) bool {
	for _, allowed := range campaignTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

func (s CampaignStatus) IsTerminal() bool {
	return len(campaignTransitions[s]) == 0
}

// Dispatchable reports whether queue items of a campaign in this status may
// be handed to the transport. Completed is included so operator-republished
// failed items still go out without resurrecting the campaign itself.
// Cancelled and paused items must never reach the transport.
func (s CampaignStatus) Dispatchable() bool {
	return s == CampaignRunning || s == CampaignScheduled || s == CampaignCompleted
}

type Campaign struct {
	ID              int64          `db:"id" json:"id"`
	Name            string         `db:"name" json:"name"`
	Status          CampaignStatus `db:"status" json:"status"`
	Message         string         `db:"message" json:"message"`
	TimeWindowID    *int64         `db:"time_window_id" json:"timeWindowId,omitempty"`
	MinDelaySeconds int            `db:"min_delay_seconds" json:"minDelaySeconds"`
	MaxDelaySeconds int            `db:"max_delay_seconds" json:"maxDelaySeconds"`
	SentCount       int64          `db:"sent_count" json:"sentCount"`
	FailedCount     int64          `db:"failed_count" json:"failedCount"`
	TotalRecipients int64          `db:"total_recipients" json:"totalRecipients"`
	CreatedAt       time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time      `db:"updated_at" json:"updatedAt"`
	CompletedAt     *time.Time     `db:"completed_at" json:"completedAt,omitempty"`
	DeletedAt       *time.Time     `db:"deleted_at" json:"deletedAt,omitempty"`
}

func (c *Campaign) MinDelay() time.Duration {
	return time.Duration(c.MinDelaySeconds) * time.Second
}

func (c *Campaign) MaxDelay() time.Duration {
	return time.Duration(c.MaxDelaySeconds) * time.Second
}

type QueueItemStatus string

const (
	QueuePending   QueueItemStatus = "pending"
	QueueScheduled QueueItemStatus = "scheduled"
	// QueueProcessing marks a row claimed by exactly one processor run.
	// It is transient: every claimed row resolves to sent, failed,
	// cancelled, or is released back to scheduled.
	QueueProcessing QueueItemStatus = "processing"
	QueueSent       QueueItemStatus = "sent"
	QueueFailed     QueueItemStatus = "failed"
	QueueCancelled  QueueItemStatus = "cancelled"
)

// Open reports whether the item still counts against campaign completion.
func (s QueueItemStatus) Open() bool {
	return s == QueuePending || s == QueueScheduled || s == QueueProcessing
}

type QueueItem struct {
	ID                 int64           `db:"id" json:"id"`
	CampaignID         int64           `db:"campaign_id" json:"campaignId"`
	RecipientAddress   string          `db:"recipient_address" json:"recipientAddress"`
	Fields             FieldMap        `db:"fields" json:"fields,omitempty"`
	Status             QueueItemStatus `db:"status" json:"status"`
	ScheduledFor       *time.Time      `db:"scheduled_for" json:"scheduledFor,omitempty"`
	ClaimToken         *string         `db:"claim_token" json:"-"`
	SentAt             *time.Time      `db:"sent_at" json:"sentAt,omitempty"`
	TransportMessageID *string         `db:"transport_message_id" json:"transportMessageId,omitempty"`
	ErrorMessage       *string         `db:"error_message" json:"errorMessage,omitempty"`
	CreatedAt          time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt          time.Time       `db:"updated_at" json:"updatedAt"`
}

// FieldMap holds per-recipient personalization values, stored as JSON text.
type FieldMap map[string]string

func (m FieldMap) Value() (interface{}, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal fields: %w", err)
	}
	return string(data), nil
}

func (m *FieldMap) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*m = nil
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported fields column type %T", src)
	}

	if len(data) == 0 {
		*m = nil
		return nil
	}

	return json.Unmarshal(data, m)
}

// Recipient is one entry of a campaign activation request.
type Recipient struct {
	Address string   `json:"address"`
	Fields  FieldMap `json:"fields,omitempty"`
}

// DispatchResult records the outcome of one transport call for one item.
type DispatchResult struct {
	QueueItemID        int64
	CampaignID         int64
	TransportMessageID string
	Success            bool
	Cancelled          bool
	Error              error
	SentAt             time.Time
}

// DeliveryReceipt mirrors what the receipt cache stores per sent item.
type DeliveryReceipt struct {
	TransportMessageID string    `json:"transportMessageId"`
	SentAt             time.Time `json:"sentAt"`
}

type TransportRequest struct {
	To             string `json:"to"`
	Content        string `json:"content"`
	IdempotencyKey string `json:"idempotencyKey"`
}

type TransportResponse struct {
	Message   string `json:"message"`
	MessageID string `json:"messageId"`
}
