package processor

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crmkit/broadcast-service/environments"
	"github.com/crmkit/broadcast-service/internal/domain"
	"github.com/crmkit/broadcast-service/internal/repository"
	"github.com/crmkit/broadcast-service/pkg/logger"
)

// Small internal interfaces so the processor can be tested against an
// in-memory store and a stub transport.
type campaignStore interface {
	GetStatus(ctx context.Context, id int64) (domain.CampaignStatus, error)
	UpdateStatus(ctx context.Context, id int64, from []domain.CampaignStatus, to domain.CampaignStatus) (bool, error)
	IncrementSentCount(ctx context.Context, id int64) error
	IncrementFailedCount(ctx context.Context, id int64) error
	MarkCompleted(ctx context.Context, id int64, completedAt time.Time) (bool, error)
}

type queueStore interface {
	ClaimDue(ctx context.Context, limit int, now time.Time, token string) ([]repository.ClaimedItem, error)
	MarkSent(ctx context.Context, id int64, transportMessageID string, sentAt time.Time) error
	MarkFailed(ctx context.Context, id int64, errorMessage string) error
	MarkCancelled(ctx context.Context, id int64, reason string) error
	Release(ctx context.Context, id int64) error
	ReleaseStale(ctx context.Context, olderThan time.Time) (int64, error)
	CountOpen(ctx context.Context, campaignID int64) (int64, error)
}

// staleClaimAge is how long a claim may sit in processing before it is
// presumed orphaned by a run that died mid-flight. Must comfortably exceed
// the transport send timeout so in-flight claims are never stolen.
const staleClaimAge = 10 * time.Minute

type transport interface {
	Send(ctx context.Context, recipientAddress, content, idempotencyKey string) (*domain.TransportResponse, error)
}

type receiptCache interface {
	CacheReceipt(ctx context.Context, campaignID, itemID int64, transportMessageID string, sentAt time.Time) error
}

// Summary is the outcome of one processor invocation.
type Summary struct {
	RunToken           string                  `json:"runToken"`
	Claimed            int                     `json:"claimed"`
	Sent               int                     `json:"sent"`
	Failed             int                     `json:"failed"`
	CancelledItems     int                     `json:"cancelledItems"`
	ReleasedItems      int                     `json:"releasedItems"`
	ReclaimedStale     int                     `json:"reclaimedStale,omitempty"`
	CompletedCampaigns []int64                 `json:"completedCampaigns,omitempty"`
	Results            []domain.DispatchResult `json:"-"`
}

// Processor is the periodically-invoked batch worker. One Run claims due
// queue items, filters out anything whose campaign must not send, dispatches
// the rest through the transport with bounded concurrency, and promotes
// campaigns to completed once their queue drains.
type Processor struct {
	campaigns campaignStore
	queue     queueStore
	transport transport
	receipts  receiptCache // may be nil
	config    environments.ProcessorConfig
	timeout   time.Duration
}

func New(
	campaigns campaignStore,
	queue queueStore,
	transport transport,
	receipts receiptCache,
	config environments.ProcessorConfig,
	sendTimeout time.Duration,
) *Processor {
	if config.BatchSize <= 0 {
		config.BatchSize = 50
	}
	if config.MaxConcurrentSends <= 0 {
		config.MaxConcurrentSends = 1
	}
	if sendTimeout <= 0 {
		sendTimeout = 30 * time.Second
	}
	return &Processor{
		campaigns: campaigns,
		queue:     queue,
		transport: transport,
		receipts:  receipts,
		config:    config,
		timeout:   sendTimeout,
	}
}

// Run executes one batch. A store error during the claim aborts the whole
// invocation (nothing was committed, the next trigger retries); per-item
// failures are recorded on the item and never abort the batch.
func (p *Processor) Run(ctx context.Context) (*Summary, error) {
	token := uuid.NewString()
	summary := &Summary{RunToken: token}

	// Sweep claims orphaned by a previous run that never resolved its items,
	// so they become claimable again. A sweep failure never blocks the batch.
	stale, err := p.queue.ReleaseStale(ctx, time.Now().Add(-staleClaimAge))
	if err != nil {
		logger.Errorf("Failed to release stale queue claims: %v", err)
	} else if stale > 0 {
		logger.Warnf("Released %d stale claims back to the schedule", stale)
		summary.ReclaimedStale = int(stale)
	}

	claimed, err := p.queue.ClaimDue(ctx, p.config.BatchSize, time.Now(), token)
	if err != nil {
		return nil, err
	}

	summary.Claimed = len(claimed)
	if len(claimed) == 0 {
		return summary, nil
	}

	logger.Infof("Claimed %d due queue items (run %s)", len(claimed), token)

	// Safety filter on the claim-time campaign snapshot. Items of a
	// cancelled campaign are cancelled outright; a paused campaign keeps
	// its queue, so those claims are released instead.
	var dispatchable []repository.ClaimedItem
	touched := make(map[int64]struct{})

	for _, item := range claimed {
		touched[item.CampaignID] = struct{}{}

		switch {
		case item.CampaignStatus == domain.CampaignCancelled:
			if err := p.queue.MarkCancelled(ctx, item.ID, "campaign cancelled"); err != nil {
				logger.Errorf("Failed to cancel queue item %d: %v", item.ID, err)
			}
			summary.CancelledItems++

		case item.CampaignStatus == domain.CampaignPaused:
			if err := p.queue.Release(ctx, item.ID); err != nil {
				logger.Errorf("Failed to release queue item %d: %v", item.ID, err)
			}
			summary.ReleasedItems++

		case item.CampaignStatus.Dispatchable():
			dispatchable = append(dispatchable, item)

		default:
			// Draft or failed parent should not own scheduled items;
			// release defensively and let the operator sort it out.
			if err := p.queue.Release(ctx, item.ID); err != nil {
				logger.Errorf("Failed to release queue item %d: %v", item.ID, err)
			}
			summary.ReleasedItems++
		}
	}

	// First dispatch for a campaign moves it from scheduled to running.
	promoted := make(map[int64]struct{})
	for _, item := range dispatchable {
		if _, done := promoted[item.CampaignID]; done {
			continue
		}
		promoted[item.CampaignID] = struct{}{}

		if _, err := p.campaigns.UpdateStatus(ctx, item.CampaignID,
			[]domain.CampaignStatus{domain.CampaignScheduled}, domain.CampaignRunning); err != nil {
			logger.Errorf("Failed to promote campaign %d to running: %v", item.CampaignID, err)
		}
	}

	results := p.dispatchAll(ctx, dispatchable)
	summary.Results = results

	for _, result := range results {
		switch {
		case result.Cancelled:
			summary.CancelledItems++
		case result.Success:
			summary.Sent++
		default:
			summary.Failed++
		}
	}

	// Completion sweep over every campaign this run touched.
	for campaignID := range touched {
		open, err := p.queue.CountOpen(ctx, campaignID)
		if err != nil {
			logger.Errorf("Failed to count open items for campaign %d: %v", campaignID, err)
			continue
		}
		if open > 0 {
			continue
		}

		completed, err := p.campaigns.MarkCompleted(ctx, campaignID, time.Now())
		if err != nil {
			logger.Errorf("Failed to complete campaign %d: %v", campaignID, err)
			continue
		}
		if completed {
			summary.CompletedCampaigns = append(summary.CompletedCampaigns, campaignID)
			logger.Infof("Campaign %d completed", campaignID)
		}
	}

	logger.Infof("Run %s finished: %d sent, %d failed, %d cancelled, %d released",
		token, summary.Sent, summary.Failed, summary.CancelledItems, summary.ReleasedItems)

	return summary, nil
}

// dispatchAll fans the batch out over a bounded worker pool. Items are
// independent rows, so only the shared results slice needs locking; all
// campaign counter updates are atomic on the store side.
func (p *Processor) dispatchAll(ctx context.Context, items []repository.ClaimedItem) []domain.DispatchResult {
	if len(items) == 0 {
		return nil
	}

	results := make([]domain.DispatchResult, 0, len(items))

	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, p.config.MaxConcurrentSends)

	for _, item := range items {
		wg.Add(1)
		sem <- struct{}{}

		go func(item repository.ClaimedItem) {
			defer wg.Done()
			defer func() { <-sem }()

			result := p.dispatchItem(ctx, item)

			mu.Lock()
			results = append(results, result)
			mu.Unlock()
		}(item)
	}

	wg.Wait()
	return results
}

// dispatchItem re-checks the live campaign status immediately before the
// transport call. The claimed batch may be slightly stale: a cancel that
// landed between claim and dispatch must win here, never after the send.
func (p *Processor) dispatchItem(ctx context.Context, item repository.ClaimedItem) domain.DispatchResult {
	result := domain.DispatchResult{
		QueueItemID: item.ID,
		CampaignID:  item.CampaignID,
	}

	status, err := p.campaigns.GetStatus(ctx, item.CampaignID)
	if err != nil {
		// Cannot establish the campaign is still live; put the item back
		// and let the next run retry.
		logger.Errorf("Failed to re-check campaign %d before dispatch: %v", item.CampaignID, err)
		if releaseErr := p.queue.Release(ctx, item.ID); releaseErr != nil {
			logger.Errorf("Failed to release queue item %d: %v", item.ID, releaseErr)
		}
		result.Cancelled = true
		result.Error = err
		return result
	}

	switch {
	case status == domain.CampaignCancelled:
		if err := p.queue.MarkCancelled(ctx, item.ID, "campaign cancelled before dispatch"); err != nil {
			logger.Errorf("Failed to cancel queue item %d: %v", item.ID, err)
		}
		result.Cancelled = true
		return result

	case status == domain.CampaignPaused:
		if err := p.queue.Release(ctx, item.ID); err != nil {
			logger.Errorf("Failed to release queue item %d: %v", item.ID, err)
		}
		result.Cancelled = true
		return result

	case !status.Dispatchable():
		if err := p.queue.Release(ctx, item.ID); err != nil {
			logger.Errorf("Failed to release queue item %d: %v", item.ID, err)
		}
		result.Cancelled = true
		return result
	}

	content := domain.RenderMessage(item.CampaignMessage, item.Fields)

	sendCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.transport.Send(sendCtx, item.RecipientAddress, content, uuid.NewString())
	result.SentAt = time.Now()

	if err != nil {
		logger.Errorf("Failed to send queue item %d: %v", item.ID, err)
		result.Error = err

		if markErr := p.queue.MarkFailed(ctx, item.ID, err.Error()); markErr != nil {
			logger.Errorf("Failed to mark queue item %d as failed: %v", item.ID, markErr)
		}
		if incErr := p.campaigns.IncrementFailedCount(ctx, item.CampaignID); incErr != nil {
			logger.Errorf("Failed to increment failed count for campaign %d: %v", item.CampaignID, incErr)
		}
		return result
	}

	if err := p.queue.MarkSent(ctx, item.ID, resp.MessageID, result.SentAt); err != nil {
		logger.Errorf("Failed to mark queue item %d as sent: %v", item.ID, err)
		result.Error = err
		return result
	}
	if err := p.campaigns.IncrementSentCount(ctx, item.CampaignID); err != nil {
		logger.Errorf("Failed to increment sent count for campaign %d: %v", item.CampaignID, err)
	}

	if p.receipts != nil {
		if err := p.receipts.CacheReceipt(ctx, item.CampaignID, item.ID, resp.MessageID, result.SentAt); err != nil {
			logger.Warnf("Failed to cache receipt for queue item %d: %v", item.ID, err)
		}
	}

	logger.Infof("Sent queue item %d (transport message id: %s)", item.ID, resp.MessageID)

	result.Success = true
	result.TransportMessageID = resp.MessageID

	return result
}
