package service

import (
	"context"
	"fmt"
	"time"

	"github.com/crmkit/broadcast-service/internal/domain"
	"github.com/crmkit/broadcast-service/internal/timewindow"
	"github.com/crmkit/broadcast-service/pkg/logger"
)

// Small internal interfaces so we can test without touching real MySQL/Redis.
type campaignRepository interface {
	Create(ctx context.Context, c *domain.Campaign) error
	GetByID(ctx context.Context, id int64) (*domain.Campaign, error)
	List(ctx context.Context, status *domain.CampaignStatus, page, pageSize int) ([]domain.Campaign, int64, error)
	UpdateStatus(ctx context.Context, id int64, from []domain.CampaignStatus, to domain.CampaignStatus) (bool, error)
	SetTotalRecipients(ctx context.Context, id int64, total int64) error
	SoftDelete(ctx context.Context, id int64) (bool, error)
}

type queueRepository interface {
	BulkInsert(ctx context.Context, items []domain.QueueItem) error
	CancelOpen(ctx context.Context, campaignID int64, reason string) (int64, error)
	CountOpen(ctx context.Context, campaignID int64) (int64, error)
	CountByStatus(ctx context.Context, campaignID int64) (map[domain.QueueItemStatus]int64, error)
	GetFailed(ctx context.Context, campaignID int64) ([]domain.QueueItem, error)
	Reschedule(ctx context.Context, id int64, scheduledFor time.Time) error
}

type timeWindowRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.TimeWindow, error)
}

type receiptCache interface {
	GetReceipts(ctx context.Context, campaignID int64) (map[int64]*domain.DeliveryReceipt, error)
}

type CampaignService struct {
	campaigns campaignRepository
	queue     queueRepository
	windows   timeWindowRepository
	estimator *timewindow.Estimator
	receipts  receiptCache
}

func NewCampaignService(
	campaigns campaignRepository,
	queue queueRepository,
	windows timeWindowRepository,
	estimator *timewindow.Estimator,
	receipts receiptCache,
) *CampaignService {
	return &CampaignService{
		campaigns: campaigns,
		queue:     queue,
		windows:   windows,
		estimator: estimator,
		receipts:  receipts,
	}
}

type CreateCampaignSpec struct {
	Name            string
	Message         string
	TimeWindowID    *int64
	MinDelaySeconds int
	MaxDelaySeconds int
}

func (s *CampaignService) CreateCampaign(ctx context.Context, spec CreateCampaignSpec) (*domain.Campaign, error) {
	if spec.MinDelaySeconds < 0 || spec.MaxDelaySeconds < spec.MinDelaySeconds {
		return nil, fmt.Errorf("delay range [%d, %d] is invalid", spec.MinDelaySeconds, spec.MaxDelaySeconds)
	}

	if spec.TimeWindowID != nil {
		window, err := s.windows.GetByID(ctx, *spec.TimeWindowID)
		if err != nil {
			return nil, fmt.Errorf("failed to look up time window: %w", err)
		}
		if window == nil {
			return nil, fmt.Errorf("time window %d not found", *spec.TimeWindowID)
		}
	}

	campaign := &domain.Campaign{
		Name:            spec.Name,
		Status:          domain.CampaignDraft,
		Message:         spec.Message,
		TimeWindowID:    spec.TimeWindowID,
		MinDelaySeconds: spec.MinDelaySeconds,
		MaxDelaySeconds: spec.MaxDelaySeconds,
	}

	if err := s.campaigns.Create(ctx, campaign); err != nil {
		return nil, err
	}

	return campaign, nil
}

// ActivationResult summarizes the queue expansion of one campaign.
type ActivationResult struct {
	Campaign      *domain.Campaign    `json:"campaign"`
	QueuedItems   int                 `json:"queuedItems"`
	FirstDispatch time.Time           `json:"firstDispatch"`
	LastDispatch  time.Time           `json:"lastDispatch"`
	Estimate      timewindow.Estimate `json:"estimate"`
}

// Activate expands a draft campaign into one scheduled queue item per
// recipient. A window with no configured day in the next 7 days is a
// configuration error and a hard stop: the campaign stays in draft.
func (s *CampaignService) Activate(
	ctx context.Context,
	id int64,
	recipients []domain.Recipient,
) (*ActivationResult, error) {
	if len(recipients) == 0 {
		return nil, fmt.Errorf("at least one recipient is required")
	}

	campaign, err := s.campaigns.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if campaign == nil {
		return nil, fmt.Errorf("campaign %d not found", id)
	}
	if campaign.Status != domain.CampaignDraft {
		return nil, fmt.Errorf("campaign cannot be activated from status %q", campaign.Status)
	}

	window, err := s.windowFor(ctx, campaign)
	if err != nil {
		return nil, err
	}

	now := time.Now()

	schedule, err := s.estimator.BuildSchedule(
		len(recipients), campaign.MinDelay(), campaign.MaxDelay(), window, now)
	if err != nil {
		return nil, fmt.Errorf("cannot schedule campaign %d: %w", id, err)
	}

	items := make([]domain.QueueItem, len(recipients))
	for i, recipient := range recipients {
		scheduledFor := schedule[i]
		items[i] = domain.QueueItem{
			CampaignID:       campaign.ID,
			RecipientAddress: recipient.Address,
			Fields:           recipient.Fields,
			Status:           domain.QueueScheduled,
			ScheduledFor:     &scheduledFor,
		}
	}

	if err := s.queue.BulkInsert(ctx, items); err != nil {
		return nil, err
	}

	if err := s.campaigns.SetTotalRecipients(ctx, campaign.ID, int64(len(items))); err != nil {
		return nil, err
	}

	ok, err := s.campaigns.UpdateStatus(ctx, campaign.ID,
		[]domain.CampaignStatus{domain.CampaignDraft}, domain.CampaignScheduled)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("campaign %d changed status during activation", campaign.ID)
	}

	campaign.Status = domain.CampaignScheduled
	campaign.TotalRecipients = int64(len(items))

	logger.Infof("Activated campaign %d with %d recipients (first dispatch %s)",
		campaign.ID, len(items), schedule[0].Format(time.RFC3339))

	return &ActivationResult{
		Campaign:      campaign,
		QueuedItems:   len(items),
		FirstDispatch: schedule[0],
		LastDispatch:  schedule[len(schedule)-1],
		Estimate: s.estimator.Estimate(
			len(recipients), campaign.MinDelay(), campaign.MaxDelay(), window, now),
	}, nil
}

func (s *CampaignService) Pause(ctx context.Context, id int64) error {
	return s.transition(ctx, id,
		[]domain.CampaignStatus{domain.CampaignRunning}, domain.CampaignPaused)
}

func (s *CampaignService) Resume(ctx context.Context, id int64) error {
	return s.transition(ctx, id,
		[]domain.CampaignStatus{domain.CampaignPaused}, domain.CampaignRunning)
}

// Cancel is asynchronous by design: the guarded status flip is the
// cancellation point, the cascade cleans up everything not yet claimed.
// Items already claimed by an in-flight batch are resolved by the
// processor's dispatch-time check.
func (s *CampaignService) Cancel(ctx context.Context, id int64) error {
	err := s.transition(ctx, id, []domain.CampaignStatus{
		domain.CampaignScheduled, domain.CampaignRunning, domain.CampaignPaused,
	}, domain.CampaignCancelled)
	if err != nil {
		return err
	}

	cancelled, err := s.queue.CancelOpen(ctx, id, "campaign cancelled")
	if err != nil {
		return fmt.Errorf("campaign %d cancelled but cascade failed: %w", id, err)
	}

	logger.Infof("Cancelled campaign %d (%d queue items cancelled)", id, cancelled)
	return nil
}

func (s *CampaignService) transition(
	ctx context.Context,
	id int64,
	from []domain.CampaignStatus,
	to domain.CampaignStatus,
) error {
	ok, err := s.campaigns.UpdateStatus(ctx, id, from, to)
	if err != nil {
		return err
	}
	if !ok {
		campaign, getErr := s.campaigns.GetByID(ctx, id)
		if getErr == nil && campaign == nil {
			return fmt.Errorf("campaign %d not found", id)
		}
		if getErr == nil {
			return fmt.Errorf("campaign %d cannot move to %q from %q", id, to, campaign.Status)
		}
		return fmt.Errorf("campaign %d cannot move to %q", id, to)
	}
	return nil
}

// Republish puts every failed item of a campaign back on a fresh schedule.
// Cancelled campaigns stay cancelled; their items are not retryable.
func (s *CampaignService) Republish(ctx context.Context, id int64) (int, error) {
	campaign, err := s.campaigns.GetByID(ctx, id)
	if err != nil {
		return 0, err
	}
	if campaign == nil {
		return 0, fmt.Errorf("campaign %d not found", id)
	}
	if campaign.Status == domain.CampaignCancelled {
		return 0, fmt.Errorf("campaign %d is cancelled; failed items cannot be republished", id)
	}

	failed, err := s.queue.GetFailed(ctx, id)
	if err != nil {
		return 0, err
	}
	if len(failed) == 0 {
		return 0, nil
	}

	window, err := s.windowFor(ctx, campaign)
	if err != nil {
		return 0, err
	}

	schedule, err := s.estimator.BuildSchedule(
		len(failed), campaign.MinDelay(), campaign.MaxDelay(), window, time.Now())
	if err != nil {
		return 0, fmt.Errorf("cannot reschedule failed items: %w", err)
	}

	for i, item := range failed {
		if err := s.queue.Reschedule(ctx, item.ID, schedule[i]); err != nil {
			return i, err
		}
	}

	logger.Infof("Republished %d failed items for campaign %d", len(failed), id)
	return len(failed), nil
}

// CampaignDetails is a campaign joined with its live queue statistics.
type CampaignDetails struct {
	Campaign *domain.Campaign                 `json:"campaign"`
	Stats    map[domain.QueueItemStatus]int64 `json:"stats"`
}

func (s *CampaignService) GetCampaign(ctx context.Context, id int64) (*CampaignDetails, error) {
	campaign, err := s.campaigns.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if campaign == nil {
		return nil, nil
	}

	stats, err := s.queue.CountByStatus(ctx, id)
	if err != nil {
		return nil, err
	}

	return &CampaignDetails{Campaign: campaign, Stats: stats}, nil
}

func (s *CampaignService) ListCampaigns(
	ctx context.Context,
	status *domain.CampaignStatus,
	page, pageSize int,
) ([]domain.Campaign, int64, error) {
	return s.campaigns.List(ctx, status, page, pageSize)
}

// EstimateCampaign projects how long the campaign's open items would take
// starting now. Never used as the dispatch schedule.
func (s *CampaignService) EstimateCampaign(ctx context.Context, id int64) (*timewindow.Estimate, error) {
	campaign, err := s.campaigns.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if campaign == nil {
		return nil, fmt.Errorf("campaign %d not found", id)
	}

	open, err := s.queue.CountOpen(ctx, id)
	if err != nil {
		return nil, err
	}

	window, err := s.windowFor(ctx, campaign)
	if err != nil {
		return nil, err
	}

	estimate := s.estimator.Estimate(
		int(open), campaign.MinDelay(), campaign.MaxDelay(), window, time.Now())
	return &estimate, nil
}

func (s *CampaignService) GetReceipts(ctx context.Context, id int64) (map[int64]*domain.DeliveryReceipt, error) {
	if s.receipts == nil {
		return nil, fmt.Errorf("receipt cache not configured")
	}
	return s.receipts.GetReceipts(ctx, id)
}

func (s *CampaignService) DeleteCampaign(ctx context.Context, id int64) error {
	ok, err := s.campaigns.SoftDelete(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("campaign %d cannot be deleted; only finished campaigns can", id)
	}
	return nil
}

func (s *CampaignService) windowFor(ctx context.Context, campaign *domain.Campaign) (*domain.TimeWindow, error) {
	if campaign.TimeWindowID == nil {
		return nil, nil
	}

	window, err := s.windows.GetByID(ctx, *campaign.TimeWindowID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up time window: %w", err)
	}
	if window == nil {
		return nil, fmt.Errorf("time window %d not found", *campaign.TimeWindowID)
	}

	return window, nil
}
