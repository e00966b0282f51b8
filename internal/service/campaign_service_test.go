package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/crmkit/broadcast-service/internal/cache"
	"github.com/crmkit/broadcast-service/internal/domain"
	"github.com/crmkit/broadcast-service/internal/timewindow"
)

type fakeCampaignRepo struct {
	mu        sync.Mutex
	nextID    int64
	campaigns map[int64]*domain.Campaign
}

func newFakeCampaignRepo() *fakeCampaignRepo {
	return &fakeCampaignRepo{nextID: 1, campaigns: make(map[int64]*domain.Campaign)}
}

func (r *fakeCampaignRepo) Create(ctx context.Context, c *domain.Campaign) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c.ID = r.nextID
	r.nextID++
	copied := *c
	r.campaigns[c.ID] = &copied
	return nil
}

func (r *fakeCampaignRepo) GetByID(ctx context.Context, id int64) (*domain.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return nil, nil
	}
	copied := *c
	return &copied, nil
}

func (r *fakeCampaignRepo) List(
	ctx context.Context,
	status *domain.CampaignStatus,
	page, pageSize int,
) ([]domain.Campaign, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Campaign
	for _, c := range r.campaigns {
		if status == nil || c.Status == *status {
			out = append(out, *c)
		}
	}
	return out, int64(len(out)), nil
}

func (r *fakeCampaignRepo) UpdateStatus(
	ctx context.Context,
	id int64,
	from []domain.CampaignStatus,
	to domain.CampaignStatus,
) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return false, nil
	}
	for _, f := range from {
		if c.Status == f {
			c.Status = to
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeCampaignRepo) SetTotalRecipients(ctx context.Context, id int64, total int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.campaigns[id]; ok {
		c.TotalRecipients = total
	}
	return nil
}

func (r *fakeCampaignRepo) SoftDelete(ctx context.Context, id int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok || !c.Status.IsTerminal() {
		return false, nil
	}
	delete(r.campaigns, id)
	return true, nil
}

func (r *fakeCampaignRepo) status(id int64) domain.CampaignStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.campaigns[id].Status
}

type fakeQueueRepo struct {
	mu     sync.Mutex
	nextID int64
	items  map[int64]*domain.QueueItem
}

func newFakeQueueRepo() *fakeQueueRepo {
	return &fakeQueueRepo{nextID: 1, items: make(map[int64]*domain.QueueItem)}
}

func (r *fakeQueueRepo) BulkInsert(ctx context.Context, items []domain.QueueItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range items {
		item := items[i]
		item.ID = r.nextID
		r.nextID++
		r.items[item.ID] = &item
	}
	return nil
}

func (r *fakeQueueRepo) CancelOpen(ctx context.Context, campaignID int64, reason string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, item := range r.items {
		if item.CampaignID == campaignID && item.Status.Open() && item.Status != domain.QueueProcessing {
			item.Status = domain.QueueCancelled
			item.ErrorMessage = &reason
			n++
		}
	}
	return n, nil
}

func (r *fakeQueueRepo) CountOpen(ctx context.Context, campaignID int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, item := range r.items {
		if item.CampaignID == campaignID && item.Status.Open() {
			n++
		}
	}
	return n, nil
}

func (r *fakeQueueRepo) CountByStatus(
	ctx context.Context,
	campaignID int64,
) (map[domain.QueueItemStatus]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[domain.QueueItemStatus]int64)
	for _, item := range r.items {
		if item.CampaignID == campaignID {
			out[item.Status]++
		}
	}
	return out, nil
}

func (r *fakeQueueRepo) GetFailed(ctx context.Context, campaignID int64) ([]domain.QueueItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.QueueItem
	for _, item := range r.items {
		if item.CampaignID == campaignID && item.Status == domain.QueueFailed {
			out = append(out, *item)
		}
	}
	return out, nil
}

func (r *fakeQueueRepo) Reschedule(ctx context.Context, id int64, scheduledFor time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok || item.Status != domain.QueueFailed {
		return fmt.Errorf("queue item %d is not failed", id)
	}
	item.Status = domain.QueueScheduled
	item.ScheduledFor = &scheduledFor
	item.ErrorMessage = nil
	return nil
}

func (r *fakeQueueRepo) itemsFor(campaignID int64) []domain.QueueItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.QueueItem
	for _, item := range r.items {
		if item.CampaignID == campaignID {
			out = append(out, *item)
		}
	}
	return out
}

type fakeWindowRepo struct {
	windows map[int64]*domain.TimeWindow
}

func (r *fakeWindowRepo) GetByID(ctx context.Context, id int64) (*domain.TimeWindow, error) {
	w, ok := r.windows[id]
	if !ok {
		return nil, nil
	}
	return w, nil
}

func newService(
	campaigns *fakeCampaignRepo,
	queue *fakeQueueRepo,
	windows *fakeWindowRepo,
) *CampaignService {
	evaluator := timewindow.NewEvaluator(cache.NewWindowCache(time.Minute, 100))
	estimator := timewindow.NewEstimator(evaluator)
	return NewCampaignService(campaigns, queue, windows, estimator, nil)
}

func recipientList(n int) []domain.Recipient {
	recipients := make([]domain.Recipient, n)
	for i := range recipients {
		recipients[i] = domain.Recipient{
			Address: fmt.Sprintf("+9055500000%02d", i),
			Fields:  domain.FieldMap{"firstName": fmt.Sprintf("User%d", i)},
		}
	}
	return recipients
}

func TestCreateCampaign_DefaultsToDraft(t *testing.T) {
	campaigns := newFakeCampaignRepo()
	svc := newService(campaigns, newFakeQueueRepo(), &fakeWindowRepo{})

	campaign, err := svc.CreateCampaign(context.Background(), CreateCampaignSpec{
		Name:            "welcome",
		Message:         "Hi {firstName}",
		MinDelaySeconds: 2,
		MaxDelaySeconds: 10,
	})
	if err != nil {
		t.Fatalf("CreateCampaign returned error: %v", err)
	}

	if campaign.ID == 0 {
		t.Error("expected campaign ID to be assigned")
	}
	if campaign.Status != domain.CampaignDraft {
		t.Errorf("expected draft status, got %q", campaign.Status)
	}
}

func TestCreateCampaign_RejectsInvalidDelayRange(t *testing.T) {
	svc := newService(newFakeCampaignRepo(), newFakeQueueRepo(), &fakeWindowRepo{})

	_, err := svc.CreateCampaign(context.Background(), CreateCampaignSpec{
		Name:            "bad",
		Message:         "msg",
		MinDelaySeconds: 10,
		MaxDelaySeconds: 2,
	})
	if err == nil {
		t.Fatal("expected error for max < min, got nil")
	}
}

func TestCreateCampaign_RejectsUnknownWindow(t *testing.T) {
	svc := newService(newFakeCampaignRepo(), newFakeQueueRepo(), &fakeWindowRepo{})

	missing := int64(42)
	_, err := svc.CreateCampaign(context.Background(), CreateCampaignSpec{
		Name:         "bad",
		Message:      "msg",
		TimeWindowID: &missing,
	})
	if err == nil {
		t.Fatal("expected error for unknown window, got nil")
	}
}

func TestActivate_ExpandsRecipientsIntoScheduledItems(t *testing.T) {
	campaigns := newFakeCampaignRepo()
	queue := newFakeQueueRepo()
	svc := newService(campaigns, queue, &fakeWindowRepo{})

	campaign, err := svc.CreateCampaign(context.Background(), CreateCampaignSpec{
		Name:            "welcome",
		Message:         "Hi {firstName}",
		MinDelaySeconds: 1,
		MaxDelaySeconds: 3,
	})
	if err != nil {
		t.Fatalf("CreateCampaign returned error: %v", err)
	}

	result, err := svc.Activate(context.Background(), campaign.ID, recipientList(5))
	if err != nil {
		t.Fatalf("Activate returned error: %v", err)
	}

	if result.QueuedItems != 5 {
		t.Errorf("expected 5 queued items, got %d", result.QueuedItems)
	}
	if result.Campaign.Status != domain.CampaignScheduled {
		t.Errorf("expected scheduled status, got %q", result.Campaign.Status)
	}
	if result.Campaign.TotalRecipients != 5 {
		t.Errorf("expected totalRecipients=5, got %d", result.Campaign.TotalRecipients)
	}
	if !result.LastDispatch.After(result.FirstDispatch) {
		t.Errorf("expected dispatch times to advance: first=%v last=%v",
			result.FirstDispatch, result.LastDispatch)
	}

	items := queue.itemsFor(campaign.ID)
	if len(items) != 5 {
		t.Fatalf("expected 5 items stored, got %d", len(items))
	}
	for _, item := range items {
		if item.Status != domain.QueueScheduled {
			t.Errorf("item %d: expected scheduled, got %q", item.ID, item.Status)
		}
		if item.ScheduledFor == nil {
			t.Errorf("item %d: missing scheduled time", item.ID)
		}
	}
}

func TestActivate_RejectsNonDraftCampaign(t *testing.T) {
	campaigns := newFakeCampaignRepo()
	queue := newFakeQueueRepo()
	svc := newService(campaigns, queue, &fakeWindowRepo{})

	campaign, _ := svc.CreateCampaign(context.Background(), CreateCampaignSpec{
		Name: "welcome", Message: "hi", MaxDelaySeconds: 1,
	})
	if _, err := svc.Activate(context.Background(), campaign.ID, recipientList(2)); err != nil {
		t.Fatalf("first Activate returned error: %v", err)
	}

	_, err := svc.Activate(context.Background(), campaign.ID, recipientList(2))
	if err == nil {
		t.Fatal("expected error activating a non-draft campaign, got nil")
	}
	if got := len(queue.itemsFor(campaign.ID)); got != 2 {
		t.Errorf("expected no extra items, got %d total", got)
	}
}

func TestActivate_WindowWithNoUpcomingRangeIsHardStop(t *testing.T) {
	windows := &fakeWindowRepo{windows: map[int64]*domain.TimeWindow{
		7: {ID: 7, Name: "never", Enabled: true}, // no weekday configured
	}}
	campaigns := newFakeCampaignRepo()
	queue := newFakeQueueRepo()
	svc := newService(campaigns, queue, windows)

	windowID := int64(7)
	campaign, err := svc.CreateCampaign(context.Background(), CreateCampaignSpec{
		Name: "blocked", Message: "hi", TimeWindowID: &windowID, MaxDelaySeconds: 1,
	})
	if err != nil {
		t.Fatalf("CreateCampaign returned error: %v", err)
	}

	_, err = svc.Activate(context.Background(), campaign.ID, recipientList(3))
	if err == nil {
		t.Fatal("expected activation to fail, got nil")
	}

	if got := campaigns.status(campaign.ID); got != domain.CampaignDraft {
		t.Errorf("expected campaign to stay in draft, got %q", got)
	}
	if got := len(queue.itemsFor(campaign.ID)); got != 0 {
		t.Errorf("expected no queue items, got %d", got)
	}
}

func TestActivate_RequiresRecipients(t *testing.T) {
	svc := newService(newFakeCampaignRepo(), newFakeQueueRepo(), &fakeWindowRepo{})
	if _, err := svc.Activate(context.Background(), 1, nil); err == nil {
		t.Fatal("expected error for empty recipient list, got nil")
	}
}

func TestCancel_CascadesToOpenItems(t *testing.T) {
	campaigns := newFakeCampaignRepo()
	queue := newFakeQueueRepo()
	svc := newService(campaigns, queue, &fakeWindowRepo{})

	campaign, _ := svc.CreateCampaign(context.Background(), CreateCampaignSpec{
		Name: "to-cancel", Message: "hi", MaxDelaySeconds: 1,
	})
	if _, err := svc.Activate(context.Background(), campaign.ID, recipientList(4)); err != nil {
		t.Fatalf("Activate returned error: %v", err)
	}

	if err := svc.Cancel(context.Background(), campaign.ID); err != nil {
		t.Fatalf("Cancel returned error: %v", err)
	}

	if got := campaigns.status(campaign.ID); got != domain.CampaignCancelled {
		t.Errorf("expected cancelled campaign, got %q", got)
	}

	for _, item := range queue.itemsFor(campaign.ID) {
		if item.Status != domain.QueueCancelled {
			t.Errorf("item %d: expected cancelled, got %q", item.ID, item.Status)
		}
		if item.ErrorMessage == nil || !strings.Contains(*item.ErrorMessage, "cancelled") {
			t.Errorf("item %d: expected cancellation reason, got %v", item.ID, item.ErrorMessage)
		}
	}
}

func TestCancel_RejectsDraftCampaign(t *testing.T) {
	campaigns := newFakeCampaignRepo()
	svc := newService(campaigns, newFakeQueueRepo(), &fakeWindowRepo{})

	campaign, _ := svc.CreateCampaign(context.Background(), CreateCampaignSpec{
		Name: "draft", Message: "hi",
	})

	if err := svc.Cancel(context.Background(), campaign.ID); err == nil {
		t.Fatal("expected error cancelling a draft campaign, got nil")
	}
	if got := campaigns.status(campaign.ID); got != domain.CampaignDraft {
		t.Errorf("expected campaign to stay in draft, got %q", got)
	}
}

func TestPauseResume_RoundTrip(t *testing.T) {
	campaigns := newFakeCampaignRepo()
	svc := newService(campaigns, newFakeQueueRepo(), &fakeWindowRepo{})

	campaign, _ := svc.CreateCampaign(context.Background(), CreateCampaignSpec{
		Name: "pausable", Message: "hi", MaxDelaySeconds: 1,
	})
	if _, err := svc.Activate(context.Background(), campaign.ID, recipientList(1)); err != nil {
		t.Fatalf("Activate returned error: %v", err)
	}

	// Pause only applies to running campaigns.
	if err := svc.Pause(context.Background(), campaign.ID); err == nil {
		t.Fatal("expected error pausing a scheduled campaign, got nil")
	}

	campaigns.mu.Lock()
	campaigns.campaigns[campaign.ID].Status = domain.CampaignRunning
	campaigns.mu.Unlock()

	if err := svc.Pause(context.Background(), campaign.ID); err != nil {
		t.Fatalf("Pause returned error: %v", err)
	}
	if got := campaigns.status(campaign.ID); got != domain.CampaignPaused {
		t.Errorf("expected paused, got %q", got)
	}

	if err := svc.Resume(context.Background(), campaign.ID); err != nil {
		t.Fatalf("Resume returned error: %v", err)
	}
	if got := campaigns.status(campaign.ID); got != domain.CampaignRunning {
		t.Errorf("expected running, got %q", got)
	}
}

func TestRepublish_ReschedulesFailedItems(t *testing.T) {
	campaigns := newFakeCampaignRepo()
	queue := newFakeQueueRepo()
	svc := newService(campaigns, queue, &fakeWindowRepo{})

	campaign, _ := svc.CreateCampaign(context.Background(), CreateCampaignSpec{
		Name: "retryable", Message: "hi", MaxDelaySeconds: 1,
	})
	if _, err := svc.Activate(context.Background(), campaign.ID, recipientList(3)); err != nil {
		t.Fatalf("Activate returned error: %v", err)
	}

	// Mark two items failed as if dispatch had gone wrong.
	queue.mu.Lock()
	var failed int
	reason := "transport error"
	for _, item := range queue.items {
		if failed == 2 {
			break
		}
		item.Status = domain.QueueFailed
		item.ErrorMessage = &reason
		failed++
	}
	queue.mu.Unlock()

	count, err := svc.Republish(context.Background(), campaign.ID)
	if err != nil {
		t.Fatalf("Republish returned error: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 republished items, got %d", count)
	}

	for _, item := range queue.itemsFor(campaign.ID) {
		if item.Status == domain.QueueFailed {
			t.Errorf("item %d: still failed after republish", item.ID)
		}
		if item.Status == domain.QueueScheduled && item.ScheduledFor == nil {
			t.Errorf("item %d: rescheduled without a time", item.ID)
		}
	}
}

func TestRepublish_RejectsCancelledCampaign(t *testing.T) {
	campaigns := newFakeCampaignRepo()
	queue := newFakeQueueRepo()
	svc := newService(campaigns, queue, &fakeWindowRepo{})

	campaign, _ := svc.CreateCampaign(context.Background(), CreateCampaignSpec{
		Name: "dead", Message: "hi", MaxDelaySeconds: 1,
	})
	if _, err := svc.Activate(context.Background(), campaign.ID, recipientList(1)); err != nil {
		t.Fatalf("Activate returned error: %v", err)
	}
	if err := svc.Cancel(context.Background(), campaign.ID); err != nil {
		t.Fatalf("Cancel returned error: %v", err)
	}

	if _, err := svc.Republish(context.Background(), campaign.ID); err == nil {
		t.Fatal("expected error republishing a cancelled campaign, got nil")
	}
}

func TestRepublish_NoFailedItemsIsNoop(t *testing.T) {
	campaigns := newFakeCampaignRepo()
	queue := newFakeQueueRepo()
	svc := newService(campaigns, queue, &fakeWindowRepo{})

	campaign, _ := svc.CreateCampaign(context.Background(), CreateCampaignSpec{
		Name: "clean", Message: "hi", MaxDelaySeconds: 1,
	})
	if _, err := svc.Activate(context.Background(), campaign.ID, recipientList(2)); err != nil {
		t.Fatalf("Activate returned error: %v", err)
	}

	count, err := svc.Republish(context.Background(), campaign.ID)
	if err != nil {
		t.Fatalf("Republish returned error: %v", err)
	}
	if count != 0 {
		t.Errorf("expected 0 republished items, got %d", count)
	}
}

func TestDeleteCampaign_OnlyTerminalStatuses(t *testing.T) {
	campaigns := newFakeCampaignRepo()
	svc := newService(campaigns, newFakeQueueRepo(), &fakeWindowRepo{})

	campaign, _ := svc.CreateCampaign(context.Background(), CreateCampaignSpec{
		Name: "short-lived", Message: "hi",
	})

	if err := svc.DeleteCampaign(context.Background(), campaign.ID); err == nil {
		t.Fatal("expected error deleting a draft campaign, got nil")
	}

	campaigns.mu.Lock()
	campaigns.campaigns[campaign.ID].Status = domain.CampaignCompleted
	campaigns.mu.Unlock()

	if err := svc.DeleteCampaign(context.Background(), campaign.ID); err != nil {
		t.Fatalf("DeleteCampaign returned error: %v", err)
	}

	got, err := svc.GetCampaign(context.Background(), campaign.ID)
	if err != nil {
		t.Fatalf("GetCampaign returned error: %v", err)
	}
	if got != nil {
		t.Error("expected campaign to be gone after delete")
	}
}

func TestGetCampaign_IncludesQueueStats(t *testing.T) {
	campaigns := newFakeCampaignRepo()
	queue := newFakeQueueRepo()
	svc := newService(campaigns, queue, &fakeWindowRepo{})

	campaign, _ := svc.CreateCampaign(context.Background(), CreateCampaignSpec{
		Name: "stats", Message: "hi", MaxDelaySeconds: 1,
	})
	if _, err := svc.Activate(context.Background(), campaign.ID, recipientList(3)); err != nil {
		t.Fatalf("Activate returned error: %v", err)
	}

	details, err := svc.GetCampaign(context.Background(), campaign.ID)
	if err != nil {
		t.Fatalf("GetCampaign returned error: %v", err)
	}
	if details == nil {
		t.Fatal("expected details, got nil")
	}
	if details.Stats[domain.QueueScheduled] != 3 {
		t.Errorf("expected 3 scheduled items in stats, got %d", details.Stats[domain.QueueScheduled])
	}
}
