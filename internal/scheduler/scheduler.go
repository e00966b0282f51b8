package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/crmkit/broadcast-service/internal/processor"
	"github.com/crmkit/broadcast-service/pkg/logger"
)

// batchProcessor is a minimal internal interface for the trigger. It matches
// the Run method of processor.Processor and lets us unit test the trigger
// with a small fake implementation.
type batchProcessor interface {
	Run(ctx context.Context) (*processor.Summary, error)
}

// Scheduler is the fixed-cadence trigger that invokes the queue processor.
// The cadence is a deployment parameter; overlapping invocations are safe
// because the processor claims items atomically.
type Scheduler struct {
	processor       batchProcessor
	interval        time.Duration
	alertWebhook    string
	alertThreshold  int // consecutive all-fail runs before alerting
	lastAlertSentAt time.Time

	// Internal state
	running  bool
	stopChan chan struct{}
	doneChan chan struct{}
	mu       sync.RWMutex

	// Statistics
	lastRunAt          time.Time
	messagesSent       int64
	runsCount          int64
	lastRunFailedItems []int64

	consecutiveAllFailCount int
}

func NewScheduler(proc batchProcessor, interval time.Duration) *Scheduler {
	return &Scheduler{
		processor: proc,
		interval:  interval,
		running:   false,
	}
}

func (s *Scheduler) StartWithParams(
	ctx context.Context,
	interval time.Duration,
	alertWebhook string,
	alertThreshold int,
) error {
	if interval <= 0 {
		interval = 30 * time.Second
	}

	s.mu.Lock()
	s.interval = interval
	s.alertWebhook = alertWebhook
	s.alertThreshold = alertThreshold
	s.consecutiveAllFailCount = 0
	s.mu.Unlock()

	return s.Start(ctx)
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()

	if s.running {
		s.mu.Unlock()
		logger.Warnf("Processor trigger is already running")
		return nil
	}

	s.running = true
	s.stopChan = make(chan struct{})
	s.doneChan = make(chan struct{})
	s.mu.Unlock()

	logger.Infof("Starting processor trigger with interval: %v", s.interval)

	go s.run(ctx)

	return nil
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneChan)

	s.processBatch(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	logger.Infof("Processor trigger running. Next invocation in %v", s.interval)

	for {
		select {
		case <-ticker.C:
			s.processBatch(ctx)
			logger.Debugf("Next invocation in %v", s.interval)

		case <-s.stopChan:
			logger.Warnf("Processor trigger received stop signal")
			return

		case <-ctx.Done():
			logger.Warnf("Processor trigger context cancelled")
			return
		}
	}
}

func (s *Scheduler) processBatch(ctx context.Context) {
	s.mu.Lock()
	s.lastRunAt = time.Now()
	s.runsCount++
	runNumber := s.runsCount
	alertWebhook := s.alertWebhook
	alertThreshold := s.alertThreshold
	s.mu.Unlock()

	logger.Infof("[Run #%d] Starting batch processing at %s", runNumber, s.lastRunAt.Format(time.RFC3339))

	summary, err := s.processor.Run(ctx)
	if err != nil {
		// Nothing was claimed; the whole batch retries on the next tick.
		logger.Errorf("[Run #%d] Batch invocation failed: %v", runNumber, err)
		return
	}

	if summary.Claimed == 0 {
		logger.Debugf("[Run #%d] No due queue items", runNumber)
		return
	}

	dispatched := summary.Sent + summary.Failed
	allFailed := dispatched > 0 && summary.Sent == 0

	// Surface the run's failed items so the status endpoint can point an
	// operator at the exact queue rows to inspect or republish.
	var failedItems []int64
	for _, result := range summary.Results {
		if !result.Success && !result.Cancelled {
			failedItems = append(failedItems, result.QueueItemID)
			logger.Warnf("[Run #%d] Dispatch of queue item %d failed: %v",
				runNumber, result.QueueItemID, result.Error)
		}
	}

	s.mu.Lock()
	s.messagesSent += int64(summary.Sent)
	s.lastRunFailedItems = failedItems

	if allFailed {
		s.consecutiveAllFailCount++
		logger.Warnf("[Run #%d] All %d dispatches failed (consecutive count: %d/%d)",
			runNumber, dispatched, s.consecutiveAllFailCount, alertThreshold)

		if s.consecutiveAllFailCount >= alertThreshold && alertThreshold > 0 && alertWebhook != "" {
			go s.sendAlert(alertWebhook, runNumber, s.consecutiveAllFailCount, dispatched)
		}
	} else {
		if s.consecutiveAllFailCount > 0 {
			logger.Debugf(
				"[Run #%d] Resetting consecutive failure count (was: %d)",
				runNumber,
				s.consecutiveAllFailCount,
			)
		}
		s.consecutiveAllFailCount = 0
	}
	s.mu.Unlock()

	logger.Infof("[Run #%d] Claimed %d items: %d sent, %d failed, %d cancelled, %d campaigns completed",
		runNumber, summary.Claimed, summary.Sent, summary.Failed,
		summary.CancelledItems, len(summary.CompletedCampaigns))
}

func (s *Scheduler) Stop() error {
	s.mu.Lock()

	if !s.running {
		s.mu.Unlock()
		logger.Warnf("Processor trigger is not running")
		return nil
	}

	s.running = false
	stopChan := s.stopChan
	doneChan := s.doneChan
	s.mu.Unlock()

	// Send stop signal
	close(stopChan)

	// Wait for goroutine to finish
	<-doneChan

	logger.Infof("Processor trigger stopped")
	return nil
}

func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Scheduler) GetStatus() SchedulerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := SchedulerStatus{
		Running:                 s.running,
		LastRunAt:               s.lastRunAt,
		MessagesSent:            s.messagesSent,
		RunsCount:               s.runsCount,
		Interval:                s.interval,
		ConsecutiveAllFailCount: s.consecutiveAllFailCount,
		LastAlertSentAt:         s.lastAlertSentAt,
		LastRunFailedItems:      append([]int64(nil), s.lastRunFailedItems...),
	}

	if s.running && !s.lastRunAt.IsZero() {
		status.NextRunAt = s.lastRunAt.Add(s.interval)
	}

	return status
}

func (s *Scheduler) sendAlert(webhookURL string, runNumber int64, consecutiveFailures, dispatched int) {
	alertPayload := map[string]any{
		"alert":               "consecutive_all_fail",
		"runNumber":           runNumber,
		"consecutiveFailures": consecutiveFailures,
		"dispatchesInBatch":   dispatched,
		"timestamp":           time.Now().Format(time.RFC3339),
		"message": fmt.Sprintf(
			"All %d dispatches failed for %d consecutive runs",
			dispatched,
			consecutiveFailures,
		),
	}

	jsonData, err := json.Marshal(alertPayload)
	if err != nil {
		logger.Errorf("Failed to marshal alert payload: %v", err)
		return
	}

	resp, err := http.Post(webhookURL, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		logger.Errorf("Failed to send alert to webhook: %v", err)
		return
	}

	defer func() {
		if err := resp.Body.Close(); err != nil {
			logger.Warnf("Failed to close alert webhook response body: %v", err)
		}
	}()

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNoContent {
		s.mu.Lock()
		s.lastAlertSentAt = time.Now()
		s.mu.Unlock()
		logger.Infof("Alert sent successfully to %s (consecutive failures: %d)", webhookURL, consecutiveFailures)
	} else {
		logger.Warnf("Alert webhook returned status %d", resp.StatusCode)
	}
}

type SchedulerStatus struct {
	Running                 bool          `json:"running"`
	LastRunAt               time.Time     `json:"lastRunAt,omitempty"`
	NextRunAt               time.Time     `json:"nextRunAt,omitempty"`
	MessagesSent            int64         `json:"messagesSent"`
	RunsCount               int64         `json:"runsCount"`
	Interval                time.Duration `json:"interval"`
	ConsecutiveAllFailCount int           `json:"consecutiveAllFailCount"`
	LastAlertSentAt         time.Time     `json:"lastAlertSentAt,omitempty"`
	LastRunFailedItems      []int64       `json:"lastRunFailedItems,omitempty"`
}
