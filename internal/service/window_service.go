package service

import (
	"context"
	"fmt"
	"time"

	"github.com/crmkit/broadcast-service/internal/domain"
	"github.com/crmkit/broadcast-service/internal/timewindow"
)

type windowStore interface {
	Create(ctx context.Context, w *domain.TimeWindow) error
	GetByID(ctx context.Context, id int64) (*domain.TimeWindow, error)
	Update(ctx context.Context, w *domain.TimeWindow) error
	List(ctx context.Context) ([]domain.TimeWindow, error)
}

// WindowService owns operator CRUD on time windows plus the read-only
// evaluator/estimator queries exposed over the API.
type WindowService struct {
	windows   windowStore
	estimator *timewindow.Estimator
}

func NewWindowService(windows windowStore, estimator *timewindow.Estimator) *WindowService {
	return &WindowService{windows: windows, estimator: estimator}
}

func (s *WindowService) CreateWindow(ctx context.Context, w *domain.TimeWindow) error {
	if err := w.Validate(); err != nil {
		return err
	}
	return s.windows.Create(ctx, w)
}

func (s *WindowService) UpdateWindow(ctx context.Context, w *domain.TimeWindow) error {
	if err := w.Validate(); err != nil {
		return err
	}
	return s.windows.Update(ctx, w)
}

func (s *WindowService) GetWindow(ctx context.Context, id int64) (*domain.TimeWindow, error) {
	return s.windows.GetByID(ctx, id)
}

func (s *WindowService) ListWindows(ctx context.Context) ([]domain.TimeWindow, error) {
	return s.windows.List(ctx)
}

func (s *WindowService) CanStartNow(ctx context.Context, windowID int64) (*timewindow.CanStartResult, error) {
	window, err := s.windows.GetByID(ctx, windowID)
	if err != nil {
		return nil, err
	}
	if window == nil {
		return nil, fmt.Errorf("time window %d not found", windowID)
	}

	result := s.estimator.CanStartNow(window, time.Now())
	return &result, nil
}

// EstimateSchedule runs an ad-hoc projection against an optional stored
// window. A zero start time means "from now".
func (s *WindowService) EstimateSchedule(
	ctx context.Context,
	totalMessages int,
	minDelay, maxDelay time.Duration,
	windowID *int64,
	start time.Time,
) (*timewindow.Estimate, error) {
	if totalMessages <= 0 {
		return nil, fmt.Errorf("totalMessages must be positive")
	}
	if minDelay < 0 || maxDelay < minDelay {
		return nil, fmt.Errorf("delay range [%v, %v] is invalid", minDelay, maxDelay)
	}

	var window *domain.TimeWindow
	if windowID != nil {
		var err error
		window, err = s.windows.GetByID(ctx, *windowID)
		if err != nil {
			return nil, err
		}
		if window == nil {
			return nil, fmt.Errorf("time window %d not found", *windowID)
		}
	}

	if start.IsZero() {
		start = time.Now()
	}

	estimate := s.estimator.Estimate(totalMessages, minDelay, maxDelay, window, start)
	return &estimate, nil
}
