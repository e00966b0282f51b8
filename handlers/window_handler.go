package handlers

import (
	"fmt"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/crmkit/broadcast-service/internal/domain"
	"github.com/crmkit/broadcast-service/internal/service"
	"github.com/crmkit/broadcast-service/pkg/response"
	"github.com/crmkit/broadcast-service/pkg/validator"
)

type WindowHandler struct {
	service *service.WindowService
}

func NewWindowHandler(service *service.WindowService) *WindowHandler {
	return &WindowHandler{service: service}
}

type DayRangeRequest struct {
	Start string `json:"start" validate:"required,clock"`
	End   string `json:"end" validate:"required,clock"`
}

type WindowRequest struct {
	Name    string                     `json:"name" validate:"required,max=255"`
	Enabled *bool                      `json:"enabled,omitempty"`
	Days    map[string]DayRangeRequest `json:"days" validate:"dive"`
}

type EstimateRequest struct {
	TotalMessages   int    `json:"totalMessages" validate:"required,min=1"`
	MinDelaySeconds int    `json:"minDelaySeconds" validate:"min=0"`
	MaxDelaySeconds int    `json:"maxDelaySeconds" validate:"min=0"`
	TimeWindowID    *int64 `json:"timeWindowId,omitempty"`
	StartTime       string `json:"startTime,omitempty"`
}

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

func (r *WindowRequest) toDomain() (*domain.TimeWindow, error) {
	window := &domain.TimeWindow{
		Name:    r.Name,
		Enabled: true,
	}
	if r.Enabled != nil {
		window.Enabled = *r.Enabled
	}

	for name, dayRange := range r.Days {
		weekday, ok := weekdayNames[name]
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q", name)
		}

		start, err := domain.ParseClock(dayRange.Start)
		if err != nil {
			return nil, err
		}
		end, err := domain.ParseClock(dayRange.End)
		if err != nil {
			return nil, err
		}

		window.Days[int(weekday)] = &domain.DayRange{Start: start, End: end}
	}

	return window, nil
}

// CreateWindow godoc
// @Summary Create a time window
// @Description Creates a weekly availability rule for campaigns
// @Tags windows
// @Accept json
// @Produce json
// @Param x-crm-auth-key header string true "API key for campaigns"
// @Param window body WindowRequest true "Window to create"
// @Success 201 {object} response.SuccessResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/windows [post]
func (h *WindowHandler) CreateWindow(c echo.Context) error {
	var req WindowRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return validator.HandleValidationError(c, err)
	}

	window, err := req.toDomain()
	if err != nil {
		return response.BadRequest(c, err)
	}

	if err := h.service.CreateWindow(c.Request().Context(), window); err != nil {
		return response.BadRequest(c, err)
	}

	return response.Created(c, "Time window created successfully", window)
}

// UpdateWindow godoc
// @Summary Update a time window
// @Description Replaces the weekly schedule of an existing window
// @Tags windows
// @Accept json
// @Produce json
// @Param x-crm-auth-key header string true "API key for campaigns"
// @Param id path int true "Window ID"
// @Param window body WindowRequest true "New window definition"
// @Success 200 {object} response.SuccessResponse
// @Failure 400 {object} response.ErrorResponse
// @Router /api/v1/windows/{id} [put]
func (h *WindowHandler) UpdateWindow(c echo.Context) error {
	id, err := parseWindowID(c)
	if err != nil {
		return response.BadRequest(c, err)
	}

	var req WindowRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return validator.HandleValidationError(c, err)
	}

	window, err := req.toDomain()
	if err != nil {
		return response.BadRequest(c, err)
	}
	window.ID = id

	if err := h.service.UpdateWindow(c.Request().Context(), window); err != nil {
		return response.BadRequest(c, err)
	}

	return response.OkWithMessage(c, "Time window updated successfully", window)
}

// GetWindow godoc
// @Summary Get a time window
// @Tags windows
// @Accept json
// @Produce json
// @Param x-crm-auth-key header string true "API key for campaigns"
// @Param id path int true "Window ID"
// @Success 200 {object} response.SuccessResponse
// @Failure 404 {object} response.ErrorResponse
// @Router /api/v1/windows/{id} [get]
func (h *WindowHandler) GetWindow(c echo.Context) error {
	id, err := parseWindowID(c)
	if err != nil {
		return response.BadRequest(c, err)
	}

	window, err := h.service.GetWindow(c.Request().Context(), id)
	if err != nil {
		return response.InternalServerError(c, err)
	}
	if window == nil {
		return response.NotFound(c, fmt.Sprintf("time window %d not found", id))
	}

	return response.Ok(c, window)
}

// ListWindows godoc
// @Summary List time windows
// @Tags windows
// @Accept json
// @Produce json
// @Param x-crm-auth-key header string true "API key for campaigns"
// @Success 200 {object} response.SuccessResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/windows [get]
func (h *WindowHandler) ListWindows(c echo.Context) error {
	windows, err := h.service.ListWindows(c.Request().Context())
	if err != nil {
		return response.InternalServerError(c, err)
	}

	return response.Ok(c, windows)
}

// CanStartNow godoc
// @Summary Check whether a window is open right now
// @Description Reports whether sending could start immediately, and if not, when
// @Tags windows
// @Accept json
// @Produce json
// @Param x-crm-auth-key header string true "API key for campaigns"
// @Param id path int true "Window ID"
// @Success 200 {object} response.SuccessResponse
// @Failure 400 {object} response.ErrorResponse
// @Router /api/v1/windows/{id}/can-start [get]
func (h *WindowHandler) CanStartNow(c echo.Context) error {
	id, err := parseWindowID(c)
	if err != nil {
		return response.BadRequest(c, err)
	}

	result, err := h.service.CanStartNow(c.Request().Context(), id)
	if err != nil {
		return response.BadRequest(c, err)
	}

	return response.Ok(c, result)
}

// EstimateSchedule godoc
// @Summary Estimate a hypothetical schedule
// @Description Projects duration and end time for a message count against an optional window
// @Tags windows
// @Accept json
// @Produce json
// @Param x-crm-auth-key header string true "API key for campaigns"
// @Param request body EstimateRequest true "Estimate parameters"
// @Success 200 {object} response.SuccessResponse
// @Failure 400 {object} response.ErrorResponse
// @Router /api/v1/windows/estimate [post]
func (h *WindowHandler) EstimateSchedule(c echo.Context) error {
	var req EstimateRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return validator.HandleValidationError(c, err)
	}

	var start time.Time
	if req.StartTime != "" {
		parsed, err := time.Parse(time.RFC3339, req.StartTime)
		if err != nil {
			return response.BadRequest(c, fmt.Errorf("startTime must be RFC3339: %w", err))
		}
		start = parsed
	}

	estimate, err := h.service.EstimateSchedule(
		c.Request().Context(),
		req.TotalMessages,
		time.Duration(req.MinDelaySeconds)*time.Second,
		time.Duration(req.MaxDelaySeconds)*time.Second,
		req.TimeWindowID,
		start,
	)
	if err != nil {
		return response.BadRequest(c, err)
	}

	return response.Ok(c, estimate)
}

func parseWindowID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid window id")
	}
	return id, nil
}
