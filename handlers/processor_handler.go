package handlers

import (
	"context"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/crmkit/broadcast-service/environments"
	"github.com/crmkit/broadcast-service/internal/scheduler"
	"github.com/crmkit/broadcast-service/pkg/response"
	"github.com/crmkit/broadcast-service/pkg/validator"
)

type ProcessorHandler struct {
	scheduler *scheduler.Scheduler
	ctx       context.Context
	config    *environments.Config
}

type StartProcessorRequest struct {
	IntervalSeconds *int `json:"intervalSeconds,omitempty" validate:"omitempty,min=1"`
}

func NewProcessorHandler(
	sched *scheduler.Scheduler,
	ctx context.Context,
	cfg *environments.Config,
) *ProcessorHandler {
	return &ProcessorHandler{
		scheduler: sched,
		ctx:       ctx,
		config:    cfg,
	}
}

// StartProcessor godoc
// @Summary Start the queue processor trigger
// @Description Starts the periodic batch dispatch loop with an optional interval override
// @Tags processor
// @Accept json
// @Produce json
// @Param x-crm-auth-key header string true "API key for processor"
// @Param request body StartProcessorRequest false "Trigger parameters (optional)"
// @Success 200 {object} response.SuccessResponse
// @Failure 422 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/processor/start [post]
func (h *ProcessorHandler) StartProcessor(c echo.Context) error {
	if h.scheduler.IsRunning() {
		return response.OkWithMessage(c, "Processor is already running", h.scheduler.GetStatus())
	}

	var req StartProcessorRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return validator.HandleValidationError(c, err)
	}

	interval := h.config.Processor.ProcessInterval
	if req.IntervalSeconds != nil {
		interval = time.Duration(*req.IntervalSeconds) * time.Second
	}

	if err := h.scheduler.StartWithParams(
		h.ctx,
		interval,
		h.config.Alert.WebhookURL,
		h.config.Alert.IterationCount,
	); err != nil {
		return response.InternalServerError(c, err)
	}

	return response.OkWithMessage(c, "Processor started successfully", h.scheduler.GetStatus())
}

// StopProcessor godoc
// @Summary Stop the queue processor trigger
// @Description Stops the periodic batch dispatch loop; in-flight batches finish
// @Tags processor
// @Accept json
// @Produce json
// @Param x-crm-auth-key header string true "API key for processor"
// @Success 200 {object} response.SuccessResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/processor/stop [post]
func (h *ProcessorHandler) StopProcessor(c echo.Context) error {
	if !h.scheduler.IsRunning() {
		return response.OkWithMessage(c, "Processor is already stopped", h.scheduler.GetStatus())
	}

	if err := h.scheduler.Stop(); err != nil {
		return response.InternalServerError(c, err)
	}

	return response.OkWithMessage(c, "Processor stopped successfully", h.scheduler.GetStatus())
}

// GetProcessorStatus godoc
// @Summary Get processor trigger status
// @Description Returns the current state and counters of the dispatch loop
// @Tags processor
// @Accept json
// @Produce json
// @Param x-crm-auth-key header string true "API key for processor"
// @Success 200 {object} response.SuccessResponse
// @Router /api/v1/processor/status [get]
func (h *ProcessorHandler) GetProcessorStatus(c echo.Context) error {
	return response.Ok(c, h.scheduler.GetStatus())
}
