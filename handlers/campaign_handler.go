package handlers

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/crmkit/broadcast-service/internal/domain"
	"github.com/crmkit/broadcast-service/internal/service"
	"github.com/crmkit/broadcast-service/internal/timewindow"
	"github.com/crmkit/broadcast-service/pkg/response"
	"github.com/crmkit/broadcast-service/pkg/validator"
)

type CampaignHandler struct {
	service *service.CampaignService
}

func NewCampaignHandler(service *service.CampaignService) *CampaignHandler {
	return &CampaignHandler{service: service}
}

type CreateCampaignRequest struct {
	Name            string `json:"name" validate:"required,max=255"`
	Message         string `json:"message" validate:"required,max=2000"`
	TimeWindowID    *int64 `json:"timeWindowId,omitempty"`
	MinDelaySeconds int    `json:"minDelaySeconds" validate:"min=0"`
	MaxDelaySeconds int    `json:"maxDelaySeconds" validate:"min=0"`
}

type RecipientRequest struct {
	Address string            `json:"address" validate:"required,max=255"`
	Fields  map[string]string `json:"fields,omitempty"`
}

type ActivateCampaignRequest struct {
	Recipients []RecipientRequest `json:"recipients" validate:"required,min=1,dive"`
}

// CreateCampaign godoc
// @Summary Create a new campaign
// @Description Creates a campaign in draft status
// @Tags campaigns
// @Accept json
// @Produce json
// @Param x-crm-auth-key header string true "API key for campaigns"
// @Param campaign body CreateCampaignRequest true "Campaign to create"
// @Success 201 {object} response.SuccessResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/campaigns [post]
func (h *CampaignHandler) CreateCampaign(c echo.Context) error {
	var req CreateCampaignRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return validator.HandleValidationError(c, err)
	}

	campaign, err := h.service.CreateCampaign(c.Request().Context(), service.CreateCampaignSpec{
		Name:            req.Name,
		Message:         req.Message,
		TimeWindowID:    req.TimeWindowID,
		MinDelaySeconds: req.MinDelaySeconds,
		MaxDelaySeconds: req.MaxDelaySeconds,
	})
	if err != nil {
		return response.BadRequest(c, err)
	}

	return response.Created(c, "Campaign created successfully", campaign)
}

// ListCampaigns godoc
// @Summary List campaigns
// @Description Retrieves a paginated list of campaigns with optional status filter
// @Tags campaigns
// @Accept json
// @Produce json
// @Param x-crm-auth-key header string true "API key for campaigns"
// @Param page query int false "Page number (default: 1)"
// @Param pageSize query int false "Page size (default: 20, max: 100)"
// @Param status query string false "Filter by status (draft, scheduled, running, paused, completed, cancelled, failed)"
// @Success 200 {object} response.PaginatedResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/campaigns [get]
func (h *CampaignHandler) ListCampaigns(c echo.Context) error {
	page, pageSize, err := parsePaginationParams(c)
	if err != nil {
		return response.BadRequest(c, err)
	}

	statusStr := c.QueryParam("status")

	// Convert status string to pointer (optional filter).
	var status *domain.CampaignStatus
	if statusStr != "" {
		parsedStatus := domain.CampaignStatus(statusStr)
		status = &parsedStatus
	}

	campaigns, totalCount, err := h.service.ListCampaigns(c.Request().Context(), status, page, pageSize)
	if err != nil {
		return response.InternalServerError(c, err)
	}

	return response.Paginated(c, campaigns, page, pageSize, totalCount)
}

// GetCampaign godoc
// @Summary Get a campaign
// @Description Returns a campaign with its live queue statistics
// @Tags campaigns
// @Accept json
// @Produce json
// @Param x-crm-auth-key header string true "API key for campaigns"
// @Param id path int true "Campaign ID"
// @Success 200 {object} response.SuccessResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 404 {object} response.ErrorResponse
// @Router /api/v1/campaigns/{id} [get]
func (h *CampaignHandler) GetCampaign(c echo.Context) error {
	id, err := parseCampaignID(c)
	if err != nil {
		return response.BadRequest(c, err)
	}

	details, err := h.service.GetCampaign(c.Request().Context(), id)
	if err != nil {
		return response.InternalServerError(c, err)
	}
	if details == nil {
		return response.NotFound(c, fmt.Sprintf("campaign %d not found", id))
	}

	return response.Ok(c, details)
}

// ActivateCampaign godoc
// @Summary Activate a campaign
// @Description Expands a draft campaign into scheduled queue items, one per recipient
// @Tags campaigns
// @Accept json
// @Produce json
// @Param x-crm-auth-key header string true "API key for campaigns"
// @Param id path int true "Campaign ID"
// @Param request body ActivateCampaignRequest true "Recipient list"
// @Success 200 {object} response.SuccessResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 422 {object} response.ErrorResponse
// @Router /api/v1/campaigns/{id}/activate [post]
func (h *CampaignHandler) ActivateCampaign(c echo.Context) error {
	id, err := parseCampaignID(c)
	if err != nil {
		return response.BadRequest(c, err)
	}

	var req ActivateCampaignRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return validator.HandleValidationError(c, err)
	}

	recipients := make([]domain.Recipient, len(req.Recipients))
	for i, r := range req.Recipients {
		recipients[i] = domain.Recipient{
			Address: r.Address,
			Fields:  domain.FieldMap(r.Fields),
		}
	}

	result, err := h.service.Activate(c.Request().Context(), id, recipients)
	if err != nil {
		// A window with no upcoming open range is a configuration error on
		// an otherwise well-formed request.
		if errors.Is(err, timewindow.ErrNoUpcomingWindow) {
			return response.UnprocessableEntity(c, err)
		}
		return response.BadRequest(c, err)
	}

	return response.OkWithMessage(c, "Campaign activated successfully", result)
}

// PauseCampaign godoc
// @Summary Pause a running campaign
// @Description Stops new dispatches; in-flight sends finish normally
// @Tags campaigns
// @Accept json
// @Produce json
// @Param x-crm-auth-key header string true "API key for campaigns"
// @Param id path int true "Campaign ID"
// @Success 200 {object} response.SuccessResponse
// @Failure 400 {object} response.ErrorResponse
// @Router /api/v1/campaigns/{id}/pause [post]
func (h *CampaignHandler) PauseCampaign(c echo.Context) error {
	id, err := parseCampaignID(c)
	if err != nil {
		return response.BadRequest(c, err)
	}

	if err := h.service.Pause(c.Request().Context(), id); err != nil {
		return response.BadRequest(c, err)
	}

	return response.OkWithMessage(c, "Campaign paused", nil)
}

// ResumeCampaign godoc
// @Summary Resume a paused campaign
// @Description Puts a paused campaign back into running status
// @Tags campaigns
// @Accept json
// @Produce json
// @Param x-crm-auth-key header string true "API key for campaigns"
// @Param id path int true "Campaign ID"
// @Success 200 {object} response.SuccessResponse
// @Failure 400 {object} response.ErrorResponse
// @Router /api/v1/campaigns/{id}/resume [post]
func (h *CampaignHandler) ResumeCampaign(c echo.Context) error {
	id, err := parseCampaignID(c)
	if err != nil {
		return response.BadRequest(c, err)
	}

	if err := h.service.Resume(c.Request().Context(), id); err != nil {
		return response.BadRequest(c, err)
	}

	return response.OkWithMessage(c, "Campaign resumed", nil)
}

// CancelCampaign godoc
// @Summary Cancel a campaign
// @Description Cancels the campaign and all of its open queue items
// @Tags campaigns
// @Accept json
// @Produce json
// @Param x-crm-auth-key header string true "API key for campaigns"
// @Param id path int true "Campaign ID"
// @Success 200 {object} response.SuccessResponse
// @Failure 400 {object} response.ErrorResponse
// @Router /api/v1/campaigns/{id}/cancel [post]
func (h *CampaignHandler) CancelCampaign(c echo.Context) error {
	id, err := parseCampaignID(c)
	if err != nil {
		return response.BadRequest(c, err)
	}

	if err := h.service.Cancel(c.Request().Context(), id); err != nil {
		return response.BadRequest(c, err)
	}

	return response.OkWithMessage(c, "Campaign cancelled", nil)
}

// RepublishFailedItems godoc
// @Summary Republish failed queue items
// @Description Puts every failed item of a campaign back on a fresh schedule
// @Tags campaigns
// @Accept json
// @Produce json
// @Param x-crm-auth-key header string true "API key for campaigns"
// @Param id path int true "Campaign ID"
// @Success 200 {object} response.SuccessResponse
// @Failure 400 {object} response.ErrorResponse
// @Router /api/v1/campaigns/{id}/republish [post]
func (h *CampaignHandler) RepublishFailedItems(c echo.Context) error {
	id, err := parseCampaignID(c)
	if err != nil {
		return response.BadRequest(c, err)
	}

	count, err := h.service.Republish(c.Request().Context(), id)
	if err != nil {
		return response.BadRequest(c, err)
	}

	return response.Ok(c, map[string]any{
		"republished": count,
	})
}

// EstimateCampaign godoc
// @Summary Estimate campaign duration
// @Description Projects how long the campaign's open items would take starting now
// @Tags campaigns
// @Accept json
// @Produce json
// @Param x-crm-auth-key header string true "API key for campaigns"
// @Param id path int true "Campaign ID"
// @Success 200 {object} response.SuccessResponse
// @Failure 400 {object} response.ErrorResponse
// @Router /api/v1/campaigns/{id}/estimate [get]
func (h *CampaignHandler) EstimateCampaign(c echo.Context) error {
	id, err := parseCampaignID(c)
	if err != nil {
		return response.BadRequest(c, err)
	}

	estimate, err := h.service.EstimateCampaign(c.Request().Context(), id)
	if err != nil {
		return response.BadRequest(c, err)
	}

	return response.Ok(c, estimate)
}

// GetCampaignReceipts godoc
// @Summary Get cached delivery receipts
// @Description Returns the delivery receipts cached in Redis for a campaign
// @Tags campaigns
// @Accept json
// @Produce json
// @Param x-crm-auth-key header string true "API key for campaigns"
// @Param id path int true "Campaign ID"
// @Success 200 {object} response.SuccessResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/campaigns/{id}/receipts [get]
func (h *CampaignHandler) GetCampaignReceipts(c echo.Context) error {
	id, err := parseCampaignID(c)
	if err != nil {
		return response.BadRequest(c, err)
	}

	receipts, err := h.service.GetReceipts(c.Request().Context(), id)
	if err != nil {
		return response.InternalServerError(c, err)
	}

	return response.Ok(c, receipts)
}

// DeleteCampaign godoc
// @Summary Delete a finished campaign
// @Description Soft-deletes a campaign that has reached a terminal status
// @Tags campaigns
// @Accept json
// @Produce json
// @Param x-crm-auth-key header string true "API key for campaigns"
// @Param id path int true "Campaign ID"
// @Success 204
// @Failure 400 {object} response.ErrorResponse
// @Router /api/v1/campaigns/{id} [delete]
func (h *CampaignHandler) DeleteCampaign(c echo.Context) error {
	id, err := parseCampaignID(c)
	if err != nil {
		return response.BadRequest(c, err)
	}

	if err := h.service.DeleteCampaign(c.Request().Context(), id); err != nil {
		return response.BadRequest(c, err)
	}

	return response.NoContent(c)
}

func parseCampaignID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid campaign id")
	}
	return id, nil
}

func parsePaginationParams(c echo.Context) (int, int, error) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)

	pageStr := c.QueryParam("page")
	pageSizeStr := c.QueryParam("pageSize")

	// Page
	page := defaultPage
	if pageStr != "" {
		p, err := strconv.Atoi(pageStr)
		if err != nil || p <= 0 {
			return 0, 0, fmt.Errorf("page must be a positive integer")
		}
		page = p
	}

	// Page size
	pageSize := defaultPageSize
	if pageSizeStr != "" {
		ps, err := strconv.Atoi(pageSizeStr)
		if err != nil || ps <= 0 || ps > maxPageSize {
			return 0, 0, fmt.Errorf("pageSize must be between 1 and %d", maxPageSize)
		}

		pageSize = ps
	}

	return page, pageSize, nil
}
