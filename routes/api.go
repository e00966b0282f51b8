package routes

import (
	"github.com/labstack/echo/v4"
	echoSwagger "github.com/swaggo/echo-swagger"

	"github.com/crmkit/broadcast-service/environments"
	"github.com/crmkit/broadcast-service/handlers"
	"github.com/crmkit/broadcast-service/internal/middlewares"
)

// RegisterRoutes registers all API routes with middleware
func RegisterRoutes(
	e *echo.Echo,
	healthHandler *handlers.HealthHandler,
	campaignHandler *handlers.CampaignHandler,
	windowHandler *handlers.WindowHandler,
	processorHandler *handlers.ProcessorHandler,
	cfg *environments.Config,
) {
	e.GET("/health", healthHandler.Health)
	e.GET("/swagger/*", echoSwagger.WrapHandler)

	// API v1 base group
	v1 := e.Group("/api/v1")

	// Campaign routes with the operator API key
	campaigns := v1.Group("/campaigns", middlewares.APIKeyAuth("campaign", cfg.Auth.CampaignsAPIKey))

	campaigns.GET("", campaignHandler.ListCampaigns)
	campaigns.POST("", campaignHandler.CreateCampaign)
	campaigns.GET("/:id", campaignHandler.GetCampaign)
	campaigns.DELETE("/:id", campaignHandler.DeleteCampaign)
	campaigns.POST("/:id/activate", campaignHandler.ActivateCampaign)
	campaigns.POST("/:id/pause", campaignHandler.PauseCampaign)
	campaigns.POST("/:id/resume", campaignHandler.ResumeCampaign)
	campaigns.POST("/:id/cancel", campaignHandler.CancelCampaign)
	campaigns.POST("/:id/republish", campaignHandler.RepublishFailedItems)
	campaigns.GET("/:id/estimate", campaignHandler.EstimateCampaign)
	campaigns.GET("/:id/receipts", campaignHandler.GetCampaignReceipts)

	// Time window routes share the operator API key
	windows := v1.Group("/windows", middlewares.APIKeyAuth("campaign", cfg.Auth.CampaignsAPIKey))

	windows.GET("", windowHandler.ListWindows)
	windows.POST("", windowHandler.CreateWindow)
	windows.POST("/estimate", windowHandler.EstimateSchedule)
	windows.GET("/:id", windowHandler.GetWindow)
	windows.PUT("/:id", windowHandler.UpdateWindow)
	windows.GET("/:id/can-start", windowHandler.CanStartNow)

	// Processor control routes with their own API key
	processorGroup := v1.Group("/processor", middlewares.APIKeyAuth("processor", cfg.Auth.ProcessorAPIKey))

	processorGroup.POST("/start", processorHandler.StartProcessor)
	processorGroup.POST("/stop", processorHandler.StopProcessor)
	processorGroup.GET("/status", processorHandler.GetProcessorStatus)
}
