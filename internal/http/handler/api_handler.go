package handler

import (
	"net"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sifan077/PowerTrack/internal/app/apperr"
	"github.com/sifan077/PowerTrack/internal/app/commission"
	"github.com/sifan077/PowerTrack/internal/app/model"
	"github.com/sifan077/PowerTrack/internal/app/pipeline"
	"github.com/sifan077/PowerTrack/internal/app/tracking"
	"go.uber.org/zap"
)

const defaultMetricsWindow = 24 * time.Hour

// APIDeps groups dependencies required by API handlers.
type APIDeps struct {
	Logger      *zap.Logger
	Links       LinkService
	Fraud       FraudInspector
	Metrics     MetricsReader
	Conversions ConversionService
	Commissions CommissionReader
	Failures    FailureReader
}

// APIHandler implements the management API endpoints.
type APIHandler struct {
	logger      *zap.Logger
	links       LinkService
	fraud       FraudInspector
	metrics     MetricsReader
	conversions ConversionService
	commissions CommissionReader
	failures    FailureReader
}

// NewAPIHandler creates an API handler with the provided dependencies.
func NewAPIHandler(deps APIDeps) *APIHandler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &APIHandler{
		logger:      logger,
		links:       deps.Links,
		fraud:       deps.Fraud,
		metrics:     deps.Metrics,
		conversions: deps.Conversions,
		commissions: deps.Commissions,
		failures:    deps.Failures,
	}
}

// Register wires API routes onto the provided router. The middleware only
// guards the management routes, never the tracking endpoints.
func (h *APIHandler) Register(router fiber.Router, middleware ...fiber.Handler) {
	links := router.Group("/api/links", middleware...)
	{
		links.Post("/", h.CreateLink)
	}

	fraudAPI := router.Group("/api/fraud", middleware...)
	{
		fraudAPI.Get("/ip/:ip", h.InspectIP)
		fraudAPI.Get("/suspicious", h.Suspicious)
	}

	metricsAPI := router.Group("/api/metrics", middleware...)
	{
		metricsAPI.Get("/campaigns/:id", h.counters(pipeline.ScopeCampaign))
		metricsAPI.Get("/affiliates/:id", h.counters(pipeline.ScopeAffiliate))
	}

	pipelineAPI := router.Group("/api/pipeline", middleware...)
	{
		pipelineAPI.Get("/stats", h.PipelineStats)
		pipelineAPI.Get("/failures", h.PipelineFailures)
	}

	router.Group("/api/conversions", middleware...).Get("/:id", h.GetConversion)
	router.Group("/api/campaigns", middleware...).Post("/validate-commission", h.ValidateCommission)
}

// CreateLinkRequest represents the request body for issuing a link.
type CreateLinkRequest struct {
	AffiliateID      string            `json:"affiliateId"`
	CampaignID       string            `json:"campaignId"`
	LandingPage      string            `json:"landingPage,omitempty"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

// CreateLinkResponse represents the response for issuing a link.
type CreateLinkResponse struct {
	TrackingID string    `json:"trackingId"`
	URL        string    `json:"url"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// CreateLink handles POST /api/links
func (h *APIHandler) CreateLink(c *fiber.Ctx) error {
	var req CreateLinkRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.AffiliateID == "" || req.CampaignID == "" {
		return errorJSON(c, fiber.StatusBadRequest, "affiliateId and campaignId are required")
	}

	link, url, err := h.links.Issue(requestContext(c), tracking.IssueLinkInput{
		AffiliateID:      req.AffiliateID,
		CampaignID:       req.CampaignID,
		LandingPage:      req.LandingPage,
		CustomParameters: req.CustomParameters,
	})
	if err != nil {
		status := statusFor(err)
		if status == fiber.StatusInternalServerError {
			h.logger.Error("failed to issue link", zap.Error(err))
			return errorJSON(c, status, "failed to issue link")
		}
		return errorJSON(c, status, err.Error())
	}

	return c.Status(fiber.StatusCreated).JSON(CreateLinkResponse{
		TrackingID: link.TrackingID,
		URL:        url,
		ExpiresAt:  link.ExpiresAt,
	})
}

// InspectIP handles GET /api/fraud/ip/:ip
func (h *APIHandler) InspectIP(c *fiber.Ctx) error {
	ip := c.Params("ip")
	if net.ParseIP(ip) == nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid ip address")
	}

	report, err := h.fraud.InspectIP(requestContext(c), ip)
	if err != nil {
		h.logger.Error("failed to inspect ip", zap.String("ip", ip), zap.Error(err))
		return errorJSON(c, fiber.StatusInternalServerError, "failed to inspect ip")
	}
	return c.JSON(report)
}

// Suspicious handles GET /api/fraud/suspicious
func (h *APIHandler) Suspicious(c *fiber.Ctx) error {
	activities, err := h.fraud.RecentSuspicious(requestContext(c), listLimit(c))
	if err != nil {
		h.logger.Error("failed to read suspicious activity", zap.Error(err))
		return errorJSON(c, fiber.StatusInternalServerError, "failed to read suspicious activity")
	}
	if activities == nil {
		activities = []model.SuspiciousActivity{}
	}
	return c.JSON(fiber.Map{
		"activities": activities,
		"count":      len(activities),
	})
}

// counters serves GET /api/metrics/{campaigns|affiliates}/:id?window=24h
func (h *APIHandler) counters(scope string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		window := defaultMetricsWindow
		if raw := c.Query("window"); raw != "" {
			parsed, err := time.ParseDuration(raw)
			if err != nil || parsed <= 0 {
				return errorJSON(c, fiber.StatusBadRequest, "window must be a positive duration")
			}
			window = parsed
		}

		id := c.Params("id")
		counters, err := h.metrics.Counters(requestContext(c), scope, id, window)
		if err != nil {
			h.logger.Error("failed to read counters", zap.String("scope", scope), zap.String("id", id), zap.Error(err))
			return errorJSON(c, fiber.StatusInternalServerError, "failed to read counters")
		}
		return c.JSON(counters)
	}
}

// PipelineStats handles GET /api/pipeline/stats
func (h *APIHandler) PipelineStats(c *fiber.Ctx) error {
	stats, err := h.metrics.Stats(requestContext(c))
	if err != nil {
		h.logger.Error("failed to read pipeline stats", zap.Error(err))
		return errorJSON(c, fiber.StatusInternalServerError, "failed to read pipeline stats")
	}
	return c.JSON(stats)
}

// PipelineFailures handles GET /api/pipeline/failures
func (h *APIHandler) PipelineFailures(c *fiber.Ctx) error {
	if h.failures == nil {
		return errorJSON(c, fiber.StatusNotImplemented, "failure log not configured")
	}
	failures, err := h.failures.Recent(requestContext(c), listLimit(c))
	if err != nil {
		h.logger.Error("failed to read processing failures", zap.Error(err))
		return errorJSON(c, fiber.StatusInternalServerError, "failed to read processing failures")
	}
	if failures == nil {
		failures = []pipeline.ProcessingFailure{}
	}
	return c.JSON(fiber.Map{
		"failures": failures,
		"count":    len(failures),
	})
}

// ConversionDetail is a stored conversion with its commission, once settled.
type ConversionDetail struct {
	Conversion *model.ConversionEvent `json:"conversion"`
	Commission *model.Commission      `json:"commission"`
}

// GetConversion handles GET /api/conversions/:id
func (h *APIHandler) GetConversion(c *fiber.Ctx) error {
	if h.conversions == nil {
		return errorJSON(c, fiber.StatusNotImplemented, "conversion lookup not configured")
	}
	id := c.Params("id")
	ctx := requestContext(c)

	event, err := h.conversions.Lookup(ctx, id)
	if err != nil {
		status := statusFor(err)
		if status == fiber.StatusInternalServerError {
			h.logger.Error("failed to load conversion", zap.String("conversion_id", id), zap.Error(err))
			return errorJSON(c, status, "failed to load conversion")
		}
		return errorJSON(c, status, "conversion not found")
	}

	detail := ConversionDetail{Conversion: event}
	if h.commissions != nil {
		commission, err := h.commissions.GetByConversionID(ctx, id)
		switch {
		case err == nil:
			detail.Commission = commission
		case !apperr.IsNotFound(err):
			h.logger.Warn("failed to load commission", zap.String("conversion_id", id), zap.Error(err))
		}
	}
	return c.JSON(detail)
}

// listLimit reads ?limit=, defaulting to 100 and capped at 1000.
func listLimit(c *fiber.Ctx) int64 {
	if parsed := c.QueryInt("limit"); parsed > 0 && parsed <= 1000 {
		return int64(parsed)
	}
	return 100
}

// ValidateCommissionRequest carries a rule and an optional sample conversion
// to price with it.
type ValidateCommissionRequest struct {
	Rule        model.CommissionRule `json:"rule"`
	SampleValue *float64             `json:"sampleValue,omitempty"`
	Period      int                  `json:"period,omitempty"`
}

// ValidateCommission handles POST /api/campaigns/validate-commission
func (h *APIHandler) ValidateCommission(c *fiber.Ctx) error {
	var req ValidateCommissionRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid request body")
	}

	if err := commission.ValidateRule(req.Rule); err != nil {
		return errorJSON(c, fiber.StatusUnprocessableEntity, err.Error())
	}

	resp := fiber.Map{"valid": true}
	if req.SampleValue != nil {
		amount, err := commission.Calculate(*req.SampleValue, req.Rule, req.Period)
		if err != nil {
			return errorJSON(c, statusFor(err), err.Error())
		}
		resp["sampleCommission"] = amount
	}
	return c.JSON(resp)
}
