package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/sifan077/PowerTrack/internal/app/apperr"
	"github.com/sifan077/PowerTrack/internal/app/model"
	"github.com/sifan077/PowerTrack/internal/app/tracking"
	httpUtil "github.com/sifan077/PowerTrack/internal/http/util"
	"go.uber.org/zap"
)

// ConversionDeps groups dependencies required by the conversion handler.
type ConversionDeps struct {
	Logger      *zap.Logger
	Conversions ConversionService
	Cookies     *httpUtil.CookieCodec
}

// ConversionHandler accepts merchant conversion reports.
type ConversionHandler struct {
	logger      *zap.Logger
	conversions ConversionService
	cookies     *httpUtil.CookieCodec
}

func NewConversionHandler(deps ConversionDeps) *ConversionHandler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConversionHandler{
		logger:      logger,
		conversions: deps.Conversions,
		cookies:     deps.Cookies,
	}
}

func (h *ConversionHandler) Register(router fiber.Router) {
	router.Post("/api/tracking/conversion", h.Record)
}

// ConversionRequest represents the request body of a conversion report.
type ConversionRequest struct {
	ClickID        string   `json:"clickId,omitempty"`
	VisitorID      string   `json:"visitorId,omitempty"`
	UserID         string   `json:"userId,omitempty"`
	OrderID        string   `json:"orderId,omitempty"`
	Amount         float64  `json:"amount"`
	Currency       string   `json:"currency,omitempty"`
	Type           string   `json:"type,omitempty"`
	Period         int      `json:"period,omitempty"`
	Products       []string `json:"products,omitempty"`
	ConversionPath []string `json:"conversionPath,omitempty"`
}

type FraudSummary struct {
	Score  int               `json:"score"`
	Action model.FraudAction `json:"action"`
}

// ConversionResponse is returned for every recorded conversion, attributed or not.
type ConversionResponse struct {
	Attributed             bool         `json:"attributed"`
	AffiliateID            string       `json:"affiliateId,omitempty"`
	CampaignID             string       `json:"campaignId,omitempty"`
	ConversionType         string       `json:"conversionType,omitempty"`
	CrossDeviceAttribution bool         `json:"crossDeviceAttribution,omitempty"`
	CookieTracking         bool         `json:"cookieTracking"`
	FingerprintTracking    bool         `json:"fingerprintTracking"`
	ConversionID           string       `json:"conversionId"`
	Fraud                  FraudSummary `json:"fraud"`
}

// Record handles POST /api/tracking/conversion.
func (h *ConversionHandler) Record(c *fiber.Ctx) error {
	var req ConversionRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid request body")
	}

	outcome, err := h.conversions.Record(requestContext(c), tracking.ConversionRequest{
		ClickID:        req.ClickID,
		VisitorID:      req.VisitorID,
		UserID:         req.UserID,
		OrderID:        req.OrderID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Type:           req.Type,
		Period:         req.Period,
		Products:       req.Products,
		ConversionPath: req.ConversionPath,
		IP:             c.IP(),
		UserAgent:      c.Get(fiber.HeaderUserAgent),
		AcceptLanguage: c.Get(fiber.HeaderAcceptLanguage),
		Cookie:         trackingCookie(c, h.cookies),
	})
	if err != nil {
		return h.recordError(c, req, err)
	}

	event := outcome.Event
	return c.JSON(ConversionResponse{
		Attributed:             event.Attribution.Attributed,
		AffiliateID:            event.AffiliateID,
		CampaignID:             event.CampaignID,
		ConversionType:         event.Attribution.ConversionType(),
		CrossDeviceAttribution: event.Attribution.CrossDevice,
		CookieTracking:         outcome.CookieTracking,
		FingerprintTracking:    outcome.FingerprintTracking,
		ConversionID:           event.ConversionID,
		Fraud: FraudSummary{
			Score:  event.Fraud.Score,
			Action: event.Fraud.Action,
		},
	})
}

func (h *ConversionHandler) recordError(c *fiber.Ctx, req ConversionRequest, err error) error {
	switch status := statusFor(err); {
	case errors.Is(err, apperr.ErrDuplicateConversion):
		return errorJSON(c, status, "duplicate conversion: "+req.OrderID)
	case status == fiber.StatusBadRequest:
		return errorJSON(c, status, err.Error())
	case status == fiber.StatusServiceUnavailable:
		return errorJSON(c, status, "attribution lookup timed out, retry later")
	}
	h.logger.Error("failed to record conversion", zap.String("order_id", req.OrderID), zap.Error(err))
	return errorJSON(c, fiber.StatusInternalServerError, "internal server error")
}
