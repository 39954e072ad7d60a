package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sifan077/PowerTrack/internal/app/model"
	"github.com/sifan077/PowerTrack/internal/app/tracking"
	httpUtil "github.com/sifan077/PowerTrack/internal/http/util"
	"go.uber.org/zap"
)

const defaultCookieMaxAge = 30 * 24 * time.Hour

// RedirectDeps groups dependencies required by the click handlers.
type RedirectDeps struct {
	Logger        *zap.Logger
	Clicks        ClickService
	Cookies       *httpUtil.CookieCodec
	CookieMaxAge  time.Duration
	SecureCookies bool
}

// RedirectHandler records clicks and redirects visitors to the landing page.
type RedirectHandler struct {
	logger        *zap.Logger
	clicks        ClickService
	cookies       *httpUtil.CookieCodec
	cookieMaxAge  time.Duration
	secureCookies bool
}

// NewRedirectHandler creates a redirect handler with the provided dependencies.
func NewRedirectHandler(deps RedirectDeps) *RedirectHandler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxAge := deps.CookieMaxAge
	if maxAge <= 0 {
		maxAge = defaultCookieMaxAge
	}
	return &RedirectHandler{
		logger:        logger,
		clicks:        deps.Clicks,
		cookies:       deps.Cookies,
		cookieMaxAge:  maxAge,
		secureCookies: deps.SecureCookies,
	}
}

// Register wires redirect routes onto the provided router.
func (h *RedirectHandler) Register(router fiber.Router) {
	router.Get("/health", h.Health)
	router.Get("/c/:trackingId", h.Track)
	router.Get("/api/tracking/click", h.Click)
	router.Get("/api/tracking/fallback-method", h.FallbackMethod)
}

// Health is a simple endpoint so we know the service is running.
func (h *RedirectHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"service": "PowerTrack",
		"status":  "ok",
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// Track handles GET /c/:trackingId.
func (h *RedirectHandler) Track(c *fiber.Ctx) error {
	trackingID := c.Params("trackingId")
	if trackingID == "" {
		return errorJSON(c, fiber.StatusBadRequest, "missing tracking id")
	}

	outcome, err := h.clicks.Record(requestContext(c), trackingID, h.clickRequest(c))
	if err != nil {
		return h.clickError(c, err, zap.String("tracking_id", trackingID))
	}
	return h.redirect(c, outcome)
}

// Click handles GET /api/tracking/click?campaignId=&affiliateId=.
func (h *RedirectHandler) Click(c *fiber.Ctx) error {
	campaignID := c.Query("campaignId")
	affiliateID := c.Query("affiliateId")
	if campaignID == "" || affiliateID == "" {
		return errorJSON(c, fiber.StatusBadRequest, "campaignId and affiliateId are required")
	}

	outcome, err := h.clicks.RecordDirect(requestContext(c), campaignID, affiliateID, h.clickRequest(c))
	if err != nil {
		return h.clickError(c, err, zap.String("campaign_id", campaignID), zap.String("affiliate_id", affiliateID))
	}
	return h.redirect(c, outcome)
}

// FallbackMethod reports which tracking method a conversion from this
// browser would rely on.
func (h *RedirectHandler) FallbackMethod(c *fiber.Ctx) error {
	method := "fingerprint"
	if trackingCookie(c, h.cookies) != nil {
		method = "cookie"
	}
	return c.JSON(fiber.Map{
		"trackingMethod": method,
	})
}

func (h *RedirectHandler) clickRequest(c *fiber.Ctx) tracking.ClickRequest {
	visitorID := c.Query("vid")
	if visitorID == "" {
		visitorID = c.Get("X-Visitor-ID")
	}
	return tracking.ClickRequest{
		IP:             c.IP(),
		UserAgent:      c.Get(fiber.HeaderUserAgent),
		Referrer:       c.Get(fiber.HeaderReferer),
		AcceptLanguage: c.Get(fiber.HeaderAcceptLanguage),
		VisitorID:      visitorID,
		UserID:         c.Query("uid"),
		DoNotTrack:     c.Get("DNT") == "1",
	}
}

func (h *RedirectHandler) redirect(c *fiber.Ctx, outcome *tracking.ClickOutcome) error {
	if outcome.Cookie != nil && h.cookies != nil {
		value, err := h.cookies.Encode(*outcome.Cookie)
		if err != nil {
			// the redirect still counts; attribution falls back to the fingerprint
			h.logger.Warn("failed to encode tracking cookie", zap.Error(err))
		} else {
			c.Cookie(&fiber.Cookie{
				Name:     model.TrackingCookieName,
				Value:    value,
				Path:     "/",
				MaxAge:   int(h.cookieMaxAge.Seconds()),
				Expires:  time.Now().Add(h.cookieMaxAge),
				HTTPOnly: true,
				Secure:   h.secureCookies,
				SameSite: fiber.CookieSameSiteLaxMode,
			})
		}
	}

	h.logger.Debug("redirecting click",
		zap.String("tracking_id", outcome.Link.TrackingID),
		zap.String("target", outcome.RedirectURL),
	)
	return c.Redirect(outcome.RedirectURL, fiber.StatusFound)
}

func (h *RedirectHandler) clickError(c *fiber.Ctx, err error, fields ...zap.Field) error {
	status := statusFor(err)
	switch status {
	case fiber.StatusNotFound:
		return errorJSON(c, status, "tracking link not found")
	case fiber.StatusBadRequest:
		return errorJSON(c, status, err.Error())
	case fiber.StatusServiceUnavailable:
		return errorJSON(c, status, "lookup timed out, retry later")
	}
	h.logger.Error("failed to record click", append(fields, zap.Error(err))...)
	return errorJSON(c, fiber.StatusInternalServerError, "internal server error")
}
