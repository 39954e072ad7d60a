package handler

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/sifan077/PowerTrack/internal/app/apperr"
	"github.com/sifan077/PowerTrack/internal/app/model"
	httpUtil "github.com/sifan077/PowerTrack/internal/http/util"
)

func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}
	return ctx
}

// trackingCookie returns nil when the cookie is absent or fails verification.
func trackingCookie(c *fiber.Ctx, codec *httpUtil.CookieCodec) *model.TrackingCookie {
	value := c.Cookies(model.TrackingCookieName)
	if value == "" || codec == nil {
		return nil
	}
	cookie, err := codec.Decode(value)
	if err != nil {
		return nil
	}
	return cookie
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrInvalidInput), errors.Is(err, apperr.ErrDuplicateConversion):
		return fiber.StatusBadRequest
	case errors.Is(err, apperr.ErrInvalidLink), apperr.IsNotFound(err):
		return fiber.StatusNotFound
	case errors.Is(err, apperr.ErrInvalidCommissionConfig):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, apperr.ErrLookupTimeout):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

func errorJSON(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"error": message,
	})
}
