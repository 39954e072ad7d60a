package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

const (
	corsAllowMethods = "GET, POST, OPTIONS"
	corsAllowHeaders = "Origin, Content-Type, Accept, Authorization, X-Visitor-ID, X-Request-ID"
)

// CORS answers preflight requests and decorates responses for browser
// callers. An empty origins list, or one containing "*", allows any origin
// without credentials. Otherwise only listed origins are echoed back, with
// credentials allowed so the tracking cookie travels on conversion calls.
func CORS(origins []string) fiber.Handler {
	allowed := make(map[string]struct{}, len(origins))
	wildcard := len(origins) == 0
	for _, o := range origins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "*" {
			wildcard = true
			continue
		}
		if o != "" {
			allowed[strings.ToLower(o)] = struct{}{}
		}
	}

	return func(c *fiber.Ctx) error {
		origin := c.Get(fiber.HeaderOrigin)
		switch {
		case wildcard:
			c.Set(fiber.HeaderAccessControlAllowOrigin, "*")
		case origin != "":
			c.Vary(fiber.HeaderOrigin)
			if _, ok := allowed[strings.ToLower(origin)]; ok {
				c.Set(fiber.HeaderAccessControlAllowOrigin, origin)
				c.Set(fiber.HeaderAccessControlAllowCredentials, "true")
			}
		}
		c.Set(fiber.HeaderAccessControlExposeHeaders, RequestIDHeader+", X-RateLimit-Limit, X-RateLimit-Remaining")

		if c.Method() != fiber.MethodOptions {
			return c.Next()
		}
		c.Set(fiber.HeaderAccessControlAllowMethods, corsAllowMethods)
		c.Set(fiber.HeaderAccessControlAllowHeaders, corsAllowHeaders)
		c.Set(fiber.HeaderAccessControlMaxAge, "86400")
		return c.SendStatus(fiber.StatusNoContent)
	}
}
