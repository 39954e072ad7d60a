package server

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	inthttp "github.com/sifan077/PowerTrack/internal/http/handler"
	"github.com/sifan077/PowerTrack/internal/http/middleware"
	httpUtil "github.com/sifan077/PowerTrack/internal/http/util"
	"go.uber.org/zap"
)

// Dependencies bundles the services and infrastructure required by the HTTP
// server. Redis backs the management API rate limiter; nil disables it.
type Dependencies struct {
	Logger        *zap.Logger
	Redis         redis.Cmdable
	RateLimit     middleware.RateLimitConfig
	Clicks        inthttp.ClickService
	Conversions   inthttp.ConversionService
	Links         inthttp.LinkService
	Fraud         inthttp.FraudInspector
	Metrics       inthttp.MetricsReader
	Commissions   inthttp.CommissionReader
	Failures      inthttp.FailureReader
	CookieSecret  []byte
	CookieMaxAge  time.Duration
	SecureCookies bool
	CORSOrigins   []string
	// ProxyHeader names the header holding the client address; it is read
	// only when the peer matches TrustedProxies.
	ProxyHeader    string
	TrustedProxies []string
}

// Server wraps the Fiber application and its dependencies.
type Server struct {
	app  *fiber.App
	deps Dependencies
}

// New creates a new HTTP server instance with all routes registered.
func New(deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	app := fiber.New(fiber.Config{
		AppName:                 "PowerTrack",
		DisableStartupMessage:   true,
		ProxyHeader:             deps.ProxyHeader,
		EnableTrustedProxyCheck: true,
		TrustedProxies:          deps.TrustedProxies,
		EnableIPValidation:      true,
	})

	s := &Server{
		app:  app,
		deps: deps,
	}

	s.registerMiddleware()
	s.registerRoutes()
	return s
}

// App exposes the Fiber application, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen starts the Fiber server on the given address.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the Fiber server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) registerMiddleware() {
	s.app.Use(middleware.Recovery(s.deps.Logger))
	s.app.Use(middleware.RequestID())
	s.app.Use(middleware.Logger(s.deps.Logger))
	s.app.Use(middleware.CORS(s.deps.CORSOrigins))
}

func (s *Server) registerRoutes() {
	cookies := httpUtil.NewCookieCodec(s.deps.CookieSecret, s.deps.CookieMaxAge)

	inthttp.NewRedirectHandler(inthttp.RedirectDeps{
		Logger:        s.deps.Logger,
		Clicks:        s.deps.Clicks,
		Cookies:       cookies,
		CookieMaxAge:  s.deps.CookieMaxAge,
		SecureCookies: s.deps.SecureCookies,
	}).Register(s.app)

	inthttp.NewConversionHandler(inthttp.ConversionDeps{
		Logger:      s.deps.Logger,
		Conversions: s.deps.Conversions,
		Cookies:     cookies,
	}).Register(s.app)

	var guards []fiber.Handler
	if s.deps.Redis != nil {
		guards = append(guards, middleware.RateLimit(s.deps.Redis, s.deps.RateLimit, s.deps.Logger))
	}
	inthttp.NewAPIHandler(inthttp.APIDeps{
		Logger:      s.deps.Logger,
		Links:       s.deps.Links,
		Fraud:       s.deps.Fraud,
		Metrics:     s.deps.Metrics,
		Conversions: s.deps.Conversions,
		Commissions: s.deps.Commissions,
		Failures:    s.deps.Failures,
	}).Register(s.app, guards...)
}
