// Package api serves rank keys and ordered collections over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/felixgeelhaar/fortify/ratelimit"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/ntauth/fracrank"
	"github.com/ntauth/fracrank/internal/ordering"
)

type (
	Options struct {
		Address        string
		DisableReqLogs bool
		Debug          bool
		ReadTimeout    time.Duration
		WriteTimeout   time.Duration
		// RateLimit is requests per second per client IP; 0 disables it.
		RateLimit int

		Ordering  *ordering.Service
		Generator *fracrank.Generator
		Logger    *slog.Logger
	}

	Server interface {
		http.Handler
		Start() error
		Stop(context.Context) error
	}

	server struct {
		opts    *Options
		app     *echo.Echo
		logger  *slog.Logger
		limiter ratelimit.RateLimiter
	}
)

var _ Server = (*server)(nil)

func NewServer(opts *Options) Server {
	s := &server{
		opts:   opts,
		app:    echo.New(),
		logger: opts.Logger,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "api")
	if opts.Generator == nil {
		opts.Generator = opts.Ordering.Generator()
	}
	s.setup()
	return s
}

type requestValidator struct {
	validate *validator.Validate
}

func (v requestValidator) Validate(i any) error {
	return v.validate.Struct(i)
}

func (s *server) setup() {
	s.app.HideBanner = true
	s.app.HidePort = true
	s.app.Debug = s.opts.Debug
	s.app.Server.ReadTimeout = s.opts.ReadTimeout
	s.app.Server.WriteTimeout = s.opts.WriteTimeout
	s.app.Validator = requestValidator{validate: validator.New()}
	s.app.HTTPErrorHandler = newHTTPErrorHandler(s.logger)

	s.app.Pre(middleware.RemoveTrailingSlash())
	if !s.opts.DisableReqLogs {
		s.app.Use(s.requestLogger())
	}
	s.app.Use(middleware.Recover())
	if s.opts.RateLimit > 0 {
		s.limiter = ratelimit.New(&ratelimit.Config{
			Rate:     s.opts.RateLimit,
			Burst:    s.opts.RateLimit * 2,
			Interval: time.Second,
		})
		s.app.Use(rateLimitByIP(s.limiter))
	}

	s.app.GET("/healthz", healthz)

	v1 := s.app.Group("/v1")
	registerRankAPI(v1, s.opts.Generator)
	registerOrderingAPI(v1, s.opts.Ordering)
}

func (s *server) requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency}
			if v.Error != nil {
				attrs = append(attrs, "error", v.Error)
			}
			s.logger.Info("request", attrs...)
			return nil
		},
	})
}

func rateLimitByIP(rl ratelimit.RateLimiter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !rl.Allow(c.Request().Context(), c.RealIP()) {
				return errTooManyRequests
			}
			return next(c)
		}
	}
}

// Start serves until Stop is called.
func (s *server) Start() error {
	s.logger.Info("http server listening", "addr", s.opts.Address)
	if err := s.app.Start(s.opts.Address); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *server) Stop(ctx context.Context) error {
	err := s.app.Shutdown(ctx)
	if s.limiter != nil {
		err = errors.Join(err, s.limiter.Close())
	}
	return err
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
}
