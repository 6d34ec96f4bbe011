// Package api hosts the HTTP server for the engine's REST API.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	apiv2 "github.com/deskops/itsm-engine/internal/api/v2"
	"github.com/deskops/itsm-engine/internal/conf"
	"github.com/deskops/itsm-engine/internal/errors"
	"github.com/deskops/itsm-engine/internal/logger"
)

const (
	readHeaderTimeout = 10 * time.Second
	bodyLimit         = "4M"
)

// Server wraps the echo instance and the v2 controller.
type Server struct {
	echo       *echo.Echo
	settings   *conf.Settings
	logger     logger.Logger
	controller *apiv2.Controller
}

// NewServer builds the HTTP server with its middleware and routes.
func NewServer(settings *conf.Settings, deps apiv2.Deps, log logger.Logger) *Server {
	if log == nil {
		log = logger.Discard()
	}
	if settings == nil {
		settings = &conf.Settings{}
	}
	log = log.With(logger.Component("http"))

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Debug = settings.WebServer.Debug
	e.Server.ReadHeaderTimeout = readHeaderTimeout

	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit(bodyLimit))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			fields := []logger.Field{
				logger.String("method", v.Method),
				logger.String("uri", v.URI),
				logger.Int("status", v.Status),
				logger.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				log.Warn("request failed", append(fields, logger.Error(v.Error))...)
				return nil
			}
			log.Debug("request", fields...)
			return nil
		},
	}))

	deps.Settings = settings
	if deps.Logger == nil {
		deps.Logger = log
	}
	s := &Server{
		echo:     e,
		settings: settings,
		logger:   log,
	}
	s.controller = apiv2.New(e, deps)
	return s
}

// Echo returns the underlying echo instance.
func (s *Server) Echo() *echo.Echo { return s.echo }

// Start listens on the configured address and blocks until the server is
// shut down.
func (s *Server) Start() error {
	addr := s.settings.WebServer.Listen
	if addr == "" {
		addr = ":8080"
	}
	s.logger.Info("http server listening", logger.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.New(err).
			Component("http").
			Category(errors.CategoryConfiguration).
			Context("addr", addr).
			Build()
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.echo.Shutdown(ctx)
}
