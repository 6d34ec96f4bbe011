// Package api exposes the routing engine over HTTP at /api/v2.
package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/deskops/itsm-engine/internal/alerting"
	"github.com/deskops/itsm-engine/internal/channel"
	"github.com/deskops/itsm-engine/internal/conf"
	"github.com/deskops/itsm-engine/internal/errors"
	"github.com/deskops/itsm-engine/internal/logger"
	"github.com/deskops/itsm-engine/internal/notification"
	"github.com/deskops/itsm-engine/internal/observability/metrics"
	"github.com/deskops/itsm-engine/internal/ruleset"
	"github.com/deskops/itsm-engine/internal/search"
)

// Query parameter values.
const (
	QueryValueTrue = "true"
)

// Deps are the collaborators the controller serves.
type Deps struct {
	Settings *conf.Settings
	Store    *ruleset.Store
	Channels *channel.Registry
	Engine   *alerting.Engine
	Bus      *alerting.EventBus
	Searcher *search.Searcher
	Index    *search.Index
	Outbox   *notification.Service
	Metrics  *metrics.Metrics
	Logger   logger.Logger
	// Now is the clock for previews; tests replace it.
	Now func() time.Time
}

// Controller holds the v2 API handlers.
type Controller struct {
	Echo     *echo.Echo
	Group    *echo.Group
	Settings *conf.Settings

	store    *ruleset.Store
	channels *channel.Registry
	engine   *alerting.Engine
	bus      *alerting.EventBus
	searcher *search.Searcher
	index    *search.Index
	outbox   *notification.Service
	metrics  *metrics.Metrics
	logger   logger.Logger
	now      func() time.Time
}

// New creates the controller and registers its routes on e.
func New(e *echo.Echo, deps Deps) *Controller {
	if deps.Settings == nil {
		deps.Settings = &conf.Settings{}
	}
	if deps.Logger == nil {
		deps.Logger = logger.Discard()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	c := &Controller{
		Echo:     e,
		Group:    e.Group("/api/v2"),
		Settings: deps.Settings,
		store:    deps.Store,
		channels: deps.Channels,
		engine:   deps.Engine,
		bus:      deps.Bus,
		searcher: deps.Searcher,
		index:    deps.Index,
		outbox:   deps.Outbox,
		metrics:  deps.Metrics,
		logger:   deps.Logger.With(logger.Component("api")),
		now:      deps.Now,
	}
	c.initRoutes()
	return c
}

func (c *Controller) initRoutes() {
	c.Group.GET("/health", c.HealthCheck)
	c.Group.GET("/schema", c.GetSchema)
	c.Group.GET("/system", c.GetSystemInfo)

	c.initEvaluationRoutes()
	c.initRuleRoutes()
	c.initEventRoutes()
	c.initOutboxRoutes()

	if c.metrics != nil {
		c.Echo.GET("/metrics", echo.WrapHandler(c.metrics.Handler()))
	}
}

// HealthCheck reports engine state.
func (c *Controller) HealthCheck(ctx echo.Context) error {
	resp := map[string]any{
		"status":        "ok",
		"engine_active": notification.IsEngineActive(),
		"time":          c.now().UTC(),
	}
	if c.store != nil {
		doc := c.store.Document()
		resp["rules"] = len(doc.Routing)
		resp["channels"] = len(doc.Channels)
	}
	if c.channels != nil {
		resp["unavailable_channels"] = c.channels.Unavailable()
	}
	if c.outbox != nil {
		resp["outbox"] = c.outbox.Count()
	}
	return ctx.JSON(http.StatusOK, resp)
}

// HandleError writes an error response. Categorized errors pick their own
// status; code is used for everything else.
func (c *Controller) HandleError(ctx echo.Context, err error, message string, code int) error {
	code = statusFor(err, code)
	if code >= http.StatusInternalServerError {
		c.logErrorIfEnabled(message,
			logger.String("path", ctx.Path()),
			logger.Error(err))
	}
	resp := map[string]string{"error": message}
	if err != nil {
		resp["message"] = err.Error()
	}
	return ctx.JSON(code, resp)
}

func statusFor(err error, fallback int) int {
	switch {
	case err == nil:
		return fallback
	case errors.IsCategory(err, errors.CategoryNotFound):
		return http.StatusNotFound
	case errors.IsCategory(err, errors.CategoryRateLimit):
		return http.StatusTooManyRequests
	case errors.IsCategory(err, errors.CategoryValidation),
		errors.IsCategory(err, errors.CategoryConfiguration):
		return http.StatusBadRequest
	}
	return fallback
}

func (c *Controller) logErrorIfEnabled(msg string, fields ...logger.Field) {
	if c.logger != nil {
		c.logger.Error(msg, fields...)
	}
}

func (c *Controller) logInfoIfEnabled(msg string, fields ...logger.Field) {
	if c.logger != nil {
		c.logger.Info(msg, fields...)
	}
}

func (c *Controller) logDebugIfEnabled(msg string, fields ...logger.Field) {
	if c.logger != nil && c.Settings.WebServer.Debug {
		c.logger.Debug(msg, fields...)
	}
}
