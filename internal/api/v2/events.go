package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/deskops/itsm-engine/internal/alerting"
	"github.com/deskops/itsm-engine/internal/errors"
	"github.com/deskops/itsm-engine/internal/logger"
)

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 50
	// callerHeader identifies the search caller; the client IP is used
	// without it.
	callerHeader = "X-User-ID"
)

func (c *Controller) initEventRoutes() {
	c.Group.POST("/events", c.PublishEvent)
	if c.searcher != nil {
		c.Group.GET("/search", c.Search)
		c.Group.POST("/search", c.Search)
	}
}

// PublishEvent accepts a record event. By default it is queued on the
// event bus; with ?wait=true it is routed synchronously and the decision
// is returned.
func (c *Controller) PublishEvent(ctx echo.Context) error {
	var event alerting.Event
	if err := ctx.Bind(&event); err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if event.Name == "" {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "event is required"})
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = c.now()
	}

	if c.index != nil {
		if id := event.EntityID(); id != "" {
			c.index.Add(id, event.Record)
		}
	}

	if ctx.QueryParam("wait") == QueryValueTrue {
		if c.engine == nil {
			return c.engineUnavailable(ctx)
		}
		decision, err := c.engine.Process(ctx.Request().Context(), &event)
		if err != nil {
			return c.HandleError(ctx, err, "Failed to route event", http.StatusInternalServerError)
		}
		return ctx.JSON(http.StatusOK, decision)
	}

	if c.bus == nil {
		return c.engineUnavailable(ctx)
	}
	if !c.bus.Publish(&event) {
		return ctx.JSON(http.StatusServiceUnavailable, map[string]string{"error": "Event queue is full"})
	}
	c.logDebugIfEnabled("event queued",
		logger.String("event", event.Name),
		logger.String("entity_id", event.EntityID()))
	return ctx.JSON(http.StatusAccepted, map[string]string{"status": "queued"})
}

// SearchRequest is the search body for POST.
type SearchRequest struct {
	Query string `json:"query" query:"q"`
	Limit int    `json:"limit" query:"limit"`
}

// Search runs a keyword search over indexed records. Each caller has an
// hourly and daily quota.
func (c *Controller) Search(ctx echo.Context) error {
	var req SearchRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	if req.Query == "" {
		req.Query = ctx.QueryParam("q")
	}
	if req.Query == "" {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "query is required"})
	}
	if req.Limit == 0 {
		if v, err := strconv.Atoi(ctx.QueryParam("limit")); err == nil {
			req.Limit = v
		}
	}
	if req.Limit <= 0 {
		req.Limit = defaultSearchLimit
	}
	req.Limit = min(req.Limit, maxSearchLimit)

	caller := ctx.Request().Header.Get(callerHeader)
	if caller == "" {
		caller = ctx.RealIP()
	}

	hits, err := c.searcher.Search(ctx.Request().Context(), caller, req.Query, req.Limit)
	if err != nil {
		if errors.IsCategory(err, errors.CategoryRateLimit) {
			c.metrics.RecordRateLimited("search")
		}
		return c.HandleError(ctx, err, "Search failed", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"query": req.Query,
		"hits":  hits,
		"count": len(hits),
	})
}
