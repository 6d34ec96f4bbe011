package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/deskops/itsm-engine/internal/logger"
	"github.com/deskops/itsm-engine/internal/notification"
)

// SSE connection configuration
const (
	maxSSEConnectionDuration = 30 * time.Minute
	rateLimitWindow          = 1 * time.Minute
	heartbeatInterval        = 30 * time.Second

	// outboxStreamBuffer is the per-client message buffer; slow clients
	// miss messages.
	outboxStreamBuffer = 10

	rateLimitRequestsPerWindow = 10
	rateLimitBurst             = 15
)

func (c *Controller) initOutboxRoutes() {
	if c.outbox != nil {
		rateLimiterConfig := middleware.RateLimiterConfig{
			Skipper: middleware.DefaultSkipper,
			Store: middleware.NewRateLimiterMemoryStoreWithConfig(
				middleware.RateLimiterMemoryStoreConfig{
					Rate:      rateLimitRequestsPerWindow,
					Burst:     rateLimitBurst,
					ExpiresIn: rateLimitWindow,
				},
			),
			IdentifierExtractor: func(ctx echo.Context) (string, error) {
				return ctx.RealIP(), nil
			},
			ErrorHandler: func(ctx echo.Context, err error) error {
				c.metrics.RecordRateLimited("outbox_stream")
				return ctx.JSON(http.StatusTooManyRequests, map[string]string{
					"error": "Too many outbox stream connection attempts, please wait before trying again",
				})
			},
			DenyHandler: func(ctx echo.Context, identifier string, err error) error {
				c.metrics.RecordRateLimited("outbox_stream")
				return ctx.JSON(http.StatusTooManyRequests, map[string]string{
					"error": "Too many outbox stream connection attempts, please wait before trying again",
				})
			},
		}

		c.Group.GET("/outbox", c.ListOutbox)
		c.Group.GET("/outbox/stream", c.StreamOutbox, middleware.RateLimiterWithConfig(rateLimiterConfig))
	}

	if c.channels != nil {
		c.Group.GET("/channels", c.ListChannels)
		c.Group.PATCH("/channels/:id", c.UpdateChannel)
	}
}

// ListOutbox returns delivered messages, newest first.
func (c *Controller) ListOutbox(ctx echo.Context) error {
	filter := notification.Filter{
		ChannelID: ctx.QueryParam("channel_id"),
		RuleID:    ctx.QueryParam("rule_id"),
	}
	if limitParam := ctx.QueryParam("limit"); limitParam != "" {
		v, err := strconv.Atoi(limitParam)
		if err != nil || v <= 0 {
			return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid limit"})
		}
		filter.Limit = v
	}

	messages := c.outbox.List(filter)
	return ctx.JSON(http.StatusOK, map[string]any{
		"messages": messages,
		"count":    len(messages),
		"total":    c.outbox.Count(),
	})
}

// StreamOutbox streams new outbox messages as server-sent events.
func (c *Controller) StreamOutbox(ctx echo.Context) error {
	timeoutCtx, cancel := context.WithTimeout(ctx.Request().Context(), maxSSEConnectionDuration)
	defer cancel()

	messages, unsubscribe := c.outbox.Subscribe(outboxStreamBuffer)
	defer unsubscribe()

	setSSEHeaders(ctx)
	clientID := uuid.New().String()
	if err := sendSSEMessage(ctx, "connected", map[string]string{
		"clientId": clientID,
		"message":  "Connected to outbox stream",
	}); err != nil {
		return err
	}
	c.logDebugIfEnabled("outbox stream connected",
		logger.String("client_id", clientID),
		logger.String("ip", ctx.RealIP()))

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			if err := sendSSEMessage(ctx, "notification", msg); err != nil {
				return err
			}
		case <-ticker.C:
			if err := sendSSEMessage(ctx, "heartbeat", map[string]string{
				"timestamp": c.now().UTC().Format(time.RFC3339),
			}); err != nil {
				return err
			}
		case <-timeoutCtx.Done():
			c.logDebugIfEnabled("outbox stream closed", logger.String("client_id", clientID))
			return nil
		}
	}
}

// setSSEHeaders prepares the response for an event stream.
func setSSEHeaders(ctx echo.Context) {
	h := ctx.Response().Header()
	h.Set(echo.HeaderContentType, "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	ctx.Response().WriteHeader(http.StatusOK)
	ctx.Response().Flush()
}

// sendSSEMessage writes one event and flushes it.
func sendSSEMessage(ctx echo.Context, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(ctx.Response(), "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	ctx.Response().Flush()
	return nil
}

// ListChannels returns the channel registry with availability.
func (c *Controller) ListChannels(ctx echo.Context) error {
	channels := c.channels.List()
	out := make([]map[string]any, 0, len(channels))
	for i := range channels {
		ch := &channels[i]
		out = append(out, map[string]any{
			"id":        ch.ID,
			"name":      ch.Name,
			"kind":      ch.Kind,
			"enabled":   ch.Enabled,
			"healthy":   ch.Healthy,
			"available": ch.Available(),
		})
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"channels": out,
		"count":    len(out),
	})
}

// UpdateChannel sets a channel's enabled flag or records a health probe
// result.
func (c *Controller) UpdateChannel(ctx echo.Context) error {
	id := ctx.Param("id")
	var body struct {
		Enabled *bool `json:"enabled"`
		Healthy *bool `json:"healthy"`
	}
	if err := ctx.Bind(&body); err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if body.Enabled == nil && body.Healthy == nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "enabled or healthy is required"})
	}

	if body.Enabled != nil {
		if err := c.channels.SetEnabled(id, *body.Enabled); err != nil {
			return c.HandleError(ctx, err, "Failed to update channel", http.StatusInternalServerError)
		}
	}
	if body.Healthy != nil {
		if err := c.channels.SetHealthy(id, *body.Healthy); err != nil {
			return c.HandleError(ctx, err, "Failed to update channel", http.StatusInternalServerError)
		}
	}

	ch, _ := c.channels.Get(id)
	c.logInfoIfEnabled("channel updated",
		logger.String("channel_id", id),
		logger.Bool("enabled", ch.Enabled),
		logger.Bool("healthy", ch.Healthy))
	return ctx.JSON(http.StatusOK, map[string]any{
		"id":        ch.ID,
		"enabled":   ch.Enabled,
		"healthy":   ch.Healthy,
		"available": ch.Available(),
	})
}
