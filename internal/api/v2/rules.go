package api

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/deskops/itsm-engine/internal/alerting"
	"github.com/deskops/itsm-engine/internal/logger"
	"github.com/deskops/itsm-engine/internal/ruleset"
)

const (
	maxHistoryLimit     = 200
	defaultHistoryLimit = 50
	// maxImportBytes caps an imported rule document.
	maxImportBytes = 4 << 20
)

// initRuleRoutes registers routing rule API endpoints.
func (c *Controller) initRuleRoutes() {
	if c.store == nil {
		return
	}

	rules := c.Group.Group("/rules")
	rules.GET("", c.ListRules)
	rules.GET("/export", c.ExportRules)
	rules.POST("/import", c.ImportRules)
	rules.POST("/reset-defaults", c.ResetDefaultRules)
	rules.GET("/:id", c.GetRule)
	rules.PATCH("/:id/toggle", c.ToggleRule)
	rules.POST("/:id/test", c.TestRule)

	c.Group.GET("/history", c.ListHistory)
}

// ListRules returns routing rules, optionally filtered.
func (c *Controller) ListRules(ctx echo.Context) error {
	filter := ruleset.RuleFilter{
		Event: ctx.QueryParam("event"),
	}
	if enabledParam := ctx.QueryParam("enabled"); enabledParam != "" {
		v := enabledParam == QueryValueTrue
		filter.Enabled = &v
	}
	if builtInParam := ctx.QueryParam("built_in"); builtInParam != "" {
		v := builtInParam == QueryValueTrue
		filter.BuiltIn = &v
	}

	rules, err := c.store.ListRules(ctx.Request().Context(), filter)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list routing rules", http.StatusInternalServerError)
	}

	return ctx.JSON(http.StatusOK, map[string]any{
		"rules": rules,
		"count": len(rules),
	})
}

// GetRule returns a single routing rule by ID.
func (c *Controller) GetRule(ctx echo.Context) error {
	rule, err := c.store.GetRule(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return c.HandleError(ctx, err, "Failed to get routing rule", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, rule)
}

// ToggleRule enables or disables a routing rule.
func (c *Controller) ToggleRule(ctx echo.Context) error {
	id := ctx.Param("id")
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := ctx.Bind(&body); err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}

	if err := c.store.ToggleRule(ctx.Request().Context(), id, body.Enabled); err != nil {
		return c.HandleError(ctx, err, "Failed to toggle routing rule", http.StatusInternalServerError)
	}

	c.logInfoIfEnabled("routing rule toggled",
		logger.String("rule_id", id),
		logger.Bool("enabled", body.Enabled))

	return ctx.JSON(http.StatusOK, map[string]any{"id": id, "enabled": body.Enabled})
}

// TestRule fires a rule directly, bypassing conditions and cooldown.
func (c *Controller) TestRule(ctx echo.Context) error {
	if c.engine == nil {
		return c.engineUnavailable(ctx)
	}
	decision, err := c.engine.TestFireRule(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return c.HandleError(ctx, err, "Failed to test routing rule", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, decision)
}

// ResetDefaultRules replaces the whole rule document with the built-in one.
func (c *Controller) ResetDefaultRules(ctx echo.Context) error {
	if err := c.replaceDocument(ruleset.DefaultDocument()); err != nil {
		return c.HandleError(ctx, err, "Failed to reset default rules", http.StatusInternalServerError)
	}
	c.logInfoIfEnabled("rule document reset to defaults")
	return ctx.JSON(http.StatusOK, map[string]string{"status": "defaults reset"})
}

// ListHistory returns paginated routing history, newest first.
func (c *Controller) ListHistory(ctx echo.Context) error {
	filter := ruleset.HistoryFilter{
		RuleID: ctx.QueryParam("rule_id"),
		Limit:  defaultHistoryLimit,
	}
	if limitParam := ctx.QueryParam("limit"); limitParam != "" {
		v, err := strconv.Atoi(limitParam)
		if err != nil || v <= 0 {
			return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid limit"})
		}
		filter.Limit = min(v, maxHistoryLimit)
	}
	if offsetParam := ctx.QueryParam("offset"); offsetParam != "" {
		v, err := strconv.Atoi(offsetParam)
		if err == nil && v >= 0 {
			filter.Offset = v
		}
	}

	items, total, err := c.store.ListHistory(ctx.Request().Context(), filter)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list routing history", http.StatusInternalServerError)
	}

	return ctx.JSON(http.StatusOK, map[string]any{
		"history": items,
		"total":   total,
		"limit":   filter.Limit,
		"offset":  filter.Offset,
	})
}

// ExportRules exports the rule document as JSON or YAML.
func (c *Controller) ExportRules(ctx echo.Context) error {
	format := ruleset.FormatJSON
	if strings.EqualFold(ctx.QueryParam("format"), string(ruleset.FormatYAML)) {
		format = ruleset.FormatYAML
	}

	data, err := ruleset.Marshal(c.store.Document(), format)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to export rules", http.StatusInternalServerError)
	}

	contentType := echo.MIMEApplicationJSON
	if format == ruleset.FormatYAML {
		contentType = "application/yaml"
	}
	ctx.Response().Header().Set("Content-Disposition", "attachment; filename=itsm-rules."+string(format))
	return ctx.Blob(http.StatusOK, contentType, data)
}

// ImportRules replaces the rule document. The body is YAML when the
// format query parameter or the content type says so, JSON otherwise. An
// invalid document leaves the current one in place.
func (c *Controller) ImportRules(ctx echo.Context) error {
	data, err := io.ReadAll(io.LimitReader(ctx.Request().Body, maxImportBytes))
	if err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}

	format := ruleset.FormatJSON
	if strings.EqualFold(ctx.QueryParam("format"), string(ruleset.FormatYAML)) ||
		strings.Contains(ctx.Request().Header.Get(echo.HeaderContentType), "yaml") {
		format = ruleset.FormatYAML
	}

	doc, err := ruleset.Parse(data, format)
	if err != nil {
		return c.HandleError(ctx, err, "Invalid rule document", http.StatusBadRequest)
	}
	if err := c.replaceDocument(doc); err != nil {
		return c.HandleError(ctx, err, "Invalid rule document", http.StatusBadRequest)
	}

	c.logInfoIfEnabled("rule document imported",
		logger.Int("rules", len(doc.Routing)),
		logger.Int("channels", len(doc.Channels)))

	return ctx.JSON(http.StatusOK, map[string]any{
		"imported":  len(doc.Routing),
		"groups":    len(doc.Groups),
		"schedules": len(doc.Schedules),
		"channels":  len(doc.Channels),
	})
}

// replaceDocument swaps the store document, the channel registry and the
// engine's evaluator, whose field types come from the document catalog.
func (c *Controller) replaceDocument(doc *ruleset.Document) error {
	if err := c.store.Replace(doc); err != nil {
		return err
	}
	if c.channels != nil {
		c.channels.Replace(doc.Channels)
	}
	if c.engine != nil {
		c.engine.SetEvaluator(alerting.NewEvaluator(c.Settings, doc.Catalog()))
	}
	return nil
}
