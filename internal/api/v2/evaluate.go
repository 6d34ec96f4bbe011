package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/deskops/itsm-engine/internal/alerting"
	"github.com/deskops/itsm-engine/internal/condition"
	"github.com/deskops/itsm-engine/internal/errors"
	"github.com/deskops/itsm-engine/internal/logger"
	"github.com/deskops/itsm-engine/internal/ruleset"
	"github.com/deskops/itsm-engine/internal/schedule"
	"github.com/deskops/itsm-engine/internal/sla"
)

const (
	// resolveWorkers bounds concurrent batch routing previews.
	resolveWorkers = 8
	// maxBatchRecords caps one batch routing request.
	maxBatchRecords = 1000
)

func (c *Controller) initEvaluationRoutes() {
	c.Group.POST("/conditions/evaluate", c.EvaluateConditions)
	c.Group.POST("/routing/resolve", c.ResolveRouting)
	c.Group.POST("/schedule/resolve", c.ResolveSchedule)
	c.Group.POST("/sla/calculate", c.CalculateSLA)
}

// SchemaResponse is the rule editor schema.
type SchemaResponse struct {
	condition.Schema
	Fields []ruleset.Field `json:"fields"`
	Events []string        `json:"events"`
}

// GetSchema returns the operator catalog and the record fields.
func (c *Controller) GetSchema(ctx echo.Context) error {
	resp := SchemaResponse{Schema: condition.GetSchema(), Events: ruleset.Events()}
	if c.store != nil {
		resp.Fields = c.store.Document().Catalog()
	} else {
		resp.Fields = ruleset.DefaultFields()
	}
	return ctx.JSON(http.StatusOK, resp)
}

// EvaluateRequest tests conditions against one record.
type EvaluateRequest struct {
	Record     condition.Record      `json:"record"`
	Conditions []condition.Condition `json:"conditions"`
	GroupIDs   []string              `json:"group_ids"`
}

// ConditionResult is the outcome of one condition.
type ConditionResult struct {
	Condition condition.Condition `json:"condition"`
	Matched   bool                `json:"matched"`
}

// EvaluateResponse reports each condition and group and the AND of all.
type EvaluateResponse struct {
	Matched    bool              `json:"matched"`
	Conditions []ConditionResult `json:"conditions"`
	Groups     map[string]bool   `json:"groups,omitempty"`
}

// EvaluateConditions validates and evaluates conditions and groups.
func (c *Controller) EvaluateConditions(ctx echo.Context) error {
	var req EvaluateRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if req.Record == nil {
		req.Record = condition.Record{}
	}

	doc := c.document()
	catalog := doc.Catalog()
	for _, cond := range req.Conditions {
		if err := ruleset.ValidateCondition(catalog, cond); err != nil {
			return c.HandleError(ctx, err, "Invalid condition", http.StatusBadRequest)
		}
	}

	eval := alerting.NewEvaluator(c.Settings, catalog)
	resp := EvaluateResponse{Matched: true, Conditions: make([]ConditionResult, 0, len(req.Conditions))}
	for _, cond := range req.Conditions {
		ok := eval.Matches(req.Record, cond)
		resp.Conditions = append(resp.Conditions, ConditionResult{Condition: cond, Matched: ok})
		resp.Matched = resp.Matched && ok
	}

	if len(req.GroupIDs) > 0 {
		resp.Groups = make(map[string]bool, len(req.GroupIDs))
		for _, id := range req.GroupIDs {
			g, ok := doc.Group(id)
			if !ok {
				return c.HandleError(ctx, errors.Newf("condition group %q not found", id).
					Component("api").
					Category(errors.CategoryNotFound).
					Context("group_id", id).
					Build(), "Condition group not found", http.StatusNotFound)
			}
			ok = eval.MatchesGroup(req.Record, g)
			resp.Groups[id] = ok
			resp.Matched = resp.Matched && ok
		}
	}

	c.metrics.RecordCondition(resp.Matched)
	return ctx.JSON(http.StatusOK, resp)
}

// ResolveRequest previews routing for one record or a batch.
type ResolveRequest struct {
	Event   string             `json:"event"`
	Record  condition.Record   `json:"record"`
	Records []condition.Record `json:"records"`
	At      *time.Time         `json:"at"`
}

// ResolveRouting previews which channel an event would reach. Nothing is
// dispatched and cooldowns are untouched.
func (c *Controller) ResolveRouting(ctx echo.Context) error {
	if c.engine == nil {
		return c.engineUnavailable(ctx)
	}
	var req ResolveRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	at := c.now()
	if req.At != nil {
		at = *req.At
	}
	reqCtx := ctx.Request().Context()

	if len(req.Records) > 0 {
		if len(req.Records) > maxBatchRecords {
			return ctx.JSON(http.StatusRequestEntityTooLarge, map[string]string{"error": "Too many records"})
		}
		results, err := c.engine.PreviewAll(reqCtx, req.Event, req.Records, at, resolveWorkers)
		if err != nil {
			return c.HandleError(ctx, err, "Failed to resolve routing", http.StatusInternalServerError)
		}
		return ctx.JSON(http.StatusOK, map[string]any{
			"results": results,
			"count":   len(results),
		})
	}

	if req.Record == nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "record or records is required"})
	}
	decision, err := c.engine.Preview(reqCtx, &alerting.Event{Name: req.Event, Record: req.Record, Timestamp: at})
	if err != nil {
		return c.HandleError(ctx, err, "Failed to resolve routing", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, decision)
}

// ScheduleRequest names a stored schedule or carries one inline.
type ScheduleRequest struct {
	ScheduleID string         `json:"schedule_id"`
	Schedule   *schedule.Rule `json:"schedule"`
	At         *time.Time     `json:"at"`
}

// ScheduleResponse is the schedule outcome at a point in time.
type ScheduleResponse struct {
	ScheduleID string           `json:"schedule_id,omitempty"`
	Enabled    bool             `json:"enabled"`
	Outcome    schedule.Outcome `json:"outcome"`
	ChannelID  string           `json:"channel_id"`
	At         time.Time        `json:"at"`
}

// ResolveSchedule reports the schedule outcome and channel for a time.
func (c *Controller) ResolveSchedule(ctx echo.Context) error {
	var req ScheduleRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}

	rule := req.Schedule
	switch {
	case req.ScheduleID != "" && c.store != nil:
		s, err := c.store.Schedule(ctx.Request().Context(), req.ScheduleID)
		if err != nil {
			return c.HandleError(ctx, err, "Schedule not found", http.StatusNotFound)
		}
		rule = s
	case rule != nil:
		if err := schedule.Validate(rule); err != nil {
			return c.HandleError(ctx, err, "Invalid schedule", http.StatusBadRequest)
		}
	default:
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "schedule_id or schedule is required"})
	}

	at := c.now()
	if req.At != nil {
		at = *req.At
	}
	ch, outcome := schedule.Channel(at, rule)
	c.metrics.RecordSchedule(outcome)
	return ctx.JSON(http.StatusOK, ScheduleResponse{
		ScheduleID: rule.ID,
		Enabled:    rule.Enabled,
		Outcome:    outcome,
		ChannelID:  ch,
		At:         at,
	})
}

// SLARequest computes SLA state for one entity.
type SLARequest struct {
	Entity sla.Entity `json:"entity"`
	// Type limits the result to one SLA type; empty returns both.
	Type sla.Type   `json:"type"`
	At   *time.Time `json:"at"`
}

// SLAResponse carries the summary and the warning flags.
type SLAResponse struct {
	sla.Summary
	ResponseAtRisk   bool `json:"response_at_risk"`
	ResolutionAtRisk bool `json:"resolution_at_risk"`
}

// CalculateSLA computes response and resolution SLAs against the loaded
// targets.
func (c *Controller) CalculateSLA(ctx echo.Context) error {
	var req SLARequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if req.Type != "" && !req.Type.Valid() {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "type must be response or resolution"})
	}

	at := c.now()
	if req.At != nil {
		at = *req.At
	}
	targets := c.document().SLATargets
	warn := c.Settings.SLA.WarnPercentLeft

	if req.Type != "" {
		status := sla.Calculate(&req.Entity, req.Type, targets, at)
		c.metrics.RecordSLA(status)
		return ctx.JSON(http.StatusOK, map[string]any{
			"entity_id": req.Entity.ID,
			"status":    status,
			"at_risk":   sla.AtRisk(status, warn),
		})
	}

	summary := sla.Summarize(&req.Entity, targets, at)
	c.metrics.RecordSLA(summary.Response)
	c.metrics.RecordSLA(summary.Resolution)
	c.logDebugIfEnabled("sla calculated",
		logger.String("entity_id", req.Entity.ID),
		logger.Float64("response_percent_left", summary.Response.PercentLeft))
	return ctx.JSON(http.StatusOK, SLAResponse{
		Summary:          summary,
		ResponseAtRisk:   sla.AtRisk(summary.Response, warn),
		ResolutionAtRisk: sla.AtRisk(summary.Resolution, warn),
	})
}

// document returns the loaded rule document, or the defaults when the
// controller runs without a store.
func (c *Controller) document() *ruleset.Document {
	if c.store == nil {
		return ruleset.DefaultDocument()
	}
	return c.store.Document()
}

func (c *Controller) engineUnavailable(ctx echo.Context) error {
	return ctx.JSON(http.StatusServiceUnavailable, map[string]string{"error": "Routing engine not available"})
}
