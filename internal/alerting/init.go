package alerting

import (
	"github.com/deskops/itsm-engine/internal/channel"
	"github.com/deskops/itsm-engine/internal/condition"
	"github.com/deskops/itsm-engine/internal/conf"
	"github.com/deskops/itsm-engine/internal/logger"
	"github.com/deskops/itsm-engine/internal/notification"
	"github.com/deskops/itsm-engine/internal/observability/metrics"
	"github.com/deskops/itsm-engine/internal/ruleset"
)

// Options carries optional collaborators for Initialize.
type Options struct {
	Metrics *metrics.Metrics
	// Outbox receives notifications; nil uses the global service.
	Outbox Outbox
}

// NewEvaluator builds a condition evaluator from settings and the field
// catalog. Nil settings give the strict defaults.
func NewEvaluator(settings *conf.Settings, catalog []ruleset.Field) *condition.Evaluator {
	opts := []condition.Option{condition.WithFieldTypes(ruleset.FieldTypes(catalog))}
	if settings != nil {
		opts = append(opts, condition.WithCaseFolding(settings.Condition.CaseFolding))
		if settings.Condition.AbsentNotInMatches {
			opts = append(opts, condition.WithAbsentPolicy(condition.AbsentVacuousNotIn))
		}
	}
	return condition.NewEvaluator(opts...)
}

// Initialize creates the routing engine, subscribes it to the event bus
// and starts history cleanup.
func Initialize(
	store *ruleset.Store,
	channels *channel.Registry,
	eventBus *EventBus,
	opts Options,
	log logger.Logger,
) *Engine {
	settings := conf.GetSettings()
	doc := store.Document()

	dispatcher := NewDispatcher(channels, opts.Outbox, opts.Metrics, log)
	cfg := EngineConfig{Metrics: opts.Metrics}
	if settings != nil {
		cfg.DefaultCooldown = settings.Alerting.DefaultCooldown.Std()
	}
	engine := NewEngine(store, channels, NewEvaluator(settings, doc.Catalog()), dispatcher.Dispatch, cfg, log)

	eventBus.OnDrop = func(_ *Event) { opts.Metrics.RecordDropped() }
	eventBus.Subscribe(engine.HandleEvent)
	SetGlobalBus(eventBus)

	notification.SetEngineActive(true)

	if settings != nil {
		engine.StartHistoryCleanup(settings.Alerting.HistoryRetention.Std())
	}

	log.Info("routing engine initialized",
		logger.Int("rules_loaded", len(doc.Routing)),
		logger.Int("channels", len(doc.Channels)))

	return engine
}
