// Package telemetry forwards built errors to Sentry when a DSN is configured.
package telemetry

import (
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/deskops/itsm-engine/internal/errors"
	"github.com/deskops/itsm-engine/internal/logger"
)

const flushTimeout = 2 * time.Second

// Config controls error reporting.
type Config struct {
	DSN         string
	Environment string
	Release     string
	// Categories limits which error categories are reported. Empty reports
	// everything except validation errors, which are user input noise.
	Categories []errors.Category
}

// Init configures Sentry and registers it as the errors reporter. It returns
// a flush function to defer in main. With an empty DSN it is a no-op.
func Init(cfg Config, log logger.Logger) (func(), error) {
	if cfg.DSN == "" {
		return func() {}, nil
	}

	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
		Release:     cfg.Release,
	}); err != nil {
		return func() {}, errors.New(err).
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Context("operation", "sentry_init").
			Build()
	}

	errors.SetReporter(newReporter(cfg.Categories, sentry.CurrentHub()))
	log.Info("error reporting enabled", logger.String("environment", cfg.Environment))

	return func() {
		errors.SetReporter(nil)
		sentry.Flush(flushTimeout)
	}, nil
}

// capturer is the subset of *sentry.Hub the reporter needs.
type capturer interface {
	WithScope(f func(scope *sentry.Scope))
	CaptureException(exception error) *sentry.EventID
}

func newReporter(categories []errors.Category, hub capturer) errors.Reporter {
	allowed := make(map[errors.Category]bool, len(categories))
	for _, c := range categories {
		allowed[c] = true
	}

	return func(err *errors.EnhancedError) {
		if !shouldReport(err.Category(), allowed) {
			return
		}
		hub.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("component", err.Component())
			scope.SetTag("category", string(err.Category()))
			if ctx := err.Context(); len(ctx) > 0 {
				scope.SetContext("error_context", sentry.Context(ctx))
			}
			hub.CaptureException(err)
		})
	}
}

func shouldReport(c errors.Category, allowed map[errors.Category]bool) bool {
	if len(allowed) == 0 {
		return c != errors.CategoryValidation
	}
	return allowed[c]
}
