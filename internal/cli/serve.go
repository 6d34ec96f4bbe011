package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/deskops/itsm-engine/internal/alerting"
	"github.com/deskops/itsm-engine/internal/api"
	apiv2 "github.com/deskops/itsm-engine/internal/api/v2"
	"github.com/deskops/itsm-engine/internal/channel"
	"github.com/deskops/itsm-engine/internal/conf"
	"github.com/deskops/itsm-engine/internal/errors"
	"github.com/deskops/itsm-engine/internal/logger"
	"github.com/deskops/itsm-engine/internal/mqtt"
	"github.com/deskops/itsm-engine/internal/notification"
	"github.com/deskops/itsm-engine/internal/observability/metrics"
	"github.com/deskops/itsm-engine/internal/ratelimit"
	"github.com/deskops/itsm-engine/internal/ruleset"
	"github.com/deskops/itsm-engine/internal/search"
	"github.com/deskops/itsm-engine/internal/sla"
	"github.com/deskops/itsm-engine/internal/telemetry"
)

const (
	shutdownTimeout      = 10 * time.Second
	defaultCheckInterval = time.Minute
)

// ServeCmd runs the routing engine, the SLA monitor, MQTT ingestion and
// the HTTP API.
func ServeCmd() *cobra.Command {
	var entities string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the routing engine and the HTTP API",
		Long: `Start the notification routing engine and serve the REST API under
/api/v2. With --entities, open tickets and incidents are read from the file
on every SLA check and warning or breach events are routed like any other.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, doc, err := loadRuntime(cmd)
			if err != nil {
				return err
			}
			log := newLogger(settings)

			flush, err := telemetry.Init(telemetry.Config{
				DSN:         settings.Sentry.DSN,
				Environment: settings.Sentry.Environment,
				Release:     "itsm-engine@" + Version,
			}, log)
			if err != nil {
				log.Warn("error reporting disabled", logger.Error(err))
			} else {
				defer flush()
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, settings, doc, entities, log)
		},
	}
	cmd.Flags().StringVar(&entities, "entities", "", "JSON or YAML file of open entities watched for SLA risk")
	return cmd
}

// run wires the engine and blocks until ctx is done or the server fails.
func run(ctx context.Context, settings *conf.Settings, doc *ruleset.Document, entitiesPath string, log logger.Logger) error {
	store, err := ruleset.NewStore(doc, settings.Alerting.HistoryLimit)
	if err != nil {
		return err
	}
	registry := channel.NewRegistry(store.Channels())

	notification.Initialize(&notification.ServiceConfig{})
	outbox := notification.GetService()

	m, err := metrics.New(true)
	if err != nil {
		return err
	}

	bus := alerting.NewEventBus()
	engine := alerting.Initialize(store, registry, bus, alerting.Options{Metrics: m, Outbox: outbox}, log)
	defer func() {
		bus.Stop()
		engine.Stop()
		notification.SetEngineActive(false)
	}()

	index := search.NewIndex()
	limiter := ratelimit.Chain{
		ratelimit.NewTokenBucket(settings.Search.PerSecond, settings.Search.Burst),
		ratelimit.NewWindowLimiter(settings.Search.HourlyLimit, settings.Search.DailyLimit),
	}

	server := api.NewServer(settings, apiv2.Deps{
		Store:    store,
		Channels: registry,
		Engine:   engine,
		Bus:      bus,
		Searcher: search.NewSearcher(index, limiter, log),
		Index:    index,
		Outbox:   outbox,
		Metrics:  m,
	}, log)

	if settings.MQTT.Enabled {
		ingestor, err := mqtt.NewIngestor(settings.MQTT, bus.Publish, m, log)
		if err != nil {
			return err
		}
		if err := ingestor.Start(ctx); err != nil {
			return err
		}
		defer ingestor.Stop()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if entitiesPath != "" {
		monitor := alerting.NewSLAMonitor(
			fileEntities(entitiesPath, index),
			store.Targets,
			alerting.SLAMonitorConfig{
				WarnPercentLeft: settings.SLA.WarnPercentLeft,
				Metrics:         m,
				Publish:         bus.Publish,
			}, log)
		interval := settings.SLA.CheckInterval.Std()
		if interval <= 0 {
			interval = defaultCheckInterval
		}
		g.Go(func() error {
			monitor.Run(gctx, interval)
			return nil
		})
	}

	log.Info("itsm engine started",
		logger.String("version", Version),
		logger.String("listen", settings.WebServer.Listen))
	return g.Wait()
}

// fileEntities reads open entities from path on every call and indexes
// them for search.
func fileEntities(path string, index *search.Index) alerting.EntitySource {
	return alerting.EntitySourceFunc(func(ctx context.Context) ([]sla.Entity, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		recs, err := readRecords(path)
		if err != nil {
			return nil, errors.New(err).
				Component("cli").
				Category(errors.CategoryMissingData).
				Context("path", path).
				Build()
		}
		out := make([]sla.Entity, 0, len(recs))
		for _, rec := range recs {
			ent, err := entityFromRecord(rec)
			if err != nil {
				return nil, err
			}
			if ent.ID != "" {
				index.Add(ent.ID, rec)
			}
			out = append(out, ent)
		}
		return out, nil
	})
}
