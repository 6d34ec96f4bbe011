package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/deskops/itsm-engine/internal/alerting"
	"github.com/deskops/itsm-engine/internal/channel"
	"github.com/deskops/itsm-engine/internal/errors"
	"github.com/deskops/itsm-engine/internal/logger"
	"github.com/deskops/itsm-engine/internal/ruleset"
)

const defaultRouteWorkers = 8

// RouteCmd previews which channel each record would be routed to.
func RouteCmd() *cobra.Command {
	var (
		event   string
		records string
		at      string
		asJSON  bool
		workers int
	)
	cmd := &cobra.Command{
		Use:   "route",
		Short: "Preview routing for records without sending anything",
		Long: `Resolve routing rules for one record or a list of records read from a
JSON or YAML file ("-" reads standard input). Schedules are evaluated at
--at, or now. No notification is sent and no cooldown is started.`,
		Example: `  itsm route --event incident.created --records incident.yaml
  itsm route --event ticket.created --records - --at 2024-06-03T22:00:00Z`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if event == "" {
				return errors.Newf("--event is required; known events: %v", ruleset.Events()).
					Component("cli").
					Category(errors.CategoryValidation).
					Build()
			}
			settings, doc, err := loadRuntime(cmd)
			if err != nil {
				return err
			}
			when, err := parseAt(at, time.Now)
			if err != nil {
				return err
			}
			recs, err := readRecords(records)
			if err != nil {
				return err
			}

			store, err := ruleset.NewStore(doc, 0)
			if err != nil {
				return err
			}
			registry := channel.NewRegistry(store.Channels())
			engine := alerting.NewEngine(store, registry,
				alerting.NewEvaluator(settings, doc.Catalog()), nil,
				alerting.EngineConfig{}, logger.Discard())
			defer engine.Stop()

			results, err := engine.PreviewAll(cmd.Context(), event, recs, when, workers)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(results)
			}

			w := newTable(out)
			fmt.Fprintln(w, "RECORD\tRESULT\tRULE\tCHANNEL")
			fmt.Fprintln(w, "------\t------\t----\t-------")
			for i, r := range results {
				id, _ := recs[i]["id"].(string)
				if id == "" {
					id = fmt.Sprintf("#%d", i+1)
				}
				rule, ch := "-", "-"
				if r.Matched {
					rule, ch = r.Match.RuleName, r.Match.ChannelID
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", id, routeLabel(r), rule, ch)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&event, "event", "", "event name, e.g. incident.created")
	cmd.Flags().StringVar(&records, "records", "-", "JSON or YAML file with one record or a list")
	cmd.Flags().StringVar(&at, "at", "", "evaluation time (RFC 3339); defaults to now")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print results as JSON")
	cmd.Flags().IntVar(&workers, "workers", defaultRouteWorkers, "records resolved concurrently")
	return cmd
}
