package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/deskops/itsm-engine/internal/condition"
	"github.com/deskops/itsm-engine/internal/errors"
	"github.com/deskops/itsm-engine/internal/ruleset"
	"github.com/deskops/itsm-engine/internal/schedule"
	"github.com/deskops/itsm-engine/internal/sla"
)

// ScheduleCmd shows which channel each schedule selects at a given time.
func ScheduleCmd() *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "schedule [schedule-id]",
		Short: "Show schedule outcomes at a point in time",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, doc, err := loadRuntime(cmd)
			if err != nil {
				return err
			}
			when, err := parseAt(at, time.Now)
			if err != nil {
				return err
			}

			schedules := doc.Schedules
			if len(args) == 1 {
				s, ok := doc.Schedule(args[0])
				if !ok {
					return errors.Newf("schedule %q not found", args[0]).
						Component("cli").
						Category(errors.CategoryNotFound).
						Build()
				}
				schedules = []schedule.Rule{*s}
			}
			if len(schedules) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No schedules defined.")
				return nil
			}

			w := newTable(cmd.OutOrStdout())
			fmt.Fprintln(w, "SCHEDULE\tTIMEZONE\tENABLED\tOUTCOME\tCHANNEL")
			fmt.Fprintln(w, "--------\t--------\t-------\t-------\t-------")
			for i := range schedules {
				s := &schedules[i]
				ch, outcome := schedule.Channel(when, s)
				fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\n", s.ID, s.Timezone, s.Enabled, outcomeLabel(outcome), ch)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "evaluation time (RFC 3339); defaults to now")
	return cmd
}

// SLACmd prints the response and resolution SLA of each entity in a file.
func SLACmd() *cobra.Command {
	var (
		entities string
		at       string
	)
	cmd := &cobra.Command{
		Use:   "sla",
		Short: "Calculate SLA status for tickets, incidents and cases",
		Example: `  itsm sla --entities open-incidents.yaml
  itsm sla --entities - --at 2024-06-03T12:00:00Z`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, doc, err := loadRuntime(cmd)
			if err != nil {
				return err
			}
			when, err := parseAt(at, time.Now)
			if err != nil {
				return err
			}
			recs, err := readRecords(entities)
			if err != nil {
				return err
			}

			w := newTable(cmd.OutOrStdout())
			fmt.Fprintln(w, "ENTITY\tPRIORITY\tRESPONSE\tLEFT\tRESOLUTION\tLEFT")
			fmt.Fprintln(w, "------\t--------\t--------\t----\t----------\t----")
			for _, rec := range recs {
				ent, err := entityFromRecord(rec)
				if err != nil {
					return err
				}
				s := sla.Summarize(&ent, doc.SLATargets, when)
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					ent.ID, ent.Priority,
					slaLabel(s.Response, settings.SLA.WarnPercentLeft), remaining(s.Response),
					slaLabel(s.Resolution, settings.SLA.WarnPercentLeft), remaining(s.Resolution))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&entities, "entities", "-", "JSON or YAML file with one entity or a list")
	cmd.Flags().StringVar(&at, "at", "", "evaluation time (RFC 3339); defaults to now")
	return cmd
}

// ValidateCmd checks a rule document and reports every problem found.
func ValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [rules-file]",
		Short: "Validate a rule document",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString(flagRules)
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				return errors.Newf("no rule document given").
					Component("cli").
					Category(errors.CategoryValidation).
					Build()
			}

			out := cmd.OutOrStdout()
			doc, err := ruleset.Load(path)
			if err == nil {
				err = doc.Validate()
			}
			if err != nil {
				problems := splitErrors(err)
				for _, p := range problems {
					fmt.Fprintf(out, "%s %s\n", failColor.Sprint("✗"), p)
				}
				return errors.Newf("%s: %d problem(s)", path, len(problems)).
					Component("cli").
					Category(errors.CategoryValidation).
					Build()
			}

			fmt.Fprintf(out, "%s %s: %d rules, %d groups, %d schedules, %d channels\n",
				okColor.Sprint("✓"), path,
				len(doc.Routing), len(doc.Groups), len(doc.Schedules), len(doc.Channels))
			return nil
		},
	}
}

// splitErrors flattens joined errors into one message each.
func splitErrors(err error) []string {
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		var out []string
		for _, e := range joined.Unwrap() {
			out = append(out, splitErrors(e)...)
		}
		return out
	}
	return []string{err.Error()}
}

// SchemaCmd prints the operator catalog and the record field catalog.
func SchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the condition operator and field catalog as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, doc, err := loadRuntime(cmd)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				condition.Schema
				Fields []ruleset.Field `json:"fields"`
				Events []string        `json:"events"`
			}{condition.GetSchema(), doc.Catalog(), ruleset.Events()})
		},
	}
}
