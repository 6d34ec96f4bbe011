// Package cli implements the itsm command line.
package cli

import (
	"encoding/json"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/deskops/itsm-engine/internal/conf"
	"github.com/deskops/itsm-engine/internal/condition"
	"github.com/deskops/itsm-engine/internal/errors"
	"github.com/deskops/itsm-engine/internal/logger"
	"github.com/deskops/itsm-engine/internal/ruleset"
	"github.com/deskops/itsm-engine/internal/sla"
)

// Version is set at build time with -ldflags.
var Version = "dev"

const (
	flagConfig = "config"
	flagRules  = "rules"
)

// RootCmd returns the itsm command with every subcommand attached.
func RootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "itsm",
		Short:   "ITSM notification routing and SLA engine",
		Version: Version,
		Long: `itsm routes service desk events to notification channels using
declarative condition rules, business-hour schedules and channel fallback,
and tracks response and resolution SLAs.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().String(flagConfig, "", "settings file (YAML); ITSM_* environment variables override it")
	root.PersistentFlags().String(flagRules, "", "rule document (JSON or YAML); overrides rules.path")

	root.AddCommand(ServeCmd())
	root.AddCommand(RouteCmd())
	root.AddCommand(ScheduleCmd())
	root.AddCommand(SLACmd())
	root.AddCommand(ValidateCmd())
	root.AddCommand(SchemaCmd())
	return root
}

// loadRuntime loads settings and the rule document named by the flags.
func loadRuntime(cmd *cobra.Command) (*conf.Settings, *ruleset.Document, error) {
	configPath, _ := cmd.Flags().GetString(flagConfig)
	settings, err := conf.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if rulesPath, _ := cmd.Flags().GetString(flagRules); rulesPath != "" {
		settings.Rules.Path = rulesPath
	}
	doc, err := loadDocument(settings)
	if err != nil {
		return nil, nil, err
	}
	return settings, doc, nil
}

// loadDocument reads the configured rule document. Without a path the
// built-in document is used when seeding is on, an empty one otherwise.
func loadDocument(s *conf.Settings) (*ruleset.Document, error) {
	var doc *ruleset.Document
	switch {
	case s.Rules.Path != "":
		d, err := ruleset.Load(s.Rules.Path)
		if err != nil {
			return nil, err
		}
		doc = d
	case s.Rules.SeedDefaults:
		doc = ruleset.DefaultDocument()
	default:
		doc = &ruleset.Document{}
	}
	applySettings(doc, s)
	return doc, nil
}

// applySettings fills what the document leaves open from the settings.
// Values written in the document win.
func applySettings(doc *ruleset.Document, s *conf.Settings) {
	for i := range doc.Schedules {
		if doc.Schedules[i].Timezone == "" {
			doc.Schedules[i].Timezone = s.Schedule.DefaultTimezone
		}
	}
	if def := s.Alerting.DefaultChannel; def != "" && hasChannel(doc, def) {
		for i := range doc.Routing {
			r := &doc.Routing[i]
			if r.FallbackChannelID == "" && r.TargetChannelID != def {
				r.FallbackChannelID = def
			}
		}
	}

	t := &doc.SLATargets
	if t.Response == nil {
		t.Response = make(map[string]float64, len(s.SLA.Response))
	}
	if t.Resolution == nil {
		t.Resolution = make(map[string]float64, len(s.SLA.Resolution))
	}
	fill := func(dst, src map[string]float64) {
		for p, h := range src {
			if _, ok := lookupFold(dst, p); !ok {
				dst[p] = h
			}
		}
	}
	fill(t.Response, s.SLA.Response)
	fill(t.Resolution, s.SLA.Resolution)
	if t.FallbackResponse <= 0 {
		t.FallbackResponse = s.SLA.FallbackResponseHours
	}
	if t.FallbackResolution <= 0 {
		t.FallbackResolution = s.SLA.FallbackResolutionHours
	}
}

func hasChannel(doc *ruleset.Document, id string) bool {
	for i := range doc.Channels {
		if doc.Channels[i].ID == id {
			return true
		}
	}
	return false
}

// lookupFold finds a priority key ignoring case; viper lower-cases the
// keys it reads.
func lookupFold(m map[string]float64, key string) (float64, bool) {
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return 0, false
}

func newLogger(s *conf.Settings) logger.Logger {
	return logger.NewSlogLoggerWithFormat(os.Stderr,
		logger.ParseLevel(s.Log.Level),
		logger.Format(s.Log.Format),
		s.Location())
}

// readRecords reads one record or a list of records from a JSON or YAML
// file. "-" reads standard input.
func readRecords(path string) ([]condition.Record, error) {
	var raw any
	if err := decodeFile(path, &raw); err != nil {
		return nil, err
	}
	switch v := raw.(type) {
	case map[string]any:
		return []condition.Record{v}, nil
	case []any:
		out := make([]condition.Record, 0, len(v))
		for i, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, errors.Newf("record %d is not an object", i).
					Component("cli").
					Category(errors.CategoryValidation).
					Context("path", path).
					Build()
			}
			out = append(out, m)
		}
		return out, nil
	}
	return nil, errors.Newf("%s: expected an object or a list of objects", path).
		Component("cli").
		Category(errors.CategoryValidation).
		Build()
}

// entityFromRecord reads the SLA fields of a record.
func entityFromRecord(rec condition.Record) (sla.Entity, error) {
	var ent sla.Entity
	data, err := json.Marshal(rec)
	if err != nil {
		return ent, err
	}
	if err := json.Unmarshal(data, &ent); err != nil {
		return ent, errors.New(err).
			Component("cli").
			Category(errors.CategoryValidation).
			Context("entity_id", rec["id"]).
			Build()
	}
	return ent, nil
}

// decodeFile parses JSON or YAML into out. YAML is read first and
// re-encoded as JSON so json tags apply to both formats.
func decodeFile(path string, out any) error {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return errors.New(err).
			Component("cli").
			Category(errors.CategoryValidation).
			Context("path", path).
			Build()
	}

	var generic any
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return errors.New(err).
			Component("cli").
			Category(errors.CategoryValidation).
			Context("path", path).
			Build()
	}
	js, err := json.Marshal(generic)
	if err != nil {
		return err
	}
	return json.Unmarshal(js, out)
}
