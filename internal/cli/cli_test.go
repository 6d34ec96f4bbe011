package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskops/itsm-engine/internal/conf"
	"github.com/deskops/itsm-engine/internal/errors"
	"github.com/deskops/itsm-engine/internal/routing"
	"github.com/deskops/itsm-engine/internal/ruleset"
	"github.com/deskops/itsm-engine/internal/search"
	"github.com/deskops/itsm-engine/internal/sla"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

// execute runs the root command with args and returns its stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := RootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const incidentRecords = `
- id: INC-1
  kind: Incident
  priority: Critical
  title: Database cluster down
- id: REQ-1
  kind: ServiceRequest
  priority: Low
`

func TestRouteCmd_Table(t *testing.T) {
	records := writeFile(t, "records.yaml", incidentRecords)

	out, err := execute(t, "route", "--event", ruleset.EventIncidentCreated,
		"--records", records, "--at", "2024-06-03T22:00:00Z")
	require.NoError(t, err)

	assert.Contains(t, out, "RECORD")
	assert.Regexp(t, `INC-1\s+MATCH\s+Critical incidents page on-call\s+oncall-push`, out)
	assert.Regexp(t, `REQ-1\s+MATCH\s+Everything else\s+bell`, out)
}

func TestRouteCmd_JSONDuringBusinessHours(t *testing.T) {
	records := writeFile(t, "records.json", `{"id":"INC-9","kind":"Incident","priority":"P1"}`)

	out, err := execute(t, "route", "--event", ruleset.EventIncidentCreated,
		"--records", records, "--at", "2024-06-03T10:00:00Z", "--json")
	require.NoError(t, err)

	var results []routing.Result
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 1)
	assert.True(t, results[0].Matched)
	assert.Equal(t, "critical-incidents", results[0].Match.RuleID)
	assert.Equal(t, ruleset.ChannelOpsSlack, results[0].Match.ChannelID)
}

func TestRouteCmd_Errors(t *testing.T) {
	records := writeFile(t, "records.yaml", incidentRecords)

	_, err := execute(t, "route", "--records", records)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))

	_, err = execute(t, "route", "--event", ruleset.EventIncidentCreated, "--records", records, "--at", "tomorrow")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RFC 3339")

	scalar := writeFile(t, "scalar.yaml", "42\n")
	_, err = execute(t, "route", "--event", ruleset.EventIncidentCreated, "--records", scalar)
	require.Error(t, err)
}

func TestScheduleCmd(t *testing.T) {
	out, err := execute(t, "schedule", ruleset.ScheduleBusinessHours, "--at", "2024-06-03T10:00:00Z")
	require.NoError(t, err)
	assert.Regexp(t, `business-hours\s+UTC\s+true\s+IN WINDOW\s+ops-slack`, out)

	out, err = execute(t, "schedule", "--at", "2024-06-08T10:00:00Z")
	require.NoError(t, err)
	assert.Regexp(t, `business-hours\s+UTC\s+true\s+OUT OF WINDOW\s+oncall-push`, out)

	_, err = execute(t, "schedule", "weekend-only")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryNotFound))
}

func TestSLACmd(t *testing.T) {
	entities := writeFile(t, "entities.yaml", `
- id: INC-1
  priority: P1
  status: Open
  reported_at: 2024-06-03T09:00:00Z
- id: INC-2
  priority: P1
  status: Open
  reported_at: 2024-06-03T00:00:00Z
- id: INC-3
  priority: P2
  status: Resolved
  reported_at: 2024-06-03T00:00:00Z
`)

	out, err := execute(t, "sla", "--entities", entities, "--at", "2024-06-03T09:30:00Z")
	require.NoError(t, err)
	assert.Regexp(t, `INC-1\s+P1\s+On Track\s+30m0s\s+On Track\s+3h30m0s`, out)
	assert.Regexp(t, `INC-2\s+P1\s+Breached\s+\+8h30m0s\s+Breached\s+\+5h30m0s`, out)
	assert.Regexp(t, `INC-3\s+P2\s+Completed\s+-\s+Completed\s+-`, out)
}

func TestValidateCmd(t *testing.T) {
	data, err := ruleset.Marshal(ruleset.DefaultDocument(), ruleset.FormatYAML)
	require.NoError(t, err)
	valid := writeFile(t, "rules.yaml", string(data))

	out, err := execute(t, "validate", valid)
	require.NoError(t, err)
	assert.Contains(t, out, "✓")
	assert.Contains(t, out, "5 rules, 3 groups, 1 schedules, 6 channels")

	invalid := writeFile(t, "broken.yaml", `
routing:
  - id: r1
    name: Broken
    enabled: true
    target_channel_id: nowhere
    schedule_id: never
`)
	out, err = execute(t, "validate", invalid)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 problem(s)")
	assert.Contains(t, out, "✗")
	assert.Contains(t, out, "nowhere")
	assert.Contains(t, out, "never")

	_, err = execute(t, "validate")
	require.Error(t, err)
}

func TestSchemaCmd(t *testing.T) {
	out, err := execute(t, "schema")
	require.NoError(t, err)

	var schema struct {
		Operators []map[string]any `json:"operators"`
		Fields    []ruleset.Field  `json:"fields"`
		Events    []string         `json:"events"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &schema))
	assert.NotEmpty(t, schema.Operators)
	assert.NotEmpty(t, schema.Fields)
	assert.ElementsMatch(t, ruleset.Events(), schema.Events)
}

func TestApplySettings(t *testing.T) {
	s := &conf.Settings{}
	s.Schedule.DefaultTimezone = "Europe/Helsinki"
	s.Alerting.DefaultChannel = ruleset.ChannelServiceDeskEmail
	s.SLA.Response = map[string]float64{"p1": 2, "sev1": 0.25}
	s.SLA.FallbackResponseHours = 6
	s.SLA.FallbackResolutionHours = 72

	doc := ruleset.DefaultDocument()
	doc.Schedules[0].Timezone = ""
	applySettings(doc, s)

	assert.Equal(t, "Europe/Helsinki", doc.Schedules[0].Timezone)
	assert.InDelta(t, 1, doc.SLATargets.Response["P1"], 0, "document target wins")
	assert.InDelta(t, 0.25, doc.SLATargets.Response["sev1"], 0)
	assert.InDelta(t, float64(sla.DefaultFallbackResponseHours), doc.SLATargets.FallbackResponse, 0)

	for _, r := range doc.Routing {
		switch r.ID {
		case "security-p1":
			assert.Equal(t, ruleset.ChannelOnCallSMS, r.FallbackChannelID, "explicit fallback kept")
		case "catch-all":
			assert.Equal(t, ruleset.ChannelServiceDeskEmail, r.FallbackChannelID)
		}
	}

	empty := &ruleset.Document{}
	applySettings(empty, s)
	assert.InDelta(t, 6, empty.SLATargets.FallbackResponse, 0)
	assert.InDelta(t, 72, empty.SLATargets.FallbackResolution, 0)
	assert.Len(t, empty.SLATargets.Response, 2)
}

func TestApplySettings_UnknownDefaultChannelIgnored(t *testing.T) {
	s := &conf.Settings{}
	s.Alerting.DefaultChannel = "pager"

	doc := ruleset.DefaultDocument()
	applySettings(doc, s)
	for _, r := range doc.Routing {
		assert.NotEqual(t, "pager", r.FallbackChannelID)
	}
}

func TestFileEntities(t *testing.T) {
	path := writeFile(t, "open.yaml", `
- id: INC-7
  kind: Incident
  priority: High
  status: Open
  title: VPN gateway flapping
  reported_at: 2024-06-03T08:00:00Z
`)
	index := search.NewIndex()
	source := fileEntities(path, index)

	ents, err := source.OpenEntities(t.Context())
	require.NoError(t, err)
	require.Len(t, ents, 1)
	assert.Equal(t, "INC-7", ents[0].ID)
	assert.Equal(t, time.Date(2024, 6, 3, 8, 0, 0, 0, time.UTC), ents[0].ReportedAt.UTC())
	assert.Equal(t, 1, index.Len())

	missing := fileEntities(filepath.Join(t.TempDir(), "gone.yaml"), index)
	_, err = missing.OpenEntities(t.Context())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryMissingData))
}
