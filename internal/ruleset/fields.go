package ruleset

import (
	"strings"

	"github.com/deskops/itsm-engine/internal/condition"
)

// Field describes a record field that conditions may reference.
type Field struct {
	Name    string              `json:"name" yaml:"name"`
	Label   string              `json:"label" yaml:"label"`
	Type    condition.FieldType `json:"type" yaml:"type"`
	Options []string            `json:"options,omitempty" yaml:"options,omitempty"`
}

// Prefixes under which arbitrary text keys are accepted.
var openPrefixes = []string{"labels.", "metadata."}

// DefaultFields is the field catalog for tickets, incidents, problems,
// changes and security cases.
func DefaultFields() []Field {
	return []Field{
		{Name: "id", Label: "ID", Type: condition.FieldText},
		{Name: "kind", Label: "Record type", Type: condition.FieldSelect,
			Options: []string{"Incident", "ServiceRequest", "Problem", "Change", "SecurityCase"}},
		{Name: "title", Label: "Title", Type: condition.FieldText},
		{Name: "description", Label: "Description", Type: condition.FieldText},
		{Name: "category", Label: "Category", Type: condition.FieldText},
		{Name: "importance", Label: "Importance", Type: condition.FieldSelect,
			Options: []string{"critical", "high", "normal", "low"}},
		{Name: "priority", Label: "Priority", Type: condition.FieldSelect,
			Options: []string{"Critical", "High", "Medium", "Low", "P1", "P2", "P3", "P4"}},
		{Name: "status", Label: "Status", Type: condition.FieldSelect,
			Options: []string{"New", "Open", "In Progress", "Pending", "Investigating", "Resolved", "Closed"}},
		{Name: "impact", Label: "Impact", Type: condition.FieldNumber},
		{Name: "urgency", Label: "Urgency", Type: condition.FieldNumber},
		{Name: "assignee", Label: "Assignee", Type: condition.FieldText},
		{Name: "assignment_group", Label: "Assignment group", Type: condition.FieldText},
		{Name: "requester", Label: "Requester", Type: condition.FieldText},
		{Name: "requester_vip", Label: "VIP requester", Type: condition.FieldSelect, Options: []string{"true", "false"}},
		{Name: "tags", Label: "Tags", Type: condition.FieldArray},
		{Name: "affected_services", Label: "Affected services", Type: condition.FieldArray},
		{Name: "severity_score", Label: "Severity score", Type: condition.FieldNumber},
		{Name: "reported_at", Label: "Reported at", Type: condition.FieldDatetime},
		{Name: "due_at", Label: "Due at", Type: condition.FieldDatetime},
		{Name: "sla_type", Label: "SLA type", Type: condition.FieldSelect, Options: []string{"response", "resolution"}},
		{Name: "sla_percent_left", Label: "SLA percent left", Type: condition.FieldNumber},
	}
}

// FieldTypes returns the catalog as a name to type map.
func FieldTypes(fields []Field) map[string]condition.FieldType {
	m := make(map[string]condition.FieldType, len(fields))
	for _, f := range fields {
		m[f.Name] = f.Type
	}
	return m
}

// lookupField resolves a field's catalog type. Keys under an open prefix
// are text.
func lookupField(types map[string]condition.FieldType, name string) (condition.FieldType, bool) {
	if ft, ok := types[name]; ok {
		return ft, true
	}
	for _, p := range openPrefixes {
		if strings.HasPrefix(name, p) && len(name) > len(p) {
			return condition.FieldText, true
		}
	}
	return "", false
}
