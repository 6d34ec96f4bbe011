// Package ruleset loads, validates and holds the rule document: condition
// groups, routing rules, schedules, channels and SLA targets.
package ruleset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/deskops/itsm-engine/internal/channel"
	"github.com/deskops/itsm-engine/internal/condition"
	"github.com/deskops/itsm-engine/internal/errors"
	"github.com/deskops/itsm-engine/internal/routing"
	"github.com/deskops/itsm-engine/internal/schedule"
	"github.com/deskops/itsm-engine/internal/sla"
)

// Format is a document encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// Document is the complete rule configuration.
type Document struct {
	Groups     []condition.Group `json:"groups" yaml:"groups"`
	Routing    []routing.Rule    `json:"routing" yaml:"routing"`
	Schedules  []schedule.Rule   `json:"schedules" yaml:"schedules"`
	Channels   []channel.Channel `json:"channels" yaml:"channels"`
	SLATargets sla.TargetTable   `json:"sla_targets" yaml:"sla_targets"`
	// Fields overrides the built-in field catalog when set.
	Fields []Field `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// FormatFromPath picks the format from a file extension. Anything that is
// not .json is read as YAML.
func FormatFromPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}
	return FormatYAML
}

// Load reads and parses a document file.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(err).
			Component("ruleset").
			Category(errors.CategoryConfiguration).
			Context("operation", "read_rules").
			Context("path", path).
			Build()
	}
	return Parse(data, FormatFromPath(path))
}

// Parse decodes a document and assigns IDs to entries that lack one. It
// does not validate; call Validate.
func Parse(data []byte, format Format) (*Document, error) {
	var doc Document
	var err error
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(&doc)
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err = dec.Decode(&doc); errors.Is(err, io.EOF) {
			err = nil
		}
	default:
		err = fmt.Errorf("unsupported format %q", format)
	}
	if err != nil {
		return nil, errors.New(err).
			Component("ruleset").
			Category(errors.CategoryConfiguration).
			Context("operation", "decode_rules").
			Context("format", string(format)).
			Build()
	}
	doc.AssignIDs()
	return &doc, nil
}

// Marshal encodes the document.
func Marshal(doc *Document, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		return json.MarshalIndent(doc, "", "  ")
	case FormatYAML:
		return yaml.Marshal(doc)
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
}

// AssignIDs gives every group, rule, schedule and channel without an ID a
// fresh UUID.
func (d *Document) AssignIDs() {
	for i := range d.Groups {
		if d.Groups[i].ID == "" {
			d.Groups[i].ID = uuid.NewString()
		}
	}
	for i := range d.Routing {
		if d.Routing[i].ID == "" {
			d.Routing[i].ID = uuid.NewString()
		}
	}
	for i := range d.Schedules {
		if d.Schedules[i].ID == "" {
			d.Schedules[i].ID = uuid.NewString()
		}
	}
	for i := range d.Channels {
		if d.Channels[i].ID == "" {
			d.Channels[i].ID = uuid.NewString()
		}
	}
}

// Catalog returns the document's field catalog, or the default one.
func (d *Document) Catalog() []Field {
	if len(d.Fields) > 0 {
		return d.Fields
	}
	return DefaultFields()
}

// Group returns a group by ID.
func (d *Document) Group(id string) (*condition.Group, bool) {
	i := slices.IndexFunc(d.Groups, func(g condition.Group) bool { return g.ID == id })
	if i < 0 {
		return nil, false
	}
	return &d.Groups[i], true
}

// Schedule returns a schedule by ID.
func (d *Document) Schedule(id string) (*schedule.Rule, bool) {
	i := slices.IndexFunc(d.Schedules, func(s schedule.Rule) bool { return s.ID == id })
	if i < 0 {
		return nil, false
	}
	return &d.Schedules[i], true
}

// ExpandedRouting returns copies of the routing rules with the conditions
// of referenced groups appended. The document itself is not modified, so
// it still round-trips. Unknown group IDs are an error.
func (d *Document) ExpandedRouting() ([]routing.Rule, error) {
	out := make([]routing.Rule, len(d.Routing))
	for i, r := range d.Routing {
		r.Conditions = slices.Clone(r.Conditions)
		for _, gid := range r.GroupIDs {
			g, ok := d.Group(gid)
			if !ok {
				return nil, unknownRef("routing rule", r.ID, "group", gid)
			}
			r.Conditions = append(r.Conditions, g.Conditions...)
		}
		out[i] = r
	}
	return out, nil
}

// Clone returns a deep enough copy for independent mutation of rule
// flags and slices.
func (d *Document) Clone() *Document {
	c := *d
	c.Groups = slices.Clone(d.Groups)
	c.Routing = slices.Clone(d.Routing)
	c.Schedules = slices.Clone(d.Schedules)
	c.Channels = slices.Clone(d.Channels)
	c.Fields = slices.Clone(d.Fields)
	return &c
}

func unknownRef(kind, id, refKind, ref string) error {
	return errors.Newf("%s %q references unknown %s %q", kind, id, refKind, ref).
		Component("ruleset").
		Category(errors.CategoryConfiguration).
		Context(refKind+"_id", ref).
		Build()
}
