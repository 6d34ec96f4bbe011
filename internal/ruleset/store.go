package ruleset

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/deskops/itsm-engine/internal/channel"
	"github.com/deskops/itsm-engine/internal/errors"
	"github.com/deskops/itsm-engine/internal/routing"
	"github.com/deskops/itsm-engine/internal/schedule"
	"github.com/deskops/itsm-engine/internal/sla"
)

// ErrRuleNotFound is returned when a routing rule ID does not exist.
var ErrRuleNotFound = errors.NewStd("routing rule not found")

// DefaultHistoryLimit bounds history when no limit is configured.
const DefaultHistoryLimit = 1000

// HistoryEntry records one time a routing rule fired.
type HistoryEntry struct {
	ID        uint64         `json:"id"`
	RuleID    string         `json:"rule_id"`
	RuleName  string         `json:"rule_name"`
	EventName string         `json:"event_name"`
	ChannelID string         `json:"channel_id"`
	Fallback  bool           `json:"fallback,omitempty"`
	Degraded  bool           `json:"degraded,omitempty"`
	MessageID string         `json:"message_id,omitempty"`
	EventData map[string]any `json:"event_data,omitempty"`
	FiredAt   time.Time      `json:"fired_at"`
}

// RuleFilter controls rule listing.
type RuleFilter struct {
	Event   string
	Enabled *bool
	BuiltIn *bool
}

// HistoryFilter controls history listing.
type HistoryFilter struct {
	RuleID string
	Limit  int
	Offset int
}

// Repository is the rule source of the notification engine.
type Repository interface {
	ListRules(ctx context.Context, filter RuleFilter) ([]routing.Rule, error)
	GetRule(ctx context.Context, id string) (*routing.Rule, error)
	ToggleRule(ctx context.Context, id string, enabled bool) error
	EnabledRules(ctx context.Context) ([]routing.Rule, error)
	Schedule(ctx context.Context, id string) (*schedule.Rule, error)

	SaveHistory(ctx context.Context, entry *HistoryEntry) error
	ListHistory(ctx context.Context, filter HistoryFilter) ([]HistoryEntry, int, error)
	DeleteHistoryBefore(ctx context.Context, before time.Time) (int, error)
}

// Store is an in-memory Repository. It is process memory only.
type Store struct {
	mu           sync.RWMutex
	doc          *Document
	expanded     []routing.Rule
	history      []HistoryEntry
	historyLimit int
	nextID       uint64
}

var _ Repository = (*Store)(nil)

// NewStore validates doc and creates a store holding a private copy.
func NewStore(doc *Document, historyLimit int) (*Store, error) {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	s := &Store{historyLimit: historyLimit}
	if err := s.Replace(doc); err != nil {
		return nil, err
	}
	return s, nil
}

// Replace validates and swaps in a new document. On error the current
// document is kept.
func (s *Store) Replace(doc *Document) error {
	if err := doc.Validate(); err != nil {
		return err
	}
	c := doc.Clone()
	expanded, err := c.ExpandedRouting()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc = c
	s.expanded = expanded
	return nil
}

// Document returns a copy of the current document.
func (s *Store) Document() *Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.Clone()
}

// Channels returns the configured channels.
func (s *Store) Channels() []channel.Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.doc.Channels)
}

// Targets returns the SLA target table.
func (s *Store) Targets() sla.TargetTable {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.SLATargets
}

// ListRules returns routing rules, as written, matching the filter.
func (s *Store) ListRules(ctx context.Context, filter RuleFilter) ([]routing.Rule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []routing.Rule
	for i := range s.doc.Routing {
		r := s.doc.Routing[i]
		if filter.Event != "" && !r.HandlesEvent(filter.Event) {
			continue
		}
		if filter.Enabled != nil && r.Enabled != *filter.Enabled {
			continue
		}
		if filter.BuiltIn != nil && r.BuiltIn != *filter.BuiltIn {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// GetRule returns a routing rule by ID.
func (s *Store) GetRule(ctx context.Context, id string) (*routing.Rule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.ruleIndex(id)
	if i < 0 {
		return nil, notFound(id)
	}
	r := s.doc.Routing[i]
	return &r, nil
}

// ToggleRule enables or disables a routing rule.
func (s *Store) ToggleRule(ctx context.Context, id string, enabled bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.ruleIndex(id)
	if i < 0 {
		return notFound(id)
	}
	s.doc.Routing[i].Enabled = enabled
	s.expanded[i].Enabled = enabled
	return nil
}

// EnabledRules returns enabled rules with group conditions expanded.
func (s *Store) EnabledRules(ctx context.Context) ([]routing.Rule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]routing.Rule, 0, len(s.expanded))
	for i := range s.expanded {
		if s.expanded[i].Enabled {
			out = append(out, s.expanded[i])
		}
	}
	return out, nil
}

// Schedule returns a schedule by ID.
func (s *Store) Schedule(ctx context.Context, id string) (*schedule.Rule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	sched, ok := s.doc.Schedule(id)
	if !ok {
		return nil, errors.Newf("schedule %q not found", id).
			Component("ruleset").
			Category(errors.CategoryNotFound).
			Context("schedule_id", id).
			Build()
	}
	c := *sched
	return &c, nil
}

// SaveHistory appends an entry, evicting the oldest beyond the limit.
func (s *Store) SaveHistory(ctx context.Context, entry *HistoryEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	entry.ID = s.nextID
	if len(s.history) >= s.historyLimit {
		s.history = slices.Delete(s.history, 0, len(s.history)-s.historyLimit+1)
	}
	s.history = append(s.history, *entry)
	return nil
}

// ListHistory returns entries newest first, with the total matching count.
func (s *Store) ListHistory(ctx context.Context, filter HistoryFilter) ([]HistoryEntry, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []HistoryEntry
	for i := len(s.history) - 1; i >= 0; i-- {
		if filter.RuleID != "" && s.history[i].RuleID != filter.RuleID {
			continue
		}
		matched = append(matched, s.history[i])
	}
	total := len(matched)

	start := min(max(filter.Offset, 0), total)
	end := total
	if filter.Limit > 0 {
		end = min(start+filter.Limit, total)
	}
	return matched[start:end], total, nil
}

// DeleteHistoryBefore removes entries fired before the cutoff.
func (s *Store) DeleteHistoryBefore(ctx context.Context, before time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.history)
	s.history = slices.DeleteFunc(s.history, func(e HistoryEntry) bool { return e.FiredAt.Before(before) })
	return n - len(s.history), nil
}

func (s *Store) ruleIndex(id string) int {
	return slices.IndexFunc(s.doc.Routing, func(r routing.Rule) bool { return r.ID == id })
}

func notFound(id string) error {
	return errors.Newf("%w: %s", ErrRuleNotFound, id).
		Component("ruleset").
		Category(errors.CategoryNotFound).
		Context("rule_id", id).
		Build()
}
