// Package search ranks records by keyword hits. It stands in for the
// console's assistant search and performs no model inference.
package search

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/cases"

	"github.com/deskops/itsm-engine/internal/condition"
	"github.com/deskops/itsm-engine/internal/errors"
	"github.com/deskops/itsm-engine/internal/logger"
	"github.com/deskops/itsm-engine/internal/ratelimit"
)

// ErrRateLimited is returned when the caller's quota is exhausted.
var ErrRateLimited = errors.NewStd("search rate limit exceeded")

// DefaultFields are searched when an index is created without fields.
var DefaultFields = []string{"id", "title", "description", "category", "tags", "assignee"}

// Hit is a ranked search result.
type Hit struct {
	ID      string           `json:"id"`
	Score   int              `json:"score"`
	Matched []string         `json:"matched"`
	Record  condition.Record `json:"record"`
}

type entry struct {
	id     string
	record condition.Record
	text   map[string]string // folded field text
}

// Index is an in-memory keyword index. It is safe for concurrent use.
type Index struct {
	mu      sync.RWMutex
	fields  []string
	entries []entry
	byID    map[string]int
}

// NewIndex creates an index over the given record fields.
func NewIndex(fields ...string) *Index {
	if len(fields) == 0 {
		fields = DefaultFields
	}
	return &Index{fields: slices.Clone(fields), byID: make(map[string]int)}
}

// Add indexes a record, replacing any record with the same ID.
func (ix *Index) Add(id string, record condition.Record) {
	e := entry{id: id, record: record, text: make(map[string]string, len(ix.fields))}
	for _, f := range ix.fields {
		if v, ok := record.Lookup(f); ok {
			e.text[f] = fold(flatten(v))
		}
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if i, ok := ix.byID[id]; ok {
		ix.entries[i] = e
		return
	}
	ix.byID[id] = len(ix.entries)
	ix.entries = append(ix.entries, e)
}

// Len returns the number of indexed records.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// Search returns records containing at least one query token, ranked by
// the number of distinct tokens found; ties keep insertion order. limit
// <= 0 returns every hit.
func (ix *Index) Search(query string, limit int) []Hit {
	tokens := Tokenize(query)
	if len(tokens) == 0 {
		return nil
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var hits []Hit
	for _, e := range ix.entries {
		var matched []string
		for _, tok := range tokens {
			for _, f := range ix.fields {
				if strings.Contains(e.text[f], tok) {
					matched = append(matched, tok)
					break
				}
			}
		}
		if len(matched) > 0 {
			hits = append(hits, Hit{ID: e.id, Score: len(matched), Matched: matched, Record: e.record})
		}
	}
	slices.SortStableFunc(hits, func(a, b Hit) int { return cmp.Compare(b.Score, a.Score) })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

// Tokenize splits a query into distinct folded words.
func Tokenize(query string) []string {
	words := strings.FieldsFunc(fold(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_'
	})
	var out []string
	for _, w := range words {
		if !slices.Contains(out, w) {
			out = append(out, w)
		}
	}
	return out
}

func fold(s string) string {
	return cases.Fold().String(s)
}

func flatten(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []string:
		return strings.Join(t, " ")
	case []any:
		parts := make([]string, len(t))
		for i, p := range t {
			parts[i] = fmt.Sprint(p)
		}
		return strings.Join(parts, " ")
	default:
		return fmt.Sprint(v)
	}
}

// Searcher guards an index with a per-caller limiter.
type Searcher struct {
	index   *Index
	limiter ratelimit.Limiter
	log     logger.Logger
}

// NewSearcher creates a searcher. A nil limiter allows everything.
func NewSearcher(index *Index, limiter ratelimit.Limiter, log logger.Logger) *Searcher {
	if limiter == nil {
		limiter = ratelimit.Noop{}
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Searcher{index: index, limiter: limiter, log: log.With(logger.Component("search"))}
}

// Search consumes one unit of caller's quota and runs the query.
func (s *Searcher) Search(ctx context.Context, caller, query string, limit int) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !s.limiter.TryConsume(caller) {
		s.log.Warn("search rate limited", logger.String("caller", caller))
		return nil, errors.Newf("%w for %s", ErrRateLimited, caller).
			Component("search").
			Category(errors.CategoryRateLimit).
			Context("caller", caller).
			Build()
	}
	hits := s.index.Search(query, limit)
	s.log.Debug("search completed",
		logger.String("caller", caller),
		logger.Int("hits", len(hits)))
	return hits, nil
}
