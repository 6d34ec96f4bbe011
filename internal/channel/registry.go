package channel

import (
	"slices"
	"sync"

	"github.com/deskops/itsm-engine/internal/errors"
)

// ErrChannelNotFound is returned for unknown channel IDs.
var ErrChannelNotFound = errors.NewStd("channel not found")

// Registry holds the configured channels and their current health. It
// implements routing.Availability.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]Channel
	order    []string
}

// NewRegistry creates a registry from channels; later duplicates win.
func NewRegistry(channels []Channel) *Registry {
	r := &Registry{}
	r.Replace(channels)
	return r
}

// Replace swaps the whole channel set.
func (r *Registry) Replace(channels []Channel) {
	m := make(map[string]Channel, len(channels))
	order := make([]string, 0, len(channels))
	for _, c := range channels {
		if _, seen := m[c.ID]; !seen {
			order = append(order, c.ID)
		}
		m[c.ID] = c
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels = m
	r.order = order
}

// Available reports whether the channel exists, is enabled and healthy.
func (r *Registry) Available(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.channels[id]
	return ok && c.Available()
}

// Get returns a channel by ID.
func (r *Registry) Get(id string) (Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.channels[id]
	return c, ok
}

// List returns channels in configuration order.
func (r *Registry) List() []Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Channel, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.channels[id])
	}
	return out
}

// SetHealthy records a health probe result from an external monitor.
func (r *Registry) SetHealthy(id string, healthy bool) error {
	return r.update(id, func(c *Channel) { c.Healthy = healthy })
}

// SetEnabled enables or disables a channel.
func (r *Registry) SetEnabled(id string, enabled bool) error {
	return r.update(id, func(c *Channel) { c.Enabled = enabled })
}

func (r *Registry) update(id string, fn func(*Channel)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.channels[id]
	if !ok {
		return errors.Newf("%w: %s", ErrChannelNotFound, id).
			Component("channel").
			Category(errors.CategoryNotFound).
			Context("channel_id", id).
			Build()
	}
	fn(&c)
	r.channels[id] = c
	return nil
}

// Unavailable returns the IDs of channels that cannot take messages.
func (r *Registry) Unavailable() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for _, id := range r.order {
		c := r.channels[id]
		if !c.Available() {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}
