// Package notification holds the outbox of rendered messages. Delivery is
// simulated: messages are recorded in memory and never sent over the
// network.
package notification

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/deskops/itsm-engine/internal/channel"
)

// DefaultMaxMessages bounds the outbox when no limit is configured.
const DefaultMaxMessages = 500

// Message is a rendered notification handed to a channel.
type Message struct {
	ID        string       `json:"id"`
	ChannelID string       `json:"channel_id"`
	Kind      channel.Kind `json:"kind"`
	RuleID    string       `json:"rule_id,omitempty"`
	EventName string       `json:"event_name,omitempty"`
	Title     string       `json:"title"`
	Body      string       `json:"body"`
	Fallback  bool         `json:"fallback,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

// ServiceConfig configures the outbox.
type ServiceConfig struct {
	MaxMessages int
	// Now is the clock used for timestamps; tests replace it.
	Now func() time.Time
}

// Service is the in-memory outbox. Oldest messages are evicted first once
// MaxMessages is reached.
type Service struct {
	mu          sync.RWMutex
	messages    []Message
	maxMessages int
	now         func() time.Time
	subscribers []chan Message
}

// NewService creates an outbox.
func NewService(config *ServiceConfig) *Service {
	s := &Service{maxMessages: DefaultMaxMessages, now: time.Now}
	if config != nil {
		if config.MaxMessages > 0 {
			s.maxMessages = config.MaxMessages
		}
		if config.Now != nil {
			s.now = config.Now
		}
	}
	return s
}

// Send records a message, assigning its ID and timestamp, and returns the
// stored copy.
func (s *Service) Send(msg Message) Message {
	msg.ID = uuid.NewString()
	msg.CreatedAt = s.now()

	s.mu.Lock()
	if len(s.messages) >= s.maxMessages {
		s.messages = slices.Delete(s.messages, 0, len(s.messages)-s.maxMessages+1)
	}
	s.messages = append(s.messages, msg)
	// Fanout stays under the lock so cancel cannot close a channel mid-send.
	for _, ch := range s.subscribers {
		select {
		case ch <- msg:
		default:
		}
	}
	s.mu.Unlock()
	return msg
}

// Filter narrows List results.
type Filter struct {
	ChannelID string
	RuleID    string
	Limit     int
}

// List returns messages newest first.
func (s *Service) List(f Filter) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Message
	for i := len(s.messages) - 1; i >= 0; i-- {
		m := s.messages[i]
		if f.ChannelID != "" && m.ChannelID != f.ChannelID {
			continue
		}
		if f.RuleID != "" && m.RuleID != f.RuleID {
			continue
		}
		out = append(out, m)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out
}

// Count returns the number of stored messages.
func (s *Service) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Subscribe returns a channel receiving every new message. Slow
// subscribers miss messages rather than blocking Send.
func (s *Service) Subscribe(buffer int) (<-chan Message, func()) {
	ch := make(chan Message, buffer)
	s.mu.Lock()
	s.subscribers = append(s.subscribers, ch)
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			s.subscribers = slices.DeleteFunc(s.subscribers, func(c chan Message) bool { return c == ch })
			s.mu.Unlock()
			close(ch)
		})
	}
}
