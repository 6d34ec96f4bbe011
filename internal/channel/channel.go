// Package channel describes notification delivery channels and tracks their
// availability for routing.
package channel

import (
	"net/url"
	"strings"

	"github.com/nicholas-fedor/shoutrrr"

	"github.com/deskops/itsm-engine/internal/errors"
)

// Kind is the delivery medium of a channel.
type Kind string

const (
	KindEmail   Kind = "email"
	KindSMS     Kind = "sms"
	KindSlack   Kind = "slack"
	KindTeams   Kind = "teams"
	KindWebhook Kind = "webhook"
	KindPush    Kind = "push"
	KindBell    Kind = "bell"
)

// Kinds lists every channel kind.
var Kinds = []Kind{KindEmail, KindSMS, KindSlack, KindTeams, KindWebhook, KindPush, KindBell}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindEmail, KindSMS, KindSlack, KindTeams, KindWebhook, KindPush, KindBell:
		return true
	}
	return false
}

// Plaintext reports whether messages for this kind must not contain markup.
func (k Kind) Plaintext() bool {
	return k == KindSMS || k == KindPush
}

// Channel is a configured delivery endpoint. URL uses shoutrrr service URL
// syntax and is only verified, never dialed.
type Channel struct {
	ID              string `json:"id" yaml:"id"`
	Name            string `json:"name" yaml:"name"`
	Kind            Kind   `json:"kind" yaml:"kind"`
	URL             string `json:"url,omitempty" yaml:"url,omitempty"`
	Enabled         bool   `json:"enabled" yaml:"enabled"`
	Healthy         bool   `json:"healthy" yaml:"healthy"`
	TemplateTitle   string `json:"template_title,omitempty" yaml:"template_title,omitempty"`
	TemplateMessage string `json:"template_message,omitempty" yaml:"template_message,omitempty"`
}

// Available reports whether the channel can take messages.
func (c *Channel) Available() bool {
	return c.Enabled && c.Healthy
}

// ValidateURL checks a shoutrrr service URL without sending anything.
// An empty URL is valid; the channel is then simulated only.
func ValidateURL(raw string) error {
	if raw == "" {
		return nil
	}
	if _, err := shoutrrr.CreateSender(raw); err != nil {
		return errors.New(err).
			Component("channel").
			Category(errors.CategoryConfiguration).
			Context("url", redact(raw)).
			Build()
	}
	return nil
}

// Validate checks kind and URL.
func Validate(c *Channel) error {
	if c.ID == "" {
		return errors.Newf("channel %q: id is required", c.Name).
			Component("channel").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if !c.Kind.Valid() {
		return errors.Newf("channel %q: unknown kind %q", c.ID, c.Kind).
			Component("channel").
			Category(errors.CategoryConfiguration).
			Context("channel_id", c.ID).
			Build()
	}
	return ValidateURL(c.URL)
}

// redact strips credentials from a service URL for logging.
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		if scheme, _, ok := strings.Cut(raw, "://"); ok {
			return scheme + "://..."
		}
		return "..."
	}
	if u.User != nil {
		u.User = url.User("***")
	}
	return u.String()
}
