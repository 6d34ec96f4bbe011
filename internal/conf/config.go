// Package conf loads engine settings from a YAML file and ITSM_* environment
// variables.
package conf

import (
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/deskops/itsm-engine/internal/errors"
	"github.com/deskops/itsm-engine/internal/sla"
)

// EnvPrefix is prepended to every environment override, e.g.
// ITSM_WEBSERVER_LISTEN.
const EnvPrefix = "ITSM"

// Settings is the root configuration.
type Settings struct {
	Log       LogSettings       `mapstructure:"log" yaml:"log"`
	Rules     RulesSettings     `mapstructure:"rules" yaml:"rules"`
	Condition ConditionSettings `mapstructure:"condition" yaml:"condition"`
	Schedule  ScheduleSettings  `mapstructure:"schedule" yaml:"schedule"`
	SLA       SLASettings       `mapstructure:"sla" yaml:"sla"`
	Alerting  AlertingSettings  `mapstructure:"alerting" yaml:"alerting"`
	Search    SearchSettings    `mapstructure:"search" yaml:"search"`
	WebServer WebServerSettings `mapstructure:"webserver" yaml:"webserver"`
	MQTT      MQTTSettings      `mapstructure:"mqtt" yaml:"mqtt"`
	Sentry    SentrySettings    `mapstructure:"sentry" yaml:"sentry"`
}

type LogSettings struct {
	Level    string `mapstructure:"level" yaml:"level"`
	Format   string `mapstructure:"format" yaml:"format"` // text or json
	Timezone string `mapstructure:"timezone" yaml:"timezone"`
}

// RulesSettings points at the rule document (groups, routing, schedules,
// channels, SLA targets).
type RulesSettings struct {
	Path         string `mapstructure:"path" yaml:"path"`
	SeedDefaults bool   `mapstructure:"seeddefaults" yaml:"seeddefaults"`
}

type ConditionSettings struct {
	// CaseFolding makes text comparisons case-insensitive.
	CaseFolding bool `mapstructure:"casefolding" yaml:"casefolding"`
	// AbsentNotInMatches lets notIn match records that lack the field.
	AbsentNotInMatches bool `mapstructure:"absentnotinmatches" yaml:"absentnotinmatches"`
}

type ScheduleSettings struct {
	DefaultTimezone string `mapstructure:"defaulttimezone" yaml:"defaulttimezone"`
}

type SLASettings struct {
	// Response and Resolution map priority to target hours. Keys are
	// lower-cased by viper; lookups are case-insensitive.
	Response                map[string]float64 `mapstructure:"response" yaml:"response"`
	Resolution              map[string]float64 `mapstructure:"resolution" yaml:"resolution"`
	FallbackResponseHours   float64            `mapstructure:"fallbackresponsehours" yaml:"fallbackresponsehours"`
	FallbackResolutionHours float64            `mapstructure:"fallbackresolutionhours" yaml:"fallbackresolutionhours"`
	WarnPercentLeft         float64            `mapstructure:"warnpercentleft" yaml:"warnpercentleft"`
	CheckInterval           Duration           `mapstructure:"checkinterval" yaml:"checkinterval"`
}

type AlertingSettings struct {
	DefaultCooldown  Duration `mapstructure:"defaultcooldown" yaml:"defaultcooldown"`
	HistoryRetention Duration `mapstructure:"historyretention" yaml:"historyretention"`
	HistoryLimit     int      `mapstructure:"historylimit" yaml:"historylimit"`
	DefaultChannel   string   `mapstructure:"defaultchannel" yaml:"defaultchannel"`
}

type SearchSettings struct {
	HourlyLimit int     `mapstructure:"hourlylimit" yaml:"hourlylimit"`
	DailyLimit  int     `mapstructure:"dailylimit" yaml:"dailylimit"`
	PerSecond   float64 `mapstructure:"persecond" yaml:"persecond"`
	Burst       int     `mapstructure:"burst" yaml:"burst"`
}

type WebServerSettings struct {
	Listen string `mapstructure:"listen" yaml:"listen"`
	Debug  bool   `mapstructure:"debug" yaml:"debug"`
}

// MQTTSettings configures event ingestion from a broker.
type MQTTSettings struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Broker   string `mapstructure:"broker" yaml:"broker"` // e.g. tcp://localhost:1883
	Topic    string `mapstructure:"topic" yaml:"topic"`
	ClientID string `mapstructure:"clientid" yaml:"clientid"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
	QoS      int    `mapstructure:"qos" yaml:"qos"`
}

type SentrySettings struct {
	DSN         string `mapstructure:"dsn" yaml:"dsn"`
	Environment string `mapstructure:"environment" yaml:"environment"`
}

var (
	settings   *Settings
	settingsMu sync.RWMutex
)

// GetSettings returns the process-wide settings, or nil before Load.
func GetSettings() *Settings {
	settingsMu.RLock()
	defer settingsMu.RUnlock()
	return settings
}

// SetSettings replaces the process-wide settings.
func SetSettings(s *Settings) {
	settingsMu.Lock()
	defer settingsMu.Unlock()
	settings = s
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.timezone", "UTC")
	v.SetDefault("rules.seeddefaults", true)
	v.SetDefault("schedule.defaulttimezone", "UTC")
	v.SetDefault("sla.fallbackresponsehours", 4)
	v.SetDefault("sla.fallbackresolutionhours", 48)
	v.SetDefault("sla.warnpercentleft", 20)
	v.SetDefault("sla.checkinterval", "1m")
	v.SetDefault("alerting.defaultcooldown", "5m")
	v.SetDefault("alerting.historyretention", "30d")
	v.SetDefault("alerting.historylimit", 1000)
	v.SetDefault("search.hourlylimit", 20)
	v.SetDefault("search.dailylimit", 100)
	v.SetDefault("search.persecond", 2)
	v.SetDefault("search.burst", 5)
	v.SetDefault("webserver.listen", ":8080")
	v.SetDefault("mqtt.topic", "itsm/events/#")
	v.SetDefault("mqtt.clientid", "itsm-engine")
	v.SetDefault("mqtt.qos", 1)
}

// Load reads settings from path (optional) and the environment, validates
// them and installs them as the process-wide settings.
func Load(path string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.New(err).
				Component("conf").
				Category(errors.CategoryConfiguration).
				Context("operation", "read_config").
				Context("path", path).
				Build()
		}
	}

	var s Settings
	if err := v.Unmarshal(&s, viper.DecodeHook(DurationDecodeHook())); err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "decode_config").
			Build()
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}

	SetSettings(&s)
	return &s, nil
}

// Validate checks values viper cannot type-check.
func (s *Settings) Validate() error {
	var errs []error
	invalid := func(key string, value any, msg string) {
		errs = append(errs, errors.Newf("invalid %s: %s", key, msg).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("key", key).
			Context("value", value).
			Build())
	}

	for _, tz := range []struct{ key, value string }{
		{"log.timezone", s.Log.Timezone},
		{"schedule.defaulttimezone", s.Schedule.DefaultTimezone},
	} {
		if _, err := time.LoadLocation(tz.value); err != nil {
			invalid(tz.key, tz.value, "unknown timezone")
		}
	}
	if !sla.ValidHours(s.SLA.FallbackResponseHours) {
		invalid("sla.fallbackresponsehours", s.SLA.FallbackResponseHours, "target hours out of range")
	}
	if !sla.ValidHours(s.SLA.FallbackResolutionHours) {
		invalid("sla.fallbackresolutionhours", s.SLA.FallbackResolutionHours, "target hours out of range")
	}
	if s.SLA.WarnPercentLeft < 0 || s.SLA.WarnPercentLeft > 100 {
		invalid("sla.warnpercentleft", s.SLA.WarnPercentLeft, "must be within [0,100]")
	}
	for p, h := range s.SLA.Response {
		if !sla.ValidHours(h) {
			invalid("sla.response."+p, h, "target hours out of range")
		}
	}
	for p, h := range s.SLA.Resolution {
		if !sla.ValidHours(h) {
			invalid("sla.resolution."+p, h, "target hours out of range")
		}
	}
	if s.Search.HourlyLimit < 0 || s.Search.DailyLimit < 0 {
		invalid("search", s.Search, "limits cannot be negative")
	}
	if s.MQTT.Enabled && s.MQTT.Broker == "" {
		invalid("mqtt.broker", s.MQTT.Broker, "required when mqtt is enabled")
	}
	if s.MQTT.QoS < 0 || s.MQTT.QoS > 2 {
		invalid("mqtt.qos", s.MQTT.QoS, "must be 0, 1 or 2")
	}
	if s.Log.Format != "text" && s.Log.Format != "json" {
		invalid("log.format", s.Log.Format, `must be "text" or "json"`)
	}

	return errors.Join(errs...)
}

// Location returns the configured log timezone, falling back to UTC.
func (s *Settings) Location() *time.Location {
	loc, err := time.LoadLocation(s.Log.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
