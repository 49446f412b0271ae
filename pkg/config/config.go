// Package config assembles the service configuration from defaults, an
// optional JSON file and the environment. Command line flags are applied last
// by the CLI.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"pitwall/pkg/hub"
	"pitwall/pkg/notification"
	"pitwall/pkg/store"
	"pitwall/pkg/strategy"
)

const maxFileSize = 1 << 20

type Config struct {
	Address       string
	DBPath        string
	RulesPath     string
	TeamToken     string
	TelegramToken string
	TelegramChats []int64
	Upstream      string

	BroadcastInterval time.Duration
	ReconnectEvery    time.Duration
	PruneInterval     time.Duration
	IngestIdle        time.Duration

	Strategy     strategy.Config
	Hub          hub.Config
	Notification notification.Config
	Writer       store.WriterConfig
}

func Default() Config {
	return Config{
		Address:           ":8080",
		DBPath:            store.DbName,
		BroadcastInterval: time.Second,
		PruneInterval:     time.Minute,
		IngestIdle:        5 * time.Second,
		ReconnectEvery:    5 * time.Second,
		Strategy:          strategy.DefaultConfig(),
		Hub:               hub.DefaultConfig(),
		Notification:      notification.DefaultConfig(),
		Writer:            store.DefaultWriterConfig(),
	}
}

// File is the JSON configuration file. Omitted fields keep their defaults.
type File struct {
	Address           *string  `json:"address,omitempty"`
	DBPath            *string  `json:"db_path,omitempty"`
	RulesPath         *string  `json:"rules_path,omitempty"`
	TelegramChats     []int64  `json:"telegram_chats,omitempty"`
	Upstream          *string  `json:"upstream,omitempty"`
	ReconnectEvery    *string  `json:"reconnect_every,omitempty"`
	BroadcastInterval *string  `json:"broadcast_interval,omitempty"` // duration string like "1s"
	PruneInterval     *string  `json:"prune_interval,omitempty"`
	IngestIdle        *string  `json:"ingest_idle,omitempty"`
	DriverTimeout     *string  `json:"driver_timeout,omitempty"`
	StaleAfter        *string  `json:"stale_after,omitempty"`
	CliffThresholdMs  *float64 `json:"cliff_threshold_ms,omitempty"`
	MinDegradationLap *int     `json:"min_degradation_laps,omitempty"`
	BroadcastRateHz   *float64 `json:"broadcast_rate_hz,omitempty"`
	PublicRateHz      *float64 `json:"public_rate_hz,omitempty"`
	ClientBuffer      *int     `json:"client_buffer,omitempty"`
	BroadcastDelayMs  *int64   `json:"broadcast_delay_ms,omitempty"`
	MinConfidence     *float64 `json:"min_confidence,omitempty"`
	AlertCooldown     *string  `json:"alert_cooldown,omitempty"`
}

func LoadFile(path string) (*File, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, errors.Errorf("config file must have .json extension, got %q", ext)
	}
	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, errors.Wrap(err, "stat config file")
	}
	if info.Size() > maxFileSize {
		return nil, errors.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, errors.Wrap(err, "read config file")
	}

	f := &File{}
	if err := json.Unmarshal(data, f); err != nil {
		return nil, errors.Wrap(err, "parse config JSON")
	}
	if err := f.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return f, nil
}

func (f *File) Validate() error {
	durations := map[string]*string{
		"broadcast_interval": f.BroadcastInterval,
		"prune_interval":     f.PruneInterval,
		"ingest_idle":        f.IngestIdle,
		"reconnect_every":    f.ReconnectEvery,
		"driver_timeout":     f.DriverTimeout,
		"stale_after":        f.StaleAfter,
		"alert_cooldown":     f.AlertCooldown,
	}
	for name, v := range durations {
		if v == nil {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return errors.Wrapf(err, "%s", name)
		}
		if d < 0 {
			return errors.Errorf("%s must not be negative", name)
		}
	}
	if f.CliffThresholdMs != nil && *f.CliffThresholdMs <= 0 {
		return errors.Errorf("cliff_threshold_ms must be positive, got %v", *f.CliffThresholdMs)
	}
	if f.MinDegradationLap != nil && *f.MinDegradationLap < 2 {
		return errors.Errorf("min_degradation_laps must be at least 2, got %d", *f.MinDegradationLap)
	}
	if f.MinConfidence != nil && (*f.MinConfidence < 0 || *f.MinConfidence > 1) {
		return errors.Errorf("min_confidence must be within [0, 1], got %v", *f.MinConfidence)
	}
	if f.ClientBuffer != nil && *f.ClientBuffer <= 0 {
		return errors.Errorf("client_buffer must be positive, got %d", *f.ClientBuffer)
	}
	return nil
}

// Apply copies the fields present in the file onto c. The file must be valid.
func (f *File) Apply(c *Config) {
	setString(&c.Address, f.Address)
	setString(&c.DBPath, f.DBPath)
	setString(&c.RulesPath, f.RulesPath)
	setString(&c.Upstream, f.Upstream)
	if len(f.TelegramChats) > 0 {
		c.TelegramChats = append([]int64(nil), f.TelegramChats...)
	}
	setDuration(&c.BroadcastInterval, f.BroadcastInterval)
	setDuration(&c.PruneInterval, f.PruneInterval)
	setDuration(&c.IngestIdle, f.IngestIdle)
	setDuration(&c.ReconnectEvery, f.ReconnectEvery)
	setDuration(&c.Strategy.DriverTimeout, f.DriverTimeout)
	setDuration(&c.Hub.StaleAfter, f.StaleAfter)
	setDuration(&c.Notification.Cooldown, f.AlertCooldown)
	set(&c.Strategy.CliffThresholdMs, f.CliffThresholdMs)
	set(&c.Strategy.MinDegradationLaps, f.MinDegradationLap)
	set(&c.Hub.BroadcastRateHz, f.BroadcastRateHz)
	set(&c.Hub.PublicRateHz, f.PublicRateHz)
	set(&c.Hub.ClientBuffer, f.ClientBuffer)
	set(&c.Hub.DefaultDelayMs, f.BroadcastDelayMs)
	set(&c.Notification.MinConfidence, f.MinConfidence)
}

// ApplyEnv overrides c from the environment.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv("WEBSERVER_ADDRESS"); v != "" {
		c.Address = v
	}
	if v := getenv("TELEGRAM_TOKEN"); v != "" {
		c.TelegramToken = v
	}
	if v := getenv("PITWALL_DB"); v != "" {
		c.DBPath = v
	}
	if v := getenv("PITWALL_RULES"); v != "" {
		c.RulesPath = v
	}
	if v := getenv("PITWALL_UPSTREAM"); v != "" {
		c.Upstream = v
	}
	if v := getenv("PITWALL_TEAM_TOKEN"); v != "" {
		c.TeamToken = v
	}
	if v := getenv("PITWALL_TELEGRAM_CHATS"); v != "" {
		chats, err := ParseChats(v)
		if err != nil {
			return errors.Wrap(err, "PITWALL_TELEGRAM_CHATS")
		}
		c.TelegramChats = chats
	}
	return nil
}

func (c Config) Validate() error {
	if c.Address == "" {
		return errors.New("address is required")
	}
	if c.BroadcastInterval <= 0 {
		return errors.Errorf("broadcast interval must be positive, got %s", c.BroadcastInterval)
	}
	if c.PruneInterval <= 0 {
		return errors.Errorf("prune interval must be positive, got %s", c.PruneInterval)
	}
	if c.IngestIdle <= 0 {
		return errors.Errorf("ingest idle timeout must be positive, got %s", c.IngestIdle)
	}
	if c.Upstream != "" && c.ReconnectEvery <= 0 {
		return errors.Errorf("reconnect interval must be positive, got %s", c.ReconnectEvery)
	}
	if c.TelegramToken != "" && len(c.TelegramChats) == 0 {
		return errors.New("telegram token set without any chat to notify")
	}
	return nil
}

// Load applies defaults, the optional file at path and the environment.
func Load(path string, getenv func(string) string) (Config, error) {
	c := Default()
	if path != "" {
		f, err := LoadFile(path)
		if err != nil {
			return c, err
		}
		f.Apply(&c)
	}
	if err := c.ApplyEnv(getenv); err != nil {
		return c, err
	}
	return c, c.Validate()
}

// ParseChats parses a comma separated list of telegram chat ids.
func ParseChats(s string) ([]int64, error) {
	var chats []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 0, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "chat id %q", part)
		}
		chats = append(chats, id)
	}
	return chats, nil
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func setString(dst *string, v *string) {
	if v != nil && *v != "" {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *string) {
	if v == nil {
		return
	}
	if d, err := time.ParseDuration(*v); err == nil {
		*dst = d
	}
}
