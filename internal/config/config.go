package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Calendar sources.
const (
	SourceGoogle = "google"
	SourceICS    = "ics"
)

// PinsConfig names the periph.io output pins for each lead of the light.
type PinsConfig struct {
	Red   string `yaml:"red" json:"red"`
	Green string `yaml:"green" json:"green"`
	Blue  string `yaml:"blue" json:"blue"`
}

// Config is the top-level application configuration. It is loaded once at
// startup and treated as read-only afterwards.
type Config struct {
	// Source selects the calendar backend: "google" (default) or "ics".
	Source string `yaml:"source" json:"source"`

	// CalendarID is the Google calendar to watch (e.g. "primary" or an
	// address like "team@group.calendar.google.com").
	CalendarID string `yaml:"calendar_id" json:"calendar_id"`

	// ICSURL is the feed polled when Source is "ics".
	ICSURL string `yaml:"ics_url" json:"ics_url"`

	// RefreshSeconds is the poll interval. RefreshMinutes is accepted as an
	// alternative unit; if both are set, seconds win. There is no default.
	RefreshSeconds int `yaml:"refresh_seconds" json:"refresh_seconds"`
	RefreshMinutes int `yaml:"refresh_minutes" json:"refresh_minutes"`

	// Timezone is the IANA zone used for working hours. Empty means local.
	Timezone string `yaml:"timezone" json:"timezone"`

	// CredentialsPath is the OAuth client file downloaded from the Google
	// console; TokenPath caches the authorized token.
	CredentialsPath string `yaml:"credentials_path" json:"credentials_path"`
	TokenPath       string `yaml:"token_path" json:"token_path"`

	// HorizonDays bounds recurrence expansion for the ics source.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	Pins PinsConfig `yaml:"pins" json:"pins"`
}

// Error is a fatal configuration problem. Field is empty when the file as a
// whole could not be read or parsed.
type Error struct {
	Path  string
	Field string
	Err   error
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config %s: %s: %v", e.Path, e.Field, e.Err)
	}
	return fmt.Sprintf("config %s: %v", e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrRequired marks a missing required field.
var ErrRequired = errors.New("required")

// Normalize fills in optional values. Required fields are never defaulted.
func (c *Config) Normalize() {
	c.Source = strings.ToLower(strings.TrimSpace(c.Source))
	if c.Source == "" {
		c.Source = SourceGoogle
	}
	c.CalendarID = strings.TrimSpace(c.CalendarID)
	c.ICSURL = strings.TrimSpace(c.ICSURL)
	if c.CredentialsPath == "" {
		c.CredentialsPath = "credentials.json"
	}
	if c.TokenPath == "" {
		c.TokenPath = "token.json"
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = 7
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	// BCM numbering on a Raspberry Pi header.
	if c.Pins.Red == "" {
		c.Pins.Red = "GPIO17"
	}
	if c.Pins.Green == "" {
		c.Pins.Green = "GPIO27"
	}
	if c.Pins.Blue == "" {
		c.Pins.Blue = "GPIO22"
	}
}

// Validate reports the first missing or invalid field as a *Error without
// Path; Load fills the path in.
func (c *Config) Validate() error {
	switch c.Source {
	case SourceGoogle:
		if c.CalendarID == "" {
			return &Error{Field: "calendar_id", Err: ErrRequired}
		}
	case SourceICS:
		if c.ICSURL == "" {
			return &Error{Field: "ics_url", Err: ErrRequired}
		}
	default:
		return &Error{Field: "source", Err: fmt.Errorf("unknown source %q", c.Source)}
	}

	if c.RefreshSeconds < 0 {
		return &Error{Field: "refresh_seconds", Err: errors.New("must be positive")}
	}
	if c.RefreshMinutes < 0 {
		return &Error{Field: "refresh_minutes", Err: errors.New("must be positive")}
	}
	if c.RefreshSeconds == 0 && c.RefreshMinutes == 0 {
		return &Error{Field: "refresh_seconds", Err: ErrRequired}
	}

	if _, err := c.loadLocation(); err != nil {
		return &Error{Field: "timezone", Err: err}
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "error":
	default:
		return &Error{Field: "log_level", Err: fmt.Errorf("invalid level %q", c.LogLevel)}
	}
	return nil
}

// Interval returns the poll interval. Only meaningful after Validate.
func (c *Config) Interval() time.Duration {
	if c.RefreshSeconds > 0 {
		return time.Duration(c.RefreshSeconds) * time.Second
	}
	return time.Duration(c.RefreshMinutes) * time.Minute
}

// Location resolves Timezone, falling back to time.Local.
func (c *Config) Location() *time.Location {
	loc, err := c.loadLocation()
	if err != nil {
		return time.Local
	}
	return loc
}

func (c *Config) loadLocation() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// Load loads configuration from the given YAML path. JSON files parse too.
//
// Behavior:
//   - a missing or unreadable file is an error; nothing is created
//   - optional fields are normalized
//   - required fields are validated
//
// All failures are returned as *Error.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, &Error{Err: errors.New("config path is empty")}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Path: path, Err: err}
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &Error{Path: path, Err: err}
	}
	if cfg.CalendarID == "" {
		// Older config.json files spell the key in camelCase.
		var legacy struct {
			CalendarID string `yaml:"calendarId"`
		}
		if err := yaml.Unmarshal(data, &legacy); err == nil {
			cfg.CalendarID = legacy.CalendarID
		}
	}
	cfg.Normalize()

	if err := cfg.Validate(); err != nil {
		var ce *Error
		if errors.As(err, &ce) {
			ce.Path = path
			return nil, ce
		}
		return nil, &Error{Path: path, Err: err}
	}

	return &cfg, nil
}
