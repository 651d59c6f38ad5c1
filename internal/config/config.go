// Package config provides the configuration schema, loader, and file watcher
// for the Soulink companion client.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps [time.Duration] so YAML values like "30s" decode naturally.
type Duration time.Duration

// UnmarshalYAML decodes either a duration string ("30s", "1m") or a bare
// number of nanoseconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw any
	if err := value.Decode(&raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	case int:
		*d = Duration(v)
	default:
		return fmt.Errorf("invalid duration value %v", raw)
	}
	return nil
}

// Std returns the wrapped [time.Duration].
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// String formats the duration like [time.Duration.String].
func (d Duration) String() string {
	return time.Duration(d).String()
}

// LogLevel controls log verbosity for the client.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for Soulink.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server ServerConfig `yaml:"server"`
	Chat   ChatConfig   `yaml:"chat"`
	Audio  AudioConfig  `yaml:"audio"`
	Export ExportConfig `yaml:"export"`
}

// ServerConfig holds local listener and logging settings.
type ServerConfig struct {
	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// MetricsAddr is the TCP address serving /metrics (e.g., ":9091").
	// Empty disables the metrics listener.
	MetricsAddr string `yaml:"metrics_addr"`

	// UIAddr is the TCP address for the local snapshot feed (e.g., ":8765").
	// Empty disables the feed.
	UIAddr string `yaml:"ui_addr"`
}

// ChatConfig addresses the remote character service and tunes the
// conversation behaviour.
type ChatConfig struct {
	// Origin is the base URL of the character service
	// (e.g., "http://localhost:8000"). Required.
	Origin string `yaml:"origin"`

	// CharacterID selects the character to converse with. Empty selects the
	// first roster entry.
	CharacterID string `yaml:"character_id"`

	// ExchangeTimeout bounds a single exchange from dispatch to stream
	// completion. Zero disables the bound.
	ExchangeTimeout Duration `yaml:"exchange_timeout"`

	// Greeting overrides the opening line shown before any exchange.
	Greeting string `yaml:"greeting"`

	// ResetGreeting overrides the line shown after a conversation reset.
	ResetGreeting string `yaml:"reset_greeting"`

	// FallbackNotice overrides the message appended when an exchange fails.
	FallbackNotice string `yaml:"fallback_notice"`

	// VoiceLabel overrides the transcript placeholder for voice replies
	// that carry no text.
	VoiceLabel string `yaml:"voice_label"`
}

// AudioConfig selects and tunes the capture device.
type AudioConfig struct {
	// DeviceID selects an input device by PortAudio index. Zero or negative
	// selects the system default.
	DeviceID int `yaml:"device_id"`

	// SampleRate is the capture sample rate in Hz. Zero uses the default.
	SampleRate int `yaml:"sample_rate"`
}

// ExportConfig controls conversation snapshot output.
type ExportConfig struct {
	// Dir is the directory snapshots are written to. Empty means the
	// current working directory.
	Dir string `yaml:"dir"`
}
