package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/mithrel/pollsock/internal/channel"
)

// applyDefaults seeds Viper with defaults defined in GetConfigOptions.
func applyDefaults(v *viper.Viper) {
	for _, o := range GetConfigOptions() {
		v.SetDefault(o.Key, o.Default)
	}
}

// Load resolves configuration with precedence: defaults < file < env.
// The provided Viper instance is mutated with defaults, file contents, and env.
func Load(ctx context.Context, v *viper.Viper) error {
	if v.ConfigFileUsed() == "" {
		v.SetConfigName("config")
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			v.AddConfigPath(filepath.Join(xdg, "pollsock"))
		}
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "pollsock"))
		}
		v.AddConfigPath(".")
	}

	applyDefaults(v)

	// A missing config file is fine; a broken one is not.
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("read config: %w", err)
		}
	}

	// Environment variables: POLLSOCK_* (e.g. POLLSOCK_SERVER_URL)
	v.SetEnvPrefix("pollsock")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Allow comma-separated env override for log.outputs
	if s := strings.TrimSpace(v.GetString("log.outputs")); s != "" && !strings.HasPrefix(s, "[") {
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			v.Set("log.outputs", out)
		}
	}
	return nil
}

// DefaultConfigPath resolves the standard config.toml location.
func DefaultConfigPath() string {
	xdg := os.Getenv("XDG_CONFIG_HOME")
	if xdg == "" {
		home, _ := os.UserHomeDir()
		xdg = filepath.Join(home, ".config")
	}
	return filepath.Join(xdg, "pollsock", "config.toml")
}

type ConfigOption struct {
	Key     string
	Default any
	Comment string
}

// GetConfigOptions returns the default configuration options and their meanings.
// This is the single source of truth for default values and generator output.
func GetConfigOptions() []ConfigOption {
	return []ConfigOption{
		{Key: "server.url", Default: "http://localhost:8080", Comment: "Origin of the socket relay; loopback origins use native websockets in auto mode"},
		{Key: "channel.mode", Default: string(channel.ModeAuto), Comment: "Channel transport: auto, native or emulated"},

		{Key: "auth.token", Default: "", Comment: "Bearer token sent to (client) or required by (relay) the socket relay"},

		{Key: "client.request_timeout", Default: "20s", Comment: "Timeout for open, send and close requests"},
		{Key: "client.poll_timeout", Default: "90s", Comment: "Timeout for a single poll; must exceed relay.poll_timeout"},

		{Key: "relay.listen", Default: ":8080", Comment: "HTTP listen address for the socket relay"},
		{Key: "relay.poll_timeout", Default: "30s", Comment: "How long the relay holds a poll open when no events are queued"},
		{Key: "relay.dial_timeout", Default: "10s", Comment: "Timeout for dialing an upstream websocket"},
		{Key: "relay.max_sessions", Default: 1024, Comment: "Maximum live relay sessions; the least recently used is closed first"},

		{Key: "notebook.base_url", Default: "http://localhost:8888", Comment: "Base URL of the notebook server"},
		{Key: "notebook.path", Default: "", Comment: "Directory in which new notebooks are created"},

		{Key: "log.level", Default: "info", Comment: "Log level: debug, info, warn, error"},
		{Key: "log.format", Default: "console", Comment: "Log encoding: console or json"},
		{Key: "log.outputs", Default: []string{"stderr"}, Comment: "Log sinks: stdout, stderr or file paths"},
		{Key: "log.development", Default: false, Comment: "Development logging (colored levels, stack traces on warn)"},
		{Key: "log.rotation.enable", Default: false, Comment: "Rotate file outputs"},
		{Key: "log.rotation.max_size_mb", Default: 50, Comment: "Rotate after this many megabytes"},
		{Key: "log.rotation.max_backups", Default: 3, Comment: "Rotated files to keep"},
		{Key: "log.rotation.max_age_days", Default: 14, Comment: "Days to keep rotated files"},
		{Key: "log.rotation.compress", Default: true, Comment: "Gzip rotated files"},
	}
}

// CheckConfigValidity reports every invalid option at once.
func CheckConfigValidity(v *viper.Viper) error {
	var errs []error

	if _, err := channel.ParseMode(v.GetString("channel.mode")); err != nil {
		errs = append(errs, fmt.Errorf("channel.mode: %w", err))
	}
	for _, key := range []string{"server.url", "notebook.base_url"} {
		raw := strings.TrimSpace(v.GetString(key))
		if raw == "" {
			errs = append(errs, fmt.Errorf("%s is required", key))
			continue
		}
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s has invalid url", key))
		}
	}
	for _, key := range []string{"client.request_timeout", "client.poll_timeout", "relay.poll_timeout", "relay.dial_timeout"} {
		if d, err := parseDuration(v.GetString(key)); err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be a positive duration", key))
		}
	}
	if cp, rp := v.GetDuration("client.poll_timeout"), v.GetDuration("relay.poll_timeout"); cp > 0 && rp > 0 && cp <= rp {
		errs = append(errs, errors.New("client.poll_timeout must exceed relay.poll_timeout"))
	}
	if v.GetInt("relay.max_sessions") <= 0 {
		errs = append(errs, errors.New("relay.max_sessions must be greater than 0"))
	}
	switch strings.ToLower(v.GetString("log.format")) {
	case "console", "json":
	default:
		errs = append(errs, errors.New("log.format must be console or json"))
	}
	return errors.Join(errs...)
}

func parseDuration(s string) (time.Duration, error) {
	return time.ParseDuration(strings.TrimSpace(s))
}
