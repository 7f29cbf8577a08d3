package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateAuth(); err != nil {
		return err
	}
	if err := c.validateTracking(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateServer() error {
	push, err := url.Parse(c.Server.PushURL)
	if err != nil {
		return fmt.Errorf("server.push_url is not a valid URL: %w", err)
	}
	switch push.Scheme {
	case "ws", "wss":
	default:
		return errors.New("server.push_url must use the ws or wss scheme")
	}
	api, err := url.Parse(c.Server.APIBaseURL)
	if err != nil {
		return fmt.Errorf("server.api_base_url is not a valid URL: %w", err)
	}
	switch api.Scheme {
	case "http", "https":
	default:
		return errors.New("server.api_base_url must use the http or https scheme")
	}
	return nil
}

func (c *Config) validateAuth() error {
	if strings.TrimSpace(c.Auth.Token) == "" && strings.TrimSpace(c.Auth.TokenPath) == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/radtrack/config.toml"
		}
		return fmt.Errorf("auth.token or auth.token_path is required. Set RADTRACK_TOKEN or edit %s (create with 'radtrack config init')", defaultPath)
	}
	return nil
}

func (c *Config) validateTracking() error {
	if err := ensurePositiveMap(map[string]int{
		"tracking.poll_interval":          c.Tracking.PollInterval,
		"tracking.poll_not_found_limit":   c.Tracking.PollNotFoundLimit,
		"tracking.watchdog_timeout":       c.Tracking.WatchdogTimeout,
		"tracking.connect_timeout":        c.Tracking.ConnectTimeout,
		"tracking.request_timeout":        c.Tracking.RequestTimeout,
		"tracking.keepalive_interval":     c.Tracking.KeepaliveInterval,
		"tracking.reconnect_base_ms":      c.Tracking.ReconnectBaseMS,
		"tracking.reconnect_max_delay_ms": c.Tracking.ReconnectMaxDelayMS,
		"tracking.reconnect_max_attempts": c.Tracking.ReconnectMaxAttempts,
	}); err != nil {
		return err
	}
	if c.Tracking.ReconnectMaxDelayMS < c.Tracking.ReconnectBaseMS {
		return errors.New("tracking.reconnect_max_delay_ms must be >= tracking.reconnect_base_ms")
	}
	if c.Tracking.WatchdogTimeout <= c.Tracking.PollInterval {
		return errors.New("tracking.watchdog_timeout must be greater than tracking.poll_interval")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
