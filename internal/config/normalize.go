package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizeServer(); err != nil {
		return err
	}
	if err := c.normalizeAuth(); err != nil {
		return err
	}
	c.normalizeTracking()
	if err := c.normalizeJournal(); err != nil {
		return err
	}
	if err := c.normalizeLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) normalizeServer() error {
	c.Server.PushURL = strings.TrimSpace(c.Server.PushURL)
	if c.Server.PushURL == "" {
		c.Server.PushURL = defaultPushURL
	}
	c.Server.APIBaseURL = strings.TrimRight(strings.TrimSpace(c.Server.APIBaseURL), "/")
	if c.Server.APIBaseURL == "" {
		c.Server.APIBaseURL = defaultAPIBaseURL
	}
	return nil
}

func (c *Config) normalizeAuth() error {
	c.Auth.Token = strings.TrimSpace(c.Auth.Token)
	if c.Auth.Token == "" {
		if value, ok := os.LookupEnv("RADTRACK_TOKEN"); ok {
			c.Auth.Token = strings.TrimSpace(value)
		}
	}
	if strings.TrimSpace(c.Auth.TokenPath) == "" {
		c.Auth.TokenPath = defaultTokenPath
	}
	var err error
	if c.Auth.TokenPath, err = expandPath(c.Auth.TokenPath); err != nil {
		return fmt.Errorf("auth.token_path: %w", err)
	}
	c.Auth.UserID = strings.TrimSpace(c.Auth.UserID)
	if c.Auth.UserID == "" {
		if value, ok := os.LookupEnv("RADTRACK_USER_ID"); ok {
			c.Auth.UserID = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeTracking() {
	if c.Tracking.PollInterval <= 0 {
		c.Tracking.PollInterval = defaultPollInterval
	}
	if c.Tracking.PollNotFoundLimit <= 0 {
		c.Tracking.PollNotFoundLimit = defaultPollNotFoundLimit
	}
	if c.Tracking.WatchdogTimeout <= 0 {
		c.Tracking.WatchdogTimeout = defaultWatchdogTimeout
	}
	if c.Tracking.ConnectTimeout <= 0 {
		c.Tracking.ConnectTimeout = defaultConnectTimeout
	}
	if c.Tracking.RequestTimeout <= 0 {
		c.Tracking.RequestTimeout = defaultRequestTimeout
	}
	if c.Tracking.KeepaliveInterval <= 0 {
		c.Tracking.KeepaliveInterval = defaultKeepaliveInterval
	}
	if c.Tracking.ReconnectBaseMS <= 0 {
		c.Tracking.ReconnectBaseMS = defaultReconnectBaseMS
	}
	if c.Tracking.ReconnectMaxDelayMS <= 0 {
		c.Tracking.ReconnectMaxDelayMS = defaultReconnectMaxDelayMS
	}
	if c.Tracking.ReconnectMaxAttempts <= 0 {
		c.Tracking.ReconnectMaxAttempts = defaultReconnectMaxAttempts
	}
}

func (c *Config) normalizeJournal() error {
	if strings.TrimSpace(c.Journal.Path) == "" {
		c.Journal.Path = defaultJournalPath
	}
	var err error
	if c.Journal.Path, err = expandPath(c.Journal.Path); err != nil {
		return fmt.Errorf("journal.path: %w", err)
	}
	return nil
}

func (c *Config) normalizeLogging() error {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if strings.TrimSpace(c.Logging.Dir) == "" {
		c.Logging.Dir = defaultLogDir
	}
	var err error
	if c.Logging.Dir, err = expandPath(c.Logging.Dir); err != nil {
		return fmt.Errorf("logging.dir: %w", err)
	}
	return nil
}
