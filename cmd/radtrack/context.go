package main

import (
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"radtrack/internal/backend"
	"radtrack/internal/config"
	"radtrack/internal/logging"
	"radtrack/internal/token"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) configPath() string {
	if c.configFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.configFlag)
}

// tokenProvider builds the credential source the config names. A fixed
// token wins over a token file.
func tokenProvider(cfg *config.Config) token.Provider {
	if strings.TrimSpace(cfg.Auth.Token) != "" {
		return token.NewStatic(cfg.Auth.Token)
	}
	return token.NewFile(cfg.Auth.TokenPath)
}

// watchLogger builds the logger for a live tracking run. Log lines go to
// the configured log file so they never interleave with progress output;
// without a log directory they fall back to stderr.
func watchLogger(c *commandContext) (*slog.Logger, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	outputs := []string{"stderr"}
	if cfg.Logging.Dir != "" {
		outputs = []string{filepath.Join(cfg.Logging.Dir, "radtrack.log")}
	}
	return logging.New(logging.Options{
		Level:            cfg.Logging.Level,
		Format:           cfg.Logging.Format,
		OutputPaths:      outputs,
		ErrorOutputPaths: outputs,
	})
}

func apiClient(cfg *config.Config) *backend.Client {
	return backend.New(
		cfg.Server.APIBaseURL,
		tokenProvider(cfg),
		time.Duration(cfg.Tracking.RequestTimeout)*time.Second,
	)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
