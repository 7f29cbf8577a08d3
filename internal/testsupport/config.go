// Package testsupport provides shared fixtures for RadTrack tests: disposable
// configs rooted in temp directories and a scripted workflow backend.
package testsupport

import (
	"path/filepath"
	"testing"

	"radtrack/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Auth.Token = "test-token"
	cfgVal.Auth.UserID = "test-user"
	cfgVal.Logging.Dir = filepath.Join(base, "logs")
	cfgVal.Journal.Path = filepath.Join(base, "journal.db")

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithServer points the config at a test backend.
func WithServer(pushURL, apiBaseURL string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Server.PushURL = pushURL
		b.cfg.Server.APIBaseURL = apiBaseURL
	}
}

// WithJournalDisabled turns off journal persistence on the test config.
func WithJournalDisabled() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Journal.Enabled = false
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Logging.Dir)
}
