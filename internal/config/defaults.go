package config

const (
	defaultPushURL              = "wss://localhost:8443/ws/workflow"
	defaultAPIBaseURL           = "https://localhost:8443/api"
	defaultTokenPath            = "~/.config/radtrack/token"
	defaultJournalPath          = "~/.local/share/radtrack/journal.db"
	defaultLogDir               = "~/.local/share/radtrack/logs"
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
	defaultPollInterval         = 15
	defaultPollNotFoundLimit    = 5
	defaultWatchdogTimeout      = 30
	defaultConnectTimeout       = 30
	defaultRequestTimeout       = 10
	defaultKeepaliveInterval    = 30
	defaultReconnectBaseMS      = 1000
	defaultReconnectMaxDelayMS  = 30000
	defaultReconnectMaxAttempts = 5
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Server: Server{
			PushURL:    defaultPushURL,
			APIBaseURL: defaultAPIBaseURL,
		},
		Auth: Auth{
			TokenPath: defaultTokenPath,
		},
		Tracking: Tracking{
			PollInterval:         defaultPollInterval,
			PollNotFoundLimit:    defaultPollNotFoundLimit,
			WatchdogTimeout:      defaultWatchdogTimeout,
			ConnectTimeout:       defaultConnectTimeout,
			RequestTimeout:       defaultRequestTimeout,
			KeepaliveInterval:    defaultKeepaliveInterval,
			ReconnectBaseMS:      defaultReconnectBaseMS,
			ReconnectMaxDelayMS:  defaultReconnectMaxDelayMS,
			ReconnectMaxAttempts: defaultReconnectMaxAttempts,
		},
		Journal: Journal{
			Enabled: true,
			Path:    defaultJournalPath,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
			Dir:    defaultLogDir,
		},
	}
}
