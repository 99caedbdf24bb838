package config

// Config is the full runtime configuration.
//
// Secrets come from the environment only (see LoadSecrets) and are never
// read from, or written to, the config file.
type Config struct {
	Poller   PollerConfig   `json:"poller"`
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  *StorageConfig `json:"storage,omitempty"`

	Secrets Secrets `json:"-"`
}

// Secrets are the three required credentials.
type Secrets struct {
	PracticumToken string
	TelegramToken  string
	TelegramChatID string
}

// PollerConfig controls the poll loop.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - interval: "600s" (also accepts "HH:MM" or a cron expression)
//   - endpoint: the production homework status endpoint
//   - request_timeout: "0s" (no timeout beyond the transport's)
type PollerConfig struct {
	Interval       string `json:"interval,omitempty"`
	Endpoint       string `json:"endpoint,omitempty"`
	RequestTimeout string `json:"request_timeout,omitempty"`
}

// TelegramConfig tunes message delivery. The token and chat id are secrets.
type TelegramConfig struct {
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
	SendTimeout string `json:"send_timeout,omitempty"`
	// APIURL overrides the Bot API base URL (local Bot API server).
	APIURL string `json:"api_url,omitempty"`
}

type LoggingConfig struct {
	Level string `json:"level,omitempty"`
	// Console defaults to true when omitted.
	Console *bool       `json:"console,omitempty"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

func (l LoggingConfig) ConsoleEnabled() bool {
	return l.Console == nil || *l.Console
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/hwbot.sqlite" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}
