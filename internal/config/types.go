package config

// Config is the on-disk configuration. Durations are Go duration strings.
type Config struct {
	Telegram      TelegramConfig      `json:"telegram"`
	Logging       LoggingConfig       `json:"logging"`
	Storage       StorageConfig       `json:"storage"`
	Scheduler     SchedulerConfig     `json:"scheduler"`
	Dispatch      DispatchConfig      `json:"dispatch"`
	Attachments   AttachmentsConfig   `json:"attachments"`
	Retraction    RetractionConfig    `json:"retraction"`
	Observability ObservabilityConfig `json:"observability"`
}

type TelegramConfig struct {
	// APIURL overrides the Bot API endpoint (self-hosted servers, tests).
	APIURL string `json:"api_url,omitempty"`
	// RequestTimeout bounds one HTTP exchange, uploads included. Default "2m".
	RequestTimeout string         `json:"request_timeout,omitempty"`
	Tenants        []TenantConfig `json:"tenants"`
}

// TenantConfig is one bot credential. Token usually comes from ${ENV}.
type TenantConfig struct {
	Name  string `json:"name"`
	Token string `json:"token"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingTelegram forwards WARN+ lines to an operator chat through the first
// tenant's bot.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	Chat       string `json:"chat"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the persistence backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/tgcast.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type SchedulerConfig struct {
	Enabled bool `json:"enabled"`
	// Spec is a robfig/cron spec for the tick. Default "@every 1m".
	Spec string `json:"spec,omitempty"`
}

// DispatchConfig tunes delivery.
//
// Defaults: max_attempts 3, retry_base "1s", reset_backoff "2s",
// stagger_text "500ms", stagger_media "1500ms". A single send is bounded by
// telegram.request_timeout.
type DispatchConfig struct {
	MaxAttempts  int    `json:"max_attempts,omitempty"`
	RetryBase    string `json:"retry_base,omitempty"`
	ResetBackoff string `json:"reset_backoff,omitempty"`
	StaggerText  string `json:"stagger_text,omitempty"`
	StaggerMedia string `json:"stagger_media,omitempty"`
}

type AttachmentsConfig struct {
	// BaseDirs are searched when a recorded path does not exist as is.
	BaseDirs []string `json:"base_dirs,omitempty"`
	// Cleanup deletes files of consumed posts. Default true.
	Cleanup *bool `json:"cleanup,omitempty"`
}

func (a AttachmentsConfig) CleanupEnabled() bool { return a.Cleanup == nil || *a.Cleanup }

type RetractionConfig struct {
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
}

// ObservabilityConfig controls the debug HTTP server.
//
// Prefer a loopback addr. A non-loopback bind needs a token or allow_insecure.
type ObservabilityConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default "127.0.0.1:9090"
	Pprof         bool   `json:"pprof,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}
