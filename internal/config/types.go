package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging LoggingConfig  `json:"logging"`
	Engine  EngineConfig   `json:"engine"`
	Storage *StorageConfig `json:"storage,omitempty"`

	// Contexts are registered in order; the first one becomes active unless
	// engine.active_context names another.
	Contexts []ContextConfig `json:"contexts"`

	CronProvider *CronProviderConfig `json:"cron_provider,omitempty"`
	Runs         []RunConfig         `json:"runs,omitempty"`
	Mailbox      MailboxConfig       `json:"mailbox,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	JSON    bool        `json:"json,omitempty"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// EngineConfig controls the anchor engine.
//
// Defaults (when fields are omitted/zero):
//   - frame: "daily"
//   - tick_interval: "1s"
//   - provider_timeout: "0s" (disabled)
//   - max_concurrent_providers: 0 (unbounded)
//   - follow_wall_clock: false (ETAs are measured against the cursor)
type EngineConfig struct {
	Frame                  string `json:"frame,omitempty"`
	ActiveContext          string `json:"active_context,omitempty"`
	TickInterval           string `json:"tick_interval,omitempty"`
	ProviderTimeout        string `json:"provider_timeout,omitempty"`
	MaxConcurrentProviders int    `json:"max_concurrent_providers,omitempty"`
	FollowWallClock        bool   `json:"follow_wall_clock,omitempty"`
}

// StorageConfig controls where the sequence library is persisted.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./timeanchor.db", "busy_timeout": "2s" }
type StorageConfig struct {
	Driver      string `json:"driver"` // file | sqlite | memory | none
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

type ContextConfig struct {
	ID     string            `json:"id"`
	Label  string            `json:"label,omitempty"`
	Lat    float64           `json:"lat,omitempty"`
	Lng    float64           `json:"lng,omitempty"`
	TZ     string            `json:"tz,omitempty"`
	Method string            `json:"method,omitempty"`
	Meta   map[string]string `json:"meta,omitempty"`
}

// CronProviderConfig configures the built-in cron provider. Enabled is a
// pointer so an omitted value means "enabled when entries exist".
type CronProviderConfig struct {
	Enabled     *bool             `json:"enabled,omitempty"`
	Name        string            `json:"name,omitempty"`
	MaxPerEntry int               `json:"max_per_entry,omitempty"`
	Entries     []CronEntryConfig `json:"entries"`
}

func (c *CronProviderConfig) IsEnabled() bool {
	if c == nil {
		return false
	}
	if c.Enabled != nil {
		return *c.Enabled
	}
	return len(c.Entries) > 0
}

type CronEntryConfig struct {
	ID       string   `json:"id"`
	Label    string   `json:"label,omitempty"`
	Cron     string   `json:"cron"`
	Category string   `json:"category,omitempty"`
	Contexts []string `json:"contexts,omitempty"`
	Priority int      `json:"priority,omitempty"`
}

// RunConfig is a recurring run built from a stored sequence.
type RunConfig struct {
	ID           string   `json:"id"`
	Label        string   `json:"label,omitempty"`
	Sequence     string   `json:"sequence"`
	Contexts     []string `json:"contexts,omitempty"`
	DailyAt      string   `json:"daily_at,omitempty"`
	EveryMinutes int      `json:"every_minutes,omitempty"`
	Cron         string   `json:"cron,omitempty"`
	Priority     int      `json:"priority,omitempty"`
}

// MailboxConfig sizes the sequence mailbox queue. 0 uses the default (64).
type MailboxConfig struct {
	Buffer int `json:"buffer,omitempty"`
}
