package config

// Config is the dreamplan configuration document.
//
// Files ending in .yaml/.yml are accepted too; they are converted to JSON and
// decoded with the same strict rules (unknown keys are errors).
type Config struct {
	Logging LoggingConfig  `json:"logging"`
	Engine  EngineConfig   `json:"engine"`
	Planner PlannerConfig  `json:"planner"`
	Storage *StorageConfig `json:"storage,omitempty"`
	Runner  RunnerConfig   `json:"runner"`
	HTTP    HTTPConfig     `json:"http"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	// Format is the console encoding, "text" or "json".
	Format string      `json:"format,omitempty"`
	File   LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// EngineConfig holds the scheduling engine tunables.
//
// Defaults (when fields are omitted/zero):
//   - daily_cap: 5
//   - rest_day: "sunday"
//   - compaction.enabled: true
//   - compaction.factor: 2.0
//   - compaction.min_slack_days: 7
//   - compaction.round_weeks: true
//   - repeat.horizon_days: 0 (whole window)
//   - repeat.max_instances: 500
type EngineConfig struct {
	DailyCap   int              `json:"daily_cap,omitempty"`
	RestDay    string           `json:"rest_day,omitempty"`
	Compaction CompactionConfig `json:"compaction"`
	Repeat     RepeatConfig     `json:"repeat"`
}

// CompactionConfig uses pointers for booleans so "omitted" can default to true.
type CompactionConfig struct {
	Enabled      *bool   `json:"enabled,omitempty"`
	Factor       float64 `json:"factor,omitempty"`
	MinSlackDays *int    `json:"min_slack_days,omitempty"`
	RoundWeeks   *bool   `json:"round_weeks,omitempty"`
}

type RepeatConfig struct {
	HorizonDays  int `json:"horizon_days,omitempty"`
	MaxInstances int `json:"max_instances,omitempty"`
}

// PlannerConfig controls the planning service in front of the engine.
//
// rate_per_sec 0 disables rate limiting. persist defaults to true when a
// storage driver is configured.
type PlannerConfig struct {
	RatePerSec      float64 `json:"rate_per_sec,omitempty"`
	Burst           int     `json:"burst,omitempty"`
	Persist         *bool   `json:"persist,omitempty"`
	DefaultTimezone string  `json:"default_timezone,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./dreamplan.db", "busy_timeout": "5s" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// RunnerConfig controls the periodic inbox runner.
//
// Schedule accepts a cron expression, a descriptor such as "@every 1h" or
// "@daily", a bare Go duration ("30m") or an "HH:MM" interval ("02:30" is
// every two and a half hours).
type RunnerConfig struct {
	Enabled   bool   `json:"enabled"`
	Schedule  string `json:"schedule,omitempty"`
	InboxDir  string `json:"inbox_dir,omitempty"`
	OutboxDir string `json:"outbox_dir,omitempty"`
	Workers   int    `json:"workers,omitempty"`
	// Timeout bounds one pass over the inbox. Go duration string; "0s" disables.
	Timeout string `json:"timeout,omitempty"`
}

// HTTPConfig controls the optional HTTP control surface.
//
// Security:
//   - Prefer binding to localhost (default 127.0.0.1:6060).
//   - If binding to a non-loopback address, set token or enable allow_insecure.
type HTTPConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// CompactionEnabled reports compaction.enabled, defaulting to true.
func (e EngineConfig) CompactionEnabled() bool { return boolOr(e.Compaction.Enabled, true) }

// RoundWeeks reports compaction.round_weeks, defaulting to true.
func (e EngineConfig) RoundWeeks() bool { return boolOr(e.Compaction.RoundWeeks, true) }

// MinSlackDays reports compaction.min_slack_days, defaulting to 7.
func (e EngineConfig) MinSlackDays() int {
	if e.Compaction.MinSlackDays == nil {
		return 7
	}
	return *e.Compaction.MinSlackDays
}

// PersistEnabled reports planner.persist, defaulting to true.
func (p PlannerConfig) PersistEnabled() bool { return boolOr(p.Persist, true) }
