package config

// Config is the full tower configuration. Files may be JSON or YAML;
// YAML is converted to JSON and decoded strictly, so unknown keys are
// rejected in both formats.
type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Bells    BellsConfig    `json:"bells"`
	Schedule ScheduleConfig `json:"schedule"`
	Clock    ClockConfig    `json:"clock,omitempty"`

	// Storage is optional. Nil means the tower runs purely in-memory
	// and loses melodies/schedules on restart.
	Storage *StorageConfig `json:"storage,omitempty"`

	HTTP     HTTPConfig      `json:"http,omitempty"`
	Telegram *TelegramConfig `json:"telegram,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// BellsConfig controls the actuator and the playback loop.
//
// All durations are Go duration strings (e.g. "50ms", "2s").
type BellsConfig struct {
	// Actuator selects the output driver: "gpio", "midi" or "nop".
	// Default: "nop" (timing runs, nothing physical happens).
	Actuator string `json:"actuator,omitempty"`

	// TickInterval is the playback engine poll cadence. Default "50ms".
	// It bounds pulse-width jitter, so keep it well under the shortest
	// configured pulse.
	TickInterval string `json:"tick_interval,omitempty"`

	// AutoEnable arms the ringing system at startup. Nil means true:
	// an unattended tower must come back ringing after a power cut.
	// Set to false for bench setups that want an explicit enable.
	AutoEnable *bool `json:"auto_enable,omitempty"`

	GPIO GPIOConfig `json:"gpio,omitempty"`
	MIDI MIDIConfig `json:"midi,omitempty"`
}

// AutoEnableOn resolves the startup arming flag, defaulting to true.
func (c BellsConfig) AutoEnableOn() bool {
	return c.AutoEnable == nil || *c.AutoEnable
}

// GPIOConfig maps bells to sysfs GPIO lines.
//
// The relays on the reference hardware are active-low: the line is
// driven low to close the relay. ActiveHigh flips that for boards
// wired the other way.
type GPIOConfig struct {
	Bell1Pin   int  `json:"bell1_pin"`
	Bell2Pin   int  `json:"bell2_pin"`
	ActiveHigh bool `json:"active_high,omitempty"`
}

// MIDIConfig maps bells to MIDI notes for bench testing without relay
// hardware. Port is matched by substring against available outputs.
type MIDIConfig struct {
	Port     string `json:"port,omitempty"`
	Channel  uint8  `json:"channel,omitempty"`
	Bell1Key uint8  `json:"bell1_key,omitempty"` // default 60 (C4)
	Bell2Key uint8  `json:"bell2_key,omitempty"` // default 64 (E4)
}

// ScheduleConfig controls the calendar matcher and its background jobs.
type ScheduleConfig struct {
	Enabled bool `json:"enabled"`

	// EvaluateEvery is the matcher poll cadence. Default "30s"; the
	// matcher itself deduplicates to at most one firing per minute.
	EvaluateEvery string `json:"evaluate_every,omitempty"`

	// Timezone for schedule matching (IANA name). Default: system local.
	Timezone string `json:"timezone,omitempty"`

	// TrustFallbackTime lets schedules fire even when the clock chain
	// is reporting its fixed fallback. Default false: a tower that has
	// lost all time sources should not ring from a guessed clock.
	TrustFallbackTime bool `json:"trust_fallback_time,omitempty"`

	// RingAuditRetention prunes the ring audit trail nightly.
	// Default "720h" (30 days); "0s" disables pruning.
	RingAuditRetention string `json:"ring_audit_retention,omitempty"`
}

// ClockConfig controls time-source degradation handling.
type ClockConfig struct {
	// CheckpointPath stores the last known-good time so a restart
	// without NTP can resume with Recovered (rather than Fallback)
	// confidence. Empty disables checkpointing.
	CheckpointPath string `json:"checkpoint_path,omitempty"`

	// CheckpointEvery is the checkpoint write cadence. Default "5m".
	CheckpointEvery string `json:"checkpoint_every,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./tower_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// HTTPConfig controls the JSON control API.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:8080").
//   - If you bind to a non-loopback address, set a token or explicitly
//     allow_insecure.
type HTTPConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:8080"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	// RingRatePerMin throttles POST /api/ring. Default 30, burst 5.
	RingRatePerMin int `json:"ring_rate_per_min,omitempty"`
	RingBurst      int `json:"ring_burst,omitempty"`

	// Server timeouts (Go duration strings).
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

type TelegramConfig struct {
	Enabled      bool    `json:"enabled"`
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}
