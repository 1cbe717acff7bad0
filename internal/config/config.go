// Package config provides the configuration schema and loader for the
// speaker quality service.
package config

// LogLevel controls log verbosity for the server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader]; zero-valued tunables fall
// back to the engine defaults listed on each field.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Storage     StorageConfig     `yaml:"storage"`
	Scoring     ScoringConfig     `yaml:"scoring"`
	Aggregation AggregationConfig `yaml:"aggregation"`
	Classifier  ClassifierConfig  `yaml:"classifier"`
	Workflow    WorkflowConfig    `yaml:"workflow"`
	Events      EventsConfig      `yaml:"events"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// StorageConfig selects the repository backend.
type StorageConfig struct {
	// PostgresDSN is the connection string for the PostgreSQL repository.
	// When empty, the service runs on the in-memory repository and all
	// state is lost on restart.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// ScoringConfig tunes the edit-distance scorer.
type ScoringConfig struct {
	// MoveWindow is the maximum token distance for two substitutions to be
	// folded into a move. Default: 5.
	MoveWindow int `yaml:"move_window"`

	// HighThreshold is the SER upper bound for the high quality level.
	// Default: 5.
	HighThreshold float64 `yaml:"high_threshold"`

	// AcceptableThreshold is the SER upper bound for the medium quality
	// level and for a note to be acceptable. Default: 15.
	AcceptableThreshold float64 `yaml:"acceptable_threshold"`

	// PhoneticThreshold is the Jaro-Winkler similarity above which a
	// substitution counts as phonetic. Default: 0.85.
	PhoneticThreshold float64 `yaml:"phonetic_threshold"`
}

// AggregationConfig tunes the quality trend computation.
type AggregationConfig struct {
	// WindowSize is the number of notes per trend window. Default: 10.
	WindowSize int `yaml:"window_size"`

	// TrendDelta is the minimum SER-point difference between windows
	// before the trend leaves stable. Default: 2.
	TrendDelta float64 `yaml:"trend_delta"`
}

// ClassifierConfig tunes the bucket recommendation.
type ClassifierConfig struct {
	// NoTouchMax, LowTouchMax, and MediumTouchMax are the average-SER
	// upper bounds per bucket. Defaults: 5, 15, 30.
	NoTouchMax     float64 `yaml:"no_touch_max"`
	LowTouchMax    float64 `yaml:"low_touch_max"`
	MediumTouchMax float64 `yaml:"medium_touch_max"`

	// MinSampleSize is the note count below which high_touch is forced.
	// Default: 20.
	MinSampleSize int `yaml:"min_sample_size"`
}

// WorkflowConfig tunes the transition request workflow.
type WorkflowConfig struct {
	// MinConfidence is the recommendation confidence required to open a
	// request. Default: 0.6.
	MinConfidence float64 `yaml:"min_confidence"`

	// AutoApprove enables immediate system approval of high-confidence
	// proposals. Default: false.
	AutoApprove bool `yaml:"auto_approve"`

	// AutoApproveThreshold is the confidence required for auto-approval.
	// Default: 0.9. Ignored when AutoApprove is false.
	AutoApproveThreshold float64 `yaml:"auto_approve_threshold"`
}

// EventsConfig selects the domain event sink.
type EventsConfig struct {
	// JournalPath is the JSON-lines file domain events are appended to.
	// When empty, events are discarded.
	JournalPath string `yaml:"journal_path"`
}
