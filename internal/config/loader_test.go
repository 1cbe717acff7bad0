package config_test

import (
	"strings"
	"testing"

	"github.com/tan-res-space/rag-interface/internal/config"
)

func TestLoadFromReader_FullConfig(t *testing.T) {
	t.Parallel()

	const doc = `
server:
  listen_addr: ":9090"
  log_level: debug
storage:
  postgres_dsn: "postgres://qa:qa@localhost:5432/speakerqa"
scoring:
  move_window: 3
  high_threshold: 4
  acceptable_threshold: 12
  phonetic_threshold: 0.8
aggregation:
  window_size: 15
  trend_delta: 1.5
classifier:
  no_touch_max: 4
  low_touch_max: 12
  medium_touch_max: 25
  min_sample_size: 30
workflow:
  min_confidence: 0.7
  auto_approve: true
  auto_approve_threshold: 0.95
events:
  journal_path: /var/log/speakerqa/events.jsonl
`

	cfg, err := config.LoadFromReader(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("LoadFromReader: unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("ListenAddr=%q", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("LogLevel=%q", cfg.Server.LogLevel)
	}
	if cfg.Scoring.MoveWindow != 3 {
		t.Errorf("MoveWindow=%d", cfg.Scoring.MoveWindow)
	}
	if cfg.Classifier.MinSampleSize != 30 {
		t.Errorf("MinSampleSize=%d", cfg.Classifier.MinSampleSize)
	}
	if !cfg.Workflow.AutoApprove || cfg.Workflow.AutoApproveThreshold != 0.95 {
		t.Errorf("Workflow=%+v", cfg.Workflow)
	}
	if cfg.Events.JournalPath == "" {
		t.Error("JournalPath empty")
	}
}

func TestLoadFromReader_EmptyConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadFromReader(empty): unexpected error: %v", err)
	}
	if cfg.Storage.PostgresDSN != "" {
		t.Errorf("PostgresDSN=%q, want empty", cfg.Storage.PostgresDSN)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()

	const doc = `
server:
  listen_addr: ":8080"
  banana: yes
`
	if _, err := config.LoadFromReader(strings.NewReader(doc)); err == nil {
		t.Fatal("LoadFromReader accepted unknown field")
	}
}

func TestValidate_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		doc  string
	}{
		{
			name: "bad log level",
			doc:  "server:\n  log_level: loud\n",
		},
		{
			name: "inverted scoring thresholds",
			doc:  "scoring:\n  high_threshold: 20\n  acceptable_threshold: 10\n",
		},
		{
			name: "phonetic threshold out of range",
			doc:  "scoring:\n  phonetic_threshold: 1.5\n",
		},
		{
			name: "non-increasing classifier thresholds",
			doc:  "classifier:\n  no_touch_max: 10\n  low_touch_max: 10\n  medium_touch_max: 30\n",
		},
		{
			name: "confidence out of range",
			doc:  "workflow:\n  min_confidence: 1.2\n",
		},
		{
			name: "auto approve threshold below min confidence",
			doc:  "workflow:\n  min_confidence: 0.8\n  auto_approve: true\n  auto_approve_threshold: 0.7\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if _, err := config.LoadFromReader(strings.NewReader(tt.doc)); err == nil {
				t.Fatal("LoadFromReader accepted invalid config")
			}
		})
	}
}
