// Package events defines the domain events emitted by the speaker quality
// engine and the publisher implementations that deliver them.
//
// Two event names exist: "bucket_transition_proposed" and
// "bucket_transition_decided". Downstream notification and dashboard
// services consume them; the engine does not care whether anyone listens.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/tan-res-space/rag-interface/internal/quality"
)

// Event names.
const (
	TransitionProposed = "bucket_transition_proposed"
	TransitionDecided  = "bucket_transition_decided"
)

// Event is the payload shared by all bucket transition events.
type Event struct {
	Name       string         `json:"event"`
	Timestamp  time.Time      `json:"timestamp"`
	SpeakerID  string         `json:"speaker_id"`
	FromBucket quality.Bucket `json:"from_bucket"`
	ToBucket   quality.Bucket `json:"to_bucket"`
	Confidence float64        `json:"confidence"`
	Reason     string         `json:"reason"`
}

// Publisher delivers domain events. Implementations must be safe for
// concurrent use. Publish failures are reported to the caller but must not
// leave the publisher in a broken state.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Noop is a [Publisher] that discards all events. Used when no event sink
// is configured.
type Noop struct{}

// Compile-time interface check.
var _ Publisher = Noop{}

// Publish implements [Publisher].
func (Noop) Publish(context.Context, Event) error { return nil }

// Journal persists events as append-only JSON lines in a local file, one
// object per line. Thread-safe for concurrent use.
type Journal struct {
	mu   sync.Mutex
	path string
}

// Compile-time interface check.
var _ Publisher = (*Journal)(nil)

// NewJournal creates a Journal that appends to the given path. The file is
// created on first publish if it does not exist.
func NewJournal(path string) *Journal {
	return &Journal{path: path}
}

// Publish implements [Publisher].
func (j *Journal) Publish(_ context.Context, ev Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events: marshal: %w", err)
	}
	data = append(data, '\n')

	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("events: open journal: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("events: write: %w", err)
	}
	return nil
}
