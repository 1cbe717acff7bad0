// Package quality holds the per-speaker quality model: the speaker profile,
// the review bucket and trend enums, and the aggregator that folds new SER
// scores into a profile.
package quality

import "time"

// Bucket is the review tier assigned to a speaker. It governs how much
// human review the speaker's future transcripts receive: no_touch drafts
// ship without review, high_touch drafts are fully reviewed.
type Bucket string

const (
	BucketNoTouch     Bucket = "no_touch"
	BucketLowTouch    Bucket = "low_touch"
	BucketMediumTouch Bucket = "medium_touch"
	BucketHighTouch   Bucket = "high_touch"
)

// IsValid reports whether b is a recognised bucket.
func (b Bucket) IsValid() bool {
	switch b {
	case BucketNoTouch, BucketLowTouch, BucketMediumTouch, BucketHighTouch:
		return true
	}
	return false
}

// Trend is the directional quality signal derived from recent SER history.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendDeclining Trend = "declining"
)

// IsValid reports whether t is a recognised trend.
func (t Trend) IsValid() bool {
	switch t {
	case TrendImproving, TrendStable, TrendDeclining:
		return true
	}
	return false
}

// Profile is the per-speaker quality aggregate. One profile exists per
// speaker, created on their first scored note and never deleted.
//
// Profiles are value types: [Aggregator.Update] returns a modified copy and
// the caller persists it. Version supports optimistic concurrency in the
// repository; it is 0 for a profile that has never been persisted.
type Profile struct {
	SpeakerID string `json:"speaker_id"`

	// NoteCount is the number of notes scored for this speaker.
	NoteCount int `json:"note_count"`

	// AverageSER is the running mean SER score over all scored notes.
	AverageSER float64 `json:"average_ser_score"`

	// RecentScores holds the most recent SER scores, bounded to twice the
	// aggregator's window size, newest last. It is the basis for the
	// trend computation.
	RecentScores []float64 `json:"recent_scores"`

	// Trend compares the most recent score window against the previous one.
	Trend Trend `json:"quality_trend"`

	// CurrentBucket is the speaker's active review tier.
	CurrentBucket Bucket `json:"current_bucket"`

	// BucketChangedAt is when CurrentBucket last changed.
	BucketChangedAt time.Time `json:"bucket_changed_at"`

	// DaysInCurrentBucket is the whole days elapsed between BucketChangedAt
	// and the last update.
	DaysInCurrentBucket int `json:"days_in_current_bucket"`

	LastUpdated time.Time `json:"last_updated"`

	// Version is the optimistic-concurrency token managed by the repository.
	Version int64 `json:"version"`
}

// NewProfile returns the default profile for a speaker with no history:
// high_touch with zero counts, so new speakers get full review until they
// accumulate enough notes to be classified.
func NewProfile(speakerID string, now time.Time) Profile {
	return Profile{
		SpeakerID:       speakerID,
		CurrentBucket:   BucketHighTouch,
		Trend:           TrendStable,
		BucketChangedAt: now,
		LastUpdated:     now,
	}
}

// ApplyBucket moves the profile into bucket, resetting the bucket tenure.
// Called by the orchestrator after a transition request is approved.
func (p Profile) ApplyBucket(bucket Bucket, now time.Time) Profile {
	p.CurrentBucket = bucket
	p.BucketChangedAt = now
	p.DaysInCurrentBucket = 0
	p.LastUpdated = now
	return p
}
