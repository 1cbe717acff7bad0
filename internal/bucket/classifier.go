// Package bucket maps speaker quality profiles onto review buckets and
// manages the lifecycle of bucket transition requests.
//
// The [Classifier] is a pure threshold lookup over the profile's average
// SER with an insufficient-data safety policy. The [Workflow] is the state
// machine for transition requests: pending → approved or pending →
// rejected, exactly once, with an append-only history kept by the
// repository. Neither type performs I/O.
package bucket

import (
	"fmt"
	"math"

	"github.com/tan-res-space/rag-interface/internal/quality"
)

const (
	defaultNoTouchThreshold     = 5.0
	defaultLowTouchThreshold    = 15.0
	defaultMediumTouchThreshold = 30.0
	defaultMinSampleSize        = 20

	// confidenceSaturation is the note count at which the sample-size
	// component of confidence reaches its maximum.
	confidenceSaturation = 100

	// boundaryBand and boundaryPenalty shape the confidence drop near a
	// bucket threshold: a score within boundaryBand SER points of a
	// threshold loses up to boundaryPenalty confidence, linearly.
	boundaryBand    = 2.0
	boundaryPenalty = 0.2

	// insufficientDataCap bounds confidence while a speaker has fewer
	// notes than the minimum sample size.
	insufficientDataCap = 0.5
)

// Recommendation is the classifier's verdict for a profile.
type Recommendation struct {
	Bucket     quality.Bucket `json:"bucket"`
	Confidence float64        `json:"confidence"`
	Reason     string         `json:"reason"`
}

// ClassifierOption is a functional option for configuring a [Classifier].
type ClassifierOption func(*Classifier)

// WithBucketThresholds sets the average-SER upper bounds for the no_touch,
// low_touch, and medium_touch buckets. Anything above the medium_touch
// bound is high_touch. Defaults: 5, 15, 30.
func WithBucketThresholds(noTouch, lowTouch, mediumTouch float64) ClassifierOption {
	return func(c *Classifier) {
		c.noTouchMax = noTouch
		c.lowTouchMax = lowTouch
		c.mediumTouchMax = mediumTouch
	}
}

// WithMinSampleSize sets the note count below which the classifier forces
// high_touch regardless of score. Default: 20.
func WithMinSampleSize(n int) ClassifierOption {
	return func(c *Classifier) {
		if n > 0 {
			c.minSampleSize = n
		}
	}
}

// Classifier recommends a review bucket for a speaker profile. It is
// read-only after construction and safe for concurrent use.
type Classifier struct {
	noTouchMax     float64
	lowTouchMax    float64
	mediumTouchMax float64
	minSampleSize  int
}

// NewClassifier returns a [Classifier] configured with the supplied options.
func NewClassifier(opts ...ClassifierOption) *Classifier {
	c := &Classifier{
		noTouchMax:     defaultNoTouchThreshold,
		lowTouchMax:    defaultLowTouchThreshold,
		mediumTouchMax: defaultMediumTouchThreshold,
		minSampleSize:  defaultMinSampleSize,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Recommend maps profile onto a bucket recommendation.
//
// Speakers with fewer than the minimum sample size of notes are always
// recommended high_touch with confidence capped at 0.5: too little
// history to justify reducing review. Otherwise the bucket follows the
// average-SER thresholds, and confidence grows with note count (saturating
// at 100 notes) and shrinks when the average sits close to a threshold
// boundary.
func (c *Classifier) Recommend(profile quality.Profile) Recommendation {
	if profile.NoteCount < c.minSampleSize {
		conf := insufficientDataCap * float64(profile.NoteCount) / float64(c.minSampleSize)
		if conf > insufficientDataCap {
			conf = insufficientDataCap
		}
		return Recommendation{
			Bucket:     quality.BucketHighTouch,
			Confidence: conf,
			Reason: fmt.Sprintf("insufficient history: %d of %d notes required",
				profile.NoteCount, c.minSampleSize),
		}
	}

	b := c.bucketFor(profile.AverageSER)

	sampleConf := 0.5 + 0.5*math.Min(float64(profile.NoteCount), confidenceSaturation)/confidenceSaturation
	penalty := boundaryPenalty * (1 - math.Min(c.boundaryDistance(profile.AverageSER)/boundaryBand, 1))
	conf := sampleConf - penalty

	return Recommendation{
		Bucket:     b,
		Confidence: conf,
		Reason: fmt.Sprintf("average SER %.1f over %d notes maps to %s",
			profile.AverageSER, profile.NoteCount, b),
	}
}

// bucketFor returns the bucket whose SER range contains score.
func (c *Classifier) bucketFor(score float64) quality.Bucket {
	switch {
	case score <= c.noTouchMax:
		return quality.BucketNoTouch
	case score <= c.lowTouchMax:
		return quality.BucketLowTouch
	case score <= c.mediumTouchMax:
		return quality.BucketMediumTouch
	default:
		return quality.BucketHighTouch
	}
}

// boundaryDistance returns the distance from score to the nearest bucket
// threshold.
func (c *Classifier) boundaryDistance(score float64) float64 {
	d := math.Abs(score - c.noTouchMax)
	if v := math.Abs(score - c.lowTouchMax); v < d {
		d = v
	}
	if v := math.Abs(score - c.mediumTouchMax); v < d {
		d = v
	}
	return d
}
