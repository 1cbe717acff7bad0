package quality

import "time"

const (
	defaultWindowSize = 10
	defaultTrendDelta = 2.0
)

// AggregatorOption is a functional option for configuring an [Aggregator].
type AggregatorOption func(*Aggregator)

// WithWindowSize sets the number of notes in each trend comparison window.
// Default: 10.
func WithWindowSize(n int) AggregatorOption {
	return func(a *Aggregator) {
		if n > 0 {
			a.windowSize = n
		}
	}
}

// WithTrendDelta sets the minimum difference (in SER points) between the
// recent and previous window averages before the trend leaves stable.
// Default: 2.0.
func WithTrendDelta(delta float64) AggregatorOption {
	return func(a *Aggregator) {
		a.trendDelta = delta
	}
}

// Aggregator folds per-note SER scores into a speaker [Profile]. It is
// read-only after construction and safe for concurrent use; all state lives
// in the profile values it receives and returns.
type Aggregator struct {
	windowSize int
	trendDelta float64
}

// NewAggregator returns an [Aggregator] configured with the supplied options.
func NewAggregator(opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		windowSize: defaultWindowSize,
		trendDelta: defaultTrendDelta,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Update returns a copy of profile with serScore folded in: the running
// mean is updated incrementally, the note count incremented, the recent
// score buffer advanced, and the trend recomputed. The caller persists the
// returned profile; Update itself has no side effects.
func (a *Aggregator) Update(profile Profile, serScore float64, observedAt time.Time) Profile {
	profile.AverageSER = (profile.AverageSER*float64(profile.NoteCount) + serScore) /
		float64(profile.NoteCount+1)
	profile.NoteCount++

	// The buffer holds two windows: the recent one and the one before it.
	// Copy before appending so the input profile's slice is not shared.
	keep := 2 * a.windowSize
	scores := make([]float64, len(profile.RecentScores), len(profile.RecentScores)+1)
	copy(scores, profile.RecentScores)
	scores = append(scores, serScore)
	if len(scores) > keep {
		scores = scores[len(scores)-keep:]
	}
	profile.RecentScores = scores

	profile.Trend = a.trend(scores)
	profile.DaysInCurrentBucket = daysBetween(profile.BucketChangedAt, observedAt)
	profile.LastUpdated = observedAt

	return profile
}

// trend compares the average of the most recent window against the window
// before it. With fewer than two full windows of history the trend is
// stable by definition.
func (a *Aggregator) trend(scores []float64) Trend {
	if len(scores) < 2*a.windowSize {
		return TrendStable
	}

	prev := mean(scores[:a.windowSize])
	recent := mean(scores[a.windowSize:])

	switch {
	case recent < prev-a.trendDelta:
		return TrendImproving
	case recent > prev+a.trendDelta:
		return TrendDeclining
	default:
		return TrendStable
	}
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// daysBetween returns the whole days from a to b, never negative.
func daysBetween(a, b time.Time) int {
	if b.Before(a) {
		return 0
	}
	return int(b.Sub(a).Hours() / 24)
}
