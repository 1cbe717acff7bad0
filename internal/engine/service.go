// Package engine orchestrates the speaker quality pipeline: score a note,
// fold it into the speaker's profile, classify, and open a transition
// request when the classification diverges from the current bucket.
//
// The engine is the only component with I/O: the scorer, aggregator,
// classifier, and workflow are pure, and all persistence goes through the
// injected [store.Repository]. Calls for the same speaker are serialised by
// a per-speaker lock on top of the repository's optimistic version check;
// calls for different speakers proceed in parallel.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/tan-res-space/rag-interface/internal/bucket"
	"github.com/tan-res-space/rag-interface/internal/events"
	"github.com/tan-res-space/rag-interface/internal/observe"
	"github.com/tan-res-space/rag-interface/internal/quality"
	"github.com/tan-res-space/rag-interface/internal/ser"
	"github.com/tan-res-space/rag-interface/internal/store"
)

// ErrConcurrencyConflict is returned when the profile was modified between
// load and save. The caller should retry the whole call.
var ErrConcurrencyConflict = errors.New("engine: concurrent profile update")

// ErrSpeakerNotFound is returned by [Service.Profile] and
// [Service.TransitionHistory] for speakers with no scored notes.
var ErrSpeakerNotFound = errors.New("engine: speaker not found")

// ErrTransitionNotFound is returned by [Service.DecideTransition] when no
// request with the given ID exists.
var ErrTransitionNotFound = errors.New("engine: transition request not found")

// defaultBatchConcurrency bounds the number of notes scored in parallel by
// [Service.ProcessBatch].
const defaultBatchConcurrency = 8

// NoteResult is the composite outcome of processing one note.
type NoteResult struct {
	SER        *ser.Result               `json:"ser_result"`
	Profile    quality.Profile           `json:"profile"`
	Transition *bucket.TransitionRequest `json:"transition_request,omitempty"`
}

// Note is one unit of work for [Service.ProcessBatch].
type Note struct {
	SpeakerID  string `json:"speaker_id"`
	Reference  string `json:"reference_text"`
	Hypothesis string `json:"hypothesis_text"`
}

// Option is a functional option for configuring a [Service].
type Option func(*Service)

// WithScorer replaces the default [ser.Scorer].
func WithScorer(s *ser.Scorer) Option {
	return func(svc *Service) { svc.scorer = s }
}

// WithAggregator replaces the default [quality.Aggregator].
func WithAggregator(a *quality.Aggregator) Option {
	return func(svc *Service) { svc.aggregator = a }
}

// WithClassifier replaces the default [bucket.Classifier].
func WithClassifier(c *bucket.Classifier) Option {
	return func(svc *Service) { svc.classifier = c }
}

// WithWorkflow replaces the default [bucket.Workflow].
func WithWorkflow(w *bucket.Workflow) Option {
	return func(svc *Service) { svc.workflow = w }
}

// WithPublisher sets the domain event publisher. Default: [events.Noop].
func WithPublisher(p events.Publisher) Option {
	return func(svc *Service) { svc.publisher = p }
}

// WithMetrics attaches metric instruments. When nil (the default), no
// metrics are recorded.
func WithMetrics(m *observe.Metrics) Option {
	return func(svc *Service) { svc.metrics = m }
}

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(svc *Service) { svc.now = now }
}

// WithBatchConcurrency bounds the parallelism of [Service.ProcessBatch].
// Default: 8.
func WithBatchConcurrency(n int) Option {
	return func(svc *Service) {
		if n > 0 {
			svc.batchConcurrency = n
		}
	}
}

// Service is the speaker quality orchestrator. All exported methods are
// safe for concurrent use.
type Service struct {
	scorer     *ser.Scorer
	aggregator *quality.Aggregator
	classifier *bucket.Classifier
	workflow   *bucket.Workflow
	repo       store.Repository
	publisher  events.Publisher
	metrics    *observe.Metrics
	locks      *speakerLocks
	now        func() time.Time

	batchConcurrency int
}

// New constructs a [Service] on top of repo with the supplied options. All
// pipeline stages default to their standard configurations.
func New(repo store.Repository, opts ...Option) *Service {
	svc := &Service{
		scorer:           ser.New(),
		aggregator:       quality.NewAggregator(),
		classifier:       bucket.NewClassifier(),
		workflow:         bucket.NewWorkflow(),
		repo:             repo,
		publisher:        events.Noop{},
		locks:            newSpeakerLocks(),
		now:              time.Now,
		batchConcurrency: defaultBatchConcurrency,
	}
	for _, o := range opts {
		o(svc)
	}
	return svc
}

// ScorePair scores a single reference/hypothesis pair without touching any
// speaker state.
func (s *Service) ScorePair(ctx context.Context, reference, hypothesis string) (*ser.Result, error) {
	start := s.now()
	res, err := s.scorer.Score(reference, hypothesis)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.ScoreDuration.Record(ctx, s.now().Sub(start).Seconds())
	}
	return res, nil
}

// ProcessNote runs the full pipeline for one note: load (or create) the
// speaker's profile, score, aggregate, classify, propose a transition when
// warranted, persist, and publish events.
//
// All pure values are computed before anything is persisted, so a scoring
// or classification failure persists nothing. [ErrConcurrencyConflict] is
// returned when another writer updated the profile concurrently; the caller
// should retry the whole call.
func (s *Service) ProcessNote(ctx context.Context, speakerID, reference, hypothesis string) (*NoteResult, error) {
	if speakerID == "" {
		return nil, fmt.Errorf("%w: empty speaker id", ser.ErrInvalidInput)
	}

	start := s.now()
	ctx, span := observe.StartSpan(ctx, "engine.ProcessNote")
	defer span.End()

	unlock := s.locks.acquire(speakerID)
	defer unlock()

	profile, err := s.repo.LoadProfile(ctx, speakerID)
	if err != nil {
		return nil, fmt.Errorf("engine: load profile: %w", err)
	}

	now := s.now()
	prof := quality.NewProfile(speakerID, now)
	if profile != nil {
		prof = *profile
	}

	// --- Pure pipeline: score → aggregate → classify → propose ---
	res, err := s.scorer.Score(reference, hypothesis)
	if err != nil {
		return nil, err
	}

	prof = s.aggregator.Update(prof, res.SERScore, now)
	rec := s.classifier.Recommend(prof)

	pending, err := s.repo.FindPendingTransition(ctx, speakerID)
	if err != nil {
		return nil, fmt.Errorf("engine: find pending transition: %w", err)
	}
	req := s.workflow.Propose(prof, rec, pending, now)

	// An auto-approved proposal is applied immediately: the workflow
	// recorded the decision, the orchestrator applies it.
	if req != nil && req.Status == bucket.StatusApproved {
		prof = prof.ApplyBucket(req.ToBucket, now)
	}

	// --- Persistence ---
	// An auto-approved request is saved before the profile: a bucket change
	// must never be persisted without its audit record. A pending request is
	// saved after: if its save fails no request is left behind and the next
	// note re-proposes the same transition.
	if req != nil && req.Status == bucket.StatusApproved {
		if err := s.repo.SaveTransition(ctx, req); err != nil {
			return nil, fmt.Errorf("engine: save transition: %w", err)
		}
	}

	if err := s.repo.SaveProfile(ctx, &prof); err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			if s.metrics != nil {
				s.metrics.ConcurrencyConflicts.Add(ctx, 1)
			}
			return nil, fmt.Errorf("%w: speaker %s", ErrConcurrencyConflict, speakerID)
		}
		return nil, fmt.Errorf("engine: save profile: %w", err)
	}

	if req != nil {
		if req.Status == bucket.StatusPending {
			if err := s.repo.SaveTransition(ctx, req); err != nil {
				return nil, fmt.Errorf("engine: save transition: %w", err)
			}
		}
		s.publishTransition(ctx, events.TransitionProposed, req)
		if req.Status == bucket.StatusApproved {
			s.publishTransition(ctx, events.TransitionDecided, req)
		}
		s.recordProposal(ctx, req)
	}

	if s.metrics != nil {
		s.metrics.RecordNote(ctx, res.SERScore, string(res.QualityLevel), string(prof.CurrentBucket), "ok")
		s.metrics.ProcessNoteDuration.Record(ctx, s.now().Sub(start).Seconds())
	}

	observe.Logger(ctx).Debug("note processed",
		"speaker_id", speakerID,
		"ser_score", res.SERScore,
		"bucket", prof.CurrentBucket,
		"transition_opened", req != nil,
	)

	return &NoteResult{SER: res, Profile: prof, Transition: req}, nil
}

// ProcessBatch processes notes concurrently with bounded parallelism.
// Results are returned in input order. Notes for the same speaker are
// serialised by the per-speaker lock, so their relative order within the
// batch is preserved only between different speakers; callers that need
// strict per-speaker ordering should submit one note per speaker per batch.
// The first error cancels the remaining work.
func (s *Service) ProcessBatch(ctx context.Context, notes []Note) ([]*NoteResult, error) {
	results := make([]*NoteResult, len(notes))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.batchConcurrency)

	for i, note := range notes {
		g.Go(func() error {
			res, err := s.ProcessNote(ctx, note.SpeakerID, note.Reference, note.Hypothesis)
			if err != nil {
				return fmt.Errorf("note %d (speaker %s): %w", i, note.SpeakerID, err)
			}
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// DecideTransition records a human decision on a pending transition
// request. On approval the speaker's profile is moved into the target
// bucket with its tenure reset.
func (s *Service) DecideTransition(ctx context.Context, requestID string, decision bucket.Status, decidedBy, notes string) (*bucket.TransitionRequest, error) {
	req, err := s.repo.GetTransition(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("engine: get transition: %w", err)
	}
	if req == nil {
		return nil, fmt.Errorf("%w: %s", ErrTransitionNotFound, requestID)
	}

	unlock := s.locks.acquire(req.SpeakerID)
	defer unlock()

	// Re-read under the lock: a concurrent decide may have landed between
	// the first read and lock acquisition, and Decide must see the final
	// status, not a stale pending copy.
	req, err = s.repo.GetTransition(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("engine: get transition: %w", err)
	}
	if req == nil {
		return nil, fmt.Errorf("%w: %s", ErrTransitionNotFound, requestID)
	}

	now := s.now()
	decided, err := s.workflow.Decide(*req, decision, decidedBy, notes, now)
	if err != nil {
		return nil, err
	}

	if err := s.repo.SaveTransition(ctx, &decided); err != nil {
		return nil, fmt.Errorf("engine: save transition: %w", err)
	}

	if decided.Status == bucket.StatusApproved {
		profile, err := s.repo.LoadProfile(ctx, decided.SpeakerID)
		if err != nil {
			return nil, fmt.Errorf("engine: load profile: %w", err)
		}
		if profile != nil {
			prof := profile.ApplyBucket(decided.ToBucket, now)
			if err := s.repo.SaveProfile(ctx, &prof); err != nil {
				if errors.Is(err, store.ErrVersionConflict) {
					return nil, fmt.Errorf("%w: speaker %s", ErrConcurrencyConflict, decided.SpeakerID)
				}
				return nil, fmt.Errorf("engine: save profile: %w", err)
			}
		}
	}

	s.publishTransition(ctx, events.TransitionDecided, &decided)
	if s.metrics != nil {
		s.metrics.TransitionsDecided.Add(ctx, 1, metric.WithAttributes(
			observe.Attr("decision", string(decided.Status)),
			observe.Attr("decided_by", decided.DecidedBy),
		))
		s.metrics.PendingTransitions.Add(ctx, -1)
	}

	observe.Logger(ctx).Info("transition decided",
		"request_id", decided.ID,
		"speaker_id", decided.SpeakerID,
		"decision", decided.Status,
		"decided_by", decided.DecidedBy,
	)

	return &decided, nil
}

// Profile returns the speaker's quality profile. Returns
// [ErrSpeakerNotFound] for speakers with no history.
func (s *Service) Profile(ctx context.Context, speakerID string) (*quality.Profile, error) {
	profile, err := s.repo.LoadProfile(ctx, speakerID)
	if err != nil {
		return nil, fmt.Errorf("engine: load profile: %w", err)
	}
	if profile == nil {
		return nil, fmt.Errorf("%w: %s", ErrSpeakerNotFound, speakerID)
	}
	return profile, nil
}

// TransitionHistory returns the speaker's transition requests ordered by
// request time ascending. An empty history is returned as an empty slice,
// not an error, so callers can distinguish "no transitions yet" from "no
// such speaker" via [Service.Profile].
func (s *Service) TransitionHistory(ctx context.Context, speakerID string) ([]bucket.TransitionRequest, error) {
	list, err := s.repo.ListTransitions(ctx, speakerID)
	if err != nil {
		return nil, fmt.Errorf("engine: list transitions: %w", err)
	}
	return list, nil
}

// RequestTransition opens a human-initiated transition request moving the
// speaker to the given bucket. The request goes through the same decision
// flow as system proposals and counts against the one-pending-per-speaker
// invariant.
func (s *Service) RequestTransition(ctx context.Context, speakerID string, to quality.Bucket, reason, requestedBy string) (*bucket.TransitionRequest, error) {
	unlock := s.locks.acquire(speakerID)
	defer unlock()

	profile, err := s.repo.LoadProfile(ctx, speakerID)
	if err != nil {
		return nil, fmt.Errorf("engine: load profile: %w", err)
	}
	if profile == nil {
		return nil, fmt.Errorf("%w: %s", ErrSpeakerNotFound, speakerID)
	}

	pending, err := s.repo.FindPendingTransition(ctx, speakerID)
	if err != nil {
		return nil, fmt.Errorf("engine: find pending transition: %w", err)
	}

	req, err := s.workflow.ProposeManual(*profile, to, reason, requestedBy, pending, s.now())
	if err != nil {
		return nil, err
	}

	if err := s.repo.SaveTransition(ctx, req); err != nil {
		return nil, fmt.Errorf("engine: save transition: %w", err)
	}
	s.publishTransition(ctx, events.TransitionProposed, req)
	s.recordProposal(ctx, req)

	observe.Logger(ctx).Info("transition requested",
		"request_id", req.ID,
		"speaker_id", speakerID,
		"to_bucket", to,
		"requested_by", requestedBy,
	)
	return req, nil
}

// publishTransition emits a domain event. Publish failures are logged and
// do not fail the originating call; events are a best-effort side channel.
func (s *Service) publishTransition(ctx context.Context, name string, req *bucket.TransitionRequest) {
	ev := events.Event{
		Name:       name,
		Timestamp:  s.now(),
		SpeakerID:  req.SpeakerID,
		FromBucket: req.FromBucket,
		ToBucket:   req.ToBucket,
		Confidence: req.Confidence,
		Reason:     req.Reason,
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		observe.Logger(ctx).Warn("event publish failed", "event", name, "err", err)
	}
}

// recordProposal updates the transition metrics for a newly opened request.
func (s *Service) recordProposal(ctx context.Context, req *bucket.TransitionRequest) {
	if s.metrics == nil {
		return
	}
	s.metrics.TransitionsProposed.Add(ctx, 1, metric.WithAttributes(
		observe.Attr("from", string(req.FromBucket)),
		observe.Attr("to", string(req.ToBucket)),
	))
	if req.Status == bucket.StatusPending {
		s.metrics.PendingTransitions.Add(ctx, 1)
	} else {
		// Auto-approved requests never dwell in pending.
		s.metrics.TransitionsDecided.Add(ctx, 1, metric.WithAttributes(
			observe.Attr("decision", string(req.Status)),
			observe.Attr("decided_by", req.DecidedBy),
		))
	}
}
