package bucket

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tan-res-space/rag-interface/internal/quality"
)

// ErrAlreadyDecided is returned by [Workflow.Decide] when the request is no
// longer pending. The caller should refetch the request to see the final
// state.
var ErrAlreadyDecided = errors.New("bucket: transition request already decided")

// ErrInvalidDecision is returned by [Workflow.Decide] when the decision is
// neither approved nor rejected.
var ErrInvalidDecision = errors.New("bucket: decision must be approved or rejected")

// ErrInvalidBucket is returned by [Workflow.ProposeManual] when the target
// bucket is unknown or already the speaker's current bucket.
var ErrInvalidBucket = errors.New("bucket: invalid target bucket")

// ErrPendingExists is returned by [Workflow.ProposeManual] when the speaker
// already has a pending transition request.
var ErrPendingExists = errors.New("bucket: a pending transition request already exists")

const (
	defaultMinConfidence        = 0.6
	defaultAutoApproveThreshold = 0.9

	// SystemActor is the decided_by value recorded for auto-approved
	// transitions.
	SystemActor = "system"
)

// Status is the lifecycle state of a transition request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// IsValid reports whether s is a recognised status.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// Origin identifies who recommended a transition.
type Origin string

const (
	OriginSystem Origin = "system"
	OriginHuman  Origin = "human"
)

// TransitionRequest is a proposed change of a speaker's bucket. Once
// decided, only the decision fields differ from the proposal; everything
// else is immutable, and the per-speaker history is append-only.
type TransitionRequest struct {
	ID            string         `json:"request_id"`
	SpeakerID     string         `json:"speaker_id"`
	FromBucket    quality.Bucket `json:"from_bucket"`
	ToBucket      quality.Bucket `json:"to_bucket"`
	Reason        string         `json:"reason"`
	Confidence    float64        `json:"confidence_score"`
	RecommendedBy Origin         `json:"recommended_by"`
	Status        Status         `json:"status"`
	RequestedAt   time.Time      `json:"requested_at"`
	DecidedAt     *time.Time     `json:"decided_at,omitempty"`
	DecidedBy     string         `json:"decided_by,omitempty"`
	DecisionNotes string         `json:"decision_notes,omitempty"`
}

// WorkflowOption is a functional option for configuring a [Workflow].
type WorkflowOption func(*Workflow)

// WithMinConfidence sets the minimum recommendation confidence required
// before a transition request is opened. Default: 0.6.
func WithMinConfidence(min float64) WorkflowOption {
	return func(w *Workflow) {
		w.minConfidence = min
	}
}

// WithAutoApprove enables immediate system approval of proposals whose
// confidence meets threshold. Disabled by default; when disabled every
// proposal stays pending until a human decides it.
func WithAutoApprove(threshold float64) WorkflowOption {
	return func(w *Workflow) {
		w.autoApprove = true
		w.autoApproveThreshold = threshold
	}
}

// Workflow creates and decides transition requests. It holds no request
// state itself (the repository owns persistence) and is safe for
// concurrent use.
type Workflow struct {
	minConfidence        float64
	autoApprove          bool
	autoApproveThreshold float64
}

// NewWorkflow returns a [Workflow] configured with the supplied options.
func NewWorkflow(opts ...WorkflowOption) *Workflow {
	w := &Workflow{
		minConfidence:        defaultMinConfidence,
		autoApproveThreshold: defaultAutoApproveThreshold,
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Propose opens a transition request for profile based on rec, or returns
// nil when no request is warranted:
//
//   - the recommended bucket already matches the current bucket, or
//   - the recommendation confidence is below the minimum, or
//   - pending is non-nil (at most one pending request per speaker).
//
// When auto-approval is enabled and rec.Confidence meets the threshold,
// the returned request is already approved with DecidedBy = "system".
func (w *Workflow) Propose(profile quality.Profile, rec Recommendation, pending *TransitionRequest, now time.Time) *TransitionRequest {
	if rec.Bucket == profile.CurrentBucket {
		return nil
	}
	if rec.Confidence < w.minConfidence {
		return nil
	}
	if pending != nil {
		return nil
	}

	req := &TransitionRequest{
		ID:            uuid.NewString(),
		SpeakerID:     profile.SpeakerID,
		FromBucket:    profile.CurrentBucket,
		ToBucket:      rec.Bucket,
		Reason:        rec.Reason,
		Confidence:    rec.Confidence,
		RecommendedBy: OriginSystem,
		Status:        StatusPending,
		RequestedAt:   now,
	}

	if w.autoApprove && rec.Confidence >= w.autoApproveThreshold {
		decidedAt := now
		req.Status = StatusApproved
		req.DecidedAt = &decidedAt
		req.DecidedBy = SystemActor
		req.DecisionNotes = fmt.Sprintf("auto-approved at confidence %.2f", rec.Confidence)
	}

	return req
}

// ProposeManual opens a human-initiated transition request moving the
// speaker to the given bucket. Unlike [Workflow.Propose] it reports its
// refusals as errors, since a reviewer asked for the change explicitly, and
// it is never auto-approved.
func (w *Workflow) ProposeManual(profile quality.Profile, to quality.Bucket, reason, requestedBy string, pending *TransitionRequest, now time.Time) (*TransitionRequest, error) {
	if !to.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBucket, to)
	}
	if to == profile.CurrentBucket {
		return nil, fmt.Errorf("%w: speaker is already in %s", ErrInvalidBucket, to)
	}
	if pending != nil {
		return nil, fmt.Errorf("%w: request %s", ErrPendingExists, pending.ID)
	}

	return &TransitionRequest{
		ID:            uuid.NewString(),
		SpeakerID:     profile.SpeakerID,
		FromBucket:    profile.CurrentBucket,
		ToBucket:      to,
		Reason:        reason,
		Confidence:    1,
		RecommendedBy: OriginHuman,
		Status:        StatusPending,
		RequestedAt:   now,
	}, nil
}

// Decide records the decision on req and returns the decided copy. It
// fails with [ErrAlreadyDecided] when req is not pending and with
// [ErrInvalidDecision] for any decision other than approved or rejected.
//
// Decide never applies the bucket change itself; the orchestrator updates
// the profile after an approval.
func (w *Workflow) Decide(req TransitionRequest, decision Status, decidedBy, notes string, now time.Time) (TransitionRequest, error) {
	if decision != StatusApproved && decision != StatusRejected {
		return req, fmt.Errorf("%w: got %q", ErrInvalidDecision, decision)
	}
	if req.Status != StatusPending {
		return req, fmt.Errorf("%w: request %s is %s", ErrAlreadyDecided, req.ID, req.Status)
	}

	decidedAt := now
	req.Status = decision
	req.DecidedAt = &decidedAt
	req.DecidedBy = decidedBy
	req.DecisionNotes = notes
	return req, nil
}
