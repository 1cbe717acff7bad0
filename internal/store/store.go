// Package store defines the persistence interface for speaker quality
// profiles and bucket transition requests, with a PostgreSQL implementation
// for production and an in-memory implementation for tests and DB-less
// runs.
package store

import (
	"context"
	"errors"

	"github.com/tan-res-space/rag-interface/internal/bucket"
	"github.com/tan-res-space/rag-interface/internal/quality"
)

// ErrVersionConflict is returned by [Repository.SaveProfile] when the
// profile's version no longer matches the stored row; another writer got
// there first. The caller should reload and retry the whole operation.
var ErrVersionConflict = errors.New("store: profile version conflict")

// Repository persists speaker quality profiles and their transition
// request history. Implementations must be safe for concurrent use.
type Repository interface {
	// LoadProfile returns the profile for speakerID, or (nil, nil) when
	// the speaker has never been scored.
	LoadProfile(ctx context.Context, speakerID string) (*quality.Profile, error)

	// SaveProfile inserts or updates the profile using optimistic
	// concurrency on Version: a profile with Version 0 is inserted, any
	// other version must match the stored row or [ErrVersionConflict] is
	// returned. On success the profile's Version is advanced in place.
	SaveProfile(ctx context.Context, profile *quality.Profile) error

	// SaveTransition inserts a new transition request or records the
	// decision fields of an existing one. The proposal fields of a stored
	// request are never modified.
	SaveTransition(ctx context.Context, req *bucket.TransitionRequest) error

	// GetTransition returns the request with the given ID, or (nil, nil)
	// when it does not exist.
	GetTransition(ctx context.Context, requestID string) (*bucket.TransitionRequest, error)

	// FindPendingTransition returns the speaker's pending request, or
	// (nil, nil) when there is none. At most one can exist per speaker.
	FindPendingTransition(ctx context.Context, speakerID string) (*bucket.TransitionRequest, error)

	// ListTransitions returns the speaker's full request history ordered
	// by RequestedAt ascending.
	ListTransitions(ctx context.Context, speakerID string) ([]bucket.TransitionRequest, error)
}
