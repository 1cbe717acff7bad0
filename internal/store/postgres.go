package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/tan-res-space/rag-interface/internal/bucket"
	"github.com/tan-res-space/rag-interface/internal/quality"
)

// Schema is the SQL DDL for the speaker quality tables. Execute it via
// [Postgres.Migrate] or apply it manually during deployment.
//
// The partial unique index on pending transitions enforces the
// one-pending-request-per-speaker invariant at the storage layer, below
// the workflow's own check.
const Schema = `
CREATE TABLE IF NOT EXISTS speaker_profiles (
    speaker_id        TEXT PRIMARY KEY,
    note_count        INTEGER NOT NULL DEFAULT 0,
    average_ser       DOUBLE PRECISION NOT NULL DEFAULT 0,
    recent_scores     JSONB NOT NULL DEFAULT '[]',
    trend             TEXT NOT NULL DEFAULT 'stable',
    current_bucket    TEXT NOT NULL DEFAULT 'high_touch',
    bucket_changed_at TIMESTAMPTZ NOT NULL,
    days_in_bucket    INTEGER NOT NULL DEFAULT 0,
    last_updated      TIMESTAMPTZ NOT NULL,
    version           BIGINT NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS speaker_bucket_transitions (
    id             UUID PRIMARY KEY,
    speaker_id     TEXT NOT NULL,
    from_bucket    TEXT NOT NULL,
    to_bucket      TEXT NOT NULL,
    reason         TEXT NOT NULL DEFAULT '',
    confidence     DOUBLE PRECISION NOT NULL DEFAULT 0,
    recommended_by TEXT NOT NULL DEFAULT 'system',
    status         TEXT NOT NULL DEFAULT 'pending',
    requested_at   TIMESTAMPTZ NOT NULL,
    decided_at     TIMESTAMPTZ,
    decided_by     TEXT NOT NULL DEFAULT '',
    decision_notes TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_transitions_speaker
    ON speaker_bucket_transitions(speaker_id, requested_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_transitions_one_pending
    ON speaker_bucket_transitions(speaker_id) WHERE status = 'pending';
`

// DB is the database interface used by [Postgres]. Both *pgxpool.Pool and
// *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Postgres is a [Repository] backed by PostgreSQL. The recent-score window
// is serialised as JSONB.
type Postgres struct {
	db DB
}

// Compile-time interface check.
var _ Repository = (*Postgres)(nil)

// NewPostgres creates a [Postgres] repository on the given connection or
// pool. The caller is responsible for calling [Postgres.Migrate] to ensure
// the schema exists before issuing queries.
func NewPostgres(db DB) *Postgres {
	return &Postgres{db: db}
}

// Migrate executes the [Schema] DDL, creating the tables and indexes if
// they do not already exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// LoadProfile implements [Repository].
func (p *Postgres) LoadProfile(ctx context.Context, speakerID string) (*quality.Profile, error) {
	const query = `
		SELECT speaker_id, note_count, average_ser, recent_scores, trend,
		       current_bucket, bucket_changed_at, days_in_bucket, last_updated, version
		FROM speaker_profiles
		WHERE speaker_id = $1`

	var prof quality.Profile
	var scoresJSON []byte

	err := p.db.QueryRow(ctx, query, speakerID).Scan(
		&prof.SpeakerID, &prof.NoteCount, &prof.AverageSER, &scoresJSON, &prof.Trend,
		&prof.CurrentBucket, &prof.BucketChangedAt, &prof.DaysInCurrentBucket,
		&prof.LastUpdated, &prof.Version,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: load profile %q: %w", speakerID, err)
	}

	if err := json.Unmarshal(scoresJSON, &prof.RecentScores); err != nil {
		return nil, fmt.Errorf("store: unmarshal recent_scores for %q: %w", speakerID, err)
	}
	return &prof, nil
}

// SaveProfile implements [Repository]. Version 0 inserts a new row; any
// other version performs a compare-and-swap update and returns
// [ErrVersionConflict] when the stored version differs.
func (p *Postgres) SaveProfile(ctx context.Context, profile *quality.Profile) error {
	scoresJSON, err := json.Marshal(emptyScores(profile.RecentScores))
	if err != nil {
		return fmt.Errorf("store: marshal recent_scores: %w", err)
	}

	if profile.Version == 0 {
		const insert = `
			INSERT INTO speaker_profiles (
				speaker_id, note_count, average_ser, recent_scores, trend,
				current_bucket, bucket_changed_at, days_in_bucket, last_updated, version
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,1)`

		_, err := p.db.Exec(ctx, insert,
			profile.SpeakerID, profile.NoteCount, profile.AverageSER, scoresJSON, profile.Trend,
			profile.CurrentBucket, profile.BucketChangedAt, profile.DaysInCurrentBucket,
			profile.LastUpdated,
		)
		if err != nil {
			if isDuplicateKeyError(err) {
				return fmt.Errorf("store: profile %q: %w", profile.SpeakerID, ErrVersionConflict)
			}
			return fmt.Errorf("store: insert profile %q: %w", profile.SpeakerID, err)
		}
		profile.Version = 1
		return nil
	}

	const update = `
		UPDATE speaker_profiles
		SET note_count = $2, average_ser = $3, recent_scores = $4, trend = $5,
		    current_bucket = $6, bucket_changed_at = $7, days_in_bucket = $8,
		    last_updated = $9, version = version + 1
		WHERE speaker_id = $1 AND version = $10`

	tag, err := p.db.Exec(ctx, update,
		profile.SpeakerID, profile.NoteCount, profile.AverageSER, scoresJSON, profile.Trend,
		profile.CurrentBucket, profile.BucketChangedAt, profile.DaysInCurrentBucket,
		profile.LastUpdated, profile.Version,
	)
	if err != nil {
		return fmt.Errorf("store: update profile %q: %w", profile.SpeakerID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("store: profile %q: %w", profile.SpeakerID, ErrVersionConflict)
	}
	profile.Version++
	return nil
}

// SaveTransition implements [Repository]. The upsert only touches the
// decision fields on conflict, and only while the stored row is still
// pending, so a decided request can never transition a second time even if
// two writers race past the engine's lock.
func (p *Postgres) SaveTransition(ctx context.Context, req *bucket.TransitionRequest) error {
	const query = `
		INSERT INTO speaker_bucket_transitions (
			id, speaker_id, from_bucket, to_bucket, reason, confidence,
			recommended_by, status, requested_at, decided_at, decided_by, decision_notes
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status,
		    decided_at = EXCLUDED.decided_at,
		    decided_by = EXCLUDED.decided_by,
		    decision_notes = EXCLUDED.decision_notes
		WHERE speaker_bucket_transitions.status = 'pending'`

	tag, err := p.db.Exec(ctx, query,
		req.ID, req.SpeakerID, req.FromBucket, req.ToBucket, req.Reason, req.Confidence,
		req.RecommendedBy, req.Status, req.RequestedAt, req.DecidedAt, req.DecidedBy,
		req.DecisionNotes,
	)
	if err != nil {
		return fmt.Errorf("store: save transition %q: %w", req.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("store: transition %q: %w", req.ID, bucket.ErrAlreadyDecided)
	}
	return nil
}

// GetTransition implements [Repository].
func (p *Postgres) GetTransition(ctx context.Context, requestID string) (*bucket.TransitionRequest, error) {
	const query = transitionSelect + ` WHERE id = $1`

	req, err := scanTransition(p.db.QueryRow(ctx, query, requestID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get transition %q: %w", requestID, err)
	}
	return req, nil
}

// FindPendingTransition implements [Repository].
func (p *Postgres) FindPendingTransition(ctx context.Context, speakerID string) (*bucket.TransitionRequest, error) {
	const query = transitionSelect + ` WHERE speaker_id = $1 AND status = 'pending'`

	req, err := scanTransition(p.db.QueryRow(ctx, query, speakerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: find pending transition for %q: %w", speakerID, err)
	}
	return req, nil
}

// ListTransitions implements [Repository].
func (p *Postgres) ListTransitions(ctx context.Context, speakerID string) ([]bucket.TransitionRequest, error) {
	const query = transitionSelect + ` WHERE speaker_id = $1 ORDER BY requested_at ASC, id ASC`

	rows, err := p.db.Query(ctx, query, speakerID)
	if err != nil {
		return nil, fmt.Errorf("store: list transitions for %q: %w", speakerID, err)
	}
	defer rows.Close()

	var out []bucket.TransitionRequest
	for rows.Next() {
		req, err := scanTransition(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan transition for %q: %w", speakerID, err)
		}
		out = append(out, *req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list transitions for %q: %w", speakerID, err)
	}
	return out, nil
}

const transitionSelect = `
	SELECT id, speaker_id, from_bucket, to_bucket, reason, confidence,
	       recommended_by, status, requested_at, decided_at, decided_by, decision_notes
	FROM speaker_bucket_transitions`

// scanTransition reads one transition row. Works for both pgx.Row and
// pgx.Rows.
func scanTransition(row pgx.Row) (*bucket.TransitionRequest, error) {
	var req bucket.TransitionRequest
	err := row.Scan(
		&req.ID, &req.SpeakerID, &req.FromBucket, &req.ToBucket, &req.Reason, &req.Confidence,
		&req.RecommendedBy, &req.Status, &req.RequestedAt, &req.DecidedAt, &req.DecidedBy,
		&req.DecisionNotes,
	)
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// emptyScores normalises a nil slice to an empty one so the JSONB column
// never stores null.
func emptyScores(s []float64) []float64 {
	if s == nil {
		return []float64{}
	}
	return s
}

// isDuplicateKeyError reports whether err is a PostgreSQL unique-violation
// error (SQLSTATE 23505).
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
