// Package api exposes the speaker quality engine over a small JSON HTTP
// surface. Routing, decoding, and error mapping live here; everything else
// is delegated to [engine.Service].
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tan-res-space/rag-interface/internal/bucket"
	"github.com/tan-res-space/rag-interface/internal/engine"
	"github.com/tan-res-space/rag-interface/internal/quality"
	"github.com/tan-res-space/rag-interface/internal/resilience"
	"github.com/tan-res-space/rag-interface/internal/ser"
)

// maxBodyBytes caps request bodies. Transcripts are short; anything larger
// is rejected.
const maxBodyBytes = 1 << 20

// Handler serves the /v1 API on top of an [engine.Service].
type Handler struct {
	svc *engine.Service
}

// NewHandler creates a [Handler] for svc.
func NewHandler(svc *engine.Service) *Handler {
	return &Handler{svc: svc}
}

// Register attaches all /v1 routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/score", h.scorePair)
	mux.HandleFunc("POST /v1/notes", h.processNote)
	mux.HandleFunc("POST /v1/transitions/{id}/decision", h.decideTransition)
	mux.HandleFunc("GET /v1/speakers/{id}/profile", h.getProfile)
	mux.HandleFunc("GET /v1/speakers/{id}/transitions", h.listTransitions)
	mux.HandleFunc("POST /v1/speakers/{id}/transitions", h.requestTransition)
}

type textPairRequest struct {
	Reference  string `json:"reference_text"`
	Hypothesis string `json:"hypothesis_text"`
}

func (h *Handler) scorePair(w http.ResponseWriter, r *http.Request) {
	var req textPairRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := h.svc.ScorePair(r.Context(), req.Reference, req.Hypothesis)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type noteRequest struct {
	SpeakerID  string `json:"speaker_id"`
	Reference  string `json:"reference_text"`
	Hypothesis string `json:"hypothesis_text"`
}

func (h *Handler) processNote(w http.ResponseWriter, r *http.Request) {
	var req noteRequest
	if !decodeBody(w, r, &req) {
		return
	}

	// Optimistic-lock conflicts are retried here, at the boundary: the
	// engine surfaces them, the caller reruns the whole operation.
	var res *engine.NoteResult
	err := resilience.Retry(r.Context(),
		resilience.RetryConfig{
			Name:      "process-note",
			Retryable: func(err error) bool { return errors.Is(err, engine.ErrConcurrencyConflict) },
		},
		func(ctx context.Context) error {
			var err error
			res, err = h.svc.ProcessNote(ctx, req.SpeakerID, req.Reference, req.Hypothesis)
			return err
		})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type decisionRequest struct {
	Decision  bucket.Status `json:"decision"`
	DecidedBy string        `json:"decided_by"`
	Notes     string        `json:"notes"`
}

func (h *Handler) decideTransition(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	decided, err := h.svc.DecideTransition(r.Context(), r.PathValue("id"), req.Decision, req.DecidedBy, req.Notes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, decided)
}

func (h *Handler) getProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := h.svc.Profile(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

type manualTransitionRequest struct {
	ToBucket    quality.Bucket `json:"to_bucket"`
	Reason      string         `json:"reason"`
	RequestedBy string         `json:"requested_by"`
}

func (h *Handler) requestTransition(w http.ResponseWriter, r *http.Request) {
	var req manualTransitionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	created, err := h.svc.RequestTransition(r.Context(), r.PathValue("id"), req.ToBucket, req.Reason, req.RequestedBy)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) listTransitions(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.TransitionHistory(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []bucket.TransitionRequest{}
	}
	writeJSON(w, http.StatusOK, list)
}

// decodeBody decodes the JSON request body into v. On failure it writes a
// 400 response and returns false.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid_request", "malformed JSON body: "+err.Error()))
		return false
	}
	return true
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

func errorBody(code, message string) errorResponse {
	return errorResponse{Error: apiError{Code: code, Message: message}}
}

// writeError maps engine error kinds onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ser.ErrInvalidInput), errors.Is(err, bucket.ErrInvalidDecision), errors.Is(err, bucket.ErrInvalidBucket):
		writeJSON(w, http.StatusBadRequest, errorBody("invalid_input", err.Error()))
	case errors.Is(err, engine.ErrSpeakerNotFound), errors.Is(err, engine.ErrTransitionNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("not_found", err.Error()))
	case errors.Is(err, bucket.ErrAlreadyDecided):
		writeJSON(w, http.StatusConflict, errorBody("already_decided", err.Error()))
	case errors.Is(err, bucket.ErrPendingExists):
		writeJSON(w, http.StatusConflict, errorBody("pending_exists", err.Error()))
	case errors.Is(err, engine.ErrConcurrencyConflict):
		writeJSON(w, http.StatusConflict, errorBody("conflict", err.Error()))
	default:
		writeJSON(w, http.StatusInternalServerError, errorBody("internal", "internal error"))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
