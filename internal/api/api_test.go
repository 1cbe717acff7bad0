package api_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tan-res-space/rag-interface/internal/api"
	"github.com/tan-res-space/rag-interface/internal/bucket"
	"github.com/tan-res-space/rag-interface/internal/engine"
	"github.com/tan-res-space/rag-interface/internal/store"
)

func newTestServer(t *testing.T, opts ...engine.Option) *httptest.Server {
	t.Helper()

	svc := engine.New(store.NewMemory(), opts...)
	mux := http.NewServeMux()
	api.NewHandler(svc).Register(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, srv *httptest.Server, path, body string) *http.Response {
	t.Helper()

	resp, err := http.Post(srv.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func getJSON(t *testing.T, srv *httptest.Server, path string) *http.Response {
	t.Helper()

	resp, err := http.Get(srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()

	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestScorePair(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	resp := postJSON(t, srv, "/v1/score", `{
		"reference_text": "the patient has severe hypertension",
		"hypothesis_text": "the patient has severe hypertension"
	}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d, want 200", resp.StatusCode)
	}

	body := decode[map[string]any](t, resp)
	if got := body["ser_score"].(float64); got != 0 {
		t.Errorf("ser_score=%v, want 0", got)
	}
	if got := body["quality_level"].(string); got != "high" {
		t.Errorf("quality_level=%q, want high", got)
	}
}

func TestScorePair_MalformedBody(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	resp := postJSON(t, srv, "/v1/score", `{"reference_text": `)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", resp.StatusCode)
	}
}

func TestProcessNote_CreatesProfile(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	resp := postJSON(t, srv, "/v1/notes", `{
		"speaker_id": "spk-1",
		"reference_text": "the patient has severe hypertension",
		"hypothesis_text": "the patient has severe hypertention"
	}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d, want 200", resp.StatusCode)
	}

	body := decode[struct {
		Profile struct {
			SpeakerID string `json:"speaker_id"`
			NoteCount int    `json:"note_count"`
		} `json:"profile"`
	}](t, resp)
	if body.Profile.SpeakerID != "spk-1" {
		t.Errorf("speaker_id=%q, want spk-1", body.Profile.SpeakerID)
	}
	if body.Profile.NoteCount != 1 {
		t.Errorf("note_count=%d, want 1", body.Profile.NoteCount)
	}
}

func TestProcessNote_MissingSpeakerID(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	resp := postJSON(t, srv, "/v1/notes", `{
		"reference_text": "a",
		"hypothesis_text": "a"
	}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", resp.StatusCode)
	}

	body := decode[struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}](t, resp)
	if body.Error.Code != "invalid_input" {
		t.Errorf("code=%q, want invalid_input", body.Error.Code)
	}
}

func TestProcessNote_UnknownField(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	resp := postJSON(t, srv, "/v1/notes", `{"speaker_id": "s", "bogus": true}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", resp.StatusCode)
	}
}

func TestGetProfile_NotFound(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	resp := getJSON(t, srv, "/v1/speakers/nobody/profile")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status=%d, want 404", resp.StatusCode)
	}
}

func TestGetProfile_AfterNotes(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	for range 3 {
		postJSON(t, srv, "/v1/notes", `{
			"speaker_id": "spk-2",
			"reference_text": "one two three",
			"hypothesis_text": "one two three"
		}`)
	}

	resp := getJSON(t, srv, "/v1/speakers/spk-2/profile")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d, want 200", resp.StatusCode)
	}
	body := decode[struct {
		NoteCount  int     `json:"note_count"`
		AverageSER float64 `json:"average_ser_score"`
	}](t, resp)
	if body.NoteCount != 3 {
		t.Errorf("note_count=%d, want 3", body.NoteCount)
	}
	if body.AverageSER != 0 {
		t.Errorf("average_ser_score=%v, want 0", body.AverageSER)
	}
}

func TestListTransitions_EmptyIsArray(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	resp := getJSON(t, srv, "/v1/speakers/nobody/transitions")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d, want 200", resp.StatusCode)
	}
	raw := decode[json.RawMessage](t, resp)
	if got := strings.TrimSpace(string(raw)); got != "[]" {
		t.Errorf("body=%s, want []", got)
	}
}

func TestDecideTransition_FullCycle(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	// Perfect notes past the minimum sample size trigger a proposal to
	// leave the default high_touch bucket.
	var requestID string
	for range 25 {
		resp := postJSON(t, srv, "/v1/notes", `{
			"speaker_id": "spk-3",
			"reference_text": "alpha beta gamma delta",
			"hypothesis_text": "alpha beta gamma delta"
		}`)
		body := decode[struct {
			Transition *struct {
				ID     string `json:"request_id"`
				Status string `json:"status"`
			} `json:"transition_request"`
		}](t, resp)
		if body.Transition != nil {
			requestID = body.Transition.ID
		}
	}
	if requestID == "" {
		t.Fatal("no transition proposed after 25 perfect notes")
	}

	resp := postJSON(t, srv, "/v1/transitions/"+requestID+"/decision", `{
		"decision": "approved",
		"decided_by": "qa-reviewer",
		"notes": "consistent quality"
	}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("decision status=%d, want 200", resp.StatusCode)
	}
	decided := decode[struct {
		Status    string `json:"status"`
		DecidedBy string `json:"decided_by"`
	}](t, resp)
	if decided.Status != string(bucket.StatusApproved) {
		t.Errorf("status=%q, want approved", decided.Status)
	}
	if decided.DecidedBy != "qa-reviewer" {
		t.Errorf("decided_by=%q, want qa-reviewer", decided.DecidedBy)
	}

	// The speaker's bucket reflects the approval.
	profResp := getJSON(t, srv, "/v1/speakers/spk-3/profile")
	prof := decode[struct {
		CurrentBucket string `json:"current_bucket"`
	}](t, profResp)
	if prof.CurrentBucket != "no_touch" {
		t.Errorf("current_bucket=%q, want no_touch", prof.CurrentBucket)
	}

	// Deciding twice is a conflict.
	again := postJSON(t, srv, "/v1/transitions/"+requestID+"/decision", `{
		"decision": "rejected",
		"decided_by": "qa-reviewer",
		"notes": ""
	}`)
	if again.StatusCode != http.StatusConflict {
		t.Fatalf("second decision status=%d, want 409", again.StatusCode)
	}
}

func TestRequestTransition(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	body := `{"to_bucket": "medium_touch", "reason": "reviewer judgement", "requested_by": "qa-lead"}`

	resp := postJSON(t, srv, "/v1/speakers/nobody/transitions", body)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown speaker status=%d, want 404", resp.StatusCode)
	}

	postJSON(t, srv, "/v1/notes", `{
		"speaker_id": "spk-9",
		"reference_text": "one two three",
		"hypothesis_text": "one two three"
	}`)

	resp = postJSON(t, srv, "/v1/speakers/spk-9/transitions", body)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status=%d, want 201", resp.StatusCode)
	}
	created := decode[struct {
		ID            string `json:"request_id"`
		RecommendedBy string `json:"recommended_by"`
		Status        string `json:"status"`
	}](t, resp)
	if created.RecommendedBy != "human" {
		t.Errorf("recommended_by=%q, want human", created.RecommendedBy)
	}
	if created.Status != "pending" {
		t.Errorf("status=%q, want pending", created.Status)
	}

	// A second request while one is pending conflicts.
	resp = postJSON(t, srv, "/v1/speakers/spk-9/transitions", `{"to_bucket": "low_touch", "reason": "again", "requested_by": "qa-lead"}`)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate status=%d, want 409", resp.StatusCode)
	}

	resp = postJSON(t, srv, "/v1/speakers/spk-9/transitions", `{"to_bucket": "gold", "reason": "r", "requested_by": "qa-lead"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid bucket status=%d, want 400", resp.StatusCode)
	}
}

func TestDecideTransition_UnknownID(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	resp := postJSON(t, srv, "/v1/transitions/no-such-id/decision", `{
		"decision": "approved",
		"decided_by": "qa-reviewer",
		"notes": ""
	}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status=%d, want 404", resp.StatusCode)
	}
}
