package ser_test

import (
	"math"
	"testing"

	"github.com/tan-res-space/rag-interface/internal/ser"
)

func TestScorer_IdenticalTexts(t *testing.T) {
	t.Parallel()

	s := ser.New()

	texts := []string{
		"the patient has severe hypertension",
		"one",
		"Follow up in two weeks.",
	}
	for _, text := range texts {
		res, err := s.Score(text, text)
		if err != nil {
			t.Fatalf("Score(%q, same): unexpected error: %v", text, err)
		}
		if res.SERScore != 0 {
			t.Errorf("Score(%q, same): SERScore=%f, want 0", text, res.SERScore)
		}
		if res.EditDistance != 0 {
			t.Errorf("Score(%q, same): EditDistance=%d, want 0", text, res.EditDistance)
		}
		if res.QualityLevel != ser.QualityHigh {
			t.Errorf("Score(%q, same): QualityLevel=%q, want high", text, res.QualityLevel)
		}
		if !res.IsAcceptable {
			t.Errorf("Score(%q, same): IsAcceptable=false, want true", text)
		}
	}
}

func TestScorer_EmptyInputs(t *testing.T) {
	t.Parallel()

	s := ser.New()

	// Both empty: perfect score.
	res, err := s.Score("", "")
	if err != nil {
		t.Fatalf("Score(empty, empty): unexpected error: %v", err)
	}
	if res.SERScore != 0 {
		t.Errorf("Score(empty, empty): SERScore=%f, want 0", res.SERScore)
	}

	// Empty reference, non-empty hypothesis: capped at 100.
	res, err = s.Score("", "some extra words here")
	if err != nil {
		t.Fatalf("Score(empty, hyp): unexpected error: %v", err)
	}
	if res.SERScore != 100 {
		t.Errorf("Score(empty, hyp): SERScore=%f, want 100", res.SERScore)
	}
	if res.QualityLevel != ser.QualityLow {
		t.Errorf("Score(empty, hyp): QualityLevel=%q, want low", res.QualityLevel)
	}
	if res.Operations.Insertions != 4 {
		t.Errorf("Score(empty, hyp): Insertions=%d, want 4", res.Operations.Insertions)
	}
}

func TestScorer_InvalidUTF8(t *testing.T) {
	t.Parallel()

	s := ser.New()

	if _, err := s.Score("valid text", string([]byte{0xff, 0xfe})); err != ser.ErrInvalidInput {
		t.Errorf("Score(valid, invalid utf8): err=%v, want ErrInvalidInput", err)
	}
	if _, err := s.Score(string([]byte{0xc0}), "valid text"); err != ser.ErrInvalidInput {
		t.Errorf("Score(invalid utf8, valid): err=%v, want ErrInvalidInput", err)
	}
}

func TestScorer_DistanceLowerBound(t *testing.T) {
	t.Parallel()

	s := ser.New()

	pairs := [][2]string{
		{"a b c d e", "a b"},
		{"short", "a much longer hypothesis with many words"},
		{"x y z", "p q r s t u"},
		{"the quick brown fox", "the quick brown fox jumps"},
	}
	for _, p := range pairs {
		res, err := s.Score(p[0], p[1])
		if err != nil {
			t.Fatalf("Score(%q, %q): unexpected error: %v", p[0], p[1], err)
		}
		lower := res.ReferenceLength - res.HypothesisLength
		if lower < 0 {
			lower = -lower
		}
		if res.EditDistance < lower {
			t.Errorf("Score(%q, %q): EditDistance=%d below length-difference bound %d",
				p[0], p[1], res.EditDistance, lower)
		}
	}
}

func TestScorer_Deterministic(t *testing.T) {
	t.Parallel()

	s := ser.New()

	ref := "the patient was prescribed lisinopril ten milligrams daily"
	hyp := "the patient was prescribed the sinopril ten milligram daily"

	first, err := s.Score(ref, hyp)
	if err != nil {
		t.Fatalf("Score: unexpected error: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := s.Score(ref, hyp)
		if err != nil {
			t.Fatalf("Score (repeat %d): unexpected error: %v", i, err)
		}
		if *again != *first {
			t.Fatalf("Score not deterministic: run %d produced %+v, first run %+v", i, again, first)
		}
	}
}

func TestScorer_SubstitutionExpansion(t *testing.T) {
	t.Parallel()

	s := ser.New()

	// "hypertension" expanded to "high blood pressure": one substitution
	// plus two insertions against a five-token reference.
	res, err := s.Score(
		"The patient has severe hypertension",
		"The patient has severe high blood pressure",
	)
	if err != nil {
		t.Fatalf("Score: unexpected error: %v", err)
	}
	if res.ReferenceLength != 5 {
		t.Errorf("ReferenceLength=%d, want 5", res.ReferenceLength)
	}
	if res.HypothesisLength != 7 {
		t.Errorf("HypothesisLength=%d, want 7", res.HypothesisLength)
	}
	if res.EditDistance != 3 {
		t.Errorf("EditDistance=%d, want 3 (1 substitution + 2 insertions)", res.EditDistance)
	}
	if got, want := res.SERScore, 60.0; math.Abs(got-want) > 1e-9 {
		t.Errorf("SERScore=%f, want %f", got, want)
	}
	if res.QualityLevel != ser.QualityLow {
		t.Errorf("QualityLevel=%q, want low", res.QualityLevel)
	}
	if res.IsAcceptable {
		t.Error("IsAcceptable=true, want false")
	}
}

func TestScorer_CaseInsensitive(t *testing.T) {
	t.Parallel()

	s := ser.New()

	res, err := s.Score("Patient Reports Chest Pain", "patient reports chest pain")
	if err != nil {
		t.Fatalf("Score: unexpected error: %v", err)
	}
	if res.EditDistance != 0 {
		t.Errorf("EditDistance=%d, want 0 (comparison is case-insensitive)", res.EditDistance)
	}
}

func TestScorer_PunctuationTokensDiffer(t *testing.T) {
	t.Parallel()

	s := ser.New()

	// Tokens are compared as-is apart from lowercasing, so a trailing
	// period makes the words differ.
	res, err := s.Score("no acute distress.", "no acute distress")
	if err != nil {
		t.Fatalf("Score: unexpected error: %v", err)
	}
	if res.Operations.Substitutions != 1 {
		t.Errorf("Substitutions=%d, want 1 (%q vs %q)", res.Operations.Substitutions, "distress.", "distress")
	}
}

func TestScorer_MoveDetection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		ref      string
		hyp      string
		opts     []ser.Option
		wantOps  ser.OperationCounts
		wantDist int
	}{
		{
			name:     "adjacent swap folded into one move",
			ref:      "take two tablets daily",
			hyp:      "take tablets two daily",
			wantOps:  ser.OperationCounts{Moves: 1},
			wantDist: 1,
		},
		{
			name:     "swap within default window",
			ref:      "alpha beta gamma delta epsilon",
			hyp:      "epsilon beta gamma delta alpha",
			wantOps:  ser.OperationCounts{Moves: 1},
			wantDist: 1,
		},
		{
			name:     "swap beyond window stays two substitutions",
			ref:      "alpha beta gamma delta epsilon",
			hyp:      "epsilon beta gamma delta alpha",
			opts:     []ser.Option{ser.WithMoveWindow(2)},
			wantOps:  ser.OperationCounts{Substitutions: 2},
			wantDist: 2,
		},
		{
			name:     "unrelated substitutions are not folded",
			ref:      "one two three",
			hyp:      "uno dos three",
			wantOps:  ser.OperationCounts{Substitutions: 2},
			wantDist: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := ser.New(tt.opts...)
			res, err := s.Score(tt.ref, tt.hyp)
			if err != nil {
				t.Fatalf("Score: unexpected error: %v", err)
			}
			if res.Operations != tt.wantOps {
				t.Errorf("Operations=%+v, want %+v", res.Operations, tt.wantOps)
			}
			if res.EditDistance != tt.wantDist {
				t.Errorf("EditDistance=%d, want %d", res.EditDistance, tt.wantDist)
			}
		})
	}
}

func TestScorer_PhoneticSubstitutions(t *testing.T) {
	t.Parallel()

	s := ser.New()

	// "hypertention" is a phonetic near-miss of "hypertension"; "dog" is
	// not a near-miss of "lisinopril".
	res, err := s.Score("hypertension and lisinopril", "hypertention and dog")
	if err != nil {
		t.Fatalf("Score: unexpected error: %v", err)
	}
	if res.Operations.Substitutions != 2 {
		t.Fatalf("Substitutions=%d, want 2", res.Operations.Substitutions)
	}
	if res.PhoneticSubstitutions != 1 {
		t.Errorf("PhoneticSubstitutions=%d, want 1", res.PhoneticSubstitutions)
	}
}

func TestScorer_QualityThresholds(t *testing.T) {
	t.Parallel()

	s := ser.New()

	tests := []struct {
		name       string
		ref        string
		hyp        string
		wantLevel  ser.QualityLevel
		acceptable bool
	}{
		{
			// 0 edits over 20 tokens: 0%.
			name:       "perfect is high",
			ref:        "a b c d e f g h i j k l m n o p q r s t",
			hyp:        "a b c d e f g h i j k l m n o p q r s t",
			wantLevel:  ser.QualityHigh,
			acceptable: true,
		},
		{
			// 1 edit over 20 tokens: 5%.
			name:       "five percent is high",
			ref:        "a b c d e f g h i j k l m n o p q r s t",
			hyp:        "a b c d e f g h i j k l m n o p q r s X",
			wantLevel:  ser.QualityHigh,
			acceptable: true,
		},
		{
			// 3 edits over 20 tokens: 15%.
			name:       "fifteen percent is medium and acceptable",
			ref:        "a b c d e f g h i j k l m n o p q r s t",
			hyp:        "a b c d e f g h i j k l m n o p q X Y Z",
			wantLevel:  ser.QualityMedium,
			acceptable: true,
		},
		{
			// 4 edits over 20 tokens: 20%.
			name:       "twenty percent is low",
			ref:        "a b c d e f g h i j k l m n o p q r s t",
			hyp:        "a b c d e f g h i j k l m n o p W X Y Z",
			wantLevel:  ser.QualityLow,
			acceptable: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			res, err := s.Score(tt.ref, tt.hyp)
			if err != nil {
				t.Fatalf("Score: unexpected error: %v", err)
			}
			if res.QualityLevel != tt.wantLevel {
				t.Errorf("QualityLevel=%q, want %q (SER=%f)", res.QualityLevel, tt.wantLevel, res.SERScore)
			}
			if res.IsAcceptable != tt.acceptable {
				t.Errorf("IsAcceptable=%v, want %v (SER=%f)", res.IsAcceptable, tt.acceptable, res.SERScore)
			}
		})
	}
}

func TestTokenize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"   ", nil},
		{"Hello World", []string{"hello", "world"}},
		{"  spaced\tout\nwords ", []string{"spaced", "out", "words"}},
		{"Dr. Smith's note", []string{"dr.", "smith's", "note"}},
	}
	for _, tt := range tests {
		got := ser.Tokenize(tt.in)
		if len(got) != len(tt.want) {
			t.Errorf("Tokenize(%q)=%v, want %v", tt.in, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("Tokenize(%q)[%d]=%q, want %q", tt.in, i, got[i], tt.want[i])
			}
		}
	}
}
