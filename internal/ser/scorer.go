// Package ser computes the Sentence Edit Rate (SER) between an ASR draft and
// its corrected reference text.
//
// The algorithm proceeds in three stages:
//
//  1. Levenshtein alignment: a standard dynamic-programming edit distance
//     (cost 1 per insertion, deletion, and substitution) over the
//     whitespace-tokenised, lowercased word sequences, followed by a
//     backtrace that yields the individual edit operations.
//
//  2. Move detection: substitution pairs whose tokens are swapped with each
//     other within a bounded token window are folded into a single "move"
//     operation, so that a reordered block costs one edit instead of two.
//
//  3. Phonetic classification: each surviving substitution is tested with
//     Double Metaphone code overlap and Jaro-Winkler similarity to flag
//     likely ASR mishearings (e.g. "hypertension" → "hypertention") as
//     phonetic substitutions, reported alongside the plain counts.
//
// SER is the percentage-scaled edit distance relative to the reference
// length: 100 * distance / max(len(reference), 1).
package ser

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

// ErrInvalidInput is returned by [Scorer.Score] when either text is not
// valid UTF-8.
var ErrInvalidInput = errors.New("ser: invalid input text")

const (
	defaultMoveWindow        = 5
	defaultHighThreshold     = 5.0
	defaultAcceptThreshold   = 15.0
	defaultPhoneticThreshold = 0.85
)

// QualityLevel grades a single scored note.
type QualityLevel string

const (
	QualityHigh   QualityLevel = "high"
	QualityMedium QualityLevel = "medium"
	QualityLow    QualityLevel = "low"
)

// IsValid reports whether q is a recognised quality level.
func (q QualityLevel) IsValid() bool {
	switch q {
	case QualityHigh, QualityMedium, QualityLow:
		return true
	}
	return false
}

// OperationCounts breaks the edit distance down by operation kind.
// All counts are non-negative; their sum equals [Result.EditDistance].
type OperationCounts struct {
	Insertions    int `json:"insertions"`
	Deletions     int `json:"deletions"`
	Substitutions int `json:"substitutions"`
	Moves         int `json:"moves"`
}

// Total returns the edit distance implied by the counts.
func (c OperationCounts) Total() int {
	return c.Insertions + c.Deletions + c.Substitutions + c.Moves
}

// Result is the outcome of scoring one reference/hypothesis pair.
// It is immutable once returned.
type Result struct {
	// SERScore is the percentage-scaled edit rate:
	// 100 * EditDistance / max(ReferenceLength, 1).
	SERScore float64 `json:"ser_score"`

	// EditDistance is the move-aware edit distance between the token
	// sequences.
	EditDistance int `json:"edit_distance"`

	// ReferenceLength and HypothesisLength are token counts.
	ReferenceLength  int `json:"reference_length"`
	HypothesisLength int `json:"hypothesis_length"`

	// Operations holds the per-kind breakdown of EditDistance.
	Operations OperationCounts `json:"operation_counts"`

	// PhoneticSubstitutions counts substitutions whose tokens are
	// phonetically similar, likely mishearings rather than content
	// divergence. Always <= Operations.Substitutions.
	PhoneticSubstitutions int `json:"phonetic_substitutions"`

	// QualityLevel grades the note: high (<=5), medium (<=15), low (>15).
	QualityLevel QualityLevel `json:"quality_level"`

	// IsAcceptable reports whether the note passes review without
	// mandatory correction (SERScore <= the acceptability threshold).
	IsAcceptable bool `json:"is_acceptable"`
}

// Option is a functional option for configuring a [Scorer].
type Option func(*Scorer)

// WithMoveWindow sets the maximum token distance between two substitutions
// for them to be folded into a single move operation. Default: 5.
func WithMoveWindow(window int) Option {
	return func(s *Scorer) {
		if window > 0 {
			s.moveWindow = window
		}
	}
}

// WithQualityThresholds sets the SER thresholds for the high and
// medium/acceptable quality levels. Defaults: 5.0 and 15.0.
func WithQualityThresholds(high, acceptable float64) Option {
	return func(s *Scorer) {
		s.highThreshold = high
		s.acceptThreshold = acceptable
	}
}

// WithPhoneticThreshold sets the minimum Jaro-Winkler similarity for a
// substitution without Double Metaphone overlap to still count as phonetic.
// Default: 0.85.
func WithPhoneticThreshold(threshold float64) Option {
	return func(s *Scorer) {
		s.phoneticThreshold = threshold
	}
}

// Scorer computes [Result] values for text pairs. It is read-only after
// construction and safe for concurrent use.
type Scorer struct {
	moveWindow        int
	highThreshold     float64
	acceptThreshold   float64
	phoneticThreshold float64
}

// New returns a [Scorer] configured with the supplied options.
func New(opts ...Option) *Scorer {
	s := &Scorer{
		moveWindow:        defaultMoveWindow,
		highThreshold:     defaultHighThreshold,
		acceptThreshold:   defaultAcceptThreshold,
		phoneticThreshold: defaultPhoneticThreshold,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Score computes the SER between reference (the corrected/ground-truth
// text) and hypothesis (the ASR draft). It is deterministic and has no
// side effects. Returns [ErrInvalidInput] when either text is not valid
// UTF-8.
func (s *Scorer) Score(reference, hypothesis string) (*Result, error) {
	if !utf8.ValidString(reference) || !utf8.ValidString(hypothesis) {
		return nil, ErrInvalidInput
	}

	refTokens := Tokenize(reference)
	hypTokens := Tokenize(hypothesis)

	res := &Result{
		ReferenceLength:  len(refTokens),
		HypothesisLength: len(hypTokens),
	}

	ops := align(refTokens, hypTokens)
	ops = s.foldMoves(ops)

	for _, op := range ops {
		switch op.kind {
		case opInsert:
			res.Operations.Insertions++
		case opDelete:
			res.Operations.Deletions++
		case opSubstitute:
			res.Operations.Substitutions++
			if s.isPhonetic(op.refTok, op.hypTok) {
				res.PhoneticSubstitutions++
			}
		case opMove:
			res.Operations.Moves++
		}
	}

	res.EditDistance = res.Operations.Total()

	// Reference length is clamped to 1 in the denominator so an empty
	// reference never divides by zero. An empty reference against a
	// non-empty hypothesis is capped at 100.
	denom := res.ReferenceLength
	if denom < 1 {
		denom = 1
	}
	res.SERScore = 100 * float64(res.EditDistance) / float64(denom)
	if res.ReferenceLength == 0 && res.HypothesisLength > 0 && res.SERScore > 100 {
		res.SERScore = 100
	}

	res.QualityLevel = s.gradeScore(res.SERScore)
	res.IsAcceptable = res.SERScore <= s.acceptThreshold

	return res, nil
}

// Tokenize splits text into comparison tokens: whitespace-delimited words,
// lowercased. Punctuation attached to a word stays part of the token, so
// "pressure." and "pressure" compare as different words.
func Tokenize(text string) []string {
	fields := strings.Fields(text)
	tokens := make([]string, len(fields))
	for i, f := range fields {
		tokens[i] = strings.ToLower(f)
	}
	return tokens
}

// gradeScore maps a SER score onto a [QualityLevel].
func (s *Scorer) gradeScore(score float64) QualityLevel {
	switch {
	case score <= s.highThreshold:
		return QualityHigh
	case score <= s.acceptThreshold:
		return QualityMedium
	default:
		return QualityLow
	}
}

// isPhonetic reports whether a substitution's tokens sound alike: their
// Double Metaphone codes overlap, or their Jaro-Winkler similarity meets
// the phonetic threshold.
func (s *Scorer) isPhonetic(refTok, hypTok string) bool {
	rp, rs := matchr.DoubleMetaphone(refTok)
	hp, hs := matchr.DoubleMetaphone(hypTok)
	if rp != "" && (rp == hp || rp == hs) {
		return true
	}
	if rs != "" && (rs == hp || rs == hs) {
		return true
	}
	return matchr.JaroWinkler(refTok, hypTok, false) >= s.phoneticThreshold
}
