// Package pricing computes the credit cost reserved for a generation task.
// The scheduler treats it as an opaque pricing function.
package pricing

import "github.com/docvivid/backend/internal/models"

// MinTaskCredits is the floor reserved for any task regardless of size.
const MinTaskCredits = 30

// Per-segment rates by narrated duration.
const (
	segmentCreditsShort  = 30 // under 30s
	segmentCreditsMedium = 35 // 30-44s
	segmentCreditsLong   = 40 // 45-60s
	segmentCreditsExtra  = 45 // over 60s
)

// SegmentCredits returns the credits charged for one narrated segment of the
// given duration in seconds.
func SegmentCredits(durationSeconds int) int {
	switch {
	case durationSeconds > 60:
		return segmentCreditsExtra
	case durationSeconds >= 45:
		return segmentCreditsLong
	case durationSeconds >= 30:
		return segmentCreditsMedium
	default:
		return segmentCreditsShort
	}
}

// Pricer estimates the credits to reserve for a submission before the
// pipeline has run.
type Pricer interface {
	EstimateCost(task *models.Task) int
}

// EstimatePricer derives an up-front reservation from the input size. The
// pipeline splits content into 3-8 segments of 30-100 words, so we estimate
// one medium segment per ~80 words of source text, clamped to that range.
// URL and file inputs have no text yet at admission and price at the
// minimum segment count.
type EstimatePricer struct{}

func (EstimatePricer) EstimateCost(task *models.Task) int {
	segments := 3
	if task.InputType == models.InputTypeText {
		words := countWords(task.SourceText)
		segments = words / 80
		if segments < 3 {
			segments = 3
		}
		if segments > 8 {
			segments = 8
		}
	}
	cost := segments * segmentCreditsMedium
	if cost < MinTaskCredits {
		cost = MinTaskCredits
	}
	return cost
}

func countWords(s string) int {
	n := 0
	inWord := false
	for _, r := range s {
		switch r {
		case ' ', '\t', '\n', '\r':
			inWord = false
		default:
			if !inWord {
				n++
			}
			inWord = true
		}
	}
	return n
}
