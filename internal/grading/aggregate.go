package grading

import "github.com/evaltra/evaltra-backend/internal/model"

// Aggregates holds the derived totals of one attempt.
type Aggregates struct {
	RawScore   float64
	Percentage float64
	FinalGrade float64 // 0–5 scale
	// Pending is true when at least one answer has no score yet and a
	// teacher still has to grade it by hand.
	Pending bool
}

// Aggregate recomputes an attempt's totals from its full answer set. A
// manual override of one answer must go through here again rather than
// patching the delta, so the invariant percentage == 100*raw/max always
// holds no matter how the scores came to be.
func Aggregate(answers []model.Answer, maxScore float64) Aggregates {
	var raw float64
	pending := false
	for i := range answers {
		if answers[i].Score == nil {
			pending = true
			continue
		}
		if s := *answers[i].Score; s > 0 {
			raw += s
		}
	}
	raw = Round2(raw)
	if raw > maxScore {
		raw = maxScore
	}

	pct := Percentage(raw, maxScore)
	return Aggregates{
		RawScore:   raw,
		Percentage: pct,
		FinalGrade: FinalGrade(pct),
		Pending:    pending,
	}
}

// Percentage returns 100*raw/max, or 0 for a zero max score.
func Percentage(raw, max float64) float64 {
	if max <= 0 {
		return 0
	}
	return Round2(100 * raw / max)
}

// FinalGrade converts a percentage to the institutional 0–5 scale.
func FinalGrade(percentage float64) float64 {
	return Round2(percentage * 5 / 100)
}
