// Package grading scores student answers against exam answer keys. All
// functions are pure: they never touch storage, time, or the network, so the
// orchestrator can call them inside a transaction and teachers can re-run
// them after a manual override with identical results.
package grading

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/evaltra/evaltra-backend/internal/model"
)

// SelectResponse is the payload shape for single/multi select answers.
type SelectResponse struct {
	SelectedOptionIDs []int64 `json:"selected_option_ids"`
}

// TextResponse is the payload shape for open-ended answers.
type TextResponse struct {
	Text string `json:"text"`
}

// BlanksResponse is the payload shape for fill-in-the-blank answers, one
// entry per blank position.
type BlanksResponse struct {
	Blanks []string `json:"blanks"`
}

// MatchingResponse is the payload shape for matching answers.
type MatchingResponse struct {
	Pairs []model.MatchPair `json:"pairs"`
}

// Round2 rounds to two decimal places, half away from zero. Scores are
// rounded at every aggregation boundary so a redisplayed total never drifts
// from the stored one.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Score grades one answered question against its key. A nil score with a nil
// error means the question is not auto-gradable (keyword-less open-ended)
// and stays pending for manual grading. The returned score is always within
// [0, q.Points] and rounded to two decimals.
func Score(q *model.Question, response json.RawMessage) (*float64, error) {
	switch q.Type {
	case model.QuestionSingleSelect, model.QuestionMultiSelect:
		return scoreSelect(q, response)
	case model.QuestionOpenEnded:
		return scoreOpenEnded(q, response)
	case model.QuestionFillBlank:
		return scoreFillBlank(q, response)
	case model.QuestionMatching:
		return scoreMatching(q, response)
	default:
		return nil, fmt.Errorf("unknown question type %q", q.Type)
	}
}

func scoreSelect(q *model.Question, response json.RawMessage) (*float64, error) {
	var resp SelectResponse
	if err := json.Unmarshal(response, &resp); err != nil {
		return nil, fmt.Errorf("parse select response: %w", err)
	}

	correct := make(map[int64]bool, len(q.Key.CorrectOptionIDs))
	for _, id := range q.Key.CorrectOptionIDs {
		correct[id] = true
	}
	// A key with no correct options is a misconfigured question; never
	// award points for it.
	if len(correct) == 0 {
		return ptr(0.0), nil
	}

	selected := make(map[int64]bool, len(resp.SelectedOptionIDs))
	hits, misses := 0, 0
	for _, id := range resp.SelectedOptionIDs {
		if selected[id] {
			continue // duplicate selections count once
		}
		selected[id] = true
		if correct[id] {
			hits++
		} else {
			misses++
		}
	}

	if !q.PartialCredit {
		if hits == len(correct) && misses == 0 && hits == len(selected) {
			return ptr(Round2(q.Points)), nil
		}
		return ptr(0.0), nil
	}

	net := float64(hits - misses)
	net = math.Min(math.Max(net, 0), float64(len(correct)))
	return ptr(Round2(net * q.Points / float64(len(correct)))), nil
}

func scoreOpenEnded(q *model.Question, response json.RawMessage) (*float64, error) {
	if len(q.Key.Keywords) == 0 {
		// Free text without keywords cannot be auto-graded.
		return nil, nil
	}

	var resp TextResponse
	if err := json.Unmarshal(response, &resp); err != nil {
		return nil, fmt.Errorf("parse text response: %w", err)
	}

	text := strings.ToLower(resp.Text)
	found := 0
	for _, kw := range q.Key.Keywords {
		if strings.Contains(text, strings.ToLower(strings.TrimSpace(kw))) {
			found++
		}
	}

	all := found == len(q.Key.Keywords)
	if !q.PartialCredit || q.Key.AllKeywordsRequired {
		if all {
			return ptr(Round2(q.Points)), nil
		}
		return ptr(0.0), nil
	}
	return ptr(Round2(q.Points * float64(found) / float64(len(q.Key.Keywords)))), nil
}

func scoreFillBlank(q *model.Question, response json.RawMessage) (*float64, error) {
	var resp BlanksResponse
	if err := json.Unmarshal(response, &resp); err != nil {
		return nil, fmt.Errorf("parse blanks response: %w", err)
	}

	total := len(q.Key.Blanks)
	if total == 0 {
		return ptr(0.0), nil
	}

	correct := 0
	for i, want := range q.Key.Blanks {
		if i >= len(resp.Blanks) {
			break
		}
		if strings.EqualFold(strings.TrimSpace(resp.Blanks[i]), strings.TrimSpace(want)) {
			correct++
		}
	}

	if !q.PartialCredit {
		if correct == total {
			return ptr(Round2(q.Points)), nil
		}
		return ptr(0.0), nil
	}
	return ptr(Round2(q.Points * float64(correct) / float64(total))), nil
}

func scoreMatching(q *model.Question, response json.RawMessage) (*float64, error) {
	var resp MatchingResponse
	if err := json.Unmarshal(response, &resp); err != nil {
		return nil, fmt.Errorf("parse matching response: %w", err)
	}

	total := len(q.Key.Pairs)
	if total == 0 {
		return ptr(0.0), nil
	}

	want := make(map[model.MatchPair]bool, total)
	for _, p := range q.Key.Pairs {
		want[p] = true
	}

	seen := make(map[model.MatchPair]bool, len(resp.Pairs))
	correct := 0
	for _, p := range resp.Pairs {
		if seen[p] {
			continue
		}
		seen[p] = true
		if want[p] {
			correct++
		}
	}

	if !q.PartialCredit {
		if correct == total && len(seen) == total {
			return ptr(Round2(q.Points)), nil
		}
		return ptr(0.0), nil
	}
	return ptr(Round2(q.Points * float64(correct) / float64(total))), nil
}

func ptr(v float64) *float64 { return &v }
