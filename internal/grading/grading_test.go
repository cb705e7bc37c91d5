package grading

import (
	"encoding/json"
	"testing"

	"github.com/evaltra/evaltra-backend/internal/model"
	"github.com/google/uuid"
)

func mustJSON(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return raw
}

func scoreOrFail(t *testing.T, q *model.Question, resp json.RawMessage) float64 {
	t.Helper()
	s, err := Score(q, resp)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if s == nil {
		t.Fatalf("Score returned pending, want a value")
	}
	return *s
}

func TestSingleSelectExactMatch(t *testing.T) {
	q := &model.Question{
		Type:   model.QuestionSingleSelect,
		Points: 2,
		Key:    model.AnswerKey{CorrectOptionIDs: []int64{7}},
	}

	got := scoreOrFail(t, q, mustJSON(t, SelectResponse{SelectedOptionIDs: []int64{7}}))
	if got != 2 {
		t.Errorf("correct selection: got %v, want 2", got)
	}

	// Selecting an extra wrong option voids the question without partial credit.
	got = scoreOrFail(t, q, mustJSON(t, SelectResponse{SelectedOptionIDs: []int64{5, 7}}))
	if got != 0 {
		t.Errorf("over-selection: got %v, want 0", got)
	}

	got = scoreOrFail(t, q, mustJSON(t, SelectResponse{SelectedOptionIDs: []int64{5}}))
	if got != 0 {
		t.Errorf("wrong selection: got %v, want 0", got)
	}
}

func TestSelectEmptyKeyScoresZero(t *testing.T) {
	q := &model.Question{
		Type:   model.QuestionSingleSelect,
		Points: 2,
		Key:    model.AnswerKey{},
	}

	// An empty selection must not "match" an empty key.
	got := scoreOrFail(t, q, mustJSON(t, SelectResponse{SelectedOptionIDs: []int64{}}))
	if got != 0 {
		t.Errorf("empty key, empty selection: got %v, want 0", got)
	}

	q.PartialCredit = true
	got = scoreOrFail(t, q, mustJSON(t, SelectResponse{SelectedOptionIDs: nil}))
	if got != 0 {
		t.Errorf("empty key with partial credit: got %v, want 0", got)
	}
}

func TestMultiSelectPartialCredit(t *testing.T) {
	q := &model.Question{
		Type:          model.QuestionMultiSelect,
		Points:        4,
		PartialCredit: true,
		Key:           model.AnswerKey{CorrectOptionIDs: []int64{1, 2, 3, 4}},
	}

	cases := []struct {
		name     string
		selected []int64
		want     float64
	}{
		{"all correct", []int64{1, 2, 3, 4}, 4},
		{"half correct", []int64{1, 2}, 2},
		{"hits cancel misses", []int64{1, 2, 3, 9}, 2},
		{"misses clamp at zero", []int64{8, 9}, 0},
		{"duplicates count once", []int64{1, 1, 2}, 2},
		{"nothing selected", nil, 0},
	}
	for _, tc := range cases {
		got := scoreOrFail(t, q, mustJSON(t, SelectResponse{SelectedOptionIDs: tc.selected}))
		if got != tc.want {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestOpenEndedKeywords(t *testing.T) {
	q := &model.Question{
		Type:          model.QuestionOpenEnded,
		Points:        3,
		PartialCredit: true,
		Key:           model.AnswerKey{Keywords: []string{"HTML", "CSS", "JavaScript"}},
	}

	got := scoreOrFail(t, q, mustJSON(t, TextResponse{Text: "html defines structure and css the style"}))
	if got != 2 {
		t.Errorf("two of three keywords: got %v, want 2", got)
	}

	// All-keywords flag forces all-or-nothing even with partial credit on.
	q.Key.AllKeywordsRequired = true
	got = scoreOrFail(t, q, mustJSON(t, TextResponse{Text: "html and css only"}))
	if got != 0 {
		t.Errorf("all-required missing one: got %v, want 0", got)
	}
	got = scoreOrFail(t, q, mustJSON(t, TextResponse{Text: "HTML, CSS and JavaScript together"}))
	if got != 3 {
		t.Errorf("all-required complete: got %v, want 3", got)
	}
}

func TestOpenEndedWithoutKeywordsIsPending(t *testing.T) {
	q := &model.Question{Type: model.QuestionOpenEnded, Points: 5}
	s, err := Score(q, mustJSON(t, TextResponse{Text: "an essay"}))
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if s != nil {
		t.Errorf("got score %v, want pending (nil)", *s)
	}
}

func TestFillBlankPartialCredit(t *testing.T) {
	q := &model.Question{
		Type:          model.QuestionFillBlank,
		Points:        3,
		PartialCredit: true,
		Key:           model.AnswerKey{Blanks: []string{"estructura", "estilo", "comportamiento"}},
	}

	got := scoreOrFail(t, q, mustJSON(t, BlanksResponse{Blanks: []string{"estructura", "estilo", "x"}}))
	if got != 2 {
		t.Errorf("two of three blanks: got %v, want 2", got)
	}

	// Comparison trims and ignores case per blank.
	got = scoreOrFail(t, q, mustJSON(t, BlanksResponse{Blanks: []string{" Estructura ", "ESTILO", "comportamiento"}}))
	if got != 3 {
		t.Errorf("normalized blanks: got %v, want 3", got)
	}

	q.PartialCredit = false
	got = scoreOrFail(t, q, mustJSON(t, BlanksResponse{Blanks: []string{"estructura", "estilo", "x"}}))
	if got != 0 {
		t.Errorf("all-or-nothing with one wrong: got %v, want 0", got)
	}
}

func TestMatching(t *testing.T) {
	q := &model.Question{
		Type:          model.QuestionMatching,
		Points:        4,
		PartialCredit: true,
		Key: model.AnswerKey{Pairs: []model.MatchPair{
			{LeftID: 1, RightID: 10},
			{LeftID: 2, RightID: 20},
			{LeftID: 3, RightID: 30},
			{LeftID: 4, RightID: 40},
		}},
	}

	resp := MatchingResponse{Pairs: []model.MatchPair{
		{LeftID: 1, RightID: 10},
		{LeftID: 2, RightID: 30}, // swapped
		{LeftID: 3, RightID: 20}, // swapped
		{LeftID: 4, RightID: 40},
	}}
	got := scoreOrFail(t, q, mustJSON(t, resp))
	if got != 2 {
		t.Errorf("two of four pairs: got %v, want 2", got)
	}

	q.PartialCredit = false
	got = scoreOrFail(t, q, mustJSON(t, resp))
	if got != 0 {
		t.Errorf("all-or-nothing with swaps: got %v, want 0", got)
	}
}

func TestScoreRejectsMalformedPayload(t *testing.T) {
	q := &model.Question{Type: model.QuestionSingleSelect, Points: 2}
	if _, err := Score(q, json.RawMessage(`{"selected_option_ids": "nope"}`)); err == nil {
		t.Error("expected error for malformed payload")
	}
}

func TestAggregate(t *testing.T) {
	score := func(v float64) *float64 { return &v }
	answers := []model.Answer{
		{QuestionID: uuid.New(), Score: score(2)},
		{QuestionID: uuid.New(), Score: score(1.5)},
		{QuestionID: uuid.New(), Score: score(0)},
	}

	agg := Aggregate(answers, 10)
	if agg.RawScore != 3.5 {
		t.Errorf("raw: got %v, want 3.5", agg.RawScore)
	}
	if agg.Percentage != 35 {
		t.Errorf("percentage: got %v, want 35", agg.Percentage)
	}
	if agg.FinalGrade != 1.75 {
		t.Errorf("final grade: got %v, want 1.75", agg.FinalGrade)
	}
	if agg.Pending {
		t.Error("pending: got true, want false")
	}
}

func TestAggregatePendingAndClamping(t *testing.T) {
	score := func(v float64) *float64 { return &v }
	answers := []model.Answer{
		{QuestionID: uuid.New(), Score: score(6)},
		{QuestionID: uuid.New(), Score: nil}, // awaiting manual grading
	}

	agg := Aggregate(answers, 5)
	if !agg.Pending {
		t.Error("pending: got false, want true")
	}
	if agg.RawScore != 5 {
		t.Errorf("raw clamped to max: got %v, want 5", agg.RawScore)
	}
	if agg.Percentage != 100 {
		t.Errorf("percentage: got %v, want 100", agg.Percentage)
	}
}

func TestPercentageZeroMax(t *testing.T) {
	if got := Percentage(3, 0); got != 0 {
		t.Errorf("zero max: got %v, want 0", got)
	}
}

func TestFinalGradeScale(t *testing.T) {
	cases := map[float64]float64{0: 0, 50: 2.5, 100: 5, 66.67: 3.33}
	for pct, want := range cases {
		if got := FinalGrade(pct); got != want {
			t.Errorf("FinalGrade(%v): got %v, want %v", pct, got, want)
		}
	}
}
