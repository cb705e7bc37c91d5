package model

import (
	"time"

	"github.com/google/uuid"
)

// ExamState enumerates the catalog states relevant to attempt delivery.
type ExamState string

const (
	ExamStateOpen     ExamState = "OPEN"
	ExamStateClosed   ExamState = "CLOSED"
	ExamStateArchived ExamState = "ARCHIVED"
)

// Exam is the read-only snapshot this service consumes from the catalog.
// The authoring service owns the underlying rows; this service never writes
// them. PasswordHash is a bcrypt hash (nil means no password required).
type Exam struct {
	ID                   uuid.UUID         `json:"id"`
	PublicCode           string            `json:"public_code"`
	Name                 string            `json:"name"`
	State                ExamState         `json:"state"`
	PasswordHash         *string           `json:"-"`
	RequireName          bool              `json:"require_name"`
	RequireEmail         bool              `json:"require_email"`
	RequireInstitutional bool              `json:"require_institutional_id"`
	TimeLimitMinutes     int               `json:"time_limit_minutes"` // 0 = unlimited
	TimePolicy           TimePolicy        `json:"time_policy"`
	ConsequencePolicy    ConsequencePolicy `json:"consequence_policy"`
	DocumentOnly         bool              `json:"document_only"`
	DocumentURL          *string           `json:"document_url,omitempty"`
	DocumentMaxScore     float64           `json:"document_max_score"`
	Questions            []Question        `json:"questions,omitempty"`
	UpdatedAt            time.Time         `json:"updated_at"`
}

// MaxScore returns the attempt max score this exam yields: the per-question
// point sum, or the fixed document score for document-only exams.
func (e *Exam) MaxScore() float64 {
	if e.DocumentOnly {
		return e.DocumentMaxScore
	}
	var sum float64
	for i := range e.Questions {
		sum += e.Questions[i].Points
	}
	return sum
}

// QuestionType enumerates the auto-gradable question types plus open-ended.
type QuestionType string

const (
	QuestionSingleSelect QuestionType = "SINGLE_SELECT"
	QuestionMultiSelect  QuestionType = "MULTI_SELECT"
	QuestionOpenEnded    QuestionType = "OPEN_ENDED"
	QuestionFillBlank    QuestionType = "FILL_BLANK"
	QuestionMatching     QuestionType = "MATCHING"
)

// MatchPair is one correct (left, right) association of a matching question.
type MatchPair struct {
	LeftID  int64 `json:"left_id"`
	RightID int64 `json:"right_id"`
}

// AnswerKey holds the correct-answer data for one question. Which fields are
// meaningful depends on the question type.
type AnswerKey struct {
	CorrectOptionIDs    []int64     `json:"correct_option_ids,omitempty"` // select types
	Keywords            []string    `json:"keywords,omitempty"`           // open-ended
	AllKeywordsRequired bool        `json:"all_keywords_required,omitempty"`
	Blanks              []string    `json:"blanks,omitempty"` // fill-in-the-blank, in position order
	Pairs               []MatchPair `json:"pairs,omitempty"`  // matching
}

// Question is one question of an exam snapshot, with its answer key.
type Question struct {
	ID            uuid.UUID    `json:"id"`
	ExamID        uuid.UUID    `json:"exam_id"`
	Type          QuestionType `json:"type"`
	Points        float64      `json:"points"`
	PartialCredit bool         `json:"partial_credit"`
	Key           AnswerKey    `json:"key"`
	Position      int          `json:"position"`
}
