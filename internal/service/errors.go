package service

import "errors"

// Domain errors surfaced by the attempt orchestrator. Handlers map them onto
// response codes; the four families (not-found, policy, conflict, upstream)
// must stay distinguishable so clients can react correctly.
var (
	// Not found: the referenced entity is gone from the catalog snapshot.
	ErrQuestionNotFound = errors.New("question no longer exists in the exam")

	// Policy violations: surfaced, no retry.
	ErrExamNotOpen         = errors.New("exam is closed or archived")
	ErrMissingStudentField = errors.New("required student identity field missing")
	ErrWrongPassword       = errors.New("wrong exam password")
	ErrScoreOutOfRange     = errors.New("score outside the allowed range")
	ErrNotDocumentOnly     = errors.New("attempt is not document-only")

	// Conflicts: explicit state-machine violations, never mutated around.
	ErrSessionConflict  = errors.New("another session holds this attempt")
	ErrAttemptFinished  = errors.New("attempt is already finished")
	ErrAttemptBlocked   = errors.New("attempt is blocked")
	ErrAttemptNotActive = errors.New("attempt is not active")
	ErrAttemptExpired   = errors.New("attempt time limit has expired")
	ErrNotBlocked       = errors.New("attempt is not blocked")
)
