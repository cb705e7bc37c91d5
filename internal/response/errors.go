package response

// ErrCode is a typed error code enum for consistent API error identification.
// Codes are grouped by the four failure families callers need to tell apart:
// not-found, policy violation, conflict, and upstream availability.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"
	ErrForbidden     ErrCode = "FORBIDDEN"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Not found ─────────────────────────────────────────────────────
	ErrNotFound         ErrCode = "NOT_FOUND"
	ErrExamNotFound     ErrCode = "EXAM_NOT_FOUND"
	ErrAttemptNotFound  ErrCode = "ATTEMPT_NOT_FOUND"
	ErrAnswerNotFound   ErrCode = "ANSWER_NOT_FOUND"
	ErrQuestionNotFound ErrCode = "QUESTION_NOT_FOUND"

	// ─── Policy violations ─────────────────────────────────────────────
	ErrExamNotOpen         ErrCode = "EXAM_NOT_OPEN"
	ErrMissingStudentField ErrCode = "MISSING_STUDENT_FIELD"
	ErrWrongExamPassword   ErrCode = "WRONG_EXAM_PASSWORD"
	ErrScoreOutOfRange     ErrCode = "SCORE_OUT_OF_RANGE"

	// ─── Conflicts (state machine / session exclusivity) ───────────────
	ErrSessionConflict  ErrCode = "SESSION_CONFLICT"
	ErrAttemptFinished  ErrCode = "ATTEMPT_FINISHED"
	ErrAttemptBlocked   ErrCode = "ATTEMPT_BLOCKED"
	ErrAttemptNotActive ErrCode = "ATTEMPT_NOT_ACTIVE"
	ErrAttemptExpired   ErrCode = "ATTEMPT_EXPIRED"

	// ─── Upstream ──────────────────────────────────────────────────────
	ErrCatalogUnavailable ErrCode = "CATALOG_UNAVAILABLE"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrTokenRequired:
		return "An authentication token is required."
	case ErrTokenInvalid:
		return "The authentication token is invalid or has expired."
	case ErrForbidden:
		return "You do not have permission to access this resource."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidID:
		return "Invalid identifier format."
	case ErrInvalidPayload:
		return "Invalid request payload."

	// ─── Not found ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Resource not found."
	case ErrExamNotFound:
		return "No exam exists with that code."
	case ErrAttemptNotFound:
		return "No attempt exists with that identifier."
	case ErrAnswerNotFound:
		return "No answer exists with that identifier."
	case ErrQuestionNotFound:
		return "The question no longer exists in this exam."

	// ─── Policy violations ─────────────────────────────────────────────
	case ErrExamNotOpen:
		return "This exam is closed or archived and cannot be taken."
	case ErrMissingStudentField:
		return "A student identity field required by this exam is missing."
	case ErrWrongExamPassword:
		return "The exam password is incorrect."
	case ErrScoreOutOfRange:
		return "The score is outside the allowed range for this question."

	// ─── Conflicts ─────────────────────────────────────────────────────
	case ErrSessionConflict:
		return "Someone else is already taking this attempt."
	case ErrAttemptFinished:
		return "This attempt is already finished."
	case ErrAttemptBlocked:
		return "This attempt is blocked. Contact your teacher to unlock it."
	case ErrAttemptNotActive:
		return "This attempt is not active."
	case ErrAttemptExpired:
		return "The time limit for this attempt has expired."

	// ─── Upstream ──────────────────────────────────────────────────────
	case ErrCatalogUnavailable:
		return "The exam catalog is temporarily unavailable. Please retry."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Too many requests. Please try again later."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "An internal server error occurred."
	default:
		return "An unexpected error occurred."
	}
}
