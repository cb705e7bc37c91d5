package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/evaltra/evaltra-backend/internal/middleware"
	"github.com/evaltra/evaltra-backend/internal/model"
	"github.com/evaltra/evaltra-backend/internal/repository"
	"github.com/evaltra/evaltra-backend/internal/response"
	"github.com/evaltra/evaltra-backend/internal/service"
	"github.com/evaltra/evaltra-backend/internal/validator"
)

// TeacherHandler handles the JWT-protected teacher endpoints: attempt
// oversight, unlocking, force-finishing, and manual grading.
type TeacherHandler struct {
	attempts *service.AttemptService
	log      zerolog.Logger
}

// NewTeacherHandler creates a new TeacherHandler.
func NewTeacherHandler(attempts *service.AttemptService, log zerolog.Logger) *TeacherHandler {
	return &TeacherHandler{attempts: attempts, log: log}
}

// actorID identifies the acting teacher for the audit log lines on
// state-changing operations.
func actorID(c *gin.Context) int {
	if claims := middleware.GetClaims(c); claims != nil {
		return claims.UserID
	}
	return 0
}

// ListAttempts godoc
// GET /api/v1/teacher/exams/:exam_id/attempts?page=&per_page=
func (h *TeacherHandler) ListAttempts(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	attempts, err := h.attempts.ListExamAttempts(c.Request.Context(), examID)
	if err != nil {
		failAttemptError(c, err)
		return
	}

	page, perPage := listParams(c)
	total := len(attempts)
	lo := (page - 1) * perPage
	if lo > total {
		lo = total
	}
	hi := lo + perPage
	if hi > total {
		hi = total
	}
	slice := attempts[lo:hi]
	if slice == nil {
		slice = []model.Attempt{}
	}

	response.SuccessPaged(c, http.StatusOK, gin.H{"attempts": slice},
		response.NewPage(page, perPage, total))
}

// listParams reads page/per_page query params. Exam rosters are bounded
// by hall size, so the default page covers the common case whole.
func listParams(c *gin.Context) (page, perPage int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	if page < 1 {
		page = 1
	}
	perPage, _ = strconv.Atoi(c.DefaultQuery("per_page", "200"))
	if perPage < 1 || perPage > 500 {
		perPage = 200
	}
	return page, perPage
}

// GetAttempt godoc
// GET /api/v1/teacher/attempts/:id
func (h *TeacherHandler) GetAttempt(c *gin.Context) {
	attemptID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	detail, err := h.attempts.GetAttemptDetail(c.Request.Context(), attemptID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			response.Fail(c, http.StatusNotFound, response.ErrAttemptNotFound)
			return
		}
		failAttemptError(c, err)
		return
	}

	response.Success(c, http.StatusOK, detail)
}

// UnlockAttempt godoc
// POST /api/v1/teacher/attempts/:id/unlock
func (h *TeacherHandler) UnlockAttempt(c *gin.Context) {
	attemptID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	attempt, err := h.attempts.Unlock(c.Request.Context(), attemptID)
	if err != nil {
		failAttemptError(c, err)
		return
	}

	h.log.Info().Int("teacher_id", actorID(c)).Str("attempt_id", attemptID.String()).
		Msg("Attempt unlocked")
	response.Success(c, http.StatusOK, gin.H{"attempt": attempt})
}

// ForceFinishAttempt godoc
// POST /api/v1/teacher/attempts/:id/force-finish
func (h *TeacherHandler) ForceFinishAttempt(c *gin.Context) {
	attemptID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	attempt, err := h.attempts.ForceFinish(c.Request.Context(), attemptID)
	if err != nil {
		failAttemptError(c, err)
		return
	}

	h.log.Info().Int("teacher_id", actorID(c)).Str("attempt_id", attemptID.String()).
		Msg("Attempt force-finished")
	response.Success(c, http.StatusOK, gin.H{"attempt": attempt})
}

// ForceFinishAll godoc
// POST /api/v1/teacher/exams/:exam_id/force-finish-all
func (h *TeacherHandler) ForceFinishAll(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	results, err := h.attempts.ForceFinishAll(c.Request.Context(), examID)
	if err != nil {
		failAttemptError(c, err)
		return
	}

	h.log.Info().Int("teacher_id", actorID(c)).Str("exam_id", examID.String()).
		Int("attempts", len(results)).Msg("Exam force-finished")
	response.Success(c, http.StatusOK, gin.H{"results": results})
}

// MarkEventsRead godoc
// POST /api/v1/teacher/attempts/:id/events/read
func (h *TeacherHandler) MarkEventsRead(c *gin.Context) {
	attemptID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	if err := h.attempts.MarkEventsRead(c.Request.Context(), attemptID); err != nil {
		failAttemptError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"status": "read"})
}

// GradeAnswer godoc
// PUT /api/v1/teacher/answers/:id/grade
// Overrides one answer's score and re-aggregates the attempt's totals.
func (h *TeacherHandler) GradeAnswer(c *gin.Context) {
	answerID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.ManualGradeRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	attempt, err := h.attempts.ManualGradeAnswer(c.Request.Context(), answerID, &req)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			response.Fail(c, http.StatusNotFound, response.ErrAnswerNotFound)
			return
		}
		failAttemptError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"attempt": attempt})
}

// GradeAttempt godoc
// PUT /api/v1/teacher/attempts/:id/grade
// Grades a document-only attempt as a whole.
func (h *TeacherHandler) GradeAttempt(c *gin.Context) {
	attemptID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.ManualGradeRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	attempt, err := h.attempts.GradeDocumentAttempt(c.Request.Context(), attemptID, &req)
	if err != nil {
		failAttemptError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"attempt": attempt})
}

// DeleteAttempt godoc
// DELETE /api/v1/teacher/attempts/:id
// Purges an attempt and all of its answers and events.
func (h *TeacherHandler) DeleteAttempt(c *gin.Context) {
	attemptID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	if err := h.attempts.PurgeAttempt(c.Request.Context(), attemptID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			response.Fail(c, http.StatusNotFound, response.ErrAttemptNotFound)
			return
		}
		failAttemptError(c, err)
		return
	}

	h.log.Info().Int("teacher_id", actorID(c)).Str("attempt_id", attemptID.String()).
		Msg("Attempt purged")
	response.Success(c, http.StatusOK, gin.H{"status": "deleted"})
}
