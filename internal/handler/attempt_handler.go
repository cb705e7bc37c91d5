package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/evaltra/evaltra-backend/internal/catalog"
	"github.com/evaltra/evaltra-backend/internal/model"
	"github.com/evaltra/evaltra-backend/internal/repository"
	"github.com/evaltra/evaltra-backend/internal/response"
	"github.com/evaltra/evaltra-backend/internal/service"
	"github.com/evaltra/evaltra-backend/internal/validator"
)

// AttemptHandler handles the student-facing attempt endpoints. Students are
// anonymous to the HTTP layer; the session token inside each payload is
// their whole credential.
type AttemptHandler struct {
	attempts *service.AttemptService
}

// NewAttemptHandler creates a new AttemptHandler.
func NewAttemptHandler(attempts *service.AttemptService) *AttemptHandler {
	return &AttemptHandler{attempts: attempts}
}

// StartAttempt godoc
// POST /api/v1/attempts
// Validates the exam's entry requirements and creates a new attempt.
func (h *AttemptHandler) StartAttempt(c *gin.Context) {
	var req model.StartAttemptRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	attempt, session, err := h.attempts.StartAttempt(c.Request.Context(), &req)
	if err != nil {
		failAttemptError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{
		"attempt":       attempt,
		"access_code":   session.AccessCode,
		"session_token": session.SessionToken,
		"expires_at":    session.ExpiresAt,
	})
}

// ResumeAttempt godoc
// POST /api/v1/attempts/resume
// Resumes an attempt by access code, rotating the session token.
func (h *AttemptHandler) ResumeAttempt(c *gin.Context) {
	var req model.ResumeAttemptRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	attempt, session, err := h.attempts.ResumeAttempt(c.Request.Context(), &req)
	if err != nil {
		failAttemptError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"attempt":       attempt,
		"access_code":   session.AccessCode,
		"session_token": session.SessionToken,
		"expires_at":    session.ExpiresAt,
	})
}

// SubmitAnswer godoc
// POST /api/v1/attempts/:access_code/answers
// Saves or overwrites one answer of an active attempt.
func (h *AttemptHandler) SubmitAnswer(c *gin.Context) {
	var req model.SubmitAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	answer, err := h.attempts.SubmitAnswer(c.Request.Context(), c.Param("access_code"), &req)
	if err != nil {
		failAttemptError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"answer": answer})
}

// ReportEvent godoc
// POST /api/v1/attempts/:access_code/events
// Records a proctoring signal and applies the exam's consequence policy.
func (h *AttemptHandler) ReportEvent(c *gin.Context) {
	var req model.ReportEventRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	event, err := h.attempts.ReportEvent(c.Request.Context(), c.Param("access_code"), &req)
	if err != nil {
		failAttemptError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"event": event})
}

// FinishAttempt godoc
// POST /api/v1/attempts/:access_code/finish
// Finishes the attempt and grades every submitted answer.
func (h *AttemptHandler) FinishAttempt(c *gin.Context) {
	var req model.SessionTokenRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	attempt, err := h.attempts.FinishAttempt(c.Request.Context(), c.Param("access_code"), req.SessionToken)
	if err != nil {
		failAttemptError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"attempt": attempt})
}

// AbandonAttempt godoc
// POST /api/v1/attempts/:access_code/abandon
// Marks the attempt abandoned; the access code stays valid for resuming.
func (h *AttemptHandler) AbandonAttempt(c *gin.Context) {
	var req model.SessionTokenRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.attempts.AbandonAttempt(c.Request.Context(), c.Param("access_code"), req.SessionToken); err != nil {
		failAttemptError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"status": "abandoned"})
}

// failAttemptError maps service and upstream errors onto the response
// taxonomy.
func failAttemptError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, catalog.ErrExamNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrExamNotFound)
	case errors.Is(err, catalog.ErrUnavailable):
		response.Fail(c, http.StatusServiceUnavailable, response.ErrCatalogUnavailable)
	case errors.Is(err, repository.ErrNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	case errors.Is(err, service.ErrQuestionNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrQuestionNotFound)
	case errors.Is(err, service.ErrExamNotOpen):
		response.Fail(c, http.StatusForbidden, response.ErrExamNotOpen)
	case errors.Is(err, service.ErrMissingStudentField):
		response.Fail(c, http.StatusBadRequest, response.ErrMissingStudentField)
	case errors.Is(err, service.ErrWrongPassword):
		response.Fail(c, http.StatusForbidden, response.ErrWrongExamPassword)
	case errors.Is(err, service.ErrScoreOutOfRange):
		response.Fail(c, http.StatusBadRequest, response.ErrScoreOutOfRange)
	case errors.Is(err, service.ErrNotDocumentOnly):
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidPayload)
	case errors.Is(err, service.ErrSessionConflict):
		response.Fail(c, http.StatusConflict, response.ErrSessionConflict)
	case errors.Is(err, service.ErrAttemptFinished):
		response.Fail(c, http.StatusConflict, response.ErrAttemptFinished)
	case errors.Is(err, service.ErrAttemptBlocked):
		response.Fail(c, http.StatusConflict, response.ErrAttemptBlocked)
	case errors.Is(err, service.ErrAttemptExpired):
		response.Fail(c, http.StatusConflict, response.ErrAttemptExpired)
	case errors.Is(err, service.ErrAttemptNotActive), errors.Is(err, service.ErrNotBlocked):
		response.Fail(c, http.StatusConflict, response.ErrAttemptNotActive)
	default:
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}
