package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/evaltra/evaltra-backend/internal/broadcast"
	"github.com/evaltra/evaltra-backend/internal/catalog"
	"github.com/evaltra/evaltra-backend/internal/model"
	"github.com/evaltra/evaltra-backend/internal/response"
	"github.com/evaltra/evaltra-backend/internal/service"
)

const (
	keepAliveInterval = 30 * time.Second
)

// MonitorHandler streams a live exam dashboard to teachers over SSE: an
// initial snapshot from PostgreSQL, then raw pass-through of the exam's
// Redis channel.
type MonitorHandler struct {
	attempts *service.AttemptService
	exams    catalog.Gateway
	bc       *broadcast.Broadcaster
	log      zerolog.Logger
}

// NewMonitorHandler creates a new MonitorHandler.
func NewMonitorHandler(attempts *service.AttemptService, exams catalog.Gateway, bc *broadcast.Broadcaster, log zerolog.Logger) *MonitorHandler {
	return &MonitorHandler{
		attempts: attempts,
		exams:    exams,
		bc:       bc,
		log:      log.With().Str("component", "monitor_handler").Logger(),
	}
}

// MonitorExamSSE godoc
// GET /api/v1/teacher/exams/:exam_id/monitor
func (h *MonitorHandler) MonitorExamSSE(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	exam, err := h.exams.GetByID(c.Request.Context(), examID)
	if err != nil {
		failAttemptError(c, err)
		return
	}

	reqCtx := c.Request.Context()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	h.sendSnapshot(c, examID, exam)

	// Every state transition already lands on the exam channel as JSON;
	// forward it untouched.
	pubsub := h.bc.SubscribeExam(reqCtx, examID)
	defer pubsub.Close()
	ch := pubsub.Channel()

	keepAliveTicker := time.NewTicker(keepAliveInterval)
	defer keepAliveTicker.Stop()

	h.log.Info().Str("exam_id", examID.String()).Msg("Teacher attached to live monitor SSE")

	pingPayload, _ := json.Marshal(map[string]string{"type": "ping"})

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Str("exam_id", examID.String()).Msg("Teacher disconnected from live monitor SSE")
			return

		case msg := <-ch:
			c.Writer.Write([]byte("data: "))
			c.Writer.Write([]byte(msg.Payload))
			c.Writer.Write([]byte("\n\n"))
			c.Writer.Flush()

		case <-keepAliveTicker.C:
			c.Writer.Write([]byte("data: "))
			c.Writer.Write(pingPayload)
			c.Writer.Write([]byte("\n\n"))
			c.Writer.Flush()
		}
	}
}

// sendSnapshot writes the first SSE event: the exam's full attempt list
// with per-state counts.
func (h *MonitorHandler) sendSnapshot(c *gin.Context, examID uuid.UUID, exam *model.Exam) {
	attempts, err := h.attempts.ListExamAttempts(c.Request.Context(), examID)
	if err != nil {
		h.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Snapshot query failed")
		attempts = nil
	}

	counts := map[string]int{}
	rows := make([]map[string]interface{}, 0, len(attempts))
	for i := range attempts {
		a := &attempts[i]
		counts[string(a.State)]++
		rows = append(rows, map[string]interface{}{
			"attempt_id":       a.ID.String(),
			"student_name":     a.StudentName,
			"state":            a.State,
			"progress_percent": a.ProgressPercent,
			"raw_score":        a.RawScore,
			"grade_pending":    a.GradePending,
			"started_at":       a.StartedAt,
			"ended_at":         a.EndedAt,
		})
	}

	c.SSEvent("message", map[string]interface{}{
		"type": "snapshot",
		"data": map[string]interface{}{
			"exam": map[string]interface{}{
				"id":              examID.String(),
				"name":            exam.Name,
				"state":           exam.State,
				"total_questions": len(exam.Questions),
				"max_score":       exam.MaxScore(),
			},
			"counts":   counts,
			"attempts": rows,
		},
	})
	c.Writer.Flush()
}
