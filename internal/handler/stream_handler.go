package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/evaltra/evaltra-backend/internal/broadcast"
	"github.com/evaltra/evaltra-backend/internal/model"
	"github.com/evaltra/evaltra-backend/internal/response"
	"github.com/evaltra/evaltra-backend/internal/service"
	"github.com/evaltra/evaltra-backend/internal/ws"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty allowedOrigins slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// StreamHandler is the student's realtime channel: answers and proctoring
// signals go up, saves, blocks, unlocks and time events come down.
type StreamHandler struct {
	attempts *service.AttemptService
	bc       *broadcast.Broadcaster
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewStreamHandler creates a new StreamHandler.
func NewStreamHandler(attempts *service.AttemptService, bc *broadcast.Broadcaster, log zerolog.Logger, allowedOrigins []string) *StreamHandler {
	return &StreamHandler{
		attempts: attempts,
		bc:       bc,
		log:      log.With().Str("component", "stream_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

func unmarshalMessage(raw []byte, v interface{}) error {
	return json.Unmarshal(raw, v)
}

// streamConn serializes writes: the pubsub forwarder and the action loop
// both write to the same connection.
type streamConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (sc *streamConn) write(v interface{}) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return ws.WriteTyped(sc.conn, v)
}

func (sc *streamConn) writeError(msg string) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	ws.WriteError(sc.conn, msg)
}

// AttemptStream godoc
// WS /ws/v1/attempts/:access_code/stream?token=<session_token>
func (h *StreamHandler) AttemptStream(c *gin.Context) {
	accessCode := c.Param("access_code")
	token := c.Query("token")
	if token == "" {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	// Authorize before burning the upgrade. The session token is the
	// student's only credential.
	attempt, _, err := h.attempts.VerifyStream(c.Request.Context(), accessCode, token)
	if err != nil {
		failAttemptError(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	sc := &streamConn{conn: conn}
	wsLog := h.log.With().
		Str("attempt_id", attempt.ID.String()).
		Str("access_code", accessCode).
		Logger()
	wsLog.Info().Msg("Student connected")

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// Forward the attempt's Redis channel so blocks, unlocks, expiration
	// and time ticks reach the client without polling.
	pubsub := h.bc.SubscribeAttempt(ctx, attempt.ID)
	defer pubsub.Close()
	go h.forward(ctx, sc, pubsub, wsLog)

	h.sendRestore(ctx, sc, attempt, wsLog)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		var envelope ws.RequestEnvelope
		if err := unmarshalMessage(raw, &envelope); err != nil {
			sc.writeError("malformed message")
			continue
		}

		switch envelope.Action {
		case ws.ActionAnswer:
			h.handleAnswer(ctx, sc, accessCode, token, raw)
		case ws.ActionEvent:
			h.handleEvent(ctx, sc, accessCode, token, raw)
		case ws.ActionFinish:
			if done := h.handleFinish(ctx, sc, accessCode, token); done {
				return
			}
		case ws.ActionPing:
			sc.write(ws.PongResponse{Event: ws.EventPong})
		default:
			wsLog.Warn().Str("action", string(envelope.Action)).Msg("Unknown action")
			sc.writeError("unknown action: " + string(envelope.Action))
		}
	}
}

// sendRestore replays the attempt state and answered-question map so a
// reconnecting client can rebuild where it left off.
func (h *StreamHandler) sendRestore(ctx context.Context, sc *streamConn, attempt *model.Attempt, wsLog zerolog.Logger) {
	answered, err := h.attempts.AnsweredQuestions(ctx, attempt.ID)
	if err != nil {
		wsLog.Warn().Err(err).Msg("Restore snapshot failed")
		answered = map[string]string{}
	}
	sc.write(ws.RestoreResponse{
		Event:    ws.EventRestore,
		State:    string(attempt.State),
		Answered: answered,
	})
}

func (h *StreamHandler) forward(ctx context.Context, sc *streamConn, pubsub *redis.PubSub, wsLog zerolog.Logger) {
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if err := sc.write(ws.BroadcastResponse{
				Event:   ws.EventBroadcast,
				Message: []byte(msg.Payload),
			}); err != nil {
				wsLog.Debug().Err(err).Msg("Forward write failed")
				return
			}
		}
	}
}

func (h *StreamHandler) handleAnswer(ctx context.Context, sc *streamConn, accessCode, token string, raw []byte) {
	var msg ws.AnswerRequest
	if err := unmarshalMessage(raw, &msg); err != nil {
		sc.writeError("malformed answer")
		return
	}
	if msg.QuestionID == "" || len(msg.Response) == 0 {
		sc.writeError("question_id and response are required")
		return
	}

	req := &model.SubmitAnswerRequest{
		QuestionID:   msg.QuestionID,
		SessionToken: token,
		Response:     msg.Response,
		Kind:         model.ResponseKind(msg.Kind),
	}
	answer, err := h.attempts.SubmitAnswer(ctx, accessCode, req)
	if err != nil {
		sc.writeError(err.Error())
		return
	}

	sc.write(ws.SavedResponse{
		Event:      ws.EventSaved,
		QuestionID: answer.QuestionID.String(),
	})
}

func (h *StreamHandler) handleEvent(ctx context.Context, sc *streamConn, accessCode, token string, raw []byte) {
	var msg ws.EventRequest
	if err := unmarshalMessage(raw, &msg); err != nil {
		sc.writeError("malformed event")
		return
	}

	req := &model.ReportEventRequest{
		SessionToken: token,
		Kind:         model.SecurityEventKind(msg.Kind),
	}
	event, err := h.attempts.ReportEvent(ctx, accessCode, req)
	if err != nil {
		sc.writeError(err.Error())
		return
	}

	sc.write(ws.RecordedResponse{
		Event:   ws.EventRecorded,
		Kind:    string(event.Kind),
		Blocked: false, // a lock arrives through the broadcast channel
	})
}

// handleFinish returns true when the attempt finished and the connection
// should close.
func (h *StreamHandler) handleFinish(ctx context.Context, sc *streamConn, accessCode, token string) bool {
	attempt, err := h.attempts.FinishAttempt(ctx, accessCode, token)
	if err != nil {
		sc.writeError(err.Error())
		return false
	}

	sc.write(ws.FinishedResponse{
		Event:        ws.EventFinished,
		RawScore:     attempt.RawScore,
		Percentage:   attempt.Percentage,
		FinalGrade:   attempt.FinalGrade,
		GradePending: attempt.GradePending,
	})
	return true
}
