package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/evaltra/evaltra-backend/internal/repository"
	"github.com/evaltra/evaltra-backend/internal/response"
	"github.com/evaltra/evaltra-backend/internal/service"
)

// The four error families must stay distinguishable for clients: a
// vanished question is a not-found, not a policy violation.
func TestFailAttemptErrorTaxonomy(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		name   string
		err    error
		status int
		code   response.ErrCode
	}{
		{"question removed from exam", service.ErrQuestionNotFound, http.StatusNotFound, response.ErrQuestionNotFound},
		{"record not found", repository.ErrNotFound, http.StatusNotFound, response.ErrNotFound},
		{"score out of range", service.ErrScoreOutOfRange, http.StatusBadRequest, response.ErrScoreOutOfRange},
		{"attempt expired", service.ErrAttemptExpired, http.StatusConflict, response.ErrAttemptExpired},
		{"session conflict", service.ErrSessionConflict, http.StatusConflict, response.ErrSessionConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(rec)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

			failAttemptError(c, tc.err)

			if rec.Code != tc.status {
				t.Fatalf("status = %d, want %d", rec.Code, tc.status)
			}

			var body struct {
				Error struct {
					Code response.ErrCode `json:"code"`
				} `json:"error"`
			}
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Error.Code != tc.code {
				t.Fatalf("code = %s, want %s", body.Error.Code, tc.code)
			}
		})
	}
}
