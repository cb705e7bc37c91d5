package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/evaltra/evaltra-backend/internal/config"
	"github.com/evaltra/evaltra-backend/internal/handler"
	"github.com/evaltra/evaltra-backend/internal/middleware"
	"github.com/evaltra/evaltra-backend/internal/response"
	"github.com/evaltra/evaltra-backend/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Attempt *handler.AttemptHandler
	Teacher *handler.TeacherHandler
	Stream  *handler.StreamHandler
	Monitor *handler.MonitorHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// Apply brotli middleware globally.
	router.Use(middleware.Brotli())

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// Rate limiter for the unauthenticated entry points (start/resume are
	// the brute-force surface for exam codes and passwords).
	entryLimiter := middleware.NewRateLimiter(30, time.Minute)

	// ─── 1. Student Group (Public, session token in payload) ──────────
	studentAPI := router.Group("/api/v1/attempts")
	{
		studentAPI.POST("", entryLimiter.Middleware(), handlers.Attempt.StartAttempt)
		studentAPI.POST("/resume", entryLimiter.Middleware(), handlers.Attempt.ResumeAttempt)

		studentAPI.POST("/:access_code/answers", handlers.Attempt.SubmitAnswer)
		studentAPI.POST("/:access_code/events", handlers.Attempt.ReportEvent)
		studentAPI.POST("/:access_code/finish", handlers.Attempt.FinishAttempt)
		studentAPI.POST("/:access_code/abandon", handlers.Attempt.AbandonAttempt)
	}

	// ─── 2. WebSocket Group (session token in query) ───────────────────
	wsAPI := router.Group("/ws/v1")
	{
		wsAPI.GET("/attempts/:access_code/stream", handlers.Stream.AttemptStream)
	}

	// ─── 3. Teacher Group (JWT) ────────────────────────────────────────
	teacherAPI := router.Group("/api/v1/teacher")
	teacherAPI.Use(middleware.RequireTeacherJWT(authService))
	{
		teacherAPI.GET("/exams/:exam_id/attempts", handlers.Teacher.ListAttempts)
		teacherAPI.POST("/exams/:exam_id/force-finish-all", handlers.Teacher.ForceFinishAll)
		teacherAPI.GET("/exams/:exam_id/monitor", handlers.Monitor.MonitorExamSSE)

		teacherAPI.GET("/attempts/:id", handlers.Teacher.GetAttempt)
		teacherAPI.POST("/attempts/:id/unlock", handlers.Teacher.UnlockAttempt)
		teacherAPI.POST("/attempts/:id/force-finish", handlers.Teacher.ForceFinishAttempt)
		teacherAPI.POST("/attempts/:id/events/read", handlers.Teacher.MarkEventsRead)
		teacherAPI.PUT("/attempts/:id/grade", handlers.Teacher.GradeAttempt)
		teacherAPI.DELETE("/attempts/:id", handlers.Teacher.DeleteAttempt)

		teacherAPI.PUT("/answers/:id/grade", handlers.Teacher.GradeAnswer)
	}

	return router
}
