package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/staffdeck/assess-backend/internal/config"
	"github.com/staffdeck/assess-backend/internal/handler"
	"github.com/staffdeck/assess-backend/internal/middleware"
	"github.com/staffdeck/assess-backend/internal/response"
	"github.com/staffdeck/assess-backend/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Session *handler.SessionHandler
	WS      *handler.WSHandler
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

	// Signal endpoints fire on every tab switch; keep abusive clients
	// from hammering the engine (120 requests per minute per IP).
	signalLimiter := middleware.NewRateLimiter(120, time.Minute)

	// ─── 1. Candidate Group (JWT) ──────────────────────────────────────
	candidateAPI := router.Group("/api/v1/candidate")
	candidateAPI.Use(middleware.RequireCandidateJWT(authService))
	{
		sessions := candidateAPI.Group("/sessions/:session_id")
		{
			sessions.GET("/state", handlers.Session.GetState)
			sessions.PUT("/answers/:question_id", handlers.Session.SaveAnswer)
			sessions.POST("/navigate", handlers.Session.Navigate)
			sessions.POST("/questions/:question_id/flag", handlers.Session.ToggleFlag)
			sessions.POST("/signals", signalLimiter.Middleware(), handlers.Session.ReportSignal)
			sessions.POST("/fullscreen", signalLimiter.Middleware(), handlers.Session.ReportFullscreen)
			sessions.POST("/submit", handlers.Session.Submit)
		}
	}

	// ─── 2. WebSocket Group (Candidate WS Auth) ────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireCandidateWSAuth(authService))
	{
		ws.GET("/candidate/sessions/:session_id/stream", handlers.WS.SessionStream)
	}

	return router
}
