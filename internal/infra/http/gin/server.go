package ginserver

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	gin "github.com/gin-gonic/gin"

	"exodrive/internal/infra/config"
	"exodrive/internal/infra/obs"
)

type RealtimeHTTP interface {
	Connect(c *gin.Context)
}

type Handlers struct {
	Messages       MessageHTTP
	Realtime       RealtimeHTTP
	AuthMiddleware AuthMiddleware
}

func NewServer(cfg config.Config, obsMW obs.Middleware, health obs.HealthHandlers, h Handlers) *http.Server {
	mode := configureGinMode(cfg.Env)
	if obsMW.Logger != nil {
		obsMW.Logger.Info("gin initialized", "mode", mode)
	}
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           NewRouter(cfg, obsMW, health, h),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func NewRouter(cfg config.Config, obsMW obs.Middleware, health obs.HealthHandlers, h Handlers) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(obsMW.RequestID())
	router.Use(obsMW.LoggerMiddleware())
	router.Use(cors.New(corsConfig(cfg.CORSAllowOrigins)))

	router.GET("/livez", health.Livez)
	router.GET("/readyz", health.Readyz)
	if h.Realtime != nil {
		router.GET("/socket", h.Realtime.Connect)
	}

	api := router.Group("/api")
	api.Use(h.AuthMiddleware.Handle, h.AuthMiddleware.Require)
	if h.Messages != nil {
		general := []gin.HandlerFunc{}
		send := []gin.HandlerFunc{}
		if cfg.RateLimitEnabled {
			generalLimiter := NewRateLimiter("general", cfg.GeneralRateLimit, cfg.GeneralRateWindow, "")
			messageLimiter := NewRateLimiter("message", cfg.MessageRateLimit, cfg.MessageRateWindow, "too many messages, please wait a moment")
			general = append(general, generalLimiter.Handle)
			send = append(send, generalLimiter.Handle, messageLimiter.Handle)
		}
		messages := api.Group("/messages")
		messages.POST("/send", append(send, h.Messages.Send)...)
		messages.GET("/conversations", append(general, h.Messages.Conversations)...)
		messages.GET("/conversations/:conversationId", append(general, h.Messages.ConversationMessages)...)
		messages.PUT("/mark-read/:conversationId", append(general, h.Messages.MarkRead)...)
		messages.GET("/unread-count", append(general, h.Messages.UnreadCount)...)
	}
	return router
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"},
		ExposeHeaders:    []string{"Content-Length", "Content-Type", "X-Request-ID", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
		cfg.AllowCredentials = false
		return cfg
	}
	cfg.AllowOrigins = origins
	return cfg
}

func configureGinMode(env string) string {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "debug":
		gin.SetMode(gin.DebugMode)
		return gin.DebugMode
	case "test", "testing":
		gin.SetMode(gin.TestMode)
		return gin.TestMode
	default:
		gin.SetMode(gin.ReleaseMode)
		return gin.ReleaseMode
	}
}
