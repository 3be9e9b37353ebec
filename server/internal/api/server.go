package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"slices"
	"time"

	"skill-sharing/server/internal/config"
	"skill-sharing/server/internal/notify"
	"skill-sharing/server/internal/service"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type Server struct {
	config      *config.Config
	talks       *service.TalksService
	broadcaster *notify.Broadcaster
	logger      *log.Logger

	// WebSocket upgrader
	upgrader websocket.Upgrader
}

func NewServer(cfg *config.Config, talks *service.TalksService, broadcaster *notify.Broadcaster, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	s := &Server{
		config:      cfg,
		talks:       talks,
		broadcaster: broadcaster,
		logger:      logger,
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}
	return s
}

func (s *Server) Routes() http.Handler {
	// Gin 统一承载中间件与路由，便于扩展日志/鉴权/限流等能力。
	engine := gin.New()
	// 按原始路径匹配，标题里的 %2F 不会被当成路径分隔；c.Param 取到的仍是解码后的值
	engine.UseRawPath = true
	engine.UnescapePathValues = true
	engine.Use(gin.Logger(), gin.Recovery(), s.corsMiddleware())
	engine.GET("/healthz", s.handleHealthz)

	// 同一组路由同时挂在 /api 与根路径下
	s.mountTalks(engine.Group("/api"))
	s.mountTalks(engine.Group("/"))

	if dir := s.config.Server.StaticDir; dir != "" {
		engine.NoRoute(gin.WrapH(http.FileServer(http.Dir(dir))))
	}
	return engine
}

func (s *Server) mountTalks(r *gin.RouterGroup) {
	r.GET("/talks", s.handleListTalks)
	r.GET("/talks/events", s.handleTalkEvents)
	r.GET("/talks/ws", s.handleTalkSocket)
	r.GET("/talks/:title", s.handleGetTalk)
	r.PUT("/talks/:title", s.handleSubmitTalk)
	r.DELETE("/talks/:title", s.handleDeleteTalk)
	r.POST("/talks/:title/comments", s.handleAddComment)
}

// Close 结束所有挂起的长轮询和流式连接，挂在 http.Server.RegisterOnShutdown 上，
// 让 Shutdown 不必等到长轮询超时。
func (s *Server) Close() {
	s.logger.Printf("[API] Releasing long polls and streams for shutdown")
	s.broadcaster.Close()
}

// handleHealthz 返回服务健康状态与当前版本号。
func (s *Server) handleHealthz(c *gin.Context) {
	stats := s.broadcaster.Stats()
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": stats.Version,
		"waiters": stats.Waiters,
		"streams": stats.Streams,
	})
}

// writeServiceError 把服务层错误映射为 HTTP 状态；详细错误只写日志。
func (s *Server) writeServiceError(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, service.ErrBusy), errors.Is(err, notify.ErrClosed):
		s.logger.Printf("[API] ⚠️  %s rejected: %v", op, err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "server busy, retry later"})
	case errors.Is(err, context.Canceled) && c.Request.Context().Err() != nil:
		// 客户端已断开，没有人会读这个响应
		s.logger.Printf("[API] %s abandoned by client", op)
		c.Abort()
	default:
		s.logger.Printf("[API] ❌ %s failed: %v", op, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": op + " failed"})
	}
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "PUT", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "If-None-Match", "Prefer"},
		ExposeHeaders: []string{"ETag", "Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(s.config.Server.AllowedOrigins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = s.config.Server.AllowedOrigins
	}
	return cors.New(cfg)
}

// checkOrigin 与 CORS 使用同一份白名单；未配置时放行。
func (s *Server) checkOrigin(r *http.Request) bool {
	allowed := s.config.Server.AllowedOrigins
	if len(allowed) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || slices.Contains(allowed, origin)
}
