package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"health-rag/internal/config"
	"health-rag/internal/kb"
	"health-rag/internal/rag"
	"health-rag/internal/retriever"

	"health-rag/internal/helper"
)

// Backend is the slice of the generation client the HTTP layer needs for
// health and stats reporting.
type Backend interface {
	Available(ctx context.Context) bool
	Model() string
}

// Server wires the knowledge base, retriever and grounded-answer builder
// behind the HTTP surface. Queries run concurrently; each takes one
// knowledge-base snapshot at the start of the request and uses it
// throughout.
type Server struct {
	cfg       *config.Config
	kb        *kb.Store
	retriever *retriever.Retriever
	builder   *rag.Builder
	backend   Backend
	router    *gin.Engine
}

func New(cfg *config.Config, store *kb.Store, retr *retriever.Retriever, builder *rag.Builder, backend Backend) *Server {
	s := &Server{
		cfg:       cfg,
		kb:        store,
		retriever: retr,
		builder:   builder,
		backend:   backend,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/health", s.health)
	router.POST("/chat/query", s.chatQuery)

	admin := router.Group("/admin")
	admin.POST("/auth", s.adminAuth)
	authed := admin.Group("", s.requireAdmin())
	{
		authed.POST("/upload", s.uploadDocument)
		authed.GET("/documents", s.listDocuments)
		authed.DELETE("/documents/:filename", s.deleteDocument)
		authed.GET("/stats", s.stats)
	}

	s.router = router
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Run blocks serving HTTP on addr.
func (s *Server) Run(addr string) error {
	log.Info().Msgf("serving on %s", addr)
	return s.router.Run(addr)
}

// requireAdmin guards the admin surface with the static shared token.
func (s *Server) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("X-Admin-Token") != s.cfg.Server.AdminToken {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"message": "Unauthorized",
			})
			return
		}
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID, _ := helper.GenerateUUID()
		start := time.Now()
		c.Next()
		log.Info().
			Str("request_id", requestID).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	}
}
