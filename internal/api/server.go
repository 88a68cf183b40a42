package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/codementor/ragindex/internal/config"
	"github.com/codementor/ragindex/internal/indexer"
	"github.com/codementor/ragindex/internal/ragerr"
	"github.com/codementor/ragindex/internal/session"
)

// HealthChecker reports whether the embedding backend is reachable
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// Server represents the HTTP API server
type Server struct {
	config  *config.Config
	router  *gin.Engine
	manager *session.Manager
	scanner *indexer.Scanner
	health  HealthChecker
	logger  *slog.Logger
}

// NewServer creates a new API server over manager
func NewServer(cfg *config.Config, manager *session.Manager, health HealthChecker, logger *slog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		config:  cfg,
		router:  gin.New(),
		manager: manager,
		scanner: indexer.NewScanner(cfg.Indexer),
		health:  health,
		logger:  logger,
	}

	s.setupRoutes()
	return s
}

// Handler returns the router, for tests and custom listeners
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.Use(gin.Recovery())
	s.router.Use(corsMiddleware())

	// Health check
	s.router.GET("/health", s.handleHealth)

	// API v1
	v1 := s.router.Group("/api/v1")
	{
		sessions := v1.Group("/sessions/:id")
		sessions.POST("/index", s.handleIndex)
		sessions.POST("/refresh", s.handleRefresh)
		sessions.POST("/search", s.handleSearch)
		sessions.POST("/relevant", s.handleRelevant)
		sessions.POST("/prompt", s.handlePrompt)
		sessions.GET("/paths", s.handlePaths)

		v1.DELETE("/collection", s.handlePurge)
	}
}

// Run starts the server and stops it when ctx is done
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	srv := &http.Server{Addr: addr, Handler: s.router}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting API server", "addr", addr, "collection", s.manager.Base())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// corsMiddleware adds CORS headers
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	embeddingStatus := "ok"
	if s.health != nil {
		if err := s.health.CheckHealth(ctx); err != nil {
			embeddingStatus = fmt.Sprintf("error: %v", err)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"embedding":  embeddingStatus,
		"collection": s.manager.Collection(),
	})
}

// errorStatus maps the error taxonomy to HTTP status codes
func errorStatus(err error) int {
	var (
		embErr *ragerr.EmbeddingError
		vsErr  *ragerr.VectorStoreError
		dimErr *ragerr.DimensionMismatchError
	)
	switch {
	case errors.Is(err, ragerr.ErrNoChunksFound):
		return http.StatusNotFound
	case errors.As(err, &dimErr):
		return http.StatusConflict
	case errors.As(err, &embErr):
		return http.StatusBadGateway
	case errors.As(err, &vsErr):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.FullPath(), "session_id", c.Param("id"), "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

// sessionFor returns the session named in the URL
func (s *Server) sessionFor(c *gin.Context) (session.Session, bool) {
	sess, err := s.manager.Session(c.Param("id"))
	if err != nil {
		badRequest(c, err)
		return session.Session{}, false
	}
	return sess, true
}

// bind decodes the JSON body into req and resolves the session. On failure
// the 400 answer is already written.
func (s *Server) bind(c *gin.Context, req any) (session.Session, bool) {
	if err := c.ShouldBindJSON(req); err != nil {
		badRequest(c, err)
		return session.Session{}, false
	}
	return s.sessionFor(c)
}

// IndexRequest represents an index or refresh request. Directories are
// expanded to the files they contain.
type IndexRequest struct {
	Paths []string `json:"paths" binding:"required,min=1"`
}

func (s *Server) handleIndex(c *gin.Context) {
	s.index(c, false)
}

func (s *Server) handleRefresh(c *gin.Context) {
	s.index(c, true)
}

func (s *Server) index(c *gin.Context, refresh bool) {
	var req IndexRequest
	sess, ok := s.bind(c, &req)
	if !ok {
		return
	}

	files, err := s.scanner.ExpandPaths(req.Paths)
	if err != nil {
		badRequest(c, err)
		return
	}

	ctx := c.Request.Context()
	startTime := time.Now()

	var n int
	if refresh {
		n, err = sess.RefreshFiles(ctx, files)
	} else {
		n, err = sess.IndexFiles(ctx, files)
	}
	if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id": sess.ID,
		"files":      len(files),
		"chunks":     n,
		"elapsed":    time.Since(startTime).String(),
	})
}

// SearchRequest represents a search request
type SearchRequest struct {
	Query string   `json:"query" binding:"required"`
	TopK  int      `json:"top_k"`
	Paths []string `json:"paths"`
}

// handleSearch runs an exact nearest neighbour search
func (s *Server) handleSearch(c *gin.Context) {
	var req SearchRequest
	sess, ok := s.bind(c, &req)
	if !ok {
		return
	}

	results, err := sess.GetChunks(c.Request.Context(), req.Query, req.TopK, req.Paths)
	if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"query":   req.Query,
		"results": results,
	})
}

// RelevantRequest represents a relevant-chunks request
type RelevantRequest struct {
	Query string `json:"query" binding:"required"`
}

// handleRelevant runs the diversity-aware retrieval
func (s *Server) handleRelevant(c *gin.Context) {
	var req RelevantRequest
	sess, ok := s.bind(c, &req)
	if !ok {
		return
	}

	results, err := sess.GetRelevantChunks(c.Request.Context(), req.Query)
	if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"query":   req.Query,
		"results": results,
	})
}

// PromptRequest represents a prompt assembly request
type PromptRequest struct {
	Query        string   `json:"query" binding:"required"`
	SystemPrompt string   `json:"system_prompt"`
	Paths        []string `json:"paths"`
}

func (s *Server) handlePrompt(c *gin.Context) {
	var req PromptRequest
	sess, ok := s.bind(c, &req)
	if !ok {
		return
	}

	prompt, err := sess.BuildRAGPrompt(c.Request.Context(), req.Query, req.SystemPrompt, req.Paths)
	if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"prompt": prompt})
}

func (s *Server) handlePaths(c *gin.Context) {
	sess, ok := s.sessionFor(c)
	if !ok {
		return
	}

	paths, err := sess.ListPaths(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id": sess.ID,
		"paths":      paths,
	})
}

// handlePurge empties the collection for every session
func (s *Server) handlePurge(c *gin.Context) {
	if err := s.manager.Purge(c.Request.Context()); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"collection": s.manager.Collection()})
}
