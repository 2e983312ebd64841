package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rowjay/drkit/internal/artifact"
	"github.com/rowjay/drkit/internal/lock"
	"github.com/rowjay/drkit/internal/metrics"
	"github.com/rowjay/drkit/internal/restore"
)

// Service is the application contract required by the HTTP API.
type Service interface {
	List(ctx context.Context) ([]artifact.Artifact, error)
	Backup(ctx context.Context, cadence artifact.Cadence) (artifact.Run, error)
	QuickRollback(ctx context.Context) (artifact.Run, []restore.Outcome, error)
}

// Server exposes health, metrics and a small control API for the daemon.
type Server struct {
	addr      string
	svc       Service
	server    *http.Server
	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time

	mu      sync.Mutex
	lastRun *artifact.Run
}

func New(addr string, svc Service) *Server {
	if addr == "" {
		addr = "127.0.0.1:9090"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{addr: addr, svc: svc, ctx: ctx, cancel: cancel, startTime: time.Now()}
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", s.handleHealth)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	r.GET("/api/backups", s.handleList)
	r.POST("/api/backups", s.handleBackup)
	r.POST("/api/rollback/quick", s.handleQuick)
	return r
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)
	s.server = &http.Server{
		Handler:           s.routes(),
		BaseContext:       func(_ net.Listener) context.Context { return s.ctx },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.startTime = time.Now()
	go s.server.Serve(listener)
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	s.cancel()
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Observe records the latest finished run for the health endpoint.
func (s *Server) Observe(run artifact.Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRun = &run
}

func (s *Server) handleHealth(c *gin.Context) {
	s.mu.Lock()
	last := s.lastRun
	s.mu.Unlock()

	body := gin.H{
		"status": "ok",
		"uptime": time.Since(s.startTime).Round(time.Second).String(),
	}
	if last != nil {
		body["last_run"] = gin.H{
			"id":       last.ID,
			"kind":     last.Kind,
			"cadence":  last.Cadence,
			"status":   last.Status(),
			"ended_at": last.EndedAt,
		}
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handleList(c *gin.Context) {
	list, err := s.svc.List(c.Request.Context())
	if err != nil && list == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	body := gin.H{"artifacts": list}
	if err != nil {
		body["remote_error"] = err.Error()
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handleBackup(c *gin.Context) {
	var req struct {
		Cadence string `json:"cadence"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
			return
		}
	}
	cadence := artifact.Manual
	if req.Cadence != "" {
		parsed, err := artifact.ParseCadence(req.Cadence)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		cadence = parsed
	}

	run, err := s.svc.Backup(context.WithoutCancel(c.Request.Context()), cadence)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	s.Observe(run)
	c.JSON(http.StatusOK, run)
}

func (s *Server) handleQuick(c *gin.Context) {
	run, outcomes, err := s.svc.QuickRollback(context.WithoutCancel(c.Request.Context()))
	if run.ID != "" {
		s.Observe(run)
	}
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error(), "run": run})
		return
	}
	code := http.StatusOK
	if !run.Success() {
		code = http.StatusInternalServerError
	}
	c.JSON(code, gin.H{"run": run, "outcomes": outcomes})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, lock.ErrRunInProgress):
		return http.StatusConflict
	case errors.Is(err, restore.ErrNoBackupFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
