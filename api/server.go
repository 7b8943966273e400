// Package api exposes the scheduler's status and manual trigger endpoints
// and drives periodic plan-and-publish runs on a cron schedule.
package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"

	"clippy/executor"
	"clippy/store"
	"clippy/types"
)

// RunFunc executes one plan-and-publish cycle
type RunFunc func(ctx context.Context) (executor.Summary, error)

// Server is the scheduler's HTTP surface
type Server struct {
	store   *store.Store
	tracker *StatusTracker
	run     RunFunc

	httpServer *http.Server
	cron       *cron.Cron
	mu         sync.Mutex
	running    bool
}

// StatusResponse is the JSON shape of GET /api/status
type StatusResponse struct {
	State          RunState          `json:"state"`
	Logs           []LogEntry        `json:"logs"`
	Candidates     int               `json:"candidates"`
	Rendered       int               `json:"rendered"`
	Terminal       int               `json:"terminal"`
	LastRunAt      *time.Time        `json:"last_run_at,omitempty"`
	LastRunSummary *executor.Summary `json:"last_run_summary,omitempty"`
	Error          string            `json:"error,omitempty"`
}

// NewServer creates the HTTP server on the given port
func NewServer(st *store.Store, tracker *StatusTracker, run RunFunc, port string) *Server {
	s := &Server{
		store:   st,
		tracker: tracker,
		run:     run,
		cron:    cron.New(),
	}

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", s.handleHealth)
	r.GET("/api/status", s.handleStatus)
	r.GET("/api/candidates", s.handleCandidates)
	r.POST("/api/run", s.handleRun)

	s.httpServer = &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	return s
}

// Start starts the HTTP server in the background
func (s *Server) Start() error {
	log.Printf("Starting scheduler API on %s", s.httpServer.Addr)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()
	return nil
}

// StartCron schedules periodic plan-and-publish runs
func (s *Server) StartCron(schedule string) error {
	_, err := s.cron.AddFunc(schedule, func() {
		log.Println("⏰ Cron-triggered publish run")
		s.triggerRun(context.Background())
	})
	if err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", schedule, err)
	}
	s.cron.Start()
	log.Printf("✅ Publish runs scheduled: %s", schedule)
	return nil
}

// Shutdown stops cron and drains the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	cronCtx := s.cron.Stop()
	select {
	case <-cronCtx.Done():
	case <-ctx.Done():
	}
	return s.httpServer.Shutdown(ctx)
}

// triggerRun executes one run if none is in progress
func (s *Server) triggerRun(ctx context.Context) bool {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return false
	}
	s.running = true
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
		}()

		summary, err := s.run(ctx)
		if err != nil {
			s.tracker.SetError(err)
			return
		}
		s.tracker.FinishRun(summary)
	}()
	return true
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStatus(c *gin.Context) {
	state, logs, summary, lastRun, lastErr := s.tracker.Snapshot()
	total, rendered, terminal := s.store.Counts()

	resp := StatusResponse{
		State:          state,
		Logs:           logs,
		Candidates:     total,
		Rendered:       rendered,
		Terminal:       terminal,
		LastRunSummary: summary,
	}
	if !lastRun.IsZero() {
		resp.LastRunAt = &lastRun
	}
	if lastErr != nil {
		resp.Error = lastErr.Error()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleCandidates(c *gin.Context) {
	minScore := 0.0
	if v := c.Query("min_score"); v != "" {
		if _, err := fmt.Sscanf(v, "%f", &minScore); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad min_score"})
			return
		}
	}
	pending := s.store.ListPending(minScore)
	if pending == nil {
		pending = []types.ClipCandidate{}
	}
	c.JSON(http.StatusOK, gin.H{"candidates": pending})
}

func (s *Server) handleRun(c *gin.Context) {
	// The run outlives the request; detach it from the request context
	if !s.triggerRun(context.WithoutCancel(c.Request.Context())) {
		c.JSON(http.StatusConflict, gin.H{"error": "run already in progress"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "run started"})
}
