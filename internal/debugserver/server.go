// Package debugserver exposes a read-only HTTP introspection API over a
// running scheduler: process table, run ring, a process's wait queue, the
// dispose queue, and a liveness probe. It never mutates scheduler state —
// every route except /healthz reads through sched.Scheduler.Snapshot;
// /healthz reads sched.Scheduler.IsInitialized.
package debugserver

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/notYuriy/cpl1-procsched/internal/debugserver/middleware"
	"github.com/notYuriy/cpl1-procsched/internal/env"
	"github.com/notYuriy/cpl1-procsched/internal/sched"
)

// Server is the debugserver's HTTP surface: a thin Gin app plus a
// singleflight-coalesced snapshot cache, grounded on the teacher's
// SummaryService (same coalescing idea: many concurrent pollers, one
// scheduler walk).
type Server struct {
	sched *sched.Scheduler
	log   *zap.Logger

	httpSrv *http.Server

	sg       singleflight.Group
	cacheTTL time.Duration

	mu        sync.RWMutex
	cache     sched.SchedulerSnapshot
	expiresAt time.Time
}

// NewServer wires a Server against an initialized scheduler.
func NewServer(s *sched.Scheduler, log *zap.Logger) *Server {
	return &Server{
		sched:    s,
		log:      log.Named("debugserver"),
		cacheTTL: 100 * time.Millisecond,
	}
}

// snapshot returns a recent scheduler snapshot, coalescing concurrent
// callers within cacheTTL onto a single underlying Scheduler.Snapshot
// call — cheap here, but the pattern is what the teacher's summary cache
// uses for a genuinely expensive refresh, and debugserver is the
// component in this repo built to exercise it.
func (s *Server) snapshot() sched.SchedulerSnapshot {
	s.mu.RLock()
	if !s.expiresAt.IsZero() && time.Now().Before(s.expiresAt) {
		snap := s.cache
		s.mu.RUnlock()
		return snap
	}
	s.mu.RUnlock()

	v, _, _ := s.sg.Do("snapshot", func() (any, error) {
		s.mu.RLock()
		if !s.expiresAt.IsZero() && time.Now().Before(s.expiresAt) {
			snap := s.cache
			s.mu.RUnlock()
			return snap, nil
		}
		s.mu.RUnlock()

		snap := s.sched.Snapshot()

		s.mu.Lock()
		s.cache = snap
		s.expiresAt = time.Now().Add(s.cacheTTL)
		s.mu.Unlock()

		return snap, nil
	})
	return v.(sched.SchedulerSnapshot)
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", middleware.GetRequestID(c)),
		)
	}
}

// router builds the Gin engine for the introspection API.
func (s *Server) router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	if env.IsDev() {
		r.Use(cors.New(cors.Config{
			AllowOrigins: []string{"http://localhost:5173"},
			AllowMethods: []string{"GET"},
			AllowHeaders: []string{"X-Request-ID"},
			MaxAge:       12 * time.Hour,
		}))
	}

	r.Use(middleware.RequestID())
	r.Use(s.accessLog())

	r.GET("/healthz", s.handleHealthz)
	r.GET("/procs", s.handleProcs)
	r.GET("/runqueue", s.handleRunqueue)
	r.GET("/disposequeue", s.handleDisposeQueue)
	r.GET("/waitqueue/:slot/:generation", s.handleWaitQueue)

	return r
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"initialized": s.sched.IsInitialized(),
	})
}

func (s *Server) handleProcs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"processes": s.snapshot().Processes})
}

func (s *Server) handleRunqueue(c *gin.Context) {
	c.JSON(http.StatusOK, s.snapshot().Ring)
}

func (s *Server) handleDisposeQueue(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"dispose_queue": s.snapshot().DisposeQueue})
}

func (s *Server) handleWaitQueue(c *gin.Context) {
	slot, err := strconv.ParseUint(c.Param("slot"), 10, 16)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid slot"})
		return
	}
	gen, err := strconv.ParseUint(c.Param("generation"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid generation"})
		return
	}
	want := sched.ProcessHandle{Slot: uint16(slot), Generation: gen}

	for _, p := range s.snapshot().Processes {
		if p.Pid == want {
			c.JSON(http.StatusOK, gin.H{"wait_queue": p.WaitQueue})
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"message": "no such process"})
}

// Run starts serving the introspection API on addr. It blocks until the
// server stops; Shutdown (or a Run-internal error) is how it returns.
func (s *Server) Run(addr string) error {
	s.httpSrv = &http.Server{
		Addr:    addr,
		Handler: s.router(),
	}
	s.log.Info("debugserver listening", zap.String("addr", addr))
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops a running server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
