package web

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"doorcal/internal/config"
	"doorcal/internal/ics"
	appLog "doorcal/internal/log"
	"doorcal/internal/model"
	"doorcal/internal/syncer"
)

const planCacheTTL = 30 * time.Second

// Service is the sync engine as seen by the status API.
type Service interface {
	Plan(ctx context.Context) (*syncer.Plan, error)
	Run(ctx context.Context, opts syncer.Options) (*syncer.Report, error)
	LastReport() *syncer.Report
}

// Server exposes sync status and on-demand runs over HTTP.
type Server struct {
	cfg    *config.Config
	svc    Service
	dryRun bool
	engine *gin.Engine
	now    func() time.Time

	// In-memory cache for plan responses; computing a plan downloads both
	// calendars.
	planMu    sync.RWMutex
	planCache *planCache
}

type planCache struct {
	plan      *syncer.Plan
	updatedAt time.Time
}

// NewServer constructs a new Server. dryRun applies to runs triggered
// through POST /api/sync.
func NewServer(cfg *config.Config, svc Service, dryRun bool) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		cfg:    cfg,
		svc:    svc,
		dryRun: dryRun,
		engine: gin.New(),
		now:    time.Now,
	}
	s.engine.Use(gin.Recovery(), requestLogger())
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves on cfg.Daemon.Listen until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Daemon.Listen,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Daemon.Listen, "basic_auth", s.basicAuthEnabled())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "http server")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "http shutdown")
	}
	appLog.Info("HTTP server stopped")
	return nil
}

func (s *Server) registerRoutes() {
	s.engine.GET("/health", s.handleHealth)

	api := s.engine.Group("/api")
	if s.basicAuthEnabled() {
		api.Use(s.basicAuth())
	}
	api.GET("/status", s.handleStatus)
	api.GET("/plan", s.handlePlan)
	api.GET("/timeline", s.handleTimeline)
	api.GET("/timeline.ics", s.handleTimelineICS)
	api.POST("/sync", s.handleSync)
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.Daemon.BasicAuth == nil {
		return false
	}
	return s.cfg.Daemon.BasicAuth.Username != "" && s.cfg.Daemon.BasicAuth.Password != ""
}

// basicAuth guards every /api route; /health stays open.
func (s *Server) basicAuth() gin.HandlerFunc {
	username := s.cfg.Daemon.BasicAuth.Username
	password := s.cfg.Daemon.BasicAuth.Password

	return func(c *gin.Context) {
		u, p, ok := c.Request.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			c.Header("WWW-Authenticate", `Basic realm="doorcal", charset="UTF-8"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		appLog.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}

// handleStatus returns the last finished run. 204 before the first run.
func (s *Server) handleStatus(c *gin.Context) {
	rep := s.svc.LastReport()
	if rep == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, rep)
}

func (s *Server) handlePlan(c *gin.Context) {
	plan, ok := s.plan(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"computed_at": plan.ComputedAt,
		"window":      plan.Window,
		"to_add":      plan.Changes.ToAdd,
		"to_delete":   plan.Changes.ToDelete,
		"warnings":    plan.Warnings,
	})
}

// handleTimeline returns the desired timeline.
//
// GET /api/timeline?door=Front
//   - door: restrict to one door name; 404 when unknown.
func (s *Server) handleTimeline(c *gin.Context) {
	plan, ok := s.plan(c)
	if !ok {
		return
	}

	timelines, ok := s.selectDoor(c, plan)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"computed_at": plan.ComputedAt,
		"window":      plan.Window,
		"doors":       timelines,
	})
}

// handleTimelineICS serves the desired timeline as an iCalendar feed.
func (s *Server) handleTimelineICS(c *gin.Context) {
	plan, ok := s.plan(c)
	if !ok {
		return
	}
	timelines, ok := s.selectDoor(c, plan)
	if !ok {
		return
	}

	c.Header("Content-Type", "text/calendar; charset=utf-8")
	c.Status(http.StatusOK)
	if err := ics.Export(c.Writer, ics.Flatten(timelines), plan.ComputedAt); err != nil {
		appLog.Error("failed to write ics response", err)
	}
}

// handleSync runs a sync now and returns its report.
//
// POST /api/sync?dry_run=true
func (s *Server) handleSync(c *gin.Context) {
	dryRun := s.dryRun
	if v := c.Query("dry_run"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "dry_run must be a boolean"})
			return
		}
		dryRun = dryRun || b
	}

	rep, err := s.svc.Run(c.Request.Context(), syncer.Options{DryRun: dryRun})
	if errors.Is(err, syncer.ErrLocked) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	s.invalidatePlan()
	if err != nil {
		appLog.Error("api sync failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "report": rep})
		return
	}
	c.JSON(http.StatusOK, rep)
}

// plan returns a cached plan or computes a fresh one. On failure it writes
// the error response and returns false.
func (s *Server) plan(c *gin.Context) (*syncer.Plan, bool) {
	now := s.now()

	s.planMu.RLock()
	pc := s.planCache
	s.planMu.RUnlock()
	if pc != nil && now.Sub(pc.updatedAt) < planCacheTTL {
		return pc.plan, true
	}

	plan, err := s.svc.Plan(c.Request.Context())
	if err != nil {
		appLog.Error("api plan failed", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return nil, false
	}

	s.planMu.Lock()
	s.planCache = &planCache{plan: plan, updatedAt: now}
	s.planMu.Unlock()
	return plan, true
}

func (s *Server) invalidatePlan() {
	s.planMu.Lock()
	s.planCache = nil
	s.planMu.Unlock()
}

func (s *Server) selectDoor(c *gin.Context, plan *syncer.Plan) (map[string][]model.Interval, bool) {
	door := c.Query("door")
	if door == "" {
		return plan.Desired, true
	}
	ivs, ok := plan.Desired[door]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown door"})
		return nil, false
	}
	return map[string][]model.Interval{door: ivs}, true
}
