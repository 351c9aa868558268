// Package api exposes the registry over HTTP for the CLI and for local
// tooling.
package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"thermoboard-agent/internal/logger"
	"thermoboard-agent/internal/registry"
	"thermoboard-agent/internal/sensor"
	"thermoboard-agent/internal/settings"
	"thermoboard-agent/pkg/version"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Controller is what the API drives. *registry.Registry satisfies it; the
// agent wraps it to persist settings after changes.
type Controller interface {
	Scan(ctx context.Context) error
	MeasureAll(ctx context.Context) error
	ConnectSensor(name string) (bool, error)
	DisconnectSensor(name string) (bool, error)
	RenameSensor(oldName, newName string) bool
	Boards() []registry.BoardInfo
	Sensors(connectedOnly bool) []sensor.Info
	Rejections() []registry.Rejection
	ScanID() string
	ScannedAt() time.Time
}

// Server is the HTTP control API.
type Server struct {
	ctrl   Controller
	engine *gin.Engine
	server *http.Server
	log    zerolog.Logger

	mu      sync.Mutex
	running bool
}

func NewServer(ctrl Controller, listen string, log zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		ctrl:   ctrl,
		engine: gin.New(),
		log:    logger.Component(log, "api"),
	}
	// sensor names travel in the path; keep escaped slashes inside one segment
	s.engine.UseRawPath = true
	s.engine.UnescapePathValues = true
	s.engine.Use(gin.Recovery(), s.requestLogger())
	s.registerRoutes()

	s.server = &http.Server{
		Addr:              listen,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) registerRoutes() {
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/boards", s.handleBoards)
	s.engine.GET("/sensors", s.handleSensors)
	s.engine.GET("/rejections", s.handleRejections)
	s.engine.POST("/scan", s.handleScan)
	s.engine.POST("/measure", s.handleMeasure)

	sensors := s.engine.Group("/sensors/:name")
	{
		sensors.POST("/connect", s.handleConnect)
		sensors.POST("/disconnect", s.handleDisconnect)
		sensors.POST("/rename", s.handleRename)
	}
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.engine }

// Start serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	go func() {
		s.log.Info().Str("listen", s.server.Addr).Msg("api server listening")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("api server error")
		}
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()
	return nil
}

// Stop shuts the server down, waiting for in-flight requests until ctx ends.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("request")
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": version.Version,
		"boards":  len(s.ctrl.Boards()),
	})
}

func (s *Server) handleBoards(c *gin.Context) {
	boards := s.ctrl.Boards()
	c.JSON(http.StatusOK, BoardsResponse{
		Boards:    boards,
		Count:     len(boards),
		ScanID:    s.ctrl.ScanID(),
		ScannedAt: s.ctrl.ScannedAt(),
	})
}

func (s *Server) handleSensors(c *gin.Context) {
	sensors := s.ctrl.Sensors(c.Query("connected") == "true")
	c.JSON(http.StatusOK, SensorsResponse{Sensors: sensors, Count: len(sensors)})
}

func (s *Server) handleRejections(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rejections": s.ctrl.Rejections()})
}

func (s *Server) handleScan(c *gin.Context) {
	if err := s.ctrl.Scan(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	boards := s.ctrl.Boards()
	c.JSON(http.StatusOK, ScanResponse{
		Boards:     boards,
		Count:      len(boards),
		ScanID:     s.ctrl.ScanID(),
		ScannedAt:  s.ctrl.ScannedAt(),
		Rejections: s.ctrl.Rejections(),
	})
}

func (s *Server) handleMeasure(c *gin.Context) {
	resp := MeasureResponse{}
	if err := s.ctrl.MeasureAll(c.Request.Context()); err != nil {
		resp.Errors = splitErrors(err)
	}
	resp.Sensors = s.ctrl.Sensors(true)
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleConnect(c *gin.Context) {
	changed, err := s.ctrl.ConnectSensor(c.Param("name"))
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, ChangeResponse{Changed: changed})
}

func (s *Server) handleDisconnect(c *gin.Context) {
	changed, err := s.ctrl.DisconnectSensor(c.Param("name"))
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, ChangeResponse{Changed: changed})
}

func (s *Server) handleRename(c *gin.Context) {
	var req RenameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !settings.ValidName(req.Name) {
		c.JSON(http.StatusBadRequest, gin.H{"error": settings.ErrInvalidName.Error()})
		return
	}
	c.JSON(http.StatusOK, ChangeResponse{Changed: s.ctrl.RenameSensor(c.Param("name"), req.Name)})
}

func splitErrors(err error) []string {
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		var out []string
		for _, e := range joined.Unwrap() {
			out = append(out, e.Error())
		}
		return out
	}
	return []string{err.Error()}
}
