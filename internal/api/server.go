package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"imo-relay/internal/imo"
	"imo-relay/internal/metrics"
	"imo-relay/internal/mqtt"
	"imo-relay/internal/storage"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
	// FC01 answers at most 2000 coils per request.
	maxCoilCount = 2000
)

// Controller is the part of the collector the HTTP API drives.
type Controller interface {
	GetLatestData() *imo.Snapshot
	IsCollecting() bool
	Command(id string, on bool) error
	WriteCoil(addr uint16, state bool) error
	ReadCoils(addr, count uint16) ([]bool, error)
}

type HistoryStore interface {
	History(entityID string, limit int) ([]storage.StateChange, error)
}

type Server struct {
	router     *gin.Engine
	server     *http.Server
	controller Controller
	db         HistoryStore
	metrics    *metrics.Metrics
	port       int
	logger     *zap.Logger
}

type ServerConfig struct {
	Port       int
	Controller Controller
	// Database may be nil when persistence is disabled.
	Database HistoryStore
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))

	s := &Server{
		router:     router,
		controller: cfg.Controller,
		db:         cfg.Database,
		metrics:    cfg.Metrics,
		port:       cfg.Port,
		logger:     logger,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	api := s.router.Group("/api/v1")
	{
		api.GET("/entities", s.entitiesHandler)
		api.GET("/entities/:id", s.entityHandler)
		api.POST("/entities/:id/on", s.commandHandler(true))
		api.POST("/entities/:id/off", s.commandHandler(false))
		api.POST("/services/write_coil", s.writeCoilHandler)
		api.GET("/registers/coils", s.readCoilsHandler)
		api.GET("/history", s.historyHandler)
	}
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("api server starting", zap.Int("port", s.port))
	return s.server.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)))
	}
}

func (s *Server) healthHandler(c *gin.Context) {
	deviceOnline := false
	if data := s.controller.GetLatestData(); data != nil {
		deviceOnline = data.Online
	}

	c.JSON(http.StatusOK, gin.H{
		"status":        "healthy",
		"device_online": deviceOnline,
		"collecting":    s.controller.IsCollecting(),
		"timestamp":     time.Now(),
	})
}

func (s *Server) entitiesHandler(c *gin.Context) {
	data := s.controller.GetLatestData()
	if data == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "No data available yet"})
		return
	}
	c.JSON(http.StatusOK, data)
}

func (s *Server) entityHandler(c *gin.Context) {
	data := s.controller.GetLatestData()
	if data == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "No data available yet"})
		return
	}
	e, ok := data.Find(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown entity"})
		return
	}
	c.JSON(http.StatusOK, e)
}

func (s *Server) commandHandler(on bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if err := s.controller.Command(id, on); err != nil {
			if errors.Is(err, imo.ErrUnknownEntity) {
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}

		resp := gin.H{"id": id, "requested": on}
		if e, ok := s.controller.GetLatestData().Find(id); ok {
			resp["state"] = e.State
		}
		c.JSON(http.StatusOK, resp)
	}
}

func (s *Server) writeCoilHandler(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req, err := mqtt.ParseWriteCoil(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.controller.WriteCoil(req.Address, req.State); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"address": fmt.Sprintf("0x%04X", req.Address),
		"state":   req.State,
	})
}

func (s *Server) readCoilsHandler(c *gin.Context) {
	addr, err := strconv.ParseUint(c.Query("address"), 0, 16)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'address'"})
		return
	}
	count, err := strconv.ParseUint(c.DefaultQuery("count", "16"), 0, 16)
	if err != nil || count == 0 || count > maxCoilCount {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'count'"})
		return
	}

	bits, err := s.controller.ReadCoils(uint16(addr), uint16(count))
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	coils := make(map[string]bool, len(bits))
	for i, b := range bits {
		coils[fmt.Sprintf("0x%04X", addr+uint64(i))] = b
	}
	c.JSON(http.StatusOK, gin.H{
		"address": fmt.Sprintf("0x%04X", addr),
		"count":   len(bits),
		"coils":   coils,
	})
}

func (s *Server) historyHandler(c *gin.Context) {
	if s.db == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Database disabled"})
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultHistoryLimit)))
	if err != nil || limit <= 0 || limit > maxHistoryLimit {
		limit = defaultHistoryLimit
	}

	changes, err := s.db.History(c.Query("entity"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, changes)
}
