package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"card-market-tracker/src/interfaces"
	"card-market-tracker/src/logger"
	"card-market-tracker/src/models"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// -----------------------------------------------------------------------------
// MetricsServer
// -----------------------------------------------------------------------------

// MetricsServer is the read-only HTTP surface plus the websocket push of each
// published metrics set. It holds no business logic.
type MetricsServer struct {
	Config *models.MConfig
	Logger *logger.Logger
	Sink   interfaces.IDatabase
	Runs   interfaces.IRunReporter

	engine     *gin.Engine
	httpServer *http.Server

	// WebSocket clients
	clients    map[*Client]struct{}
	broadcast  chan *models.MLatestData
	register   chan *Client
	unregister chan *Client
	resync     chan *Client
	done       chan struct{}
	hubOnce    sync.Once
	stopOnce   sync.Once

	// Local cache of the last published set
	latestState *models.MLatestData
	stateMutex  sync.RWMutex
	connections int
}

// -----------------------------------------------------------------------------
// Constructor
// -----------------------------------------------------------------------------

func NewMetricsServer(cfg *models.MConfig, sink interfaces.IDatabase, runs interfaces.IRunReporter, log *logger.Logger) *MetricsServer {
	if cfg.LogLevel != "DEBUG" {
		gin.SetMode(gin.ReleaseMode)
	}
	if log == nil {
		log = logger.NewNopLogger()
	}

	s := &MetricsServer{
		Config:     cfg,
		Logger:     log,
		Sink:       sink,
		Runs:       runs,
		engine:     gin.New(),
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan *models.MLatestData, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		resync:     make(chan *Client),
		done:       make(chan struct{}),
		latestState: &models.MLatestData{
			Type:    "INITIAL",
			Records: make(map[string]models.MUnifiedMetrics),
		},
	}

	s.engine.Use(gin.Recovery())
	s.engine.Use(cors.New(cors.Config{
		AllowOriginFunc: localOrigin,
		AllowMethods:    []string{http.MethodGet, http.MethodOptions},
		AllowHeaders:    []string{"Content-Type", "Accept", "Origin", "Cache-Control"},
		MaxAge:          12 * time.Hour,
	}))

	s.setupRoutes()
	return s
}

// -----------------------------------------------------------------------------

// localOrigin admits dashboards served from this machine only.
func localOrigin(origin string) bool {
	return strings.HasPrefix(origin, "http://127.0.0.1:") || strings.HasPrefix(origin, "http://localhost:")
}

// -----------------------------------------------------------------------------
// Route Setup
// -----------------------------------------------------------------------------

func (s *MetricsServer) setupRoutes() {
	api := s.engine.Group("/api")
	api.GET("/health", s.getHealth)
	api.GET("/metrics/latest", s.getLatestMetrics)
	api.GET("/metrics/:date", s.getMetricsByDate)
	api.GET("/runs/latest", s.getLatestRun)

	s.engine.GET("/ws", s.handleWebSocket)
}

// -----------------------------------------------------------------------------

// Handler exposes the router, mainly for tests.
func (s *MetricsServer) Handler() http.Handler {
	return s.engine
}

// -----------------------------------------------------------------------------
// Server Lifecycle
// -----------------------------------------------------------------------------

// Start serves until Stop is called.
func (s *MetricsServer) Start() error {
	addr := fmt.Sprintf("%s:%d", s.Config.Host, s.Config.Port)
	s.Logger.Info("Starting server on %s", addr)

	s.startHub()
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// -----------------------------------------------------------------------------

func (s *MetricsServer) startHub() {
	s.hubOnce.Do(func() { go s.handleWebsockets() })
}

// -----------------------------------------------------------------------------

func (s *MetricsServer) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		close(s.done)
		if s.httpServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			err = s.httpServer.Shutdown(ctx)
		}
	})
	return err
}

// -----------------------------------------------------------------------------
// Route Handlers
// -----------------------------------------------------------------------------

func (s *MetricsServer) getHealth(c *gin.Context) {
	s.stateMutex.RLock()
	connections := s.connections
	date := s.latestState.Date
	timestamp := s.latestState.Timestamp
	s.stateMutex.RUnlock()

	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"connections":   connections,
		"latest_date":   date,
		"latest_update": timestamp,
	})
}

// -----------------------------------------------------------------------------

// getLatestMetrics serves the cached set, falling back to the sink's most recent day.
func (s *MetricsServer) getLatestMetrics(c *gin.Context) {
	s.stateMutex.RLock()
	date := s.latestState.Date
	records := sortedRecords(s.latestState.Records)
	s.stateMutex.RUnlock()

	if date == "" {
		latest, err := s.Sink.LatestMetricsDate()
		if err != nil {
			s.Logger.Error("Failed to read latest metrics date: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "metrics store unavailable"})
			return
		}
		if latest == "" {
			c.JSON(http.StatusNotFound, gin.H{"error": "no metrics published yet"})
			return
		}
		date = latest
		records, err = s.Sink.LoadUnifiedMetrics(latest)
		if err != nil {
			s.Logger.Error("Failed to load metrics for %s: %v", latest, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "metrics store unavailable"})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"date":    date,
		"records": filterRecords(records, parseEntities(c.Query("entities"))),
	})
}

// -----------------------------------------------------------------------------

func (s *MetricsServer) getMetricsByDate(c *gin.Context) {
	date := c.Param("date")
	if !validDate(date) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
		return
	}

	records, err := s.Sink.LoadUnifiedMetrics(date)
	if err != nil {
		s.Logger.Error("Failed to load metrics for %s: %v", date, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "metrics store unavailable"})
		return
	}
	if len(records) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no metrics for " + date})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"date":    date,
		"records": filterRecords(records, parseEntities(c.Query("entities"))),
	})
}

// -----------------------------------------------------------------------------

func (s *MetricsServer) getLatestRun(c *gin.Context) {
	if s.Runs == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no run recorded"})
		return
	}
	run, err := s.Runs.LastRun()
	if err != nil {
		s.Logger.Error("Failed to read run status: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "run status unavailable"})
		return
	}
	if run == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no run recorded"})
		return
	}
	c.JSON(http.StatusOK, run)
}
