package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"host-sentinel/internal/alerting"
	"host-sentinel/internal/anomaly"
	"host-sentinel/internal/forecast"
	"host-sentinel/internal/metrics"
	"host-sentinel/internal/pipeline"
)

// Source is the published pipeline state served over HTTP.
type Source interface {
	Status() pipeline.Status
	Stage() pipeline.Stage
	LatestSample() (metrics.Sample, bool)
	History(m metrics.Metric) []float64
	Timestamps() []time.Time
	AlertEvents() []alerting.Event
	Thresholds() alerting.Thresholds
	SetThresholds(t alerting.Thresholds) error
	Forecast(m metrics.Metric) forecast.Result
	AnomalyVerdict() (anomaly.Verdict, bool)
	RecentAnomalies() []anomaly.Verdict
	ModelState() anomaly.ModelState
	SetInterval(d time.Duration) time.Duration
}

// Options configure the server.
type Options struct {
	Listen         string
	StreamInterval time.Duration
}

// Server exposes pipeline state to observers.
type Server struct {
	opts   Options
	source Source
	engine *gin.Engine
	done   chan struct{}
	logger zerolog.Logger
}

// New builds the router. Call Run to serve.
func New(opts Options, source Source, logger zerolog.Logger) *Server {
	if opts.StreamInterval <= 0 {
		opts.StreamInterval = time.Second
	}
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		opts:   opts,
		source: source,
		engine: gin.New(),
		done:   make(chan struct{}),
		logger: logger.With().Str("component", "api").Logger(),
	}
	s.engine.Use(gin.Recovery(), s.accessLog())
	s.routes()
	return s
}

// Handler exposes the router for embedding and tests.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "stage": s.source.Stage()})
	})

	v1 := s.engine.Group("/api/v1")
	{
		v1.GET("/status", s.getStatus)
		v1.GET("/latest", s.getLatest)
		v1.GET("/history/:metric", s.getHistory)
		v1.GET("/alerts", s.getAlerts)
		v1.GET("/thresholds", s.getThresholds)
		v1.PUT("/thresholds", s.putThresholds)
		v1.GET("/forecast/:metric", s.getForecast)
		v1.GET("/anomaly", s.getAnomaly)
		v1.GET("/anomalies", s.getAnomalies)
		v1.GET("/model", s.getModel)
		v1.PUT("/interval", s.putInterval)
		v1.GET("/stream", s.stream)
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Listen,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("listen", s.opts.Listen).Msg("api listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		close(s.done)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	close(s.done)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info().Msg("api stopped")
	return nil
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(started)).
			Msg("request")
	}
}

func metricParam(c *gin.Context) (metrics.Metric, bool) {
	m, err := metrics.Parse(c.Param("metric"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return "", false
	}
	return m, true
}

func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.source.Status())
}

func (s *Server) getLatest(c *gin.Context) {
	sample, ok := s.source.LatestSample()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no samples yet"})
		return
	}
	c.JSON(http.StatusOK, sample)
}

type historyResponse struct {
	Metric     metrics.Metric `json:"metric"`
	Values     []float64      `json:"values"`
	Timestamps []time.Time    `json:"timestamps"`
}

func (s *Server) getHistory(c *gin.Context) {
	m, ok := metricParam(c)
	if !ok {
		return
	}
	values := s.source.History(m)
	stamps := s.source.Timestamps()
	n := min(len(values), len(stamps))
	values, stamps = values[len(values)-n:], stamps[len(stamps)-n:]

	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		if limit < n {
			values, stamps = values[n-limit:], stamps[n-limit:]
		}
	}
	c.JSON(http.StatusOK, historyResponse{Metric: m, Values: values, Timestamps: stamps})
}

func (s *Server) getAlerts(c *gin.Context) {
	c.JSON(http.StatusOK, s.source.AlertEvents())
}

func (s *Server) getThresholds(c *gin.Context) {
	c.JSON(http.StatusOK, s.source.Thresholds())
}

// putThresholds applies a full or partial update; omitted fields keep
// their current value.
func (s *Server) putThresholds(c *gin.Context) {
	t := s.source.Thresholds()
	if err := c.ShouldBindJSON(&t); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.source.SetThresholds(t); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, alerting.ErrValidation) {
			status = http.StatusUnprocessableEntity
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.source.Thresholds())
}

func (s *Server) getForecast(c *gin.Context) {
	m, ok := metricParam(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.source.Forecast(m))
}

type anomalyResponse struct {
	Trained bool             `json:"trained"`
	Verdict *anomaly.Verdict `json:"verdict,omitempty"`
}

func (s *Server) getAnomaly(c *gin.Context) {
	v, ok := s.source.AnomalyVerdict()
	if !ok {
		c.JSON(http.StatusOK, anomalyResponse{})
		return
	}
	c.JSON(http.StatusOK, anomalyResponse{Trained: true, Verdict: &v})
}

func (s *Server) getAnomalies(c *gin.Context) {
	c.JSON(http.StatusOK, s.source.RecentAnomalies())
}

func (s *Server) getModel(c *gin.Context) {
	c.JSON(http.StatusOK, s.source.ModelState())
}

type intervalRequest struct {
	Interval string `json:"interval" binding:"required"`
}

func (s *Server) putInterval(c *gin.Context) {
	var req intervalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	d, err := time.ParseDuration(req.Interval)
	if err != nil || d <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "interval must be a positive duration such as 2s"})
		return
	}
	applied := s.source.SetInterval(d)
	c.JSON(http.StatusOK, gin.H{"interval": applied.String()})
}
