// Package main is the entry point for the solar-investment financial
// analysis service: it exposes equipment leaderboards, regional analyses
// and realtime market rates over HTTP.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/yourorg/solar-finance-core/internal/circuitbreaker"
	"github.com/yourorg/solar-finance-core/internal/config"
	"github.com/yourorg/solar-finance-core/internal/export"
	"github.com/yourorg/solar-finance-core/internal/fetch"
	"github.com/yourorg/solar-finance-core/internal/leaderboard"
	"github.com/yourorg/solar-finance-core/internal/logging"
	"github.com/yourorg/solar-finance-core/internal/model"
	"github.com/yourorg/solar-finance-core/internal/otel"
	"github.com/yourorg/solar-finance-core/internal/ratecache"
	"github.com/yourorg/solar-finance-core/internal/regional"
	"github.com/yourorg/solar-finance-core/internal/validation"
)

// startTime records when the service was initialized for uptime reporting
var startTime = time.Now()

// Server holds the wired application.
type Server struct {
	cfg    config.Config
	tables *config.Tables

	cache       *ratecache.Cache
	breaker     *circuitbreaker.CircuitBreaker
	boards      *leaderboard.Service
	regions     *regional.Analyzer
	exporter    *export.Exporter
	apiLimiter  *rate.Limiter
	metrics     *serverMetrics
	server      *http.Server
	stopStream  func()
}

// serverMetrics holds Prometheus metrics for the HTTP surface
type serverMetrics struct {
	requestCounter  *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// registerMetrics sets up Prometheus metrics collection
func registerMetrics() *serverMetrics {
	m := &serverMetrics{
		requestCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solarfin_requests_total",
				Help: "Total number of requests processed",
			},
			[]string{"endpoint", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solarfin_request_duration_seconds",
				Help:    "Request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
	}

	prometheus.MustRegister(m.requestCounter, m.requestDuration)
	return m
}

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logging.Setup(cfg.LogFile, cfg.LogMaxSizeMB)

	tables, err := config.LoadTables(cfg.TablesFile)
	if err != nil {
		logrus.Fatalf("Cannot load tables: %v", err)
	}

	shutdownTracer := otel.InitTracer(cfg.OtelEndpoint)
	defer shutdownTracer()

	server := NewServer(cfg, tables)
	server.Start()
}

// NewServer wires all components from configuration.
func NewServer(cfg config.Config, tables *config.Tables) *Server {
	breaker := circuitbreaker.New(circuitbreaker.Options{
		FailureThreshold: cfg.BreakerFailureThreshold,
		Cooldown:         cfg.BreakerCooldown,
		OnTrip: func(reason string) {
			logrus.Warnf("Rate authority circuit tripped: %s", reason)
		},
	})

	client := fetch.NewSGSClient(cfg.RateAuthorityURL, cfg.RequestTimeout)
	cache := ratecache.New(ratecache.Config{
		TTL:             cfg.CacheTTL,
		MaxStaleTime:    cfg.MaxStaleTime,
		MaxSize:         cfg.CacheMaxSize,
		UseStaleOnError: cfg.UseStaleOnError,
		MaxRequests:     cfg.MaxRequests,
		Window:          cfg.Window,
		Series:          tables.Series,
	}, client,
		ratecache.WithBreaker(breaker),
		ratecache.WithMetrics(ratecache.NewMetrics(prometheus.DefaultRegisterer)),
	)

	// Local stand-ins for the external tariff/irradiation collaborators;
	// production deployments swap these for real providers.
	tariffs := regional.NewStaticTariffProvider(nil,
		config.GetEnvAsFloat("TARIFF_NATIONAL_AVG_B1", 0.84))
	irradiation := &regional.StaticIrradiationProvider{
		Profile: model.IrradiationProfile{
			AnnualKwhPerKwp: config.GetEnvAsFloat("IRRADIATION_ANNUAL_KWH_PER_KWP", 1400),
		},
	}

	s := &Server{
		cfg:        cfg,
		tables:     tables,
		cache:      cache,
		breaker:    breaker,
		boards:     leaderboard.New(validation.DefaultValidationOptions()),
		regions:    regional.New(cache, tariffs, irradiation, tables),
		exporter:   export.New(export.Config{
			Enabled:        cfg.ExportEnabled,
			WebhookURL:     cfg.ExportURL,
			WebhookAPIKey:  cfg.ExportAPIKey,
			BatchSize:      cfg.ExportBatchSize,
			ExportInterval: cfg.ExportInterval,
		}),
		apiLimiter: rate.NewLimiter(rate.Limit(cfg.APIRequestsPerSecond), cfg.APIBurst),
		metrics:    registerMetrics(),
	}

	if config.GetEnvAsBool("STREAM_ENABLED", false) {
		s.stopStream = cache.ConnectStream(ratecache.StreamConfig{
			UpdateFrequency: config.GetEnvAsDuration("STREAM_UPDATE_FREQUENCY", 5*time.Minute),
		}, func(ev ratecache.StreamEvent) {
			if ev.Type == ratecache.EventConnectionStatus {
				logrus.Warnf("Snapshot poll failed: %s", ev.Error)
			}
		})
	}

	logrus.WithFields(logrus.Fields{
		"port":       cfg.Port,
		"cache_ttl":  cfg.CacheTTL,
		"max_stale":  cfg.MaxStaleTime,
		"personas":   len(tables.Personas),
		"scenarios":  len(tables.Scenarios),
		"modalities": len(tables.Series.Modalities),
	}).Info("Server initialized")

	return s
}

// Start begins the HTTP server and sets up graceful shutdown
func (s *Server) Start() {
	mux := http.NewServeMux()

	mux.HandleFunc("/leaderboard", s.withCommon("leaderboard", s.handleLeaderboard))
	mux.HandleFunc("/regional", s.withCommon("regional", s.handleRegional))
	mux.HandleFunc("/rates", s.withCommon("rates", s.handleRate))
	mux.HandleFunc("/rates/bulk", s.withCommon("rates_bulk", s.handleBulkRates))
	mux.HandleFunc("/snapshot", s.withCommon("snapshot", s.handleSnapshot))
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/circuit", s.handleCircuitStatus)
	mux.Handle("/metrics", promhttp.Handler())

	s.server = &http.Server{
		Addr:         ":" + s.cfg.Port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logrus.Infof("Server starting on port %s", s.cfg.Port)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("Error starting server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Server shutting down...")
	if s.stopStream != nil {
		s.stopStream()
	}
	s.exporter.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		logrus.Fatalf("Server shutdown failed: %v", err)
	}

	logrus.Info("Server stopped")
}

// withCommon applies inbound rate limiting and request metrics.
func (s *Server) withCommon(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		if !s.apiLimiter.Allow() {
			s.metrics.requestCounter.WithLabelValues(endpoint, "throttled").Inc()
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next(sw, r)

		s.metrics.requestCounter.WithLabelValues(endpoint, statusClass(sw.status)).Inc()
		s.metrics.requestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}
}

// statusWriter captures the response status for metrics.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "error"
	case status >= 400:
		return "client_error"
	default:
		return "success"
	}
}

// personaByID resolves a persona from the tables.
func (s *Server) personaByID(id string) (config.Persona, bool) {
	for _, p := range s.tables.Personas {
		if p.ID == id {
			return p, true
		}
	}
	return config.Persona{}, false
}
