// Package main provides the experimentation service:
// - Assignment (per request): fingerprint → segment → variant → treatment
// - Tracking (per request): conversions, custom metrics
// - Schedulers (background): registry snapshots, significance sweeps
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"abtest-engine/internal/analytics"
	"abtest-engine/internal/dispatch"
	"abtest-engine/internal/domain"
	"abtest-engine/internal/engine"
	"abtest-engine/internal/idhash"
	"abtest-engine/internal/keyvalue"
	filestore "abtest-engine/internal/keyvalue/file"
	"abtest-engine/internal/keyvalue/memory"
	pgstore "abtest-engine/internal/keyvalue/postgres"
	"abtest-engine/internal/observability"
	"abtest-engine/internal/reporting"
	"abtest-engine/internal/stats"
)

// Server wraps the engine with an HTTP surface.
type Server struct {
	eng     *engine.Engine
	logger  *log.Logger
	started time.Time
}

func main() {
	// Load .env file if exists
	loadEnvFile()

	// Parse flags (env vars as defaults)
	listenAddr := flag.String("listen-addr", envOr("LISTEN_ADDR", ":8080"), "HTTP listen address")
	storeKind := flag.String("store", envOr("STORE", "memory"), "Storage backend: memory, file or postgres")
	storeDir := flag.String("store-dir", envOr("STORE_DIR", "data"), "Directory for the file backend")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	slot := flag.String("slot", os.Getenv("REGISTRY_SLOT"), "Storage slot for the registry document")
	experimentsFile := flag.String("experiments", os.Getenv("EXPERIMENTS_FILE"), "JSON file with experiment definitions")
	analyticsHTTP := flag.String("analytics-http", os.Getenv("ANALYTICS_HTTP"), "HTTP analytics collector endpoint")
	analyticsWS := flag.String("analytics-ws", os.Getenv("ANALYTICS_WS"), "WebSocket analytics collector endpoint")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse DSN for event archival")
	snapshotInterval := flag.Duration("snapshot-interval", 30*time.Second, "Registry snapshot interval")
	significanceInterval := flag.Duration("significance-interval", 1*time.Minute, "Significance sweep interval")
	minSampleSize := flag.Int("min-sample-size", 100, "Participants per variant before a verdict")
	confidence := flag.Float64("confidence", 0.95, "Confidence level: 0.90, 0.95 or 0.99")

	flag.Parse()

	// Setup logger
	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lshortfile)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Create store
	store, cleanup, err := createStore(ctx, *storeKind, *storeDir, *postgresDSN)
	if err != nil {
		logger.Fatalf("Failed to create store: %v", err)
	}
	defer cleanup()

	// Create analytics sink
	sink, err := createSink(ctx, *analyticsHTTP, *analyticsWS, *clickhouseDSN)
	if err != nil {
		logger.Fatalf("Failed to create analytics sink: %v", err)
	}

	// Create engine
	eng := engine.New(engine.Options{
		Store:    store,
		Slot:     *slot,
		Renderer: dispatch.NopRenderer{},
		Sink:     sink,
		StatsConfig: stats.Config{
			MinSampleSize:   *minSampleSize,
			ConfidenceLevel: *confidence,
		},
		Logger: logger,
	})
	defer eng.Close()

	if err := eng.Load(ctx); err != nil {
		logger.Fatalf("Failed to load state: %v", err)
	}
	logger.Printf("Loaded %d experiments", len(eng.Experiments()))

	// Register experiments from config file
	if *experimentsFile != "" {
		n, err := loadExperiments(ctx, eng, *experimentsFile)
		if err != nil {
			logger.Fatalf("Failed to load experiments from %s: %v", *experimentsFile, err)
		}
		logger.Printf("Registered %d experiments from %s", n, *experimentsFile)
	}

	server := &Server{
		eng:     eng,
		logger:  logger,
		started: time.Now(),
	}

	// Background schedulers
	go eng.RunSchedulers(ctx, *snapshotInterval, *significanceInterval)

	httpServer := &http.Server{
		Addr:    *listenAddr,
		Handler: server.routes(),
	}

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, shutting down...", sig)
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Printf("HTTP shutdown error: %v", err)
		}
	}()

	logger.Printf("Listening on %s", *listenAddr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("HTTP server error: %v", err)
	}

	logger.Println("Shutdown complete")
}

// createStore creates the registry's key-value backend.
func createStore(ctx context.Context, kind, dir, postgresDSN string) (keyvalue.Store, func(), error) {
	switch kind {
	case "memory":
		return memory.NewStore(), func() {}, nil

	case "file":
		store, err := filestore.NewStore(dir)
		if err != nil {
			return nil, nil, fmt.Errorf("open file store: %w", err)
		}
		return store, func() {}, nil

	case "postgres":
		if postgresDSN == "" {
			return nil, nil, fmt.Errorf("--postgres-dsn is required for the postgres backend")
		}
		pool, err := pgstore.NewPool(ctx, postgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		store := pgstore.NewStore(pool)
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("migrate postgres store: %w", err)
		}
		return store, pool.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", kind)
	}
}

// createSink composes the configured analytics sinks.
func createSink(ctx context.Context, httpEndpoint, wsEndpoint, clickhouseDSN string) (analytics.Sink, error) {
	var sinks []analytics.Sink

	if httpEndpoint != "" {
		sinks = append(sinks, analytics.NewHTTPSink(analytics.DefaultHTTPSinkConfig(httpEndpoint)))
	}
	if wsEndpoint != "" {
		ws, err := analytics.NewWSSink(ctx, analytics.DefaultWSSinkConfig(wsEndpoint))
		if err != nil {
			return nil, fmt.Errorf("connect websocket sink: %w", err)
		}
		sinks = append(sinks, ws)
	}
	if clickhouseDSN != "" {
		conn, err := analytics.NewConn(ctx, clickhouseDSN)
		if err != nil {
			return nil, fmt.Errorf("connect clickhouse sink: %w", err)
		}
		ch := analytics.NewCHSink(conn)
		if err := ch.Migrate(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("migrate clickhouse sink: %w", err)
		}
		sinks = append(sinks, ch)
	}

	switch len(sinks) {
	case 0:
		return analytics.NopSink{}, nil
	case 1:
		return sinks[0], nil
	default:
		return analytics.NewMultiSink(sinks...), nil
	}
}

// loadExperiments registers experiment definitions from a JSON file.
func loadExperiments(ctx context.Context, eng *engine.Engine, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	var experiments []*domain.Experiment
	if err := json.Unmarshal(data, &experiments); err != nil {
		return 0, fmt.Errorf("decode experiments: %w", err)
	}

	for _, e := range experiments {
		// Skip definitions already restored from the registry document,
		// their accumulated metrics must survive restarts.
		if _, err := eng.Experiment(e.ID); err == nil {
			continue
		}
		if err := eng.AddExperiment(ctx, e); err != nil {
			return 0, fmt.Errorf("register experiment %s: %w", e.ID, err)
		}
	}
	return len(experiments), nil
}

// routes builds the HTTP mux.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Prometheus metrics
	mux.Handle("GET /metrics", observability.Handler())

	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /report", s.handleReport)

	mux.HandleFunc("POST /api/visit", s.handleVisit)
	mux.HandleFunc("POST /api/convert", s.handleConvert)
	mux.HandleFunc("POST /api/metric", s.handleMetric)
	mux.HandleFunc("POST /api/force", s.handleForce)
	mux.HandleFunc("POST /api/stop", s.handleStop)
	mux.HandleFunc("POST /api/session/reset", s.handleSessionReset)

	mux.HandleFunc("GET /api/experiments", s.handleExperiments)
	mux.HandleFunc("GET /api/experiments/{id}", s.handleExperiment)
	mux.HandleFunc("GET /api/results", s.handleAllResults)
	mux.HandleFunc("GET /api/results/{id}", s.handleResults)
	mux.HandleFunc("GET /api/assignments", s.handleAssignments)

	return mux
}

// StatusResponse is the JSON response for /status endpoint.
type StatusResponse struct {
	Status      string `json:"status"`
	Uptime      string `json:"uptime"`
	Experiments int    `json:"experiments"`
	Assignments int    `json:"assignments"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		Status:      "running",
		Uptime:      time.Since(s.started).String(),
		Experiments: len(s.eng.Experiments()),
		Assignments: len(s.eng.Assignments()),
	})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	report := s.eng.GenerateReport()
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Write([]byte(reporting.RenderMarkdown(report)))
}

// VisitRequest carries the browser signals of a page view.
type VisitRequest struct {
	Agent        string `json:"agent"`
	ScreenWidth  int    `json:"screen_width"`
	ScreenHeight int    `json:"screen_height"`
	Timezone     string `json:"timezone"`
	Language     string `json:"language"`
	Referrer     string `json:"referrer"`
	IsReturning  bool   `json:"is_returning"`
}

func (s *Server) handleVisit(w http.ResponseWriter, r *http.Request) {
	var req VisitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result := s.eng.Visit(r.Context(), idhash.Signals{
		Agent:        req.Agent,
		ScreenWidth:  req.ScreenWidth,
		ScreenHeight: req.ScreenHeight,
		Timezone:     req.Timezone,
		Language:     req.Language,
		Referrer:     req.Referrer,
		CapturedAt:   time.Now().UnixMilli(),
	}, req.IsReturning)

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Metric string `json:"metric"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Metric == "" {
		http.Error(w, "metric is required", http.StatusBadRequest)
		return
	}
	s.eng.RecordConversion(r.Context(), req.Metric)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleMetric(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Metric string  `json:"metric"`
		Value  float64 `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Metric == "" {
		http.Error(w, "metric is required", http.StatusBadRequest)
		return
	}
	s.eng.RecordCustomMetric(r.Context(), req.Metric, req.Value)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleForce(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Experiment string `json:"experiment"`
		Variant    string `json:"variant"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Experiment == "" || req.Variant == "" {
		http.Error(w, "experiment and variant are required", http.StatusBadRequest)
		return
	}
	if err := s.eng.ForceVariant(r.Context(), req.Experiment, req.Variant); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Experiment string `json:"experiment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Experiment == "" {
		http.Error(w, "experiment is required", http.StatusBadRequest)
		return
	}
	if err := s.eng.StopExperiment(r.Context(), req.Experiment); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleSessionReset(w http.ResponseWriter, r *http.Request) {
	s.eng.NewSession()
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleExperiments(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.eng.Experiments())
}

func (s *Server) handleExperiment(w http.ResponseWriter, r *http.Request) {
	exp, err := s.eng.Experiment(r.PathValue("id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, exp)
}

func (s *Server) handleAllResults(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.eng.AllResults())
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	results, err := s.eng.Results(r.PathValue("id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleAssignments(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.eng.Assignments())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// loadEnvFile loads environment variables from .env file if it exists.
func loadEnvFile() {
	data, err := os.ReadFile(".env")
	if err != nil {
		return // File doesn't exist, use system env vars
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Don't override existing env vars
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
