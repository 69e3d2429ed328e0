package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yumyai/phamdb/internal/util"
	"github.com/yumyai/phamdb/logger"
	"github.com/yumyai/phamdb/pkg/config"
	"github.com/yumyai/phamdb/pkg/db"
	"github.com/yumyai/phamdb/pkg/external"
	"github.com/yumyai/phamdb/pkg/handler"
	"github.com/yumyai/phamdb/pkg/metrics"
	"github.com/yumyai/phamdb/pkg/middle"
	"github.com/yumyai/phamdb/pkg/orchestrator"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {

	// Establish logger
	VERSION := "0.1.0"
	LOG_LEVEL := zapcore.InfoLevel

	if err := logger.InitLogger(LOG_LEVEL); err != nil {
		panic(err)
	}

	// Try load env
	dotenvErr := godotenv.Load()

	if dotenvErr != nil {
		logger.Warn("No .env found, using local environment")
	}

	defer logger.Sync() // Make sure that the buffered is flushed.

	phamdbData := os.Getenv("PHAMDB_DATA")
	if phamdbData == "" {
		logger.Warn("No local environment (PHAMDB_DATA), using default value (./data)")
		phamdbData = "./data"
	}
	if !util.DirExists(phamdbData) {
		if err := os.MkdirAll(phamdbData, 0755); err != nil {
			logger.Fatal("Cannot create data directory", zap.Error(err))
		}
	}

	cfg := config.Default()
	if cfgPath := os.Getenv("PHAMDB_CONFIG"); cfgPath != "" {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			logger.Fatal("Cannot load config", zap.String("path", cfgPath), zap.Error(err))
		}
	}

	dbPath := path.Join(phamdbData, "phamdb.db")
	store, err := db.Open(dbPath)
	if err != nil {
		logger.Fatal("Cannot open database", zap.String("path", dbPath), zap.Error(err))
	}
	defer store.Close()

	scorer := &external.ExecScorer{WorkDir: path.Join(phamdbData, "work")}
	domains := &external.ExecDomainSearcher{CddDB: os.Getenv("PHAMDB_CDD_DB")}

	m := metrics.New()
	orch := orchestrator.New(store, cfg, scorer, domains, m)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := orch.Start(ctx); err != nil {
		logger.Fatal("Cannot recover job queue", zap.Error(err))
	}

	dbctx := &handler.DBContext{
		Store:    store,
		Jobs:     orch,
		Importer: &external.FlatImporter{},
		Uploads:  handler.NewUploadStore(),
	}

	logger.Info("Start:", zap.String("Version", VERSION))
	logger.Info("Open database on", zap.String("DB_LOC", dbPath))

	mux := NewRouter(dbctx)

	// Apply middleware
	wrapped := middle.Logging(middle.CreateMiddlewareLogger(zapcore.DebugLevel))(mux)

	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: wrapped,
	}

	go func() {
		logger.Info("Server starting", zap.String("addr", cfg.Server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Error starting server:", zap.String("error message", err.Error()))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown failed", zap.Error(err))
	}

	// Running pipelines finish their current job before the process
	// exits; queued jobs replay on the next start.
	orch.Stop()
}

// Move to router.go in the next iteration
func NewRouter(dbctx *handler.DBContext) *http.ServeMux {
	mux := http.NewServeMux()

	// Error route
	mux.HandleFunc("GET /favicon.ico", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Not Found", http.StatusNotFound)
	})

	// Collections
	mux.HandleFunc("POST /api/collections", dbctx.CreateCollection)
	mux.HandleFunc("GET /api/collections/{collection_id}", dbctx.CollectionSummary)
	mux.HandleFunc("GET /api/collections/{collection_id}/phams", dbctx.ListPhams)
	mux.HandleFunc("GET /api/collections/{collection_id}/history", dbctx.PhamHistory)

	// Uploads and jobs
	mux.HandleFunc("POST /api/uploads", dbctx.UploadGenome)
	mux.HandleFunc("POST /api/jobs", dbctx.SubmitJob)
	mux.HandleFunc("GET /api/jobs/{job_id}", dbctx.JobStatus)
	mux.HandleFunc("DELETE /api/jobs/{job_id}", dbctx.CancelJob)

	// Misc
	mux.HandleFunc("GET /api/v1/health", handler.HealthCheck)
	mux.Handle("GET /metrics", promhttp.Handler())

	return mux
}
