package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"

	"fleetlink/pkg/broker"
	"fleetlink/pkg/config"
	"fleetlink/pkg/edgelog"
	"fleetlink/pkg/ingest"
	"fleetlink/pkg/predictor"
	"fleetlink/pkg/registry"
	"fleetlink/pkg/storage/badger"
)

const version = "1.0.0"

// seedFleet mirrors the demo fleet the dashboard expects: a primary
// vehicle plus four extras. EnsureVehicle is idempotent, so seeding on
// every boot is safe.
var seedFleet = []struct {
	vin  string
	name string
}{
	{"5YJ3E1EA1KF000001", "Model 3 Long Range"},
	{"5YJ3E1EA2KF000002", "Model Y Performance"},
	{"5YJSA1E26MF000003", "Model S Plaid"},
	{"7SAYGDEE3MF000004", "Model X Long Range"},
	{"5YJ3E1EB9MF000005", "Model 3 Standard Range"},
}

func main() {
	root := &cobra.Command{
		Use:   "fleetlink",
		Short: "Vehicle telemetry ingestion server with adaptive predictive compression",
	}

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the ingestion server",
		Run: func(cmd *cobra.Command, args []string) {
			serve()
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("fleetlink", version)
		},
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serve() {
	log.Println("🚀 Starting FleetLink server...")

	cfg := config.Load()

	// Vehicle registry (SQLite)
	reg, err := registry.Open(filepath.Join(cfg.DataDir, cfg.RegistryPath))
	if err != nil {
		log.Fatalf("❌ Failed to open vehicle registry: %v", err)
	}
	defer reg.Close()
	for _, v := range seedFleet {
		if _, err := reg.EnsureVehicle(v.vin, v.name); err != nil {
			log.Printf("⚠️  Failed to seed vehicle %s: %v", v.vin, err)
		}
	}
	log.Printf("🗂  Vehicle registry ready (%d seed vehicles)", len(seedFleet))

	// Telemetry archive (BadgerDB)
	store, err := badger.New(badger.Config{
		Path:        filepath.Join(cfg.DataDir, "archive"),
		MaxMemoryMB: cfg.MaxMemoryMB,
	})
	if err != nil {
		log.Fatalf("❌ Failed to initialize telemetry archive: %v", err)
	}
	defer store.Close()
	log.Println("💾 Telemetry archive initialized")

	// In-memory history + WebSocket hub + ingestion router. The hub's
	// connect snapshot closes over the router, which in turn broadcasts
	// through the hub.
	history := ingest.NewHistory(config.HistoryCapacity)
	var router *ingest.Router
	hub := ingest.NewHub(func() ingest.ConnectState {
		return router.ConnectState()
	})
	router = ingest.NewRouter(predictor.DefaultConfig(), history, reg, store, hub)

	// Optional edge logger subprocess
	var logger *edgelog.Handle
	if cfg.LoggerPath != "" {
		logger = edgelog.New(cfg.LoggerPath)
		log.Printf("📝 Edge logger binary configured: %s", cfg.LoggerPath)
	}

	handler := ingest.NewHandler(router, hub, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Run(ctx)
	}()
	log.Println("📡 WebSocket hub started")

	// Kafka intake is optional; a broker failure never takes down the
	// HTTP ingress.
	var consumer *broker.Consumer
	if cfg.Brokers != "" {
		consumer, err = broker.NewConsumer(broker.Config{
			Brokers:     cfg.Brokers,
			Topic:       cfg.Topic,
			GroupID:     cfg.ConsumerGroup,
			PollTimeout: config.BrokerPollTimeout,
		}, router)
		if err != nil {
			log.Printf("⚠️  Broker consumer disabled: %v", err)
			consumer = nil
		} else {
			wg.Add(1)
			go func() {
				defer wg.Done()
				consumer.Run(ctx)
			}()
		}
	} else {
		log.Println("📴 No Kafka brokers configured, HTTP ingress only")
	}

	// Badger value-log GC, same cadence as the archive's write volume
	// warrants.
	wg.Add(1)
	go func() {
		defer wg.Done()
		runArchiveGC(ctx, store)
	}()

	r := mux.NewRouter()

	// CORS middleware for API access
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Vehicle-Vin, X-Compressed")
			if req.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, req)
		})
	})

	api := r.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/telemetry", handler.HandleTelemetry).Methods("POST")
	api.HandleFunc("/status", handler.HandleStatus).Methods("GET")
	api.HandleFunc("/buffer/clear", handler.HandleClear).Methods("POST")
	api.HandleFunc("/logger/start", handler.HandleLoggerStart).Methods("POST")
	api.HandleFunc("/logger/stop", handler.HandleLoggerStop).Methods("POST")
	api.HandleFunc("/logger/offline", handler.HandleLoggerOffline).Methods("POST")
	api.HandleFunc("/health", handler.HandleHealth).Methods("GET")
	api.HandleFunc("/ws", hub.HandleSubscribe()).Methods("GET")

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: config.ServerWriteTimeout,
	}

	go func() {
		log.Printf("🌐 Server starting on http://localhost:%s", cfg.Port)
		log.Println("   POST /v1/telemetry    - Ingest telemetry packets")
		log.Println("   GET  /v1/status       - Buffer and compression status")
		log.Println("   GET  /v1/ws           - Live telemetry stream")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("🛑 Shutdown signal received...")

	// Cancel before wg.Wait or the hub and consumer loops never exit.
	cancel()

	if logger != nil {
		if err := logger.Stop(); err != nil && err != edgelog.ErrNotRunning {
			log.Printf("⚠️  Edge logger stop: %v", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️  Server shutdown warning: %v", err)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Println("✅ All background tasks stopped cleanly")
	case <-time.After(5 * time.Second):
		log.Println("⚠️  Some background tasks did not stop in time (forcing exit)")
	}

	if consumer != nil {
		if err := consumer.Close(); err != nil {
			log.Printf("⚠️  Broker consumer close: %v", err)
		}
	}

	log.Println("👋 FleetLink server exited cleanly")
}

// runArchiveGC reclaims Badger value-log space periodically.
func runArchiveGC(ctx context.Context, store *badger.Store) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			if err := store.RunGC(0.5); err != nil {
				// Badger returns an error when there was nothing to rewrite.
				log.Printf("🗑️  Archive GC completed in %v (no rewrite needed)", time.Since(start).Round(time.Millisecond))
			} else {
				log.Printf("✅ Archive GC completed in %v (disk space reclaimed)", time.Since(start).Round(time.Millisecond))
			}
		}
	}
}
