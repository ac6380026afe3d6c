package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"co2ledger.org/internal/auth"
	"co2ledger.org/internal/httpapi"
	"co2ledger.org/internal/ledger"
	"co2ledger.org/internal/obs"
	"co2ledger.org/internal/store/pg"
	"co2ledger.org/internal/stream"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg := ledger.Config{
		MaxMetadataBytes:     envInt("CO2LEDGER_MAX_METADATA_BYTES", 0),
		MaxEmissionsPerAsset: envInt("CO2LEDGER_MAX_EMISSIONS_PER_ASSET", 0),
		MaxDataSourceBytes:   envInt("CO2LEDGER_MAX_DATA_SOURCE_BYTES", 0),
	}

	// Postgres when a DSN is configured, process memory otherwise.
	var store ledger.Store
	var closeStore func() error
	if dsn := os.Getenv("CO2LEDGER_PG_DSN"); dsn != "" {
		pgStore, err := pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		store = pgStore
		closeStore = pgStore.Close
	} else {
		log.Println("CO2LEDGER_PG_DSN not set, using in-memory store")
		store = ledger.NewMemStore()
	}

	events := stream.New()
	svc := ledger.New(store, events, cfg)

	api := httpapi.New(httpapi.ReadyProbe{Store: store}, version, svc, events, auth.NewRegistry())

	addr := os.Getenv("CO2LEDGER_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting co2ledger-api %s on %s", version, srv.Addr)
	obs.SetReady(true)

	// graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	obs.SetReady(false)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if closeStore != nil {
		_ = closeStore()
	}
	log.Println("Stopped")
}

func envInt(name string, def int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		log.Fatalf("%s: %v", name, err)
	}
	return v
}
