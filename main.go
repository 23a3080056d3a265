package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/vision.bench/api"
	"github.com/banshee-data/vision.bench/internal/benchrun"
	"github.com/banshee-data/vision.bench/internal/config"
	"github.com/banshee-data/vision.bench/internal/db"
	"github.com/banshee-data/vision.bench/internal/source"
	"github.com/banshee-data/vision.bench/internal/supervisor"
	"github.com/banshee-data/vision.bench/internal/supervisor/events"
	"github.com/banshee-data/vision.bench/internal/tracker"
	"github.com/banshee-data/vision.bench/internal/vision"
	"github.com/banshee-data/vision.bench/internal/vision/pipelines"
)

var (
	listen     = flag.String("listen", ":8080", "Listen address")
	configPath = flag.String("config", "", "Path to bench config JSON")
	dbPath     = flag.String("db", "", "Database path (overrides config)")
	fps        = flag.Float64("fps", 0, "Frame rate cap (overrides config)")
	headless   = flag.Duration("headless", 0, "Run for this long then exit (0 runs until signalled)")
	devMode    = flag.Bool("dev", false, "Run in dev mode with a fixed source seed")
)

func main() {
	flag.Parse()

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	// Trace-level per-frame logging only in dev mode; it is far too chatty
	// for steady-state operation.
	var traceWriter io.Writer
	if *devMode {
		traceWriter = os.Stderr
	}
	supervisor.SetLogWriters(os.Stderr, os.Stderr, traceWriter)

	cfg := config.EmptyBenchConfig()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadBenchConfig(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	path := cfg.GetDBPath()
	if *dbPath != "" {
		path = *dbPath
	}
	database, err := db.NewDB(path)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()
	if err := database.MigrateUp(cfg.GetMigrationsDir()); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	registry := vision.NewRegistry()
	pipelines.RegisterBuiltins(registry)

	tier, err := supervisor.ParseTier(cfg.GetTimeoutTier())
	if err != nil {
		log.Fatalf("invalid timeout tier: %v", err)
	}

	trk := tracker.New()
	sup, err := supervisor.New(supervisor.Config{
		Registry:            registry,
		Tracker:             trk,
		MaxContexts:         cfg.GetMaxContexts(),
		Tier:                tier,
		InitGraceMultiplier: cfg.GetInitGraceMultiplier(),
		TapBudget:           cfg.GetTapBudget(),
	})
	if err != nil {
		log.Fatalf("failed to build supervisor: %v", err)
	}

	recorder := benchrun.NewRecorder(database.DB)
	trk.OnNewException(func(defName string, rec tracker.Record) {
		recorder.RecordError(defName, rec.LastMessage)
		log.Printf("pipeline %s errored: %s", defName, rec.LastMessage)
	})
	trk.OnStillErroring(func(defName string, rec tracker.Record) {
		recorder.RecordError(defName, rec.LastMessage)
	})
	trk.OnCleared(func(defName string) {
		log.Printf("pipeline %s recovered", defName)
	})
	sup.Events().On(func(ev events.Event) {
		switch e := ev.(type) {
		case events.FrameProcessed:
			recorder.RecordFrame(e.DefName, e.Duration)
		case events.PipelineTimeout:
			recorder.RecordTimeout(e.DefName)
		case events.PipelineChanged:
			recorder.RecordSwitch(e.OldIndex, e.NewIndex)
		}
	})

	rate := cfg.GetMaxFPS()
	if *fps > 0 {
		rate = *fps
	}
	seed := time.Now().UnixNano()
	if *devMode {
		seed = 1
	}
	src := source.NewSynthetic(cfg.GetFrameWidth(), cfg.GetFrameHeight(), seed)

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *headless > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *headless)
		defer cancel()
	}

	// driving loop
	fatal := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(time.Duration(float64(time.Second) / rate))
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				frame := src.NextFrame()
				if frame == nil {
					continue
				}
				if err := sup.Update(frame); err != nil {
					fatal <- err
					return
				}
			case <-ctx.Done():
				log.Print("driving loop terminated")
				return
			}
		}
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()
		database.AttachAdminRoutes(mux)

		apiMux := api.NewServer(sup, registry, recorder).ServeMux()
		mux.Handle("/api/", http.StripPrefix("/api", apiMux))

		server := &http.Server{
			Addr:    *listen,
			Handler: mux,
		}

		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
	}()

	var loopErr error
	select {
	case loopErr = <-fatal:
		log.Printf("driving loop failed: %v", loopErr)
		stop()
	case <-ctx.Done():
	}

	wg.Wait()
	if recorder.IsRunActive() {
		if err := recorder.FinishRun("interrupted"); err != nil {
			log.Printf("failed to finish run: %v", err)
		}
	}
	log.Printf("Graceful shutdown complete")

	if errors.Is(loopErr, supervisor.ErrTooManyContexts) {
		database.Close()
		os.Exit(2)
	}
}
