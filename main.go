// Command activity-report runs the capture, classification, and reporting
// daemon: it pairs frames from the remote capture service with microphone
// audio, classifies the observed activity on a fixed cadence, appends the
// results to the activity log, and serves the HTTP control surface.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/vigil-data/activity.report/internal/analysis"
	"github.com/vigil-data/activity.report/internal/api"
	"github.com/vigil-data/activity.report/internal/capture"
	"github.com/vigil-data/activity.report/internal/classify"
	"github.com/vigil-data/activity.report/internal/config"
	"github.com/vigil-data/activity.report/internal/db"
	"github.com/vigil-data/activity.report/internal/events"
	"github.com/vigil-data/activity.report/internal/features"
	"github.com/vigil-data/activity.report/internal/fsutil"
	"github.com/vigil-data/activity.report/internal/httputil"
	"github.com/vigil-data/activity.report/internal/notify"
	"github.com/vigil-data/activity.report/internal/timeutil"
	"github.com/vigil-data/activity.report/internal/version"
)

var (
	listen     = flag.String("listen", "", "Listen address (overrides config)")
	configPath = flag.String("config", "", "Path to JSON config file")
	dbPath     = flag.String("db", "", "Path to activity database (overrides config)")
	devMode    = flag.Bool("dev", false, "Run in dev mode: simulated audio devices and test frames")
)

const migrationsDir = "migrations"

// loadConfig resolves the effective configuration: file values over
// defaults, then flag overrides on top.
func loadConfig() (config.Config, error) {
	cfg := config.Default()
	if *configPath != "" {
		f, err := config.Load(*configPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = f.Resolve()
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *dbPath != "" {
		cfg.DB.Path = *dbPath
	}
	if *devMode {
		cfg.Capture.TestFrames = true
	}
	return cfg, nil
}

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if args := flag.Args(); len(args) > 0 && args[0] == "migrate" {
		db.RunMigrateCommand(args[1:], cfg.DB.Path, migrationsDir)
		return
	}

	log.Printf("activity-report %s starting", version.String())

	store, err := db.NewDB(cfg.DB.Path)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer store.Close()

	clock := timeutil.RealClock{}
	bus := events.NewBus()
	defer bus.Close()

	// Frame capture. In dev mode the transport still dials, but capture
	// failures degrade to the deterministic test frame, so the pipeline
	// runs without a live capture service.
	transport := capture.NewWSTransport(cfg.Capture.Host, cfg.Capture.Port, cfg.Capture.Password)
	frames := capture.NewFrameSource(cfg.Capture, transport, bus, clock)
	defer frames.Close()

	buf := capture.NewSyncBuffer(cfg.Sync, cfg.Audio)

	// The audio device layer is an external integration point; the daemon
	// ships with the simulated backend. Dev mode selects the voice-band
	// tone device set, production the silent input, until a hardware
	// backend lands.
	var backend capture.Backend
	if *devMode {
		backend = capture.NewSimBackend(clock, capture.DefaultSimDevices()...)
	} else {
		backend = capture.NewSimBackend(clock, capture.SimDevice{
			Name: "null-input", IsDefault: true, Channels: 1, Signal: capture.Silence(),
		})
	}
	audio := capture.NewAudioSource(cfg.Audio, backend, buf, bus, clock)
	defer audio.Close()

	extractor := features.NewExtractor(cfg.Features)
	classifier := classify.New(cfg.Classifier, fsutil.OSFileSystem{})
	log.Printf("classifier scoring mode: %s", classifier.Mode())

	sink := notify.NewSink(cfg.Notify, httputil.NewStandardClient(nil), clock, bus)

	loop := analysis.NewLoop(analysis.LoopConfig{
		Frames:     frames,
		Audio:      audio,
		Buffer:     buf,
		Extractor:  extractor,
		Classifier: classifier,
		Store:      store,
		Sink:       sink,
		Bus:        bus,
		Clock:      clock,
		Interval:   cfg.Loop.Interval,
		Retention:  time.Duration(cfg.DB.RetentionDays) * 24 * time.Hour,
	})
	jobs := analysis.NewJobManager(frames, extractor, classifier, clock)

	// Wait group for the audio reader, liveness checker, sink worker, and
	// HTTP server routines
	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := frames.Connect(ctx); err != nil {
		log.Printf("capture service not reachable yet, will retry: %v", err)
	}
	if err := audio.Open(ctx); err != nil {
		log.Printf("no audio device available yet, liveness check will retry: %v", err)
	}

	// stream device chunks into the sync buffer
	wg.Add(1)
	go func() {
		defer wg.Done()
		audio.Run(ctx)
		log.Print("audio reader terminated")
	}()

	// restart silent streams, mark the source DOWN when that fails
	wg.Add(1)
	go func() {
		defer wg.Done()
		audio.RunLiveness(ctx)
		log.Print("audio liveness checker terminated")
	}()

	// drain the notification delivery queue with retry
	wg.Add(1)
	go func() {
		defer wg.Done()
		sink.Run(ctx)
		log.Print("notification sink terminated")
	}()

	loop.Start(cfg.Loop.Interval)

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()

		// mount the admin debugging routes
		if err := store.AttachAdminRoutes(mux); err != nil {
			log.Printf("failed to attach admin routes: %v", err)
		}

		srv := api.NewServer(api.ServerConfig{
			Loop:       loop,
			Jobs:       jobs,
			Frames:     frames,
			Audio:      audio,
			Store:      store,
			Sink:       sink,
			Bus:        bus,
			Classifier: classifier,
			Clock:      clock,
		})
		mux.Handle("/", api.LoggingMiddleware(srv.ServeMux()))

		server := &http.Server{
			Addr:    cfg.Listen,
			Handler: mux,
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			log.Printf("HTTP server listening on %s", cfg.Listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
	}()

	<-ctx.Done()
	loop.Stop()

	// Wait for all goroutines to finish
	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
