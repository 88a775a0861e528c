// Command vidscan batch-analyzes a recorded media source through the
// capture service: it seeks through the recording at a fixed interval,
// classifies each sampled frame, and writes the resulting time series as
// JSON, CSV, or a chart page.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vigil-data/activity.report/internal/analysis"
	"github.com/vigil-data/activity.report/internal/capture"
	"github.com/vigil-data/activity.report/internal/classify"
	"github.com/vigil-data/activity.report/internal/config"
	"github.com/vigil-data/activity.report/internal/features"
	"github.com/vigil-data/activity.report/internal/fsutil"
	"github.com/vigil-data/activity.report/internal/monitoring"
	"github.com/vigil-data/activity.report/internal/timeutil"
)

var (
	host     = flag.String("host", "localhost", "Capture service host")
	port     = flag.Int("port", 4455, "Capture service port")
	password = flag.String("password", "", "Capture service password")
	source   = flag.String("source", "", "Recorded media source name (required)")
	interval = flag.Duration("interval", 5*time.Second, "Sample interval")
	outPath  = flag.String("out", "", "Output file (default stdout)")
	format   = flag.String("format", "json", "Output format: json, csv, or html")
	model    = flag.String("model", "", "Optional model weights file")
	quiet    = flag.Bool("quiet", false, "Suppress progress output")
)

// pollEvery paces job status checks; batch steps take at least the seek
// settle delay each, so finer polling buys nothing.
const pollEvery = 500 * time.Millisecond

func main() {
	flag.Parse()

	if *source == "" {
		fmt.Fprintln(os.Stderr, "vidscan: -source is required")
		flag.Usage()
		os.Exit(2)
	}
	exportFormat := analysis.ExportFormat(*format)
	if !analysis.ValidExportFormat(exportFormat) {
		log.Fatalf("Unknown format %q (want json, csv, or html)", *format)
	}
	if *quiet {
		monitoring.SetLogger(nil)
	}

	cfg := config.Default()
	cfg.Capture.Host = *host
	cfg.Capture.Port = *port
	cfg.Capture.Password = *password
	cfg.Classifier.ModelPath = *model

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := timeutil.RealClock{}
	transport := capture.NewWSTransport(cfg.Capture.Host, cfg.Capture.Port, cfg.Capture.Password)
	frames := capture.NewFrameSource(cfg.Capture, transport, nil, clock)
	defer frames.Close()

	if err := frames.Connect(ctx); err != nil {
		log.Fatalf("Failed to connect to capture service at %s:%d: %v", *host, *port, err)
	}

	classifier := classify.New(cfg.Classifier, fsutil.OSFileSystem{})
	jobs := analysis.NewJobManager(frames, features.NewExtractor(cfg.Features), classifier, clock)

	id, err := jobs.Analyze(ctx, *source, *interval)
	if err != nil {
		log.Fatalf("Failed to start analysis: %v", err)
	}

	job := waitForJob(ctx, jobs, id, *quiet)
	if job.State == analysis.JobError {
		log.Fatalf("Analysis failed: %s", job.Error)
	}
	if !*quiet {
		fmt.Fprintf(os.Stderr, "\n%d results, %d gaps in %s\n",
			len(job.Results), len(job.Gaps), job.FinishedAt.Sub(job.StartedAt).Round(time.Millisecond))
	}

	out := os.Stdout
	if *outPath != "" {
		f, err := os.Create(*outPath)
		if err != nil {
			log.Fatalf("Failed to create output file: %v", err)
		}
		defer f.Close()
		out = f
	}
	if err := analysis.Export(out, job, exportFormat); err != nil {
		log.Fatalf("Failed to write %s export: %v", exportFormat, err)
	}
}

// waitForJob polls until the job leaves the running states, printing
// progress to stderr. Cancellation returns the last snapshot seen.
func waitForJob(ctx context.Context, jobs *analysis.JobManager, id string, quiet bool) analysis.Job {
	ticker := time.NewTicker(pollEvery)
	defer ticker.Stop()

	var last analysis.Job
	for {
		job, ok := jobs.Job(id)
		if ok {
			last = job
			if !quiet {
				fmt.Fprintf(os.Stderr, "\ranalyzing %s: %3.0f%% (%d results)", job.Source, job.Progress, len(job.Results))
			}
			if job.State == analysis.JobCompleted || job.State == analysis.JobError {
				return job
			}
		}
		select {
		case <-ctx.Done():
			return last
		case <-ticker.C:
		}
	}
}
