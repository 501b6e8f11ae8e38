package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"tcg_scrooper/config"
	"tcg_scrooper/httputil"
	"tcg_scrooper/logging"
	"tcg_scrooper/models"
	"tcg_scrooper/scheduler"
	"tcg_scrooper/scraper"
	"tcg_scrooper/services"
	"tcg_scrooper/storage"
	"tcg_scrooper/workers"
)

var (
	scrapeNow    = flag.Bool("scrape", false, "Run scrape once and exit")
	sourceID     = flag.String("source", "", "With -scrape, only run this source")
	snapshotPath = flag.String("snapshot", "", "Seed dedup with a previous snapshot file, or \"latest\"")
	report       = flag.Bool("report", false, "With -scrape, print the run summary")
	exportNow    = flag.Bool("export", false, "Export all stored listings once and exit")
	logPath      = flag.String("log-file", "daemon.log", "Log file path, empty to disable")
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	if *logPath != "" {
		logFile, err := logging.Setup(*logPath)
		if err != nil {
			log.Printf("Warning: could not set up file logging: %v", err)
		} else {
			defer logFile.Close()
		}
	}

	log.Println("Starting tcg_scrooper...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logging.SetLevel(models.ParseLogLevel(cfg.LogLevel))

	log.Printf("Loaded %d source configs", len(cfg.Sources))
	for id, src := range cfg.Sources {
		log.Printf("  - %s (%s, %s handler)", src.Name, id, src.Handler)
	}

	clients := httputil.NewClients(&cfg.Proxy)
	if cfg.Proxy.URL != "" {
		log.Printf("Proxy: %s", maskConnectionString(cfg.Proxy.URL))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sqliteStore, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open SQLite: %v", err)
	}
	defer sqliteStore.Close()
	log.Printf("SQLite database: %s", cfg.DBPath)

	// Optional mirrors. SQLite stays primary.
	var mirrors []storage.ListingSink
	if cfg.Postgres.URL != "" {
		pgStore, err := storage.NewPostgresStore(ctx, cfg.Postgres.URL)
		if err != nil {
			log.Fatalf("Failed to connect to Postgres: %v", err)
		}
		defer pgStore.Close()
		log.Printf("Connected to Postgres: %s", maskConnectionString(cfg.Postgres.URL))
		mirrors = append(mirrors, pgStore)
	}
	if cfg.Supabase.URL != "" {
		mirrors = append(mirrors, storage.NewSupabaseStore(&cfg.Supabase, clients.API))
		log.Printf("Mirroring listings to Supabase table %s", cfg.Supabase.Table)
	}

	var uploader workers.Uploader = workers.NewNoOpUploader()
	if cfg.S3.Enabled() {
		s3Uploader, err := storage.NewS3Uploader(ctx, storage.S3Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			Prefix:          cfg.S3.Prefix,
		})
		if err != nil {
			log.Fatalf("Failed to set up S3: %v", err)
		}
		uploader = s3Uploader
		log.Printf("Snapshots upload to s3://%s/%s", cfg.S3.Bucket, cfg.S3.Prefix)
	}

	listingService := services.NewListingService(sqliteStore, mirrors...)
	matchService := services.NewMatchService(sqliteStore)
	log.Printf("Listing sinks: %v", listingService.Sinks())

	orchestrator, err := scraper.NewOrchestrator(cfg, sqliteStore, clients)
	if err != nil {
		log.Fatalf("Failed to create orchestrator: %v", err)
	}
	orchestrator.SetServices(listingService, matchService)
	orchestrator.SetUploader(uploader)

	if *snapshotPath != "" {
		preloadSnapshot(orchestrator, cfg.SnapshotDir, *snapshotPath)
	}

	exportWorker := workers.NewExportWorker(sqliteStore, uploader, cfg.SnapshotDir, cfg.Scraper.TopN)
	exportWorker.SetLogger(func(level models.LogLevel, source, message string) {
		sqliteStore.Log(nil, level, message, source)
	})
	orchestrator.SetExportTrigger(exportWorker.Trigger)

	// Handle one-shot commands
	if *exportNow {
		res, err := exportWorker.Export(ctx)
		if err != nil {
			log.Fatalf("Export failed: %v", err)
		}
		log.Printf("Exported %d listings to %s", res.Listings, res.Path)
		return
	}

	if *scrapeNow {
		log.Println("Running scrape...")
		var res *scraper.RunResult
		if *sourceID != "" {
			res, err = orchestrator.RunSource(ctx, *sourceID)
		} else {
			res, err = orchestrator.RunAll(ctx)
		}
		if err != nil {
			log.Fatalf("Scrape failed: %v", err)
		}
		if *report && res != nil {
			services.NewReporter(os.Stdout).Render(res.Summary)
		}
		log.Println("Scrape complete!")
		return
	}

	// Daemon mode
	sched := scheduler.New(cfg, orchestrator, sqliteStore)
	sched.SetWorkers(exportWorker)
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	go exportWorker.Run(ctx, cfg.Scheduler.ExportInterval)
	log.Printf("Export worker started (every %s)", cfg.Scheduler.ExportInterval)

	log.Println("Daemon running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down...")
	cancel()
	sched.Stop()
	log.Println("Goodbye!")
}

func preloadSnapshot(o *scraper.Orchestrator, dir, path string) {
	if path == "latest" {
		latest, err := storage.LatestSnapshot(dir)
		if err != nil {
			log.Printf("Warning: could not find latest snapshot: %v", err)
			return
		}
		if latest == "" {
			log.Println("No previous snapshot to preload")
			return
		}
		path = latest
	}

	snap, err := storage.LoadSnapshot(path)
	if err != nil {
		log.Printf("Warning: could not load snapshot %s: %v", path, err)
		return
	}
	o.Preload(snap.SourceIDs())
	log.Printf("Preloaded %d ids from %s", len(snap.Listings), path)
}

// maskConnectionString masks password in connection string for logging
func maskConnectionString(connStr string) string {
	// Simple mask - find :// and mask until @
	start := 0
	for i := 0; i < len(connStr)-3; i++ {
		if connStr[i:i+3] == "://" {
			start = i + 3
			break
		}
	}
	if start == 0 {
		return connStr
	}

	// Find : after user
	colonIdx := -1
	atIdx := -1
	for i := start; i < len(connStr); i++ {
		if connStr[i] == ':' && colonIdx == -1 {
			colonIdx = i
		}
		if connStr[i] == '@' {
			atIdx = i
			break
		}
	}

	if colonIdx > 0 && atIdx > colonIdx {
		return connStr[:colonIdx+1] + "****" + connStr[atIdx:]
	}
	return connStr
}
