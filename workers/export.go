package workers

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"tcg_scrooper/models"
	"tcg_scrooper/services"
	"tcg_scrooper/storage"
)

// LogFunc is a function that logs to the scrape_logs table
type LogFunc func(level models.LogLevel, source, message string)

// NoOpLogger does nothing (default)
var NoOpLogger LogFunc = func(level models.LogLevel, source, message string) {}

// ListingReader is the slice of the operational store the export needs.
type ListingReader interface {
	AllListings(source string) ([]models.Listing, error)
}

// ExportWorker periodically writes every stored listing to a snapshot and uploads it.
type ExportWorker struct {
	store     ListingReader
	uploader  Uploader
	dir       string
	topN      int
	triggerCh chan struct{}
	logFunc   LogFunc
}

func NewExportWorker(store ListingReader, uploader Uploader, dir string, topN int) *ExportWorker {
	if uploader == nil {
		uploader = NewNoOpUploader()
	}
	return &ExportWorker{
		store:     store,
		uploader:  uploader,
		dir:       dir,
		topN:      topN,
		triggerCh: make(chan struct{}, 1),
		logFunc:   NoOpLogger,
	}
}

func (w *ExportWorker) SetLogger(fn LogFunc) {
	w.logFunc = fn
}

// Trigger causes the worker to export immediately
func (w *ExportWorker) Trigger() {
	select {
	case w.triggerCh <- struct{}{}:
	default:
	}
}

// ExportResult describes one written export.
type ExportResult struct {
	Path     string
	Key      string
	Listings int
}

// Export writes the snapshot locally, then uploads the same bytes.
func (w *ExportWorker) Export(ctx context.Context) (*ExportResult, error) {
	listings, err := w.store.AllListings("")
	if err != nil {
		return nil, fmt.Errorf("load listings: %w", err)
	}

	summary := services.Summarize(listings, w.topN)
	snap := &models.Snapshot{
		GeneratedAt: time.Now().UTC(),
		Listings:    listings,
		Summary:     &summary,
	}

	path, err := storage.WriteSnapshot(w.dir, snap)
	if err != nil {
		return nil, err
	}

	data, err := storage.EncodeSnapshot(snap)
	if err != nil {
		return nil, err
	}
	key := "exports/" + filepath.Base(path)
	if err := w.uploader.Upload(ctx, key, bytes.NewReader(data), "application/json"); err != nil {
		return nil, fmt.Errorf("upload %s: %w", key, err)
	}

	return &ExportResult{Path: path, Key: key, Listings: len(listings)}, nil
}

func (w *ExportWorker) Run(ctx context.Context, interval time.Duration) {
	var tick <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			log.Println("Export worker stopping")
			return
		case <-tick:
			w.runOnce(ctx)
		case <-w.triggerCh:
			log.Println("Export worker triggered manually")
			w.runOnce(ctx)
		}
	}
}

func (w *ExportWorker) runOnce(ctx context.Context) {
	res, err := w.Export(ctx)
	if err != nil {
		log.Printf("Export: %v", err)
		w.logFunc(models.LogLevelError, "export", err.Error())
		return
	}
	msg := fmt.Sprintf("Exported %d listings to %s", res.Listings, res.Key)
	log.Printf("Export: %s", msg)
	w.logFunc(models.LogLevelInfo, "export", msg)
}
