package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"tcg_scrooper/config"
	"tcg_scrooper/httputil"
	"tcg_scrooper/identity"
	"tcg_scrooper/models"
	"tcg_scrooper/normalize"
	"tcg_scrooper/services"
	"tcg_scrooper/storage"
)

// ErrRunInProgress is returned when a run is requested while another is still going.
var ErrRunInProgress = errors.New("a run is already in progress")

// Uploader ships snapshot documents somewhere durable.
type Uploader interface {
	Upload(ctx context.Context, key string, data io.Reader, contentType string) error
}

// RunResult is everything one run produced.
type RunResult struct {
	RunUUID      string
	Sources      []string
	Found        int
	Duplicates   int
	Errors       int
	Listings     []models.Listing
	Summary      models.Summary
	Stats        *services.ProcessStats
	Matches      int
	SnapshotPath string
}

type Orchestrator struct {
	cfg        *config.Config
	store      *storage.SQLiteStore
	handlers   map[string]Handler
	normalizer *normalize.Normalizer

	listingService *services.ListingService
	matchService   *services.MatchService
	uploader       Uploader
	exportTrigger  func()

	paused  atomic.Bool
	running sync.Mutex

	preloadMu sync.Mutex
	preload   []string
}

func NewOrchestrator(cfg *config.Config, store *storage.SQLiteStore, clients *httputil.Clients) (*Orchestrator, error) {
	rules, err := normalize.NewRules(cfg.Rules)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	normalizer := normalize.New(rules)

	handlers := make(map[string]Handler)
	for id, srcCfg := range cfg.Sources {
		handler, err := NewHandler(srcCfg, clients, cfg.Scraper.Retries)
		if err != nil {
			return nil, err
		}
		handlers[id] = handler
		normalizer.Register(id, normalize.NewFieldMap(srcCfg))
	}

	return &Orchestrator{
		cfg:            cfg,
		store:          store,
		handlers:       handlers,
		normalizer:     normalizer,
		listingService: services.NewListingService(store),
		matchService:   services.NewMatchService(store),
	}, nil
}

// SetServices replaces the default SQLite-only services
func (o *Orchestrator) SetServices(listing *services.ListingService, match *services.MatchService) {
	if listing != nil {
		o.listingService = listing
	}
	if match != nil {
		o.matchService = match
	}
}

func (o *Orchestrator) SetUploader(u Uploader) {
	o.uploader = u
}

// SetExportTrigger wires the export command to the export worker.
func (o *Orchestrator) SetExportTrigger(fn func()) {
	o.exportTrigger = fn
}

// Preload seeds every subsequent run's dedup store with ids from an earlier snapshot.
func (o *Orchestrator) Preload(ids []string) {
	o.preloadMu.Lock()
	o.preload = append(o.preload, ids...)
	o.preloadMu.Unlock()
}

func (o *Orchestrator) RunAll(ctx context.Context) (*RunResult, error) {
	return o.runSources(ctx, o.GetSourceIDs())
}

func (o *Orchestrator) RunSource(ctx context.Context, sourceID string) (*RunResult, error) {
	if _, ok := o.cfg.Sources[sourceID]; !ok {
		return nil, fmt.Errorf("unknown source: %s", sourceID)
	}
	return o.runSources(ctx, []string{sourceID})
}

type sourceRun struct {
	run   *models.ScrapeRun
	found int
	dups  int
	errs  int
}

func (o *Orchestrator) runSources(ctx context.Context, sourceIDs []string) (*RunResult, error) {
	if o.paused.Load() {
		log.Println("Scraper is paused, skipping run")
		return nil, nil
	}
	if !o.running.TryLock() {
		return nil, ErrRunInProgress
	}
	defer o.running.Unlock()

	result := &RunResult{RunUUID: uuid.NewString(), Sources: sourceIDs}
	dedup, err := o.newDedupStore()
	if err != nil {
		return nil, err
	}

	// Fetch and normalize every source concurrently; dedup is the only shared state.
	runs := make(map[string]*sourceRun, len(sourceIDs))
	for _, id := range sourceIDs {
		runs[id] = o.startSourceRun(result.RunUUID, id)
	}

	g, gctx := errgroup.WithContext(ctx)
	if o.cfg.Scraper.Concurrency > 0 {
		g.SetLimit(o.cfg.Scraper.Concurrency)
	}
	for _, id := range sourceIDs {
		sr := runs[id]
		g.Go(func() error {
			o.scrapeSource(gctx, sr, dedup)
			return nil
		})
	}
	g.Wait()

	result.Listings = dedup.Listings()
	for _, sr := range runs {
		result.Found += sr.found
		result.Duplicates += sr.dups
		result.Errors += sr.errs
	}

	// Persist per source so each run row carries its own counts.
	bySource := make(map[string][]models.Listing)
	for _, l := range result.Listings {
		bySource[l.Source] = append(bySource[l.Source], l)
	}
	result.Stats = &services.ProcessStats{}
	for _, id := range sourceIDs {
		sr := runs[id]
		stats, err := o.listingService.ProcessAll(ctx, bySource[identity.SourceKey(id)], result.RunUUID)
		if err != nil {
			o.log(sr.run.ID, models.LogLevelError, fmt.Sprintf("Persist interrupted: %v", err), id)
		}
		result.Stats.Merge(stats)
		result.Errors += stats.Errors
		o.finishSourceRun(sr, stats)
	}

	result.Summary = services.Summarize(result.Listings, o.cfg.Scraper.TopN)

	if o.matchService != nil {
		n, err := o.matchService.InsertPotentialMatches(ctx, result.Listings)
		if err != nil {
			log.Printf("Warning: failed to insert listing matches: %v", err)
		}
		result.Matches = n
	}

	if o.cfg.Dedup.Persist {
		if err := o.store.MarkSeen(dedup.IDs()); err != nil {
			log.Printf("Warning: failed to persist seen ids: %v", err)
		}
	}

	if o.cfg.SnapshotDir != "" {
		path, err := o.writeSnapshot(ctx, result)
		if err != nil {
			log.Printf("Warning: snapshot failed: %v", err)
		}
		result.SnapshotPath = path
	}

	log.Printf("Run %s: %d found, %d kept, %d duplicates, %d new, %d price changes, %d matches, %d errors",
		result.RunUUID, result.Found, len(result.Listings), result.Duplicates,
		result.Stats.ListingsNew, result.Stats.PriceChanges, result.Matches, result.Errors)

	return result, ctx.Err()
}

func (o *Orchestrator) newDedupStore() (*services.DedupStore, error) {
	dedup := services.NewDedupStore(services.ParseDedupPolicy(o.cfg.Dedup.Policy))

	o.preloadMu.Lock()
	dedup.Preload(o.preload)
	o.preloadMu.Unlock()

	if o.cfg.Dedup.Persist {
		ids, err := o.store.SeenIDs()
		if err != nil {
			return nil, fmt.Errorf("load seen ids: %w", err)
		}
		dedup.Preload(ids)
	}
	return dedup, nil
}

func (o *Orchestrator) startSourceRun(runUUID, sourceID string) *sourceRun {
	run := &models.ScrapeRun{
		RunUUID:   runUUID,
		SourceID:  sourceID,
		StartedAt: time.Now(),
		Status:    models.RunStatusRunning,
	}
	runID, err := o.store.CreateRun(run)
	if err != nil {
		log.Printf("Warning: failed to create run for %s: %v", sourceID, err)
	}
	run.ID = runID
	return &sourceRun{run: run}
}

func (o *Orchestrator) scrapeSource(ctx context.Context, sr *sourceRun, dedup *services.DedupStore) {
	sourceID := sr.run.SourceID
	srcCfg := o.cfg.Sources[sourceID]
	handler, ok := o.handlers[sourceID]
	if !ok {
		o.log(sr.run.ID, models.LogLevelError, "No handler configured", sourceID)
		sr.errs++
		return
	}

	o.log(sr.run.ID, models.LogLevelInfo, fmt.Sprintf("Starting scrape for %s", srcCfg.Name), sourceID)

	targetIDs := make([]string, 0, len(srcCfg.Targets))
	for id := range srcCfg.Targets {
		targetIDs = append(targetIDs, id)
	}
	sort.Strings(targetIDs)

	for i, targetID := range targetIDs {
		if ctx.Err() != nil {
			sr.errs++
			return
		}
		if i > 0 && o.cfg.Scraper.DelayMS > 0 {
			select {
			case <-ctx.Done():
				sr.errs++
				return
			case <-time.After(time.Duration(o.cfg.Scraper.DelayMS) * time.Millisecond):
			}
		}

		raws, err := handler.Scrape(ctx, srcCfg.Targets[targetID])
		if err != nil {
			o.log(sr.run.ID, models.LogLevelError, fmt.Sprintf("Scrape error for %s: %v", targetID, err), sourceID)
			sr.errs++
		}
		if len(raws) == 0 {
			o.log(sr.run.ID, models.LogLevelInfo, fmt.Sprintf("Target %s: no records", targetID), sourceID)
			continue
		}

		dups := 0
		for _, raw := range raws {
			l := o.normalizer.Normalize(raw, sourceID)
			if dedup.Seen(l.SourceID) {
				dups++
			}
			dedup.Put(l)
		}
		sr.found += len(raws)
		sr.dups += dups
		o.log(sr.run.ID, models.LogLevelInfo, fmt.Sprintf("Target %s: %d records, %d duplicates", targetID, len(raws), dups), sourceID)
	}
}

func (o *Orchestrator) finishSourceRun(sr *sourceRun, stats *services.ProcessStats) {
	now := time.Now()
	run := sr.run
	run.FinishedAt = &now
	run.ListingsFound = sr.found
	run.Duplicates = sr.dups
	run.ListingsNew = stats.ListingsNew
	run.ListingsUpdated = stats.ListingsUpdated
	run.ErrorsCount = sr.errs + stats.Errors

	switch {
	case run.ErrorsCount == 0:
		run.Status = models.RunStatusCompleted
	case sr.found > 0:
		run.Status = models.RunStatusPartial
	default:
		run.Status = models.RunStatusFailed
	}

	o.log(run.ID, models.LogLevelInfo,
		fmt.Sprintf("Completed (%s): %d found, %d new, %d updated, %d price changes, %d duplicates",
			run.Status, run.ListingsFound, stats.ListingsNew, stats.ListingsUpdated, stats.PriceChanges, run.Duplicates),
		run.SourceID)

	if err := o.store.UpdateRun(run); err != nil {
		log.Printf("Warning: failed to update run %d: %v", run.ID, err)
	}
	if err := o.store.UpdateSourceStats(run.SourceID); err != nil {
		log.Printf("Warning: failed to update stats for %s: %v", run.SourceID, err)
	}
}

func (o *Orchestrator) writeSnapshot(ctx context.Context, result *RunResult) (string, error) {
	summary := result.Summary
	snap := &models.Snapshot{
		GeneratedAt: time.Now().UTC(),
		RunID:       result.RunUUID,
		Sources:     result.Sources,
		Listings:    result.Listings,
		Summary:     &summary,
	}

	path, err := storage.WriteSnapshot(o.cfg.SnapshotDir, snap)
	if err != nil {
		return "", err
	}
	log.Printf("Snapshot written: %s (%d listings)", path, len(snap.Listings))

	if o.uploader != nil {
		f, err := os.Open(path)
		if err != nil {
			return path, fmt.Errorf("open snapshot: %w", err)
		}
		defer f.Close()
		if err := o.uploader.Upload(ctx, filepath.Base(path), f, "application/json"); err != nil {
			return path, fmt.Errorf("upload snapshot: %w", err)
		}
	}
	return path, nil
}

func (o *Orchestrator) HandleCommand(ctx context.Context, cmd *models.Command) error {
	params, err := storage.ParseCommandParams(cmd)
	if err != nil {
		return err
	}

	switch cmd.Command {
	case models.CmdScrapeNow:
		_, err = o.RunAll(ctx)
		return err
	case models.CmdScrapeSource:
		if params.Source != "" {
			_, err = o.RunSource(ctx, params.Source)
			return err
		}
		_, err = o.RunAll(ctx)
		return err
	case models.CmdPause:
		o.paused.Store(true)
		log.Println("Scraper paused")
	case models.CmdResume:
		o.paused.Store(false)
		log.Println("Scraper resumed")
	case models.CmdExport:
		if o.exportTrigger == nil {
			return fmt.Errorf("export not configured")
		}
		o.exportTrigger()
	default:
		return fmt.Errorf("unknown command: %s", cmd.Command)
	}

	return nil
}

func (o *Orchestrator) IsPaused() bool {
	return o.paused.Load()
}

func (o *Orchestrator) log(runID int64, level models.LogLevel, message, sourceID string) {
	log.Printf("[%s] %s: %s", level, sourceID, message)
	if err := o.store.Log(&runID, level, message, sourceID); err != nil {
		log.Printf("Warning: failed to write log: %v", err)
	}
}

func (o *Orchestrator) GetSourceIDs() []string {
	ids := make([]string, 0, len(o.cfg.Sources))
	for id := range o.cfg.Sources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (o *Orchestrator) MarshalStatus() ([]byte, error) {
	status := map[string]interface{}{
		"paused":  o.paused.Load(),
		"sources": o.GetSourceIDs(),
	}
	return json.Marshal(status)
}
