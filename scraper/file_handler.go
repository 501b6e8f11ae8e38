package scraper

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"

	"tcg_scrooper/config"
	"tcg_scrooper/models"
)

// FileHandler reads previously captured JSON dumps from disk.
type FileHandler struct {
	cfg *config.SourceConfig
}

func NewFileHandler(cfg *config.SourceConfig) *FileHandler {
	return &FileHandler{cfg: cfg}
}

func (h *FileHandler) ID() string {
	return h.cfg.ID
}

func (h *FileHandler) Scrape(ctx context.Context, target config.Target) ([]models.RawListing, error) {
	if target.Path == "" {
		return nil, fmt.Errorf("file target for %s has no path", h.cfg.ID)
	}

	paths, err := filepath.Glob(target.Path)
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", target.Path, err)
	}
	sort.Strings(paths)

	var all []models.RawListing
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return all, err
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return all, fmt.Errorf("read %s: %w", path, err)
		}

		items, err := decodeItems(data, h.cfg.ItemsPath)
		if err != nil {
			log.Printf("Warning: skipping %s: %v", path, err)
			continue
		}
		log.Printf("File: %s: %d items", filepath.Base(path), len(items))
		all = append(all, items...)
	}

	return all, nil
}
