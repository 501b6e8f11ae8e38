package scraper

import (
	"context"
	"fmt"
	"log"
	"strconv"

	"github.com/go-resty/resty/v2"

	"tcg_scrooper/config"
	"tcg_scrooper/logging"
	"tcg_scrooper/models"
)

// defaultMaxPages bounds a paginated crawl when the source sets no limit.
const defaultMaxPages = 50

// APIHandler pages through a JSON listing endpoint.
type APIHandler struct {
	cfg    *config.SourceConfig
	client *resty.Client
}

func NewAPIHandler(cfg *config.SourceConfig, client *resty.Client) *APIHandler {
	return &APIHandler{cfg: cfg, client: client}
}

func (h *APIHandler) ID() string {
	return h.cfg.ID
}

func (h *APIHandler) Scrape(ctx context.Context, target config.Target) ([]models.RawListing, error) {
	if target.URL == "" {
		return nil, fmt.Errorf("api target for %s has no url", h.cfg.ID)
	}

	if h.cfg.PageParam == "" {
		return h.fetchPage(ctx, target, 0)
	}

	maxPages := h.cfg.MaxPages
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}

	var allListings []models.RawListing
	for page := 1; page <= maxPages; page++ {
		logging.Debugf("API: fetching page %d for %s", page, h.cfg.ID)

		listings, err := h.fetchPage(ctx, target, page)
		if err != nil {
			if len(allListings) > 0 {
				log.Printf("Warning: %s page %d failed, keeping %d listings: %v", h.cfg.ID, page, len(allListings), err)
				return allListings, nil
			}
			return nil, fmt.Errorf("page %d: %w", page, err)
		}

		if len(listings) == 0 {
			logging.Debugf("API: no more listings at page %d", page)
			break
		}

		allListings = append(allListings, listings...)
		logging.Debugf("API: page %d: %d listings (total: %d)", page, len(listings), len(allListings))

		if h.cfg.PageSize > 0 && len(listings) < h.cfg.PageSize {
			logging.Debugf("API: partial page, scrape complete")
			break
		}
	}

	return allListings, nil
}

func (h *APIHandler) fetchPage(ctx context.Context, target config.Target, page int) ([]models.RawListing, error) {
	req := h.client.R().SetContext(ctx).SetQueryParams(target.Query)
	if page > 0 {
		req.SetQueryParam(h.cfg.PageParam, strconv.Itoa(page))
	}

	resp, err := req.Get(target.URL)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%s API error %d: %s", h.cfg.ID, resp.StatusCode(), truncateBody(resp.Body()))
	}

	return decodeItems(resp.Body(), h.cfg.ItemsPath)
}

func truncateBody(b []byte) string {
	const max = 200
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
