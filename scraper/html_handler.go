package scraper

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"

	"tcg_scrooper/config"
	"tcg_scrooper/logging"
	"tcg_scrooper/models"
)

// HTMLHandler scrapes server-rendered listing pages with CSS selectors.
// A field selector may end in @attr to read an attribute instead of text,
// e.g. "a.title@href". An empty selector before @ reads the item node itself.
type HTMLHandler struct {
	cfg    *config.SourceConfig
	client *resty.Client
}

func NewHTMLHandler(cfg *config.SourceConfig, client *resty.Client) *HTMLHandler {
	return &HTMLHandler{cfg: cfg, client: client}
}

func (h *HTMLHandler) ID() string {
	return h.cfg.ID
}

func (h *HTMLHandler) Scrape(ctx context.Context, target config.Target) ([]models.RawListing, error) {
	if target.URL == "" {
		return nil, fmt.Errorf("html target for %s has no url", h.cfg.ID)
	}
	if h.cfg.Selectors.Item == "" {
		return nil, fmt.Errorf("source %s has no item selector", h.cfg.ID)
	}

	if h.cfg.PageParam == "" {
		return h.fetchPage(ctx, target, 0)
	}

	maxPages := h.cfg.MaxPages
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}

	var all []models.RawListing
	for page := 1; page <= maxPages; page++ {
		listings, err := h.fetchPage(ctx, target, page)
		if err != nil {
			if len(all) > 0 {
				log.Printf("Warning: %s page %d failed, keeping %d listings: %v", h.cfg.ID, page, len(all), err)
				return all, nil
			}
			return nil, fmt.Errorf("page %d: %w", page, err)
		}
		if len(listings) == 0 {
			break
		}
		all = append(all, listings...)
		logging.Debugf("HTML: page %d: %d listings (total: %d)", page, len(listings), len(all))
	}
	return all, nil
}

func (h *HTMLHandler) fetchPage(ctx context.Context, target config.Target, page int) ([]models.RawListing, error) {
	req := h.client.R().SetContext(ctx).SetQueryParams(target.Query)
	if page > 0 {
		req.SetQueryParam(h.cfg.PageParam, strconv.Itoa(page))
	}

	resp, err := req.Get(target.URL)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%s returned %d", h.cfg.ID, resp.StatusCode())
	}

	base, _ := url.Parse(target.URL)
	return h.parse(resp.Body(), base)
}

func (h *HTMLHandler) parse(body []byte, base *url.URL) ([]models.RawListing, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var listings []models.RawListing
	doc.Find(h.cfg.Selectors.Item).Each(func(_ int, item *goquery.Selection) {
		raw := models.RawListing{}
		for field, sel := range h.cfg.Selectors.Fields {
			v := selectValue(item, sel)
			if v == "" {
				continue
			}
			if field == "url" && base != nil {
				if ref, err := url.Parse(v); err == nil {
					v = base.ResolveReference(ref).String()
				}
			}
			raw[field] = v
		}
		if len(raw) > 0 {
			listings = append(listings, raw)
		}
	})
	return listings, nil
}

func selectValue(item *goquery.Selection, selector string) string {
	sel, attr := selector, ""
	if i := strings.LastIndex(selector, "@"); i >= 0 {
		sel, attr = selector[:i], selector[i+1:]
	}

	node := item
	if strings.TrimSpace(sel) != "" {
		node = item.Find(sel).First()
	}
	if node.Length() == 0 {
		return ""
	}

	if attr != "" {
		v, _ := node.Attr(attr)
		return strings.TrimSpace(v)
	}
	return strings.Join(strings.Fields(node.Text()), " ")
}
