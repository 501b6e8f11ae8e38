package scraper

import (
	"context"
	"fmt"

	"tcg_scrooper/config"
	"tcg_scrooper/httputil"
	"tcg_scrooper/models"
)

// Handler fetches one target of a source and extracts its raw records.
// An empty result with a nil error means the target had nothing this round.
type Handler interface {
	ID() string
	Scrape(ctx context.Context, target config.Target) ([]models.RawListing, error)
}

func NewHandler(srcCfg *config.SourceConfig, clients *httputil.Clients, retries int) (Handler, error) {
	switch srcCfg.Handler {
	case "", "file":
		return NewFileHandler(srcCfg), nil
	case "api":
		return NewAPIHandler(srcCfg, httputil.NewSourceClient(clients.Scraping, srcCfg, retries)), nil
	case "html":
		return NewHTMLHandler(srcCfg, httputil.NewSourceClient(clients.Scraping, srcCfg, retries)), nil
	default:
		return nil, fmt.Errorf("unknown handler %q for source %s", srcCfg.Handler, srcCfg.ID)
	}
}
