package scraper

import (
	"encoding/json"
	"fmt"

	"tcg_scrooper/models"
	"tcg_scrooper/normalize"
)

// extractItems pulls the record list out of a decoded JSON document. With an empty
// path the document itself must be an array, or an object holding one of the usual
// list keys.
func extractItems(doc any, itemsPath string) ([]models.RawListing, error) {
	node := doc
	if itemsPath != "" {
		obj, ok := doc.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("items_path %q: document is not an object", itemsPath)
		}
		v, found := normalize.Lookup(obj, itemsPath)
		if !found {
			return nil, nil
		}
		node = v
	} else if obj, ok := doc.(map[string]any); ok {
		node = nil
		for _, key := range []string{"items", "listings", "results", "data"} {
			if v, ok := obj[key].([]any); ok {
				node = v
				break
			}
		}
		if node == nil {
			return nil, fmt.Errorf("no items array found in document")
		}
	}

	arr, ok := node.([]any)
	if !ok {
		return nil, fmt.Errorf("items at %q is not an array", itemsPath)
	}

	items := make([]models.RawListing, 0, len(arr))
	for _, el := range arr {
		if m, ok := el.(map[string]any); ok {
			items = append(items, models.RawListing(m))
		}
	}
	return items, nil
}

func decodeItems(data []byte, itemsPath string) ([]models.RawListing, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	return extractItems(doc, itemsPath)
}
