package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"tcg_scrooper/models"
)

// SnapshotFileName names a snapshot after its generation time so files sort chronologically.
func SnapshotFileName(t time.Time) string {
	return fmt.Sprintf("listings-%s.json", t.UTC().Format("20060102T150405Z"))
}

// EncodeSnapshot renders a snapshot as indented JSON.
func EncodeSnapshot(snap *models.Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteSnapshot writes snap into dir and returns the file path. The write goes
// through a temp file so readers never see a partial document.
func WriteSnapshot(dir string, snap *models.Snapshot) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}

	data, err := EncodeSnapshot(snap)
	if err != nil {
		return "", err
	}

	path := filepath.Join(dir, SnapshotFileName(snap.GeneratedAt))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("rename snapshot: %w", err)
	}
	return path, nil
}

// LoadSnapshot reads a snapshot document. A bare JSON array of listings is accepted too.
func LoadSnapshot(path string) (*models.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var listings []models.Listing
		if err := json.Unmarshal(trimmed, &listings); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		return &models.Snapshot{Listings: listings}, nil
	}

	var snap models.Snapshot
	if err := json.Unmarshal(trimmed, &snap); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &snap, nil
}

// LatestSnapshot returns the newest snapshot file in dir, or "" when there is none.
func LatestSnapshot(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "listings-*.json"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", nil
	}
	latest := matches[0]
	for _, m := range matches[1:] {
		if m > latest {
			latest = m
		}
	}
	return latest, nil
}
