package api

import (
	"log"
	"os"
	"path/filepath"
	"time"
)

// PlotCache keeps rendered heat maps on disk. Plots of past days never
// change, so only entries for the current day expire.
type PlotCache struct {
	dir    string
	maxAge time.Duration
}

// NewPlotCache creates a cache in dir. Entries for today are re-rendered
// after maxAge.
func NewPlotCache(dir string, maxAge time.Duration) *PlotCache {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Printf("api: create plot cache dir: %v", err)
	}
	return &PlotCache{dir: dir, maxAge: maxAge}
}

func (c *PlotCache) path(name string) string {
	return filepath.Join(c.dir, name)
}

// Get returns the cached image called name. Entries written on or before
// the day they plot are treated as stale after maxAge.
func (c *PlotCache) Get(name string, day time.Time) ([]byte, bool) {
	info, err := os.Stat(c.path(name))
	if err != nil {
		return nil, false
	}
	if info.ModTime().Before(day.AddDate(0, 0, 1)) && time.Since(info.ModTime()) > c.maxAge {
		return nil, false
	}

	data, err := os.ReadFile(c.path(name))
	if err != nil {
		return nil, false
	}
	return data, true
}

func (c *PlotCache) Set(name string, data []byte) error {
	return os.WriteFile(c.path(name), data, 0o644)
}

// List returns the names of all cached images.
func (c *PlotCache) List() []string {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ".png" {
			names = append(names, entry.Name())
		}
	}
	return names
}
