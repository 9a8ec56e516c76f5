// Package catalog reads the ordered list of videos the feed plays.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/justestif/go-shorts-feed/internal/log"
)

// Entry is one catalog video. Filename is the video id; the rest is display metadata.
type Entry struct {
	Filename    string `json:"filename"`
	Title       string `json:"title"`
	Genre       string `json:"genre"`
	Description string `json:"description"`
	Year        string `json:"year"`
}

// Lister returns the current catalog in order.
type Lister interface {
	List(ctx context.Context) ([]Entry, error)
}

// IDs returns the video ids of entries in order.
func IDs(entries []Entry) []string {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.Filename
	}
	return ids
}

// Static is a fixed catalog.
type Static []Entry

// List returns a copy of the entries.
func (s Static) List(context.Context) ([]Entry, error) {
	return slices.Clone([]Entry(s)), nil
}

// DefaultDebounce coalesces bursts of file events into one change notification.
const DefaultDebounce = 500 * time.Millisecond

// FileCatalog reads a videos.json document: a JSON array of entries.
type FileCatalog struct {
	path     string
	debounce time.Duration
	logger   zerolog.Logger
}

// NewFileCatalog returns a catalog backed by the document at path.
func NewFileCatalog(path string) *FileCatalog {
	return &FileCatalog{
		path:     path,
		debounce: DefaultDebounce,
		logger:   log.WithComponent("catalog"),
	}
}

// Path returns the document path.
func (c *FileCatalog) Path() string { return c.path }

// List reads the document. A missing file is an empty catalog.
func (c *FileCatalog) List(_ context.Context) ([]Entry, error) {
	data, err := os.ReadFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return []Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	if len(data) == 0 {
		return []Entry{}, nil
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decoding catalog %s: %w", c.path, err)
	}
	// Entries without a filename cannot be addressed.
	entries = slices.DeleteFunc(entries, func(e Entry) bool { return e.Filename == "" })
	return entries, nil
}

// Watch calls onChange with the freshly read catalog whenever the document changes.
// It blocks until ctx is done. The parent directory is watched so atomic replaces are seen.
func (c *FileCatalog) Watch(ctx context.Context, onChange func([]Entry)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	dir := filepath.Dir(c.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch catalog dir: %w", err)
	}
	c.logger.Info().Str("path", c.path).Msg("watching catalog for changes")

	name := filepath.Clean(c.path)
	timer := time.NewTimer(c.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != name {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
				timer.Reset(c.debounce)
			}

		case <-timer.C:
			entries, err := c.List(ctx)
			if err != nil {
				c.logger.Error().Err(err).Msg("catalog reload failed")
				continue
			}
			c.logger.Info().Int("videos", len(entries)).Msg("catalog changed")
			onChange(entries)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.logger.Error().Err(err).Msg("catalog watcher error")
		}
	}
}
