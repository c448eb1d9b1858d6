package peers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// LoadFile reads the peers file: {"peers": [{"id": "...", "addr": "..."}]}.
func LoadFile(path string) ([]Peer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var wrapper struct {
		Peers []Peer `json:"peers"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, fmt.Errorf("parse peers file: %w", err)
	}
	return wrapper.Peers, nil
}

// Watch reloads the peers file whenever it changes and hands the new list
// to onChange. A file that fails to parse keeps the previous membership;
// the error is logged, never propagated. Blocks until ctx is done.
func Watch(ctx context.Context, path string, onChange func([]Peer)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: editors replace files by rename, which drops a
	// watch on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}

	target := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			list, err := LoadFile(path)
			if err != nil {
				slog.Warn("peers file reload failed", "path", path, "error", err)
				continue
			}
			slog.Info("peers file reloaded", "path", path, "peers", len(list))
			onChange(list)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("peers watcher error", "error", err)
		}
	}
}
