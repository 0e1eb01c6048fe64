package repoindex

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch follows filesystem events under the repository root and marks
// changed paths dirty so the next gathering phase resyncs them instead of
// trusting stale summaries. It returns when the context is canceled.
func (ix *Index) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// fsnotify is not recursive; register every tracked directory.
	err = filepath.WalkDir(ix.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if path != ix.root && ix.matcher.ShouldIgnoreDir(path) {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
	if err != nil {
		return fmt.Errorf("failed to register watch directories: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if ix.matcher.ShouldIgnore(event.Name) {
				continue
			}

			rel, err := filepath.Rel(ix.root, event.Name)
			if err != nil {
				continue
			}
			ix.MarkDirty(filepath.ToSlash(rel))

			// New directories need their own watch registration.
			if event.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(event.Name); statErr == nil && info.IsDir() {
					_ = watcher.Add(event.Name)
				}
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			ix.logger.Warn("watcher error: %v", err)
		}
	}
}
