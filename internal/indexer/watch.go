package indexer

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bull/ffi-copilot/internal/extract"
)

// DefaultDebounce is how long the directory must stay quiet before a
// re-index starts.
const DefaultDebounce = 2 * time.Second

// Watch indexes dir once, then re-indexes whenever a supported file in it is
// created, written, renamed or removed. Bursts of events within debounce are
// collapsed into one run. Watch blocks until ctx is done. Re-runs never
// rebuild the collection; unchanged chunks are skipped by ID.
func (p *Pipeline) Watch(ctx context.Context, dir string, debounce time.Duration, onResult func(*IndexResult)) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	result, err := p.IndexDirectory(ctx, dir)
	if err != nil {
		return err
	}
	if onResult != nil {
		onResult(result)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	p.logger.Info("Watching for changes", "dir", dir, "debounce", debounce)

	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if !relevant(event) {
				continue
			}
			p.logger.Debug("File event", "name", event.Name, "op", event.Op.String())
			timer.Reset(debounce)

		case wErr, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			p.logger.Error("fsnotify error", "error", wErr)

		case <-timer.C:
			result, err := p.run(ctx, dir, false)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				p.logger.Error("Re-index failed", "dir", dir, "error", err)
				continue
			}
			if onResult != nil {
				onResult(result)
			}
		}
	}
}

func relevant(event fsnotify.Event) bool {
	if !extract.Supported(event.Name) {
		return false
	}
	return event.Has(fsnotify.Create) || event.Has(fsnotify.Write) ||
		event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove)
}
