package compose

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce groups the bursts of events editors produce on save.
const DefaultDebounce = 150 * time.Millisecond

// Watch calls fn whenever the compose file of scene changes on disk through
// something other than this repository. Events are debounced, and a change
// that leaves the content identical is ignored. Watch blocks until ctx is
// done.
func (r *Repository) Watch(ctx context.Context, scene string, debounce time.Duration, fn func()) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	// The directory is watched rather than the file: writes that replace the
	// file through a rename would otherwise drop the watch.
	if err := watcher.Add(r.sceneDir(scene)); err != nil {
		return fmt.Errorf("failed to watch scene %s: %w", scene, err)
	}

	target := filepath.Clean(r.FilePath(scene))
	last := r.fileHash(target)

	var timer *time.Timer
	var timerC <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			timerC = timer.C

		case <-timerC:
			timerC = nil
			b, err := os.ReadFile(target)
			if err != nil {
				// Removed or mid-replace; the next event settles it.
				continue
			}
			h := sha256.Sum256(b)
			if h == last {
				continue
			}
			last = h
			if r.lastWritten(scene, b) {
				continue
			}
			r.logger.Info("compose file changed on disk", "scene", scene)
			fn()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("file watcher error", "scene", scene, "error", err)
		}
	}
}

func (r *Repository) fileHash(path string) [sha256.Size]byte {
	b, err := os.ReadFile(path)
	if err != nil {
		return [sha256.Size]byte{}
	}
	return sha256.Sum256(b)
}
