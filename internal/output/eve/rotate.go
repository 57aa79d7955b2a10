package eve

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// RotationWatcher reopens a sink's output file after an external log rotator
// moves it away. It reacts to fsnotify rename/remove events on the file and
// to SIGHUP, the conventional reopen signal.
type RotationWatcher struct {
	sink      *Sink
	log       zerolog.Logger
	done      chan struct{}
	closeOnce sync.Once
}

// NewRotationWatcher creates a watcher for the sink's output path.
// Start must be called to begin watching.
func NewRotationWatcher(sink *Sink, log zerolog.Logger) *RotationWatcher {
	return &RotationWatcher{
		sink: sink,
		log:  log,
		done: make(chan struct{}),
	}
}

// Start watches for rotation until ctx is cancelled or Close is called.
// Reopen failures are logged; the watcher keeps running so a later rotation
// can still recover.
func (r *RotationWatcher) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("eve: creating rotation watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	// Watch the directory, not the file: once the file is renamed away the
	// file watch would go with it.
	path := r.sink.Path()
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("eve: watching %s: %w", filepath.Dir(path), err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	baseName := filepath.Base(path)

	// Debounce: rotators rename and recreate in quick succession.
	var debounce <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.done:
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != baseName {
				continue
			}
			if event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
				debounce = time.After(100 * time.Millisecond)
			}
		case <-debounce:
			r.reopen()
			debounce = nil
		case <-sigCh:
			r.reopen()
		case _, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			// Watcher errors are non-fatal; keep watching.
		}
	}
}

func (r *RotationWatcher) reopen() {
	if err := r.sink.Reopen(); err != nil {
		r.log.Error().Err(err).Str("path", r.sink.Path()).Msg("eve output reopen failed")
	}
}

// Close stops the watcher. Safe to call multiple times.
func (r *RotationWatcher) Close() {
	r.closeOnce.Do(func() {
		close(r.done)
	})
}
