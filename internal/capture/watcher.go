// Package capture watches a recordings directory and reports new video files
// once they have settled, turning finished recordings into upload triggers.
package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/fermata-app/fermata/internal/config"
	"github.com/fermata-app/fermata/internal/domain"
	"github.com/fermata-app/fermata/internal/logging"
)

// Recording is one settled video file ready for upload.
type Recording struct {
	Path string
	Role domain.VideoRole
	Size int64
}

// Watcher reports new recordings from a directory. A file counts as settled
// when no write has touched it for the configured settle window, which keeps
// half-written container files out of the upload path.
type Watcher struct {
	cfg     config.CaptureConfig
	watcher *fsnotify.Watcher
	settle  time.Duration
	role    domain.VideoRole
	log     *logging.Logger

	onRecording func(Recording)

	mu      sync.Mutex
	pending map[string]time.Time // path → last event

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWatcher creates a watcher for the configured recordings directory.
func NewWatcher(cfg config.CaptureConfig, log *logging.Logger) (*Watcher, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("capture: no directory configured")
	}
	if log == nil {
		log = logging.Nop()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("capture: create watcher: %w", err)
	}

	settle := time.Duration(cfg.SettleMS) * time.Millisecond
	if settle <= 0 {
		settle = 750 * time.Millisecond
	}
	role := domain.VideoRole(cfg.Role)
	if role == "" {
		role = domain.RolePractice
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		cfg:     cfg,
		watcher: fsw,
		settle:  settle,
		role:    role,
		log:     log.Sub("capture"),
		pending: make(map[string]time.Time),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// OnRecording sets the callback for settled recordings. It fires from the
// watcher's goroutine and must not block.
func (w *Watcher) OnRecording(fn func(Recording)) {
	w.onRecording = fn
}

// Start begins watching. The directory is created when missing.
func (w *Watcher) Start() error {
	if err := os.MkdirAll(w.cfg.Dir, 0o700); err != nil {
		return fmt.Errorf("capture: create recordings dir: %w", err)
	}
	if err := w.watcher.Add(w.cfg.Dir); err != nil {
		return fmt.Errorf("capture: watch %s: %w", w.cfg.Dir, err)
	}

	w.log.Info().Str("dir", w.cfg.Dir).Str("role", string(w.role)).Dur("settle", w.settle).Msg("watching recordings")

	w.wg.Add(2)
	go w.eventLoop()
	go w.settleLoop()
	return nil
}

// Stop halts the watcher and waits for its goroutines.
func (w *Watcher) Stop() error {
	w.cancel()
	w.wg.Wait()
	return w.watcher.Close()
}

func (w *Watcher) eventLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Msg("watcher error")
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !w.wantsFile(event.Name) {
		return
	}

	switch {
	case event.Has(fsnotify.Create) || event.Has(fsnotify.Write):
		w.mu.Lock()
		w.pending[event.Name] = time.Now()
		w.mu.Unlock()
	case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
		w.mu.Lock()
		delete(w.pending, event.Name)
		w.mu.Unlock()
	}
}

// settleLoop promotes pending files whose last event is older than the
// settle window.
func (w *Watcher) settleLoop() {
	defer w.wg.Done()

	interval := w.settle / 4
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.promoteSettled()
		}
	}
}

func (w *Watcher) promoteSettled() {
	now := time.Now()

	w.mu.Lock()
	var ready []string
	for path, last := range w.pending {
		if now.Sub(last) >= w.settle {
			ready = append(ready, path)
			delete(w.pending, path)
		}
	}
	w.mu.Unlock()

	for _, path := range ready {
		info, err := os.Stat(path)
		if err != nil {
			w.log.Debug().Str("path", path).Err(err).Msg("settled file vanished")
			continue
		}
		if info.Size() == 0 {
			w.log.Debug().Str("path", path).Msg("skipping empty recording")
			continue
		}

		w.log.Info().Str("path", path).Int64("size", info.Size()).Msg("recording settled")
		if w.onRecording != nil {
			w.onRecording(Recording{Path: path, Role: w.role, Size: info.Size()})
		}
	}
}

// wantsFile filters by the configured video extensions.
func (w *Watcher) wantsFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return false
	}
	for _, want := range w.cfg.Extensions {
		if strings.EqualFold(want, ext) {
			return true
		}
	}
	return false
}
