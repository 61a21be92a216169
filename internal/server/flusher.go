package server

import (
	"strings"
	"sync"
	"time"
)

// streamFlusherConfig controls when buffered narration is flushed.
type streamFlusherConfig struct {
	// MaxBufferBytes triggers a flush when the buffer reaches this size.
	// Default: 300 bytes.
	MaxBufferBytes int

	// IdleTimeout triggers a flush when no new delta arrives within this duration.
	// Default: 2 seconds.
	IdleTimeout time.Duration
}

// streamFlusher accumulates streaming producer deltas and emits them at
// natural text boundaries (sentences, paragraphs, size limit, idle timeout)
// so the coach speaks in readable chunks instead of word fragments.
type streamFlusher struct {
	cfg  streamFlusherConfig
	emit func(string)

	mu      sync.Mutex
	buf     strings.Builder
	timer   *time.Timer
	flushed bool
}

func newStreamFlusher(cfg streamFlusherConfig, emit func(string)) *streamFlusher {
	if cfg.MaxBufferBytes <= 0 {
		cfg.MaxBufferBytes = 300
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 2 * time.Second
	}
	return &streamFlusher{cfg: cfg, emit: emit}
}

// OnDelta appends a text delta to the buffer and flushes if a boundary is reached.
func (f *streamFlusher) OnDelta(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.buf.WriteString(text)

	// Reset idle timer
	if f.timer != nil {
		f.timer.Stop()
	}
	f.timer = time.AfterFunc(f.cfg.IdleTimeout, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.flushLocked()
	})

	f.checkFlushLocked()
}

// Flush emits any remaining buffered content. Call after the stream ends
// and before anything that must be ordered behind the narration.
func (f *streamFlusher) Flush() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.timer != nil {
		f.timer.Stop()
	}
	f.flushLocked()
}

// Flushed returns true if at least one chunk was emitted.
func (f *streamFlusher) Flushed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flushed
}

// checkFlushLocked examines the buffer for natural flush boundaries.
func (f *streamFlusher) checkFlushLocked() {
	content := f.buf.String()

	// Size threshold
	if len(content) >= f.cfg.MaxBufferBytes {
		f.flushLocked()
		return
	}

	// Paragraph boundary: double newline
	if idx := strings.LastIndex(content, "\n\n"); idx >= 0 {
		f.flushAtLocked(idx + 2)
		return
	}

	// Sentence boundary
	if pos := lastSentenceEnd(content); pos > 0 {
		f.flushAtLocked(pos)
		return
	}
}

// flushAtLocked emits the first pos bytes of the buffer and keeps the rest.
func (f *streamFlusher) flushAtLocked(pos int) {
	content := f.buf.String()
	if pos > len(content) {
		pos = len(content)
	}
	toSend := strings.TrimSpace(content[:pos])
	if toSend == "" {
		return
	}

	f.emit(toSend)
	f.flushed = true

	remainder := content[pos:]
	f.buf.Reset()
	f.buf.WriteString(remainder)
}

// flushLocked emits the entire buffer.
func (f *streamFlusher) flushLocked() {
	content := strings.TrimSpace(f.buf.String())
	if content == "" {
		return
	}
	f.emit(content)
	f.flushed = true
	f.buf.Reset()
}

// lastSentenceEnd returns the byte position just past the last sentence-ending
// punctuation (. ! ?) that is followed by a space or newline. Returns -1 if no
// suitable boundary is found or the buffer is too small (< 40 bytes).
func lastSentenceEnd(s string) int {
	best := -1
	for i := 0; i < len(s)-1; i++ {
		if (s[i] == '.' || s[i] == '!' || s[i] == '?') &&
			(s[i+1] == ' ' || s[i+1] == '\n') {
			best = i + 1
		}
	}
	if best > 40 {
		return best
	}
	return -1
}
