package capture

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fermata-app/fermata/internal/config"
	"github.com/fermata-app/fermata/internal/domain"
	"github.com/fermata-app/fermata/internal/logging"
)

func silentLog() *logging.Logger {
	return logging.New(nil, "silent")
}

func newTestWatcher(t *testing.T, dir string) (*Watcher, *recordings) {
	t.Helper()
	w, err := NewWatcher(config.CaptureConfig{
		Dir:        dir,
		Role:       "practice",
		SettleMS:   50,
		Extensions: []string{".webm", ".mp4", ".mov"},
	}, silentLog())
	require.NoError(t, err)

	rec := &recordings{}
	w.OnRecording(rec.add)
	require.NoError(t, w.Start())
	t.Cleanup(func() { w.Stop() })
	return w, rec
}

type recordings struct {
	mu   sync.Mutex
	list []Recording
}

func (r *recordings) add(rec Recording) {
	r.mu.Lock()
	r.list = append(r.list, rec)
	r.mu.Unlock()
}

func (r *recordings) snapshot() []Recording {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Recording, len(r.list))
	copy(out, r.list)
	return out
}

func TestWatcherRequiresDir(t *testing.T) {
	_, err := NewWatcher(config.CaptureConfig{}, silentLog())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no directory")
}

func TestWatcherEmitsSettledRecording(t *testing.T) {
	dir := t.TempDir()
	_, rec := newTestWatcher(t, dir)

	path := filepath.Join(dir, "take.webm")
	require.NoError(t, os.WriteFile(path, []byte("webm-bytes"), 0o600))

	require.Eventually(t, func() bool {
		return len(rec.snapshot()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	got := rec.snapshot()[0]
	assert.Equal(t, path, got.Path)
	assert.Equal(t, domain.RolePractice, got.Role)
	assert.Equal(t, int64(10), got.Size)
}

func TestWatcherIgnoresOtherExtensions(t *testing.T) {
	dir := t.TempDir()
	_, rec := newTestWatcher(t, dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not a video"), 0o600))

	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, rec.snapshot())
}

func TestWatcherCoalescesWrites(t *testing.T) {
	dir := t.TempDir()
	_, rec := newTestWatcher(t, dir)

	path := filepath.Join(dir, "take.mp4")
	f, err := os.Create(path)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = f.Write([]byte("chunk"))
		require.NoError(t, err)
		require.NoError(t, f.Sync())
		time.Sleep(15 * time.Millisecond)
	}
	require.NoError(t, f.Close())

	require.Eventually(t, func() bool {
		return len(rec.snapshot()) >= 1
	}, 2*time.Second, 10*time.Millisecond)

	// Give the settle loop room to misfire before checking the count.
	time.Sleep(150 * time.Millisecond)
	got := rec.snapshot()
	require.Len(t, got, 1, "writes inside the settle window must coalesce")
	assert.Equal(t, int64(15), got[0].Size)
}

func TestWatcherSkipsRemovedFiles(t *testing.T) {
	dir := t.TempDir()
	_, rec := newTestWatcher(t, dir)

	path := filepath.Join(dir, "gone.webm")
	require.NoError(t, os.WriteFile(path, []byte("short-lived"), 0o600))
	require.NoError(t, os.Remove(path))

	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, rec.snapshot())
}

func TestWantsFile(t *testing.T) {
	w, err := NewWatcher(config.CaptureConfig{
		Dir:        t.TempDir(),
		Extensions: []string{".webm", ".MP4"},
	}, silentLog())
	require.NoError(t, err)
	defer w.watcher.Close()

	assert.True(t, w.wantsFile("/r/take.webm"))
	assert.True(t, w.wantsFile("/r/TAKE.WEBM"))
	assert.True(t, w.wantsFile("/r/clip.mp4"))
	assert.False(t, w.wantsFile("/r/notes.txt"))
	assert.False(t, w.wantsFile("/r/noext"))
}
