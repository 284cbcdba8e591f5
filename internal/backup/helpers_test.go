package backup

import (
	"context"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testKeyHex = strings.Repeat("ab", 32)

// fileBackend is a DatabaseBackend whose "database" is a single file
type fileBackend struct {
	mu        sync.Mutex
	live      string
	exportErr error
	restored  int

	// afterExport runs once the export has been written
	afterExport func()
}

func newFileBackend(t *testing.T, content string) *fileBackend {
	t.Helper()
	live := filepath.Join(t.TempDir(), "live.db")
	require.NoError(t, os.WriteFile(live, []byte(content), 0600))
	return &fileBackend{live: live}
}

func (b *fileBackend) Name() string      { return "file" }
func (b *fileBackend) Extension() string { return ".db" }

func (b *fileBackend) Export(ctx context.Context, dst string) error {
	if b.exportErr != nil {
		// leave a partial file behind like a crashed dump would
		os.WriteFile(dst, []byte("partial"), 0600)
		return b.exportErr
	}
	data, err := os.ReadFile(b.live)
	if err != nil {
		return err
	}
	if err := os.WriteFile(dst, data, 0600); err != nil {
		return err
	}
	if b.afterExport != nil {
		b.afterExport()
	}
	return nil
}

func (b *fileBackend) Restore(ctx context.Context, src string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.restored++
	b.mu.Unlock()
	return os.WriteFile(b.live, data, 0600)
}

func (b *fileBackend) content(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(b.live)
	require.NoError(t, err)
	return string(data)
}

type fakeUploader struct {
	mu       sync.Mutex
	name     string
	err      error
	uploaded []string
}

func (u *fakeUploader) Name() string {
	if u.name == "" {
		return "fake"
	}
	return u.name
}

func (u *fakeUploader) Upload(ctx context.Context, path string) (string, error) {
	if u.err != nil {
		return "", u.err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.uploaded = append(u.uploaded, filepath.Base(path))
	return "fake://" + u.Name() + "/" + filepath.Base(path), nil
}

func (u *fakeUploader) HealthCheck(ctx context.Context) error {
	return u.err
}

type recordingHook struct {
	mu     sync.Mutex
	alerts []Alert
}

func (h *recordingHook) Notify(ctx context.Context, alert Alert) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.alerts = append(h.alerts, alert)
	return nil
}

func (h *recordingHook) types() []AlertType {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]AlertType, len(h.alerts))
	for i, a := range h.alerts {
		out[i] = a.Type
	}
	return out
}

type managerFixture struct {
	manager  *Manager
	backend  *fileBackend
	uploader *fakeUploader
	alerts   *recordingHook
	dir      string
}

func newManagerFixture(t *testing.T, mutate func(*Config)) *managerFixture {
	t.Helper()

	dir := t.TempDir()
	cfg := Config{}
	cfg.Database.URL = "sqlite:///unused.db"
	cfg.Backup.Directory = dir
	cfg.Backup.LockTimeout = 5 * time.Second
	cfg.Encryption.Key = testKeyHex
	cfg.Storage.Timeout = 5 * time.Second
	if mutate != nil {
		mutate(&cfg)
	}

	fx := &managerFixture{
		backend:  newFileBackend(t, "customers: 10 rows\n"),
		uploader: &fakeUploader{},
		alerts:   &recordingHook{},
		dir:      dir,
	}

	manager, err := NewManager(ManagerOptions{
		Config:   cfg,
		Backend:  fx.backend,
		Uploader: fx.uploader,
		Alerts:   fx.alerts,
	})
	require.NoError(t, err)
	fx.manager = manager
	return fx
}

// artifacts lists the finished artifacts in the backup directory
func (fx *managerFixture) artifacts(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(fx.dir)
	require.NoError(t, err)

	var names []string
	for _, e := range entries {
		if IsArtifact(e.Name(), DefaultPrefix) || strings.HasSuffix(e.Name(), extTemp) {
			names = append(names, e.Name())
		}
	}
	return names
}

func testKey(t *testing.T) []byte {
	t.Helper()
	key, err := hex.DecodeString(testKeyHex)
	require.NoError(t, err)
	return key
}

var errBoom = errors.New("boom")
