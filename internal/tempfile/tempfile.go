package tempfile

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// ErrTooLarge is returned by Store when an upload exceeds the configured
// maximum artifact size.
var ErrTooLarge = errors.New("uploaded file exceeds maximum allowed size")

// Manager owns the lifecycle of uploaded study-material artifacts on disk.
type Manager struct {
	dir     string
	maxSize int64
}

// Artifact is a handle to a stored upload. Callers must call Release when
// done with it; Release is idempotent.
type Artifact struct {
	Path      string
	MediaType string
	Size      int64

	releaseOnce sync.Once
}

// NewManager creates a manager rooted at dir, creating it if needed.
// Artifacts larger than maxSize bytes are rejected.
func NewManager(dir string, maxSize int64) (*Manager, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "examgen")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create temp dir %s: %w", dir, err)
	}
	return &Manager{dir: dir, maxSize: maxSize}, nil
}

// Store streams r into a new file under the manager's directory. The size
// limit is enforced during the copy, so an oversized upload is rejected
// without being fully buffered.
func (m *Manager) Store(r io.Reader, mediaType string) (*Artifact, error) {
	path := filepath.Join(m.dir, uuid.New().String())
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create artifact file: %w", err)
	}

	// Copy one byte past the limit so an exact overflow is detectable.
	n, err := io.Copy(f, io.LimitReader(r, m.maxSize+1))
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		removeQuiet(path)
		return nil, fmt.Errorf("write artifact file: %w", err)
	}
	if n > m.maxSize {
		removeQuiet(path)
		return nil, ErrTooLarge
	}

	return &Artifact{Path: path, MediaType: mediaType, Size: n}, nil
}

// ReadAll returns the artifact's full contents.
func (a *Artifact) ReadAll() ([]byte, error) {
	data, err := os.ReadFile(a.Path)
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", a.Path, err)
	}
	return data, nil
}

// Release deletes the underlying file. It is safe to call any number of
// times and never fails the caller; removal problems are only logged.
func (a *Artifact) Release() {
	a.releaseOnce.Do(func() {
		removeQuiet(a.Path)
	})
}

func removeQuiet(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to remove artifact file", "path", path, "error", err)
	}
}
