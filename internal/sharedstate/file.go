package sharedstate

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

const recordExt = ".json"

// FileBackend stores each record as <dir>/<name>.json.
type FileBackend struct {
	dir    string
	logger *slog.Logger
}

// NewFileBackend creates the directory if needed
func NewFileBackend(dir string, logger *slog.Logger) (*FileBackend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &FileBackend{dir: dir, logger: logger}, nil
}

// Dir returns the state directory
func (b *FileBackend) Dir() string {
	return b.dir
}

func (b *FileBackend) path(name string) string {
	return filepath.Join(b.dir, name+recordExt)
}

// PutRecord writes the document atomically using a temp file and rename.
func (b *FileBackend) PutRecord(_ context.Context, name string, doc []byte) error {
	tmp, err := os.CreateTemp(b.dir, "."+name+"-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", name, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(doc); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("writing %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("writing %s: %w", name, err)
	}
	if err := os.Rename(tmpPath, b.path(name)); err != nil {
		_ = os.Remove(tmpPath) // best effort
		return fmt.Errorf("committing %s: %w", name, err)
	}
	return nil
}

// GetRecord reads a record. ok is false when the file does not exist.
func (b *FileBackend) GetRecord(_ context.Context, name string) ([]byte, bool, error) {
	data, err := os.ReadFile(b.path(name))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading %s: %w", name, err)
	}
	return data, true, nil
}

// ClearRecords removes every record file. Missing files are not an error,
// so clearing twice is the same as clearing once.
func (b *FileBackend) ClearRecords(context.Context) error {
	for _, name := range RecordNames {
		if err := os.Remove(b.path(name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing %s: %w", name, err)
		}
	}
	return nil
}

// Watch calls fn with the record name whenever a record file is written,
// replaced or removed. It blocks until ctx is done.
func (b *FileBackend) Watch(ctx context.Context, fn func(name string)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(b.dir); err != nil {
		return fmt.Errorf("watching %s: %w", b.dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			name, ok := recordName(event.Name)
			if !ok {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				fn(name)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			b.logger.Warn("state watcher error", "err", err)
		}
	}
}

// recordName maps a file path back to a known record name. Temp files are ignored.
func recordName(path string) (string, bool) {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || filepath.Ext(base) != recordExt {
		return "", false
	}
	name := strings.TrimSuffix(base, recordExt)
	for _, known := range RecordNames {
		if name == known {
			return name, true
		}
	}
	return "", false
}
