// Package recording owns the emergency audio recording: a single open
// session at a time with an armed auto-stop ceiling.
package recording

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/hitchsafe/companion/internal/domain"
)

// Handle identifies one open recording inside a Recorder.
type Handle string

// Recorder is the device audio adapter.
type Recorder interface {
	// Start begins recording into name and returns a handle for it.
	Start(ctx context.Context, name string) (Handle, error)
	// Stop finalizes the recording and returns a reference to the saved audio.
	Stop(ctx context.Context, h Handle) (string, error)
}

// Appender is implemented by recorders that receive audio from outside,
// such as the UI streaming chunks over HTTP.
type Appender interface {
	Append(h Handle, p []byte) error
}

// FileRecorder writes each recording to a file under Dir. Audio chunks are
// pushed in through Append.
type FileRecorder struct {
	dir string

	mu    sync.Mutex
	files map[Handle]*os.File
}

// NewFileRecorder returns a recorder writing into dir.
func NewFileRecorder(dir string) *FileRecorder {
	return &FileRecorder{dir: dir, files: make(map[Handle]*os.File)}
}

func (r *FileRecorder) Start(_ context.Context, name string) (Handle, error) {
	if err := os.MkdirAll(r.dir, 0o750); err != nil {
		return "", fmt.Errorf("recording.FileRecorder.Start: %w: %w", domain.ErrRecording, err)
	}
	path := filepath.Join(r.dir, filepath.Base(name))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return "", fmt.Errorf("recording.FileRecorder.Start: %w: %w", domain.ErrRecording, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	h := Handle(path)
	r.files[h] = f
	return h, nil
}

func (r *FileRecorder) Append(h Handle, p []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.files[h]
	if !ok {
		return fmt.Errorf("recording.FileRecorder.Append: %w: unknown handle", domain.ErrRecording)
	}
	if _, err := f.Write(p); err != nil {
		return fmt.Errorf("recording.FileRecorder.Append: %w: %w", domain.ErrRecording, err)
	}
	return nil
}

func (r *FileRecorder) Stop(_ context.Context, h Handle) (string, error) {
	r.mu.Lock()
	f, ok := r.files[h]
	delete(r.files, h)
	r.mu.Unlock()

	if !ok {
		return "", fmt.Errorf("recording.FileRecorder.Stop: %w: unknown handle", domain.ErrRecording)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("recording.FileRecorder.Stop: %w: %w", domain.ErrRecording, err)
	}
	return string(h), nil
}
