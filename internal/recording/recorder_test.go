package recording_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitchsafe/companion/internal/domain"
	"github.com/hitchsafe/companion/internal/recording"
)

func TestFileRecorder_WritesAppendedAudio(t *testing.T) {
	dir := t.TempDir()
	s := recording.NewSession(recording.NewFileRecorder(dir), time.Minute, discardLogger())

	_, err := s.Start(context.Background(), "t1")
	require.NoError(t, err)
	require.NoError(t, s.Append([]byte("abc")))
	require.NoError(t, s.Append([]byte("def")))

	ref, ok, err := s.Stop(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, dir, filepath.Dir(ref))
	b, err := os.ReadFile(ref)
	require.NoError(t, err)
	assert.Equal(t, "abcdef", string(b))
}

func TestFileRecorder_StopUnknownHandle(t *testing.T) {
	r := recording.NewFileRecorder(t.TempDir())

	_, err := r.Stop(context.Background(), recording.Handle("nope"))

	assert.ErrorIs(t, err, domain.ErrRecording)
}
