package recording

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitchsafe/companion/internal/domain"
)

// DefaultCeiling is how long a recording runs before it stops itself.
const DefaultCeiling = 5 * time.Minute

// StopFunc is called once per finished recording with the trip it belonged
// to and the saved audio reference.
type StopFunc func(tripID, ref string)

type openRecording struct {
	gen       uint64
	tripID    string
	handle    Handle
	startedAt time.Time
}

// Session is the process-wide recording resource. At most one recording is
// open; explicit stop disarms the auto-stop timer, and a timer left over from
// an earlier recording never stops a newer one.
type Session struct {
	rec     Recorder
	ceiling time.Duration
	log     *slog.Logger
	now     func() time.Time

	mu     sync.Mutex
	gen    uint64
	open   *openRecording
	timer  *time.Timer
	onStop []StopFunc
}

// NewSession constructs a Session. A non-positive ceiling uses DefaultCeiling.
func NewSession(rec Recorder, ceiling time.Duration, log *slog.Logger) *Session {
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}
	return &Session{rec: rec, ceiling: ceiling, log: log, now: time.Now}
}

// OnStop registers a callback run after every successful stop, explicit or
// automatic.
func (s *Session) OnStop(fn StopFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStop = append(s.onStop, fn)
}

// Start opens a recording for tripID. It returns false without error when a
// recording is already open.
func (s *Session) Start(ctx context.Context, tripID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.open != nil {
		return false, nil
	}

	startedAt := s.now()
	name := fmt.Sprintf("emergency_recording_%d.mp4", startedAt.UnixMilli())
	h, err := s.rec.Start(ctx, name)
	if err != nil {
		return false, fmt.Errorf("recording.Session.Start: %w", err)
	}

	s.gen++
	gen := s.gen
	s.open = &openRecording{gen: gen, tripID: tripID, handle: h, startedAt: startedAt}
	s.timer = time.AfterFunc(s.ceiling, func() { s.autoStop(gen) })

	s.log.Info("emergency recording started", "trip_id", tripID, "ceiling", s.ceiling.String())
	return true, nil
}

// Stop closes the open recording. ok is false when nothing was open.
func (s *Session) Stop(ctx context.Context) (ref string, ok bool, err error) {
	s.mu.Lock()
	o := s.take()
	s.mu.Unlock()

	if o == nil {
		return "", false, nil
	}
	ref, err = s.finish(ctx, o)
	if err != nil {
		return "", true, fmt.Errorf("recording.Session.Stop: %w", err)
	}
	return ref, true, nil
}

// StopTrip closes the open recording only when it belongs to tripID. ok is
// false when nothing was open or the recording is for another trip.
func (s *Session) StopTrip(ctx context.Context, tripID string) (ref string, ok bool, err error) {
	s.mu.Lock()
	if s.open == nil || s.open.tripID != tripID {
		s.mu.Unlock()
		return "", false, nil
	}
	o := s.take()
	s.mu.Unlock()

	ref, err = s.finish(ctx, o)
	if err != nil {
		return "", true, fmt.Errorf("recording.Session.StopTrip: %w", err)
	}
	return ref, true, nil
}

// TripID returns the trip the open recording belongs to.
func (s *Session) TripID() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open == nil {
		return "", false
	}
	return s.open.tripID, true
}

// Append forwards an audio chunk to the open recording.
func (s *Session) Append(p []byte) error {
	s.mu.Lock()
	o := s.open
	s.mu.Unlock()

	if o == nil {
		return fmt.Errorf("recording.Session.Append: %w: no recording open", domain.ErrRecording)
	}
	ap, ok := s.rec.(Appender)
	if !ok {
		return fmt.Errorf("recording.Session.Append: %w: recorder does not accept audio", domain.ErrRecording)
	}
	if err := ap.Append(o.handle, p); err != nil {
		return fmt.Errorf("recording.Session.Append: %w", err)
	}
	return nil
}

// IsOpen reports whether a recording is in progress.
func (s *Session) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open != nil
}

// take detaches the open recording and disarms its timer. Must be called
// with s.mu held.
func (s *Session) take() *openRecording {
	o := s.open
	s.open = nil
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	return o
}

func (s *Session) autoStop(gen uint64) {
	s.mu.Lock()
	if s.open == nil || s.open.gen != gen {
		s.mu.Unlock()
		return
	}
	o := s.take()
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.log.Info("emergency recording reached its ceiling", "trip_id", o.tripID)
	if _, err := s.finish(ctx, o); err != nil {
		s.log.Error("emergency recording auto-stop failed", "trip_id", o.tripID, "error", err)
	}
}

func (s *Session) finish(ctx context.Context, o *openRecording) (string, error) {
	ref, err := s.rec.Stop(ctx, o.handle)
	if err != nil {
		return "", err
	}
	s.log.Info("emergency recording stopped",
		"trip_id", o.tripID,
		"ref", ref,
		"duration", s.now().Sub(o.startedAt).Round(time.Second).String(),
	)

	s.mu.Lock()
	callbacks := s.onStop
	s.mu.Unlock()
	for _, fn := range callbacks {
		fn(o.tripID, ref)
	}
	return ref, nil
}
