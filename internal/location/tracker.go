package location

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitchsafe/companion/internal/domain"
)

// LocationWriter persists a trip's current location.
type LocationWriter interface {
	UpdateLocation(ctx context.Context, tripID string, sample domain.LocationSample) error
}

// SampleObserver is notified after a sample has been written for tripID.
type SampleObserver func(tripID string, sample domain.LocationSample)

// Config tunes the tracker.
type Config struct {
	// MinDistanceMeters and MinInterval gate which samples are written:
	// whichever threshold is crossed first lets the sample through.
	MinDistanceMeters float64
	MinInterval       time.Duration

	// CurrentTimeout bounds a one-shot CurrentLocation call.
	CurrentTimeout time.Duration

	// WriteTimeout bounds each persistence write.
	WriteTimeout time.Duration
}

// DefaultConfig returns the tracker defaults: 10 m, 5 s, 15 s, 10 s.
func DefaultConfig() Config {
	return Config{
		MinDistanceMeters: 10,
		MinInterval:       5 * time.Second,
		CurrentTimeout:    15 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// Tracker binds a single live subscription to at most one trip at a time.
// Rebinding cancels the previous subscription before the new one writes,
// and samples from a superseded binding are never written. StopTracking and
// StartTracking return only once a write already in flight for the old
// binding has finished, and that write is not reported to observers.
type Tracker struct {
	provider Provider
	writer   LocationWriter
	cfg      Config
	log      *slog.Logger

	// writing is held across the binding check and the store write.
	writing sync.Mutex

	mu        sync.Mutex
	gen       uint64
	tripID    string
	sub       *Subscription
	observers []SampleObserver
}

// NewTracker constructs a Tracker. Zero-valued Config fields take defaults.
func NewTracker(provider Provider, writer LocationWriter, cfg Config, log *slog.Logger) *Tracker {
	def := DefaultConfig()
	if cfg.MinDistanceMeters <= 0 {
		cfg.MinDistanceMeters = def.MinDistanceMeters
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = def.MinInterval
	}
	if cfg.CurrentTimeout <= 0 {
		cfg.CurrentTimeout = def.CurrentTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	return &Tracker{provider: provider, writer: writer, cfg: cfg, log: log}
}

// OnSample registers an observer for written samples.
func (t *Tracker) OnSample(fn SampleObserver) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observers = append(t.observers, fn)
}

// CurrentLocation returns one fix, waiting at most CurrentTimeout.
// Failures are always reported as *domain.LocationUnavailable.
func (t *Tracker) CurrentLocation(ctx context.Context) (domain.LocationSample, error) {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.CurrentTimeout)
	defer cancel()

	s, err := t.provider.Current(ctx)
	if err == nil {
		return s, nil
	}
	if errors.Is(err, domain.ErrLocationUnavailable) {
		return domain.LocationSample{}, err
	}
	if ctx.Err() != nil {
		return domain.LocationSample{}, &domain.LocationUnavailable{Reason: "timeout"}
	}
	return domain.LocationSample{}, &domain.LocationUnavailable{Reason: err.Error()}
}

// StartTracking binds the live subscription to tripID, replacing any
// previous binding. ctx only covers opening the subscription.
func (t *Tracker) StartTracking(ctx context.Context, tripID string) error {
	if tripID == "" {
		return fmt.Errorf("location.Tracker.StartTracking: %w: trip id is required", domain.ErrValidation)
	}

	sub, err := t.provider.Watch(ctx)
	if err != nil {
		return fmt.Errorf("location.Tracker.StartTracking: %w", err)
	}

	t.mu.Lock()
	prev := t.sub
	t.gen++
	gen := t.gen
	t.tripID = tripID
	t.sub = sub
	t.mu.Unlock()

	if prev != nil {
		prev.Cancel()
		t.drain()
	}

	go t.run(gen, tripID, sub)
	t.log.Info("location tracking started", "trip_id", tripID)
	return nil
}

// StopTracking cancels the live subscription. Safe to call when idle.
func (t *Tracker) StopTracking() {
	t.mu.Lock()
	sub := t.sub
	tripID := t.tripID
	if sub == nil {
		t.mu.Unlock()
		return
	}
	t.sub = nil
	t.tripID = ""
	t.gen++
	t.mu.Unlock()

	sub.Cancel()
	t.drain()
	t.log.Info("location tracking stopped", "trip_id", tripID)
}

// Tracking reports the bound trip, if any.
func (t *Tracker) Tracking() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tripID, t.sub != nil
}

// drain waits for an in-flight write of a superseded binding.
func (t *Tracker) drain() {
	t.writing.Lock()
	t.writing.Unlock()
}

func (t *Tracker) bound(gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.gen == gen
}

func (t *Tracker) run(gen uint64, tripID string, sub *Subscription) {
	th := newThrottle(t.cfg.MinDistanceMeters, t.cfg.MinInterval)
	for sample, err := range sub.All() {
		if !t.bound(gen) {
			return
		}
		if err != nil {
			t.log.Warn("location update failed", "trip_id", tripID, "error", err)
			continue
		}
		if !th.accept(sample) {
			continue
		}
		t.write(gen, tripID, sample)
	}
}

func (t *Tracker) write(gen uint64, tripID string, sample domain.LocationSample) {
	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.WriteTimeout)
	defer cancel()

	t.writing.Lock()
	if !t.bound(gen) {
		t.writing.Unlock()
		return
	}
	err := t.writer.UpdateLocation(ctx, tripID, sample)
	t.writing.Unlock()
	if err != nil {
		// The next accepted sample overwrites this one anyway.
		t.log.Warn("location write failed", "trip_id", tripID, "error", err)
		return
	}

	t.mu.Lock()
	observers := t.observers
	current := t.gen == gen
	t.mu.Unlock()
	if !current {
		t.log.Debug("tracking stopped during write, sample not published", "trip_id", tripID)
		return
	}
	for _, fn := range observers {
		fn(tripID, sample)
	}
}
