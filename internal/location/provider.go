// Package location acquires device positions and keeps the bound trip's
// current location up to date.
package location

import (
	"context"
	"iter"
	"sync"

	"github.com/hitchsafe/companion/internal/domain"
)

// Provider is the device position source.
type Provider interface {
	// Current returns a single fix or a *domain.LocationUnavailable error.
	// The caller bounds the wait through ctx.
	Current(ctx context.Context) (domain.LocationSample, error)

	// Watch opens a continuous subscription. ctx only covers the setup; the
	// subscription lives until Cancel is called.
	Watch(ctx context.Context) (*Subscription, error)
}

// Update is one item delivered to a subscription: a sample or a failure.
type Update struct {
	Sample domain.LocationSample
	Err    error
}

// Subscription is a cancellable, infinite sequence of position updates.
// Once cancelled it never yields again; start a new Watch instead.
type Subscription struct {
	updates <-chan Update
	stop    func()
	once    sync.Once
	done    chan struct{}
}

// NewSubscription wraps a provider's update channel. stop, if non-nil, runs
// once when the subscription is cancelled.
func NewSubscription(updates <-chan Update, stop func()) *Subscription {
	return &Subscription{updates: updates, stop: stop, done: make(chan struct{})}
}

// All yields updates lazily until the subscription is cancelled or the
// provider closes the channel. Failed updates are yielded with a non-nil error.
func (s *Subscription) All() iter.Seq2[domain.LocationSample, error] {
	return func(yield func(domain.LocationSample, error) bool) {
		for {
			select {
			case <-s.done:
				return
			case u, ok := <-s.updates:
				if !ok {
					return
				}
				select {
				case <-s.done:
					return
				default:
				}
				if !yield(u.Sample, u.Err) {
					return
				}
			}
		}
	}
}

// Cancel ends the subscription. Safe to call more than once.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		close(s.done)
		if s.stop != nil {
			s.stop()
		}
	})
}

// Done is closed once the subscription is cancelled.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}
