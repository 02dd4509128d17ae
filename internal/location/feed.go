package location

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitchsafe/companion/internal/domain"
)

// DefaultMaxAge is how old a cached fix may be for Current to return it
// without waiting for a new one.
const DefaultMaxAge = 10 * time.Second

// subscriberBuffer bounds how far a slow subscriber may lag before updates
// are dropped for it.
const subscriberBuffer = 16

// FeedProvider is a Provider fed by the device layer: the OS position
// callbacks call Push and Fail, and the provider fans them out to Watch
// subscribers and pending Current calls.
type FeedProvider struct {
	log    *slog.Logger
	maxAge time.Duration
	now    func() time.Time

	mu     sync.Mutex
	last   *domain.LocationSample
	lastAt time.Time
	next   chan struct{}
	subs   map[uint64]chan Update
	nextID uint64
}

// NewFeedProvider returns a provider whose cached fix is reused for maxAge.
func NewFeedProvider(maxAge time.Duration, log *slog.Logger) *FeedProvider {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &FeedProvider{
		log:    log,
		maxAge: maxAge,
		now:    time.Now,
		next:   make(chan struct{}),
		subs:   make(map[uint64]chan Update),
	}
}

// Push delivers a new device fix. A zero Timestamp is stamped with the
// receive time.
func (p *FeedProvider) Push(sample domain.LocationSample) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if sample.Timestamp.IsZero() {
		sample.Timestamp = now
	}
	p.last = &sample
	p.lastAt = now

	close(p.next)
	p.next = make(chan struct{})

	p.broadcast(Update{Sample: sample})
}

// Fail delivers a failed fix (e.g. signal lost) to subscribers.
func (p *FeedProvider) Fail(reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.broadcast(Update{Err: &domain.LocationUnavailable{Reason: reason}})
}

// broadcast must be called with p.mu held.
func (p *FeedProvider) broadcast(u Update) {
	for id, ch := range p.subs {
		select {
		case ch <- u:
		default:
			p.log.Warn("location subscriber lagging, update dropped", "subscriber", id)
		}
	}
}

// Current returns the cached fix while it is younger than maxAge, otherwise
// waits for the next Push until ctx is done.
func (p *FeedProvider) Current(ctx context.Context) (domain.LocationSample, error) {
	p.mu.Lock()
	if p.last != nil && p.now().Sub(p.lastAt) <= p.maxAge {
		s := *p.last
		p.mu.Unlock()
		return s, nil
	}
	next := p.next
	p.mu.Unlock()

	select {
	case <-next:
		p.mu.Lock()
		defer p.mu.Unlock()
		return *p.last, nil
	case <-ctx.Done():
		return domain.LocationSample{}, &domain.LocationUnavailable{Reason: "timeout"}
	}
}

// Watch registers a new subscriber.
func (p *FeedProvider) Watch(_ context.Context) (*Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextID
	p.nextID++
	ch := make(chan Update, subscriberBuffer)
	p.subs[id] = ch

	return NewSubscription(ch, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.subs, id)
	}), nil
}

// Subscribers reports how many subscriptions are open.
func (p *FeedProvider) Subscribers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}
