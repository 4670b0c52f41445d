package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"live-activity-service/internal/domain"
)

// PINLookup finds the open event holding a game pin.
type PINLookup interface {
	FindEventByPIN(ctx context.Context, pin string) (domain.Event, error)
}

// PINDirectory caches pin to event id lookups with TTL to avoid repeated
// storage hits while a crowd joins.
type PINDirectory struct {
	lookup PINLookup
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group

	mu    sync.RWMutex
	rnd   *rand.Rand
	cache map[string]cachedPIN
}

type cachedPIN struct {
	eventID   string
	expiresAt time.Time
}

func NewPINDirectory(lookup PINLookup, ttl time.Duration) *PINDirectory {
	return &PINDirectory{
		lookup: lookup,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedPIN),
	}
}

func (d *PINDirectory) Resolve(ctx context.Context, pin string) (string, error) {
	if eventID, ok := d.cached(pin); ok {
		return eventID, nil
	}

	result, err, _ := d.sf.Do(pin, func() (interface{}, error) {
		if eventID, ok := d.cached(pin); ok {
			return eventID, nil
		}
		event, err := d.lookup.FindEventByPIN(ctx, pin)
		if err != nil {
			return "", err
		}

		d.mu.Lock()
		d.cache[pin] = cachedPIN{
			eventID:   event.ID,
			expiresAt: d.clock().Add(d.ttlWithJitter()),
		}
		d.mu.Unlock()
		return event.ID, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// Forget drops a pin, typically once its event completed.
func (d *PINDirectory) Forget(_ context.Context, pin string) {
	d.mu.Lock()
	delete(d.cache, pin)
	d.mu.Unlock()
}

func (d *PINDirectory) cached(pin string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	entry, ok := d.cache[pin]
	if !ok || !entry.expiresAt.After(d.clock()) {
		return "", false
	}
	return entry.eventID, true
}

// ttlWithJitter must be called with mu held.
func (d *PINDirectory) ttlWithJitter() time.Duration {
	if d.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(d.ttl) / 10
	return d.ttl + time.Duration(d.rnd.Int63n(jitterMax+1))
}
