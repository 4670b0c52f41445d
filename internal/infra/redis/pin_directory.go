package redis

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"live-activity-service/internal/domain"
)

// PINLookup finds the open event holding a game pin.
type PINLookup interface {
	FindEventByPIN(ctx context.Context, pin string) (domain.Event, error)
}

// PINDirectory caches pin to event id lookups in Redis and falls back to a
// lookup on cache miss. Entries are stored as: SET live:pin-cache:{pin} {eventID}
type PINDirectory struct {
	client *redis.Client
	lookup PINLookup
	ttl    time.Duration
	sf     singleflight.Group

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewPINDirectory(client *redis.Client, lookup PINLookup, ttl time.Duration) *PINDirectory {
	return &PINDirectory{
		client: client,
		lookup: lookup,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (d *PINDirectory) Resolve(ctx context.Context, pin string) (string, error) {
	if eventID, ok := d.cached(ctx, pin); ok {
		return eventID, nil
	}

	result, err, _ := d.sf.Do(pin, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if eventID, ok := d.cached(ctx, pin); ok {
			return eventID, nil
		}
		event, err := d.lookup.FindEventByPIN(ctx, pin)
		if err != nil {
			return "", err
		}
		// best-effort fill; the lookup already answered
		_ = d.client.Set(ctx, d.key(pin), event.ID, d.ttlWithJitter()).Err()
		return event.ID, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// Forget drops a cached pin, typically once its event completed.
func (d *PINDirectory) Forget(ctx context.Context, pin string) {
	_ = d.client.Del(ctx, d.key(pin)).Err()
}

func (d *PINDirectory) cached(ctx context.Context, pin string) (string, bool) {
	// Redis errors other than a miss also fall through to the lookup.
	eventID, err := d.client.Get(ctx, d.key(pin)).Result()
	if err != nil {
		return "", false
	}
	return eventID, eventID != ""
}

func (d *PINDirectory) key(pin string) string {
	return "live:pin-cache:" + pin
}

func (d *PINDirectory) ttlWithJitter() time.Duration {
	if d.ttl <= 0 {
		return 0
	}
	jitterMax := int64(d.ttl) / 10
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ttl + time.Duration(d.rnd.Int63n(jitterMax+1))
}
