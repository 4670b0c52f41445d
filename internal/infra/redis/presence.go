package redis

import (
	"context"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// Presence marks connected participants in a per-event Redis set so other
// instances can see who is online: SADD live:event:{eventID}:online {participantID}.
// The set expires after ttl without activity.
type Presence struct {
	client *redis.Client
	ttl    time.Duration
}

func NewPresence(client *redis.Client, ttl time.Duration) *Presence {
	return &Presence{client: client, ttl: ttl}
}

func (p *Presence) MarkOnline(ctx context.Context, eventID, participantID string) error {
	pipe := p.client.TxPipeline()
	pipe.SAdd(ctx, p.key(eventID), participantID)
	if p.ttl > 0 {
		pipe.Expire(ctx, p.key(eventID), p.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// MarkOffline removes the mark; Redis deletes the set with its last member.
func (p *Presence) MarkOffline(ctx context.Context, eventID, participantID string) error {
	return p.client.SRem(ctx, p.key(eventID), participantID).Err()
}

// Online lists the participants currently marked online, sorted.
func (p *Presence) Online(ctx context.Context, eventID string) ([]string, error) {
	ids, err := p.client.SMembers(ctx, p.key(eventID)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

func (p *Presence) key(eventID string) string {
	return "live:event:" + eventID + ":online"
}
