package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"live-activity-service/internal/domain"
)

// Repository stores events, activities and participants as JSON documents.
//
//	live:event:{id}                  event document
//	live:event:{id}:activities       set of activity ids
//	live:event:{id}:participants     set of participant ids
//	live:activity:{id}               activity document (carries its version)
//	live:participant:{id}            participant document
//	live:pin:{pin}                   id of the open event holding the pin
//
// Activity writes are optimistic: WATCH the documents, compare versions, then
// MULTI/EXEC.
type Repository struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRepository builds a repository; ttl 0 keeps documents forever.
func NewRepository(client *redis.Client, ttl time.Duration) *Repository {
	return &Repository{client: client, ttl: ttl}
}

func (r *Repository) GetEvent(ctx context.Context, eventID string) (domain.Event, error) {
	var event domain.Event
	err := r.getJSON(ctx, r.client, eventKey(eventID), &event)
	return event, err
}

func (r *Repository) FindEventByPIN(ctx context.Context, pin string) (domain.Event, error) {
	eventID, err := r.client.Get(ctx, pinKey(pin)).Result()
	if errors.Is(err, redis.Nil) {
		return domain.Event{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Event{}, err
	}
	event, err := r.GetEvent(ctx, eventID)
	if err != nil {
		return domain.Event{}, err
	}
	if event.Status == domain.EventCompleted {
		return domain.Event{}, domain.ErrNotFound
	}
	return event, nil
}

// PutEvent stores the event and maintains its pin key. A pin held by another
// open event fails with domain.ErrVersionConflict.
func (r *Repository) PutEvent(ctx context.Context, event domain.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	keys := []string{eventKey(event.ID)}
	if event.GamePIN != "" {
		keys = append(keys, pinKey(event.GamePIN))
	}

	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		var prev domain.Event
		err := r.getJSON(ctx, tx, eventKey(event.ID), &prev)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if event.GamePIN != "" {
			holder, err := tx.Get(ctx, pinKey(event.GamePIN)).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			if holder != "" && holder != event.ID {
				return domain.ErrVersionConflict
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, eventKey(event.ID), data, r.ttl)
			if prev.GamePIN != "" && prev.GamePIN != event.GamePIN {
				pipe.Del(ctx, pinKey(prev.GamePIN))
			}
			if event.GamePIN == "" {
				return nil
			}
			if event.Status == domain.EventCompleted {
				pipe.Del(ctx, pinKey(event.GamePIN))
			} else {
				pipe.Set(ctx, pinKey(event.GamePIN), event.ID, r.ttl)
			}
			return nil
		})
		return err
	}, keys...)
	if errors.Is(err, redis.TxFailedErr) {
		return domain.ErrVersionConflict
	}
	return err
}

func (r *Repository) GetActivity(ctx context.Context, activityID string) (domain.Activity, error) {
	var a domain.Activity
	err := r.getJSON(ctx, r.client, activityKey(activityID), &a)
	return a, err
}

func (r *Repository) ListActivities(ctx context.Context, eventID string) ([]domain.Activity, error) {
	var out []domain.Activity
	if err := r.listJSON(ctx, eventActivitiesKey(eventID), activityKey, func(raw string) error {
		var a domain.Activity
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			return fmt.Errorf("decode activity: %w", err)
		}
		out = append(out, a)
		return nil
	}); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

// PutActivities writes every activity in one transaction after checking that
// each stored version still equals the caller's.
func (r *Repository) PutActivities(ctx context.Context, activities ...domain.Activity) error {
	if len(activities) == 0 {
		return nil
	}
	keys := make([]string, len(activities))
	docs := make([][]byte, len(activities))
	for i, a := range activities {
		keys[i] = activityKey(a.ID)
		stored := a
		stored.Version++
		data, err := json.Marshal(stored)
		if err != nil {
			return fmt.Errorf("encode activity: %w", err)
		}
		docs[i] = data
	}

	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.MGet(ctx, keys...).Result()
		if err != nil {
			return err
		}
		for i, raw := range current {
			var version int64
			if s, ok := raw.(string); ok {
				var stored struct {
					Version int64 `json:"version"`
				}
				if err := json.Unmarshal([]byte(s), &stored); err != nil {
					return fmt.Errorf("decode activity: %w", err)
				}
				version = stored.Version
			}
			if version != activities[i].Version {
				return domain.ErrVersionConflict
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for i, a := range activities {
				pipe.Set(ctx, keys[i], docs[i], r.ttl)
				pipe.SAdd(ctx, eventActivitiesKey(a.EventID), a.ID)
				if r.ttl > 0 {
					pipe.Expire(ctx, eventActivitiesKey(a.EventID), r.ttl)
				}
			}
			return nil
		})
		return err
	}, keys...)
	if errors.Is(err, redis.TxFailedErr) {
		return domain.ErrVersionConflict
	}
	return err
}

func (r *Repository) GetParticipant(ctx context.Context, participantID string) (domain.Participant, error) {
	var p domain.Participant
	err := r.getJSON(ctx, r.client, participantKey(participantID), &p)
	return p, err
}

func (r *Repository) ListParticipants(ctx context.Context, eventID string) ([]domain.Participant, error) {
	var out []domain.Participant
	if err := r.listJSON(ctx, eventParticipantsKey(eventID), participantKey, func(raw string) error {
		var p domain.Participant
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return fmt.Errorf("decode participant: %w", err)
		}
		out = append(out, p)
		return nil
	}); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

func (r *Repository) PutParticipant(ctx context.Context, p domain.Participant) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode participant: %w", err)
	}
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, participantKey(p.ID), data, r.ttl)
	pipe.SAdd(ctx, eventParticipantsKey(p.EventID), p.ID)
	if r.ttl > 0 {
		pipe.Expire(ctx, eventParticipantsKey(p.EventID), r.ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// getter is satisfied by both *redis.Client and *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (r *Repository) getJSON(ctx context.Context, c getter, key string, dst any) error {
	raw, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.ErrNotFound
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// listJSON loads every document referenced by an id set. Ids whose document
// expired are skipped.
func (r *Repository) listJSON(ctx context.Context, setKey string, docKey func(string) string, decode func(string) error) error {
	ids, err := r.client.SMembers(ctx, setKey).Result()
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = docKey(id)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return err
	}
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		if err := decode(raw); err != nil {
			return err
		}
	}
	return nil
}

func eventKey(id string) string             { return "live:event:" + id }
func eventActivitiesKey(id string) string   { return "live:event:" + id + ":activities" }
func eventParticipantsKey(id string) string { return "live:event:" + id + ":participants" }
func activityKey(id string) string          { return "live:activity:" + id }
func participantKey(id string) string       { return "live:participant:" + id }
func pinKey(pin string) string              { return "live:pin:" + pin }
