package memory

import (
	"context"
	"sort"
	"sync"

	"live-activity-service/internal/domain"
)

// Repository is an in-process implementation of app.Repository.
type Repository struct {
	mu           sync.RWMutex
	events       map[string]domain.Event
	pins         map[string]string
	activities   map[string]domain.Activity
	participants map[string]domain.Participant
}

func NewRepository() *Repository {
	return &Repository{
		events:       make(map[string]domain.Event),
		pins:         make(map[string]string),
		activities:   make(map[string]domain.Activity),
		participants: make(map[string]domain.Participant),
	}
}

func (r *Repository) GetEvent(_ context.Context, eventID string) (domain.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	event, ok := r.events[eventID]
	if !ok {
		return domain.Event{}, domain.ErrNotFound
	}
	return event.Clone(), nil
}

func (r *Repository) FindEventByPIN(_ context.Context, pin string) (domain.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	eventID, ok := r.pins[pin]
	if !ok {
		return domain.Event{}, domain.ErrNotFound
	}
	return r.events[eventID].Clone(), nil
}

// PutEvent stores the event. A pin held by another open event is a
// version conflict; completed events release their pin.
func (r *Repository) PutEvent(_ context.Context, event domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if holder, ok := r.pins[event.GamePIN]; ok && holder != event.ID && event.GamePIN != "" {
		return domain.ErrVersionConflict
	}
	if prev, ok := r.events[event.ID]; ok && prev.GamePIN != event.GamePIN {
		delete(r.pins, prev.GamePIN)
	}
	r.events[event.ID] = event.Clone()
	if event.GamePIN == "" {
		return nil
	}
	if event.Status == domain.EventCompleted {
		delete(r.pins, event.GamePIN)
	} else {
		r.pins[event.GamePIN] = event.ID
	}
	return nil
}

func (r *Repository) GetActivity(_ context.Context, activityID string) (domain.Activity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.activities[activityID]
	if !ok {
		return domain.Activity{}, domain.ErrNotFound
	}
	return a.Clone(), nil
}

func (r *Repository) ListActivities(_ context.Context, eventID string) ([]domain.Activity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Activity
	for _, a := range r.activities {
		if a.EventID == eventID {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

// PutActivities applies every write or none of them.
func (r *Repository) PutActivities(_ context.Context, activities ...domain.Activity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range activities {
		if r.activities[a.ID].Version != a.Version {
			return domain.ErrVersionConflict
		}
	}
	for _, a := range activities {
		stored := a.Clone()
		stored.Version++
		r.activities[a.ID] = stored
	}
	return nil
}

func (r *Repository) GetParticipant(_ context.Context, participantID string) (domain.Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.participants[participantID]
	if !ok {
		return domain.Participant{}, domain.ErrNotFound
	}
	return p.Clone(), nil
}

func (r *Repository) ListParticipants(_ context.Context, eventID string) ([]domain.Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Participant
	for _, p := range r.participants {
		if p.EventID == eventID {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

func (r *Repository) PutParticipant(_ context.Context, participant domain.Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.participants[participant.ID] = participant.Clone()
	return nil
}
