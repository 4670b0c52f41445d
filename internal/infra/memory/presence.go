package memory

import (
	"context"
	"sort"
	"sync"
)

// Presence keeps per-event online marks in process.
type Presence struct {
	mu     sync.RWMutex
	events map[string]map[string]struct{}
}

func NewPresence() *Presence {
	return &Presence{events: make(map[string]map[string]struct{})}
}

func (p *Presence) MarkOnline(_ context.Context, eventID, participantID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	members, ok := p.events[eventID]
	if !ok {
		members = make(map[string]struct{})
		p.events[eventID] = members
	}
	members[participantID] = struct{}{}
	return nil
}

func (p *Presence) MarkOffline(_ context.Context, eventID, participantID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	members, ok := p.events[eventID]
	if !ok {
		return nil
	}
	delete(members, participantID)
	if len(members) == 0 {
		delete(p.events, eventID)
	}
	return nil
}

// Online lists the participants currently marked online, sorted.
func (p *Presence) Online(_ context.Context, eventID string) ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.events[eventID]))
	for id := range p.events[eventID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
