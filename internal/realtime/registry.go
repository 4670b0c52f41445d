package realtime

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"live-activity-service/internal/domain"
)

// Role tells organizer connections apart from participant ones.
type Role string

const (
	RoleOrganizer   Role = "organizer"
	RoleParticipant Role = "participant"
)

// Client is one live transport connection. Send must not block; it reports
// false when the message could not be queued.
type Client interface {
	ID() string
	Send(msg []byte) bool
	Close()
}

// Session is what the registry knows about a connection.
type Session struct {
	ClientID      string
	EventID       string
	ParticipantID string
	Role          Role
}

// PresenceStore records online participants outside the process, so every
// instance serving an event sees the same set.
type PresenceStore interface {
	MarkOnline(ctx context.Context, eventID, participantID string) error
	MarkOffline(ctx context.Context, eventID, participantID string) error
	Online(ctx context.Context, eventID string) ([]string, error)
}

const presenceQueueSize = 1024

type presenceUpdate struct {
	eventID       string
	participantID string
	online        bool
}

type member struct {
	client  Client
	session Session
}

// Registry maps connections to events, participants and the organizer room.
type Registry struct {
	log             *slog.Logger
	presence        PresenceStore
	presenceTimeout time.Duration
	updates         chan presenceUpdate

	mu      sync.RWMutex
	clients map[string]*member
	rooms   map[string]map[string]*member // eventID -> clientID -> member
}

// NewRegistry builds an empty registry. presence may be nil.
func NewRegistry(logger *slog.Logger, presence PresenceStore) *Registry {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Registry{
		log:             logger,
		presence:        presence,
		presenceTimeout: 2 * time.Second,
		updates:         make(chan presenceUpdate, presenceQueueSize),
		clients:         make(map[string]*member),
		rooms:           make(map[string]map[string]*member),
	}
}

// Join subscribes a participant connection to the event room.
func (r *Registry) Join(eventID, participantID string, client Client) Session {
	s := Session{ClientID: client.ID(), EventID: eventID, ParticipantID: participantID, Role: RoleParticipant}
	first := r.attach(s, client)
	if first {
		r.mark(eventID, participantID, true)
	}
	return s
}

// JoinAsOrganizer subscribes an organizer connection to the event room and
// the organizer room without creating a participant.
func (r *Registry) JoinAsOrganizer(eventID string, client Client) Session {
	s := Session{ClientID: client.ID(), EventID: eventID, Role: RoleOrganizer}
	r.attach(s, client)
	return s
}

// attach reports whether this is the participant's first live connection.
func (r *Registry) attach(s Session, client Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.clients[s.ClientID]; ok {
		r.removeLocked(prev)
	}
	first := s.Role == RoleParticipant && !r.connectedLocked(s.EventID, s.ParticipantID)
	m := &member{client: client, session: s}
	r.clients[s.ClientID] = m
	room, ok := r.rooms[s.EventID]
	if !ok {
		room = make(map[string]*member)
		r.rooms[s.EventID] = room
	}
	room[s.ClientID] = m
	return first
}

// Detach removes a connection from every room. The participant record is
// untouched. ok is false when the client was not registered.
func (r *Registry) Detach(clientID string) (Session, bool) {
	r.mu.Lock()
	m, ok := r.clients[clientID]
	if !ok {
		r.mu.Unlock()
		return Session{}, false
	}
	r.removeLocked(m)
	s := m.session
	last := s.Role == RoleParticipant && !r.connectedLocked(s.EventID, s.ParticipantID)
	r.mu.Unlock()

	if last {
		r.mark(s.EventID, s.ParticipantID, false)
	}
	return s, true
}

func (r *Registry) removeLocked(m *member) {
	delete(r.clients, m.session.ClientID)
	room := r.rooms[m.session.EventID]
	delete(room, m.session.ClientID)
	if len(room) == 0 {
		delete(r.rooms, m.session.EventID)
	}
}

func (r *Registry) Session(clientID string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.clients[clientID]
	if !ok {
		return Session{}, false
	}
	return m.session, true
}

// Connected reports whether the participant still holds a connection.
func (r *Registry) Connected(eventID, participantID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.connectedLocked(eventID, participantID)
}

func (r *Registry) connectedLocked(eventID, participantID string) bool {
	for _, m := range r.rooms[eventID] {
		if m.session.Role == RoleParticipant && m.session.ParticipantID == participantID {
			return true
		}
	}
	return false
}

// Members returns a snapshot of the clients an audience resolves to, so
// sends happen without holding the lock.
func (r *Registry) Members(eventID string, to domain.Audience) []Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room := r.rooms[eventID]
	out := make([]Client, 0, len(room))
	for _, m := range room {
		switch to.Kind {
		case domain.AudienceRoom:
			out = append(out, m.client)
		case domain.AudienceOrganizer:
			if m.session.Role == RoleOrganizer {
				out = append(out, m.client)
			}
		case domain.AudienceParticipant:
			if m.session.Role == RoleParticipant && m.session.ParticipantID == to.ParticipantID {
				out = append(out, m.client)
			}
		}
	}
	return out
}

// OnlineParticipants lists participants of an event with a live connection.
func (r *Registry) OnlineParticipants(eventID string) map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	online := make(map[string]bool)
	for _, m := range r.rooms[eventID] {
		if m.session.Role == RoleParticipant {
			online[m.session.ParticipantID] = true
		}
	}
	return online
}

// Count returns the number of connections subscribed to an event.
func (r *Registry) Count(eventID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[eventID])
}

// Run writes queued presence updates in order until ctx is done. Join and
// Detach only queue them, so a slow store never blocks a caller.
func (r *Registry) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-r.updates:
			r.apply(u)
		}
	}
}

// PresenceOnline lists online participants across every instance, falling
// back to this process's connections without a presence store.
func (r *Registry) PresenceOnline(ctx context.Context, eventID string) ([]string, error) {
	if r.presence != nil {
		return r.presence.Online(ctx, eventID)
	}
	ids := make([]string, 0)
	for id := range r.OnlineParticipants(eventID) {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *Registry) mark(eventID, participantID string, online bool) {
	if r.presence == nil {
		return
	}
	select {
	case r.updates <- presenceUpdate{eventID: eventID, participantID: participantID, online: online}:
	default:
		r.log.Warn("presence queue full, update dropped", "event", eventID, "participant", participantID, "online", online)
	}
}

// apply updates the presence store; failures are only logged.
func (r *Registry) apply(u presenceUpdate) {
	ctx, cancel := context.WithTimeout(context.Background(), r.presenceTimeout)
	defer cancel()
	var err error
	if u.online {
		err = r.presence.MarkOnline(ctx, u.eventID, u.participantID)
	} else {
		err = r.presence.MarkOffline(ctx, u.eventID, u.participantID)
	}
	if err != nil {
		r.log.Warn("presence update failed", "event", u.eventID, "participant", u.participantID, "online", u.online, "error", err)
	}
}
