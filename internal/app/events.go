package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"live-activity-service/internal/domain"
)

const (
	pinDigits     = 6
	pinAttempts   = 10
	pinUpperBound = 1000000
	maxNameRunes  = 40
)

// EventDraft is what an organizer submits to open a new event.
type EventDraft struct {
	Title      string            `json:"title"`
	Visibility domain.Visibility `json:"visibility"`
}

// EventView is the full snapshot of an event for organizer consoles.
type EventView struct {
	Event        domain.Event                `json:"event"`
	Activities   []domain.Activity           `json:"activities"`
	Participants []domain.ParticipantSummary `json:"participants"`
	Leaderboard  domain.Leaderboard          `json:"leaderboard"`
}

// CreateEvent opens a draft event owned by token with a fresh game pin.
func (s *Service) CreateEvent(ctx context.Context, token string, draft EventDraft) (domain.Event, error) {
	if token == "" {
		return domain.Event{}, domain.ErrUnauthenticated
	}
	visibility := draft.Visibility
	if visibility == "" {
		visibility = domain.VisibilityPrivate
	}
	if visibility != domain.VisibilityPrivate && visibility != domain.VisibilityPublic {
		return domain.Event{}, domain.ValidationError([]string{fmt.Sprintf("unknown visibility %q", visibility)})
	}
	title := strings.TrimSpace(draft.Title)
	if title == "" {
		return domain.Event{}, domain.ValidationError([]string{"title is required"})
	}

	now := s.now()
	event := domain.Event{
		ID:          s.newID(),
		OrganizerID: token,
		Title:       title,
		Visibility:  visibility,
		Status:      domain.EventDraft,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for attempt := 0; attempt < pinAttempts; attempt++ {
		event.GamePIN = s.randomPIN()
		taken, err := s.pinTaken(ctx, event.GamePIN)
		if err != nil {
			return domain.Event{}, err
		}
		if taken {
			continue
		}
		err = s.saveEvent(ctx, event)
		if err == nil {
			s.log.Info("event created", "event", event.ID, "visibility", event.Visibility)
			return event, nil
		}
		// Lost the pin to a concurrent creator.
		if errors.Is(err, domain.ErrActivationConflict) {
			continue
		}
		return domain.Event{}, err
	}
	return domain.Event{}, domain.ErrPINExhausted
}

func (s *Service) randomPIN() string {
	s.rndMu.Lock()
	n := s.rnd.IntN(pinUpperBound)
	s.rndMu.Unlock()
	return fmt.Sprintf("%0*d", pinDigits, n)
}

func (s *Service) pinTaken(ctx context.Context, pin string) (bool, error) {
	sctx, cancel := s.storageCtx(ctx)
	defer cancel()
	_, err := s.repo.FindEventByPIN(sctx, pin)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, domain.ErrNotFound):
		return false, nil
	default:
		return false, storageError(err, domain.ErrEventNotFound)
	}
}

// GetEvent returns the organizer's view of an event.
func (s *Service) GetEvent(ctx context.Context, token, eventID string) (EventView, error) {
	if err := s.authorize(ctx, eventID, token); err != nil {
		return EventView{}, err
	}
	return exec(ctx, s, eventID, "get-event", func(_ context.Context, st *eventState, _ *outbox) (EventView, error) {
		participants := st.participantList()
		return EventView{
			Event:        st.event.Clone(),
			Activities:   st.activityList(),
			Participants: s.summaries(st.event.ID, participants),
			Leaderboard:  RankParticipants(st.event.ID, participants, s.now()),
		}, nil
	})
}

// SetEventStatus moves the event through draft, setup, live and completed.
// Going live validates every activity. An event with an active activity
// cannot go back to setup. Completing ends the active activity and releases
// the game pin.
func (s *Service) SetEventStatus(ctx context.Context, token, eventID string, status domain.EventStatus) (domain.Event, error) {
	if err := s.authorize(ctx, eventID, token); err != nil {
		return domain.Event{}, err
	}
	return exec(ctx, s, eventID, "set-event-status", func(ctx context.Context, st *eventState, out *outbox) (domain.Event, error) {
		from := st.event.Status
		if !eventTransitionAllowed(from, status) {
			return domain.Event{}, domain.Errorf(domain.ErrInvalidTransition, "cannot move event from %s to %s", from, status)
		}
		active, hasActive := st.active()
		switch status {
		case domain.EventLive:
			if err := ValidateEvent(st.activityList()).Err(); err != nil {
				return domain.Event{}, err
			}
		case domain.EventSetup:
			if hasActive {
				return domain.Event{}, domain.Errorf(domain.ErrInvalidTransition, "end activity %s before returning to setup", active.ID)
			}
		}

		// The event write commits the transition. A failed activity close
		// after it is finished by recovery on reload.
		event := st.event.Clone()
		event.Status = status
		if err := s.saveEvent(ctx, event); err != nil {
			return domain.Event{}, err
		}
		if status == domain.EventCompleted && hasActive {
			s.finish(st, &active, out)
			out.send(domain.ToRoom, domain.ActivityDeactivated{Activity: active.Summary()})
			if err := s.saveActivities(ctx, st, active); err != nil {
				st.stale = true
				return domain.Event{}, err
			}
		}
		st.event = event
		s.log.Info("event status changed", "event", event.ID, "from", from, "to", status)

		if status == domain.EventCompleted {
			pin := event.GamePIN
			out.then(func() {
				st.stopTimers()
				s.forgetPIN(pin)
			})
		}
		return event.Clone(), nil
	})
}

func eventTransitionAllowed(from, to domain.EventStatus) bool {
	switch to {
	case domain.EventSetup:
		return from == domain.EventDraft || from == domain.EventLive
	case domain.EventLive:
		return from == domain.EventSetup
	case domain.EventCompleted:
		return from != domain.EventCompleted
	default:
		return false
	}
}

// ResolvePIN maps a game pin to its event id.
func (s *Service) ResolvePIN(ctx context.Context, pin string) (string, error) {
	if pin == "" {
		return "", domain.ErrUnauthenticated
	}
	sctx, cancel := s.storageCtx(ctx)
	defer cancel()
	if s.dir != nil {
		id, err := s.dir.Resolve(sctx, pin)
		if err != nil {
			return "", storageError(err, domain.ErrEventNotFound)
		}
		return id, nil
	}
	event, err := s.repo.FindEventByPIN(sctx, pin)
	if err != nil {
		return "", storageError(err, domain.ErrEventNotFound)
	}
	return event.ID, nil
}

// JoinRequest describes a participant connecting to an event.
type JoinRequest struct {
	EventID string
	PIN     string
	// Token lets an organizer join their own private event without a pin.
	Token string
	Name  string
	// ParticipantID reattaches an existing participant of the same event.
	ParticipantID string
	// Attach, when set, runs on the event loop once the participant is
	// stored and before the room learns about it.
	Attach func(domain.Participant)
}

// Join creates or reattaches a participant and announces the new roster.
func (s *Service) Join(ctx context.Context, req JoinRequest) (domain.Participant, error) {
	eventID := req.EventID
	if eventID == "" {
		id, err := s.ResolvePIN(ctx, req.PIN)
		if err != nil {
			return domain.Participant{}, err
		}
		eventID = id
	}
	sctx, cancel := s.storageCtx(ctx)
	_, err := s.gate.AuthorizeParticipantAccess(sctx, eventID, req.Token, req.PIN)
	cancel()
	if err != nil {
		return domain.Participant{}, err
	}

	return exec(ctx, s, eventID, "join-event", func(ctx context.Context, st *eventState, out *outbox) (domain.Participant, error) {
		if st.event.Status == domain.EventCompleted {
			return domain.Participant{}, domain.Errorf(domain.ErrInvalidTransition, "event is completed")
		}

		p, reattached := s.existingParticipant(st, req.ParticipantID)
		if !reattached {
			name, err := participantName(req.Name)
			if err != nil {
				return domain.Participant{}, err
			}
			p = domain.Participant{
				ID:       s.newID(),
				EventID:  st.event.ID,
				Name:     name,
				JoinedAt: s.now(),
			}
			// The participant record is the commit point. Rosters are read
			// from records, and the next event write drops an id left
			// behind by a failed record write.
			event := st.event.Clone()
			event.ParticipantIDs = append(event.ParticipantIDs, p.ID)
			if err := s.saveEvent(ctx, event); err != nil {
				return domain.Participant{}, err
			}
			if err := s.saveParticipant(ctx, p); err != nil {
				return domain.Participant{}, err
			}
			st.event = event
			st.participants[p.ID] = &p
			s.log.Info("participant joined", "event", st.event.ID, "participant", p.ID)
		}

		s.autoEnter(ctx, st, p, out)
		if req.Attach != nil {
			req.Attach(p.Clone())
		}
		out.send(domain.ToRoom, s.rosterUpdate(st))
		return p.Clone(), nil
	})
}

// Disconnected announces the roster after a participant's last connection closed.
func (s *Service) Disconnected(ctx context.Context, eventID, participantID string) error {
	_, err := exec(ctx, s, eventID, "participant-left", func(_ context.Context, st *eventState, out *outbox) (struct{}, error) {
		if _, ok := st.participants[participantID]; !ok {
			return struct{}{}, domain.ErrParticipantNotFound
		}
		out.send(domain.ToRoom, s.rosterUpdate(st))
		return struct{}{}, nil
	})
	return err
}

func (s *Service) existingParticipant(st *eventState, id string) (domain.Participant, bool) {
	if id == "" {
		return domain.Participant{}, false
	}
	p, ok := st.participants[id]
	if !ok || p.EventID != st.event.ID {
		return domain.Participant{}, false
	}
	return p.Clone(), true
}

// autoEnter gives a joining participant a ticket in an active automatic
// raffle. Failures are logged; the join itself stands.
func (s *Service) autoEnter(ctx context.Context, st *eventState, p domain.Participant, out *outbox) {
	a, ok := st.active()
	if !ok || a.Type != domain.ActivityRaffle || a.Raffle.EntryMethod != domain.EntryAutomatic || a.Raffle.HasEntry(p.ID) {
		return
	}
	entry := domain.RaffleEntry{ParticipantID: p.ID, ParticipantName: p.Name, EnteredAt: s.now()}
	a.Raffle.Entries = append(a.Raffle.Entries, entry)
	if err := s.saveActivities(ctx, st, a); err != nil {
		s.log.Warn("automatic raffle entry failed", "event", st.event.ID, "activity", a.ID, "participant", p.ID, "error", err)
		return
	}
	confirmEntry(a, entry, out)
}

func (s *Service) rosterUpdate(st *eventState) domain.ParticipantsUpdated {
	participants := s.summaries(st.event.ID, st.participantList())
	return domain.ParticipantsUpdated{
		EventID:      st.event.ID,
		Count:        len(participants),
		Participants: participants,
	}
}

func (s *Service) summaries(eventID string, participants []domain.Participant) []domain.ParticipantSummary {
	var online map[string]bool
	if s.online != nil {
		online = s.online.OnlineParticipants(eventID)
	}
	out := make([]domain.ParticipantSummary, len(participants))
	for i, p := range participants {
		out[i] = domain.ParticipantSummary{ID: p.ID, Name: p.Name, Score: p.Score, Online: online[p.ID]}
	}
	return out
}

func participantName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", domain.ValidationError([]string{"participant name is required"})
	}
	if r := []rune(name); len(r) > maxNameRunes {
		name = string(r[:maxNameRunes])
	}
	return name, nil
}
