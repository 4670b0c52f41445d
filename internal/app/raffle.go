package app

import (
	"context"
	crand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"time"

	"live-activity-service/internal/domain"
)

// newSeededRand builds the draw generator from a crypto/rand seed.
func newSeededRand() *rand.Rand {
	var b [16]byte
	if _, err := crand.Read(b[:]); err != nil {
		seed := uint64(time.Now().UnixNano())
		return rand.New(rand.NewPCG(seed, seed>>1))
	}
	return rand.New(rand.NewPCG(binary.LittleEndian.Uint64(b[:8]), binary.LittleEndian.Uint64(b[8:])))
}

// StartRaffle activates a raffle. Automatic raffles enter every participant.
func (s *Service) StartRaffle(ctx context.Context, token, eventID, activityID string) (domain.Activity, error) {
	return s.startActivity(ctx, token, eventID, activityID, domain.ActivityRaffle, "start-raffle")
}

// EndRaffle completes the raffle; later entries and draws are rejected.
func (s *Service) EndRaffle(ctx context.Context, token, eventID, activityID string) (domain.Activity, error) {
	return s.endActivity(ctx, token, eventID, activityID, domain.ActivityRaffle, "end-raffle")
}

// EnterRaffle gives the participant a ticket in an active raffle.
func (s *Service) EnterRaffle(ctx context.Context, eventID, participantID, activityID string) (domain.RaffleEntry, error) {
	return exec(ctx, s, eventID, "enter-raffle", func(ctx context.Context, st *eventState, out *outbox) (domain.RaffleEntry, error) {
		p, err := st.participant(participantID)
		if err != nil {
			return domain.RaffleEntry{}, err
		}
		a, err := st.activity(activityID)
		if err != nil {
			return domain.RaffleEntry{}, err
		}
		if a.Type != domain.ActivityRaffle {
			return domain.RaffleEntry{}, domain.ErrWrongActivityType
		}
		if a.Status != domain.ActivityActive {
			return domain.RaffleEntry{}, domain.ErrRaffleClosed
		}
		if a.Raffle.HasEntry(p.ID) {
			return domain.RaffleEntry{}, domain.ErrAlreadyEntered
		}
		entry := domain.RaffleEntry{ParticipantID: p.ID, ParticipantName: p.Name, EnteredAt: s.now()}
		a.Raffle.Entries = append(a.Raffle.Entries, entry)
		if err := s.saveActivities(ctx, st, a); err != nil {
			return domain.RaffleEntry{}, err
		}
		confirmEntry(a, entry, out)
		return entry, nil
	})
}

// DrawWinners picks count winners uniformly at random from entries that have
// not won yet. A count of zero or less draws the rest of WinnerCount (at
// least one).
func (s *Service) DrawWinners(ctx context.Context, token, eventID, activityID string, count int) ([]domain.RaffleWinner, error) {
	if err := s.authorize(ctx, eventID, token); err != nil {
		return nil, err
	}
	return exec(ctx, s, eventID, "draw-winners", func(ctx context.Context, st *eventState, out *outbox) ([]domain.RaffleWinner, error) {
		a, err := st.activity(activityID)
		if err != nil {
			return nil, err
		}
		if a.Type != domain.ActivityRaffle {
			return nil, domain.ErrWrongActivityType
		}
		if a.Status != domain.ActivityActive {
			return nil, domain.ErrRaffleClosed
		}
		raffle := a.Raffle
		if count <= 0 {
			count = raffle.WinnerCount - len(raffle.Winners)
			if count < 1 {
				count = 1
			}
		}

		won := make(map[string]bool, len(raffle.Winners))
		for _, w := range raffle.Winners {
			won[w.ParticipantID] = true
		}
		eligible := make([]domain.RaffleEntry, 0, len(raffle.Entries))
		for _, e := range raffle.Entries {
			if !won[e.ParticipantID] {
				eligible = append(eligible, e)
			}
		}
		if count > len(eligible) {
			return nil, domain.Errorf(domain.ErrInsufficientEntries, "requested %d winners, %d eligible entries", count, len(eligible))
		}

		picked := s.pick(eligible, count)
		raffle.Draws++
		now := s.now()
		winners := make([]domain.RaffleWinner, len(picked))
		for i, e := range picked {
			winners[i] = domain.RaffleWinner{
				ParticipantID:   e.ParticipantID,
				ParticipantName: e.ParticipantName,
				Draw:            raffle.Draws,
				DrawnAt:         now,
			}
		}
		raffle.Winners = append(raffle.Winners, winners...)

		if err := s.saveActivities(ctx, st, a); err != nil {
			return nil, err
		}
		s.log.Info("raffle draw", "event", st.event.ID, "activity", a.ID, "draw", raffle.Draws, "winners", len(winners))

		out.send(domain.ToRoom, domain.RaffleDrawing{ActivityID: a.ID, Count: count, EligibleEntries: len(eligible)})
		out.send(domain.ToRoom, domain.WinnersAnnounced{
			ActivityID: a.ID,
			Draw:       raffle.Draws,
			Winners:    winners,
			AllWinners: append([]domain.RaffleWinner(nil), raffle.Winners...),
		})
		return winners, nil
	})
}

// pick runs a partial Fisher-Yates shuffle over a copy of entries.
func (s *Service) pick(entries []domain.RaffleEntry, count int) []domain.RaffleEntry {
	pool := append([]domain.RaffleEntry(nil), entries...)
	s.rndMu.Lock()
	defer s.rndMu.Unlock()
	for i := 0; i < count; i++ {
		j := i + s.rnd.IntN(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	return pool[:count]
}

func (s *Service) beginRaffle(st *eventState, a *domain.Activity, now time.Time, out *outbox) {
	raffle := a.Raffle
	raffle.Entries, raffle.Winners, raffle.Draws = nil, nil, 0
	if raffle.EntryMethod == domain.EntryAutomatic {
		for _, p := range st.participantList() {
			raffle.Entries = append(raffle.Entries, domain.RaffleEntry{
				ParticipantID:   p.ID,
				ParticipantName: p.Name,
				EnteredAt:       now,
			})
		}
	}
	out.send(domain.ToRoom, domain.RaffleStarted{
		ActivityID:       a.ID,
		PrizeDescription: raffle.PrizeDescription,
		EntryMethod:      raffle.EntryMethod,
		WinnerCount:      raffle.WinnerCount,
		TotalEntries:     len(raffle.Entries),
	})
}

func (s *Service) finishRaffle(a *domain.Activity, out *outbox) {
	a.Status = domain.ActivityCompleted
	out.send(domain.ToRoom, domain.RaffleEnded{
		ActivityID:   a.ID,
		TotalEntries: len(a.Raffle.Entries),
		Winners:      append([]domain.RaffleWinner(nil), a.Raffle.Winners...),
	})
}

// confirmEntry notifies the entrant and the organizer.
func confirmEntry(a domain.Activity, entry domain.RaffleEntry, out *outbox) {
	n := domain.RaffleEntryConfirmed{
		ActivityID:      a.ID,
		ParticipantID:   entry.ParticipantID,
		ParticipantName: entry.ParticipantName,
		TotalEntries:    len(a.Raffle.Entries),
	}
	out.send(domain.ToParticipant(entry.ParticipantID), n)
	out.send(domain.ToOrganizer, n)
}
