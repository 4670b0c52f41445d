package app_test

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"live-activity-service/internal/app"
	"live-activity-service/internal/domain"
	"live-activity-service/internal/infra/memory"
)

const organizer = "org-token"

type harness struct {
	svc   *app.Service
	repo  *flakyRepo
	pub   *recorder
	clock *fakeClock
	seq   *atomic.Int64
}

func newHarness(t *testing.T, opts app.Options) *harness {
	t.Helper()
	h := &harness{
		repo:  &flakyRepo{Repository: memory.NewRepository()},
		pub:   &recorder{},
		clock: &fakeClock{now: time.Date(2024, 11, 22, 9, 0, 0, 0, time.UTC)},
		seq:   &atomic.Int64{},
	}
	h.start(t, opts)
	return h
}

// restart closes the service and returns a harness running a fresh one over
// the same storage and clock.
func (h *harness) restart(t *testing.T, opts app.Options) *harness {
	t.Helper()
	h.svc.Close()
	next := &harness{repo: h.repo, pub: &recorder{}, clock: h.clock, seq: h.seq}
	next.start(t, opts)
	return next
}

func (h *harness) start(t *testing.T, opts app.Options) {
	t.Helper()
	h.svc = app.NewService(app.Deps{
		Repo:      h.repo,
		Publisher: h.pub,
		Now:       h.clock.Now,
		Rand:      rand.New(rand.NewPCG(7, 11)),
		NewID: func() string {
			return fmt.Sprintf("id-%d", h.seq.Add(1))
		},
	}, opts)
	t.Cleanup(h.svc.Close)
}

// liveEvent creates an event and takes it live with no activities yet.
func (h *harness) liveEvent(t *testing.T, visibility domain.Visibility) domain.Event {
	t.Helper()
	ctx := context.Background()
	event, err := h.svc.CreateEvent(ctx, organizer, app.EventDraft{Title: "All hands", Visibility: visibility})
	require.NoError(t, err)
	_, err = h.svc.SetEventStatus(ctx, organizer, event.ID, domain.EventSetup)
	require.NoError(t, err)
	event, err = h.svc.SetEventStatus(ctx, organizer, event.ID, domain.EventLive)
	require.NoError(t, err)
	return event
}

func (h *harness) join(t *testing.T, event domain.Event, name string) domain.Participant {
	t.Helper()
	p, err := h.svc.Join(context.Background(), app.JoinRequest{EventID: event.ID, PIN: event.GamePIN, Name: name})
	require.NoError(t, err)
	return p
}

func (h *harness) create(t *testing.T, eventID string, in app.ActivityInput) domain.Activity {
	t.Helper()
	a, err := h.svc.CreateActivity(context.Background(), organizer, eventID, in)
	require.NoError(t, err)
	return a
}

func quizInput(settings domain.QuizSettings, timerSeconds int) app.ActivityInput {
	return app.ActivityInput{
		Type:  domain.ActivityQuiz,
		Title: "Warm-up",
		Quiz: &app.QuizInput{
			Settings: settings,
			Questions: []domain.Question{
				{
					ID:              "q1",
					Text:            "2 + 2?",
					Options:         []domain.Option{{ID: "a", Text: "3"}, {ID: "b", Text: "4"}},
					CorrectOptionID: "b",
					TimerSeconds:    timerSeconds,
				},
				{
					ID:              "q2",
					Text:            "Capital of France?",
					Options:         []domain.Option{{ID: "a", Text: "Paris"}, {ID: "b", Text: "Lyon"}, {ID: "c", Text: "Nice"}},
					CorrectOptionID: "a",
					TimerSeconds:    timerSeconds,
				},
			},
		},
	}
}

func pollInput(multiple, live bool) app.ActivityInput {
	return app.ActivityInput{
		Type:  domain.ActivityPoll,
		Title: "Lunch",
		Poll: &app.PollInput{
			Question:           "Where do we eat?",
			Options:            []domain.Option{{ID: "A", Text: "Pizza"}, {ID: "B", Text: "Sushi"}},
			AllowMultipleVotes: multiple,
			ShowResultsLive:    live,
		},
	}
}

func raffleInput(method domain.EntryMethod, winners int) app.ActivityInput {
	return app.ActivityInput{
		Type:   domain.ActivityRaffle,
		Title:  "Door prize",
		Raffle: &app.RaffleInput{PrizeDescription: "Headphones", EntryMethod: method, WinnerCount: winners},
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recorder struct {
	mu        sync.Mutex
	envelopes []domain.Envelope
}

func (r *recorder) Publish(_ string, envelopes ...domain.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envelopes = append(r.envelopes, envelopes...)
}

func (r *recorder) all() []domain.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Envelope(nil), r.envelopes...)
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.envelopes = nil
	r.mu.Unlock()
}

func sent[T domain.Notification](r *recorder) []T {
	var out []T
	for _, env := range r.all() {
		if n, ok := env.Notification.(T); ok {
			out = append(out, n)
		}
	}
	return out
}

// flakyRepo fails writes on demand. failWrites covers activities and
// participants, failEvents covers events.
type flakyRepo struct {
	*memory.Repository
	failWrites       atomic.Bool
	failEvents       atomic.Bool
	failedActivities atomic.Int64
}

var errDiskGone = fmt.Errorf("disk gone")

func (r *flakyRepo) PutEvent(ctx context.Context, event domain.Event) error {
	if r.failEvents.Load() {
		return errDiskGone
	}
	return r.Repository.PutEvent(ctx, event)
}

func (r *flakyRepo) PutActivities(ctx context.Context, activities ...domain.Activity) error {
	if r.failWrites.Load() {
		r.failedActivities.Add(1)
		return errDiskGone
	}
	return r.Repository.PutActivities(ctx, activities...)
}

func (r *flakyRepo) PutParticipant(ctx context.Context, p domain.Participant) error {
	if r.failWrites.Load() {
		return errDiskGone
	}
	return r.Repository.PutParticipant(ctx, p)
}
