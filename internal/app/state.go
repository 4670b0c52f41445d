package app

import (
	"context"
	"sort"
	"time"

	"live-activity-service/internal/domain"
)

// eventState is the in-memory copy of one event, owned by its command loop.
type eventState struct {
	event        domain.Event
	activities   map[string]*domain.Activity
	participants map[string]*domain.Participant
	// timers holds the countdown cancel func of each activity's open question.
	timers map[string]context.CancelFunc
	// stale is set when a command committed only part of its writes; the
	// loop reloads from storage before the next command.
	stale bool
}

func (s *Service) loadState(ctx context.Context, eventID string) (*eventState, error) {
	sctx, cancel := s.storageCtx(ctx)
	defer cancel()

	event, err := s.repo.GetEvent(sctx, eventID)
	if err != nil {
		return nil, storageError(err, domain.ErrEventNotFound)
	}
	activities, err := s.repo.ListActivities(sctx, eventID)
	if err != nil {
		return nil, storageError(err, domain.ErrActivityNotFound)
	}
	participants, err := s.repo.ListParticipants(sctx, eventID)
	if err != nil {
		return nil, storageError(err, domain.ErrParticipantNotFound)
	}

	st := &eventState{
		event:        event,
		activities:   make(map[string]*domain.Activity, len(activities)),
		participants: make(map[string]*domain.Participant, len(participants)),
		timers:       make(map[string]context.CancelFunc),
	}
	for i := range activities {
		a := activities[i]
		st.activities[a.ID] = &a
	}
	for i := range participants {
		p := participants[i]
		st.participants[p.ID] = &p
	}

	return st, nil
}

// recoverState repairs what a restart or a partly committed command left
// behind. A completed event loses its active activity, questions past their
// deadline are closed and the remaining countdowns are resumed. Each repair
// publishes only if its own write succeeds.
func (s *Service) recoverState(ctx context.Context, st *eventState, out *outbox) (any, error) {
	var failed error
	for _, a := range st.activityList() {
		if a.Status != domain.ActivityActive {
			continue
		}
		step := &outbox{}
		if st.event.Status == domain.EventCompleted {
			s.finish(st, &a, step)
			step.send(domain.ToRoom, domain.ActivityDeactivated{Activity: a.Summary()})
			if err := s.saveActivities(ctx, st, a); err != nil {
				st.stale = true
				failed = err
				continue
			}
			s.log.Info("closed activity of completed event", "event", st.event.ID, "activity", a.ID)
			out.merge(step)
			out.then(func() { s.forgetPIN(st.event.GamePIN) })
			continue
		}
		if a.Quiz == nil || !a.Quiz.QuestionOpen {
			continue
		}
		q, ok := a.Quiz.Current()
		if !ok {
			continue
		}
		index := a.Quiz.CurrentQuestionIndex
		elapsed := s.now().Sub(a.Quiz.QuestionStartedAt)
		remaining := time.Duration(s.timerSeconds(q))*s.opts.TimeUnit - scaleElapsed(elapsed, s.opts.TimeUnit)
		if remaining <= 0 {
			if _, err := s.expireQuestion(a.ID, index)(ctx, st, step); err != nil {
				failed = err
				continue
			}
			s.log.Info("closed question past its deadline", "event", st.event.ID, "activity", a.ID, "question", index)
			out.merge(step)
			continue
		}
		st.cancelTimer(a.ID)
		st.timers[a.ID] = s.startCountdown(st.event.ID, a.ID, index, remaining)
		s.log.Info("resumed question countdown", "event", st.event.ID, "activity", a.ID, "question", index, "remaining", remaining)
	}
	if st.event.Status == domain.EventCompleted {
		st.stopTimers()
	}
	return nil, failed
}

// scaleElapsed converts wall-clock elapsed time into countdown units.
func scaleElapsed(elapsed, unit time.Duration) time.Duration {
	if unit == time.Second {
		return elapsed
	}
	return time.Duration(float64(elapsed) / float64(time.Second) * float64(unit))
}

func (st *eventState) activity(id string) (domain.Activity, error) {
	a, ok := st.activities[id]
	if !ok {
		return domain.Activity{}, domain.ErrActivityNotFound
	}
	return a.Clone(), nil
}

func (st *eventState) participant(id string) (domain.Participant, error) {
	p, ok := st.participants[id]
	if !ok {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	return p.Clone(), nil
}

// active returns the event's active activity, if any.
func (st *eventState) active() (domain.Activity, bool) {
	for _, a := range st.activities {
		if a.Status == domain.ActivityActive {
			return a.Clone(), true
		}
	}
	return domain.Activity{}, false
}

// participantList returns participants in join order.
func (st *eventState) participantList() []domain.Participant {
	list := make([]domain.Participant, 0, len(st.participants))
	for _, p := range st.participants {
		list = append(list, *p)
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].JoinedAt.Equal(list[j].JoinedAt) {
			return list[i].JoinedAt.Before(list[j].JoinedAt)
		}
		return list[i].ID < list[j].ID
	})
	return list
}

// activityList returns activities in their configured order.
func (st *eventState) activityList() []domain.Activity {
	list := make([]domain.Activity, 0, len(st.activities))
	for _, a := range st.activities {
		list = append(list, a.Clone())
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Order != list[j].Order {
			return list[i].Order < list[j].Order
		}
		return list[i].ID < list[j].ID
	})
	return list
}

func (st *eventState) cancelTimer(activityID string) {
	if cancel, ok := st.timers[activityID]; ok {
		cancel()
		delete(st.timers, activityID)
	}
}

func (st *eventState) stopTimers() {
	for id, cancel := range st.timers {
		cancel()
		delete(st.timers, id)
	}
}

// saveActivities persists activities atomically and, on success, installs
// them with their bumped versions.
func (s *Service) saveActivities(ctx context.Context, st *eventState, activities ...domain.Activity) error {
	now := s.now()
	for i := range activities {
		activities[i].UpdatedAt = now
	}
	sctx, cancel := s.storageCtx(ctx)
	defer cancel()
	if err := s.repo.PutActivities(sctx, activities...); err != nil {
		return storageError(err, domain.ErrActivityNotFound)
	}
	for i := range activities {
		a := activities[i]
		a.Version++
		st.activities[a.ID] = &a
	}
	return nil
}

func (s *Service) saveParticipant(ctx context.Context, p domain.Participant) error {
	sctx, cancel := s.storageCtx(ctx)
	defer cancel()
	if err := s.repo.PutParticipant(sctx, p); err != nil {
		return storageError(err, domain.ErrParticipantNotFound)
	}
	return nil
}

func (s *Service) saveEvent(ctx context.Context, e domain.Event) error {
	e.UpdatedAt = s.now()
	sctx, cancel := s.storageCtx(ctx)
	defer cancel()
	if err := s.repo.PutEvent(sctx, e); err != nil {
		return storageError(err, domain.ErrEventNotFound)
	}
	return nil
}

// questionClosed reports whether now is past the open question's answer
// window, whether or not the countdown has closed it yet.
func (s *Service) questionClosed(quiz domain.Quiz, q domain.Question, now time.Time) bool {
	deadline := quiz.QuestionStartedAt.Add(time.Duration(s.timerSeconds(q)) * time.Second)
	return !now.Before(deadline)
}

// forgetPIN drops a released pin from the directory cache.
func (s *Service) forgetPIN(pin string) {
	if s.dir == nil || pin == "" {
		return
	}
	ctx, cancel := s.storageCtx(s.ctx)
	defer cancel()
	s.dir.Forget(ctx, pin)
}

func (s *Service) timerSeconds(q domain.Question) int {
	if q.TimerSeconds > 0 {
		return q.TimerSeconds
	}
	return s.opts.DefaultTimerSeconds
}

// startCountdown produces timer-tick commands every unit and one expiry
// command on the event's queue. The expiry is guarded by the question index,
// so it is a no-op when the organizer already closed the question.
func (s *Service) startCountdown(eventID, activityID string, index int, remaining time.Duration) context.CancelFunc {
	ctx, cancel := context.WithCancel(s.ctx)
	unit := s.opts.TimeUnit
	deadline := time.Now().Add(remaining)

	go func() {
		ticker := time.NewTicker(unit)
		defer ticker.Stop()
		for {
			left := time.Until(deadline)
			if left <= 0 {
				s.post(eventID, "question-timer-expired", s.expireQuestion(activityID, index))
				return
			}
			wait := left
			if wait > unit {
				wait = unit
			}
			ticker.Reset(wait)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			left = time.Until(deadline)
			if left > 0 {
				secs := int((left + unit - 1) / unit)
				s.post(eventID, "timer-tick", s.tickQuestion(activityID, index, secs))
			}
		}
	}()
	return cancel
}
