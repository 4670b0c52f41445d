package app

import (
	"context"
	"strings"

	"live-activity-service/internal/domain"
)

// ActivityInput is the organizer-editable part of an activity.
type ActivityInput struct {
	Type   domain.ActivityType `json:"type"`
	Title  string              `json:"title"`
	Quiz   *QuizInput          `json:"quiz,omitempty"`
	Poll   *PollInput          `json:"poll,omitempty"`
	Raffle *RaffleInput        `json:"raffle,omitempty"`
}

type QuizInput struct {
	Questions []domain.Question   `json:"questions"`
	Settings  domain.QuizSettings `json:"settings"`
}

type PollInput struct {
	Question           string          `json:"question"`
	Options            []domain.Option `json:"options"`
	AllowMultipleVotes bool            `json:"allowMultipleVotes"`
	ShowResultsLive    bool            `json:"showResultsLive"`
}

type RaffleInput struct {
	PrizeDescription string             `json:"prizeDescription"`
	EntryMethod      domain.EntryMethod `json:"entryMethod"`
	WinnerCount      int                `json:"winnerCount"`
}

// apply installs the input payload on a; the type must already match.
func (in ActivityInput) apply(a *domain.Activity) error {
	a.Title = strings.TrimSpace(in.Title)
	switch a.Type {
	case domain.ActivityQuiz:
		if in.Quiz == nil {
			return domain.ValidationError([]string{"quiz payload is missing"})
		}
		a.Quiz = &domain.Quiz{
			Questions:            domain.CloneQuestions(in.Quiz.Questions),
			Settings:             in.Quiz.Settings,
			CurrentQuestionIndex: -1,
		}
		a.Poll, a.Raffle = nil, nil
	case domain.ActivityPoll:
		if in.Poll == nil {
			return domain.ValidationError([]string{"poll payload is missing"})
		}
		options := make([]domain.PollOption, len(in.Poll.Options))
		for i, o := range in.Poll.Options {
			options[i] = domain.PollOption{ID: o.ID, Text: o.Text}
		}
		a.Poll = &domain.Poll{
			Question:           in.Poll.Question,
			Options:            options,
			AllowMultipleVotes: in.Poll.AllowMultipleVotes,
			ShowResultsLive:    in.Poll.ShowResultsLive,
		}
		a.Quiz, a.Raffle = nil, nil
	case domain.ActivityRaffle:
		if in.Raffle == nil {
			return domain.ValidationError([]string{"raffle payload is missing"})
		}
		method := in.Raffle.EntryMethod
		if method == "" {
			method = domain.EntryManual
		}
		a.Raffle = &domain.Raffle{
			PrizeDescription: in.Raffle.PrizeDescription,
			EntryMethod:      method,
			WinnerCount:      in.Raffle.WinnerCount,
		}
		a.Quiz, a.Poll = nil, nil
	default:
		return domain.ValidationError([]string{"unknown activity type " + string(a.Type)})
	}
	return nil
}

// CreateActivity appends a draft activity to the event.
func (s *Service) CreateActivity(ctx context.Context, token, eventID string, in ActivityInput) (domain.Activity, error) {
	if err := s.authorize(ctx, eventID, token); err != nil {
		return domain.Activity{}, err
	}
	return exec(ctx, s, eventID, "create-activity", func(ctx context.Context, st *eventState, out *outbox) (domain.Activity, error) {
		if st.event.Status == domain.EventCompleted {
			return domain.Activity{}, domain.Errorf(domain.ErrInvalidTransition, "event is completed")
		}
		a := domain.Activity{
			ID:      s.newID(),
			EventID: st.event.ID,
			Type:    in.Type,
			Status:  domain.ActivityDraft,
			Order:   len(st.event.ActivityIDs),
		}
		if err := in.apply(&a); err != nil {
			return domain.Activity{}, err
		}
		// Same ordering as Join: the activity record commits the creation.
		event := st.event.Clone()
		event.ActivityIDs = append(event.ActivityIDs, a.ID)
		if err := s.saveEvent(ctx, event); err != nil {
			return domain.Activity{}, err
		}
		if err := s.saveActivities(ctx, st, a); err != nil {
			return domain.Activity{}, err
		}
		st.event = event

		created := st.activities[a.ID].Clone()
		out.send(domain.ToOrganizer, domain.ActivityUpdated{Activity: created.Summary()})
		return created, nil
	})
}

// UpdateActivity replaces the payload of a draft or ready activity and puts
// it back into draft.
func (s *Service) UpdateActivity(ctx context.Context, token, eventID, activityID string, in ActivityInput) (domain.Activity, error) {
	if err := s.authorize(ctx, eventID, token); err != nil {
		return domain.Activity{}, err
	}
	return exec(ctx, s, eventID, "update-activity", func(ctx context.Context, st *eventState, out *outbox) (domain.Activity, error) {
		a, err := st.activity(activityID)
		if err != nil {
			return domain.Activity{}, err
		}
		if a.Status != domain.ActivityDraft && a.Status != domain.ActivityReady {
			return domain.Activity{}, domain.Errorf(domain.ErrInvalidTransition, "cannot edit a %s activity", a.Status)
		}
		if in.Type != "" && in.Type != a.Type {
			return domain.Activity{}, domain.Errorf(domain.ErrWrongActivityType, "activity type is fixed at %s", a.Type)
		}
		if err := in.apply(&a); err != nil {
			return domain.Activity{}, err
		}
		a.Status = domain.ActivityDraft
		if err := s.saveActivities(ctx, st, a); err != nil {
			return domain.Activity{}, err
		}
		updated := st.activities[a.ID].Clone()
		out.send(domain.ToOrganizer, domain.ActivityUpdated{Activity: updated.Summary()})
		return updated, nil
	})
}

// MarkActivityReady moves a draft activity to ready once it validates.
func (s *Service) MarkActivityReady(ctx context.Context, token, eventID, activityID string) (domain.Activity, error) {
	if err := s.authorize(ctx, eventID, token); err != nil {
		return domain.Activity{}, err
	}
	return exec(ctx, s, eventID, "mark-ready", func(ctx context.Context, st *eventState, out *outbox) (domain.Activity, error) {
		a, err := st.activity(activityID)
		if err != nil {
			return domain.Activity{}, err
		}
		if a.Status != domain.ActivityDraft {
			return domain.Activity{}, domain.Errorf(domain.ErrInvalidTransition, "activity is %s", a.Status)
		}
		if err := ValidateActivity(a).Err(); err != nil {
			return domain.Activity{}, err
		}
		a.Status = domain.ActivityReady
		if err := s.saveActivities(ctx, st, a); err != nil {
			return domain.Activity{}, err
		}
		ready := st.activities[a.ID].Clone()
		out.send(domain.ToOrganizer, domain.ActivityUpdated{Activity: ready.Summary()})
		return ready, nil
	})
}

// ActivateActivity starts an activity of any type.
func (s *Service) ActivateActivity(ctx context.Context, token, eventID, activityID string) (domain.Activity, error) {
	return s.startActivity(ctx, token, eventID, activityID, "", "activate-activity")
}

// DeactivateActivity ends the active activity through its type's end path.
func (s *Service) DeactivateActivity(ctx context.Context, token, eventID, activityID string) (domain.Activity, error) {
	return s.endActivity(ctx, token, eventID, activityID, "", "deactivate-activity")
}

// startActivity runs the compound activation: any other active activity is
// completed and the target becomes active in one atomic write. want, when
// set, restricts the command to one activity type.
func (s *Service) startActivity(ctx context.Context, token, eventID, activityID string, want domain.ActivityType, name string) (domain.Activity, error) {
	if err := s.authorize(ctx, eventID, token); err != nil {
		return domain.Activity{}, err
	}
	return exec(ctx, s, eventID, name, func(ctx context.Context, st *eventState, out *outbox) (domain.Activity, error) {
		if st.event.Status != domain.EventLive {
			return domain.Activity{}, domain.ErrEventNotLive
		}
		target, err := st.activity(activityID)
		if err != nil {
			return domain.Activity{}, err
		}
		if want != "" && target.Type != want {
			return domain.Activity{}, domain.ErrWrongActivityType
		}
		if target.Status != domain.ActivityDraft && target.Status != domain.ActivityReady {
			return domain.Activity{}, domain.Errorf(domain.ErrInvalidTransition, "cannot start a %s activity", target.Status)
		}
		if err := ValidateActivity(target).Err(); err != nil {
			return domain.Activity{}, err
		}

		now := s.now()
		var writes []domain.Activity
		if prev, ok := st.active(); ok {
			s.finish(st, &prev, out)
			out.send(domain.ToRoom, domain.ActivityDeactivated{Activity: prev.Summary()})
			writes = append(writes, prev)
		}

		target.Status = domain.ActivityActive
		out.send(domain.ToRoom, domain.ActivityActivated{Activity: target.Summary()})
		switch target.Type {
		case domain.ActivityQuiz:
			s.beginQuiz(st, &target, now, out)
		case domain.ActivityPoll:
			s.beginPoll(&target, out)
		case domain.ActivityRaffle:
			s.beginRaffle(st, &target, now, out)
		}
		writes = append(writes, target)

		if err := s.saveActivities(ctx, st, writes...); err != nil {
			return domain.Activity{}, err
		}
		s.log.Info("activity activated", "event", st.event.ID, "activity", target.ID, "type", target.Type)
		return st.activities[target.ID].Clone(), nil
	})
}

// endActivity completes an active activity. Repeating it after completion
// returns InvalidTransition and emits nothing.
func (s *Service) endActivity(ctx context.Context, token, eventID, activityID string, want domain.ActivityType, name string) (domain.Activity, error) {
	if err := s.authorize(ctx, eventID, token); err != nil {
		return domain.Activity{}, err
	}
	return exec(ctx, s, eventID, name, func(ctx context.Context, st *eventState, out *outbox) (domain.Activity, error) {
		a, err := s.activeOfType(st, activityID, want)
		if err != nil {
			return domain.Activity{}, err
		}
		s.finish(st, &a, out)
		if want == "" {
			out.send(domain.ToRoom, domain.ActivityDeactivated{Activity: a.Summary()})
		}
		if err := s.saveActivities(ctx, st, a); err != nil {
			return domain.Activity{}, err
		}
		return st.activities[a.ID].Clone(), nil
	})
}

// finish completes a through its type's end path.
func (s *Service) finish(st *eventState, a *domain.Activity, out *outbox) {
	switch a.Type {
	case domain.ActivityQuiz:
		s.finishQuiz(st, a, out)
	case domain.ActivityPoll:
		s.finishPoll(a, out)
	case domain.ActivityRaffle:
		s.finishRaffle(a, out)
	}
}

// activeOfType loads a copy of an activity that must be active (and of type
// want, when set).
func (s *Service) activeOfType(st *eventState, activityID string, want domain.ActivityType) (domain.Activity, error) {
	a, err := st.activity(activityID)
	if err != nil {
		return domain.Activity{}, err
	}
	if want != "" && a.Type != want {
		return domain.Activity{}, domain.ErrWrongActivityType
	}
	if a.Status != domain.ActivityActive {
		return domain.Activity{}, domain.Errorf(domain.ErrInvalidTransition, "activity is %s", a.Status)
	}
	return a, nil
}
