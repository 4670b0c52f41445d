package app

import (
	"context"

	"live-activity-service/internal/domain"
)

// StartPoll activates a poll.
func (s *Service) StartPoll(ctx context.Context, token, eventID, activityID string) (domain.Activity, error) {
	return s.startActivity(ctx, token, eventID, activityID, domain.ActivityPoll, "start-poll")
}

// EndPoll completes the poll and freezes its tally.
func (s *Service) EndPoll(ctx context.Context, token, eventID, activityID string) (domain.Activity, error) {
	return s.endActivity(ctx, token, eventID, activityID, domain.ActivityPoll, "end-poll")
}

// SubmitVote records one participant selection. Without AllowMultipleVotes a
// participant holds a single vote; with it, one vote per distinct option.
func (s *Service) SubmitVote(ctx context.Context, eventID, participantID, activityID, optionID string) (domain.PollResults, error) {
	return exec(ctx, s, eventID, "submit-vote", func(ctx context.Context, st *eventState, out *outbox) (domain.PollResults, error) {
		if _, err := st.participant(participantID); err != nil {
			return domain.PollResults{}, err
		}
		a, err := st.activity(activityID)
		if err != nil {
			return domain.PollResults{}, err
		}
		if a.Type != domain.ActivityPoll {
			return domain.PollResults{}, domain.ErrWrongActivityType
		}
		switch a.Status {
		case domain.ActivityActive:
		case domain.ActivityCompleted:
			return domain.PollResults{}, domain.ErrPollClosed
		default:
			return domain.PollResults{}, domain.Errorf(domain.ErrInvalidTransition, "poll is %s", a.Status)
		}

		poll := a.Poll
		slot := -1
		for i, o := range poll.Options {
			if o.ID == optionID {
				slot = i
				break
			}
		}
		if slot < 0 {
			return domain.PollResults{}, domain.ErrOptionNotFound
		}

		voteIdx := -1
		for i, v := range poll.Votes {
			if v.ParticipantID != participantID {
				continue
			}
			if !poll.AllowMultipleVotes {
				return domain.PollResults{}, domain.ErrDuplicateVote
			}
			for _, id := range v.OptionIDs {
				if id == optionID {
					return domain.PollResults{}, domain.Errorf(domain.ErrDuplicateVote, "option %s already selected", optionID)
				}
			}
			voteIdx = i
		}

		if voteIdx < 0 {
			poll.Votes = append(poll.Votes, domain.Vote{
				ParticipantID: participantID,
				OptionIDs:     []string{optionID},
				SubmittedAt:   s.now(),
			})
			voteIdx = len(poll.Votes) - 1
		} else {
			poll.Votes[voteIdx].OptionIDs = append(poll.Votes[voteIdx].OptionIDs, optionID)
		}
		poll.Options[slot].Votes++

		if err := s.saveActivities(ctx, st, a); err != nil {
			return domain.PollResults{}, err
		}

		results := PollTally(a.ID, *poll)
		out.send(domain.ToParticipant(participantID), domain.VoteSubmitted{
			ActivityID:    a.ID,
			ParticipantID: participantID,
			OptionIDs:     append([]string(nil), poll.Votes[voteIdx].OptionIDs...),
			TotalVotes:    results.TotalVotes,
		})
		// Hidden results still reach the organizer's console.
		to := domain.ToOrganizer
		if poll.ShowResultsLive {
			to = domain.ToRoom
		}
		out.send(to, domain.PollResultsUpdated{Results: results})
		return results, nil
	})
}

// PollResults returns the current tally of a poll to the organizer or anyone
// allowed to join the event.
func (s *Service) PollResults(ctx context.Context, eventID, activityID, token, pin string) (domain.PollResults, error) {
	organizer, err := s.authorizeViewer(ctx, eventID, token, pin)
	if err != nil {
		return domain.PollResults{}, err
	}
	return exec(ctx, s, eventID, "poll-results", func(_ context.Context, st *eventState, _ *outbox) (domain.PollResults, error) {
		a, err := st.activity(activityID)
		if err != nil {
			return domain.PollResults{}, err
		}
		if a.Type != domain.ActivityPoll {
			return domain.PollResults{}, domain.ErrWrongActivityType
		}
		if !organizer && a.Status == domain.ActivityActive && !a.Poll.ShowResultsLive {
			return domain.PollResults{}, domain.Errorf(domain.ErrForbidden, "results are hidden until the poll ends")
		}
		return PollTally(a.ID, *a.Poll), nil
	})
}

func (s *Service) beginPoll(a *domain.Activity, out *outbox) {
	poll := a.Poll
	poll.Votes = nil
	for i := range poll.Options {
		poll.Options[i].Votes = 0
	}
	out.send(domain.ToRoom, domain.PollStarted{
		ActivityID:         a.ID,
		Question:           poll.Question,
		Options:            append([]domain.PollOption(nil), poll.Options...),
		AllowMultipleVotes: poll.AllowMultipleVotes,
		ShowResultsLive:    poll.ShowResultsLive,
	})
}

func (s *Service) finishPoll(a *domain.Activity, out *outbox) {
	a.Status = domain.ActivityCompleted
	out.send(domain.ToRoom, domain.PollEnded{Results: PollTally(a.ID, *a.Poll)})
}
