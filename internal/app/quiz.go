package app

import (
	"context"
	"time"

	"live-activity-service/internal/domain"
)

// StartQuiz activates a quiz and displays its first question.
func (s *Service) StartQuiz(ctx context.Context, token, eventID, activityID string) (domain.Activity, error) {
	return s.startActivity(ctx, token, eventID, activityID, domain.ActivityQuiz, "start-quiz")
}

// NextQuestion closes the open question, if any, and displays the next one.
// Moving past the last question ends the quiz.
func (s *Service) NextQuestion(ctx context.Context, token, eventID, activityID string) (domain.Activity, error) {
	if err := s.authorize(ctx, eventID, token); err != nil {
		return domain.Activity{}, err
	}
	return exec(ctx, s, eventID, "next-question", func(ctx context.Context, st *eventState, out *outbox) (domain.Activity, error) {
		a, err := s.activeOfType(st, activityID, domain.ActivityQuiz)
		if err != nil {
			return domain.Activity{}, err
		}
		now := s.now()
		if a.Quiz.QuestionOpen {
			s.closeQuestion(st, &a, false, out)
		}
		next := a.Quiz.CurrentQuestionIndex + 1
		if next >= len(a.Quiz.Questions) {
			s.finishQuiz(st, &a, out)
		} else {
			s.displayQuestion(st, &a, next, now, out)
		}
		if err := s.saveActivities(ctx, st, a); err != nil {
			return domain.Activity{}, err
		}
		return st.activities[a.ID].Clone(), nil
	})
}

// EndQuestionResult tells the organizer whether its command closed the question.
type EndQuestionResult struct {
	Closed bool `json:"closed"`
}

// EndQuestion closes the open question. If the countdown already closed it,
// the command is a no-op and Closed is false.
func (s *Service) EndQuestion(ctx context.Context, token, eventID, activityID string) (EndQuestionResult, error) {
	if err := s.authorize(ctx, eventID, token); err != nil {
		return EndQuestionResult{}, err
	}
	return exec(ctx, s, eventID, "end-question", func(ctx context.Context, st *eventState, out *outbox) (EndQuestionResult, error) {
		a, err := s.activeOfType(st, activityID, domain.ActivityQuiz)
		if err != nil {
			return EndQuestionResult{}, err
		}
		if a.Quiz.CurrentQuestionIndex < 0 {
			return EndQuestionResult{}, domain.Errorf(domain.ErrInvalidTransition, "no question has been displayed")
		}
		if !a.Quiz.QuestionOpen {
			return EndQuestionResult{Closed: false}, nil
		}
		s.closeQuestion(st, &a, false, out)
		if err := s.saveActivities(ctx, st, a); err != nil {
			return EndQuestionResult{}, err
		}
		return EndQuestionResult{Closed: true}, nil
	})
}

// EndQuiz completes the quiz and broadcasts the final leaderboard once.
func (s *Service) EndQuiz(ctx context.Context, token, eventID, activityID string) (domain.Activity, error) {
	return s.endActivity(ctx, token, eventID, activityID, domain.ActivityQuiz, "end-quiz")
}

// SubmitAnswer records and scores a participant's answer to the open question.
func (s *Service) SubmitAnswer(ctx context.Context, eventID, participantID string, sub domain.AnswerSubmission) (domain.AnswerResult, error) {
	return exec(ctx, s, eventID, "submit-answer", func(ctx context.Context, st *eventState, out *outbox) (domain.AnswerResult, error) {
		p, err := st.participant(participantID)
		if err != nil {
			return domain.AnswerResult{}, err
		}
		a, err := st.activity(sub.ActivityID)
		if err != nil {
			return domain.AnswerResult{}, err
		}
		if a.Type != domain.ActivityQuiz {
			return domain.AnswerResult{}, domain.ErrWrongActivityType
		}

		index := -1
		for i, q := range a.Quiz.Questions {
			if q.ID == sub.QuestionID {
				index = i
				break
			}
		}
		if index < 0 {
			return domain.AnswerResult{}, domain.ErrQuestionNotFound
		}
		if _, answered := p.AnswerFor(a.ID, sub.QuestionID); answered {
			return domain.AnswerResult{}, domain.ErrAlreadyAnswered
		}
		switch a.Status {
		case domain.ActivityActive:
		case domain.ActivityCompleted:
			return domain.AnswerResult{}, domain.ErrTooLate
		default:
			return domain.AnswerResult{}, domain.Errorf(domain.ErrInvalidTransition, "quiz is %s", a.Status)
		}
		current := a.Quiz.CurrentQuestionIndex
		if index > current {
			return domain.AnswerResult{}, domain.Errorf(domain.ErrInvalidTransition, "question has not been displayed")
		}
		if index < current || !a.Quiz.QuestionOpen {
			return domain.AnswerResult{}, domain.ErrTooLate
		}

		question := a.Quiz.Questions[index]
		now := s.now()
		// The countdown may not have closed the question yet.
		if s.questionClosed(*a.Quiz, question, now) {
			return domain.AnswerResult{}, domain.ErrTooLate
		}
		if !question.HasOption(sub.OptionID) {
			return domain.AnswerResult{}, domain.ErrOptionNotFound
		}

		responseMs := now.Sub(a.Quiz.QuestionStartedAt).Milliseconds()
		if responseMs < 0 {
			responseMs = 0
		}
		outcome := s.opts.Scoring.Score(ScoreInput{
			Question:         question,
			Settings:         a.Quiz.Settings,
			SelectedOptionID: sub.OptionID,
			ResponseTimeMs:   responseMs,
			WindowMs:         int64(s.timerSeconds(question)) * 1000,
			CurrentStreak:    p.CurrentStreak,
		})

		p.Answers = append(p.Answers, domain.Answer{
			ParticipantID:    p.ID,
			ActivityID:       a.ID,
			QuestionID:       question.ID,
			SelectedOptionID: sub.OptionID,
			ResponseTimeMs:   responseMs,
			IsCorrect:        outcome.IsCorrect,
			PointsEarned:     outcome.PointsEarned,
			SubmittedAt:      now,
		})
		p.Score += outcome.PointsEarned
		p.CurrentStreak = outcome.NewStreak
		p.TotalAnswerTimeMs += responseMs

		if err := s.saveParticipant(ctx, p); err != nil {
			return domain.AnswerResult{}, err
		}
		st.participants[p.ID] = &p

		result := domain.AnswerResult{
			ActivityID:     a.ID,
			QuestionID:     question.ID,
			IsCorrect:      outcome.IsCorrect,
			PointsEarned:   outcome.PointsEarned,
			TotalScore:     p.Score,
			Streak:         p.CurrentStreak,
			ResponseTimeMs: responseMs,
		}
		out.send(domain.ToParticipant(p.ID), domain.AnswerResultNotice{Result: result})
		return result, nil
	})
}

// Leaderboard returns the current ranking of an event's participants. The
// caller needs the organizer token or, for private events, the game pin.
func (s *Service) Leaderboard(ctx context.Context, eventID, token, pin string) (domain.Leaderboard, error) {
	if _, err := s.authorizeViewer(ctx, eventID, token, pin); err != nil {
		return domain.Leaderboard{}, err
	}
	return exec(ctx, s, eventID, "leaderboard", func(_ context.Context, st *eventState, _ *outbox) (domain.Leaderboard, error) {
		return RankParticipants(st.event.ID, st.participantList(), s.now()), nil
	})
}

// beginQuiz moves the cursor to the first question.
func (s *Service) beginQuiz(st *eventState, a *domain.Activity, now time.Time, out *outbox) {
	a.Quiz.CurrentQuestionIndex = -1
	a.Quiz.QuestionOpen = false
	s.displayQuestion(st, a, 0, now, out)
}

func (s *Service) displayQuestion(st *eventState, a *domain.Activity, index int, now time.Time, out *outbox) {
	quiz := a.Quiz
	quiz.CurrentQuestionIndex = index
	quiz.QuestionOpen = true
	quiz.QuestionStartedAt = now
	question := quiz.Questions[index]
	seconds := s.timerSeconds(question)

	out.send(domain.ToRoom, domain.QuestionDisplayed{
		ActivityID:     a.ID,
		QuestionIndex:  index,
		TotalQuestions: len(quiz.Questions),
		Question:       question.Public(),
		StartTime:      now,
		TimerSeconds:   seconds,
	})

	eventID, activityID := st.event.ID, a.ID
	remaining := time.Duration(seconds) * s.opts.TimeUnit
	out.then(func() {
		st.cancelTimer(activityID)
		st.timers[activityID] = s.startCountdown(eventID, activityID, index, remaining)
	})
}

// closeQuestion ends the submission window and emits statistics plus the
// refreshed leaderboard. Answers were scored on submission, so the snapshot
// already reflects every accepted answer.
func (s *Service) closeQuestion(st *eventState, a *domain.Activity, timedOut bool, out *outbox) {
	quiz := a.Quiz
	quiz.QuestionOpen = false
	question, _ := quiz.Current()
	participants := st.participantList()
	total, stats := QuestionStats(a.ID, question, participants)

	out.send(domain.ToRoom, domain.QuestionEnded{
		ActivityID:      a.ID,
		QuestionIndex:   quiz.CurrentQuestionIndex,
		QuestionID:      question.ID,
		CorrectOptionID: question.CorrectOptionID,
		TotalAnswers:    total,
		Stats:           stats,
		TimedOut:        timedOut,
	})
	out.send(domain.ToRoom, domain.LeaderboardUpdated{
		ActivityID:  a.ID,
		Leaderboard: RankParticipants(st.event.ID, participants, s.now()),
	})

	activityID := a.ID
	out.then(func() { st.cancelTimer(activityID) })
}

func (s *Service) finishQuiz(st *eventState, a *domain.Activity, out *outbox) {
	if a.Quiz.QuestionOpen {
		s.closeQuestion(st, a, false, out)
	}
	a.Status = domain.ActivityCompleted
	lb := RankParticipants(st.event.ID, st.participantList(), s.now())
	out.send(domain.ToRoom, domain.QuizEnded{
		ActivityID:  a.ID,
		Leaderboard: lb,
		Top3:        TopN(lb, 3),
	})
	activityID := a.ID
	out.then(func() { st.cancelTimer(activityID) })
}

// expireQuestion is the countdown's producer of the end-question command.
func (s *Service) expireQuestion(activityID string, index int) runFunc {
	return func(ctx context.Context, st *eventState, out *outbox) (any, error) {
		a, ok := st.activities[activityID]
		if !ok || !questionStillOpen(*a, index) {
			return nil, nil
		}
		next := a.Clone()
		s.closeQuestion(st, &next, true, out)
		if err := s.saveActivities(ctx, st, next); err != nil {
			// Try again one unit later; answers are refused past the deadline meanwhile.
			st.cancelTimer(activityID)
			st.timers[activityID] = s.startCountdown(st.event.ID, activityID, index, s.opts.TimeUnit)
			return nil, err
		}
		return nil, nil
	}
}

func (s *Service) tickQuestion(activityID string, index, secondsRemaining int) runFunc {
	return func(_ context.Context, st *eventState, out *outbox) (any, error) {
		a, ok := st.activities[activityID]
		if !ok || !questionStillOpen(*a, index) {
			return nil, nil
		}
		out.send(domain.ToRoom, domain.TimerTick{
			ActivityID:       activityID,
			QuestionIndex:    index,
			SecondsRemaining: secondsRemaining,
		})
		return nil, nil
	}
}

func questionStillOpen(a domain.Activity, index int) bool {
	return a.Status == domain.ActivityActive &&
		a.Quiz != nil &&
		a.Quiz.QuestionOpen &&
		a.Quiz.CurrentQuestionIndex == index
}
