package app_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"live-activity-service/internal/app"
	"live-activity-service/internal/domain"
)

func TestQuizScoringTieBreakAndStreakReset(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, app.Options{})
	event := h.liveEvent(t, domain.VisibilityPublic)
	alice := h.join(t, event, "Alice")
	bob := h.join(t, event, "Bob")
	carol := h.join(t, event, "Carol")

	quiz := h.create(t, event.ID, quizInput(domain.QuizSettings{ScoringEnabled: true, StreakTrackingEnabled: true}, 30))
	_, err := h.svc.StartQuiz(ctx, organizer, event.ID, quiz.ID)
	require.NoError(t, err)

	displayed := sent[domain.QuestionDisplayed](h.pub)
	require.Len(t, displayed, 1)
	require.Equal(t, "q1", displayed[0].Question.ID)
	require.Equal(t, 30, displayed[0].TimerSeconds)

	answer := func(p domain.Participant, question, option string) domain.AnswerResult {
		t.Helper()
		res, err := h.svc.SubmitAnswer(ctx, event.ID, p.ID, domain.AnswerSubmission{ActivityID: quiz.ID, QuestionID: question, OptionID: option})
		require.NoError(t, err)
		return res
	}

	h.clock.Advance(time.Second)
	require.Equal(t, 100, answer(bob, "q1", "b").PointsEarned)
	h.clock.Advance(time.Second)
	answer(alice, "q1", "b")
	h.clock.Advance(time.Second)
	answer(carol, "q1", "b")

	res, err := h.svc.EndQuestion(ctx, organizer, event.ID, quiz.ID)
	require.NoError(t, err)
	require.True(t, res.Closed)

	boards := sent[domain.LeaderboardUpdated](h.pub)
	require.Len(t, boards, 1)
	entries := boards[0].Leaderboard.Entries
	require.Len(t, entries, 3)
	for _, e := range entries {
		require.Equal(t, 100, e.Score)
	}
	require.Equal(t, []string{bob.ID, alice.ID, carol.ID}, []string{entries[0].ParticipantID, entries[1].ParticipantID, entries[2].ParticipantID})
	require.Equal(t, []int{1, 2, 3}, []int{entries[0].Rank, entries[1].Rank, entries[2].Rank})

	ended := sent[domain.QuestionEnded](h.pub)
	require.Len(t, ended, 1)
	require.Equal(t, "b", ended[0].CorrectOptionID)
	require.Equal(t, 3, ended[0].TotalAnswers)
	require.False(t, ended[0].TimedOut)

	_, err = h.svc.NextQuestion(ctx, organizer, event.ID, quiz.ID)
	require.NoError(t, err)
	h.clock.Advance(time.Second)
	answer(alice, "q2", "a")
	wrong := answer(bob, "q2", "c")
	require.False(t, wrong.IsCorrect)
	require.Zero(t, wrong.PointsEarned)
	require.Zero(t, wrong.Streak)
	require.Equal(t, 100, wrong.TotalScore)
	answer(carol, "q2", "a")

	lb, err := h.svc.Leaderboard(ctx, event.ID, "", "")
	require.NoError(t, err)
	require.Equal(t, alice.ID, lb.Entries[0].ParticipantID)
	require.Equal(t, 200, lb.Entries[0].Score)
	require.Equal(t, 2, lb.Entries[0].Streak)
	require.Equal(t, bob.ID, lb.Entries[2].ParticipantID)
	require.Equal(t, 100, lb.Entries[2].Score)
	require.Zero(t, lb.Entries[2].Streak)
}

func TestSubmitAnswerRejections(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, app.Options{})
	event := h.liveEvent(t, domain.VisibilityPublic)
	alice := h.join(t, event, "Alice")
	quiz := h.create(t, event.ID, quizInput(domain.QuizSettings{ScoringEnabled: true}, 30))

	submit := func(question, option string) error {
		_, err := h.svc.SubmitAnswer(ctx, event.ID, alice.ID, domain.AnswerSubmission{ActivityID: quiz.ID, QuestionID: question, OptionID: option})
		return err
	}

	require.True(t, domain.IsKind(submit("q1", "b"), domain.KindInvalidTransition))

	_, err := h.svc.StartQuiz(ctx, organizer, event.ID, quiz.ID)
	require.NoError(t, err)

	require.ErrorIs(t, submit("q9", "b"), domain.ErrQuestionNotFound)
	require.ErrorIs(t, submit("q1", "z"), domain.ErrOptionNotFound)
	require.True(t, domain.IsKind(submit("q2", "a"), domain.KindInvalidTransition))
	require.NoError(t, submit("q1", "a"))
	require.ErrorIs(t, submit("q1", "b"), domain.ErrAlreadyAnswered)

	_, err = h.svc.NextQuestion(ctx, organizer, event.ID, quiz.ID)
	require.NoError(t, err)
	_, err = h.svc.EndQuestion(ctx, organizer, event.ID, quiz.ID)
	require.NoError(t, err)
	require.ErrorIs(t, submit("q2", "a"), domain.ErrTooLate)

	p, err := h.repo.GetParticipant(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, p.Answers, 1)
	require.Zero(t, p.Score)
}

func TestEndQuizTwiceBroadcastsOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, app.Options{})
	event := h.liveEvent(t, domain.VisibilityPublic)
	h.join(t, event, "Alice")
	quiz := h.create(t, event.ID, quizInput(domain.QuizSettings{ScoringEnabled: true}, 30))

	_, err := h.svc.StartQuiz(ctx, organizer, event.ID, quiz.ID)
	require.NoError(t, err)

	done, err := h.svc.EndQuiz(ctx, organizer, event.ID, quiz.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ActivityCompleted, done.Status)

	_, err = h.svc.EndQuiz(ctx, organizer, event.ID, quiz.ID)
	require.True(t, domain.IsKind(err, domain.KindInvalidTransition))

	ended := sent[domain.QuizEnded](h.pub)
	require.Len(t, ended, 1)
	require.Len(t, ended[0].Top3, 1)
	// the open question was closed on the way out
	require.Len(t, sent[domain.QuestionEnded](h.pub), 1)
}

func TestNextQuestionPastLastEndsQuiz(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, app.Options{})
	event := h.liveEvent(t, domain.VisibilityPublic)
	quiz := h.create(t, event.ID, quizInput(domain.QuizSettings{}, 30))

	_, err := h.svc.StartQuiz(ctx, organizer, event.ID, quiz.ID)
	require.NoError(t, err)
	_, err = h.svc.NextQuestion(ctx, organizer, event.ID, quiz.ID)
	require.NoError(t, err)
	a, err := h.svc.NextQuestion(ctx, organizer, event.ID, quiz.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ActivityCompleted, a.Status)
	require.Len(t, sent[domain.QuizEnded](h.pub), 1)
	require.Len(t, sent[domain.QuestionEnded](h.pub), 2)
}

func TestTimerExpiryClosesQuestionOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, app.Options{TimeUnit: 10 * time.Millisecond})
	event := h.liveEvent(t, domain.VisibilityPublic)
	alice := h.join(t, event, "Alice")
	quiz := h.create(t, event.ID, quizInput(domain.QuizSettings{ScoringEnabled: true}, 3))

	_, err := h.svc.StartQuiz(ctx, organizer, event.ID, quiz.ID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(sent[domain.QuestionEnded](h.pub)) == 1
	}, 2*time.Second, 5*time.Millisecond)

	ended := sent[domain.QuestionEnded](h.pub)
	require.True(t, ended[0].TimedOut)
	require.NotEmpty(t, sent[domain.TimerTick](h.pub))

	// the organizer's end loses the race and is a no-op
	res, err := h.svc.EndQuestion(ctx, organizer, event.ID, quiz.ID)
	require.NoError(t, err)
	require.False(t, res.Closed)

	_, err = h.svc.SubmitAnswer(ctx, event.ID, alice.ID, domain.AnswerSubmission{ActivityID: quiz.ID, QuestionID: "q1", OptionID: "b"})
	require.ErrorIs(t, err, domain.ErrTooLate)
	require.Len(t, sent[domain.QuestionEnded](h.pub), 1)
}

func TestAnswerAfterDeadlineIsTooLate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, app.Options{})
	event := h.liveEvent(t, domain.VisibilityPublic)
	alice := h.join(t, event, "Alice")
	bob := h.join(t, event, "Bob")
	quiz := h.create(t, event.ID, quizInput(domain.QuizSettings{ScoringEnabled: true}, 30))
	_, err := h.svc.StartQuiz(ctx, organizer, event.ID, quiz.ID)
	require.NoError(t, err)

	h.clock.Advance(29 * time.Second)
	_, err = h.svc.SubmitAnswer(ctx, event.ID, alice.ID, domain.AnswerSubmission{ActivityID: quiz.ID, QuestionID: "q1", OptionID: "b"})
	require.NoError(t, err)

	// the countdown has not fired yet, the window is still over
	h.clock.Advance(time.Second)
	_, err = h.svc.SubmitAnswer(ctx, event.ID, bob.ID, domain.AnswerSubmission{ActivityID: quiz.ID, QuestionID: "q1", OptionID: "b"})
	require.ErrorIs(t, err, domain.ErrTooLate)
}

func TestOrganizerEndCancelsTimer(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, app.Options{TimeUnit: 10 * time.Millisecond})
	event := h.liveEvent(t, domain.VisibilityPublic)
	quiz := h.create(t, event.ID, quizInput(domain.QuizSettings{}, 3))

	_, err := h.svc.StartQuiz(ctx, organizer, event.ID, quiz.ID)
	require.NoError(t, err)
	res, err := h.svc.EndQuestion(ctx, organizer, event.ID, quiz.ID)
	require.NoError(t, err)
	require.True(t, res.Closed)

	time.Sleep(80 * time.Millisecond)
	ended := sent[domain.QuestionEnded](h.pub)
	require.Len(t, ended, 1)
	require.False(t, ended[0].TimedOut)
}

func TestQuestionDisplayedHidesAnswer(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, app.Options{})
	event := h.liveEvent(t, domain.VisibilityPublic)
	quiz := h.create(t, event.ID, quizInput(domain.QuizSettings{}, 0))

	_, err := h.svc.StartQuiz(ctx, organizer, event.ID, quiz.ID)
	require.NoError(t, err)
	displayed := sent[domain.QuestionDisplayed](h.pub)
	require.Len(t, displayed, 1)
	require.Equal(t, 20, displayed[0].TimerSeconds)
	require.IsType(t, domain.PublicQuestion{}, displayed[0].Question)
}
