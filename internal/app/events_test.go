package app_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"live-activity-service/internal/app"
	"live-activity-service/internal/domain"
)

func TestPrivateEventJoinNeedsPIN(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, app.Options{})
	event := h.liveEvent(t, domain.VisibilityPrivate)
	require.Len(t, event.GamePIN, 6)

	_, err := h.svc.Join(ctx, app.JoinRequest{EventID: event.ID, Name: "Alice"})
	require.ErrorIs(t, err, domain.ErrUnauthenticated)

	wrong := "000000"
	if event.GamePIN == wrong {
		wrong = "111111"
	}
	_, err = h.svc.Join(ctx, app.JoinRequest{EventID: event.ID, PIN: wrong, Name: "Alice"})
	require.True(t, domain.IsKind(err, domain.KindForbidden))

	p, err := h.svc.Join(ctx, app.JoinRequest{PIN: event.GamePIN, Name: "Alice"})
	require.NoError(t, err)
	require.Equal(t, event.ID, p.EventID)

	_, err = h.svc.Join(ctx, app.JoinRequest{EventID: event.ID, Token: organizer, Name: "Host"})
	require.NoError(t, err)
}

func TestJoinReattachKeepsScore(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, app.Options{})
	event := h.liveEvent(t, domain.VisibilityPublic)
	alice := h.join(t, event, "Alice")
	quiz := h.create(t, event.ID, quizInput(domain.QuizSettings{ScoringEnabled: true}, 30))
	_, err := h.svc.StartQuiz(ctx, organizer, event.ID, quiz.ID)
	require.NoError(t, err)
	_, err = h.svc.SubmitAnswer(ctx, event.ID, alice.ID, domain.AnswerSubmission{ActivityID: quiz.ID, QuestionID: "q1", OptionID: "b"})
	require.NoError(t, err)

	var attached domain.Participant
	again, err := h.svc.Join(ctx, app.JoinRequest{
		EventID:       event.ID,
		ParticipantID: alice.ID,
		Attach:        func(p domain.Participant) { attached = p },
	})
	require.NoError(t, err)
	require.Equal(t, alice.ID, again.ID)
	require.Equal(t, 100, again.Score)
	require.Equal(t, alice.ID, attached.ID)

	view, err := h.svc.GetEvent(ctx, organizer, event.ID)
	require.NoError(t, err)
	require.Len(t, view.Participants, 1)

	rosters := sent[domain.ParticipantsUpdated](h.pub)
	require.Equal(t, 1, rosters[len(rosters)-1].Count)
}

func TestJoinValidatesName(t *testing.T) {
	h := newHarness(t, app.Options{})
	event := h.liveEvent(t, domain.VisibilityPublic)
	_, err := h.svc.Join(context.Background(), app.JoinRequest{EventID: event.ID, Name: "   "})
	require.ErrorIs(t, err, domain.ErrValidationFailed)
}

func TestEventStatusTransitions(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, app.Options{})
	event, err := h.svc.CreateEvent(ctx, organizer, app.EventDraft{Title: "Town hall", Visibility: domain.VisibilityPrivate})
	require.NoError(t, err)
	require.Equal(t, domain.EventDraft, event.Status)

	_, err = h.svc.SetEventStatus(ctx, organizer, event.ID, domain.EventLive)
	require.True(t, domain.IsKind(err, domain.KindInvalidTransition))

	_, err = h.svc.SetEventStatus(ctx, organizer, event.ID, domain.EventSetup)
	require.NoError(t, err)

	broken := quizInput(domain.QuizSettings{}, 30)
	broken.Quiz.Questions[0].CorrectOptionID = "nope"
	broken.Quiz.Questions[1].Text = ""
	h.create(t, event.ID, broken)

	_, err = h.svc.SetEventStatus(ctx, organizer, event.ID, domain.EventLive)
	var typed *domain.Error
	require.ErrorAs(t, err, &typed)
	require.Equal(t, domain.KindValidationFailed, typed.Kind)
	require.Len(t, typed.Reasons, 2)

	_, err = h.svc.SetEventStatus(ctx, "intruder", event.ID, domain.EventCompleted)
	require.ErrorIs(t, err, domain.ErrForbidden)
	_, err = h.svc.SetEventStatus(ctx, "", event.ID, domain.EventCompleted)
	require.ErrorIs(t, err, domain.ErrUnauthenticated)
	_, err = h.svc.SetEventStatus(ctx, organizer, "missing", domain.EventCompleted)
	require.ErrorIs(t, err, domain.ErrEventNotFound)
}

func TestCompletingEventEndsActivityAndReleasesPIN(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, app.Options{})
	event := h.liveEvent(t, domain.VisibilityPrivate)
	poll := h.create(t, event.ID, pollInput(false, true))
	_, err := h.svc.StartPoll(ctx, organizer, event.ID, poll.ID)
	require.NoError(t, err)

	done, err := h.svc.SetEventStatus(ctx, organizer, event.ID, domain.EventCompleted)
	require.NoError(t, err)
	require.Equal(t, domain.EventCompleted, done.Status)

	stored, err := h.repo.GetActivity(ctx, poll.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ActivityCompleted, stored.Status)
	require.Len(t, sent[domain.PollEnded](h.pub), 1)

	_, err = h.svc.ResolvePIN(ctx, event.GamePIN)
	require.ErrorIs(t, err, domain.ErrEventNotFound)

	_, err = h.svc.Join(ctx, app.JoinRequest{EventID: event.ID, PIN: event.GamePIN, Name: "Late"})
	require.True(t, domain.IsKind(err, domain.KindInvalidTransition))
}

func TestReturnToSetupNeedsNoActiveActivity(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, app.Options{})
	event := h.liveEvent(t, domain.VisibilityPublic)
	poll := h.create(t, event.ID, pollInput(false, true))
	_, err := h.svc.StartPoll(ctx, organizer, event.ID, poll.ID)
	require.NoError(t, err)

	_, err = h.svc.SetEventStatus(ctx, organizer, event.ID, domain.EventSetup)
	require.True(t, domain.IsKind(err, domain.KindInvalidTransition))

	_, err = h.svc.EndPoll(ctx, organizer, event.ID, poll.ID)
	require.NoError(t, err)
	back, err := h.svc.SetEventStatus(ctx, organizer, event.ID, domain.EventSetup)
	require.NoError(t, err)
	require.Equal(t, domain.EventSetup, back.Status)
}

func TestLeaderboardOfPrivateEventNeedsAccess(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, app.Options{})
	event := h.liveEvent(t, domain.VisibilityPrivate)
	h.join(t, event, "Secret Alice")

	_, err := h.svc.Leaderboard(ctx, event.ID, "", "")
	require.ErrorIs(t, err, domain.ErrUnauthenticated)
	_, err = h.svc.Leaderboard(ctx, event.ID, "intruder", "")
	require.ErrorIs(t, err, domain.ErrUnauthenticated)

	lb, err := h.svc.Leaderboard(ctx, event.ID, "", event.GamePIN)
	require.NoError(t, err)
	require.Len(t, lb.Entries, 1)
	lb, err = h.svc.Leaderboard(ctx, event.ID, organizer, "")
	require.NoError(t, err)
	require.Len(t, lb.Entries, 1)
}

func TestHiddenPollResultsStayWithOrganizer(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, app.Options{})
	event := h.liveEvent(t, domain.VisibilityPrivate)
	alice := h.join(t, event, "Alice")
	poll := h.create(t, event.ID, pollInput(false, false))
	_, err := h.svc.StartPoll(ctx, organizer, event.ID, poll.ID)
	require.NoError(t, err)
	_, err = h.svc.SubmitVote(ctx, event.ID, alice.ID, poll.ID, "A")
	require.NoError(t, err)

	_, err = h.svc.PollResults(ctx, event.ID, poll.ID, "", "")
	require.ErrorIs(t, err, domain.ErrUnauthenticated)
	_, err = h.svc.PollResults(ctx, event.ID, poll.ID, "", event.GamePIN)
	require.ErrorIs(t, err, domain.ErrForbidden)
	results, err := h.svc.PollResults(ctx, event.ID, poll.ID, organizer, "")
	require.NoError(t, err)
	require.Equal(t, 1, results.TotalVotes)

	_, err = h.svc.EndPoll(ctx, organizer, event.ID, poll.ID)
	require.NoError(t, err)
	results, err = h.svc.PollResults(ctx, event.ID, poll.ID, "", event.GamePIN)
	require.NoError(t, err)
	require.Equal(t, 1, results.TotalVotes)
}

func TestCreateEventNeedsToken(t *testing.T) {
	h := newHarness(t, app.Options{})
	_, err := h.svc.CreateEvent(context.Background(), "", app.EventDraft{Title: "x"})
	require.ErrorIs(t, err, domain.ErrUnauthenticated)
}
