package app_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"live-activity-service/internal/app"
	"live-activity-service/internal/domain"
	"live-activity-service/internal/infra/memory"
)

func TestCheckParticipantAccess(t *testing.T) {
	private := domain.Event{ID: "e1", OrganizerID: "org", Visibility: domain.VisibilityPrivate, GamePIN: "482913"}

	cases := []struct {
		name  string
		event domain.Event
		token string
		pin   string
		want  *domain.Error
	}{
		{name: "missing pin", event: private, want: domain.ErrUnauthenticated},
		{name: "wrong pin", event: private, pin: "000000", want: domain.ErrInvalidPIN},
		{name: "right pin", event: private, pin: "482913"},
		{name: "organizer token", event: private, token: "org"},
		{name: "public", event: domain.Event{Visibility: domain.VisibilityPublic}},
		{name: "unknown visibility", event: domain.Event{Visibility: "secret"}, pin: "1", want: domain.ErrForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := app.CheckParticipantAccess(tc.event, tc.token, tc.pin)
			if tc.want == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tc.want)
		})
	}

	require.Equal(t, domain.KindForbidden, domain.KindOf(app.CheckParticipantAccess(private, "", "000000")))
}

func TestGateAuthorizeOrganizer(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()
	require.NoError(t, repo.PutEvent(ctx, domain.Event{ID: "e1", OrganizerID: "org"}))
	gate := app.NewGate(repo)

	_, err := gate.AuthorizeOrganizer(ctx, "e1", "")
	require.ErrorIs(t, err, domain.ErrUnauthenticated)
	_, err = gate.AuthorizeOrganizer(ctx, "missing", "org")
	require.ErrorIs(t, err, domain.ErrEventNotFound)
	_, err = gate.AuthorizeOrganizer(ctx, "e1", "other")
	require.ErrorIs(t, err, domain.ErrForbidden)
	event, err := gate.AuthorizeOrganizer(ctx, "e1", "org")
	require.NoError(t, err)
	require.Equal(t, "e1", event.ID)
}
