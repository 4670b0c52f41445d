package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"live-activity-service/internal/app"
	"live-activity-service/internal/domain"
)

func TestAPIEventLifecycle(t *testing.T) {
	srv := newTestServer(t)

	resp := srv.call(t, http.MethodPost, "/api/events", organizerToken, app.EventDraft{Title: "Kickoff", Visibility: domain.VisibilityPublic})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var event domain.Event
	decodeBody(t, resp, &event)
	require.Len(t, event.GamePIN, 6)
	require.Equal(t, domain.EventDraft, event.Status)

	resp = srv.call(t, http.MethodPost, "/api/events/"+event.ID+"/activities", organizerToken, app.ActivityInput{
		Type:   domain.ActivityRaffle,
		Title:  "Door prize",
		Raffle: &app.RaffleInput{PrizeDescription: "Headphones", WinnerCount: 1},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var raffle domain.Activity
	decodeBody(t, resp, &raffle)

	resp = srv.call(t, http.MethodPost, "/api/events/"+event.ID+"/activities/"+raffle.ID+"/ready", organizerToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = srv.call(t, http.MethodPost, "/api/events/"+event.ID+"/status", organizerToken, statusRequest{Status: domain.EventLive})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	var failure errorPayload
	decodeBody(t, resp, &failure)
	require.Equal(t, domain.KindInvalidTransition, failure.Kind)

	resp = srv.call(t, http.MethodGet, "/api/events/"+event.ID, organizerToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var view app.EventView
	decodeBody(t, resp, &view)
	require.Len(t, view.Activities, 1)
	require.Equal(t, domain.ActivityReady, view.Activities[0].Status)
}

func TestAPIErrorStatuses(t *testing.T) {
	srv := newTestServer(t)

	resp := srv.call(t, http.MethodPost, "/api/events", "", app.EventDraft{Title: "x"})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	resp = srv.call(t, http.MethodPost, "/api/events", organizerToken, app.EventDraft{})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	var failure errorPayload
	decodeBody(t, resp, &failure)
	require.Equal(t, domain.CodeValidationFailed, failure.Code)
	require.NotEmpty(t, failure.Reasons)

	resp = srv.call(t, http.MethodPost, "/api/events", organizerToken, app.EventDraft{Title: "Mine"})
	var event domain.Event
	decodeBody(t, resp, &event)

	resp = srv.call(t, http.MethodGet, "/api/events/"+event.ID, "someone-else", nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	resp = srv.call(t, http.MethodGet, "/api/events/missing", organizerToken, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestAPIReadViewsNeedAccessToPrivateEvent(t *testing.T) {
	srv := newTestServer(t)
	event, poll := srv.pollEvent(t)
	wrong := "000000"
	if event.GamePIN == wrong {
		wrong = "111111"
	}
	leaderboard := "/api/events/" + event.ID + "/leaderboard"
	results := "/api/events/" + event.ID + "/activities/" + poll.ID + "/results"

	cases := []struct {
		path  string
		token string
		want  int
	}{
		{leaderboard, "", http.StatusUnauthorized},
		{leaderboard + "?pin=" + wrong, "", http.StatusForbidden},
		{leaderboard + "?pin=" + event.GamePIN, "", http.StatusOK},
		{leaderboard, organizerToken, http.StatusOK},
		{results, "", http.StatusUnauthorized},
		{results + "?pin=" + event.GamePIN, "", http.StatusOK},
		{results, organizerToken, http.StatusOK},
	}
	for _, tc := range cases {
		resp := srv.call(t, http.MethodGet, tc.path, tc.token, nil)
		require.Equal(t, tc.want, resp.StatusCode, tc.path)
		resp.Body.Close()
	}
}

func TestAPIOnlineParticipants(t *testing.T) {
	srv := newTestServer(t)
	event, _ := srv.pollEvent(t)

	resp := srv.call(t, http.MethodGet, "/api/events/"+event.ID+"/online", "", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	conn := srv.dial(t, url.Values{"pin": {event.GamePIN}, "name": {"Alice"}})
	defer conn.Close()
	joined := readUntil(t, conn, "joined")
	var payload joinedPayload
	decodePayload(t, joined, &payload)

	resp = srv.call(t, http.MethodGet, "/api/events/"+event.ID+"/online", organizerToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var online onlineResponse
	decodeBody(t, resp, &online)
	require.Equal(t, []string{payload.Participant.ID}, online.ParticipantIDs)
}

func TestStatusForKinds(t *testing.T) {
	cases := map[domain.Kind]int{
		domain.KindUnauthenticated:    http.StatusUnauthorized,
		domain.KindForbidden:          http.StatusForbidden,
		domain.KindNotFound:           http.StatusNotFound,
		domain.KindInvalidTransition:  http.StatusConflict,
		domain.KindConflict:           http.StatusConflict,
		domain.KindValidationFailed:   http.StatusUnprocessableEntity,
		domain.KindStorageUnavailable: http.StatusServiceUnavailable,
		domain.KindTimeout:            http.StatusGatewayTimeout,
		domain.KindUnknown:            http.StatusInternalServerError,
	}
	for kind, want := range cases {
		require.Equal(t, want, statusFor(kind), kind)
	}
}

func (s *testServer) call(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	} else {
		buf.WriteString("{}")
	}
	req, err := http.NewRequest(method, s.URL+path, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dst))
}
