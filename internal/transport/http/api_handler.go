package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"live-activity-service/internal/app"
	"live-activity-service/internal/domain"
)

const maxBodyBytes = 1 << 20

// OnlineLister reports the participants online on any instance.
type OnlineLister interface {
	PresenceOnline(ctx context.Context, eventID string) ([]string, error)
}

// APIHandler serves the organizer REST surface. Organizer calls carry
// Authorization: Bearer <token>; read-only views also accept ?pin=.
type APIHandler struct {
	service *app.Service
	online  OnlineLister
	log     *slog.Logger
}

func NewAPIHandler(service *app.Service, online OnlineLister, logger *slog.Logger) *APIHandler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &APIHandler{service: service, online: online, log: logger}
}

// Register mounts the API routes on mux.
func (h *APIHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/events", h.createEvent)
	mux.HandleFunc("GET /api/events/{eventId}", h.getEvent)
	mux.HandleFunc("POST /api/events/{eventId}/status", h.setStatus)
	mux.HandleFunc("GET /api/events/{eventId}/leaderboard", h.leaderboard)
	mux.HandleFunc("GET /api/events/{eventId}/online", h.onlineParticipants)
	mux.HandleFunc("POST /api/events/{eventId}/activities", h.createActivity)
	mux.HandleFunc("PUT /api/events/{eventId}/activities/{activityId}", h.updateActivity)
	mux.HandleFunc("POST /api/events/{eventId}/activities/{activityId}/ready", h.markReady)
	mux.HandleFunc("GET /api/events/{eventId}/activities/{activityId}/results", h.pollResults)
}

type statusRequest struct {
	Status domain.EventStatus `json:"status"`
}

func (h *APIHandler) createEvent(w http.ResponseWriter, r *http.Request) {
	var draft app.EventDraft
	if !h.readBody(w, r, &draft) {
		return
	}
	event, err := h.service.CreateEvent(r.Context(), bearer(r), draft)
	h.respond(w, http.StatusCreated, event, err)
}

func (h *APIHandler) getEvent(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.GetEvent(r.Context(), bearer(r), r.PathValue("eventId"))
	h.respond(w, http.StatusOK, view, err)
}

func (h *APIHandler) setStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !h.readBody(w, r, &req) {
		return
	}
	event, err := h.service.SetEventStatus(r.Context(), bearer(r), r.PathValue("eventId"), req.Status)
	h.respond(w, http.StatusOK, event, err)
}

func (h *APIHandler) leaderboard(w http.ResponseWriter, r *http.Request) {
	lb, err := h.service.Leaderboard(r.Context(), r.PathValue("eventId"), bearer(r), r.URL.Query().Get("pin"))
	h.respond(w, http.StatusOK, lb, err)
}

type onlineResponse struct {
	EventID        string   `json:"eventId"`
	ParticipantIDs []string `json:"participantIds"`
}

func (h *APIHandler) onlineParticipants(w http.ResponseWriter, r *http.Request) {
	eventID := r.PathValue("eventId")
	if _, err := h.service.Gate().AuthorizeOrganizer(r.Context(), eventID, bearer(r)); err != nil {
		h.respond(w, 0, nil, err)
		return
	}
	if h.online == nil {
		h.respond(w, http.StatusOK, onlineResponse{EventID: eventID, ParticipantIDs: []string{}}, nil)
		return
	}
	ids, err := h.online.PresenceOnline(r.Context(), eventID)
	if err != nil {
		err = domain.Wrap(domain.ErrStorageUnavailable, err)
	}
	h.respond(w, http.StatusOK, onlineResponse{EventID: eventID, ParticipantIDs: ids}, err)
}

func (h *APIHandler) createActivity(w http.ResponseWriter, r *http.Request) {
	var in app.ActivityInput
	if !h.readBody(w, r, &in) {
		return
	}
	a, err := h.service.CreateActivity(r.Context(), bearer(r), r.PathValue("eventId"), in)
	h.respond(w, http.StatusCreated, a, err)
}

func (h *APIHandler) updateActivity(w http.ResponseWriter, r *http.Request) {
	var in app.ActivityInput
	if !h.readBody(w, r, &in) {
		return
	}
	a, err := h.service.UpdateActivity(r.Context(), bearer(r), r.PathValue("eventId"), r.PathValue("activityId"), in)
	h.respond(w, http.StatusOK, a, err)
}

func (h *APIHandler) markReady(w http.ResponseWriter, r *http.Request) {
	a, err := h.service.MarkActivityReady(r.Context(), bearer(r), r.PathValue("eventId"), r.PathValue("activityId"))
	h.respond(w, http.StatusOK, a, err)
}

func (h *APIHandler) pollResults(w http.ResponseWriter, r *http.Request) {
	results, err := h.service.PollResults(r.Context(), r.PathValue("eventId"), r.PathValue("activityId"), bearer(r), r.URL.Query().Get("pin"))
	h.respond(w, http.StatusOK, results, err)
}

func (h *APIHandler) readBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		writeError(w, badRequest(err))
		return false
	}
	return true
}

func (h *APIHandler) respond(w http.ResponseWriter, status int, body any, err error) {
	if err != nil {
		if domain.KindOf(err) == domain.KindUnknown {
			h.log.Error("request failed", "error", err)
		}
		writeError(w, err)
		return
	}
	writeJSON(w, status, body)
}

func bearer(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

func writeError(w http.ResponseWriter, err error) {
	payload := errorFrom(err)
	writeJSON(w, statusFor(payload.Kind), payload)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
