package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"live-activity-service/internal/app"
	"live-activity-service/internal/domain"
	"live-activity-service/internal/realtime"
)

const (
	writeWait        = 10 * time.Second
	sendBuffer       = 64
	leaveTimeout     = 3 * time.Second
	maxMessageBytes  = 64 << 10
	organizerRoleArg = "organizer"
)

type WSHandler struct {
	service  *app.Service
	registry *realtime.Registry
	log      *slog.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.Service, registry *realtime.Registry, logger *slog.Logger) *WSHandler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &WSHandler{
		service:  service,
		registry: registry,
		log:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

type replyMessage[T any] struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId,omitempty"`
	Payload   T      `json:"payload"`
}

type joinPayload struct {
	Name          string `json:"name"`
	ParticipantID string `json:"participantId"`
	PIN           string `json:"pin"`
	Token         string `json:"token"`
}

type activityPayload struct {
	ActivityID string `json:"activityId"`
}

type votePayload struct {
	ActivityID string `json:"activityId"`
	OptionID   string `json:"optionId"`
}

type drawPayload struct {
	ActivityID string `json:"activityId"`
	Count      int    `json:"count"`
}

type joinedPayload struct {
	EventID     string              `json:"eventId"`
	Role        realtime.Role       `json:"role"`
	Participant *domain.Participant `json:"participant,omitempty"`
}

// wsClient is the registry's view of one socket. Outbound messages are queued
// on send and written by a single writer goroutine.
type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newWSClient(conn *websocket.Conn) *wsClient {
	return &wsClient{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

func (c *wsClient) ID() string { return c.id }

func (c *wsClient) Send(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Close is idempotent; it also unblocks the reader.
func (c *wsClient) Close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *wsClient) writeLoop(log *slog.Logger) {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Debug("ws write error", "client", c.id, "error", err)
				c.Close()
				return
			}
		}
	}
}

// connection is the per-socket command context.
type connection struct {
	h             *WSHandler
	client        *wsClient
	eventID       string
	token         string
	pin           string
	role          realtime.Role
	participantID string
}

// ServeWS upgrades HTTP requests to websockets and wires them into the
// activity use cases. Query: eventId or pin, plus token, name, participantId
// and role=organizer.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	eventID := q.Get("eventId")
	pin := q.Get("pin")
	token := q.Get("token")
	if eventID == "" && pin == "" {
		http.Error(w, "missing eventId or pin", http.StatusBadRequest)
		return
	}
	if eventID == "" {
		id, err := h.service.ResolvePIN(r.Context(), pin)
		if err != nil {
			writeError(w, err)
			return
		}
		eventID = id
	}
	organizer := q.Get("role") == organizerRoleArg
	if organizer {
		if _, err := h.service.Gate().AuthorizeOrganizer(r.Context(), eventID, token); err != nil {
			writeError(w, err)
			return
		}
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(maxMessageBytes)
	client := newWSClient(conn)
	go client.writeLoop(h.log)

	c := &connection{h: h, client: client, eventID: eventID, token: token, pin: pin, role: realtime.RoleParticipant}
	defer c.leave()

	if organizer {
		c.role = realtime.RoleOrganizer
		h.registry.JoinAsOrganizer(eventID, client)
		c.reply("joined", "", joinedPayload{EventID: eventID, Role: realtime.RoleOrganizer})
	} else if name, pid := q.Get("name"), q.Get("participantId"); name != "" || pid != "" {
		// a failed join leaves the socket open for a join-event retry
		if _, err := c.join(r.Context(), "", joinPayload{Name: name, ParticipantID: pid}); err != nil {
			c.replyError("", err)
		}
	}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			return
		}
		result, err := c.dispatch(r.Context(), inbound)
		if err != nil {
			c.replyError(inbound.RequestID, err)
			continue
		}
		if inbound.Type == "join-event" {
			continue
		}
		c.reply("ack", inbound.RequestID, result)
	}
}

func (c *connection) dispatch(ctx context.Context, in inboundMessage) (any, error) {
	svc := c.h.service
	switch in.Type {
	case "join-event":
		var p joinPayload
		if err := decode(in.Payload, &p); err != nil {
			return nil, err
		}
		return c.join(ctx, in.RequestID, p)
	case "submit-answer":
		var p domain.AnswerSubmission
		if err := decode(in.Payload, &p); err != nil {
			return nil, err
		}
		pid, err := c.participant()
		if err != nil {
			return nil, err
		}
		return svc.SubmitAnswer(ctx, c.eventID, pid, p)
	case "submit-vote":
		var p votePayload
		if err := decode(in.Payload, &p); err != nil {
			return nil, err
		}
		pid, err := c.participant()
		if err != nil {
			return nil, err
		}
		return svc.SubmitVote(ctx, c.eventID, pid, p.ActivityID, p.OptionID)
	case "enter-raffle":
		var p activityPayload
		if err := decode(in.Payload, &p); err != nil {
			return nil, err
		}
		pid, err := c.participant()
		if err != nil {
			return nil, err
		}
		return svc.EnterRaffle(ctx, c.eventID, pid, p.ActivityID)
	case "draw-winners":
		var p drawPayload
		if err := decode(in.Payload, &p); err != nil {
			return nil, err
		}
		return svc.DrawWinners(ctx, c.token, c.eventID, p.ActivityID, p.Count)
	case "end-question":
		var p activityPayload
		if err := decode(in.Payload, &p); err != nil {
			return nil, err
		}
		return svc.EndQuestion(ctx, c.token, c.eventID, p.ActivityID)
	}

	op, ok := organizerCommands[in.Type]
	if !ok {
		return nil, domain.ValidationError([]string{"unsupported message type " + in.Type})
	}
	var p activityPayload
	if err := decode(in.Payload, &p); err != nil {
		return nil, err
	}
	return op(svc, ctx, c.token, c.eventID, p.ActivityID)
}

type organizerCommand func(svc *app.Service, ctx context.Context, token, eventID, activityID string) (domain.Activity, error)

var organizerCommands = map[string]organizerCommand{
	"start-quiz":          (*app.Service).StartQuiz,
	"next-question":       (*app.Service).NextQuestion,
	"end-quiz":            (*app.Service).EndQuiz,
	"start-poll":          (*app.Service).StartPoll,
	"end-poll":            (*app.Service).EndPoll,
	"start-raffle":        (*app.Service).StartRaffle,
	"end-raffle":          (*app.Service).EndRaffle,
	"activate-activity":   (*app.Service).ActivateActivity,
	"deactivate-activity": (*app.Service).DeactivateActivity,
}

// join registers the socket as a participant. The joined reply is queued on
// the event loop so it precedes the roster broadcast.
func (c *connection) join(ctx context.Context, requestID string, p joinPayload) (domain.Participant, error) {
	if c.role == realtime.RoleOrganizer || c.participantID != "" {
		return domain.Participant{}, domain.Errorf(domain.ErrInvalidTransition, "connection already joined")
	}
	pin := p.PIN
	if pin == "" {
		pin = c.pin
	}
	token := p.Token
	if token == "" {
		token = c.token
	}
	participant, err := c.h.service.Join(ctx, app.JoinRequest{
		EventID:       c.eventID,
		PIN:           pin,
		Token:         token,
		Name:          p.Name,
		ParticipantID: p.ParticipantID,
		Attach: func(joined domain.Participant) {
			c.h.registry.Join(c.eventID, joined.ID, c.client)
			c.reply("joined", requestID, joinedPayload{EventID: c.eventID, Role: realtime.RoleParticipant, Participant: &joined})
		},
	})
	if err != nil {
		return domain.Participant{}, err
	}
	c.participantID = participant.ID
	return participant, nil
}

func (c *connection) participant() (string, error) {
	if c.participantID == "" {
		return "", domain.Errorf(domain.ErrInvalidTransition, "join the event first")
	}
	return c.participantID, nil
}

// leave detaches the socket and announces the roster once the participant's
// last connection is gone. The router may already have detached a slow client.
func (c *connection) leave() {
	c.client.Close()
	c.h.registry.Detach(c.client.ID())
	if c.participantID == "" || c.h.registry.Connected(c.eventID, c.participantID) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
	defer cancel()
	if err := c.h.service.Disconnected(ctx, c.eventID, c.participantID); err != nil {
		c.h.log.Warn("roster update after leave failed", "event", c.eventID, "participant", c.participantID, "error", err)
	}
}

func (c *connection) reply(typ, requestID string, payload any) {
	data, err := json.Marshal(replyMessage[any]{Type: typ, RequestID: requestID, Payload: payload})
	if err != nil {
		c.h.log.Error("encode reply", "type", typ, "error", err)
		return
	}
	if !c.client.Send(data) {
		c.client.Close()
	}
}

func (c *connection) replyError(requestID string, err error) {
	payload := errorFrom(err)
	if payload.Kind == domain.KindUnknown {
		c.h.log.Error("command failed", "event", c.eventID, "error", err)
	}
	c.reply("error", requestID, payload)
}

func decode(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return badRequest(err)
	}
	return nil
}
