package realtime

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"live-activity-service/internal/domain"
)

// Sink receives a copy of every routed notification (e.g. a broker mirror).
type Sink interface {
	Mirror(eventID, name string, payload []byte)
}

// Router fans notifications out to the registry's connections. It keeps no
// business state. Envelopes of one Publish call are delivered in order.
type Router struct {
	registry *Registry
	log      *slog.Logger
	sinks    []Sink
}

func NewRouter(registry *Registry, logger *slog.Logger, sinks ...Sink) *Router {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Router{registry: registry, log: logger, sinks: sinks}
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

// Publish delivers envelopes at most once per connection. A client whose
// buffer is full is detached and closed; it resyncs on reconnect.
func (r *Router) Publish(eventID string, envelopes ...domain.Envelope) {
	for _, env := range envelopes {
		name, data, err := Encode(env.Notification)
		if err != nil {
			r.log.Error("drop notification", "event", eventID, "error", err)
			continue
		}
		for _, c := range r.registry.Members(eventID, env.Audience) {
			if c.Send(data) {
				continue
			}
			if s, ok := r.registry.Detach(c.ID()); ok {
				r.log.Warn("slow client detached", "event", eventID, "client", s.ClientID, "notification", name)
			}
			c.Close()
		}
		for _, sink := range r.sinks {
			sink.Mirror(eventID, name, data)
		}
	}
}

// Encode renders a notification as {"type": name, "payload": ...}.
func Encode(n domain.Notification) (string, []byte, error) {
	name, err := Name(n)
	if err != nil {
		return "", nil, err
	}
	data, err := json.Marshal(outboundMessage[domain.Notification]{Type: name, Payload: n})
	if err != nil {
		return "", nil, fmt.Errorf("encode %s: %w", name, err)
	}
	return name, data, nil
}

// Name maps every notification variant to its wire name.
func Name(n domain.Notification) (string, error) {
	switch n.(type) {
	case domain.ParticipantsUpdated:
		return "participants-updated", nil
	case domain.QuestionDisplayed:
		return "question-displayed", nil
	case domain.TimerTick:
		return "timer-tick", nil
	case domain.QuestionEnded:
		return "question-ended", nil
	case domain.AnswerResultNotice:
		return "answer-result", nil
	case domain.LeaderboardUpdated:
		return "leaderboard-updated", nil
	case domain.QuizEnded:
		return "quiz-ended", nil
	case domain.PollStarted:
		return "poll-started", nil
	case domain.VoteSubmitted:
		return "vote-submitted", nil
	case domain.PollResultsUpdated:
		return "results-updated", nil
	case domain.PollEnded:
		return "poll-ended", nil
	case domain.RaffleStarted:
		return "raffle-started", nil
	case domain.RaffleEntryConfirmed:
		return "entry-confirmed", nil
	case domain.RaffleDrawing:
		return "raffle-drawing", nil
	case domain.WinnersAnnounced:
		return "winners-announced", nil
	case domain.RaffleEnded:
		return "raffle-ended", nil
	case domain.ActivityActivated:
		return "activity-activated", nil
	case domain.ActivityDeactivated:
		return "activity-deactivated", nil
	case domain.ActivityUpdated:
		return "activity-updated", nil
	default:
		return "", fmt.Errorf("unknown notification %T", n)
	}
}
