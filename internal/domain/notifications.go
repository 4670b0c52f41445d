package domain

import "time"

// Notification is the closed set of payloads the broadcast router delivers.
// Every variant lives in this file; the unexported marker keeps the set closed.
type Notification interface {
	notification()
}

// AudienceKind selects which connections of an event receive a notification.
type AudienceKind int

const (
	// AudienceRoom is every connection subscribed to the event, organizers included.
	AudienceRoom AudienceKind = iota + 1
	// AudienceOrganizer is the organizer's private room.
	AudienceOrganizer
	// AudienceParticipant is every connection of a single participant.
	AudienceParticipant
)

// Audience is the delivery target of an envelope.
type Audience struct {
	Kind          AudienceKind
	ParticipantID string
}

var (
	ToRoom      = Audience{Kind: AudienceRoom}
	ToOrganizer = Audience{Kind: AudienceOrganizer}
)

// ToParticipant targets one participant's connections.
func ToParticipant(id string) Audience {
	return Audience{Kind: AudienceParticipant, ParticipantID: id}
}

// Envelope pairs a notification with its audience.
type Envelope struct {
	Audience     Audience
	Notification Notification
}

// Deliver builds an envelope.
func Deliver(to Audience, n Notification) Envelope {
	return Envelope{Audience: to, Notification: n}
}

// ParticipantSummary is the public view of a participant in room updates.
type ParticipantSummary struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Score  int    `json:"score"`
	Online bool   `json:"online"`
}

// ParticipantsUpdated is sent to the room when membership changes.
type ParticipantsUpdated struct {
	EventID      string               `json:"eventId"`
	Count        int                  `json:"count"`
	Participants []ParticipantSummary `json:"participants"`
}

// QuestionDisplayed opens a question. Question never carries the answer.
type QuestionDisplayed struct {
	ActivityID     string         `json:"activityId"`
	QuestionIndex  int            `json:"questionIndex"`
	TotalQuestions int            `json:"totalQuestions"`
	Question       PublicQuestion `json:"question"`
	StartTime      time.Time      `json:"startTime"`
	TimerSeconds   int            `json:"timerSeconds"`
}

// TimerTick reports the countdown of the open question.
type TimerTick struct {
	ActivityID       string `json:"activityId"`
	QuestionIndex    int    `json:"questionIndex"`
	SecondsRemaining int    `json:"secondsRemaining"`
}

// QuestionEnded closes a question and reveals per-option statistics.
type QuestionEnded struct {
	ActivityID      string       `json:"activityId"`
	QuestionIndex   int          `json:"questionIndex"`
	QuestionID      string       `json:"questionId"`
	CorrectOptionID string       `json:"correctOptionId"`
	TotalAnswers    int          `json:"totalAnswers"`
	Stats           []OptionStat `json:"stats"`
	TimedOut        bool         `json:"timedOut"`
}

// AnswerResultNotice is unicast to the participant that submitted.
type AnswerResultNotice struct {
	Result AnswerResult `json:"result"`
}

// LeaderboardUpdated carries the refreshed ranking.
type LeaderboardUpdated struct {
	ActivityID  string      `json:"activityId"`
	Leaderboard Leaderboard `json:"leaderboard"`
}

// QuizEnded is broadcast once when a quiz completes.
type QuizEnded struct {
	ActivityID  string             `json:"activityId"`
	Leaderboard Leaderboard        `json:"leaderboard"`
	Top3        []LeaderboardEntry `json:"top3"`
}

// PollStarted opens a poll.
type PollStarted struct {
	ActivityID         string       `json:"activityId"`
	Question           string       `json:"question"`
	Options            []PollOption `json:"options"`
	AllowMultipleVotes bool         `json:"allowMultipleVotes"`
	ShowResultsLive    bool         `json:"showResultsLive"`
}

// VoteSubmitted confirms an accepted vote.
type VoteSubmitted struct {
	ActivityID    string   `json:"activityId"`
	ParticipantID string   `json:"participantId"`
	OptionIDs     []string `json:"optionIds"`
	TotalVotes    int      `json:"totalVotes"`
}

// PollResultsUpdated carries the live tally.
type PollResultsUpdated struct {
	Results PollResults `json:"results"`
}

// PollEnded freezes the final tally.
type PollEnded struct {
	Results PollResults `json:"results"`
}

// RaffleStarted opens a raffle.
type RaffleStarted struct {
	ActivityID       string      `json:"activityId"`
	PrizeDescription string      `json:"prizeDescription"`
	EntryMethod      EntryMethod `json:"entryMethod"`
	WinnerCount      int         `json:"winnerCount"`
	TotalEntries     int         `json:"totalEntries"`
}

// RaffleEntryConfirmed acknowledges a ticket.
type RaffleEntryConfirmed struct {
	ActivityID      string `json:"activityId"`
	ParticipantID   string `json:"participantId"`
	ParticipantName string `json:"participantName"`
	TotalEntries    int    `json:"totalEntries"`
}

// RaffleDrawing announces that a draw is in progress.
type RaffleDrawing struct {
	ActivityID      string `json:"activityId"`
	Count           int    `json:"count"`
	EligibleEntries int    `json:"eligibleEntries"`
}

// WinnersAnnounced carries the winners of one draw and the running list.
type WinnersAnnounced struct {
	ActivityID string         `json:"activityId"`
	Draw       int            `json:"draw"`
	Winners    []RaffleWinner `json:"winners"`
	AllWinners []RaffleWinner `json:"allWinners"`
}

// RaffleEnded closes a raffle with its final results.
type RaffleEnded struct {
	ActivityID   string         `json:"activityId"`
	TotalEntries int            `json:"totalEntries"`
	Winners      []RaffleWinner `json:"winners"`
}

// ActivitySummary is the public shape of an activity in lifecycle notices.
type ActivitySummary struct {
	ID     string         `json:"id"`
	Type   ActivityType   `json:"type"`
	Status ActivityStatus `json:"status"`
	Title  string         `json:"title"`
	Order  int            `json:"order"`
}

// Summary returns the public shape of the activity.
func (a Activity) Summary() ActivitySummary {
	return ActivitySummary{ID: a.ID, Type: a.Type, Status: a.Status, Title: a.Title, Order: a.Order}
}

// ActivityActivated marks the activity that went live.
type ActivityActivated struct {
	Activity ActivitySummary `json:"activity"`
}

// ActivityDeactivated marks the activity that stopped being live.
type ActivityDeactivated struct {
	Activity ActivitySummary `json:"activity"`
}

// ActivityUpdated reports an edited or re-validated activity.
type ActivityUpdated struct {
	Activity ActivitySummary `json:"activity"`
}

func (ParticipantsUpdated) notification()  {}
func (QuestionDisplayed) notification()    {}
func (TimerTick) notification()            {}
func (QuestionEnded) notification()        {}
func (AnswerResultNotice) notification()   {}
func (LeaderboardUpdated) notification()   {}
func (QuizEnded) notification()            {}
func (PollStarted) notification()          {}
func (VoteSubmitted) notification()        {}
func (PollResultsUpdated) notification()   {}
func (PollEnded) notification()            {}
func (RaffleStarted) notification()        {}
func (RaffleEntryConfirmed) notification() {}
func (RaffleDrawing) notification()        {}
func (WinnersAnnounced) notification()     {}
func (RaffleEnded) notification()          {}
func (ActivityActivated) notification()    {}
func (ActivityDeactivated) notification()  {}
func (ActivityUpdated) notification()      {}
