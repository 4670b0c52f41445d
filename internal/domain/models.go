package domain

import "time"

// Visibility controls who may join an event.
type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityPublic  Visibility = "public"
)

// EventStatus is the lifecycle state of an event.
type EventStatus string

const (
	EventDraft     EventStatus = "draft"
	EventSetup     EventStatus = "setup"
	EventLive      EventStatus = "live"
	EventCompleted EventStatus = "completed"
)

// Event is the top-level live session an organizer runs.
type Event struct {
	ID             string      `json:"id"`
	OrganizerID    string      `json:"organizerId"`
	Title          string      `json:"title"`
	Visibility     Visibility  `json:"visibility"`
	GamePIN        string      `json:"gamePin"`
	Status         EventStatus `json:"status"`
	ActivityIDs    []string    `json:"activityIds"`
	ParticipantIDs []string    `json:"participantIds"`
	CreatedAt      time.Time   `json:"createdAt"`
	UpdatedAt      time.Time   `json:"updatedAt"`
}

// Clone returns a deep copy safe for mutation.
func (e Event) Clone() Event {
	e.ActivityIDs = append([]string(nil), e.ActivityIDs...)
	e.ParticipantIDs = append([]string(nil), e.ParticipantIDs...)
	return e
}

// ActivityType is fixed at creation.
type ActivityType string

const (
	ActivityQuiz   ActivityType = "quiz"
	ActivityPoll   ActivityType = "poll"
	ActivityRaffle ActivityType = "raffle"
)

// ActivityStatus is the lifecycle state of a single activity.
type ActivityStatus string

const (
	ActivityDraft     ActivityStatus = "draft"
	ActivityReady     ActivityStatus = "ready"
	ActivityActive    ActivityStatus = "active"
	ActivityCompleted ActivityStatus = "completed"
)

// Activity is one quiz, poll or raffle round inside an event. Exactly one of
// Quiz, Poll and Raffle is set, matching Type.
type Activity struct {
	ID        string         `json:"id"`
	EventID   string         `json:"eventId"`
	Type      ActivityType   `json:"type"`
	Status    ActivityStatus `json:"status"`
	Order     int            `json:"order"`
	Title     string         `json:"title"`
	Quiz      *Quiz          `json:"quiz,omitempty"`
	Poll      *Poll          `json:"poll,omitempty"`
	Raffle    *Raffle        `json:"raffle,omitempty"`
	Version   int64          `json:"version"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// Clone returns a deep copy safe for mutation.
func (a Activity) Clone() Activity {
	if a.Quiz != nil {
		q := a.Quiz.clone()
		a.Quiz = &q
	}
	if a.Poll != nil {
		p := a.Poll.clone()
		a.Poll = &p
	}
	if a.Raffle != nil {
		r := a.Raffle.clone()
		a.Raffle = &r
	}
	return a
}

// Option is one answer choice of a quiz question.
type Option struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Question models an MCQ question with exactly one correct option.
type Question struct {
	ID              string   `json:"id"`
	Text            string   `json:"text"`
	Options         []Option `json:"options"`
	CorrectOptionID string   `json:"correctOptionId"`
	TimerSeconds    int      `json:"timerSeconds,omitempty"` // engine default if zero
}

// Public strips the correct answer before a question is shown to participants.
func (q Question) Public() PublicQuestion {
	return PublicQuestion{
		ID:      q.ID,
		Text:    q.Text,
		Options: append([]Option(nil), q.Options...),
	}
}

// HasOption reports whether optionID is one of the question's options.
func (q Question) HasOption(optionID string) bool {
	for _, o := range q.Options {
		if o.ID == optionID {
			return true
		}
	}
	return false
}

// PublicQuestion is a question without its correct option.
type PublicQuestion struct {
	ID      string   `json:"id"`
	Text    string   `json:"text"`
	Options []Option `json:"options"`
}

// QuizSettings are the scoring toggles of a quiz.
type QuizSettings struct {
	ScoringEnabled        bool `json:"scoringEnabled"`
	SpeedBonusEnabled     bool `json:"speedBonusEnabled"`
	StreakTrackingEnabled bool `json:"streakTrackingEnabled"`
}

// Quiz is the quiz payload plus its runtime cursor.
type Quiz struct {
	Questions []Question   `json:"questions"`
	Settings  QuizSettings `json:"settings"`

	// CurrentQuestionIndex is -1 until the first question is displayed.
	CurrentQuestionIndex int       `json:"currentQuestionIndex"`
	QuestionOpen         bool      `json:"questionOpen"`
	QuestionStartedAt    time.Time `json:"questionStartedAt,omitempty"`
}

func (q Quiz) clone() Quiz {
	q.Questions = CloneQuestions(q.Questions)
	return q
}

// CloneQuestions deep-copies a question list.
func CloneQuestions(qs []Question) []Question {
	out := make([]Question, len(qs))
	for i, question := range qs {
		question.Options = append([]Option(nil), question.Options...)
		out[i] = question
	}
	return out
}

// Current returns the question under the cursor.
func (q Quiz) Current() (Question, bool) {
	if q.CurrentQuestionIndex < 0 || q.CurrentQuestionIndex >= len(q.Questions) {
		return Question{}, false
	}
	return q.Questions[q.CurrentQuestionIndex], true
}

// PollOption is a poll choice with its vote counter.
type PollOption struct {
	ID    string `json:"id"`
	Text  string `json:"text"`
	Votes int    `json:"votes"`
}

// Vote is one participant's selection in a poll.
type Vote struct {
	ParticipantID string    `json:"participantId"`
	OptionIDs     []string  `json:"optionIds"`
	SubmittedAt   time.Time `json:"submittedAt"`
}

// Poll is the poll payload.
type Poll struct {
	Question           string       `json:"question"`
	Options            []PollOption `json:"options"`
	AllowMultipleVotes bool         `json:"allowMultipleVotes"`
	ShowResultsLive    bool         `json:"showResultsLive"`
	Votes              []Vote       `json:"votes"`
}

func (p Poll) clone() Poll {
	p.Options = append([]PollOption(nil), p.Options...)
	votes := make([]Vote, len(p.Votes))
	for i, v := range p.Votes {
		v.OptionIDs = append([]string(nil), v.OptionIDs...)
		votes[i] = v
	}
	p.Votes = votes
	return p
}

// EntryMethod decides how participants get into a raffle.
type EntryMethod string

const (
	EntryAutomatic EntryMethod = "automatic"
	EntryManual    EntryMethod = "manual"
)

// RaffleEntry is one participant's ticket.
type RaffleEntry struct {
	ParticipantID   string    `json:"participantId"`
	ParticipantName string    `json:"participantName"`
	EnteredAt       time.Time `json:"enteredAt"`
}

// RaffleWinner is an entry picked by a draw.
type RaffleWinner struct {
	ParticipantID   string    `json:"participantId"`
	ParticipantName string    `json:"participantName"`
	Draw            int       `json:"draw"`
	DrawnAt         time.Time `json:"drawnAt"`
}

// Raffle is the raffle payload.
type Raffle struct {
	PrizeDescription string         `json:"prizeDescription"`
	EntryMethod      EntryMethod    `json:"entryMethod"`
	WinnerCount      int            `json:"winnerCount"`
	Entries          []RaffleEntry  `json:"entries"`
	Winners          []RaffleWinner `json:"winners"`
	Draws            int            `json:"draws"`
}

func (r Raffle) clone() Raffle {
	r.Entries = append([]RaffleEntry(nil), r.Entries...)
	r.Winners = append([]RaffleWinner(nil), r.Winners...)
	return r
}

// HasEntry reports whether participantID already holds a ticket.
func (r Raffle) HasEntry(participantID string) bool {
	for _, e := range r.Entries {
		if e.ParticipantID == participantID {
			return true
		}
	}
	return false
}

// Participant is a joined member of an event and their accumulated score.
type Participant struct {
	ID                string    `json:"id"`
	EventID           string    `json:"eventId"`
	Name              string    `json:"name"`
	Score             int       `json:"score"`
	CurrentStreak     int       `json:"currentStreak"`
	TotalAnswerTimeMs int64     `json:"totalAnswerTimeMs"`
	Answers           []Answer  `json:"answers"`
	JoinedAt          time.Time `json:"joinedAt"`
}

// Clone returns a deep copy safe for mutation.
func (p Participant) Clone() Participant {
	p.Answers = append([]Answer(nil), p.Answers...)
	return p
}

// AnswerFor returns the participant's answer to a question, if any.
func (p Participant) AnswerFor(activityID, questionID string) (Answer, bool) {
	for _, a := range p.Answers {
		if a.ActivityID == activityID && a.QuestionID == questionID {
			return a, true
		}
	}
	return Answer{}, false
}

// Answer is an immutable quiz submission.
type Answer struct {
	ParticipantID    string    `json:"participantId"`
	ActivityID       string    `json:"activityId"`
	QuestionID       string    `json:"questionId"`
	SelectedOptionID string    `json:"selectedOptionId"`
	ResponseTimeMs   int64     `json:"responseTimeMs"`
	IsCorrect        bool      `json:"isCorrect"`
	PointsEarned     int       `json:"pointsEarned"`
	SubmittedAt      time.Time `json:"submittedAt"`
}

// AnswerSubmission models the scoring signal from clients.
type AnswerSubmission struct {
	ActivityID string `json:"activityId"`
	QuestionID string `json:"questionId"`
	OptionID   string `json:"optionId"`
}

// AnswerResult summarizes the outcome of a submission for a single participant.
type AnswerResult struct {
	ActivityID     string `json:"activityId"`
	QuestionID     string `json:"questionId"`
	IsCorrect      bool   `json:"isCorrect"`
	PointsEarned   int    `json:"pointsEarned"`
	TotalScore     int    `json:"totalScore"`
	Streak         int    `json:"streak"`
	ResponseTimeMs int64  `json:"responseTimeMs"`
}

// LeaderboardEntry is a snapshot-friendly view of a participant.
type LeaderboardEntry struct {
	Rank              int    `json:"rank"`
	ParticipantID     string `json:"participantId"`
	Name              string `json:"name"`
	Score             int    `json:"score"`
	Streak            int    `json:"streak"`
	TotalAnswerTimeMs int64  `json:"totalAnswerTimeMs"`
}

// Leaderboard captures the ordered scoreboard for an event.
type Leaderboard struct {
	EventID   string             `json:"eventId"`
	Entries   []LeaderboardEntry `json:"entries"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

// OptionStat is the per-option share of answers or votes.
type OptionStat struct {
	OptionID   string  `json:"optionId"`
	Text       string  `json:"text"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// PollResults is the aggregated tally of a poll.
type PollResults struct {
	ActivityID string       `json:"activityId"`
	Question   string       `json:"question"`
	TotalVotes int          `json:"totalVotes"`
	Options    []OptionStat `json:"options"`
}
