package app

import (
	"sort"
	"time"

	"live-activity-service/internal/domain"
)

// ScoringPolicy is the configurable points curve.
type ScoringPolicy struct {
	BasePoints      int
	SpeedBonusMax   int
	StreakThreshold int
	StreakBonus     int
}

// DefaultScoringPolicy awards 100 points per correct answer, up to 50 for speed
// and 10 once a streak of three is reached.
func DefaultScoringPolicy() ScoringPolicy {
	return ScoringPolicy{
		BasePoints:      100,
		SpeedBonusMax:   50,
		StreakThreshold: 3,
		StreakBonus:     10,
	}
}

// ScoreInput is everything Score needs to judge one answer.
type ScoreInput struct {
	Question         domain.Question
	Settings         domain.QuizSettings
	SelectedOptionID string
	ResponseTimeMs   int64
	// WindowMs is the full answer window the speed bonus decays over.
	WindowMs      int64
	CurrentStreak int
}

// ScoreOutcome is the derived result of one answer.
type ScoreOutcome struct {
	IsCorrect    bool
	PointsEarned int
	NewStreak    int
}

// Score is deterministic and side-effect free.
func (p ScoringPolicy) Score(in ScoreInput) ScoreOutcome {
	correct := in.SelectedOptionID != "" && in.SelectedOptionID == in.Question.CorrectOptionID
	if !correct {
		return ScoreOutcome{}
	}

	out := ScoreOutcome{IsCorrect: true, NewStreak: in.CurrentStreak + 1}
	if !in.Settings.ScoringEnabled {
		return out
	}

	points := p.BasePoints
	if in.Settings.SpeedBonusEnabled {
		points += p.speedBonus(in.ResponseTimeMs, in.WindowMs)
	}
	if in.Settings.StreakTrackingEnabled && p.StreakThreshold > 0 && out.NewStreak >= p.StreakThreshold {
		points += p.StreakBonus
	}
	if points < 0 {
		points = 0
	}
	out.PointsEarned = points
	return out
}

// speedBonus decays linearly from SpeedBonusMax at 0ms to 0 at the end of the window.
func (p ScoringPolicy) speedBonus(responseMs, windowMs int64) int {
	if p.SpeedBonusMax <= 0 || windowMs <= 0 {
		return 0
	}
	if responseMs < 0 {
		responseMs = 0
	}
	if responseMs >= windowMs {
		return 0
	}
	return int(int64(p.SpeedBonusMax) * (windowMs - responseMs) / windowMs)
}

// RankParticipants orders participants by score descending, then cumulative
// answer time ascending, and assigns ranks 1..N.
func RankParticipants(eventID string, participants []domain.Participant, now time.Time) domain.Leaderboard {
	sorted := append([]domain.Participant(nil), participants...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.TotalAnswerTimeMs != b.TotalAnswerTimeMs {
			return a.TotalAnswerTimeMs < b.TotalAnswerTimeMs
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ID < b.ID
	})

	entries := make([]domain.LeaderboardEntry, len(sorted))
	for i, p := range sorted {
		entries[i] = domain.LeaderboardEntry{
			Rank:              i + 1,
			ParticipantID:     p.ID,
			Name:              p.Name,
			Score:             p.Score,
			Streak:            p.CurrentStreak,
			TotalAnswerTimeMs: p.TotalAnswerTimeMs,
		}
	}
	return domain.Leaderboard{EventID: eventID, Entries: entries, UpdatedAt: now}
}

// TopN returns at most n leading entries.
func TopN(lb domain.Leaderboard, n int) []domain.LeaderboardEntry {
	if len(lb.Entries) < n {
		n = len(lb.Entries)
	}
	return append([]domain.LeaderboardEntry(nil), lb.Entries[:n]...)
}

// Tally computes count and percentage per option; percentages are 0 when
// there are no votes.
func Tally(options []domain.Option, counts map[string]int) (int, []domain.OptionStat) {
	total := 0
	for _, o := range options {
		total += counts[o.ID]
	}
	stats := make([]domain.OptionStat, len(options))
	for i, o := range options {
		stats[i] = domain.OptionStat{
			OptionID:   o.ID,
			Text:       o.Text,
			Count:      counts[o.ID],
			Percentage: percentage(counts[o.ID], total),
		}
	}
	return total, stats
}

// PollTally aggregates a poll's counters.
func PollTally(activityID string, poll domain.Poll) domain.PollResults {
	options := make([]domain.Option, len(poll.Options))
	counts := make(map[string]int, len(poll.Options))
	for i, o := range poll.Options {
		options[i] = domain.Option{ID: o.ID, Text: o.Text}
		counts[o.ID] = o.Votes
	}
	total, stats := Tally(options, counts)
	return domain.PollResults{
		ActivityID: activityID,
		Question:   poll.Question,
		TotalVotes: total,
		Options:    stats,
	}
}

// QuestionStats counts the answers each option of a question received.
func QuestionStats(activityID string, question domain.Question, participants []domain.Participant) (int, []domain.OptionStat) {
	counts := make(map[string]int, len(question.Options))
	for _, p := range participants {
		if a, ok := p.AnswerFor(activityID, question.ID); ok {
			counts[a.SelectedOptionID]++
		}
	}
	return Tally(question.Options, counts)
}

func percentage(count, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(count) * 100 / float64(total)
}
