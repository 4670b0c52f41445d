package app

import (
	"fmt"
	"strings"

	"live-activity-service/internal/domain"
)

const (
	minQuestionOptions = 2
	maxQuestionOptions = 5
	minPollOptions     = 2
)

// ReadinessResult lists every violation found; Valid is true when there are none.
type ReadinessResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// Err returns a ValidationFailed error for an invalid result, nil otherwise.
func (r ReadinessResult) Err() error {
	if r.Valid {
		return nil
	}
	return domain.ValidationError(r.Errors)
}

// ValidateActivity checks an activity is complete enough to go live. It never
// stops at the first problem.
func ValidateActivity(a domain.Activity) ReadinessResult {
	var errs []string
	switch a.Type {
	case domain.ActivityQuiz:
		errs = validateQuiz(a.Quiz)
	case domain.ActivityPoll:
		errs = validatePoll(a.Poll)
	case domain.ActivityRaffle:
		errs = validateRaffle(a.Raffle)
	default:
		errs = []string{fmt.Sprintf("unknown activity type %q", a.Type)}
	}
	return ReadinessResult{Valid: len(errs) == 0, Errors: errs}
}

// ValidateEvent validates every activity of an event, prefixing each error
// with the activity it belongs to.
func ValidateEvent(activities []domain.Activity) ReadinessResult {
	var errs []string
	for _, a := range activities {
		res := ValidateActivity(a)
		label := a.Title
		if label == "" {
			label = a.ID
		}
		for _, e := range res.Errors {
			errs = append(errs, fmt.Sprintf("%s %q: %s", a.Type, label, e))
		}
	}
	return ReadinessResult{Valid: len(errs) == 0, Errors: errs}
}

func validateQuiz(q *domain.Quiz) []string {
	if q == nil || len(q.Questions) == 0 {
		return []string{"quiz must have at least one question"}
	}
	var errs []string
	for i, question := range q.Questions {
		label := fmt.Sprintf("question %d", i+1)
		if question.ID == "" {
			errs = append(errs, label+": missing id")
		}
		if strings.TrimSpace(question.Text) == "" {
			errs = append(errs, label+": text is empty")
		}
		if n := len(question.Options); n < minQuestionOptions || n > maxQuestionOptions {
			errs = append(errs, fmt.Sprintf("%s: must have %d-%d options, has %d", label, minQuestionOptions, maxQuestionOptions, n))
		}
		matches := 0
		seen := make(map[string]bool, len(question.Options))
		for j, opt := range question.Options {
			if opt.ID == "" {
				errs = append(errs, fmt.Sprintf("%s: option %d has no id", label, j+1))
				continue
			}
			if seen[opt.ID] {
				errs = append(errs, fmt.Sprintf("%s: duplicate option id %q", label, opt.ID))
			}
			seen[opt.ID] = true
			if strings.TrimSpace(opt.Text) == "" {
				errs = append(errs, fmt.Sprintf("%s: option %d text is empty", label, j+1))
			}
			if question.CorrectOptionID != "" && opt.ID == question.CorrectOptionID {
				matches++
			}
		}
		if matches != 1 {
			errs = append(errs, label+": exactly one option must match the correct option id")
		}
		if question.TimerSeconds < 0 {
			errs = append(errs, label+": timer must not be negative")
		}
	}
	return errs
}

func validatePoll(p *domain.Poll) []string {
	if p == nil {
		return []string{"poll payload is missing"}
	}
	var errs []string
	if strings.TrimSpace(p.Question) == "" {
		errs = append(errs, "poll question is empty")
	}
	if len(p.Options) < minPollOptions {
		errs = append(errs, fmt.Sprintf("poll must have at least %d options, has %d", minPollOptions, len(p.Options)))
	}
	seen := make(map[string]bool, len(p.Options))
	for i, opt := range p.Options {
		if opt.ID == "" {
			errs = append(errs, fmt.Sprintf("poll option %d has no id", i+1))
			continue
		}
		if seen[opt.ID] {
			errs = append(errs, fmt.Sprintf("duplicate poll option id %q", opt.ID))
		}
		seen[opt.ID] = true
		if strings.TrimSpace(opt.Text) == "" {
			errs = append(errs, fmt.Sprintf("poll option %d text is empty", i+1))
		}
	}
	return errs
}

func validateRaffle(r *domain.Raffle) []string {
	if r == nil {
		return []string{"raffle payload is missing"}
	}
	var errs []string
	if strings.TrimSpace(r.PrizeDescription) == "" {
		errs = append(errs, "raffle prize description is empty")
	}
	if r.WinnerCount < 1 {
		errs = append(errs, "raffle must have at least one winner")
	}
	switch r.EntryMethod {
	case domain.EntryAutomatic, domain.EntryManual:
	default:
		errs = append(errs, fmt.Sprintf("unknown raffle entry method %q", r.EntryMethod))
	}
	return errs
}
