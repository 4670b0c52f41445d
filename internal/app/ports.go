package app

import (
	"context"

	"live-activity-service/internal/domain"
)

// EventReader is the read side the access gate needs.
type EventReader interface {
	GetEvent(ctx context.Context, eventID string) (domain.Event, error)
}

// Repository abstracts how events, activities and participants are stored
// (in-memory, Redis, Postgres). Missing records return domain.ErrNotFound.
type Repository interface {
	EventReader
	// FindEventByPIN resolves a live game pin; completed events never match.
	FindEventByPIN(ctx context.Context, pin string) (domain.Event, error)
	PutEvent(ctx context.Context, event domain.Event) error

	GetActivity(ctx context.Context, activityID string) (domain.Activity, error)
	ListActivities(ctx context.Context, eventID string) ([]domain.Activity, error)
	// PutActivities writes all activities atomically. Each activity's Version
	// must equal the stored version (0 for new records); the store persists
	// Version+1. A mismatch fails the whole write with domain.ErrVersionConflict.
	PutActivities(ctx context.Context, activities ...domain.Activity) error

	GetParticipant(ctx context.Context, participantID string) (domain.Participant, error)
	ListParticipants(ctx context.Context, eventID string) ([]domain.Participant, error)
	PutParticipant(ctx context.Context, participant domain.Participant) error
}

// Publisher delivers notifications for an event in the order given.
type Publisher interface {
	Publish(eventID string, envelopes ...domain.Envelope)
}

// PINDirectory resolves game pins to event ids (usually through a cache).
type PINDirectory interface {
	Resolve(ctx context.Context, pin string) (string, error)
	Forget(ctx context.Context, pin string)
}

// OnlineSource reports which participants of an event currently hold a connection.
type OnlineSource interface {
	OnlineParticipants(eventID string) map[string]bool
}
