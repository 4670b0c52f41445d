package app

import (
	"context"
	"errors"

	"live-activity-service/internal/domain"
)

// Gate authorizes organizer actions and participant access.
type Gate struct {
	events EventReader
}

func NewGate(events EventReader) *Gate {
	return &Gate{events: events}
}

// AuthorizeOrganizer loads the event and checks the token is its organizer.
func (g *Gate) AuthorizeOrganizer(ctx context.Context, eventID, token string) (domain.Event, error) {
	if token == "" {
		return domain.Event{}, domain.ErrUnauthenticated
	}
	event, err := g.events.GetEvent(ctx, eventID)
	if err != nil {
		return domain.Event{}, storageError(err, domain.ErrEventNotFound)
	}
	if err := CheckOrganizer(event, token); err != nil {
		return domain.Event{}, err
	}
	return event, nil
}

// AuthorizeParticipantAccess loads the event and applies CheckParticipantAccess.
func (g *Gate) AuthorizeParticipantAccess(ctx context.Context, eventID, token, pin string) (domain.Event, error) {
	event, err := g.events.GetEvent(ctx, eventID)
	if err != nil {
		return domain.Event{}, storageError(err, domain.ErrEventNotFound)
	}
	if err := CheckParticipantAccess(event, token, pin); err != nil {
		return domain.Event{}, err
	}
	return event, nil
}

// CheckOrganizer is the pure part of AuthorizeOrganizer.
func CheckOrganizer(event domain.Event, token string) error {
	if token == "" {
		return domain.ErrUnauthenticated
	}
	if token != event.OrganizerID {
		return domain.ErrForbidden
	}
	return nil
}

// CheckParticipantAccess decides whether a joiner may enter the event.
// Unknown visibility values are denied.
func CheckParticipantAccess(event domain.Event, token, pin string) error {
	if token != "" && token == event.OrganizerID {
		return nil
	}
	switch event.Visibility {
	case domain.VisibilityPublic:
		return nil
	case domain.VisibilityPrivate:
		if pin == "" {
			return domain.ErrUnauthenticated
		}
		if event.GamePIN == "" || pin != event.GamePIN {
			return domain.ErrInvalidPIN
		}
		return nil
	default:
		return domain.Errorf(domain.ErrForbidden, "event visibility %q is not joinable", event.Visibility)
	}
}

// storageError maps repository failures onto the typed taxonomy. notFound is
// used when the record is missing.
func storageError(err error, notFound *domain.Error) error {
	if err == nil {
		return nil
	}
	var typed *domain.Error
	if errors.As(err, &typed) {
		return typed
	}
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return notFound
	case errors.Is(err, domain.ErrVersionConflict):
		return domain.Wrap(domain.ErrActivationConflict, err)
	case errors.Is(err, context.DeadlineExceeded):
		return domain.Wrap(domain.ErrTimeout, err)
	default:
		return domain.Wrap(domain.ErrStorageUnavailable, err)
	}
}
