package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"live-activity-service/internal/domain"
)

func TestRepositoryPutActivitiesChecksVersions(t *testing.T) {
	mr, client := newServer(t)
	defer mr.Close()
	ctx := context.Background()
	repo := NewRepository(client, 0)

	a := domain.Activity{ID: "a1", EventID: "e1", Type: domain.ActivityPoll, Status: domain.ActivityDraft}
	b := domain.Activity{ID: "a2", EventID: "e1", Type: domain.ActivityPoll, Status: domain.ActivityDraft, Order: 1}
	if err := repo.PutActivities(ctx, b, a); err != nil {
		t.Fatalf("put activities: %v", err)
	}

	stored, err := repo.GetActivity(ctx, "a1")
	if err != nil {
		t.Fatalf("get activity: %v", err)
	}
	if stored.Version != 1 {
		t.Fatalf("expected version 1, got %d", stored.Version)
	}

	stored.Status = domain.ActivityActive
	stale := b
	stale.Status = domain.ActivityCompleted
	if err := repo.PutActivities(ctx, stored, stale); !errors.Is(err, domain.ErrVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}
	again, _ := repo.GetActivity(ctx, "a1")
	if again.Status != domain.ActivityDraft {
		t.Fatalf("expected untouched activity, got %s", again.Status)
	}

	if err := repo.PutActivities(ctx, stored); err != nil {
		t.Fatalf("put current version: %v", err)
	}
	list, err := repo.ListActivities(ctx, "e1")
	if err != nil {
		t.Fatalf("list activities: %v", err)
	}
	if len(list) != 2 || list[0].ID != "a1" || list[0].Status != domain.ActivityActive {
		t.Fatalf("unexpected activities %+v", list)
	}
}

func TestRepositoryPINLifecycle(t *testing.T) {
	mr, client := newServer(t)
	defer mr.Close()
	ctx := context.Background()
	repo := NewRepository(client, time.Hour)

	event := domain.Event{ID: "e1", OrganizerID: "org", GamePIN: "482913", Status: domain.EventDraft}
	if err := repo.PutEvent(ctx, event); err != nil {
		t.Fatalf("put event: %v", err)
	}
	if !mr.Exists("live:pin:482913") {
		t.Fatalf("expected pin key to be set")
	}
	found, err := repo.FindEventByPIN(ctx, "482913")
	if err != nil || found.ID != "e1" {
		t.Fatalf("expected e1, got %q %v", found.ID, err)
	}

	clash := domain.Event{ID: "e2", OrganizerID: "org", GamePIN: "482913", Status: domain.EventDraft}
	if err := repo.PutEvent(ctx, clash); !errors.Is(err, domain.ErrVersionConflict) {
		t.Fatalf("expected pin clash, got %v", err)
	}

	event.Status = domain.EventCompleted
	if err := repo.PutEvent(ctx, event); err != nil {
		t.Fatalf("complete event: %v", err)
	}
	if mr.Exists("live:pin:482913") {
		t.Fatalf("expected pin key to be released")
	}
	if _, err := repo.FindEventByPIN(ctx, "482913"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := repo.PutEvent(ctx, clash); err != nil {
		t.Fatalf("reuse released pin: %v", err)
	}
}

func TestRepositoryParticipants(t *testing.T) {
	mr, client := newServer(t)
	defer mr.Close()
	ctx := context.Background()
	repo := NewRepository(client, 0)

	now := time.Now()
	for i, name := range []string{"Alice", "Bob"} {
		p := domain.Participant{ID: name, EventID: "e1", Name: name, JoinedAt: now.Add(time.Duration(i) * time.Second)}
		if err := repo.PutParticipant(ctx, p); err != nil {
			t.Fatalf("put participant: %v", err)
		}
	}
	list, err := repo.ListParticipants(ctx, "e1")
	if err != nil {
		t.Fatalf("list participants: %v", err)
	}
	if len(list) != 2 || list[0].Name != "Alice" || list[1].Name != "Bob" {
		t.Fatalf("unexpected participants %+v", list)
	}
	if _, err := repo.GetParticipant(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func newServer(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	return mr, redis.NewClient(&redis.Options{Addr: mr.Addr()})
}
