package memory

import (
	"context"
	"testing"
)

func TestPresenceLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewPresence()

	_ = store.MarkOnline(ctx, "event-1", "p2")
	_ = store.MarkOnline(ctx, "event-1", "p1")
	ids, _ := store.Online(ctx, "event-1")
	if len(ids) != 2 || ids[0] != "p1" {
		t.Fatalf("expected [p1 p2], got %v", ids)
	}

	_ = store.MarkOffline(ctx, "event-1", "p1")
	_ = store.MarkOffline(ctx, "event-1", "p2")
	ids, _ = store.Online(ctx, "event-1")
	if len(ids) != 0 {
		t.Fatalf("expected no one online, got %v", ids)
	}
}
