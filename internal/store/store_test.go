package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"mailwatch/internal/event"
)

func storedEvent(kind event.Kind) event.CanonicalEvent {
	return event.CanonicalEvent{
		Provider:   "postmark",
		Kind:       kind,
		OccurredAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestMemoryRepositoryStoreAndRead(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ev := storedEvent(event.KindDelivered)
		ev.CorrelationID = fmt.Sprintf("id-%d", i)
		if err := repo.StoreEvent(ctx, ev); err != nil {
			t.Fatalf("StoreEvent: %v", err)
		}
	}

	events, err := repo.RecentEvents(ctx, 10)
	if err != nil {
		t.Fatalf("RecentEvents: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("events = %d, want 3", len(events))
	}
	if events[0].ID >= events[1].ID || events[1].ID >= events[2].ID {
		t.Fatalf("ids must be ascending: %d %d %d", events[0].ID, events[1].ID, events[2].ID)
	}
	if events[2].Event.CorrelationID != "id-2" {
		t.Fatalf("last event = %q, want id-2", events[2].Event.CorrelationID)
	}
}

func TestMemoryRepositoryLimit(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := repo.StoreEvent(ctx, storedEvent(event.KindOpened)); err != nil {
			t.Fatalf("StoreEvent: %v", err)
		}
	}
	events, err := repo.RecentEvents(ctx, 2)
	if err != nil {
		t.Fatalf("RecentEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[1].ID != 5 {
		t.Fatalf("newest id = %d, want 5", events[1].ID)
	}
}

func TestStoreEventValidation(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	cases := []struct {
		name string
		ev   event.CanonicalEvent
	}{
		{"missing provider", event.CanonicalEvent{Kind: event.KindDelivered, OccurredAt: time.Now()}},
		{"invalid kind", event.CanonicalEvent{Provider: "ses", Kind: "bogus", OccurredAt: time.Now()}},
		{"zero timestamp", event.CanonicalEvent{Provider: "ses", Kind: event.KindDelivered}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := repo.StoreEvent(ctx, tc.ev); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("err = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestNewSQLRepositoryRejectsUnknownDialect(t *testing.T) {
	if _, err := NewSQLRepository(nil, "postgres"); err == nil {
		t.Fatalf("nil db must be rejected")
	}
}
