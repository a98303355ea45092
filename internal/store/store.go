package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"mailwatch/internal/event"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
)

// StoredEvent is one persisted canonical event.
type StoredEvent struct {
	ID         int64
	Event      event.CanonicalEvent
	IngestedAt time.Time
}

// Repository is the persistence collaborator boundary: canonical events
// flow in, the bounce-rate monitor reads recent history back out.
type Repository interface {
	StoreEvent(ctx context.Context, ev event.CanonicalEvent) error
	RecentEvents(ctx context.Context, limit int) ([]StoredEvent, error)
}

const memoryRetention = 5000

// MemoryRepository keeps a bounded in-process event log; the fallback
// when no database is configured.
type MemoryRepository struct {
	mu     sync.RWMutex
	nextID int64
	events []StoredEvent
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (m *MemoryRepository) StoreEvent(_ context.Context, ev event.CanonicalEvent) error {
	if err := validateEvent(ev); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.events = append(m.events, StoredEvent{
		ID:         m.nextID,
		Event:      ev,
		IngestedAt: time.Now().UTC(),
	})
	if len(m.events) > memoryRetention {
		m.events = m.events[len(m.events)-memoryRetention:]
	}
	return nil
}

func (m *MemoryRepository) RecentEvents(_ context.Context, limit int) ([]StoredEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	start := len(m.events) - limit
	if start < 0 {
		start = 0
	}
	out := make([]StoredEvent, len(m.events)-start)
	copy(out, m.events[start:])
	return out, nil
}

func validateEvent(ev event.CanonicalEvent) error {
	if ev.Provider == "" || !ev.Kind.Valid() || ev.OccurredAt.IsZero() {
		return ErrInvalidInput
	}
	return nil
}
