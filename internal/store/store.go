package store

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	appLog "santecal/internal/log"
	"santecal/internal/model"
)

var (
	ErrNotFound = errors.New("store: event not found")
	ErrInvalid  = errors.New("store: invalid event")
	ErrConflict = errors.New("store: event id owned by another source")
)

// Book is an in-memory appointment book. Events either belong to a feed
// (SourceID set, replaced wholesale on refresh) or were booked directly.
type Book struct {
	mu     sync.RWMutex
	events map[string]model.Event
}

func NewBook() *Book {
	return &Book{events: make(map[string]model.Event)}
}

// Create validates ev, assigns an ID if it has none, fills in status and
// color defaults, and stores it.
func (b *Book) Create(ev model.Event) (model.Event, error) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	ev, err := normalize(ev)
	if err != nil {
		return model.Event{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.events[ev.ID]; exists {
		return model.Event{}, fmt.Errorf("%w: id %q already exists", ErrInvalid, ev.ID)
	}
	b.events[ev.ID] = ev
	return ev, nil
}

// Update replaces the event stored under id. The stored ID and SourceID are
// kept regardless of what ev carries.
func (b *Book) Update(id string, ev model.Event) (model.Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cur, ok := b.events[id]
	if !ok {
		return model.Event{}, ErrNotFound
	}
	ev.ID = cur.ID
	ev.SourceID = cur.SourceID

	ev, err := normalize(ev)
	if err != nil {
		return model.Event{}, err
	}
	b.events[id] = ev
	return ev, nil
}

func (b *Book) Delete(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.events[id]; !ok {
		return ErrNotFound
	}
	delete(b.events, id)
	return nil
}

func (b *Book) Get(id string) (model.Event, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ev, ok := b.events[id]
	if !ok {
		return model.Event{}, ErrNotFound
	}
	return ev, nil
}

// ReplaceSource atomically drops every event of sourceID and stores events
// in their place. Events are not validated; feed data is shown as received.
// An event whose ID is held by a booked appointment or another feed is
// skipped, never overwritten.
func (b *Book) ReplaceSource(sourceID string, events []model.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ev := range b.events {
		if ev.SourceID == sourceID {
			delete(b.events, id)
		}
	}
	for _, ev := range events {
		if cur, taken := b.events[ev.ID]; taken {
			appLog.Error("feed event skipped", ErrConflict,
				"id", ev.ID, "source", sourceID, "owner", cur.SourceID)
			continue
		}
		ev.SourceID = sourceID
		if ev.Color == "" {
			ev.Color = ev.Status.Color()
		}
		b.events[ev.ID] = ev
	}
}

// List returns events starting in [from, to), ordered by start then ID.
// A zero to means no upper bound.
func (b *Book) List(from, to time.Time) []model.Event {
	b.mu.RLock()
	out := make([]model.Event, 0, len(b.events))
	for _, ev := range b.events {
		if ev.Start.Before(from) {
			continue
		}
		if !to.IsZero() && !ev.Start.Before(to) {
			continue
		}
		out = append(out, ev)
	}
	b.mu.RUnlock()

	slices.SortFunc(out, func(x, y model.Event) int {
		if c := x.Start.Compare(y.Start); c != 0 {
			return c
		}
		return strings.Compare(x.ID, y.ID)
	})
	return out
}

func (b *Book) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.events)
}

func normalize(ev model.Event) (model.Event, error) {
	ev.Title = strings.TrimSpace(ev.Title)
	if ev.Title == "" && ev.Patient != nil {
		ev.Title = ev.Patient.FullName()
	}
	if ev.Title == "" {
		return ev, fmt.Errorf("%w: title is required", ErrInvalid)
	}
	if ev.Start.IsZero() || ev.End.IsZero() {
		return ev, fmt.Errorf("%w: start and end are required", ErrInvalid)
	}
	if ev.End.Before(ev.Start) {
		return ev, fmt.Errorf("%w: end time must be after start time", ErrInvalid)
	}

	if ev.Status == "" {
		ev.Status = model.StatusScheduled
	} else if s, ok := model.ParseStatus(string(ev.Status)); ok {
		ev.Status = s
	} else {
		return ev, fmt.Errorf("%w: unknown status %q", ErrInvalid, ev.Status)
	}
	if ev.Color == "" {
		ev.Color = ev.Status.Color()
	}
	return ev, nil
}
