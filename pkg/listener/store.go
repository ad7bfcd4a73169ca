package listener

import (
	"context"
	"sync"
	"time"

	"github.com/morezero/automation-client/pkg/correlation"
	"github.com/morezero/automation-client/pkg/handler"
	"github.com/morezero/automation-client/pkg/wire"
)

// DefaultStoreSize bounds each EventStore ring when no size is given.
const DefaultStoreSize = 1000

// Entry kinds recorded by EventStore.
const (
	EntryCommand = "command"
	EntryEvent   = "event"
	EntryMessage = "message"
)

// StoreEntry is one recorded item.
type StoreEntry struct {
	Kind          string      `json:"kind"`
	Timestamp     time.Time   `json:"timestamp"`
	CorrelationID string      `json:"correlation_id,omitempty"`
	Name          string      `json:"name,omitempty"`
	Value         interface{} `json:"value,omitempty"`
}

type ring struct {
	buf  []StoreEntry
	next int
	full bool
}

func (r *ring) add(e StoreEntry) {
	r.buf[r.next] = e
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

// list returns the entries oldest first.
func (r *ring) list() []StoreEntry {
	if !r.full {
		return append([]StoreEntry(nil), r.buf[:r.next]...)
	}
	out := make([]StoreEntry, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	return append(out, r.buf[:r.next]...)
}

// EventStore keeps the most recent commands, events and messages seen by
// this process, each in its own bounded ring.
type EventStore struct {
	NoOpListener

	mu       sync.Mutex
	commands ring
	events   ring
	messages ring
	now      func() time.Time
}

// NewEventStore creates an EventStore keeping up to size entries per kind.
func NewEventStore(size int) *EventStore {
	if size <= 0 {
		size = DefaultStoreSize
	}
	return &EventStore{
		commands: ring{buf: make([]StoreEntry, size)},
		events:   ring{buf: make([]StoreEntry, size)},
		messages: ring{buf: make([]StoreEntry, size)},
		now:      time.Now,
	}
}

func (s *EventStore) record(r *ring, e StoreEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.Timestamp = s.now()
	r.add(e)
}

// Commands returns recorded commands, oldest first.
func (s *EventStore) Commands() []StoreEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commands.list()
}

// Events returns recorded events, oldest first.
func (s *EventStore) Events() []StoreEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events.list()
}

// Messages returns recorded outbound messages, oldest first.
func (s *EventStore) Messages() []StoreEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messages.list()
}

func (s *EventStore) CommandIncoming(_ context.Context, frame *wire.CommandFrame) {
	// Secrets stay out of the store.
	redacted := *frame
	redacted.Secrets = nil
	s.record(&s.commands, StoreEntry{Kind: EntryCommand, CorrelationID: frame.CorrelationID, Name: frame.Name, Value: &redacted})
}

func (s *EventStore) EventIncoming(_ context.Context, frame *wire.EventFrame) {
	redacted := *frame
	redacted.Secrets = nil
	s.record(&s.events, StoreEntry{Kind: EntryEvent, CorrelationID: frame.Extensions.CorrelationID, Name: frame.Extensions.OperationName, Value: &redacted})
}

func (s *EventStore) MessageSent(ctx context.Context, msg interface{}, _ *handler.Destination, _ *handler.MessageOptions, _ *handler.Context) {
	s.record(&s.messages, StoreEntry{Kind: EntryMessage, CorrelationID: correlation.CorrelationID(ctx), Value: msg})
}
