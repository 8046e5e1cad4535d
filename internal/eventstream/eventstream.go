// Package eventstream implements the poll-based commit-event subscription
// shared by the submitter and the projector (spec.md §4.8 "Event
// subscription", §4.9). Grounded on the teacher's block-polling event
// listener (infrastructure/chain/listener_core.go): a ticker-driven poll
// loop, registered handlers dispatched per event, and a persisted cursor
// (there: lastBlock: here: last-delivered offset) so restart resumes
// correctly.
package eventstream

import (
	"context"
	"sync"
	"time"

	"github.com/chronicle-ledger/chronicle/internal/logging"

	cherrors "github.com/chronicle-ledger/chronicle/internal/errors"
)

// Source is the minimal capability an event stream polls: return all
// commit events with offset strictly greater than fromOffset, in ascending
// offset order (spec.md §9 "small, capability-shaped interfaces").
type Source interface {
	EventsFrom(fromOffset uint64) []CommitEvent
}

// CommitEvent is the stream's delivery unit: the wire commit event plus its
// parsed offset, used for handler dispatch and cursor advancement.
type CommitEvent struct {
	TxID    string
	Offset  uint64
	Payload []byte
}

// Handler processes one delivered event; an error is logged but does not
// stop the stream (handlers are responsible for their own retry policy).
type Handler func(ctx context.Context, event CommitEvent) error

// Stream polls a Source on an interval and dispatches events to registered
// handlers in strict offset order, starting from a caller-supplied offset.
type Stream struct {
	mu           sync.Mutex
	source       Source
	pollInterval time.Duration
	cursor       uint64
	handlers     []Handler
	running      bool
	stopCh       chan struct{}
	logger       *logging.Logger
}

// New returns a Stream reading from source, starting after startOffset.
func New(source Source, startOffset uint64, pollInterval time.Duration, logger *logging.Logger) *Stream {
	if pollInterval <= 0 {
		pollInterval = 200 * time.Millisecond
	}
	if logger == nil {
		logger = logging.NewFromEnv("eventstream")
	}
	return &Stream{source: source, cursor: startOffset, pollInterval: pollInterval, logger: logger}
}

// On registers a handler invoked for every event delivered after it is
// added. Handlers run synchronously, in registration order, so ordering
// guarantees (spec.md §5) hold across all of them.
func (s *Stream) On(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, h)
}

// Cursor returns the last offset delivered.
func (s *Stream) Cursor() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// SetCursor forcibly rewinds or fast-forwards the stream's cursor, used by
// the projector to re-subscribe from stored_offset+1 on out-of-order events
// (spec.md §4.9 step 5).
func (s *Stream) SetCursor(offset uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = offset
}

// Start begins the poll loop in a background goroutine; it returns
// immediately. Stop halts it.
func (s *Stream) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	go s.poll(ctx)
}

// Stop halts the poll loop.
func (s *Stream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	close(s.stopCh)
}

func (s *Stream) poll(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.deliverPending(ctx)
		}
	}
}

// deliverPending fetches and dispatches all events newer than the cursor.
// The poll loop calls it on every tick; DeliverPending exposes it for a
// synchronous drain that does not wait out a poll tick.
func (s *Stream) deliverPending(ctx context.Context) {
	s.mu.Lock()
	cursor := s.cursor
	handlers := append([]Handler(nil), s.handlers...)
	s.mu.Unlock()

	events := s.source.EventsFrom(cursor)
	for _, ev := range events {
		failed := false
		outOfOrder := false
		for _, h := range handlers {
			if err := h(ctx, ev); err != nil {
				s.logger.WithError(err).WithFields(map[string]interface{}{
					"tx_id": ev.TxID, "offset": ev.Offset,
				}).Error("event handler failed")
				failed = true
				if cherrors.Is(err, cherrors.CodeOutOfOrderEvent) {
					outOfOrder = true
				}
			}
		}
		if !failed {
			s.mu.Lock()
			if ev.Offset > s.cursor {
				s.cursor = ev.Offset
			}
			s.mu.Unlock()
		}
		if outOfOrder {
			// A handler (the projector) has already rewound the cursor via
			// SetCursor to resume from stored_offset+1. Stop delivering the
			// rest of this batch immediately: continuing would process
			// later, higher-offset events and advance the cursor past them,
			// clobbering the rewind before the next poll tick ever sees it
			// (spec.md §4.9 step 5).
			return
		}
	}
}

// DeliverPending is the exported form of deliverPending, letting callers
// (in this module, the tests) force a synchronous drain.
func (s *Stream) DeliverPending(ctx context.Context) {
	s.deliverPending(ctx)
}

