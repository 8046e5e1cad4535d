// Package ledgertest provides an in-memory ledger stub implementing
// state.Context, required by spec.md §9 ("An in-memory ledger stub is
// required for tests"). It also drives a minimal single-node commit loop
// (assign offset, run a transaction processor, append the resulting event)
// so tests can exercise the provenance TP and policy TP exactly as a real
// validator would invoke them, without any real networking or consensus.
package ledgertest

import (
	"context"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/chronicle-ledger/chronicle/internal/eventstream"
	"github.com/chronicle-ledger/chronicle/internal/state"
)

// Ledger is a single-process, single-threaded stand-in for the Sawtooth-
// style ordering service + validator state. It is not safe to treat as a
// distributed ledger: there is exactly one in-process "node".
type Ledger struct {
	mu      sync.Mutex
	storage map[string][]byte
	offset  uint64
	events  []state.Event
}

// New returns an empty Ledger.
func New() *Ledger {
	return &Ledger{storage: make(map[string][]byte)}
}

// txContext is the per-transaction state.Context view: reads hit the
// ledger's committed storage directly (single-node, no concurrent writers),
// writes buffer until the transaction processor returns successfully.
type txContext struct {
	ledger  *Ledger
	writes  map[string][]byte
	event   *state.Event
}

func (c *txContext) GetMany(ctx context.Context, addresses []string) (map[string][]byte, error) {
	c.ledger.mu.Lock()
	defer c.ledger.mu.Unlock()
	out := make(map[string][]byte, len(addresses))
	for _, addr := range addresses {
		if w, ok := c.writes[addr]; ok {
			out[addr] = w
			continue
		}
		if v, ok := c.ledger.storage[addr]; ok {
			out[addr] = v
		}
	}
	return out, nil
}

func (c *txContext) SetMany(ctx context.Context, writes map[string][]byte) error {
	for k, v := range writes {
		c.writes[k] = v
	}
	return nil
}

func (c *txContext) AddEvent(ctx context.Context, event state.Event) error {
	c.event = &event
	return nil
}

// Apply runs fn (typically a transaction processor's Apply method, wrapped
// by the caller) against a fresh transaction scoped to a newly assigned
// txId and offset, committing its buffered writes and event only if fn
// succeeds.
func (l *Ledger) Apply(ctx context.Context, fn func(ctx context.Context, sc state.Context, txID string, offset uint64) error) (txID string, offset uint64, err error) {
	l.mu.Lock()
	offset = l.offset + 1
	txID = uuid.NewString()
	l.mu.Unlock()

	tc := &txContext{ledger: l, writes: make(map[string][]byte)}
	if err := fn(ctx, tc, txID, offset); err != nil {
		return "", 0, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for k, v := range tc.writes {
		l.storage[k] = v
	}
	l.offset = offset
	if tc.event != nil {
		l.events = append(l.events, *tc.event)
	}
	return txID, offset, nil
}

// Offset returns the highest committed offset, for lag reporting.
func (l *Ledger) Offset() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.offset
}

// Events returns all events committed so far, in commit order.
func (l *Ledger) Events() []state.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]state.Event, len(l.events))
	copy(out, l.events)
	return out
}

// EventsFrom implements eventstream.Source: events with offset strictly
// greater than fromOffset, in ascending offset order, used by the
// submitter and projector to resume a subscription.
func (l *Ledger) EventsFrom(fromOffset uint64) []eventstream.CommitEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []eventstream.CommitEvent
	for _, e := range l.events {
		offStr := e.Attributes["offset"]
		if offStr == "" {
			continue
		}
		parsed, err := strconv.ParseUint(offStr, 10, 64)
		if err != nil || parsed <= fromOffset {
			continue
		}
		out = append(out, eventstream.CommitEvent{
			TxID: e.Attributes["txId"], Offset: parsed, Payload: e.Payload,
		})
	}
	return out
}

// Peek returns the raw stored bytes at addr, for assertions in tests.
func (l *Ledger) Peek(addr string) ([]byte, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.storage[addr]
	return v, ok
}
