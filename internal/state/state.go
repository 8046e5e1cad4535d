// Package state defines the narrow, capability-shaped interface a
// transaction processor uses to read and write address-partitioned ledger
// state and emit commit events (spec.md §4.4, §9 "Dynamic dispatch"). It
// stands in for the opaque per-transaction context object a real ordering
// service would inject. The one concrete implementation in this module is
// internal/ledgertest's in-process ledger, used both by cmd/chronicled and
// by the tests; any other implementation can stand behind this interface.
package state

import "context"

// Event is a single commit-record event: a name, a flat attribute map
// (spec.md uses this for txId/offset), and an opaque payload — here the
// canonical JSON-LD delta plus operation list (spec.md §4.5 step 8).
type Event struct {
	Name       string
	Attributes map[string]string
	Payload    []byte
}

// Context is the ≤3-operation capability a transaction processor is given
// per transaction. It never exposes enumeration, iteration, or any
// operation beyond get/set/emit — by design, so determinism is enforced by
// construction rather than by caller discipline (spec.md §4.5 Determinism).
type Context interface {
	// GetMany returns the current bytes for each requested address; missing
	// addresses are simply absent from the result map.
	GetMany(ctx context.Context, addresses []string) (map[string][]byte, error)
	// SetMany writes a batch of address -> bytes pairs. The write is
	// transactional: either every address in the batch is written, or none
	// are, and the caller sees a single error.
	SetMany(ctx context.Context, writes map[string][]byte) error
	// AddEvent appends one event to the transaction's commit record.
	AddEvent(ctx context.Context, event Event) error
}
