package main

import (
	"context"

	"github.com/chronicle-ledger/chronicle/internal/ledgertest"
	"github.com/chronicle-ledger/chronicle/internal/state"
	"github.com/chronicle-ledger/chronicle/internal/tp"
)

// ledgerDispatcher adapts the in-process ledger and provenance TP to the
// submitter.Dispatcher capability: one signed payload in, one assigned
// tx id out. A networked deployment replaces this with an RPC client to
// the validator; nothing else in the submitter changes.
type ledgerDispatcher struct {
	ledger *ledgertest.Ledger
	tp     *tp.Processor
}

func newLedgerDispatcher(ledger *ledgertest.Ledger, proc *tp.Processor) *ledgerDispatcher {
	return &ledgerDispatcher{ledger: ledger, tp: proc}
}

func (d *ledgerDispatcher) Dispatch(ctx context.Context, payload []byte) (string, error) {
	txID, _, err := d.ledger.Apply(ctx, func(ctx context.Context, sc state.Context, txID string, offset uint64) error {
		_, applyErr := d.tp.Apply(ctx, sc, txID, offset, payload)
		return applyErr
	})
	if err != nil {
		return "", err
	}
	return txID, nil
}
