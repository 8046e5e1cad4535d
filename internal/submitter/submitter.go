// Package submitter implements the client-side submitter / event stream
// client (spec.md §4.8): batches operations into one signed transaction,
// dispatches it, and correlates the eventual commit (or rejection) back to
// the caller. Grounded on the teacher's resilience wrapper
// (infrastructure/resilience/resilience.go, adapted as internal/resilience)
// for the retry/backoff and circuit-breaking around transport faults.
package submitter

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chronicle-ledger/chronicle/internal/eventstream"
	"github.com/chronicle-ledger/chronicle/internal/identity"
	"github.com/chronicle-ledger/chronicle/internal/logging"
	"github.com/chronicle-ledger/chronicle/internal/metrics"
	"github.com/chronicle-ledger/chronicle/internal/prov"
	"github.com/chronicle-ledger/chronicle/internal/ratelimit"
	"github.com/chronicle-ledger/chronicle/internal/resilience"
	"github.com/chronicle-ledger/chronicle/internal/signer"
	"github.com/chronicle-ledger/chronicle/internal/wire"

	cherrors "github.com/chronicle-ledger/chronicle/internal/errors"
)

// SubmitState names the states of the per-submission coroutine described in
// spec.md §9 ("Coroutine control flow"): {Idle, AwaitingSign,
// Dispatched(txId), AwaitingCommit, Finalizing, Done(outcome)}.
type SubmitState int

const (
	StateIdle SubmitState = iota
	StateAwaitingSign
	StateDispatched
	StateAwaitingCommit
	StateFinalizing
	StateDone
)

func (s SubmitState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateAwaitingSign:
		return "AwaitingSign"
	case StateDispatched:
		return "Dispatched"
	case StateAwaitingCommit:
		return "AwaitingCommit"
	case StateFinalizing:
		return "Finalizing"
	case StateDone:
		return "Done"
	default:
		return "Unknown"
	}
}

// Outcome is what a submission eventually resolves to.
type Outcome struct {
	Committed   bool
	TxID        string
	Offset      uint64
	JSONLDDelta []byte
	Err         error
}

// Dispatcher is the ≤3-operation capability the submitter uses to hand a
// signed transaction to the ledger (spec.md §9 "Dynamic dispatch"). A real
// deployment implements this over the validator's submission RPC; tests use
// an adapter over ledgertest.Ledger plus a provenance TP.
type Dispatcher interface {
	Dispatch(ctx context.Context, payload []byte) (txID string, err error)
}

type pending struct {
	correlationID string
	state         SubmitState
	resultCh      chan Outcome
	dispatchedAt  time.Time
}

// Submitter batches, signs, dispatches, and correlates provenance
// submissions (spec.md §4.8's public contract).
type Submitter struct {
	signer     signer.Signer
	dispatcher Dispatcher
	stream     *eventstream.Stream
	retryCfg   resilience.RetryConfig
	breaker    *resilience.CircuitBreaker
	limiter    *ratelimit.RateLimiter
	logger     *logging.Logger
	metrics    *metrics.Metrics

	mu            sync.Mutex
	byCorrelation map[string]*pending
	byTxID        map[string]string // txId -> correlationId, known once dispatched
}

// New returns a Submitter that signs with sgnr, dispatches through d, and
// correlates commits observed on stream, with metrics collection disabled.
func New(sgnr signer.Signer, d Dispatcher, stream *eventstream.Stream, logger *logging.Logger) *Submitter {
	return NewWithMetrics(sgnr, d, stream, logger, nil)
}

// NewWithMetrics returns a Submitter that also records
// chronicle_commit_latency_seconds against m for every resolved commit.
func NewWithMetrics(sgnr signer.Signer, d Dispatcher, stream *eventstream.Stream, logger *logging.Logger, m *metrics.Metrics) *Submitter {
	if logger == nil {
		logger = logging.NewFromEnv("submitter")
	}
	s := &Submitter{
		signer:        sgnr,
		dispatcher:    d,
		stream:        stream,
		retryCfg:      resilience.DefaultRetryConfig(),
		breaker:       resilience.New(resilience.TransportBreakerConfig(logger)),
		limiter:       ratelimit.New(ratelimit.FromEnv()),
		logger:        logger,
		metrics:       m,
		byCorrelation: make(map[string]*pending),
		byTxID:        make(map[string]string),
	}
	stream.On(s.handleCommitEvent)
	return s
}

// Submit batches ops into one transaction scoped to namespace, signs it,
// and blocks until the transaction commits, is rejected, or ctx is
// cancelled. Multiple concurrent Submit calls are independent transactions
// (spec.md §4.8 "Batching").
func (s *Submitter) Submit(ctx context.Context, namespace identity.NamespaceID, ops []prov.Operation) (Outcome, error) {
	correlationID := uuid.NewString()
	p := &pending{correlationID: correlationID, state: StateIdle, resultCh: make(chan Outcome, 1)}

	s.mu.Lock()
	s.byCorrelation[correlationID] = p
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.byCorrelation, correlationID)
		s.mu.Unlock()
	}()

	p.state = StateAwaitingSign
	submission := wire.Submission{CorrelationID: correlationID, Namespace: namespace, Operations: ops}
	canonical, err := (wire.SignedOperations{Payload: submission}).CanonicalPayloadBytes()
	if err != nil {
		return Outcome{}, err
	}
	sig, verifyingKey, err := s.signer.Sign(canonical)
	if err != nil {
		return Outcome{}, err
	}
	payload := wire.SignedOperations{
		IdentityVerifyingKey: verifyingKey,
		SignerBackend:        s.signer.Backend(),
		Signature:            sig,
		Payload:              submission,
	}
	payloadBytes, err := wire.Marshal(payload)
	if err != nil {
		return Outcome{}, err
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return Outcome{}, err
	}

	var txID string
	dispatchErr := resilience.Retry(ctx, s.retryCfg, func() error {
		return s.breaker.Execute(ctx, func() error {
			id, err := s.dispatcher.Dispatch(ctx, payloadBytes)
			if err != nil {
				// A deterministic TP rejection (bad signature, policy
				// denial, invariant violation, ...) can never succeed on
				// retry: surface it immediately instead of burning through
				// MaxAttempts (spec.md §7's S-tagged error kinds).
				if ce, ok := cherrors.As(err); ok && !ce.Code.Retryable() {
					return resilience.Permanent(err)
				}
				return err
			}
			txID = id
			return nil
		})
	})
	if dispatchErr != nil {
		// Signature is already bound to this payload; per spec.md §4.8 we
		// don't silently re-sign and resubmit a second transaction. A
		// deterministic TP rejection propagates as itself; anything else
		// (retries exhausted, breaker open, unrecognized transport fault)
		// surfaces as Busy.
		if ce, ok := cherrors.As(dispatchErr); ok {
			return Outcome{}, ce
		}
		return Outcome{}, cherrors.Busy("ledger transaction dispatch")
	}

	p.state = StateDispatched
	p.dispatchedAt = time.Now()
	s.mu.Lock()
	s.byTxID[txID] = correlationID
	p.state = StateAwaitingCommit
	s.mu.Unlock()

	select {
	case outcome := <-p.resultCh:
		p.state = StateDone
		return outcome, outcome.Err
	case <-ctx.Done():
		// Cancellation after dispatch does not prevent ledger commit; it
		// only abandons this local waiter (spec.md §5 "Cancellation").
		return Outcome{}, ctx.Err()
	}
}

// handleCommitEvent is registered on the event stream and resolves the
// waiter for whichever correlation id the commit's transaction belongs to.
func (s *Submitter) handleCommitEvent(ctx context.Context, event eventstream.CommitEvent) error {
	s.mu.Lock()
	correlationID, ok := s.byTxID[event.TxID]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	p, ok := s.byCorrelation[correlationID]
	delete(s.byTxID, event.TxID)
	s.mu.Unlock()
	if !ok {
		return nil
	}

	p.state = StateFinalizing
	s.logger.LogCommit(ctx, event.TxID, event.Offset)
	if s.metrics != nil && !p.dispatchedAt.IsZero() {
		s.metrics.RecordCommit(time.Since(p.dispatchedAt))
	}

	var delta []byte
	var ce wire.CommitEvent
	if err := json.Unmarshal(event.Payload, &ce); err == nil {
		delta = ce.JSONLDDelta
	}

	select {
	case p.resultCh <- Outcome{Committed: true, TxID: event.TxID, Offset: event.Offset, JSONLDDelta: delta}:
	default:
	}
	return nil
}

// Close stops the underlying event stream subscription this submitter owns.
func (s *Submitter) Close() {
	s.stream.Stop()
}
