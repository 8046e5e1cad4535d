package submitter

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronicle-ledger/chronicle/internal/eventstream"
	"github.com/chronicle-ledger/chronicle/internal/identity"
	"github.com/chronicle-ledger/chronicle/internal/ledgertest"
	"github.com/chronicle-ledger/chronicle/internal/policy"
	"github.com/chronicle-ledger/chronicle/internal/prov"
	"github.com/chronicle-ledger/chronicle/internal/signer"
	"github.com/chronicle-ledger/chronicle/internal/state"
	"github.com/chronicle-ledger/chronicle/internal/tp"

	cherrors "github.com/chronicle-ledger/chronicle/internal/errors"
)

type ledgerDispatcher struct {
	ledger *ledgertest.Ledger
	proc   *tp.Processor
}

func (d *ledgerDispatcher) Dispatch(ctx context.Context, payload []byte) (string, error) {
	txID, _, err := d.ledger.Apply(ctx, func(ctx context.Context, sc state.Context, txID string, offset uint64) error {
		_, applyErr := d.proc.Apply(ctx, sc, txID, offset, payload)
		return applyErr
	})
	return txID, err
}

type failDispatcher struct {
	err   error
	calls int
}

func (d *failDispatcher) Dispatch(ctx context.Context, payload []byte) (string, error) {
	d.calls++
	return "", d.err
}

func testNamespace() identity.NamespaceID {
	return identity.NamespaceID{Name: "testns", UUID: uuid.MustParse("00000000-0000-0000-0000-000000000001")}
}

func TestSubmitResolvesOnCommit(t *testing.T) {
	ledger := ledgertest.New()
	proc := tp.New(policy.New())
	dispatcher := &ledgerDispatcher{ledger: ledger, proc: proc}

	stream := eventstream.New(ledger, 0, time.Millisecond, nil)
	sgnr, err := signer.NewSecp256k1()
	require.NoError(t, err)
	sub := New(sgnr, dispatcher, stream, nil)
	defer sub.Close()

	ns := testNamespace()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	stream.Start(context.Background())

	outcome, err := sub.Submit(ctx, ns, []prov.Operation{prov.CreateNamespace{Namespace: ns}})
	require.NoError(t, err)
	assert.True(t, outcome.Committed)
	assert.NotEmpty(t, outcome.TxID)
}

func TestSubmitSurfacesUnrecognizedTransportFailureAsBusyAfterRetrying(t *testing.T) {
	dispatcher := &failDispatcher{err: assert.AnError}
	stream := eventstream.New(&ledgertest.Ledger{}, 0, time.Millisecond, nil)
	sgnr, err := signer.NewSecp256k1()
	require.NoError(t, err)
	sub := New(sgnr, dispatcher, stream, nil)
	defer sub.Close()

	ns := testNamespace()
	_, err = sub.Submit(context.Background(), ns, []prov.Operation{prov.CreateNamespace{Namespace: ns}})
	require.Error(t, err)
	assert.True(t, cherrors.Is(err, cherrors.CodeBusy))
	// A non-ChronicleError (no code to judge retryability from) is treated
	// as a transport fault and retried out to the submitter's MaxAttempts
	// before being flattened to Busy.
	assert.Greater(t, dispatcher.calls, 1)
}

func TestSubmitPropagatesDeterministicTPRejectionWithoutRetrying(t *testing.T) {
	ledger := ledgertest.New()
	proc := tp.New(policy.New())
	dispatcher := &ledgerDispatcher{ledger: ledger, proc: proc}

	stream := eventstream.New(ledger, 0, time.Millisecond, nil)
	sgnr, err := signer.NewSecp256k1()
	require.NoError(t, err)
	sub := New(sgnr, dispatcher, stream, nil)
	defer sub.Close()
	stream.Start(context.Background())

	ns := testNamespace()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err = sub.Submit(ctx, ns, []prov.Operation{
		prov.CreateNamespace{Namespace: ns},
		prov.ActivityExists{Namespace: ns, ExternalID: "build"},
	})
	require.NoError(t, err)

	actIRI := identity.ActivityID{Namespace: ns, ExternalID: "build"}.IRI()
	started := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	ended := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err = sub.Submit(context.Background(), ns, []prov.Operation{
		prov.StartActivity{Namespace: ns, Activity: actIRI, Time: prov.NewTimestamp(started)},
		prov.EndActivity{Namespace: ns, Activity: actIRI, Time: prov.NewTimestamp(ended)},
	})
	require.Error(t, err)

	ce, ok := cherrors.As(err)
	require.True(t, ok, "expected a *ChronicleError, got %T: %v", err, err)
	assert.Equal(t, cherrors.CodeTimeOrdering, ce.Code)

	// The rejected transaction never committed: offset only reflects the
	// earlier, successful CreateNamespace+ActivityExists submission.
	assert.Equal(t, uint64(1), ledger.Offset())
}

func TestSubmitAbandonsWaiterOnCancellationAfterDispatch(t *testing.T) {
	ledger := ledgertest.New()
	proc := tp.New(policy.New())
	dispatcher := &ledgerDispatcher{ledger: ledger, proc: proc}

	// Stream is never started, so the commit event is never delivered back
	// to the waiter: this isolates cancellation-after-dispatch from commit.
	stream := eventstream.New(ledger, 0, time.Hour, nil)
	sgnr, err := signer.NewSecp256k1()
	require.NoError(t, err)
	sub := New(sgnr, dispatcher, stream, nil)
	defer sub.Close()

	ns := testNamespace()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		// Give Submit time to clear the rate limiter and dispatch before the
		// waiter is abandoned, isolating cancellation-after-dispatch from
		// cancellation-before-dispatch.
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err = sub.Submit(ctx, ns, []prov.Operation{prov.CreateNamespace{Namespace: ns}})
	require.Error(t, err)
	assert.Equal(t, context.Canceled, err)

	assert.Equal(t, uint64(1), ledger.Offset())
}
