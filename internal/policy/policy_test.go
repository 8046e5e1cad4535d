package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateAllowsBooleanTrue(t *testing.T) {
	e := New()
	bundle := Bundle{Source: []byte(`function allow(input) { return true; }`), Entrypoint: "allow"}

	allow, _, err := e.Evaluate(bundle, DecisionInput{Type: IdentityChronicle, OperationKind: "AgentExists"})
	require.NoError(t, err)
	assert.True(t, allow)
}

func TestEvaluateDeniesBooleanFalse(t *testing.T) {
	e := New()
	bundle := Bundle{Source: []byte(`function allow(input) { return false; }`), Entrypoint: "allow"}

	allow, _, err := e.Evaluate(bundle, DecisionInput{Type: IdentityAnonymous})
	require.NoError(t, err)
	assert.False(t, allow)
}

func TestEvaluateReadsIdentityType(t *testing.T) {
	e := New()
	bundle := Bundle{
		Source:     []byte(`function allow(input) { return input.type === "chronicle"; }`),
		Entrypoint: "allow",
	}

	allow, _, err := e.Evaluate(bundle, DecisionInput{Type: IdentityAnonymous})
	require.NoError(t, err)
	assert.False(t, allow)

	allow, _, err = e.Evaluate(bundle, DecisionInput{Type: IdentityChronicle})
	require.NoError(t, err)
	assert.True(t, allow)
}

func TestEvaluateSupportsObjectResultWithReason(t *testing.T) {
	e := New()
	bundle := Bundle{
		Source:     []byte(`function allow(input) { return {allow: false, reason: "no delegation"}; }`),
		Entrypoint: "allow",
	}

	allow, reason, err := e.Evaluate(bundle, DecisionInput{})
	require.NoError(t, err)
	assert.False(t, allow)
	assert.Equal(t, "no delegation", reason)
}

func TestEvaluateThrowingBundleDeniesWithoutError(t *testing.T) {
	e := New()
	bundle := Bundle{Source: []byte(`function allow(input) { throw new Error("boom"); }`), Entrypoint: "allow"}

	allow, _, err := e.Evaluate(bundle, DecisionInput{})
	require.NoError(t, err)
	assert.False(t, allow)
}

func TestCompileIsCachedByHashAndEntrypoint(t *testing.T) {
	e := New()
	bundle := Bundle{Source: []byte(`function allow(input) { return true; }`), Entrypoint: "allow"}

	ev1, err := e.compile(bundle)
	require.NoError(t, err)
	ev2, err := e.compile(bundle)
	require.NoError(t, err)

	assert.Same(t, ev1, ev2)
}

func TestInvalidateDropsCachedEvaluator(t *testing.T) {
	e := New()
	bundle := Bundle{Source: []byte(`function allow(input) { return true; }`), Entrypoint: "allow"}

	ev1, err := e.compile(bundle)
	require.NoError(t, err)

	e.Invalidate(bundle.Hash())

	ev2, err := e.compile(bundle)
	require.NoError(t, err)
	assert.NotSame(t, ev1, ev2)
}

func TestUnparseableBundleErrors(t *testing.T) {
	e := New()
	bundle := Bundle{Source: []byte(`this is not valid javascript {{{`), Entrypoint: "allow"}

	_, _, err := e.Evaluate(bundle, DecisionInput{})
	assert.Error(t, err)
}

func TestMissingEntrypointErrors(t *testing.T) {
	e := New()
	bundle := Bundle{Source: []byte(`var x = 1;`), Entrypoint: "allow"}

	_, _, err := e.Evaluate(bundle, DecisionInput{})
	assert.Error(t, err)
}
