package wire

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronicle-ledger/chronicle/internal/identity"
	"github.com/chronicle-ledger/chronicle/internal/prov"
)

func testNamespace() identity.NamespaceID {
	return identity.NamespaceID{Name: "testns", UUID: uuid.MustParse("00000000-0000-0000-0000-000000000001")}
}

func TestSubmissionRoundTrip(t *testing.T) {
	ns := testNamespace()
	sub := Submission{
		CorrelationID: "corr-1",
		Namespace:     ns,
		Operations: []prov.Operation{
			prov.CreateNamespace{Namespace: ns},
			prov.AgentExists{Namespace: ns, ExternalID: "alice"},
		},
	}

	raw, err := sub.MarshalJSON()
	require.NoError(t, err)

	var restored Submission
	require.NoError(t, restored.UnmarshalJSON(raw))

	assert.Equal(t, sub.CorrelationID, restored.CorrelationID)
	assert.Equal(t, sub.Namespace, restored.Namespace)
	require.Len(t, restored.Operations, 2)
	assert.IsType(t, prov.CreateNamespace{}, restored.Operations[0])
	assert.IsType(t, prov.AgentExists{}, restored.Operations[1])
}

func TestSignedOperationsMarshalUnmarshal(t *testing.T) {
	ns := testNamespace()
	so := SignedOperations{
		IdentityVerifyingKey: []byte{0x01, 0x02, 0x03},
		SignerBackend:        "secp256k1",
		Signature:            []byte{0xaa, 0xbb},
		Payload: Submission{
			CorrelationID: "corr-2",
			Namespace:     ns,
			Operations:    []prov.Operation{prov.CreateNamespace{Namespace: ns}},
		},
	}

	raw, err := Marshal(so)
	require.NoError(t, err)

	restored, err := Unmarshal(raw)
	require.NoError(t, err)

	assert.Equal(t, so.SignerBackend, restored.SignerBackend)
	assert.Equal(t, so.Signature, restored.Signature)
	assert.Equal(t, so.Payload.CorrelationID, restored.Payload.CorrelationID)
	require.Len(t, restored.Payload.Operations, 1)
}

func TestCanonicalPayloadBytesMatchesPayloadMarshal(t *testing.T) {
	ns := testNamespace()
	so := SignedOperations{
		Payload: Submission{
			CorrelationID: "corr-3",
			Namespace:     ns,
			Operations:    []prov.Operation{prov.CreateNamespace{Namespace: ns}},
		},
	}

	canonical, err := so.CanonicalPayloadBytes()
	require.NoError(t, err)

	direct, err := so.Payload.MarshalJSON()
	require.NoError(t, err)

	assert.JSONEq(t, string(direct), string(canonical))
}

func TestCommitEventRoundTrip(t *testing.T) {
	ns := testNamespace()
	ce := CommitEvent{
		FamilyPrefix: "abcdef",
		TxID:         "tx-1",
		Offset:       42,
		JSONLDDelta:  []byte(`{"@graph":[]}`),
		Operations:   []prov.Operation{prov.AgentExists{Namespace: ns, ExternalID: "alice"}},
	}

	raw, err := ce.MarshalJSON()
	require.NoError(t, err)

	var restored CommitEvent
	require.NoError(t, restored.UnmarshalJSON(raw))

	assert.Equal(t, ce.FamilyPrefix, restored.FamilyPrefix)
	assert.Equal(t, ce.TxID, restored.TxID)
	assert.Equal(t, ce.Offset, restored.Offset)
	assert.Equal(t, ce.JSONLDDelta, restored.JSONLDDelta)
	require.Len(t, restored.Operations, 1)
	assert.IsType(t, prov.AgentExists{}, restored.Operations[0])
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	_, err := Unmarshal([]byte("not json"))
	assert.Error(t, err)
}
