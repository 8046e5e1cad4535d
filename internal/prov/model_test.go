package prov

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronicle-ledger/chronicle/internal/identity"

	cherrors "github.com/chronicle-ledger/chronicle/internal/errors"
)

func testNamespace(t *testing.T) identity.NamespaceID {
	t.Helper()
	return identity.NamespaceID{Name: "testns", UUID: uuid.MustParse("00000000-0000-0000-0000-000000000001")}
}

func TestApplyCreateNamespaceIdempotent(t *testing.T) {
	m := New()
	ns := testNamespace(t)
	require.NoError(t, m.Apply(CreateNamespace{Namespace: ns}))
	require.NoError(t, m.Apply(CreateNamespace{Namespace: ns}))
	assert.Len(t, m.Namespaces, 1)
}

func TestApplyAgentExistsFirstDeclarationWins(t *testing.T) {
	m := New()
	ns := testNamespace(t)
	require.NoError(t, m.Apply(CreateNamespace{Namespace: ns}))

	first := identity.DomainTypeID{Namespace: ns, TypeName: "Person"}
	second := identity.DomainTypeID{Namespace: ns, TypeName: "Robot"}

	require.NoError(t, m.Apply(AgentExists{Namespace: ns, ExternalID: "alice", DomainType: &first}))
	require.NoError(t, m.Apply(AgentExists{Namespace: ns, ExternalID: "alice", DomainType: &second}))

	id := identity.AgentID{Namespace: ns, ExternalID: "alice"}
	rec := m.Agents[id.IRI()]
	require.NotNil(t, rec)
	assert.Equal(t, "Person", rec.DomainType.TypeName)
}

func TestRequireNamespaceMissing(t *testing.T) {
	m := New()
	ns := testNamespace(t)
	err := m.Apply(AgentExists{Namespace: ns, ExternalID: "alice"})
	require.Error(t, err)
	assert.True(t, cherrors.Is(err, cherrors.CodeNamespaceMissing))
}

func TestTimeOrderingViolationAbortsBatch(t *testing.T) {
	m := New()
	ns := testNamespace(t)
	require.NoError(t, m.Apply(CreateNamespace{Namespace: ns}))
	actID := identity.ActivityID{Namespace: ns, ExternalID: "build"}
	require.NoError(t, m.Apply(ActivityExists{Namespace: ns, ExternalID: "build"}))

	start := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	ops := []Operation{
		EndActivity{Namespace: ns, Activity: actID.IRI(), Time: NewTimestamp(end)},
		StartActivity{Namespace: ns, Activity: actID.IRI(), Time: NewTimestamp(start)},
	}
	err := m.ApplyAll(ops)
	require.Error(t, err)
	assert.True(t, cherrors.Is(err, cherrors.CodeTimeOrdering))
}

func TestRelationsCoalesceAsSet(t *testing.T) {
	m := New()
	ns := testNamespace(t)
	require.NoError(t, m.Apply(CreateNamespace{Namespace: ns}))
	require.NoError(t, m.Apply(AgentExists{Namespace: ns, ExternalID: "alice"}))
	require.NoError(t, m.Apply(ActivityExists{Namespace: ns, ExternalID: "build"}))

	agentIRI := identity.AgentID{Namespace: ns, ExternalID: "alice"}.IRI()
	actIRI := identity.ActivityID{Namespace: ns, ExternalID: "build"}.IRI()

	require.NoError(t, m.Apply(WasAssociatedWith{Namespace: ns, Agent: agentIRI, Activity: actIRI, Role: "author"}))
	require.NoError(t, m.Apply(WasAssociatedWith{Namespace: ns, Agent: agentIRI, Activity: actIRI, Role: "author"}))
	assert.Len(t, m.Associations, 1)
}

func TestSetAttributesLastWriteWinsPerTypename(t *testing.T) {
	m := New()
	ns := testNamespace(t)
	require.NoError(t, m.Apply(CreateNamespace{Namespace: ns}))
	require.NoError(t, m.Apply(EntityExists{Namespace: ns, ExternalID: "doc1"}))

	require.NoError(t, m.Apply(SetAttributes{
		Namespace: ns, TargetKind: identity.KindEntity, ExternalID: "doc1",
		Attributes: map[string]json.RawMessage{"title": json.RawMessage(`"v1"`), "size": json.RawMessage(`10`)},
	}))
	require.NoError(t, m.Apply(SetAttributes{
		Namespace: ns, TargetKind: identity.KindEntity, ExternalID: "doc1",
		Attributes: map[string]json.RawMessage{"title": json.RawMessage(`"v2"`)},
	}))

	id := identity.EntityID{Namespace: ns, ExternalID: "doc1"}
	rec := m.Entities[id.IRI()]
	require.NotNil(t, rec)
	assert.JSONEq(t, `"v2"`, string(rec.Attributes["title"]))
	assert.JSONEq(t, `10`, string(rec.Attributes["size"]))
}

func TestAttachmentRequiresKnownSigner(t *testing.T) {
	m := New()
	ns := testNamespace(t)
	require.NoError(t, m.Apply(CreateNamespace{Namespace: ns}))
	require.NoError(t, m.Apply(EntityExists{Namespace: ns, ExternalID: "doc1"}))

	unknownSigner := identity.IdentityID{Namespace: ns, PublicKey: "deadbeef"}.IRI()
	entID := identity.EntityID{Namespace: ns, ExternalID: "doc1"}.IRI()

	err := m.Apply(WasAssociatedWithAttachment{
		Namespace: ns, Entity: entID, Signer: unknownSigner,
		Signature: "sig1", SignatureTime: NewTimestamp(time.Now()), Locator: "s3://bucket/key",
	})
	require.Error(t, err)
	assert.True(t, cherrors.Is(err, cherrors.CodeAttachmentSignerMiss))
}

func TestAttachmentSucceedsForRegisteredSigner(t *testing.T) {
	m := New()
	ns := testNamespace(t)
	require.NoError(t, m.Apply(CreateNamespace{Namespace: ns}))
	require.NoError(t, m.Apply(AgentExists{Namespace: ns, ExternalID: "alice"}))
	require.NoError(t, m.Apply(EntityExists{Namespace: ns, ExternalID: "doc1"}))

	agentID := identity.AgentID{Namespace: ns, ExternalID: "alice"}.IRI()
	require.NoError(t, m.Apply(RegisterKey{Namespace: ns, Agent: agentID, PublicKey: "abcd1234"}))

	signerIRI := identity.IdentityID{Namespace: ns, PublicKey: "abcd1234"}.IRI()
	entID := identity.EntityID{Namespace: ns, ExternalID: "doc1"}.IRI()

	require.NoError(t, m.Apply(WasAssociatedWithAttachment{
		Namespace: ns, Entity: entID, Signer: signerIRI,
		Signature: "sig1", SignatureTime: NewTimestamp(time.Now()), Locator: "s3://bucket/key",
	}))

	attID := identity.AttachmentID{Namespace: ns, Signature: "sig1"}.IRI()
	rec := m.Attachments[attID]
	require.NotNil(t, rec)
	assert.Equal(t, signerIRI, rec.Signer.IRI())
}

func TestCloneIsIndependent(t *testing.T) {
	m := New()
	ns := testNamespace(t)
	require.NoError(t, m.Apply(CreateNamespace{Namespace: ns}))
	require.NoError(t, m.Apply(AgentExists{Namespace: ns, ExternalID: "alice"}))

	clone := m.Clone()
	require.NoError(t, clone.Apply(AgentExists{Namespace: ns, ExternalID: "bob"}))

	assert.Len(t, m.Agents, 1)
	assert.Len(t, clone.Agents, 2)
}
