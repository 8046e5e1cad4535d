package identity

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testNamespace() NamespaceID {
	return NamespaceID{Name: "acme", UUID: uuid.MustParse("00000000-0000-0000-0000-000000000001")}
}

func TestNamespaceIRIRoundTrip(t *testing.T) {
	ns := testNamespace()
	parsed, err := ParseIRI(ns.IRI())
	require.NoError(t, err)
	assert.Equal(t, ns, parsed)
}

func TestAgentActivityEntityIRIRoundTrip(t *testing.T) {
	ns := testNamespace()
	for _, id := range []ID{
		AgentID{Namespace: ns, ExternalID: "alice"},
		ActivityID{Namespace: ns, ExternalID: "build-42"},
		EntityID{Namespace: ns, ExternalID: "report.pdf"},
	} {
		parsed, err := ParseIRI(id.IRI())
		require.NoError(t, err)
		assert.Equal(t, id, parsed)
	}
}

func TestExternalIDContainingColonRoundTrips(t *testing.T) {
	ns := testNamespace()
	id := AgentID{Namespace: ns, ExternalID: "urn:example:alice"}

	parsed, err := ParseIRI(id.IRI())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}

func TestExternalIDContainingSlashAndSpaceRoundTrips(t *testing.T) {
	ns := testNamespace()
	id := EntityID{Namespace: ns, ExternalID: "path/to file.txt"}

	parsed, err := ParseIRI(id.IRI())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}

func TestIdentityAndAttachmentIRIRoundTrip(t *testing.T) {
	ns := testNamespace()
	idn := IdentityID{Namespace: ns, PublicKey: "AABBCC"}
	parsedIdn, err := ParseIRI(idn.IRI())
	require.NoError(t, err)
	assert.Equal(t, IdentityID{Namespace: ns, PublicKey: "aabbcc"}, parsedIdn)

	att := AttachmentID{Namespace: ns, Signature: "deadbeef"}
	parsedAtt, err := ParseIRI(att.IRI())
	require.NoError(t, err)
	assert.Equal(t, att, parsedAtt)
}

func TestDomainTypeIRIRoundTrip(t *testing.T) {
	ns := testNamespace()
	dt := DomainTypeID{Namespace: ns, TypeName: "Invoice"}

	parsed, err := ParseIRI(dt.IRI())
	require.NoError(t, err)
	assert.Equal(t, dt, parsed)
}

func TestParseIRIRejectsMissingPrefix(t *testing.T) {
	_, err := ParseIRI("notchronicle:agent:acme:uuid:alice")
	assert.Error(t, err)
}

func TestParseIRIRejectsUnknownKind(t *testing.T) {
	ns := testNamespace()
	_, err := ParseIRI("chronicle:bogus:" + ns.Name + ":" + ns.UUID.String())
	assert.Error(t, err)
}

func TestParseIRIRejectsWrongComponentCount(t *testing.T) {
	_, err := ParseIRI("chronicle:agent:acme")
	assert.Error(t, err)
}

func TestParseIRIRejectsBadNamespaceUUID(t *testing.T) {
	_, err := ParseIRI("chronicle:ns:acme:not-a-uuid")
	assert.Error(t, err)
}

func TestEqualComparesCanonicalIRIs(t *testing.T) {
	ns := testNamespace()
	a := AgentID{Namespace: ns, ExternalID: "alice"}
	b := AgentID{Namespace: ns, ExternalID: "alice"}
	c := AgentID{Namespace: ns, ExternalID: "bob"}

	assert.True(t, Equal(a, b))
	assert.False(t, Equal(a, c))
	assert.True(t, Equal(nil, nil))
	assert.False(t, Equal(a, nil))
}
