package prov

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronicle-ledger/chronicle/internal/identity"
)

func buildSampleModel(t *testing.T) *ProvModel {
	t.Helper()
	ns := identity.NamespaceID{Name: "testns", UUID: uuid.MustParse("00000000-0000-0000-0000-000000000001")}
	m := New()
	require.NoError(t, m.Apply(CreateNamespace{Namespace: ns}))
	require.NoError(t, m.Apply(AgentExists{Namespace: ns, ExternalID: "alice"}))
	require.NoError(t, m.Apply(ActivityExists{Namespace: ns, ExternalID: "build"}))
	require.NoError(t, m.Apply(EntityExists{Namespace: ns, ExternalID: "doc1"}))

	agentIRI := identity.AgentID{Namespace: ns, ExternalID: "alice"}.IRI()
	actIRI := identity.ActivityID{Namespace: ns, ExternalID: "build"}.IRI()
	entIRI := identity.EntityID{Namespace: ns, ExternalID: "doc1"}.IRI()

	require.NoError(t, m.Apply(WasAssociatedWith{Namespace: ns, Agent: agentIRI, Activity: actIRI, Role: "author"}))
	require.NoError(t, m.Apply(Used{Namespace: ns, Activity: actIRI, Entity: entIRI}))
	require.NoError(t, m.Apply(WasGeneratedBy{Namespace: ns, Entity: entIRI, Activity: actIRI}))
	require.NoError(t, m.Apply(StartActivity{Namespace: ns, Activity: actIRI, Time: NewTimestamp(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))}))

	return m
}

func TestJSONLDRoundTripPreservesValue(t *testing.T) {
	m := buildSampleModel(t)

	doc, err := m.ToJSONLD()
	require.NoError(t, err)

	restored, err := FromJSONLD(doc)
	require.NoError(t, err)

	redoc, err := restored.ToJSONLD()
	require.NoError(t, err)

	assert.JSONEq(t, string(doc), string(redoc))
}

func TestJSONLDIsByteDeterministicAcrossEncodes(t *testing.T) {
	m := buildSampleModel(t)

	first, err := m.ToJSONLD()
	require.NoError(t, err)
	second, err := m.ToJSONLD()
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
}
