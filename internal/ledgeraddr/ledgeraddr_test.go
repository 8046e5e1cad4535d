package ledgeraddr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddressShape(t *testing.T) {
	addr := ProvenanceAddress("chronicle:ns:testns:00000000-0000-0000-0000-000000000001")
	assert.Len(t, addr, 70)
	assert.True(t, IsValid(addr, ProvenanceFamilyName))
	assert.False(t, IsValid(addr, PolicyFamilyName))
}

func TestAddressIsDeterministic(t *testing.T) {
	iri := "chronicle:ns:testns:00000000-0000-0000-0000-000000000001"
	assert.Equal(t, ProvenanceAddress(iri), ProvenanceAddress(iri))
}

func TestAddressDistinguishesComponentBoundaries(t *testing.T) {
	a := Address(ProvenanceFamilyName, "a", "bc")
	b := Address(ProvenanceFamilyName, "ab", "c")
	assert.NotEqual(t, a, b)
}

func TestPolicyAddressesAreDistinctPerBundleName(t *testing.T) {
	ns := "chronicle:ns:testns:00000000-0000-0000-0000-000000000001"
	root := PolicyRootAddress(ns)
	bundle := PolicyBundleAddress(ns, "active")
	assert.NotEqual(t, root, bundle)
	assert.True(t, IsValid(root, PolicyFamilyName))
	assert.True(t, IsValid(bundle, PolicyFamilyName))
}

func TestFamilyPrefixDiffersAcrossFamilies(t *testing.T) {
	assert.NotEqual(t, FamilyPrefix(ProvenanceFamilyName), FamilyPrefix(PolicyFamilyName))
}
