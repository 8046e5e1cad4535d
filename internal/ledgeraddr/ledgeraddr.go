// Package ledgeraddr computes the deterministic, domain-separated state
// addresses the provenance and policy transaction families write under
// (spec.md §4.5, §4.6). An address is 70 hex characters: a 6-character
// family prefix identifying the transaction family (provenance or policy), followed
// by a 64-character SHA-256 digest of the address's canonical components.
// Grounded on the certen-validator canonical-hash pattern (SHA-256 over
// concatenated canonicalized components, hex-encoded) adapted to Sawtooth's
// fixed-width prefix+hash addressing scheme.
package ledgeraddr

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	// ProvenanceFamilyName is the transaction family name for the provenance TP.
	ProvenanceFamilyName = "chronicle-prov"
	// PolicyFamilyName is the transaction family name for the OPA-style policy TP.
	PolicyFamilyName = "chronicle-policy"

	addressLen = 70
	prefixLen  = 6
	hashLen    = 64
)

// FamilyPrefix returns the 6-character hex prefix for a family name, the
// first 6 hex characters of SHA-256(familyName) (Sawtooth convention).
func FamilyPrefix(familyName string) string {
	h := sha256.Sum256([]byte(familyName))
	return hex.EncodeToString(h[:])[:prefixLen]
}

// Address computes a full 70-character address for familyName, addressing
// an object identified by the given components, joined with a unit
// separator so components never collide across a boundary (e.g.
// components ["a", "bc"] and ["ab", "c"] hash differently).
func Address(familyName string, components ...string) string {
	prefix := FamilyPrefix(familyName)
	h := sha256.Sum256([]byte(strings.Join(components, "\x1f")))
	digest := hex.EncodeToString(h[:])
	return (prefix + digest)[:addressLen]
}

// ProvenanceAddress addresses a provenance object by its canonical IRI.
func ProvenanceAddress(iri string) string {
	return Address(ProvenanceFamilyName, iri)
}

// PolicyRootAddress addresses the policy family's root-key object, which is
// a singleton per namespace.
func PolicyRootAddress(namespaceIRI string) string {
	return Address(PolicyFamilyName, namespaceIRI, "root")
}

// PolicyBundleAddress addresses a named policy bundle within a namespace.
func PolicyBundleAddress(namespaceIRI, bundleName string) string {
	return Address(PolicyFamilyName, namespaceIRI, "bundle", bundleName)
}

// IsValid reports whether addr has the expected shape for familyName: 70
// lowercase hex characters beginning with familyName's prefix.
func IsValid(addr, familyName string) bool {
	if len(addr) != addressLen {
		return false
	}
	if !strings.HasPrefix(addr, FamilyPrefix(familyName)) {
		return false
	}
	for _, r := range addr {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f')) {
			return false
		}
	}
	return true
}
