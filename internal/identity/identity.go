// Package identity implements Chronicle's typed, URI-form identifiers
// (spec.md §4.1). Every identifier serializes to a stable, invertible IRI of
// the form "chronicle:<kind>:<url-encoded components>"; two identifiers
// compare equal iff their canonical IRIs compare equal. Because every
// concrete ID type here is built from comparable fields (strings and
// [16]byte UUIDs), Go's native == already gives content equality — no
// pointer identity is ever relied upon (design note in spec.md §9).
package identity

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"

	cherrors "github.com/chronicle-ledger/chronicle/internal/errors"
)

// Kind is the closed set of identifier kinds Chronicle recognizes.
type Kind string

const (
	KindNamespace  Kind = "ns"
	KindAgent      Kind = "agent"
	KindActivity   Kind = "activity"
	KindEntity     Kind = "entity"
	KindIdentity   Kind = "identity"
	KindAttachment Kind = "attachment"
	KindDomainType Kind = "domaintype"
)

const iriPrefix = "chronicle"

// ID is implemented by every identifier type in this package.
type ID interface {
	Kind() Kind
	IRI() string
}

// NamespaceID identifies a namespace by its (externalId, UUID) pair —
// unique and immutable once registered (spec.md §3 invariant 1).
type NamespaceID struct {
	Name string
	UUID uuid.UUID
}

func (n NamespaceID) Kind() Kind { return KindNamespace }

func (n NamespaceID) IRI() string {
	return buildIRI(KindNamespace, n.Name, n.UUID.String())
}

func (n NamespaceID) String() string { return n.IRI() }

// AgentID identifies an agent by (namespace, externalId).
type AgentID struct {
	Namespace  NamespaceID
	ExternalID string
}

func (a AgentID) Kind() Kind { return KindAgent }
func (a AgentID) IRI() string {
	return buildIRI(KindAgent, a.Namespace.Name, a.Namespace.UUID.String(), a.ExternalID)
}
func (a AgentID) String() string { return a.IRI() }

// ActivityID identifies an activity by (namespace, externalId).
type ActivityID struct {
	Namespace  NamespaceID
	ExternalID string
}

func (a ActivityID) Kind() Kind { return KindActivity }
func (a ActivityID) IRI() string {
	return buildIRI(KindActivity, a.Namespace.Name, a.Namespace.UUID.String(), a.ExternalID)
}
func (a ActivityID) String() string { return a.IRI() }

// EntityID identifies an entity by (namespace, externalId).
type EntityID struct {
	Namespace  NamespaceID
	ExternalID string
}

func (e EntityID) Kind() Kind { return KindEntity }
func (e EntityID) IRI() string {
	return buildIRI(KindEntity, e.Namespace.Name, e.Namespace.UUID.String(), e.ExternalID)
}
func (e EntityID) String() string { return e.IRI() }

// IdentityID identifies an ed25519/secp256k1 public-key identity by
// (namespace, publicKey). PublicKey is the lower-case hex encoding of the
// raw key bytes.
type IdentityID struct {
	Namespace NamespaceID
	PublicKey string
}

func (i IdentityID) Kind() Kind { return KindIdentity }
func (i IdentityID) IRI() string {
	return buildIRI(KindIdentity, i.Namespace.Name, i.Namespace.UUID.String(), strings.ToLower(i.PublicKey))
}
func (i IdentityID) String() string { return i.IRI() }

// AttachmentID identifies a detached signature by (namespace, signature).
type AttachmentID struct {
	Namespace NamespaceID
	Signature string
}

func (a AttachmentID) Kind() Kind { return KindAttachment }
func (a AttachmentID) IRI() string {
	return buildIRI(KindAttachment, a.Namespace.Name, a.Namespace.UUID.String(), a.Signature)
}
func (a AttachmentID) String() string { return a.IRI() }

// DomainTypeID identifies a domain-specific type IRI scoped to a namespace.
// Domain-type fields elsewhere are optional *DomainTypeID pointers; a nil
// pointer is the first-class "absent" value distinct from any present type
// (spec.md §4.3).
type DomainTypeID struct {
	Namespace NamespaceID
	TypeName  string
}

func (d DomainTypeID) Kind() Kind { return KindDomainType }
func (d DomainTypeID) IRI() string {
	return buildIRI(KindDomainType, d.Namespace.Name, d.Namespace.UUID.String(), d.TypeName)
}
func (d DomainTypeID) String() string { return d.IRI() }

// buildIRI escapes each component with url.QueryEscape rather than
// url.PathEscape: QueryEscape percent-encodes ':' (PathEscape leaves it
// literal, since ':' is unreserved within a path segment), which is required
// here since ':' is also this format's own field delimiter. Without that, a
// component containing a literal ':' would be indistinguishable from a
// delimiter and ParseIRI's strings.Split(iri, ":") would misparse it.
func buildIRI(kind Kind, components ...string) string {
	escaped := make([]string, len(components))
	for i, c := range components {
		escaped[i] = url.QueryEscape(c)
	}
	return iriPrefix + ":" + string(kind) + ":" + strings.Join(escaped, ":")
}

// ParseIRI parses any Chronicle IRI into its concrete ID type. Parsing is
// total: every IRI ever produced by IRI() round-trips through ParseIRI to an
// equal value (spec.md §4.1).
func ParseIRI(iri string) (ID, error) {
	parts := strings.Split(iri, ":")
	if len(parts) < 3 || parts[0] != iriPrefix {
		return nil, cherrors.InvalidIri(iri, "missing chronicle: prefix")
	}
	kind := Kind(parts[1])
	rest := parts[2:]

	unescape := func(s string) (string, error) {
		v, err := url.QueryUnescape(s)
		if err != nil {
			return "", cherrors.InvalidIri(iri, "bad percent-encoding")
		}
		return v, nil
	}

	parseNamespace := func(nameEnc, uuidEnc string) (NamespaceID, error) {
		name, err := unescape(nameEnc)
		if err != nil {
			return NamespaceID{}, err
		}
		u, err := uuid.Parse(uuidEnc)
		if err != nil {
			return NamespaceID{}, cherrors.InvalidIri(iri, "bad namespace uuid")
		}
		return NamespaceID{Name: name, UUID: u}, nil
	}

	switch kind {
	case KindNamespace:
		if len(rest) != 2 {
			return nil, cherrors.InvalidIri(iri, "namespace IRI requires name and uuid")
		}
		ns, err := parseNamespace(rest[0], rest[1])
		if err != nil {
			return nil, err
		}
		return ns, nil

	case KindAgent, KindActivity, KindEntity:
		if len(rest) != 3 {
			return nil, cherrors.InvalidIri(iri, fmt.Sprintf("%s IRI requires namespace name, uuid, external id", kind))
		}
		ns, err := parseNamespace(rest[0], rest[1])
		if err != nil {
			return nil, err
		}
		externalID, err := unescape(rest[2])
		if err != nil {
			return nil, err
		}
		switch kind {
		case KindAgent:
			return AgentID{Namespace: ns, ExternalID: externalID}, nil
		case KindActivity:
			return ActivityID{Namespace: ns, ExternalID: externalID}, nil
		default:
			return EntityID{Namespace: ns, ExternalID: externalID}, nil
		}

	case KindIdentity:
		if len(rest) != 3 {
			return nil, cherrors.InvalidIri(iri, "identity IRI requires namespace name, uuid, public key")
		}
		ns, err := parseNamespace(rest[0], rest[1])
		if err != nil {
			return nil, err
		}
		pubKey, err := unescape(rest[2])
		if err != nil {
			return nil, err
		}
		return IdentityID{Namespace: ns, PublicKey: pubKey}, nil

	case KindAttachment:
		if len(rest) != 3 {
			return nil, cherrors.InvalidIri(iri, "attachment IRI requires namespace name, uuid, signature")
		}
		ns, err := parseNamespace(rest[0], rest[1])
		if err != nil {
			return nil, err
		}
		sig, err := unescape(rest[2])
		if err != nil {
			return nil, err
		}
		return AttachmentID{Namespace: ns, Signature: sig}, nil

	case KindDomainType:
		if len(rest) != 3 {
			return nil, cherrors.InvalidIri(iri, "domaintype IRI requires namespace name, uuid, type name")
		}
		ns, err := parseNamespace(rest[0], rest[1])
		if err != nil {
			return nil, err
		}
		typeName, err := unescape(rest[2])
		if err != nil {
			return nil, err
		}
		return DomainTypeID{Namespace: ns, TypeName: typeName}, nil

	default:
		return nil, cherrors.InvalidIri(iri, "unknown identifier kind")
	}
}

// Equal reports whether two identifiers have equal canonical IRIs.
func Equal(a, b ID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.IRI() == b.IRI()
}
