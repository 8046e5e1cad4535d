package prov

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/chronicle-ledger/chronicle/internal/identity"

	cherrors "github.com/chronicle-ledger/chronicle/internal/errors"
)

// AttrMap is the typename -> opaque JSON value attribute map (spec.md §3).
type AttrMap map[string]json.RawMessage

func (m AttrMap) clone() AttrMap {
	out := make(AttrMap, len(m))
	for k, v := range m {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}

// mergeAttrs applies last-write-wins-per-typename: values from incoming
// overwrite matching keys in base; keys only in base are preserved.
func mergeAttrs(base, incoming AttrMap) AttrMap {
	out := base.clone()
	if out == nil {
		out = make(AttrMap)
	}
	for k, v := range incoming {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}

// AgentRecord is the ProvModel's authoritative Agent state.
type AgentRecord struct {
	ID              identity.AgentID
	DomainType      *identity.DomainTypeID
	Attributes      AttrMap
	CurrentIdentity *identity.IdentityID
	HadIdentity     map[string]identity.IdentityID // keyed by IRI, set semantics
}

// ActivityRecord is the ProvModel's authoritative Activity state.
type ActivityRecord struct {
	ID         identity.ActivityID
	DomainType *identity.DomainTypeID
	Started    *Timestamp
	Ended      *Timestamp
	Attributes AttrMap
}

// EntityRecord is the ProvModel's authoritative Entity state.
type EntityRecord struct {
	ID            identity.EntityID
	DomainType    *identity.DomainTypeID
	Attributes    AttrMap
	HadAttachment map[string]identity.AttachmentID // keyed by IRI, set semantics
}

// AttachmentRecord is the ProvModel's authoritative Attachment state.
type AttachmentRecord struct {
	ID            identity.AttachmentID
	Signer        identity.IdentityID
	SignatureTime Timestamp
	Locator       string
}

// Delegation, Association, Attribution, Usage, Generation, Derivation, and
// WasInformedBy are stored as sets of IRI tuples (spec.md §9 cyclic
// reference note): keyed by a canonical tuple string so duplicates coalesce
// (invariant 5), with no pointer back into the owning records.

type Delegation struct {
	Delegate    string
	Responsible string
	Activity    string
	Role        string
}

type Association struct {
	Agent    string
	Activity string
	Role     string
}

type Attribution struct {
	Agent  string
	Entity string
	Role   string
}

type Usage struct {
	Activity string
	Entity   string
}

type Generation struct {
	Entity   string
	Activity string
}

type Derivation struct {
	GeneratedEntity string
	UsedEntity      string
	Type            DerivationType
}

type WasInformedByTuple struct {
	Activity          string
	InformingActivity string
}

func tupleKey(parts ...string) string {
	return strings.Join(parts, "\x1f")
}

// ProvModel is the authoritative in-memory provenance state projection
// (spec.md §4.3). All maps are keyed by canonical IRI or canonical tuple
// key so iteration in to_json_ld is made deterministic by sorting keys.
type ProvModel struct {
	Namespaces  map[string]identity.NamespaceID
	Agents      map[string]*AgentRecord
	Activities  map[string]*ActivityRecord
	Entities    map[string]*EntityRecord
	Identities  map[string]identity.IdentityID
	Attachments map[string]*AttachmentRecord

	Delegations    map[string]Delegation
	Associations   map[string]Association
	Attributions   map[string]Attribution
	Usages         map[string]Usage
	Generations    map[string]Generation
	Derivations    map[string]Derivation
	WasInformedBys map[string]WasInformedByTuple
}

// New returns an empty ProvModel.
func New() *ProvModel {
	return &ProvModel{
		Namespaces:     make(map[string]identity.NamespaceID),
		Agents:         make(map[string]*AgentRecord),
		Activities:     make(map[string]*ActivityRecord),
		Entities:       make(map[string]*EntityRecord),
		Identities:     make(map[string]identity.IdentityID),
		Attachments:    make(map[string]*AttachmentRecord),
		Delegations:    make(map[string]Delegation),
		Associations:   make(map[string]Association),
		Attributions:   make(map[string]Attribution),
		Usages:         make(map[string]Usage),
		Generations:    make(map[string]Generation),
		Derivations:    make(map[string]Derivation),
		WasInformedBys: make(map[string]WasInformedByTuple),
	}
}

func (m *ProvModel) requireNamespace(ns identity.NamespaceID) error {
	if _, ok := m.Namespaces[ns.IRI()]; !ok {
		return cherrors.NamespaceMissing(ns.IRI())
	}
	return nil
}

// Apply applies a single operation, enforcing invariants 1-7 (spec.md §3).
// Callers are responsible for batch atomicity: if Apply returns an error the
// caller must discard the whole in-progress batch (spec.md §5 "Partial
// failure of any op in a batch aborts the whole batch").
func (m *ProvModel) Apply(op Operation) error {
	switch v := op.(type) {

	case CreateNamespace:
		key := v.Namespace.IRI()
		if existing, ok := m.Namespaces[key]; ok && existing != v.Namespace {
			return cherrors.InvariantViolation("namespace IRI collision with differing identity")
		}
		m.Namespaces[key] = v.Namespace
		return nil

	case AgentExists:
		if err := m.requireNamespace(v.Namespace); err != nil {
			return err
		}
		id := v.ID()
		key := id.IRI()
		rec, ok := m.Agents[key]
		if !ok {
			rec = &AgentRecord{ID: id, DomainType: v.DomainType, Attributes: make(AttrMap), HadIdentity: make(map[string]identity.IdentityID)}
			m.Agents[key] = rec
			return nil
		}
		if rec.DomainType == nil && v.DomainType != nil {
			rec.DomainType = v.DomainType
		}
		return nil

	case ActivityExists:
		if err := m.requireNamespace(v.Namespace); err != nil {
			return err
		}
		id := v.ID()
		key := id.IRI()
		rec, ok := m.Activities[key]
		if !ok {
			m.Activities[key] = &ActivityRecord{ID: id, DomainType: v.DomainType, Attributes: make(AttrMap)}
			return nil
		}
		if rec.DomainType == nil && v.DomainType != nil {
			rec.DomainType = v.DomainType
		}
		return nil

	case EntityExists:
		if err := m.requireNamespace(v.Namespace); err != nil {
			return err
		}
		id := v.ID()
		key := id.IRI()
		rec, ok := m.Entities[key]
		if !ok {
			m.Entities[key] = &EntityRecord{ID: id, DomainType: v.DomainType, Attributes: make(AttrMap), HadAttachment: make(map[string]identity.AttachmentID)}
			return nil
		}
		if rec.DomainType == nil && v.DomainType != nil {
			rec.DomainType = v.DomainType
		}
		return nil

	case ActsOnBehalfOf:
		if err := m.requireNamespace(v.Namespace); err != nil {
			return err
		}
		key := tupleKey(v.Delegate, v.Responsible, v.Activity, v.Role)
		m.Delegations[key] = Delegation{Delegate: v.Delegate, Responsible: v.Responsible, Activity: v.Activity, Role: v.Role}
		return nil

	case RegisterKey:
		if err := m.requireNamespace(v.Namespace); err != nil {
			return err
		}
		agentRec, ok := m.Agents[v.Agent]
		if !ok {
			return cherrors.InvariantViolation("RegisterKey: agent does not exist: " + v.Agent)
		}
		idID := identity.IdentityID{Namespace: v.Namespace, PublicKey: v.PublicKey}
		m.Identities[idID.IRI()] = idID
		idCopy := idID
		agentRec.CurrentIdentity = &idCopy
		if agentRec.HadIdentity == nil {
			agentRec.HadIdentity = make(map[string]identity.IdentityID)
		}
		agentRec.HadIdentity[idID.IRI()] = idID
		return nil

	case WasAssociatedWith:
		if err := m.requireNamespace(v.Namespace); err != nil {
			return err
		}
		key := tupleKey(v.Agent, v.Activity, v.Role)
		m.Associations[key] = Association{Agent: v.Agent, Activity: v.Activity, Role: v.Role}
		return nil

	case WasAttributedTo:
		if err := m.requireNamespace(v.Namespace); err != nil {
			return err
		}
		key := tupleKey(v.Agent, v.Entity, v.Role)
		m.Attributions[key] = Attribution{Agent: v.Agent, Entity: v.Entity, Role: v.Role}
		return nil

	case Used:
		if err := m.requireNamespace(v.Namespace); err != nil {
			return err
		}
		key := tupleKey(v.Activity, v.Entity)
		m.Usages[key] = Usage{Activity: v.Activity, Entity: v.Entity}
		return nil

	case ActivityUses:
		if err := m.requireNamespace(v.Namespace); err != nil {
			return err
		}
		key := tupleKey(v.Activity, v.Entity)
		m.Usages[key] = Usage{Activity: v.Activity, Entity: v.Entity}
		return nil

	case WasGeneratedBy:
		if err := m.requireNamespace(v.Namespace); err != nil {
			return err
		}
		key := tupleKey(v.Entity, v.Activity)
		m.Generations[key] = Generation{Entity: v.Entity, Activity: v.Activity}
		return nil

	case WasDerivedFrom:
		if err := m.requireNamespace(v.Namespace); err != nil {
			return err
		}
		key := tupleKey(v.GeneratedEntity, v.UsedEntity, v.DerivationType.String())
		m.Derivations[key] = Derivation{GeneratedEntity: v.GeneratedEntity, UsedEntity: v.UsedEntity, Type: v.DerivationType}
		return nil

	case WasInformedBy:
		if err := m.requireNamespace(v.Namespace); err != nil {
			return err
		}
		key := tupleKey(v.Activity, v.InformingActivity)
		m.WasInformedBys[key] = WasInformedByTuple{Activity: v.Activity, InformingActivity: v.InformingActivity}
		return nil

	case StartActivity:
		if err := m.requireNamespace(v.Namespace); err != nil {
			return err
		}
		rec, ok := m.Activities[v.Activity]
		if !ok {
			return cherrors.InvariantViolation("StartActivity: activity does not exist: " + v.Activity)
		}
		if rec.Ended != nil && v.Time.After(rec.Ended.Time) {
			return cherrors.TimeOrdering(v.Time.Format(timestampLayout), rec.Ended.Format(timestampLayout))
		}
		t := v.Time
		rec.Started = &t
		return nil

	case EndActivity:
		if err := m.requireNamespace(v.Namespace); err != nil {
			return err
		}
		rec, ok := m.Activities[v.Activity]
		if !ok {
			return cherrors.InvariantViolation("EndActivity: activity does not exist: " + v.Activity)
		}
		if rec.Started != nil && rec.Started.After(v.Time.Time) {
			return cherrors.TimeOrdering(rec.Started.Format(timestampLayout), v.Time.Format(timestampLayout))
		}
		t := v.Time
		rec.Ended = &t
		return nil

	case SetAttributes:
		if err := m.requireNamespace(v.Namespace); err != nil {
			return err
		}
		switch v.TargetKind {
		case identity.KindAgent:
			id := identity.AgentID{Namespace: v.Namespace, ExternalID: v.ExternalID}
			rec, ok := m.Agents[id.IRI()]
			if !ok {
				return cherrors.InvariantViolation("SetAttributes: agent does not exist: " + id.IRI())
			}
			rec.Attributes = mergeAttrs(rec.Attributes, AttrMap(v.Attributes))
		case identity.KindActivity:
			id := identity.ActivityID{Namespace: v.Namespace, ExternalID: v.ExternalID}
			rec, ok := m.Activities[id.IRI()]
			if !ok {
				return cherrors.InvariantViolation("SetAttributes: activity does not exist: " + id.IRI())
			}
			rec.Attributes = mergeAttrs(rec.Attributes, AttrMap(v.Attributes))
		case identity.KindEntity:
			id := identity.EntityID{Namespace: v.Namespace, ExternalID: v.ExternalID}
			rec, ok := m.Entities[id.IRI()]
			if !ok {
				return cherrors.InvariantViolation("SetAttributes: entity does not exist: " + id.IRI())
			}
			rec.Attributes = mergeAttrs(rec.Attributes, AttrMap(v.Attributes))
		default:
			return cherrors.UnknownKind(string(v.TargetKind))
		}
		return nil

	case WasAssociatedWithAttachment:
		if err := m.requireNamespace(v.Namespace); err != nil {
			return err
		}
		signerID, err := identity.ParseIRI(v.Signer)
		if err != nil {
			return err
		}
		signer, ok := signerID.(identity.IdentityID)
		if !ok {
			return cherrors.AttachmentSignerMissing(v.Signature)
		}
		if _, known := m.Identities[signer.IRI()]; !known {
			return cherrors.AttachmentSignerMissing(v.Signature)
		}
		attID := identity.AttachmentID{Namespace: v.Namespace, Signature: v.Signature}
		key := attID.IRI()
		if existing, ok := m.Attachments[key]; ok {
			if existing.Signer != signer || existing.Locator != v.Locator {
				return cherrors.InvariantViolation("attachment signature already bound to a different signer or locator")
			}
		} else {
			m.Attachments[key] = &AttachmentRecord{ID: attID, Signer: signer, SignatureTime: v.SignatureTime, Locator: v.Locator}
		}
		entRec, ok := m.Entities[v.Entity]
		if !ok {
			return cherrors.InvariantViolation("WasAssociatedWithAttachment: entity does not exist: " + v.Entity)
		}
		if entRec.HadAttachment == nil {
			entRec.HadAttachment = make(map[string]identity.AttachmentID)
		}
		entRec.HadAttachment[key] = attID
		return nil

	default:
		return cherrors.UnknownKind("unrecognized operation type")
	}
}

// ApplyAll applies operations in order, aborting the whole batch (returning
// the model unmodified from the caller's perspective is the caller's job —
// Apply mutates in place, so callers should Clone before ApplyAll if they
// need rollback) as soon as any operation fails.
func (m *ProvModel) ApplyAll(ops []Operation) error {
	for _, op := range ops {
		if err := m.Apply(op); err != nil {
			return err
		}
	}
	return nil
}

// Clone returns a deep copy of m, used by the TP to isolate a working model
// per transaction and by tests that need rollback-on-failure semantics.
func (m *ProvModel) Clone() *ProvModel {
	out := New()
	for k, v := range m.Namespaces {
		out.Namespaces[k] = v
	}
	for k, v := range m.Agents {
		cp := *v
		cp.Attributes = v.Attributes.clone()
		cp.HadIdentity = make(map[string]identity.IdentityID, len(v.HadIdentity))
		for hk, hv := range v.HadIdentity {
			cp.HadIdentity[hk] = hv
		}
		out.Agents[k] = &cp
	}
	for k, v := range m.Activities {
		cp := *v
		cp.Attributes = v.Attributes.clone()
		out.Activities[k] = &cp
	}
	for k, v := range m.Entities {
		cp := *v
		cp.Attributes = v.Attributes.clone()
		cp.HadAttachment = make(map[string]identity.AttachmentID, len(v.HadAttachment))
		for hk, hv := range v.HadAttachment {
			cp.HadAttachment[hk] = hv
		}
		out.Entities[k] = &cp
	}
	for k, v := range m.Identities {
		out.Identities[k] = v
	}
	for k, v := range m.Attachments {
		cp := *v
		out.Attachments[k] = &cp
	}
	for k, v := range m.Delegations {
		out.Delegations[k] = v
	}
	for k, v := range m.Associations {
		out.Associations[k] = v
	}
	for k, v := range m.Attributions {
		out.Attributions[k] = v
	}
	for k, v := range m.Usages {
		out.Usages[k] = v
	}
	for k, v := range m.Generations {
		out.Generations[k] = v
	}
	for k, v := range m.Derivations {
		out.Derivations[k] = v
	}
	for k, v := range m.WasInformedBys {
		out.WasInformedBys[k] = v
	}
	return out
}

// Merge unions other into m: relationship sets unite, attributes merge
// last-write-wins per typename with other taking precedence on conflicting
// typenames — the deterministic tie-break spec.md §4.3 calls for is "other
// was produced later in canonical operation order", which callers must
// ensure by merging models in commit order.
func (m *ProvModel) Merge(other *ProvModel) {
	for k, v := range other.Namespaces {
		if _, ok := m.Namespaces[k]; !ok {
			m.Namespaces[k] = v
		}
	}
	for k, v := range other.Agents {
		if existing, ok := m.Agents[k]; ok {
			existing.Attributes = mergeAttrs(existing.Attributes, v.Attributes)
			if v.CurrentIdentity != nil {
				existing.CurrentIdentity = v.CurrentIdentity
			}
			for hk, hv := range v.HadIdentity {
				existing.HadIdentity[hk] = hv
			}
			if existing.DomainType == nil {
				existing.DomainType = v.DomainType
			}
		} else {
			cp := *v
			m.Agents[k] = &cp
		}
	}
	for k, v := range other.Activities {
		if existing, ok := m.Activities[k]; ok {
			existing.Attributes = mergeAttrs(existing.Attributes, v.Attributes)
			if v.Started != nil {
				existing.Started = v.Started
			}
			if v.Ended != nil {
				existing.Ended = v.Ended
			}
			if existing.DomainType == nil {
				existing.DomainType = v.DomainType
			}
		} else {
			cp := *v
			m.Activities[k] = &cp
		}
	}
	for k, v := range other.Entities {
		if existing, ok := m.Entities[k]; ok {
			existing.Attributes = mergeAttrs(existing.Attributes, v.Attributes)
			for hk, hv := range v.HadAttachment {
				existing.HadAttachment[hk] = hv
			}
			if existing.DomainType == nil {
				existing.DomainType = v.DomainType
			}
		} else {
			cp := *v
			m.Entities[k] = &cp
		}
	}
	for k, v := range other.Identities {
		m.Identities[k] = v
	}
	for k, v := range other.Attachments {
		if _, ok := m.Attachments[k]; !ok {
			cp := *v
			m.Attachments[k] = &cp
		}
	}
	for k, v := range other.Delegations {
		m.Delegations[k] = v
	}
	for k, v := range other.Associations {
		m.Associations[k] = v
	}
	for k, v := range other.Attributions {
		m.Attributions[k] = v
	}
	for k, v := range other.Usages {
		m.Usages[k] = v
	}
	for k, v := range other.Generations {
		m.Generations[k] = v
	}
	for k, v := range other.Derivations {
		m.Derivations[k] = v
	}
	for k, v := range other.WasInformedBys {
		m.WasInformedBys[k] = v
	}
}

// sortedKeys returns m's keys in ascending order, used throughout to_json_ld
// to guarantee deterministic emission (spec.md §4.5 Determinism).
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
