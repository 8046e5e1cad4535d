package prov

import (
	"encoding/json"

	"github.com/chronicle-ledger/chronicle/internal/identity"

	cherrors "github.com/chronicle-ledger/chronicle/internal/errors"
)

// chronicleContext is the fixed JSON-LD @context every document emits.
// It is never computed or reordered at runtime: a stable literal is what
// makes to_json_ld byte-deterministic across replicas (spec.md §4.5).
var chronicleContext = map[string]interface{}{
	"prov":      "http://www.w3.org/ns/prov#",
	"chronicle": "chronicle:",
	"namespace": "chronicle:namespace",
	"externalId": "chronicle:externalId",
}

// jsonldNamespace, jsonldAgent, etc. are the wire shapes listed under the
// document's top-level collections ("namespaces", "agents", ...). Field order here has no bearing on the emitted byte order —
// encoding/json always sorts map keys for map values, and struct field
// order is fixed by the type definition, so repeated encodes of an
// unchanged ProvModel always produce the same bytes.
type jsonldNamespace struct {
	ID   string `json:"@id"`
	Type string `json:"@type"`
	Name string `json:"chronicle:name"`
	UUID string `json:"chronicle:uuid"`
}

type jsonldDomainType struct {
	ID string `json:"@id,omitempty"`
}

type jsonldAgent struct {
	ID              string            `json:"@id"`
	Type            string            `json:"@type"`
	Namespace       string            `json:"chronicle:namespace"`
	ExternalID      string            `json:"chronicle:externalId"`
	DomainType      string            `json:"chronicle:domainType,omitempty"`
	Attributes      map[string]json.RawMessage `json:"chronicle:attributes,omitempty"`
	CurrentIdentity string            `json:"chronicle:hadCurrentIdentity,omitempty"`
	HadIdentity     []string          `json:"chronicle:hadIdentity,omitempty"`
}

type jsonldActivity struct {
	ID         string                      `json:"@id"`
	Type       string                      `json:"@type"`
	Namespace  string                      `json:"chronicle:namespace"`
	ExternalID string                      `json:"chronicle:externalId"`
	DomainType string                      `json:"chronicle:domainType,omitempty"`
	Started    *Timestamp                  `json:"prov:startedAtTime,omitempty"`
	Ended      *Timestamp                  `json:"prov:endedAtTime,omitempty"`
	Attributes map[string]json.RawMessage  `json:"chronicle:attributes,omitempty"`
}

type jsonldEntity struct {
	ID            string                     `json:"@id"`
	Type          string                     `json:"@type"`
	Namespace     string                     `json:"chronicle:namespace"`
	ExternalID    string                     `json:"chronicle:externalId"`
	DomainType    string                     `json:"chronicle:domainType,omitempty"`
	Attributes    map[string]json.RawMessage `json:"chronicle:attributes,omitempty"`
	HadAttachment []string                   `json:"chronicle:hadAttachment,omitempty"`
}

type jsonldIdentity struct {
	ID        string `json:"@id"`
	Type      string `json:"@type"`
	Namespace string `json:"chronicle:namespace"`
	PublicKey string `json:"chronicle:publicKey"`
}

type jsonldAttachment struct {
	ID            string    `json:"@id"`
	Type          string    `json:"@type"`
	Namespace     string    `json:"chronicle:namespace"`
	Signer        string    `json:"chronicle:signer"`
	Signature     string    `json:"chronicle:signature"`
	SignatureTime Timestamp `json:"chronicle:signatureTime"`
	Locator       string    `json:"chronicle:locator"`
}

type jsonldDelegation struct {
	Delegate    string `json:"chronicle:delegate"`
	Responsible string `json:"chronicle:responsible"`
	Activity    string `json:"chronicle:activity,omitempty"`
	Role        string `json:"chronicle:role,omitempty"`
}

type jsonldAssociation struct {
	Agent    string `json:"chronicle:agent"`
	Activity string `json:"chronicle:activity"`
	Role     string `json:"chronicle:role,omitempty"`
}

type jsonldAttribution struct {
	Agent  string `json:"chronicle:agent"`
	Entity string `json:"chronicle:entity"`
	Role   string `json:"chronicle:role,omitempty"`
}

type jsonldUsage struct {
	Activity string `json:"chronicle:activity"`
	Entity   string `json:"chronicle:entity"`
}

type jsonldGeneration struct {
	Entity   string `json:"chronicle:entity"`
	Activity string `json:"chronicle:activity"`
}

type jsonldDerivation struct {
	GeneratedEntity string         `json:"chronicle:generatedEntity"`
	UsedEntity      string         `json:"chronicle:usedEntity"`
	Type            DerivationType `json:"chronicle:derivationType"`
}

type jsonldWasInformedBy struct {
	Activity          string `json:"chronicle:activity"`
	InformingActivity string `json:"chronicle:informingActivity"`
}

// jsonldDocument is the top-level canonical document shape.
type jsonldDocument struct {
	Context        map[string]interface{} `json:"@context"`
	Namespaces     []jsonldNamespace       `json:"namespaces"`
	Agents         []jsonldAgent           `json:"agents"`
	Activities     []jsonldActivity        `json:"activities"`
	Entities       []jsonldEntity          `json:"entities"`
	Identities     []jsonldIdentity        `json:"identities"`
	Attachments    []jsonldAttachment      `json:"attachments"`
	Delegations    []jsonldDelegation      `json:"delegations,omitempty"`
	Associations   []jsonldAssociation     `json:"associations,omitempty"`
	Attributions   []jsonldAttribution     `json:"attributions,omitempty"`
	Usages         []jsonldUsage           `json:"usages,omitempty"`
	Generations    []jsonldGeneration      `json:"generations,omitempty"`
	Derivations    []jsonldDerivation      `json:"derivations,omitempty"`
	WasInformedBys []jsonldWasInformedBy   `json:"wasInformedBys,omitempty"`
}

// ToJSONLD renders m as a canonical, deterministically-ordered JSON-LD
// document (spec.md §4.4). Every collection is sorted by its map key so two
// processes holding an equal ProvModel always emit byte-identical output.
func (m *ProvModel) ToJSONLD() ([]byte, error) {
	doc := jsonldDocument{Context: chronicleContext}

	for _, k := range sortedKeys(m.Namespaces) {
		ns := m.Namespaces[k]
		doc.Namespaces = append(doc.Namespaces, jsonldNamespace{
			ID: ns.IRI(), Type: "prov:Namespace", Name: ns.Name, UUID: ns.UUID.String(),
		})
	}

	for _, k := range sortedKeys(m.Agents) {
		a := m.Agents[k]
		entry := jsonldAgent{
			ID: a.ID.IRI(), Type: "prov:Agent",
			Namespace: a.ID.Namespace.IRI(), ExternalID: a.ID.ExternalID,
			Attributes: a.Attributes,
		}
		if a.DomainType != nil {
			entry.DomainType = a.DomainType.IRI()
		}
		if a.CurrentIdentity != nil {
			entry.CurrentIdentity = a.CurrentIdentity.IRI()
		}
		for _, hk := range sortedKeys(a.HadIdentity) {
			entry.HadIdentity = append(entry.HadIdentity, hk)
		}
		doc.Agents = append(doc.Agents, entry)
	}

	for _, k := range sortedKeys(m.Activities) {
		act := m.Activities[k]
		entry := jsonldActivity{
			ID: act.ID.IRI(), Type: "prov:Activity",
			Namespace: act.ID.Namespace.IRI(), ExternalID: act.ID.ExternalID,
			Started: act.Started, Ended: act.Ended, Attributes: act.Attributes,
		}
		if act.DomainType != nil {
			entry.DomainType = act.DomainType.IRI()
		}
		doc.Activities = append(doc.Activities, entry)
	}

	for _, k := range sortedKeys(m.Entities) {
		ent := m.Entities[k]
		entry := jsonldEntity{
			ID: ent.ID.IRI(), Type: "prov:Entity",
			Namespace: ent.ID.Namespace.IRI(), ExternalID: ent.ID.ExternalID,
			Attributes: ent.Attributes,
		}
		if ent.DomainType != nil {
			entry.DomainType = ent.DomainType.IRI()
		}
		for _, hk := range sortedKeys(ent.HadAttachment) {
			entry.HadAttachment = append(entry.HadAttachment, hk)
		}
		doc.Entities = append(doc.Entities, entry)
	}

	for _, k := range sortedKeys(m.Identities) {
		id := m.Identities[k]
		doc.Identities = append(doc.Identities, jsonldIdentity{
			ID: id.IRI(), Type: "chronicle:Identity", Namespace: id.Namespace.IRI(), PublicKey: id.PublicKey,
		})
	}

	for _, k := range sortedKeys(m.Attachments) {
		att := m.Attachments[k]
		doc.Attachments = append(doc.Attachments, jsonldAttachment{
			ID: att.ID.IRI(), Type: "chronicle:Attachment", Namespace: att.ID.Namespace.IRI(),
			Signer: att.Signer.IRI(), Signature: att.ID.Signature,
			SignatureTime: att.SignatureTime, Locator: att.Locator,
		})
	}

	for _, k := range sortedKeys(m.Delegations) {
		d := m.Delegations[k]
		doc.Delegations = append(doc.Delegations, jsonldDelegation{
			Delegate: d.Delegate, Responsible: d.Responsible, Activity: d.Activity, Role: d.Role,
		})
	}
	for _, k := range sortedKeys(m.Associations) {
		a := m.Associations[k]
		doc.Associations = append(doc.Associations, jsonldAssociation{Agent: a.Agent, Activity: a.Activity, Role: a.Role})
	}
	for _, k := range sortedKeys(m.Attributions) {
		a := m.Attributions[k]
		doc.Attributions = append(doc.Attributions, jsonldAttribution{Agent: a.Agent, Entity: a.Entity, Role: a.Role})
	}
	for _, k := range sortedKeys(m.Usages) {
		u := m.Usages[k]
		doc.Usages = append(doc.Usages, jsonldUsage{Activity: u.Activity, Entity: u.Entity})
	}
	for _, k := range sortedKeys(m.Generations) {
		g := m.Generations[k]
		doc.Generations = append(doc.Generations, jsonldGeneration{Entity: g.Entity, Activity: g.Activity})
	}
	for _, k := range sortedKeys(m.Derivations) {
		d := m.Derivations[k]
		doc.Derivations = append(doc.Derivations, jsonldDerivation{GeneratedEntity: d.GeneratedEntity, UsedEntity: d.UsedEntity, Type: d.Type})
	}
	for _, k := range sortedKeys(m.WasInformedBys) {
		w := m.WasInformedBys[k]
		doc.WasInformedBys = append(doc.WasInformedBys, jsonldWasInformedBy{Activity: w.Activity, InformingActivity: w.InformingActivity})
	}

	out, err := json.Marshal(doc)
	if err != nil {
		return nil, cherrors.UnparseablePayload(err)
	}
	return out, nil
}

// FromJSONLD parses a document produced by ToJSONLD back into a ProvModel.
// It is value-preserving for any model reachable by a sequence of Apply
// calls: round-tripping through ToJSONLD/FromJSONLD never loses or
// reshapes state (spec.md §4.4).
func FromJSONLD(data []byte) (*ProvModel, error) {
	var doc jsonldDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, cherrors.UnparseablePayload(err)
	}
	m := New()

	parseID := func(iri string) (identity.ID, error) { return identity.ParseIRI(iri) }

	for _, n := range doc.Namespaces {
		parsed, err := parseID(n.ID)
		if err != nil {
			return nil, err
		}
		ns, ok := parsed.(identity.NamespaceID)
		if !ok {
			return nil, cherrors.InvalidIri(n.ID, "expected namespace IRI")
		}
		m.Namespaces[ns.IRI()] = ns
	}

	for _, a := range doc.Agents {
		parsed, err := parseID(a.ID)
		if err != nil {
			return nil, err
		}
		agentID, ok := parsed.(identity.AgentID)
		if !ok {
			return nil, cherrors.InvalidIri(a.ID, "expected agent IRI")
		}
		rec := &AgentRecord{ID: agentID, Attributes: AttrMap(a.Attributes), HadIdentity: make(map[string]identity.IdentityID)}
		if a.DomainType != "" {
			dtParsed, err := parseID(a.DomainType)
			if err != nil {
				return nil, err
			}
			dt, ok := dtParsed.(identity.DomainTypeID)
			if !ok {
				return nil, cherrors.InvalidIri(a.DomainType, "expected domain type IRI")
			}
			rec.DomainType = &dt
		}
		if a.CurrentIdentity != "" {
			ciParsed, err := parseID(a.CurrentIdentity)
			if err != nil {
				return nil, err
			}
			ci, ok := ciParsed.(identity.IdentityID)
			if !ok {
				return nil, cherrors.InvalidIri(a.CurrentIdentity, "expected identity IRI")
			}
			rec.CurrentIdentity = &ci
		}
		for _, hk := range a.HadIdentity {
			hParsed, err := parseID(hk)
			if err != nil {
				return nil, err
			}
			hID, ok := hParsed.(identity.IdentityID)
			if !ok {
				return nil, cherrors.InvalidIri(hk, "expected identity IRI")
			}
			rec.HadIdentity[hID.IRI()] = hID
		}
		m.Agents[agentID.IRI()] = rec
	}

	for _, act := range doc.Activities {
		parsed, err := parseID(act.ID)
		if err != nil {
			return nil, err
		}
		actID, ok := parsed.(identity.ActivityID)
		if !ok {
			return nil, cherrors.InvalidIri(act.ID, "expected activity IRI")
		}
		rec := &ActivityRecord{ID: actID, Attributes: AttrMap(act.Attributes), Started: act.Started, Ended: act.Ended}
		if act.DomainType != "" {
			dtParsed, err := parseID(act.DomainType)
			if err != nil {
				return nil, err
			}
			dt, ok := dtParsed.(identity.DomainTypeID)
			if !ok {
				return nil, cherrors.InvalidIri(act.DomainType, "expected domain type IRI")
			}
			rec.DomainType = &dt
		}
		m.Activities[actID.IRI()] = rec
	}

	for _, ent := range doc.Entities {
		parsed, err := parseID(ent.ID)
		if err != nil {
			return nil, err
		}
		entID, ok := parsed.(identity.EntityID)
		if !ok {
			return nil, cherrors.InvalidIri(ent.ID, "expected entity IRI")
		}
		rec := &EntityRecord{ID: entID, Attributes: AttrMap(ent.Attributes), HadAttachment: make(map[string]identity.AttachmentID)}
		if ent.DomainType != "" {
			dtParsed, err := parseID(ent.DomainType)
			if err != nil {
				return nil, err
			}
			dt, ok := dtParsed.(identity.DomainTypeID)
			if !ok {
				return nil, cherrors.InvalidIri(ent.DomainType, "expected domain type IRI")
			}
			rec.DomainType = &dt
		}
		for _, hk := range ent.HadAttachment {
			hParsed, err := parseID(hk)
			if err != nil {
				return nil, err
			}
			hID, ok := hParsed.(identity.AttachmentID)
			if !ok {
				return nil, cherrors.InvalidIri(hk, "expected attachment IRI")
			}
			rec.HadAttachment[hID.IRI()] = hID
		}
		m.Entities[entID.IRI()] = rec
	}

	for _, id := range doc.Identities {
		parsed, err := parseID(id.ID)
		if err != nil {
			return nil, err
		}
		idID, ok := parsed.(identity.IdentityID)
		if !ok {
			return nil, cherrors.InvalidIri(id.ID, "expected identity IRI")
		}
		m.Identities[idID.IRI()] = idID
	}

	for _, att := range doc.Attachments {
		parsed, err := parseID(att.ID)
		if err != nil {
			return nil, err
		}
		attID, ok := parsed.(identity.AttachmentID)
		if !ok {
			return nil, cherrors.InvalidIri(att.ID, "expected attachment IRI")
		}
		signerParsed, err := parseID(att.Signer)
		if err != nil {
			return nil, err
		}
		signer, ok := signerParsed.(identity.IdentityID)
		if !ok {
			return nil, cherrors.InvalidIri(att.Signer, "expected identity IRI")
		}
		m.Attachments[attID.IRI()] = &AttachmentRecord{
			ID: attID, Signer: signer, SignatureTime: att.SignatureTime, Locator: att.Locator,
		}
	}

	for _, d := range doc.Delegations {
		key := tupleKey(d.Delegate, d.Responsible, d.Activity, d.Role)
		m.Delegations[key] = Delegation{Delegate: d.Delegate, Responsible: d.Responsible, Activity: d.Activity, Role: d.Role}
	}
	for _, a := range doc.Associations {
		key := tupleKey(a.Agent, a.Activity, a.Role)
		m.Associations[key] = Association{Agent: a.Agent, Activity: a.Activity, Role: a.Role}
	}
	for _, a := range doc.Attributions {
		key := tupleKey(a.Agent, a.Entity, a.Role)
		m.Attributions[key] = Attribution{Agent: a.Agent, Entity: a.Entity, Role: a.Role}
	}
	for _, u := range doc.Usages {
		key := tupleKey(u.Activity, u.Entity)
		m.Usages[key] = Usage{Activity: u.Activity, Entity: u.Entity}
	}
	for _, g := range doc.Generations {
		key := tupleKey(g.Entity, g.Activity)
		m.Generations[key] = Generation{Entity: g.Entity, Activity: g.Activity}
	}
	for _, d := range doc.Derivations {
		key := tupleKey(d.GeneratedEntity, d.UsedEntity, d.Type.String())
		m.Derivations[key] = Derivation{GeneratedEntity: d.GeneratedEntity, UsedEntity: d.UsedEntity, Type: d.Type}
	}
	for _, w := range doc.WasInformedBys {
		key := tupleKey(w.Activity, w.InformingActivity)
		m.WasInformedBys[key] = WasInformedByTuple{Activity: w.Activity, InformingActivity: w.InformingActivity}
	}

	return m, nil
}
