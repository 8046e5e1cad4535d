// Package prov implements the provenance operation algebra (spec.md §4.2)
// and the in-memory ProvModel (spec.md §4.3).
package prov

import (
	"encoding/json"
	"time"

	"github.com/chronicle-ledger/chronicle/internal/identity"
)

// OpKind is the closed set of provenance operation variants. Every switch
// over OpKind in this module must be exhaustive; UnknownKind is returned
// whenever a value outside this set is encountered.
type OpKind string

const (
	OpCreateNamespace              OpKind = "CreateNamespace"
	OpAgentExists                  OpKind = "AgentExists"
	OpActivityExists               OpKind = "ActivityExists"
	OpEntityExists                 OpKind = "EntityExists"
	OpActsOnBehalfOf               OpKind = "ActsOnBehalfOf"
	OpRegisterKey                  OpKind = "RegisterKey"
	OpWasAssociatedWith            OpKind = "WasAssociatedWith"
	OpWasAttributedTo              OpKind = "WasAttributedTo"
	OpUsed                         OpKind = "Used"
	OpWasGeneratedBy               OpKind = "WasGeneratedBy"
	OpWasDerivedFrom               OpKind = "WasDerivedFrom"
	OpWasInformedBy                OpKind = "WasInformedBy"
	OpStartActivity                OpKind = "StartActivity"
	OpEndActivity                  OpKind = "EndActivity"
	OpActivityUses                 OpKind = "ActivityUses"
	OpSetAttributes                OpKind = "SetAttributes"
	OpWasAssociatedWithAttachment  OpKind = "WasAssociatedWithAttachment"
)

// DerivationType is the closed enum of derivation subkinds (spec.md §9),
// with a stable integer encoding on the wire. The relational index stores
// the same integer (internal/projector writes int(d) into a SMALLINT
// column); no text form is stored there. String() gives the text name,
// used for in-memory set keys and logs.
type DerivationType int

const (
	DerivationNone          DerivationType = 4
	DerivationPrimarySource DerivationType = 1
	DerivationQuotation     DerivationType = 2
	DerivationRevision      DerivationType = 3
)

func (d DerivationType) String() string {
	switch d {
	case DerivationPrimarySource:
		return "PrimarySource"
	case DerivationQuotation:
		return "Quotation"
	case DerivationRevision:
		return "Revision"
	default:
		return "None"
	}
}

// MarshalJSON encodes DerivationType as its stable integer form.
func (d DerivationType) MarshalJSON() ([]byte, error) {
	return json.Marshal(int(d))
}

// UnmarshalJSON decodes DerivationType from its stable integer form.
func (d *DerivationType) UnmarshalJSON(b []byte) error {
	var v int
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*d = DerivationType(v)
	return nil
}

// Timestamp wraps time.Time so every operation serializes times as RFC3339
// UTC with millisecond precision (spec.md §4.2, §6).
type Timestamp struct {
	time.Time
}

const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

func NewTimestamp(t time.Time) Timestamp { return Timestamp{t.UTC()} }

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.UTC().Format(timestampLayout))
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := time.Parse(time.RFC3339, s)
	if err != nil {
		parsed, err = time.Parse(timestampLayout, s)
		if err != nil {
			return err
		}
	}
	t.Time = parsed.UTC()
	return nil
}

// Operation is implemented by every provenance operation variant. Kind()
// dispatches apply-time behavior; Subject() identifies the namespace the
// operation is addressed under, which both the TP's read-set computation
// (spec.md §4.5 step 3) and the projection service use for routing.
type Operation interface {
	Kind() OpKind
	Subject() identity.NamespaceID
}

type CreateNamespace struct {
	Namespace identity.NamespaceID `json:"namespace"`
}

func (o CreateNamespace) Kind() OpKind                   { return OpCreateNamespace }
func (o CreateNamespace) Subject() identity.NamespaceID { return o.Namespace }

type AgentExists struct {
	Namespace  identity.NamespaceID   `json:"namespace"`
	ExternalID string                 `json:"externalId"`
	DomainType *identity.DomainTypeID `json:"domainType,omitempty"`
}

func (o AgentExists) Kind() OpKind                   { return OpAgentExists }
func (o AgentExists) Subject() identity.NamespaceID { return o.Namespace }
func (o AgentExists) ID() identity.AgentID {
	return identity.AgentID{Namespace: o.Namespace, ExternalID: o.ExternalID}
}

type ActivityExists struct {
	Namespace  identity.NamespaceID   `json:"namespace"`
	ExternalID string                 `json:"externalId"`
	DomainType *identity.DomainTypeID `json:"domainType,omitempty"`
}

func (o ActivityExists) Kind() OpKind                   { return OpActivityExists }
func (o ActivityExists) Subject() identity.NamespaceID { return o.Namespace }
func (o ActivityExists) ID() identity.ActivityID {
	return identity.ActivityID{Namespace: o.Namespace, ExternalID: o.ExternalID}
}

type EntityExists struct {
	Namespace  identity.NamespaceID   `json:"namespace"`
	ExternalID string                 `json:"externalId"`
	DomainType *identity.DomainTypeID `json:"domainType,omitempty"`
}

func (o EntityExists) Kind() OpKind                   { return OpEntityExists }
func (o EntityExists) Subject() identity.NamespaceID { return o.Namespace }
func (o EntityExists) ID() identity.EntityID {
	return identity.EntityID{Namespace: o.Namespace, ExternalID: o.ExternalID}
}

type ActsOnBehalfOf struct {
	Namespace   identity.NamespaceID  `json:"namespace"`
	Delegate    string                `json:"delegate"`
	Responsible string                `json:"responsible"`
	Activity    string                `json:"activity,omitempty"`
	Role        string                `json:"role,omitempty"`
}

func (o ActsOnBehalfOf) Kind() OpKind                   { return OpActsOnBehalfOf }
func (o ActsOnBehalfOf) Subject() identity.NamespaceID { return o.Namespace }

type RegisterKey struct {
	Namespace  identity.NamespaceID `json:"namespace"`
	Agent      string               `json:"agent"`
	PublicKey  string               `json:"publicKey"`
}

func (o RegisterKey) Kind() OpKind                   { return OpRegisterKey }
func (o RegisterKey) Subject() identity.NamespaceID { return o.Namespace }

type WasAssociatedWith struct {
	Namespace identity.NamespaceID `json:"namespace"`
	Agent     string               `json:"agent"`
	Activity  string               `json:"activity"`
	Role      string               `json:"role,omitempty"`
}

func (o WasAssociatedWith) Kind() OpKind                   { return OpWasAssociatedWith }
func (o WasAssociatedWith) Subject() identity.NamespaceID { return o.Namespace }

type WasAttributedTo struct {
	Namespace identity.NamespaceID `json:"namespace"`
	Agent     string               `json:"agent"`
	Entity    string               `json:"entity"`
	Role      string               `json:"role,omitempty"`
}

func (o WasAttributedTo) Kind() OpKind                   { return OpWasAttributedTo }
func (o WasAttributedTo) Subject() identity.NamespaceID { return o.Namespace }

type Used struct {
	Namespace identity.NamespaceID `json:"namespace"`
	Activity  string               `json:"activity"`
	Entity    string               `json:"entity"`
}

func (o Used) Kind() OpKind                   { return OpUsed }
func (o Used) Subject() identity.NamespaceID { return o.Namespace }

// ActivityUses is the activity-first convenience constructor for the same
// Usage relation Used produces (Open Question decision, see DESIGN.md):
// spec.md §4.2 lists both Used and ActivityUses as distinct algebra cases,
// but neither §3 nor §9 describes a semantic difference. Both apply to the
// same Usage set.
type ActivityUses struct {
	Namespace identity.NamespaceID `json:"namespace"`
	Activity  string               `json:"activity"`
	Entity    string               `json:"entity"`
}

func (o ActivityUses) Kind() OpKind                   { return OpActivityUses }
func (o ActivityUses) Subject() identity.NamespaceID { return o.Namespace }

type WasGeneratedBy struct {
	Namespace identity.NamespaceID `json:"namespace"`
	Entity    string               `json:"entity"`
	Activity  string               `json:"activity"`
}

func (o WasGeneratedBy) Kind() OpKind                   { return OpWasGeneratedBy }
func (o WasGeneratedBy) Subject() identity.NamespaceID { return o.Namespace }

type WasDerivedFrom struct {
	Namespace       identity.NamespaceID `json:"namespace"`
	GeneratedEntity string               `json:"generatedEntity"`
	UsedEntity      string               `json:"usedEntity"`
	DerivationType  DerivationType       `json:"derivationType"`
}

func (o WasDerivedFrom) Kind() OpKind                   { return OpWasDerivedFrom }
func (o WasDerivedFrom) Subject() identity.NamespaceID { return o.Namespace }

type WasInformedBy struct {
	Namespace         identity.NamespaceID `json:"namespace"`
	Activity          string               `json:"activity"`
	InformingActivity string               `json:"informingActivity"`
}

func (o WasInformedBy) Kind() OpKind                   { return OpWasInformedBy }
func (o WasInformedBy) Subject() identity.NamespaceID { return o.Namespace }

type StartActivity struct {
	Namespace identity.NamespaceID `json:"namespace"`
	Activity  string               `json:"activity"`
	Time      Timestamp            `json:"time"`
}

func (o StartActivity) Kind() OpKind                   { return OpStartActivity }
func (o StartActivity) Subject() identity.NamespaceID { return o.Namespace }

type EndActivity struct {
	Namespace identity.NamespaceID `json:"namespace"`
	Activity  string               `json:"activity"`
	Time      Timestamp            `json:"time"`
}

func (o EndActivity) Kind() OpKind                   { return OpEndActivity }
func (o EndActivity) Subject() identity.NamespaceID { return o.Namespace }

// SetAttributes applies a last-write-wins-by-typename attribute merge to an
// agent, activity, or entity (spec.md §3 invariant 3, §4.3).
type SetAttributes struct {
	Namespace  identity.NamespaceID       `json:"namespace"`
	TargetKind identity.Kind              `json:"targetKind"`
	ExternalID string                     `json:"externalId"`
	Attributes map[string]json.RawMessage `json:"attributes"`
}

func (o SetAttributes) Kind() OpKind                   { return OpSetAttributes }
func (o SetAttributes) Subject() identity.NamespaceID { return o.Namespace }

// WasAssociatedWithAttachment defines an Attachment record — signer,
// signature time, detached signature over a locator — and links it to an
// entity via hadAttachment, in one operation (the algebra's only attachment
// case; spec.md §3 Attachment row and §4.2).
type WasAssociatedWithAttachment struct {
	Namespace     identity.NamespaceID `json:"namespace"`
	Entity        string               `json:"entity"`
	Signer        string               `json:"signer"`
	Signature     string               `json:"signature"`
	SignatureTime Timestamp            `json:"signatureTime"`
	Locator       string               `json:"locator"`
}

func (o WasAssociatedWithAttachment) Kind() OpKind                   { return OpWasAssociatedWithAttachment }
func (o WasAssociatedWithAttachment) Subject() identity.NamespaceID { return o.Namespace }
