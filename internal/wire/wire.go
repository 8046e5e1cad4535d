// Package wire defines Chronicle's ledger payload envelope (spec.md §6).
// The original spec calls for a protobuf-style fixed-field-order envelope;
// no protobuf toolchain is exercised anywhere else in this codebase's
// dependency stack, so the envelope is a plain Go struct serialized as
// canonical JSON (encoding/json's automatic map-key sorting already gives
// byte-deterministic output — see DESIGN.md for why protobuf codegen was
// not introduced for this alone).
package wire

import (
	"encoding/json"

	"github.com/chronicle-ledger/chronicle/internal/identity"
	"github.com/chronicle-ledger/chronicle/internal/prov"

	cherrors "github.com/chronicle-ledger/chronicle/internal/errors"
)

// Submission is the signed payload body: a correlation id, the namespace
// the batch is addressed under, and the ordered operation batch.
type Submission struct {
	CorrelationID string               `json:"correlationId"`
	Namespace     identity.NamespaceID `json:"namespace"`
	Operations    []prov.Operation     `json:"-"`
}

// submissionWire is Submission's encoding/json-friendly shadow: Operations
// must go through prov.MarshalOperations/ParseOperations because Operation
// is an interface.
type submissionWire struct {
	CorrelationID string               `json:"correlationId"`
	Namespace     identity.NamespaceID `json:"namespace"`
	Operations    json.RawMessage      `json:"operations"`
}

func (s Submission) MarshalJSON() ([]byte, error) {
	ops, err := prov.MarshalOperations(s.Operations)
	if err != nil {
		return nil, err
	}
	return json.Marshal(submissionWire{CorrelationID: s.CorrelationID, Namespace: s.Namespace, Operations: ops})
}

func (s *Submission) UnmarshalJSON(b []byte) error {
	var w submissionWire
	if err := json.Unmarshal(b, &w); err != nil {
		return cherrors.UnparseablePayload(err)
	}
	ops, err := prov.ParseOperations(w.Operations)
	if err != nil {
		return err
	}
	s.CorrelationID = w.CorrelationID
	s.Namespace = w.Namespace
	s.Operations = ops
	return nil
}

// SignedOperations is the full ledger transaction payload: a signature and
// verifying key over the canonical JSON encoding of Submission.
type SignedOperations struct {
	IdentityVerifyingKey []byte     `json:"identityVerifyingKey"`
	SignerBackend        string     `json:"signerBackend"`
	Signature            []byte     `json:"signature"`
	Payload              Submission `json:"payload"`
}

// CanonicalPayloadBytes returns the exact bytes the signature in
// SignedOperations is computed over: the canonical JSON encoding of Payload.
func (s SignedOperations) CanonicalPayloadBytes() ([]byte, error) {
	return json.Marshal(s.Payload)
}

// Marshal encodes a SignedOperations envelope.
func Marshal(so SignedOperations) ([]byte, error) {
	raw, err := json.Marshal(so)
	if err != nil {
		return nil, cherrors.UnparseablePayload(err)
	}
	return raw, nil
}

// Unmarshal decodes a SignedOperations envelope.
func Unmarshal(data []byte) (SignedOperations, error) {
	var so SignedOperations
	if err := json.Unmarshal(data, &so); err != nil {
		return SignedOperations{}, cherrors.UnparseablePayload(err)
	}
	return so, nil
}

// CommitEvent mirrors state.Event's shape specialized to the fields spec.md
// §6 names: family_prefix, tx_id, offset_string, json_ld_delta.
type CommitEvent struct {
	FamilyPrefix string `json:"familyPrefix"`
	TxID         string `json:"txId"`
	Offset       uint64 `json:"offset"`
	JSONLDDelta  []byte `json:"jsonLdDelta"`
	Operations   []prov.Operation `json:"-"`
}

type commitEventWire struct {
	FamilyPrefix string          `json:"familyPrefix"`
	TxID         string          `json:"txId"`
	Offset       uint64          `json:"offset"`
	JSONLDDelta  []byte          `json:"jsonLdDelta"`
	Operations   json.RawMessage `json:"operations"`
}

func (c CommitEvent) MarshalJSON() ([]byte, error) {
	ops, err := prov.MarshalOperations(c.Operations)
	if err != nil {
		return nil, err
	}
	return json.Marshal(commitEventWire{
		FamilyPrefix: c.FamilyPrefix, TxID: c.TxID, Offset: c.Offset,
		JSONLDDelta: c.JSONLDDelta, Operations: ops,
	})
}

func (c *CommitEvent) UnmarshalJSON(b []byte) error {
	var w commitEventWire
	if err := json.Unmarshal(b, &w); err != nil {
		return cherrors.UnparseablePayload(err)
	}
	ops, err := prov.ParseOperations(w.Operations)
	if err != nil {
		return err
	}
	c.FamilyPrefix = w.FamilyPrefix
	c.TxID = w.TxID
	c.Offset = w.Offset
	c.JSONLDDelta = w.JSONLDDelta
	c.Operations = ops
	return nil
}
