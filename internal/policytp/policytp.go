// Package policytp implements the Policy Transaction Processor (spec.md
// §4.6): a root-key bootstrap/rotation object and a signed policy bundle,
// both stored at deterministic addresses in the same opaque state.Context
// the provenance TP uses.
package policytp

import (
	"context"
	"encoding/json"

	"github.com/chronicle-ledger/chronicle/internal/ledgeraddr"
	"github.com/chronicle-ledger/chronicle/internal/policy"
	"github.com/chronicle-ledger/chronicle/internal/signer"
	"github.com/chronicle-ledger/chronicle/internal/state"

	cherrors "github.com/chronicle-ledger/chronicle/internal/errors"
)

// OpKind is the closed set of policy TP operations.
type OpKind string

const (
	OpBootstrap    OpKind = "Bootstrap"
	OpRegisterKey  OpKind = "RegisterKey"
	OpSetPolicy    OpKind = "SetPolicy"
)

// Bootstrap sets the root key the first time a namespace's policy space is
// used; it fails if a root key is already set.
type Bootstrap struct {
	Namespace    string `json:"namespace"`
	RootBackend  string `json:"rootBackend"`
	RootPubkey   []byte `json:"rootPubkey"`
}

// RegisterKey rotates the root key; Signature must verify under the
// *current* root key (spec.md §4.6).
type RegisterKey struct {
	Namespace   string `json:"namespace"`
	NewBackend  string `json:"newBackend"`
	NewPubkey   []byte `json:"newPubkey"`
	Signature   []byte `json:"signature"`
}

// SetPolicy atomically replaces the active bundle; Signature must verify
// under the current root key.
type SetPolicy struct {
	Namespace    string `json:"namespace"`
	BundleBytes  []byte `json:"bundleBytes"`
	Entrypoint   string `json:"entrypoint"`
	Signature    []byte `json:"signature"`
}

// rootKeyRecord is the on-chain root key object.
type rootKeyRecord struct {
	Backend string `json:"backend"`
	Pubkey  []byte `json:"pubkey"`
}

// bundleRecord is the on-chain policy bundle object.
type bundleRecord struct {
	BundleBytes []byte `json:"bundleBytes"`
	Entrypoint  string `json:"entrypoint"`
}

// Processor applies policy TP operations against a state.Context and keeps
// the policy Engine's evaluator cache coherent with on-chain bundle changes.
type Processor struct {
	engine *policy.Engine
}

// New returns a Processor sharing the given policy evaluation engine, so
// SetPolicy can invalidate its cache for the replaced bundle.
func New(engine *policy.Engine) *Processor {
	return &Processor{engine: engine}
}

// signingPayload returns the canonical bytes a policy TP mutation's
// signature is computed over: everything except the signature field itself.
func signingPayload(namespace string, kind OpKind, fields map[string]interface{}) ([]byte, error) {
	payload := map[string]interface{}{"namespace": namespace, "kind": kind}
	for k, v := range fields {
		payload[k] = v
	}
	return json.Marshal(payload)
}

// ApplyBootstrap stores the root key if none is yet set.
func (p *Processor) ApplyBootstrap(ctx context.Context, sc state.Context, op Bootstrap) error {
	addr := ledgeraddr.PolicyRootAddress(op.Namespace)
	existing, err := sc.GetMany(ctx, []string{addr})
	if err != nil {
		return err
	}
	if _, ok := existing[addr]; ok {
		return cherrors.AlreadyBootstrapped()
	}
	raw, err := json.Marshal(rootKeyRecord{Backend: op.RootBackend, Pubkey: op.RootPubkey})
	if err != nil {
		return cherrors.UnparseablePayload(err)
	}
	return sc.SetMany(ctx, map[string][]byte{addr: raw})
}

// ApplyRegisterKey rotates the root key after verifying op.Signature under
// the current root key.
func (p *Processor) ApplyRegisterKey(ctx context.Context, sc state.Context, op RegisterKey) error {
	addr := ledgeraddr.PolicyRootAddress(op.Namespace)
	existing, err := sc.GetMany(ctx, []string{addr})
	if err != nil {
		return err
	}
	raw, ok := existing[addr]
	if !ok {
		return cherrors.New(cherrors.CodeBadRootSignature, "no root key bootstrapped for namespace")
	}
	var current rootKeyRecord
	if err := json.Unmarshal(raw, &current); err != nil {
		return cherrors.UnparseablePayload(err)
	}

	payload, err := signingPayload(op.Namespace, OpRegisterKey, map[string]interface{}{
		"newBackend": op.NewBackend, "newPubkey": op.NewPubkey,
	})
	if err != nil {
		return err
	}
	ok, err = signer.DefaultVerifier.Verify(current.Backend, payload, op.Signature, current.Pubkey)
	if err != nil || !ok {
		return cherrors.BadRootSignature()
	}

	newRaw, err := json.Marshal(rootKeyRecord{Backend: op.NewBackend, Pubkey: op.NewPubkey})
	if err != nil {
		return cherrors.UnparseablePayload(err)
	}
	return sc.SetMany(ctx, map[string][]byte{addr: newRaw})
}

// ApplySetPolicy atomically replaces the active bundle for a namespace,
// after verifying op.Signature under the current root key, and invalidates
// the policy engine's cached evaluator for the replaced bundle.
func (p *Processor) ApplySetPolicy(ctx context.Context, sc state.Context, op SetPolicy) error {
	rootAddr := ledgeraddr.PolicyRootAddress(op.Namespace)
	bundleAddr := ledgeraddr.PolicyBundleAddress(op.Namespace, "active")

	existing, err := sc.GetMany(ctx, []string{rootAddr, bundleAddr})
	if err != nil {
		return err
	}
	rootRaw, ok := existing[rootAddr]
	if !ok {
		return cherrors.New(cherrors.CodeBadRootSignature, "no root key bootstrapped for namespace")
	}
	var root rootKeyRecord
	if err := json.Unmarshal(rootRaw, &root); err != nil {
		return cherrors.UnparseablePayload(err)
	}

	payload, err := signingPayload(op.Namespace, OpSetPolicy, map[string]interface{}{
		"bundleBytes": op.BundleBytes, "entrypoint": op.Entrypoint,
	})
	if err != nil {
		return err
	}
	ok, err = signer.DefaultVerifier.Verify(root.Backend, payload, op.Signature, root.Pubkey)
	if err != nil || !ok {
		return cherrors.BadRootSignature()
	}

	if len(op.BundleBytes) == 0 {
		return cherrors.BundleUnparseable(nil)
	}

	if oldRaw, hadOld := existing[bundleAddr]; hadOld {
		var old bundleRecord
		if err := json.Unmarshal(oldRaw, &old); err == nil {
			p.engine.Invalidate(policy.Bundle{Source: old.BundleBytes, Entrypoint: old.Entrypoint}.Hash())
		}
	}

	newRaw, err := json.Marshal(bundleRecord{BundleBytes: op.BundleBytes, Entrypoint: op.Entrypoint})
	if err != nil {
		return cherrors.UnparseablePayload(err)
	}
	return sc.SetMany(ctx, map[string][]byte{bundleAddr: newRaw})
}

// LoadBundle fetches the active bundle for a namespace, used by the
// provenance TP before running the policy gate (spec.md §4.5 step 4).
func LoadBundle(ctx context.Context, sc state.Context, namespace string) (policy.Bundle, bool, error) {
	addr := ledgeraddr.PolicyBundleAddress(namespace, "active")
	existing, err := sc.GetMany(ctx, []string{addr})
	if err != nil {
		return policy.Bundle{}, false, err
	}
	raw, ok := existing[addr]
	if !ok {
		return policy.Bundle{}, false, nil
	}
	var rec bundleRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return policy.Bundle{}, false, cherrors.UnparseablePayload(err)
	}
	return policy.Bundle{Source: rec.BundleBytes, Entrypoint: rec.Entrypoint}, true, nil
}
