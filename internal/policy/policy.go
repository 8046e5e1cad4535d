// Package policy implements the Policy Engine gate (spec.md §4.7). No Rego
// evaluator exists anywhere in this project's dependency corpus, so bundles
// are sandboxed JavaScript modules executed with goja — the same pure-Go
// script runtime the TEE script engine uses to sandbox untrusted code
// (system/tee/script_engine.go) — exposing an `allow(input)` entrypoint
// instead of Rego's `allow` rule. This is a deliberate substitution, not an
// approximation of Rego semantics; see DESIGN.md for the full rationale.
package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dop251/goja"

	cherrors "github.com/chronicle-ledger/chronicle/internal/errors"
	"github.com/chronicle-ledger/chronicle/internal/metrics"
)

// IdentityType names the category of caller a decision input describes.
type IdentityType string

const (
	IdentityChronicle IdentityType = "chronicle"
	IdentityAnonymous IdentityType = "anonymous"
	IdentityJWT       IdentityType = "jwt"
)

// DecisionInput is the structured input passed to the bundle's entrypoint
// (spec.md §4.7).
type DecisionInput struct {
	Type            IdentityType      `json:"type"`
	IdentityClaims  map[string]string `json:"identity_claims,omitempty"`
	OperationKind   string            `json:"operation_kind"`
	OperationState  []string          `json:"operation_state"`
}

// Bundle is a named, versioned JavaScript policy module plus its entrypoint
// function name (spec.md §4.6's on-chain policy bundle object, decoded).
type Bundle struct {
	Source     []byte
	Entrypoint string
}

// Hash returns the SHA-256 digest of the bundle source, used as half of the
// evaluator cache key (spec.md §4.7 "cached keyed by (bundle_hash,
// entrypoint)").
func (b Bundle) Hash() string {
	h := sha256.Sum256(b.Source)
	return hex.EncodeToString(h[:])
}

// cacheKey combines bundle hash and entrypoint per spec.md §4.7.
func cacheKey(hash, entrypoint string) string {
	return hash + "/" + entrypoint
}

type evaluator struct {
	program *goja.Program
}

// Engine evaluates policy bundles against decision inputs, caching compiled
// evaluators keyed by (bundle_hash, entrypoint). The cache is the one piece
// of process-global state permitted by spec.md §9 "Global state", and it is
// invalidated explicitly by Invalidate whenever a SetPolicy event changes
// the active bundle for an address.
type Engine struct {
	mu      sync.Mutex
	cache   map[string]*evaluator
	metrics *metrics.Metrics
}

// New returns an Engine with an empty evaluator cache and metrics collection
// disabled.
func New() *Engine {
	return &Engine{cache: make(map[string]*evaluator)}
}

// NewWithMetrics returns an Engine that also records
// chronicle_policy_decisions_total against m for every Evaluate call.
func NewWithMetrics(m *metrics.Metrics) *Engine {
	return &Engine{cache: make(map[string]*evaluator), metrics: m}
}

func (e *Engine) recordDecision(allow bool, err error) {
	if e.metrics == nil {
		return
	}
	decision := "deny"
	if err != nil {
		decision = "error"
	} else if allow {
		decision = "allow"
	}
	e.metrics.RecordPolicyDecision("policy", decision)
}

// Invalidate drops any cached evaluator for the given bundle hash, across
// all entrypoints it may have been compiled under.
func (e *Engine) Invalidate(bundleHash string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	prefix := bundleHash + "/"
	for k := range e.cache {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(e.cache, k)
		}
	}
}

func (e *Engine) compile(bundle Bundle) (*evaluator, error) {
	hash := bundle.Hash()
	key := cacheKey(hash, bundle.Entrypoint)

	e.mu.Lock()
	if ev, ok := e.cache[key]; ok {
		e.mu.Unlock()
		return ev, nil
	}
	e.mu.Unlock()

	prog, err := goja.Compile("policy-bundle.js", string(bundle.Source), false)
	if err != nil {
		return nil, cherrors.BundleUnparseable(err)
	}
	ev := &evaluator{program: prog}

	e.mu.Lock()
	e.cache[key] = ev
	e.mu.Unlock()

	return ev, nil
}

// Evaluate runs bundle.Entrypoint(input) in a fresh, isolated goja runtime
// and reports whether the transaction is admitted: truthy `allow` on the
// result admits it, anything else (including an execution error) denies it.
func (e *Engine) Evaluate(bundle Bundle, input DecisionInput) (allow bool, reason string, err error) {
	defer func() { e.recordDecision(allow, err) }()

	ev, err := e.compile(bundle)
	if err != nil {
		return false, "", err
	}

	vm := goja.New()
	if _, err := vm.RunProgram(ev.program); err != nil {
		return false, "", cherrors.BundleUnparseable(err)
	}

	entry, ok := goja.AssertFunction(vm.Get(bundle.Entrypoint))
	if !ok {
		return false, "", cherrors.BundleUnparseable(fmt.Errorf("entrypoint %q is not a function", bundle.Entrypoint))
	}

	raw, err := json.Marshal(input)
	if err != nil {
		return false, "", cherrors.UnparseablePayload(err)
	}
	var inputMap map[string]interface{}
	if err := json.Unmarshal(raw, &inputMap); err != nil {
		return false, "", cherrors.UnparseablePayload(err)
	}

	result, err := entry(goja.Undefined(), vm.ToValue(inputMap))
	if err != nil {
		return false, "", nil // a throwing bundle denies without surfacing a TP error
	}

	exported := result.Export()
	switch v := exported.(type) {
	case bool:
		return v, "", nil
	case map[string]interface{}:
		allowVal, _ := v["allow"].(bool)
		reasonVal, _ := v["reason"].(string)
		return allowVal, reasonVal, nil
	default:
		return false, "bundle entrypoint returned a non-boolean, non-object result", nil
	}
}
