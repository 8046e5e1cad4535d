// Package signer implements Chronicle's signing capability (spec.md §6,
// §9 "Dynamic dispatch"): a small, backend-agnostic interface hiding
// private key material behind sign/verify, with secp256k1 and ed25519
// concrete backends. Grounded on the ECDSA key-pair conventions in
// internal/crypto/crypto.go, adapted from P-256/Neo N3 to secp256k1 and
// extended with an ed25519 alternative per spec.md §6's "both must be
// supported" requirement.
package signer

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	cherrors "github.com/chronicle-ledger/chronicle/internal/errors"
)

// Backend names Chronicle recognizes (config.Config.SignerBackend).
const (
	BackendSecp256k1 = "secp256k1"
	BackendEd25519   = "ed25519"
)

// Signer is the capability every submitter and TP root-key holder is given:
// sign produces a signature plus the verifying key that can check it;
// private key material never crosses this boundary (spec.md §4.8).
type Signer interface {
	Sign(data []byte) (signature []byte, verifyingKey []byte, err error)
	Backend() string
}

// Verifier checks a signature against a declared verifying key. Verification
// is backend-agnostic at the call site: the backend is named alongside the
// key so the TP and policy TP can verify without holding a live Signer.
type Verifier interface {
	Verify(backend string, data, signature, verifyingKey []byte) (bool, error)
}

// ===========================================================================
// secp256k1 ECDSA backend
// ===========================================================================

type secp256k1Signer struct {
	priv *secp256k1.PrivateKey
}

// NewSecp256k1 generates a new random secp256k1 key pair.
func NewSecp256k1() (Signer, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate secp256k1 key: %w", err)
	}
	return &secp256k1Signer{priv: priv}, nil
}

// NewSecp256k1FromHex loads a secp256k1 signer from a hex-encoded 32-byte
// private key scalar.
func NewSecp256k1FromHex(hexKey string) (Signer, error) {
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decode secp256k1 private key: %w", err)
	}
	priv := secp256k1.PrivKeyFromBytes(raw)
	return &secp256k1Signer{priv: priv}, nil
}

func (s *secp256k1Signer) Backend() string { return BackendSecp256k1 }

func (s *secp256k1Signer) Sign(data []byte) ([]byte, []byte, error) {
	hash := sha256.Sum256(data)
	sig := ecdsa.Sign(s.priv, hash[:])
	return sig.Serialize(), s.priv.PubKey().SerializeCompressed(), nil
}

func verifySecp256k1(data, signature, verifyingKey []byte) (bool, error) {
	pub, err := secp256k1.ParsePubKey(verifyingKey)
	if err != nil {
		return false, cherrors.UnknownKey(hex.EncodeToString(verifyingKey))
	}
	sig, err := ecdsa.ParseDERSignature(signature)
	if err != nil {
		return false, cherrors.BadSignature(err)
	}
	hash := sha256.Sum256(data)
	return sig.Verify(hash[:], pub), nil
}

// ===========================================================================
// ed25519 backend
// ===========================================================================

type ed25519Signer struct {
	priv ed25519.PrivateKey
}

// NewEd25519 generates a new random ed25519 key pair.
func NewEd25519() (Signer, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	return &ed25519Signer{priv: priv}, nil
}

// NewEd25519FromSeed loads an ed25519 signer from a hex-encoded 32-byte seed.
func NewEd25519FromSeed(hexSeed string) (Signer, error) {
	seed, err := hex.DecodeString(hexSeed)
	if err != nil {
		return nil, fmt.Errorf("decode ed25519 seed: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("ed25519 seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return &ed25519Signer{priv: ed25519.NewKeyFromSeed(seed)}, nil
}

func (s *ed25519Signer) Backend() string { return BackendEd25519 }

func (s *ed25519Signer) Sign(data []byte) ([]byte, []byte, error) {
	sig := ed25519.Sign(s.priv, data)
	pub := s.priv.Public().(ed25519.PublicKey)
	return sig, []byte(pub), nil
}

func verifyEd25519(data, signature, verifyingKey []byte) (bool, error) {
	if len(verifyingKey) != ed25519.PublicKeySize {
		return false, cherrors.UnknownKey(hex.EncodeToString(verifyingKey))
	}
	return ed25519.Verify(ed25519.PublicKey(verifyingKey), data, signature), nil
}

// ===========================================================================
// Backend-agnostic verification
// ===========================================================================

type defaultVerifier struct{}

// DefaultVerifier dispatches verification to the named backend.
var DefaultVerifier Verifier = defaultVerifier{}

func (defaultVerifier) Verify(backend string, data, signature, verifyingKey []byte) (bool, error) {
	switch backend {
	case BackendSecp256k1:
		return verifySecp256k1(data, signature, verifyingKey)
	case BackendEd25519:
		return verifyEd25519(data, signature, verifyingKey)
	default:
		return false, cherrors.New(cherrors.CodeUnknownKey, fmt.Sprintf("unrecognized signer backend: %s", backend))
	}
}

// New constructs a fresh signer for the named backend.
func New(backend string) (Signer, error) {
	switch backend {
	case BackendSecp256k1:
		return NewSecp256k1()
	case BackendEd25519:
		return NewEd25519()
	default:
		return nil, fmt.Errorf("unrecognized signer backend: %s", backend)
	}
}
