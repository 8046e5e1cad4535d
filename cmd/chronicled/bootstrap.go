package main

import (
	"context"
	"encoding/hex"
	"os"
	"strings"

	"github.com/chronicle-ledger/chronicle/internal/ledgertest"
	"github.com/chronicle-ledger/chronicle/internal/logging"
	"github.com/chronicle-ledger/chronicle/internal/policytp"
	"github.com/chronicle-ledger/chronicle/internal/state"
)

// maybeBootstrapPolicy sets a namespace's root policy key on first start if
// CHRONICLE_POLICY_NAMESPACE and CHRONICLE_POLICY_ROOT_PUBKEY (hex) are
// both set. This is operator-driven environment configuration, not a
// domain CLI. It is safe to repeat: once a root key exists for the
// namespace, ApplyBootstrap rejects with AlreadyBootstrapped, nothing is
// written, and the rejection is logged as a warning.
func maybeBootstrapPolicy(ctx context.Context, ledger *ledgertest.Ledger, proc *policytp.Processor, log *logging.Logger) {
	namespace := strings.TrimSpace(os.Getenv("CHRONICLE_POLICY_NAMESPACE"))
	pubkeyHex := strings.TrimSpace(os.Getenv("CHRONICLE_POLICY_ROOT_PUBKEY"))
	backend := strings.TrimSpace(os.Getenv("CHRONICLE_SIGNER_BACKEND"))
	if namespace == "" || pubkeyHex == "" {
		return
	}
	pubkey, err := hex.DecodeString(pubkeyHex)
	if err != nil {
		log.WithError(err).Warn("invalid CHRONICLE_POLICY_ROOT_PUBKEY, skipping policy bootstrap")
		return
	}
	if backend == "" {
		backend = "secp256k1"
	}

	_, _, err = ledger.Apply(ctx, func(ctx context.Context, sc state.Context, txID string, offset uint64) error {
		return proc.ApplyBootstrap(ctx, sc, policytp.Bootstrap{
			Namespace: namespace, RootBackend: backend, RootPubkey: pubkey,
		})
	})
	if err != nil {
		log.WithError(err).Warn("policy root key bootstrap skipped")
		return
	}
	log.WithFields(map[string]interface{}{"namespace": namespace}).Info("policy root key bootstrapped")
}
