package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearChronicleEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"CHRONICLE_ENV", "CHRONICLE_VALIDATOR_ADDR", "CHRONICLE_VALIDATOR_PEERS",
		"CHRONICLE_FAMILY_PREFIX", "CHRONICLE_SIGNER_BACKEND", "CHRONICLE_POSTGRES_DSN",
		"CHRONICLE_DB_MAX_CONNECTIONS", "CHRONICLE_DB_IDLE_TIMEOUT", "CHRONICLE_POLICY_CACHE_ENABLED",
		"CHRONICLE_SUBMIT_MAX_ATTEMPTS", "CHRONICLE_SUBMIT_INITIAL_DELAY", "CHRONICLE_SUBMIT_MAX_DELAY",
		"CHRONICLE_COMMIT_TIMEOUT", "LOG_LEVEL", "LOG_FORMAT", "CHRONICLE_METRICS_ENABLED", "CHRONICLE_METRICS_PORT",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	clearChronicleEnv(t)
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, Development, cfg.Env)
	assert.Equal(t, "secp256k1", cfg.SignerBackend)
	assert.Equal(t, 20, cfg.DBMaxConnections)
	assert.Equal(t, 9090, cfg.MetricsPort)
	assert.False(t, cfg.MetricsEnabled)
}

func TestLoadRejectsInvalidEnv(t *testing.T) {
	clearChronicleEnv(t)
	t.Setenv("CHRONICLE_ENV", "bogus")

	_, err := Load()
	assert.Error(t, err)
}

func TestValidateRequiresPostgresDSNInProduction(t *testing.T) {
	clearChronicleEnv(t)
	t.Setenv("CHRONICLE_ENV", "production")

	cfg, err := Load()
	require.NoError(t, err)

	err = cfg.Validate()
	assert.Error(t, err)

	cfg.PostgresDSN = "postgres://localhost/chronicle"
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsUnknownSignerBackend(t *testing.T) {
	clearChronicleEnv(t)
	t.Setenv("CHRONICLE_SIGNER_BACKEND", "rsa")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsOutOfRangeMetricsPort(t *testing.T) {
	clearChronicleEnv(t)
	t.Setenv("CHRONICLE_METRICS_PORT", "80")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Error(t, cfg.Validate())
}

func TestValidatorPeersDefaultsToValidatorAddr(t *testing.T) {
	clearChronicleEnv(t)
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{cfg.ValidatorAddr}, cfg.ValidatorPeers)
}

func TestValidatorPeersSplitsCSV(t *testing.T) {
	clearChronicleEnv(t)
	t.Setenv("CHRONICLE_VALIDATOR_PEERS", "tcp://a:4004, tcp://b:4004 ,tcp://c:4004")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"tcp://a:4004", "tcp://b:4004", "tcp://c:4004"}, cfg.ValidatorPeers)
}
