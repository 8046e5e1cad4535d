package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordTransactionUpdatesCounterAndHistogram(t *testing.T) {
	m := NewWithRegistry("chronicled", prometheus.NewRegistry())

	m.RecordTransaction("chronicled", "chronicle-prov", "committed", 50*time.Millisecond)

	assert.Equal(t, float64(1), testutil.ToFloat64(
		m.TransactionsTotal.WithLabelValues("chronicled", "chronicle-prov", "committed")))
}

func TestRecordPolicyDecisionIncrementsByDecision(t *testing.T) {
	m := NewWithRegistry("chronicled", prometheus.NewRegistry())

	m.RecordPolicyDecision("chronicled", "allow")
	m.RecordPolicyDecision("chronicled", "allow")
	m.RecordPolicyDecision("chronicled", "deny")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.PolicyDecisionsTotal.WithLabelValues("chronicled", "allow")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.PolicyDecisionsTotal.WithLabelValues("chronicled", "deny")))
}

func TestSetProjectorLagReflectsLatestValue(t *testing.T) {
	m := NewWithRegistry("projector", prometheus.NewRegistry())

	m.SetProjectorLag(5)
	assert.Equal(t, float64(5), testutil.ToFloat64(m.ProjectorLagOffsets))

	m.SetProjectorLag(0)
	assert.Equal(t, float64(0), testutil.ToFloat64(m.ProjectorLagOffsets))
}

func TestRecordErrorIncrementsByCode(t *testing.T) {
	m := NewWithRegistry("chronicled", prometheus.NewRegistry())

	m.RecordError("chronicled", "POLICY_DENIED")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("chronicled", "POLICY_DENIED")))
}

func TestNewWithRegistryNilRegistererDoesNotPanic(t *testing.T) {
	m := NewWithRegistry("chronicled", nil)
	require.NotNil(t, m)
	m.RecordCommit(10 * time.Millisecond)
}

func TestEnabledDefaultsTrue(t *testing.T) {
	t.Setenv("METRICS_ENABLED", "")
	assert.True(t, Enabled())
}

func TestEnabledHonorsFalseValues(t *testing.T) {
	t.Setenv("METRICS_ENABLED", "false")
	assert.False(t, Enabled())
}
