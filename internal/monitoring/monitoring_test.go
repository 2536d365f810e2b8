package monitoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics(t *testing.T) {
	metrics := NewMetrics()
	require.NotNil(t, metrics)

	assert.NotNil(t, metrics.OperationsSubmitted)
	assert.NotNil(t, metrics.OperationsApplied)
	assert.NotNil(t, metrics.OperationsIgnored)
	assert.NotNil(t, metrics.OperationsUnknown)
	assert.NotNil(t, metrics.ReconciliationErrors)
	assert.NotNil(t, metrics.PendingKeys)
	assert.NotNil(t, metrics.PendingSubDirs)
	assert.NotNil(t, metrics.SnapshotBlobCount)
	assert.NotNil(t, metrics.SnapshotBytes)
	assert.NotNil(t, metrics.RestoreDuration)
	assert.NotNil(t, metrics.ActiveContainers)
}
