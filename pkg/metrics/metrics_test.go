package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersOnGivenRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RowsIndexedTotal.Add(3)
	m.PredictionsTotal.WithLabelValues(OutcomeScored).Inc()
	m.PredictionsTotal.WithLabelValues(OutcomeNoNeighbors).Inc()
	m.PredictionsTotal.WithLabelValues(OutcomeNoNeighbors).Inc()

	assert.Equal(t, 3.0, testutil.ToFloat64(m.RowsIndexedTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.PredictionsTotal.WithLabelValues(OutcomeNoNeighbors)))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["knn_rows_indexed_total"])
	assert.True(t, names["knn_predictions_total"])

	// a second set on a fresh registry does not collide
	assert.NotPanics(t, func() { New(prometheus.NewRegistry()) })
}
