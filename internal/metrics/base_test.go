package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_FixedCatalogue(t *testing.T) {
	ids := IDs()
	require.Len(t, ids, 30)

	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		assert.False(t, seen[id], "duplicate metric id %s", id)
		seen[id] = true
	}

	assert.Equal(t, "working_capital", ids[0])
	assert.Equal(t, "return_on_invested_capital", ids[len(ids)-1])
}

func TestByID(t *testing.T) {
	for _, id := range IDs() {
		m, ok := ByID(id)
		require.True(t, ok, id)
		assert.Equal(t, id, m.ID())
	}
	_, ok := ByID("no_such_metric")
	assert.False(t, ok)
}

func TestResult_OK(t *testing.T) {
	assert.True(t, Result{Value: 1.5}.OK())
	assert.False(t, gapResult("ACME", "working_capital", GapMissingInput).OK())
}
