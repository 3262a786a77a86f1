package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/achilleasa/slabpool/slab"
)

func TestCollectorExposesPoolStats(t *testing.T) {
	region := make([]byte, 1<<20)
	pool, err := slab.Init(region, slab.Config{PageSize: 4096})
	require.NoError(t, err)

	_, err = pool.Alloc(16)
	require.NoError(t, err)

	c := NewCollector(pool, "demo")
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(c))

	count, err := testutil.GatherAndCount(reg, "slabpool_class_slots_used")
	require.NoError(t, err)
	require.Greater(t, count, 0)
}
