package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/beacon-signal-engine/internal/geo"
	"github.com/iliyamo/beacon-signal-engine/internal/model"
	"github.com/iliyamo/beacon-signal-engine/internal/testutil"
)

func TestHeatMap_Live(t *testing.T) {
	store := geo.NewMemoryHeatStore()
	inc := func(bin string, v float64, at time.Time) {
		require.NoError(t, store.Increment(context.Background(), geo.Increment{
			GeoBin: bin, Source: model.HeatSourceScan, City: "London", HeatValue: v, TTLHours: 2, Now: at,
		}))
	}
	inc("a", 1, t0)
	inc("b", 5, t0)
	inc("stale", 50, t0.Add(-3*time.Hour))
	inc(geo.Unknown, 9, t0)

	h := NewHeatMap(store, testutil.EngineConfig(), func() time.Time { return t0 })
	bins, err := h.Live(context.Background(), "London")
	require.NoError(t, err)
	require.Len(t, bins, 2)
	assert.Equal(t, "b", bins[0].GeoBin)
	assert.Equal(t, "a", bins[1].GeoBin)

	_, err = h.Live(context.Background(), " ")
	assert.ErrorIs(t, err, ErrMalformed)
}
