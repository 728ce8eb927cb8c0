package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/iliyamo/beacon-signal-engine/internal/config"
	"github.com/iliyamo/beacon-signal-engine/internal/geo"
	"github.com/iliyamo/beacon-signal-engine/internal/model"
)

// HeatMap reads live heat bins for the map view.
type HeatMap struct {
	heat geo.HeatStore
	cfg  config.EngineConfig
	now  func() time.Time
}

func NewHeatMap(heat geo.HeatStore, cfg config.EngineConfig, now func() time.Time) *HeatMap {
	if now == nil {
		now = time.Now
	}
	return &HeatMap{heat: heat, cfg: cfg, now: now}
}

// Live returns the unexpired bins of city, hottest first.  The unknown bin
// has no position and is left off the map.
func (h *HeatMap) Live(ctx context.Context, city string) ([]model.HeatBin, error) {
	if strings.TrimSpace(city) == "" {
		return nil, fail(ErrMalformed, "city is required")
	}
	cctx, cancel := context.WithTimeout(ctx, h.cfg.StoreTimeout)
	defer cancel()
	bins, err := h.heat.Live(cctx, city, h.now().UTC())
	if err != nil {
		return nil, storeErr("load heat map", err)
	}
	located := bins[:0]
	for _, b := range bins {
		if b.GeoBin != geo.Unknown {
			located = append(located, b)
		}
	}
	bins = located
	sort.SliceStable(bins, func(i, j int) bool {
		if bins[i].HeatValue != bins[j].HeatValue {
			return bins[i].HeatValue > bins[j].HeatValue
		}
		return bins[i].GeoBin < bins[j].GeoBin
	})
	return bins, nil
}
