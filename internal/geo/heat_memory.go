package geo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/beacon-signal-engine/internal/model"
)

// MemoryHeatStore is the single-replica HeatStore used without Redis and in
// tests.
type MemoryHeatStore struct {
	mu   sync.Mutex
	bins map[string]*model.HeatBin
}

func NewMemoryHeatStore() *MemoryHeatStore {
	return &MemoryHeatStore{bins: make(map[string]*model.HeatBin)}
}

func memKey(city, bin string) string { return CityKey(city) + "|" + bin }

func (s *MemoryHeatStore) Increment(_ context.Context, inc Increment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := memKey(inc.City, inc.GeoBin)
	b, ok := s.bins[k]
	if !ok || !inc.Now.Before(b.ExpiresAt) {
		b = &model.HeatBin{GeoBin: inc.GeoBin}
		s.bins[k] = b
	}
	b.HeatValue += inc.HeatValue
	b.Source = inc.Source
	b.City = inc.City
	b.Lat, b.Lng = inc.Lat, inc.Lng
	b.TTLHours = inc.TTLHours
	b.ExpiresAt = inc.ExpiresAt()
	return nil
}

func (s *MemoryHeatStore) Live(_ context.Context, city string, now time.Time) ([]model.HeatBin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.HeatBin{}
	for _, b := range s.bins {
		if CityKey(b.City) == CityKey(city) && now.Before(b.ExpiresAt) {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GeoBin < out[j].GeoBin })
	return out, nil
}

func (s *MemoryHeatStore) Heat(_ context.Context, city, geoBin string, now time.Time) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bins[memKey(city, geoBin)]
	if !ok || !now.Before(b.ExpiresAt) {
		return 0, nil
	}
	return b.HeatValue, nil
}
