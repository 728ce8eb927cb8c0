// Package testutil provides in-memory stores with the same contracts as the
// MySQL repositories, for service and handler tests.
package testutil

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/iliyamo/beacon-signal-engine/internal/model"
	"github.com/iliyamo/beacon-signal-engine/internal/repository"
)

// Beacons is a map-backed BeaconStore.
type Beacons struct {
	mu   sync.RWMutex
	byID map[string]model.Beacon
	Err  error
}

func NewBeacons(bs ...model.Beacon) *Beacons {
	s := &Beacons{byID: map[string]model.Beacon{}}
	for _, b := range bs {
		s.Put(b)
	}
	return s
}

func (s *Beacons) Put(b model.Beacon) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[b.Code] = b
}

func (s *Beacons) GetByCode(_ context.Context, code string) (model.Beacon, error) {
	if s.Err != nil {
		return model.Beacon{}, s.Err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.byID[strings.TrimSpace(code)]
	if !ok {
		return model.Beacon{}, repository.ErrNotFound
	}
	return b, nil
}

// Profiles is a map-backed ProfileStore.
type Profiles struct {
	mu sync.RWMutex
	m  map[string]model.Profile
}

func NewProfiles(ps ...model.Profile) *Profiles {
	s := &Profiles{m: map[string]model.Profile{}}
	for _, p := range ps {
		s.Put(p)
	}
	return s
}

func (s *Profiles) Put(p model.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[p.UserID] = p
}

func (s *Profiles) GetProfile(_ context.Context, userID string) (model.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.m[userID]
	if !ok {
		return model.Profile{}, repository.ErrNotFound
	}
	return p, nil
}

// XP is an in-memory ledger.  AwardCapped holds the lock across the check
// and the write, matching the atomic upsert of the MySQL store.
type XP struct {
	mu      sync.Mutex
	entries []model.XPLedgerEntry
	daily   map[string]int
	Err     error
}

func NewXP() *XP { return &XP{daily: map[string]int{}} }

func (s *XP) AwardCapped(_ context.Context, e model.XPLedgerEntry, cap int) (bool, error) {
	if s.Err != nil {
		return false, s.Err
	}
	if e.Amount <= 0 {
		return false, repository.ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := e.UserID + "|" + beaconKey(e.BeaconID) + "|" + e.CreatedAt.UTC().Format("2006-01-02")
	if s.daily[key]+e.Amount > cap {
		return false, nil
	}
	s.daily[key] += e.Amount
	s.entries = append(s.entries, e)
	return true, nil
}

func (s *XP) Award(_ context.Context, e model.XPLedgerEntry) error {
	if s.Err != nil {
		return s.Err
	}
	if e.Amount <= 0 {
		return repository.ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

// Entries returns a copy of the ledger.
func (s *XP) Entries() []model.XPLedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.XPLedgerEntry(nil), s.entries...)
}

func beaconKey(id *uint64) string {
	if id == nil {
		return "-"
	}
	return strconv.FormatUint(*id, 10)
}

// Scans records audit events.
type Scans struct {
	mu     sync.Mutex
	events []model.ScanEvent
	Err    error
}

func NewScans() *Scans { return &Scans{} }

func (s *Scans) Append(_ context.Context, ev model.ScanEvent) (uint64, error) {
	if s.Err != nil {
		return 0, s.Err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ev.ID = uint64(len(s.events) + 1)
	s.events = append(s.events, ev)
	return ev.ID, nil
}

func (s *Scans) Events() []model.ScanEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.ScanEvent(nil), s.events...)
}

// Posts is an in-memory PostStore.
type Posts struct {
	mu    sync.Mutex
	posts []model.EphemeralPost
	Err   error
}

func NewPosts() *Posts { return &Posts{} }

func (s *Posts) Create(_ context.Context, p model.EphemeralPost) error {
	if s.Err != nil {
		return s.Err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posts = append(s.posts, p)
	return nil
}

func (s *Posts) GetByID(_ context.Context, id string) (model.EphemeralPost, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.posts {
		if p.ID == id {
			return p, nil
		}
	}
	return model.EphemeralPost{}, repository.ErrNotFound
}

// ListLive returns live matching posts newest first, like the SQL query.
func (s *Posts) ListLive(_ context.Context, f model.PostFilter, now time.Time) ([]model.EphemeralPost, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.EphemeralPost, 0)
	for i := len(s.posts) - 1; i >= 0; i-- {
		p := s.posts[i]
		if p.Live(now) && f.Matches(p) {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Posts) SoftDelete(_ context.Context, id, userID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, p := range s.posts {
		if p.ID != id {
			continue
		}
		if p.DeletedAt != nil {
			return repository.ErrNotFound
		}
		if p.UserID != userID {
			return repository.ErrForbidden
		}
		t := now
		s.posts[i].DeletedAt = &t
		return nil
	}
	return repository.ErrNotFound
}

// Publisher records published posts.
type Publisher struct {
	mu    sync.Mutex
	posts []model.EphemeralPost
}

func (p *Publisher) Publish(_ string, post model.EphemeralPost) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.posts = append(p.posts, post)
}

func (p *Publisher) Published() []model.EphemeralPost {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.EphemeralPost(nil), p.posts...)
}
