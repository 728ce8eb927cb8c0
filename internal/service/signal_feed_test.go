package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/beacon-signal-engine/internal/geo"
	"github.com/iliyamo/beacon-signal-engine/internal/model"
	"github.com/iliyamo/beacon-signal-engine/internal/ratelimit"
	"github.com/iliyamo/beacon-signal-engine/internal/testutil"
)

type feedFixture struct {
	f        *SignalFeed
	profiles *testutil.Profiles
	posts    *testutil.Posts
	xp       *testutil.XP
	heat     *geo.MemoryHeatStore
	pub      *testutil.Publisher
	clock    *testutil.Clock
}

func newFeedFixture(ps ...model.Profile) *feedFixture {
	fx := &feedFixture{
		profiles: testutil.NewProfiles(ps...),
		posts:    testutil.NewPosts(),
		xp:       testutil.NewXP(),
		heat:     geo.NewMemoryHeatStore(),
		pub:      &testutil.Publisher{},
		clock:    testutil.NewClock(t0),
	}
	fx.f = NewSignalFeed(FeedDeps{
		Profiles: fx.profiles, Posts: fx.posts, XP: fx.xp, Heat: fx.heat,
		Limiter: ratelimit.NewMemoryLimiter(), Limits: testutil.SignalLimits(),
		Publisher: fx.pub, Config: testutil.EngineConfig(), Now: fx.clock.Now,
	})
	return fx
}

func (fx *feedFixture) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, fx.f.Wait(ctx))
}

func TestCreate_londonScenario(t *testing.T) {
	fx := newFeedFixture(testutil.EligibleProfile("U", "London"))
	lat, lng := testutil.Float(51.50735), testutil.Float(-0.12776)

	for i := 0; i < 5; i++ {
		p, err := fx.f.Create(context.Background(), CreateInput{
			UserID: "U", Mode: "crowd", Headline: "Warehouse til late", Lat: lat, Lng: lng,
		})
		require.NoError(t, err, "post %d", i+1)
		assert.Equal(t, "London", p.City)
		assert.Equal(t, geo.Bin(*lat, *lng, 250), p.GeoBin)
		assert.Equal(t, t0.Add(60*time.Minute), p.ExpiresAt)
	}

	_, err := fx.f.Create(context.Background(), CreateInput{UserID: "U", Mode: "crowd", Headline: "Warehouse til late"})
	require.ErrorIs(t, err, ErrRateLimited)
	e := AsError(err)
	assert.Contains(t, e.Message, "hourly limit of 5")
	assert.Contains(t, e.Hint, "plus")

	fx.drain(t)
	entries := fx.xp.Entries()
	require.Len(t, entries, 5)
	for _, en := range entries {
		assert.Equal(t, 20, en.Amount)
		assert.Equal(t, model.XPReasonRightNow, en.Reason)
		assert.Nil(t, en.BeaconID)
	}

	bins, err := fx.heat.Live(context.Background(), "london", t0)
	require.NoError(t, err)
	require.Len(t, bins, 1)
	assert.Equal(t, 5.0, bins[0].HeatValue)
	assert.Equal(t, model.HeatSourceRightNow, bins[0].Source)

	assert.Len(t, fx.pub.Published(), 5)
}

func TestCreate_concurrentCallersGetExactlyTheCap(t *testing.T) {
	fx := newFeedFixture(testutil.EligibleProfile("U", "London"))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ok, lim int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := fx.f.Create(context.Background(), CreateInput{UserID: "U", Mode: "drop", Headline: "x"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrRateLimited):
				lim++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 5, ok)
	assert.Equal(t, 5, lim)
	fx.drain(t)
}

func TestCreate_dailyWindow(t *testing.T) {
	fx := newFeedFixture(testutil.EligibleProfile("U", "London"))
	for i := 0; i < 20; i++ {
		_, err := fx.f.Create(context.Background(), CreateInput{UserID: "U", Mode: "radio", Headline: "x"})
		require.NoError(t, err, "post %d", i+1)
		if (i+1)%5 == 0 {
			fx.clock.Advance(61 * time.Minute)
		}
	}
	_, err := fx.f.Create(context.Background(), CreateInput{UserID: "U", Mode: "radio", Headline: "x"})
	require.ErrorIs(t, err, ErrRateLimited)
	assert.Contains(t, AsError(err).Message, "daily limit of 20")
	fx.drain(t)
}

func TestCreate_gate(t *testing.T) {
	young := time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC)
	cases := map[string]func(p *model.Profile){
		"incomplete":    func(p *model.Profile) { p.ProfileComplete = false },
		"not a man":     func(p *model.Profile) { p.Gender = "woman" },
		"under 18":      func(p *model.Profile) { p.DateOfBirth = &young },
		"no birth date": func(p *model.Profile) { p.DateOfBirth = nil },
		"shadow banned": func(p *model.Profile) { p.ShadowBanned = true },
		"no city":       func(p *model.Profile) { p.City = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			p := testutil.EligibleProfile("U", "London")
			mutate(&p)
			fx := newFeedFixture(p)
			_, err := fx.f.Create(context.Background(), CreateInput{UserID: "U", Mode: "crowd", Headline: "x"})
			assert.ErrorIs(t, err, ErrGateFailed)
			assert.Empty(t, fx.pub.Published())
		})
	}

	t.Run("unknown profile", func(t *testing.T) {
		fx := newFeedFixture()
		_, err := fx.f.Create(context.Background(), CreateInput{UserID: "ghost", Mode: "crowd", Headline: "x"})
		assert.ErrorIs(t, err, ErrGateFailed)
	})

	t.Run("gate failures do not consume rate limit", func(t *testing.T) {
		p := testutil.EligibleProfile("U", "")
		fx := newFeedFixture(p)
		for i := 0; i < 10; i++ {
			_, err := fx.f.Create(context.Background(), CreateInput{UserID: "U", Mode: "crowd", Headline: "x"})
			require.ErrorIs(t, err, ErrGateFailed)
		}
		_, err := fx.f.Create(context.Background(), CreateInput{UserID: "U", Mode: "crowd", Headline: "x", City: "Berlin"})
		assert.NoError(t, err)
		fx.drain(t)
	})

	t.Run("gender match ignores case", func(t *testing.T) {
		p := testutil.EligibleProfile("U", "London")
		p.Gender = "Man"
		fx := newFeedFixture(p)
		_, err := fx.f.Create(context.Background(), CreateInput{UserID: "U", Mode: "crowd", Headline: "x"})
		assert.NoError(t, err)
		fx.drain(t)
	})
}

func TestCreate_validation(t *testing.T) {
	fx := newFeedFixture(testutil.EligibleProfile("U", "London"))
	cases := map[string]CreateInput{
		"bad mode":      {UserID: "U", Mode: "rave", Headline: "x"},
		"no headline":   {UserID: "U", Mode: "crowd", Headline: "   "},
		"long headline": {UserID: "U", Mode: "crowd", Headline: strings.Repeat("é", 141)},
		"long body":     {UserID: "U", Mode: "crowd", Headline: "x", Body: strings.Repeat("b", 1001)},
		"lat only":      {UserID: "U", Mode: "crowd", Headline: "x", Lat: testutil.Float(1)},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := fx.f.Create(context.Background(), in)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}

	_, err := fx.f.Create(context.Background(), CreateInput{Mode: "crowd", Headline: "x"})
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestCreate_outOfRangeCoordinatesBinToUnknown(t *testing.T) {
	fx := newFeedFixture(testutil.EligibleProfile("U", "London"))
	p, err := fx.f.Create(context.Background(), CreateInput{
		UserID: "U", Mode: "crowd", Headline: "x", Lat: testutil.Float(123), Lng: testutil.Float(0),
	})
	require.NoError(t, err)
	assert.Equal(t, geo.Unknown, p.GeoBin)
	assert.Nil(t, p.Lat)
	fx.drain(t)
}

func TestCreate_safetyFlags(t *testing.T) {
	verified := testutil.EligibleProfile("V", "London")
	verified.Verified = true
	fx := newFeedFixture(verified, testutil.EligibleProfile("U", "London"))
	lat, lng := testutil.Float(51.50735), testutil.Float(-0.12776)
	bin := geo.Locate(lat, lng, 250)
	require.NoError(t, fx.heat.Increment(context.Background(), geo.Increment{
		GeoBin: bin.Key, Source: model.HeatSourceScan, City: "London", HeatValue: 10, TTLHours: 2, Now: t0,
	}))

	p, err := fx.f.Create(context.Background(), CreateInput{UserID: "V", Mode: "hookup", Headline: "x", Lat: lat, Lng: lng})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{model.FlagVerifiedHost, model.FlagNearParty}, p.SafetyFlags)

	p, err = fx.f.Create(context.Background(), CreateInput{UserID: "U", Mode: "hookup", Headline: "x"})
	require.NoError(t, err)
	assert.Equal(t, []string{model.FlagHighRisk}, p.SafetyFlags)

	p, err = fx.f.Create(context.Background(), CreateInput{UserID: "U", Mode: "care", Headline: "x"})
	require.NoError(t, err)
	assert.Empty(t, p.SafetyFlags)
	fx.drain(t)

	safe, err := fx.f.List(context.Background(), model.PostFilter{SafeOnly: true})
	require.NoError(t, err)
	assert.Len(t, safe, 2)
	for _, rp := range safe {
		assert.False(t, rp.HasFlag(model.FlagHighRisk))
	}
}

func TestCreate_sideEffectFailuresKeepThePost(t *testing.T) {
	fx := newFeedFixture(testutil.EligibleProfile("U", "London"))
	fx.xp.Err = errors.New("ledger down")

	p, err := fx.f.Create(context.Background(), CreateInput{UserID: "U", Mode: "care", Headline: "x"})
	require.NoError(t, err)
	fx.drain(t)

	list, err := fx.f.List(context.Background(), model.PostFilter{City: "london"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, p.ID, list[0].ID)
}

func TestCreate_storeFailure(t *testing.T) {
	fx := newFeedFixture(testutil.EligibleProfile("U", "London"))
	fx.posts.Err = errors.New("db down")

	_, err := fx.f.Create(context.Background(), CreateInput{UserID: "U", Mode: "care", Headline: "x"})
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Empty(t, fx.pub.Published())
}

func TestList_ttlExpiry(t *testing.T) {
	fx := newFeedFixture(testutil.EligibleProfile("U", "London"))
	p, err := fx.f.Create(context.Background(), CreateInput{UserID: "U", Mode: "crowd", Headline: "x"})
	require.NoError(t, err)
	fx.drain(t)

	fx.clock.Advance(59 * time.Minute)
	list, err := fx.f.List(context.Background(), model.PostFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, p.ID, list[0].ID)

	fx.clock.Advance(2 * time.Minute)
	list, err = fx.f.List(context.Background(), model.PostFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestList_filters(t *testing.T) {
	fx := newFeedFixture(testutil.EligibleProfile("U", "London"), testutil.EligibleProfile("B", "Berlin"))
	_, err := fx.f.Create(context.Background(), CreateInput{UserID: "U", Mode: "crowd", Headline: "a"})
	require.NoError(t, err)
	_, err = fx.f.Create(context.Background(), CreateInput{UserID: "U", Mode: "drop", Headline: "b"})
	require.NoError(t, err)
	_, err = fx.f.Create(context.Background(), CreateInput{UserID: "B", Mode: "crowd", Headline: "c"})
	require.NoError(t, err)
	fx.drain(t)

	list, err := fx.f.List(context.Background(), model.PostFilter{City: "LONDON"})
	require.NoError(t, err)
	assert.Len(t, list, 2)

	list, err = fx.f.List(context.Background(), model.PostFilter{Mode: "crowd"})
	require.NoError(t, err)
	assert.Len(t, list, 2)

	list, err = fx.f.List(context.Background(), model.PostFilter{City: "london", Mode: "crowd"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "a", list[0].Headline)

	_, err = fx.f.List(context.Background(), model.PostFilter{Mode: "rave"})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestList_ranksTheWholeLiveSet(t *testing.T) {
	fx := newFeedFixture()
	now := fx.clock.Now()
	seed := func(id, tier, band string, flags []string, created time.Time) {
		require.NoError(t, fx.posts.Create(context.Background(), model.EphemeralPost{
			ID: id, UserID: "u-" + id, Mode: model.ModeCrowd, Headline: "h", City: "London",
			GeoBin: geo.Unknown, MembershipTier: tier, XPBand: band, SafetyFlags: flags,
			CreatedAt: created, ExpiresAt: created.Add(time.Hour),
		}))
	}
	seed("host", "chrome", model.BandLegend, []string{model.FlagVerifiedHost}, now.Add(-50*time.Minute))
	for i := 0; i < 250; i++ {
		seed(fmt.Sprintf("free-%d", i), "free", model.BandNone, []string{}, now.Add(-time.Duration(i)*time.Second))
	}

	list, err := fx.f.List(context.Background(), model.PostFilter{City: "london"})
	require.NoError(t, err)
	require.Len(t, list, 251)
	assert.Equal(t, "host", list[0].ID)
}

func TestDelete(t *testing.T) {
	fx := newFeedFixture(testutil.EligibleProfile("U", "London"), testutil.EligibleProfile("O", "London"))
	p, err := fx.f.Create(context.Background(), CreateInput{UserID: "U", Mode: "crowd", Headline: "x"})
	require.NoError(t, err)
	fx.drain(t)

	assert.ErrorIs(t, fx.f.Delete(context.Background(), "O", p.ID), ErrForbidden)
	list, err := fx.f.List(context.Background(), model.PostFilter{})
	require.NoError(t, err)
	assert.Len(t, list, 1, "a foreign delete leaves the post visible")

	require.NoError(t, fx.f.Delete(context.Background(), "U", p.ID))
	list, err = fx.f.List(context.Background(), model.PostFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)

	assert.ErrorIs(t, fx.f.Delete(context.Background(), "U", p.ID), ErrNotFound)
	assert.ErrorIs(t, fx.f.Delete(context.Background(), "U", "nope"), ErrNotFound)
	assert.ErrorIs(t, fx.f.Delete(context.Background(), "", p.ID), ErrUnauthenticated)
	assert.ErrorIs(t, fx.f.Delete(context.Background(), "U", ""), ErrMalformed)
}

func TestGet_hidesExpiredAndDeleted(t *testing.T) {
	fx := newFeedFixture(testutil.EligibleProfile("U", "London"))
	p, err := fx.f.Create(context.Background(), CreateInput{UserID: "U", Mode: "care", Headline: "water at the bar"})
	require.NoError(t, err)

	got, err := fx.f.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)

	_, err = fx.f.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = fx.f.Get(context.Background(), " ")
	assert.ErrorIs(t, err, ErrMalformed)

	fx.clock.Advance(61 * time.Minute)
	_, err = fx.f.Get(context.Background(), p.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	fx.drain(t)
}
