package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/iliyamo/beacon-signal-engine/internal/config"
	"github.com/iliyamo/beacon-signal-engine/internal/geo"
	"github.com/iliyamo/beacon-signal-engine/internal/model"
	"github.com/iliyamo/beacon-signal-engine/internal/ratelimit"
	"github.com/iliyamo/beacon-signal-engine/internal/repository"
	"github.com/iliyamo/beacon-signal-engine/internal/safego"
	"github.com/iliyamo/beacon-signal-engine/internal/telemetry"
)

const (
	maxHeadlineLen = 140
	maxBodyLen     = 1000
	minPostingAge  = 18
)

// XPForMode is the XP granted for posting a signal, by mode.
var XPForMode = map[string]int{
	model.ModeCare:   25,
	model.ModeCrowd:  20,
	model.ModeDrop:   15,
	model.ModeTicket: 15,
	model.ModeHookup: 10,
	model.ModeRadio:  10,
}

// CreateInput is a signal as submitted by its author.  City falls back to the
// profile city.  Lat and Lng are both set or both nil.
type CreateInput struct {
	UserID   string
	Mode     string
	Headline string
	Body     string
	City     string
	Lat      *float64
	Lng      *float64
}

// FeedDeps wires a SignalFeed.  Heat, Publisher and Tracer are optional.
type FeedDeps struct {
	Profiles  ProfileStore
	Posts     PostStore
	XP        XPStore
	Heat      geo.HeatStore
	Limiter   ratelimit.Limiter
	Limits    config.SignalLimits
	Publisher Publisher
	Config    config.EngineConfig
	Weights   *RankWeights
	Tracer    trace.Tracer
	Now       func() time.Time
}

// SignalFeed creates, lists and deletes "Right Now" signals.
type SignalFeed struct {
	profiles  ProfileStore
	posts     PostStore
	xp        XPStore
	heat      geo.HeatStore
	limiter   ratelimit.Limiter
	limits    config.SignalLimits
	publisher Publisher
	cfg       config.EngineConfig
	weights   RankWeights
	tracer    trace.Tracer
	now       func() time.Time
	log       *slog.Logger

	// in-flight XP and heat writes
	pending sync.WaitGroup
}

func NewSignalFeed(d FeedDeps) *SignalFeed {
	f := &SignalFeed{
		profiles: d.Profiles, posts: d.Posts, xp: d.XP, heat: d.Heat, limiter: d.Limiter,
		limits: d.Limits, publisher: d.Publisher, cfg: d.Config, weights: DefaultRankWeights,
		tracer: d.Tracer, now: d.Now, log: telemetry.Component("signals"),
	}
	if d.Weights != nil {
		f.weights = *d.Weights
	}
	if f.tracer == nil {
		f.tracer = telemetry.NoopTracer()
	}
	if f.now == nil {
		f.now = time.Now
	}
	return f
}

// Create gates, rate-limits and stores a signal, then hands XP, heat and
// fan-out to the background.  The returned post is already persisted.
func (f *SignalFeed) Create(ctx context.Context, in CreateInput) (model.EphemeralPost, error) {
	ctx, span := f.tracer.Start(ctx, "SignalFeed.Create")
	defer span.End()

	p, err := f.create(ctx, in)
	if err != nil {
		e := AsError(err)
		span.SetAttributes(attribute.String("signal.error", e.Code))
		return model.EphemeralPost{}, e
	}
	span.SetAttributes(attribute.String("signal.id", p.ID), attribute.String("signal.mode", p.Mode))
	return p, nil
}

func (f *SignalFeed) create(ctx context.Context, in CreateInput) (model.EphemeralPost, error) {
	if strings.TrimSpace(in.UserID) == "" {
		return model.EphemeralPost{}, fail(ErrUnauthenticated, "")
	}
	if err := validateInput(&in); err != nil {
		return model.EphemeralPost{}, err
	}
	now := f.now().UTC()

	prof, err := f.loadProfile(ctx, in.UserID)
	if err != nil {
		return model.EphemeralPost{}, err
	}
	city, err := gate(prof, in.City, now)
	if err != nil {
		return model.EphemeralPost{}, err
	}

	tier := strings.ToLower(prof.MembershipTier)
	if tier == "" {
		tier = config.DefaultTier
	}
	if err := f.checkRate(ctx, in.UserID, tier, now); err != nil {
		return model.EphemeralPost{}, err
	}

	cell := geo.Locate(in.Lat, in.Lng, f.cfg.GeoCellMeters)
	p := model.EphemeralPost{
		ID:             uuid.NewString(),
		UserID:         in.UserID,
		Mode:           in.Mode,
		Headline:       in.Headline,
		Body:           in.Body,
		City:           city,
		GeoBin:         cell.Key,
		MembershipTier: tier,
		XPBand:         model.XPBand(prof.XPTotal),
		SafetyFlags:    f.safetyFlags(ctx, prof, in.Mode, city, cell.Key, now),
		CreatedAt:      now,
		ExpiresAt:      now.Add(f.cfg.PostTTL),
	}
	if cell.Key != geo.Unknown {
		p.Lat, p.Lng = in.Lat, in.Lng
	}

	cctx, cancel := context.WithTimeout(ctx, f.cfg.StoreTimeout)
	err = f.posts.Create(cctx, p)
	cancel()
	if err != nil {
		return model.EphemeralPost{}, storeErr("store signal", err)
	}
	telemetry.SignalsCreatedTotal.WithLabelValues(p.Mode).Inc()

	f.afterCreate(p, cell)
	if f.publisher != nil {
		f.publisher.Publish(p.City, p)
	}
	return p, nil
}

func validateInput(in *CreateInput) error {
	in.Mode = strings.ToLower(strings.TrimSpace(in.Mode))
	in.Headline = strings.TrimSpace(in.Headline)
	in.Body = strings.TrimSpace(in.Body)
	in.City = strings.TrimSpace(in.City)
	switch {
	case !model.ValidMode(in.Mode):
		return fail(ErrMalformed, "mode must be one of hookup, crowd, drop, ticket, radio, care")
	case in.Headline == "":
		return fail(ErrMalformed, "headline is required")
	case utf8.RuneCountInString(in.Headline) > maxHeadlineLen:
		return fail(ErrMalformed, fmt.Sprintf("headline is longer than %d characters", maxHeadlineLen))
	case utf8.RuneCountInString(in.Body) > maxBodyLen:
		return fail(ErrMalformed, fmt.Sprintf("body is longer than %d characters", maxBodyLen))
	case (in.Lat == nil) != (in.Lng == nil):
		return fail(ErrMalformed, "lat and lng must be sent together")
	}
	return nil
}

func (f *SignalFeed) loadProfile(ctx context.Context, userID string) (model.Profile, error) {
	cctx, cancel := context.WithTimeout(ctx, f.cfg.StoreTimeout)
	defer cancel()
	prof, err := f.profiles.GetProfile(cctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return model.Profile{}, fail(ErrGateFailed, "profile not found").withHint("complete your profile to post")
	}
	if err != nil {
		return model.Profile{}, storeErr("load profile", err)
	}
	return prof, nil
}

// gate applies the posting eligibility rules in order and returns the city
// the post belongs to.
func gate(p model.Profile, city string, now time.Time) (string, error) {
	switch {
	case !p.ProfileComplete:
		return "", fail(ErrGateFailed, "profile is incomplete").withHint("complete your profile to post")
	case !strings.EqualFold(strings.TrimSpace(p.Gender), "man"):
		return "", fail(ErrGateFailed, "Right Now is not available for this profile")
	case p.AgeAt(now) < minPostingAge:
		return "", fail(ErrGateFailed, "you must be 18 or older to post").withHint("add your date of birth to your profile")
	case p.ShadowBanned:
		return "", fail(ErrGateFailed, "posting is not available for this account")
	}
	if city == "" {
		city = strings.TrimSpace(p.City)
	}
	if city == "" {
		return "", fail(ErrGateFailed, "no city for this signal").withHint("pass a city or set one on your profile")
	}
	return city, nil
}

func (f *SignalFeed) checkRate(ctx context.Context, userID, tier string, now time.Time) error {
	lim := f.limits.For(tier)
	cctx, cancel := context.WithTimeout(ctx, f.cfg.StoreTimeout)
	defer cancel()
	d, err := f.limiter.Allow(cctx, userID, now,
		ratelimit.Rule{Name: "hour", Window: time.Hour, Limit: lim.Hourly},
		ratelimit.Rule{Name: "day", Window: 24 * time.Hour, Limit: lim.Daily},
	)
	if err != nil {
		return storeErr("rate limit", err)
	}
	if d.Allowed {
		return nil
	}
	telemetry.RateLimitDenialsTotal.WithLabelValues("signals", d.Violated).Inc()

	e := fail(ErrRateLimited, fmt.Sprintf("hourly limit of %d signals reached", lim.Hourly))
	if d.Violated == "day" {
		e.Message = fmt.Sprintf("daily limit of %d signals reached", lim.Daily)
	}
	if up := f.limits.Upgrade(tier); up != "" {
		ul := f.limits.For(up)
		return e.withHint(fmt.Sprintf("upgrade to %s for %d signals per hour and %d per day", up, ul.Hourly, ul.Daily))
	}
	if d.RetryAfter > 0 {
		return e.withHint("try again in " + d.RetryAfter.Round(time.Minute).String())
	}
	return e
}

// safetyFlags derives the ranking and filtering flags of a new post.  A heat
// lookup failure only costs the near_party flag.
func (f *SignalFeed) safetyFlags(ctx context.Context, p model.Profile, mode, city, bin string, now time.Time) []string {
	flags := []string{}
	if p.Verified {
		flags = append(flags, model.FlagVerifiedHost)
	}
	if f.heat != nil && bin != geo.Unknown && f.cfg.NearPartyHeat > 0 {
		cctx, cancel := context.WithTimeout(ctx, f.cfg.StoreTimeout)
		h, err := f.heat.Heat(cctx, city, bin, now)
		cancel()
		if err != nil {
			f.log.Warn("heat lookup failed", "city", city, "geo_bin", bin, "error", err)
		} else if h >= f.cfg.NearPartyHeat {
			flags = append(flags, model.FlagNearParty)
		}
	}
	if mode == model.ModeHookup && !p.Verified {
		flags = append(flags, model.FlagHighRisk)
	}
	return flags
}

// afterCreate runs the XP grant and heat increment in the background.  Both
// log with enough context to reconcile by hand and never touch the post.
func (f *SignalFeed) afterCreate(p model.EphemeralPost, cell geo.Cell) {
	safego.GoTracked(&f.pending, func() {
		ctx, cancel := context.WithTimeout(context.Background(), f.cfg.StoreTimeout)
		defer cancel()
		amount := XPForMode[p.Mode]
		err := f.xp.Award(ctx, model.XPLedgerEntry{
			UserID: p.UserID, Reason: model.XPReasonRightNow, Amount: amount,
			Meta: []byte(fmt.Sprintf(`{"post_id":%q,"mode":%q}`, p.ID, p.Mode)), CreatedAt: p.CreatedAt,
		})
		if err != nil {
			telemetry.SideEffectFailuresTotal.WithLabelValues("xp").Inc()
			f.log.Error("signal xp award failed", "user_id", p.UserID, "post_id", p.ID, "amount", amount, "error", err)
			return
		}
		telemetry.XPAwardedTotal.WithLabelValues(model.XPReasonRightNow).Add(float64(amount))
	})

	if f.heat == nil {
		return
	}
	safego.GoTracked(&f.pending, func() {
		ctx, cancel := context.WithTimeout(context.Background(), f.cfg.StoreTimeout)
		defer cancel()
		err := f.heat.Increment(ctx, geo.Increment{
			GeoBin: cell.Key, Source: model.HeatSourceRightNow, City: p.City, Lat: cell.Lat, Lng: cell.Lng,
			HeatValue: f.cfg.SignalHeatValue, TTLHours: f.cfg.HeatTTLHours(), Now: p.CreatedAt,
		})
		if err != nil {
			telemetry.SideEffectFailuresTotal.WithLabelValues("heat").Inc()
			f.log.Error("signal heat increment failed", "post_id", p.ID, "city", p.City, "geo_bin", cell.Key, "error", err)
		}
	})
}

// List returns live posts matching filter, ranked.
func (f *SignalFeed) List(ctx context.Context, filter model.PostFilter) ([]model.RankedPost, error) {
	ctx, span := f.tracer.Start(ctx, "SignalFeed.List")
	defer span.End()

	filter.Mode = strings.ToLower(strings.TrimSpace(filter.Mode))
	if filter.Mode != "" && !model.ValidMode(filter.Mode) {
		return nil, fail(ErrMalformed, "unknown mode")
	}
	now := f.now().UTC()
	cctx, cancel := context.WithTimeout(ctx, f.cfg.StoreTimeout)
	defer cancel()
	posts, err := f.posts.ListLive(cctx, filter, now)
	if err != nil {
		return nil, storeErr("list signals", err)
	}
	ranked := f.weights.Rank(posts, now)
	span.SetAttributes(attribute.Int("signal.count", len(ranked)))
	return ranked, nil
}

// Get returns one live post.  Deleted and expired posts are NotFound.
func (f *SignalFeed) Get(ctx context.Context, postID string) (model.EphemeralPost, error) {
	if strings.TrimSpace(postID) == "" {
		return model.EphemeralPost{}, fail(ErrMalformed, "post id is required")
	}
	cctx, cancel := context.WithTimeout(ctx, f.cfg.StoreTimeout)
	defer cancel()
	p, err := f.posts.GetByID(cctx, postID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return model.EphemeralPost{}, fail(ErrNotFound, "signal not found")
	case err != nil:
		return model.EphemeralPost{}, storeErr("load signal", err)
	case !p.Live(f.now().UTC()):
		return model.EphemeralPost{}, fail(ErrNotFound, "signal not found")
	}
	return p, nil
}

// Delete soft-deletes the author's own post.
func (f *SignalFeed) Delete(ctx context.Context, userID, postID string) error {
	if strings.TrimSpace(userID) == "" {
		return fail(ErrUnauthenticated, "")
	}
	if strings.TrimSpace(postID) == "" {
		return fail(ErrMalformed, "post id is required")
	}
	cctx, cancel := context.WithTimeout(ctx, f.cfg.StoreTimeout)
	defer cancel()
	err := f.posts.SoftDelete(cctx, postID, userID, f.now().UTC())
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return fail(ErrNotFound, "signal not found")
	case errors.Is(err, repository.ErrForbidden):
		return fail(ErrForbidden, "you can only delete your own signals")
	default:
		return storeErr("delete signal", err)
	}
}

// Wait blocks until in-flight side effects finish or ctx is done.
func (f *SignalFeed) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		f.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
