package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/iliyamo/beacon-signal-engine/internal/config"
	"github.com/iliyamo/beacon-signal-engine/internal/geo"
	"github.com/iliyamo/beacon-signal-engine/internal/model"
	"github.com/iliyamo/beacon-signal-engine/internal/repository"
	"github.com/iliyamo/beacon-signal-engine/internal/telemetry"
	"github.com/iliyamo/beacon-signal-engine/internal/token"
)

const (
	maxCodeLen          = 64
	defaultVenueRadiusM = 150.0
	// exact_fuzzed beacons publish a jittered center, so the check allows
	// this much on top of the radius.
	fuzzSlackM = 100.0
)

// ScanRequest is one inbound scan.  Exactly one of Code (organic) and Token
// (signed) is set.  UserID is empty for anonymous scans, which render but
// never earn XP.
type ScanRequest struct {
	Code   string
	Token  string
	UserID string
	Lat    *float64
	Lng    *float64
}

// ScanResult is returned for every scan that passed verification, including
// degraded ones (XP capped, unsupported subtype).
type ScanResult struct {
	OK        bool               `json:"ok"`
	Action    string             `json:"action"`
	Source    string             `json:"source"`
	Beacon    model.PublicBeacon `json:"beacon"`
	XPAwarded int                `json:"xp_awarded"`
	XPCapped  bool               `json:"xp_capped,omitempty"`
	UI        UI                 `json:"ui"`
	Notice    string             `json:"notice,omitempty"`
}

// ScanDeps wires a ScanDispatcher.  Heat and Tracer are optional.
type ScanDeps struct {
	Signer   token.Signer
	Beacons  BeaconStore
	XP       XPStore
	Scans    ScanLog
	Heat     geo.HeatStore
	Registry *Registry
	Config   config.EngineConfig
	Tracer   trace.Tracer
	Now      func() time.Time
}

// ScanDispatcher turns scans into XP grants, audit events and heat.
type ScanDispatcher struct {
	signer   token.Signer
	beacons  BeaconStore
	xp       XPStore
	scans    ScanLog
	heat     geo.HeatStore
	registry *Registry
	cfg      config.EngineConfig
	tracer   trace.Tracer
	now      func() time.Time
	log      *slog.Logger
}

func NewScanDispatcher(d ScanDeps) *ScanDispatcher {
	if d.Registry == nil {
		d.Registry = DefaultRegistry()
	}
	if d.Tracer == nil {
		d.Tracer = telemetry.NoopTracer()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &ScanDispatcher{
		signer: d.Signer, beacons: d.Beacons, xp: d.XP, scans: d.Scans, heat: d.Heat,
		registry: d.Registry, cfg: d.Config, tracer: d.Tracer, now: d.Now,
		log: telemetry.Component("scan"),
	}
}

// HandleScan runs resolve, load, geo/time check, dispatch, XP and audit.
// Verification failures are returned as *Error.  Failures of the XP, audit
// and heat writes are logged and never fail the scan.
func (d *ScanDispatcher) HandleScan(ctx context.Context, req ScanRequest) (ScanResult, error) {
	ctx, span := d.tracer.Start(ctx, "ScanDispatcher.HandleScan")
	defer span.End()

	res, err := d.handle(ctx, req)
	if err != nil {
		e := AsError(err)
		telemetry.ScanFailuresTotal.WithLabelValues(e.Code).Inc()
		span.SetAttributes(attribute.String("scan.error", e.Code))
		return ScanResult{}, e
	}
	telemetry.ScansTotal.WithLabelValues(res.Action, res.Source).Inc()
	span.SetAttributes(attribute.String("scan.action", res.Action), attribute.Int("scan.xp", res.XPAwarded))
	return res, nil
}

func (d *ScanDispatcher) handle(ctx context.Context, req ScanRequest) (ScanResult, error) {
	now := d.now().UTC()

	code, source, err := d.resolve(req, now)
	if err != nil {
		return ScanResult{}, err
	}

	b, err := d.loadBeacon(ctx, code)
	if err != nil {
		return ScanResult{}, err
	}

	if err := checkWindow(b, now); err != nil {
		return ScanResult{}, err
	}
	inside, err := checkProximity(b, req.Lat, req.Lng)
	if err != nil {
		return ScanResult{}, err
	}

	res := ScanResult{OK: true, Source: source, Beacon: b.Public()}
	sc := ScanContext{UserID: req.UserID, Source: source, InsideVenue: inside}

	var out Outcome
	h, ok := d.registry.Lookup(b.Kind())
	if ok {
		out, err = h.Handle(ctx, b, sc)
	}
	switch {
	case !ok:
		out = Outcome{Action: ActionUnsupported, UI: UI{Kind: ActionUnsupported}}
		res.Notice = CodeUnsupportedBeacon
	case err != nil:
		var de *Error
		if errors.As(err, &de) {
			return ScanResult{}, de
		}
		d.log.Error("scan handler failed", "beacon_id", b.ID, "kind", b.Kind().String(), "error", err)
		out = Outcome{Action: ActionUnsupported, UI: UI{Kind: ActionUnsupported}}
		res.Notice = CodeUnsupportedBeacon
	}
	res.Action, res.UI = out.Action, out.UI

	// Side effects outlive a cancelled request but stay bounded.
	sideCtx := context.WithoutCancel(ctx)

	res.XPAwarded, res.XPCapped = d.awardXP(sideCtx, b, req.UserID, out.XP, source, now)
	d.audit(sideCtx, model.ScanEvent{
		BeaconID: b.ID, UserID: req.UserID, OccurredAt: now, Lat: req.Lat, Lng: req.Lng,
		InsideVenue: inside, Source: source, Action: res.Action, XPAwarded: res.XPAwarded,
	})
	d.addHeat(sideCtx, b, req.Lat, req.Lng, now)
	return res, nil
}

// resolve returns the beacon code and scan source.
func (d *ScanDispatcher) resolve(req ScanRequest, now time.Time) (string, string, error) {
	if req.Token != "" {
		p, err := d.signer.Verify(req.Token, now)
		switch {
		case errors.Is(err, token.ErrExpired):
			return "", "", fail(ErrExpired, "signed link expired")
		case errors.Is(err, token.ErrInvalidSignature):
			return "", "", fail(ErrInvalidSignature, "signed link signature does not match")
		case err != nil:
			return "", "", fail(ErrMalformed, "signed link is malformed")
		}
		return p.Code, model.SourceSigned, nil
	}
	code := strings.TrimSpace(req.Code)
	if code == "" || len(code) > maxCodeLen {
		return "", "", fail(ErrMalformed, "beacon code is required")
	}
	return code, model.SourceOrganic, nil
}

func (d *ScanDispatcher) loadBeacon(ctx context.Context, code string) (model.Beacon, error) {
	cctx, cancel := context.WithTimeout(ctx, d.cfg.StoreTimeout)
	defer cancel()
	b, err := d.beacons.GetByCode(cctx, code)
	if errors.Is(err, repository.ErrNotFound) {
		return model.Beacon{}, fail(ErrNotFound, "unknown beacon")
	}
	if err != nil {
		return model.Beacon{}, storeErr("load beacon", err)
	}
	if b.Status != model.BeaconActive {
		e := fail(ErrInactive, "beacon is "+b.Status)
		e.Status = b.Status
		return model.Beacon{}, e
	}
	return b, nil
}

func checkWindow(b model.Beacon, now time.Time) error {
	if b.StartsAt != nil && now.Before(*b.StartsAt) {
		return fail(ErrNotStarted, "beacon opens later").withHint("opens at " + b.StartsAt.UTC().Format(time.RFC3339))
	}
	if b.EndsAt != nil && !now.Before(*b.EndsAt) {
		return fail(ErrExpired, "beacon window has closed")
	}
	return nil
}

// checkProximity enforces venue and exact_fuzzed geo modes and reports
// whether the scan landed inside the beacon radius.  Beacons without a
// center cannot be checked and accept any scan.
func checkProximity(b model.Beacon, lat, lng *float64) (bool, error) {
	required := b.GeoMode == model.GeoVenue || b.GeoMode == model.GeoExactFuzzed
	if b.GeoLat == nil || b.GeoLng == nil {
		return false, nil
	}
	radius := defaultVenueRadiusM
	if b.GeoRadiusM != nil && *b.GeoRadiusM > 0 {
		radius = *b.GeoRadiusM
	}
	if b.GeoMode == model.GeoExactFuzzed {
		radius += fuzzSlackM
	}

	if geo.Locate(lat, lng, 1).Key == geo.Unknown {
		if required {
			return false, fail(ErrOutOfRange, "location required for this beacon").withHint("enable location and scan again")
		}
		return false, nil
	}
	dist := geo.DistanceMeters(*lat, *lng, *b.GeoLat, *b.GeoLng)
	inside := dist <= radius
	if required && !inside {
		return false, fail(ErrOutOfRange, fmt.Sprintf("scan is %.0fm from the venue", dist)).
			withHint(fmt.Sprintf("move within %.0fm and scan again", radius))
	}
	return inside, nil
}

// awardXP writes a capped grant.  A daily cap of zero means one grant of the
// scan's worth per day.
func (d *ScanDispatcher) awardXP(ctx context.Context, b model.Beacon, userID string, amount int, source string, now time.Time) (int, bool) {
	if userID == "" || amount <= 0 {
		return 0, false
	}
	limit := b.XPCapPerUserPerDay
	if limit <= 0 {
		limit = amount
	}
	cctx, cancel := context.WithTimeout(ctx, d.cfg.StoreTimeout)
	defer cancel()

	beaconID := b.ID
	ok, err := d.xp.AwardCapped(cctx, model.XPLedgerEntry{
		UserID: userID, BeaconID: &beaconID, Reason: model.XPReasonBeaconScan, Amount: amount,
		Meta: []byte(fmt.Sprintf(`{"code":%q,"source":%q}`, b.Code, source)), CreatedAt: now,
	}, limit)
	if err != nil {
		telemetry.SideEffectFailuresTotal.WithLabelValues("xp").Inc()
		d.log.Error("xp award failed", "user_id", userID, "beacon_id", b.ID, "amount", amount, "error", err)
		return 0, false
	}
	if !ok {
		telemetry.XPCappedTotal.Inc()
		return 0, true
	}
	telemetry.XPAwardedTotal.WithLabelValues(model.XPReasonBeaconScan).Add(float64(amount))
	return amount, false
}

func (d *ScanDispatcher) audit(ctx context.Context, ev model.ScanEvent) {
	cctx, cancel := context.WithTimeout(ctx, d.cfg.StoreTimeout)
	defer cancel()
	if _, err := d.scans.Append(cctx, ev); err != nil {
		telemetry.SideEffectFailuresTotal.WithLabelValues("audit").Inc()
		d.log.Error("scan audit append failed",
			"beacon_id", ev.BeaconID, "user_id", ev.UserID, "action", ev.Action,
			"xp_awarded", ev.XPAwarded, "occurred_at", ev.OccurredAt, "error", err)
	}
}

// addHeat credits the scan's bin.  Scans without usable coordinates add no
// heat.
func (d *ScanDispatcher) addHeat(ctx context.Context, b model.Beacon, lat, lng *float64, now time.Time) {
	if d.heat == nil || lat == nil || lng == nil {
		return
	}
	cell := geo.Locate(lat, lng, d.cfg.GeoCellMeters)
	if cell.Key == geo.Unknown {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, d.cfg.StoreTimeout)
	defer cancel()
	err := d.heat.Increment(cctx, geo.Increment{
		GeoBin: cell.Key, Source: model.HeatSourceScan, City: b.City, Lat: cell.Lat, Lng: cell.Lng,
		HeatValue: d.cfg.ScanHeatValue, TTLHours: d.cfg.HeatTTLHours(), Now: now,
	})
	if err != nil {
		telemetry.SideEffectFailuresTotal.WithLabelValues("heat").Inc()
		d.log.Error("scan heat increment failed", "beacon_id", b.ID, "city", b.City, "geo_bin", cell.Key, "error", err)
	}
}
