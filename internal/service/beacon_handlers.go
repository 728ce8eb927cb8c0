package service

import (
	"context"
	"encoding/json"

	"github.com/iliyamo/beacon-signal-engine/internal/model"
)

// Scan actions reported to clients.
const (
	ActionCheckin         = "checkin"
	ActionTicketValidate  = "ticket_validate"
	ActionProductPurchase = "product_purchase"
	ActionPersonRequest   = "person_request"
	ActionSelf            = "self"
	ActionRoomJoin        = "room_join"
	ActionCare            = "care"
	ActionUnsupported     = "unsupported"
)

// UI is the descriptor the client renders after a scan.
type UI struct {
	Kind    string                 `json:"kind"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// Outcome is what a subtype handler decides: the action, its UI and how much
// XP the scan is worth before the daily cap is applied.
type Outcome struct {
	Action string
	UI     UI
	XP     int
}

// ScanContext is the verified scan as seen by a subtype handler.
type ScanContext struct {
	UserID      string
	Source      string
	InsideVenue bool
}

// ScanHandler handles scans of one (type, subtype).
type ScanHandler interface {
	Handle(ctx context.Context, b model.Beacon, sc ScanContext) (Outcome, error)
}

// HandlerFunc adapts a function to ScanHandler.
type HandlerFunc func(ctx context.Context, b model.Beacon, sc ScanContext) (Outcome, error)

func (f HandlerFunc) Handle(ctx context.Context, b model.Beacon, sc ScanContext) (Outcome, error) {
	return f(ctx, b, sc)
}

// Registry maps beacon kinds to handlers.  It is filled at startup and only
// read afterwards.
type Registry struct {
	handlers map[model.Kind]ScanHandler
}

func NewRegistry() *Registry { return &Registry{handlers: map[model.Kind]ScanHandler{}} }

// Register adds or replaces the handler for kind.
func (r *Registry) Register(kind model.Kind, h ScanHandler) { r.handlers[kind] = h }

// Lookup returns the handler for kind.
func (r *Registry) Lookup(kind model.Kind) (ScanHandler, bool) {
	h, ok := r.handlers[kind]
	return h, ok
}

// DefaultRegistry registers the built-in beacon kinds.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(model.Kind{Type: "presence", Subtype: "checkin"}, HandlerFunc(handleCheckin))
	r.Register(model.Kind{Type: "transaction", Subtype: "ticket"}, HandlerFunc(handleTicket))
	r.Register(model.Kind{Type: "transaction", Subtype: "product"}, HandlerFunc(handleProduct))
	r.Register(model.Kind{Type: "social", Subtype: "person"}, HandlerFunc(handlePerson))
	r.Register(model.Kind{Type: "social", Subtype: "room"}, HandlerFunc(handleRoom))
	r.Register(model.Kind{Type: "social", Subtype: "geo_room"}, HandlerFunc(handleRoom))
	r.Register(model.Kind{Type: "care", Subtype: "hnh"}, HandlerFunc(handleCare))
	return r
}

// payloadMap decodes the beacon payload, tolerating absent or non-object
// payloads.
func payloadMap(b model.Beacon) map[string]interface{} {
	m := map[string]interface{}{}
	if len(b.Payload) > 0 {
		_ = json.Unmarshal(b.Payload, &m)
	}
	return m
}

// pick copies the listed keys of src into a new map, skipping absent ones.
func pick(src map[string]interface{}, keys ...string) map[string]interface{} {
	out := map[string]interface{}{}
	for _, k := range keys {
		if v, ok := src[k]; ok {
			out[k] = v
		}
	}
	return out
}

func handleCheckin(_ context.Context, b model.Beacon, sc ScanContext) (Outcome, error) {
	ui := pick(payloadMap(b), "venue_id", "message")
	ui["venue"] = b.Title
	ui["city"] = b.City
	ui["inside_venue"] = sc.InsideVenue
	return Outcome{Action: ActionCheckin, UI: UI{Kind: "checkin_confirmed", Payload: ui}, XP: b.XPBase}, nil
}

func handleTicket(_ context.Context, b model.Beacon, _ ScanContext) (Outcome, error) {
	ui := pick(payloadMap(b), "ticket_id", "event_id", "tier")
	ui["title"] = b.Title
	return Outcome{Action: ActionTicketValidate, UI: UI{Kind: "ticket", Payload: ui}, XP: b.XPBase}, nil
}

// Product scans open checkout.  XP for a purchase is granted by the payment
// flow, not the scan.
func handleProduct(_ context.Context, b model.Beacon, _ ScanContext) (Outcome, error) {
	ui := pick(payloadMap(b), "product_id", "price_cents", "currency")
	ui["title"] = b.Title
	return Outcome{Action: ActionProductPurchase, UI: UI{Kind: "checkout", Payload: ui}}, nil
}

func handlePerson(_ context.Context, b model.Beacon, sc ScanContext) (Outcome, error) {
	if sc.UserID != "" && sc.UserID == b.OwnerID {
		return Outcome{Action: ActionSelf, UI: UI{Kind: "own_profile", Payload: map[string]interface{}{"user_id": b.OwnerID}}}, nil
	}
	ui := pick(payloadMap(b), "display_name")
	ui["user_id"] = b.OwnerID
	return Outcome{Action: ActionPersonRequest, UI: UI{Kind: "profile_connect", Payload: ui}, XP: b.XPBase}, nil
}

func handleRoom(_ context.Context, b model.Beacon, _ ScanContext) (Outcome, error) {
	p := payloadMap(b)
	ui := pick(p, "room_id", "topic")
	if _, ok := ui["room_id"]; !ok {
		ui["room_id"] = b.Code
	}
	ui["geo"] = b.Subtype == "geo_room"
	return Outcome{Action: ActionRoomJoin, UI: UI{Kind: "room", Payload: ui}, XP: b.XPBase}, nil
}

func handleCare(_ context.Context, b model.Beacon, _ ScanContext) (Outcome, error) {
	ui := pick(payloadMap(b), "resources", "hotline", "message")
	ui["title"] = b.Title
	return Outcome{Action: ActionCare, UI: UI{Kind: "care_resources", Payload: ui}, XP: b.XPBase}, nil
}
