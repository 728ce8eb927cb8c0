package config

import "time"

// EngineConfig carries the tunables of the beacon and signal engine.  None of
// these are hidden constants: every field can be overridden per deployment.
type EngineConfig struct {
    PostTTL            time.Duration // lifetime of a "Right Now" signal
    HeatTTL            time.Duration // how long a heat bin keeps influencing the map
    GeoCellMeters      int           // approximate edge of a geo bin at the equator
    StoreTimeout       time.Duration // bound on every store call
    FanoutBuffer       int           // bounded queue between Create and the publishers
    FanoutTimeout      time.Duration // bound on a single publish
    LinkDefaultTTL     time.Duration // default lifetime of a minted signed link
    LinkMaxTTL         time.Duration // upper bound a beacon owner may request
    NearPartyHeat      float64       // bin heat at which a new post is flagged near_party
    ScanHeatValue      float64       // heat added by one verified geo scan
    SignalHeatValue    float64       // heat added by one signal
    PublicBaseURL      string        // prefix used when returning minted link paths
}

// LoadEngineConfig reads ENGINE_* style variables with the documented defaults.
func LoadEngineConfig() EngineConfig {
    cfg := EngineConfig{
        PostTTL:         envDur("RIGHT_NOW_TTL", 60*time.Minute),
        HeatTTL:         envDur("HEAT_BIN_TTL", 2*time.Hour),
        GeoCellMeters:   envInt("GEO_CELL_METERS", 250),
        StoreTimeout:    envDur("STORE_TIMEOUT", 3*time.Second),
        FanoutBuffer:    envInt("FANOUT_BUFFER", 256),
        FanoutTimeout:   envDur("FANOUT_TIMEOUT", 2*time.Second),
        LinkDefaultTTL:  envDur("SIGNED_LINK_TTL", 15*time.Minute),
        LinkMaxTTL:      envDur("SIGNED_LINK_MAX_TTL", 7*24*time.Hour),
        NearPartyHeat:   envFloat("NEAR_PARTY_HEAT", 10),
        ScanHeatValue:   envFloat("SCAN_HEAT_VALUE", 1),
        SignalHeatValue: envFloat("SIGNAL_HEAT_VALUE", 1),
        PublicBaseURL:   envStr("PUBLIC_BASE_URL", ""),
    }
    if cfg.GeoCellMeters < 1 { cfg.GeoCellMeters = 250 }
    if cfg.FanoutBuffer < 1 { cfg.FanoutBuffer = 1 }
    if cfg.StoreTimeout <= 0 { cfg.StoreTimeout = 3 * time.Second }
    if cfg.FanoutTimeout <= 0 { cfg.FanoutTimeout = 2 * time.Second }
    if cfg.LinkMaxTTL < cfg.LinkDefaultTTL { cfg.LinkMaxTTL = cfg.LinkDefaultTTL }
    return cfg
}

// HeatTTLHours is the TTL expressed the way heat bins store it.
func (c EngineConfig) HeatTTLHours() float64 { return c.HeatTTL.Hours() }
