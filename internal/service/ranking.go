package service

import (
	"sort"
	"time"

	"github.com/iliyamo/beacon-signal-engine/internal/model"
)

// RankWeights parameterise the feed score:
//
//	score = tier + xpBand + verified_host bonus + near_party bonus - AgePenalty*ageHours
type RankWeights struct {
	Tier         map[string]float64
	Band         map[string]float64
	VerifiedHost float64
	NearParty    float64
	AgePenalty   float64
}

// DefaultRankWeights are the production weights.
var DefaultRankWeights = RankWeights{
	Tier: map[string]float64{"free": 0, "plus": 10, "chrome": 20},
	Band: map[string]float64{
		model.BandNone: 0, model.BandRookie: 2, model.BandRegular: 5,
		model.BandVeteran: 8, model.BandLegend: 12,
	},
	VerifiedHost: 10,
	NearParty:    15,
	AgePenalty:   5,
}

// Score computes the feed score of p at now.  Unknown tiers and bands weigh
// zero.  Posts stamped in the future are treated as age zero.
func (w RankWeights) Score(p model.EphemeralPost, now time.Time) float64 {
	s := w.Tier[p.MembershipTier] + w.Band[p.XPBand]
	if p.HasFlag(model.FlagVerifiedHost) {
		s += w.VerifiedHost
	}
	if p.HasFlag(model.FlagNearParty) {
		s += w.NearParty
	}
	age := now.Sub(p.CreatedAt).Hours()
	if age < 0 {
		age = 0
	}
	return s - w.AgePenalty*age
}

// Rank scores posts and orders them by score, newest first on ties.  Posts
// are only reordered, never dropped.
func (w RankWeights) Rank(posts []model.EphemeralPost, now time.Time) []model.RankedPost {
	out := make([]model.RankedPost, len(posts))
	for i, p := range posts {
		out[i] = model.RankedPost{EphemeralPost: p, Score: w.Score(p, now)}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}
