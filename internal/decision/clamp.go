package decision

import (
	"math"

	"github.com/anthropics/negotiation-engine/internal/domain"
)

// counterBumpFactor is the minimum markup applied when a backend proposes a
// counter at or below the buyer's own offer.
const counterBumpFactor = 1.05

// Clamp enforces the business invariants on a decision, whichever backend
// produced it:
//
//   - an accept for an offer below floorPrice is demoted to a counter,
//     final, or reject depending on the rounds remaining
//   - a non-accept counter price must exceed the buyer's offer; violations
//     are replaced with max(floor, round(offer*1.05))
//   - the counter price is clamped to [floorPrice, basePrice]
//   - perk and bundle slices are never nil
func Clamp(d domain.Decision, dc domain.DecisionContext) domain.Decision {
	if d.Status == domain.DecisionAccept && dc.OfferPrice < dc.FloorPrice {
		switch {
		case dc.CurrentRound >= dc.MaxRounds:
			d.Status = domain.DecisionReject
		case dc.CurrentRound >= dc.MaxRounds-1:
			d.Status = domain.DecisionFinal
		default:
			d.Status = domain.DecisionCounter
		}
	}

	if d.Status == domain.DecisionAccept {
		if d.CounterPrice == 0 {
			d.CounterPrice = dc.OfferPrice
		}
	} else if d.CounterPrice <= dc.OfferPrice {
		bumped := int64(math.Round(float64(dc.OfferPrice) * counterBumpFactor))
		d.CounterPrice = maxInt64(dc.FloorPrice, bumped)
	}

	if d.Status != domain.DecisionAccept {
		if d.CounterPrice < dc.FloorPrice {
			d.CounterPrice = dc.FloorPrice
		}
		if d.CounterPrice > dc.BasePrice {
			d.CounterPrice = dc.BasePrice
		}
	}

	if d.AltPerks == nil {
		d.AltPerks = []string{}
	}
	if d.BundleSuggestions == nil {
		d.BundleSuggestions = []string{}
	}
	return d
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
