package decision

import (
	"context"
	"fmt"
	"math"

	"github.com/anthropics/negotiation-engine/internal/domain"
)

// Concession schedule: fraction of the base-offer gap conceded per round.
var concessionByRound = map[int]float64{
	1: 0.15,
	2: 0.30,
}

const (
	finalRoundConcession = 0.50
	lowStockThreshold    = 10
	// Consolation perks are offered from round 2 onward when the offer sits
	// just below the floor.
	consolationFloorFactor = 1.1
)

// Deterministic is the fallback negotiator: a pure function of the decision
// context, usable without any network call.
type Deterministic struct{}

// Negotiate implements Provider.
func (Deterministic) Negotiate(ctx context.Context, dc domain.DecisionContext) (domain.Decision, error) {
	d := deterministicDecision(dc)
	d.Source = domain.SourceDeterministic
	return Clamp(d, dc), nil
}

func deterministicDecision(dc domain.DecisionContext) domain.Decision {
	lang := dc.Language

	// Any offer at or above the floor is a deal.
	if dc.OfferPrice >= dc.FloorPrice {
		return domain.Decision{
			Status:        domain.DecisionAccept,
			CounterPrice:  dc.OfferPrice,
			Justification: message(lang, msgAccept, dc.OfferPrice),
		}
	}

	// Below floor on the last round: no deal.
	if dc.CurrentRound >= dc.MaxRounds {
		d := domain.Decision{
			Status:        domain.DecisionReject,
			Justification: message(lang, msgReject),
		}
		if len(dc.Perks) > 0 {
			d.AltPerks = append([]string{}, dc.Perks...)
			d.Justification += " " + message(lang, msgConsolation)
		}
		return d
	}

	// Concede a round-dependent fraction of the gap, never below the floor.
	gap := dc.BasePrice - dc.OfferPrice
	fraction, ok := concessionByRound[dc.CurrentRound]
	if !ok {
		fraction = finalRoundConcession
	}
	counter := dc.BasePrice - int64(math.Round(float64(gap)*fraction))
	if counter < dc.FloorPrice {
		counter = dc.FloorPrice
	}

	status := domain.DecisionCounter
	msgKey := msgCounter
	if dc.CurrentRound >= dc.MaxRounds-1 {
		status = domain.DecisionFinal
		msgKey = msgFinal
	}

	d := domain.Decision{
		Status:        status,
		CounterPrice:  counter,
		Justification: message(lang, msgKey, counter),
	}

	if dc.StockLevel > 0 && dc.StockLevel < lowStockThreshold {
		d.Justification += " " + message(lang, msgUrgency, dc.StockLevel)
	}

	if dc.CurrentRound >= 2 && len(dc.Perks) > 0 &&
		float64(dc.OfferPrice) < float64(dc.FloorPrice)*consolationFloorFactor {
		d.AltPerks = append([]string{}, dc.Perks...)
		d.Justification += " " + message(lang, msgPerkOffer)
	}

	if len(dc.BundlePairs) > 0 && status == domain.DecisionCounter {
		d.BundleSuggestions = append([]string{}, dc.BundlePairs...)
	}

	return d
}

type messageKey int

const (
	msgAccept messageKey = iota
	msgCounter
	msgFinal
	msgReject
	msgUrgency
	msgConsolation
	msgPerkOffer
)

var messageCatalog = map[string]map[messageKey]string{
	"en": {
		msgAccept:      "Deal! We can do %d for you.",
		msgCounter:     "That's a bit low for us, but we could meet you at %d.",
		msgFinal:       "This is the best we can do: %d. Take it or leave it.",
		msgReject:      "We can't go that low, sorry.",
		msgUrgency:     "Only %d left in stock, so this price won't hold for long.",
		msgConsolation: "We can throw in free shipping instead.",
		msgPerkOffer:   "We can also include a little extra to sweeten the deal.",
	},
	"ja": {
		msgAccept:      "承知しました！%d円でお譲りします。",
		msgCounter:     "そのお値段は少し厳しいのですが、%d円ではいかがでしょうか。",
		msgFinal:       "%d円が限界です。こちらでご検討ください。",
		msgReject:      "申し訳ありませんが、そのお値段ではお譲りできません。",
		msgUrgency:     "在庫が残り%d点ですので、お早めにどうぞ。",
		msgConsolation: "代わりに送料無料でご対応いたします。",
		msgPerkOffer:   "特典もお付けできますので、ぜひご検討ください。",
	},
}

func message(lang string, key messageKey, args ...interface{}) string {
	catalog, ok := messageCatalog[lang]
	if !ok {
		catalog = messageCatalog["en"]
	}
	return fmt.Sprintf(catalog[key], args...)
}
