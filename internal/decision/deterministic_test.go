package decision

import (
	"context"
	"strings"
	"testing"

	"github.com/anthropics/negotiation-engine/internal/domain"
)

func baseContext() domain.DecisionContext {
	return domain.DecisionContext{
		SKU:          "sku-1",
		ProductName:  "Widget",
		BasePrice:    100000,
		FloorPrice:   75000,
		CurrentRound: 1,
		MaxRounds:    3,
		Segment:      domain.SegmentReturning,
		StockLevel:   50,
		Language:     "en",
	}
}

func TestDeterministic_AcceptsAtOrAboveFloor(t *testing.T) {
	dc := baseContext()
	dc.OfferPrice = 80000

	d, err := Deterministic{}.Negotiate(context.Background(), dc)
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	if d.Status != domain.DecisionAccept {
		t.Errorf("Status = %s, want accept", d.Status)
	}
	if d.CounterPrice != 80000 {
		t.Errorf("CounterPrice = %d, want the offer 80000", d.CounterPrice)
	}
	if d.Source != domain.SourceDeterministic {
		t.Errorf("Source = %s, want deterministic", d.Source)
	}
}

func TestDeterministic_ConcessionSchedule(t *testing.T) {
	tests := []struct {
		name        string
		round       int
		wantCounter int64
		wantStatus  domain.DecisionStatus
	}{
		// Gap is 100000-50000 = 50000.
		{"round 1 concedes 15%", 1, 92500, domain.DecisionCounter},
		{"round 2 concedes 30%, marked final", 2, 85000, domain.DecisionFinal},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dc := baseContext()
			dc.OfferPrice = 50000
			dc.CurrentRound = tc.round

			d, err := Deterministic{}.Negotiate(context.Background(), dc)
			if err != nil {
				t.Fatalf("Negotiate: %v", err)
			}
			if d.Status != tc.wantStatus {
				t.Errorf("Status = %s, want %s", d.Status, tc.wantStatus)
			}
			if d.CounterPrice != tc.wantCounter {
				t.Errorf("CounterPrice = %d, want %d", d.CounterPrice, tc.wantCounter)
			}
		})
	}
}

func TestDeterministic_CounterNeverBelowFloor(t *testing.T) {
	dc := baseContext()
	dc.BasePrice = 100000
	dc.FloorPrice = 99000
	dc.OfferPrice = 10000
	dc.CurrentRound = 2

	d, err := Deterministic{}.Negotiate(context.Background(), dc)
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	if d.CounterPrice < dc.FloorPrice {
		t.Errorf("CounterPrice = %d below floor %d", d.CounterPrice, dc.FloorPrice)
	}
}

func TestDeterministic_RejectsOnLastRound(t *testing.T) {
	dc := baseContext()
	dc.OfferPrice = 50000
	dc.CurrentRound = 3
	dc.Perks = []string{"free shipping"}

	d, err := Deterministic{}.Negotiate(context.Background(), dc)
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	if d.Status != domain.DecisionReject {
		t.Errorf("Status = %s, want reject", d.Status)
	}
	if len(d.AltPerks) != 1 || d.AltPerks[0] != "free shipping" {
		t.Errorf("AltPerks = %v, want consolation perks", d.AltPerks)
	}
}

func TestDeterministic_LowStockUrgency(t *testing.T) {
	dc := baseContext()
	dc.OfferPrice = 50000
	dc.StockLevel = 3

	d, err := Deterministic{}.Negotiate(context.Background(), dc)
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	if !strings.Contains(d.Justification, "3") {
		t.Errorf("low-stock counter should mention stock level, got %q", d.Justification)
	}
}

func TestDeterministic_BundlesOnCounter(t *testing.T) {
	dc := baseContext()
	dc.OfferPrice = 50000
	dc.BundlePairs = []string{"sku-2"}

	d, err := Deterministic{}.Negotiate(context.Background(), dc)
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	if d.Status != domain.DecisionCounter {
		t.Fatalf("Status = %s, want counter", d.Status)
	}
	if len(d.BundleSuggestions) != 1 {
		t.Errorf("BundleSuggestions = %v, want the configured pairing", d.BundleSuggestions)
	}
}

func TestDeterministic_JapaneseCatalog(t *testing.T) {
	dc := baseContext()
	dc.OfferPrice = 80000
	dc.Language = "ja"

	d, err := Deterministic{}.Negotiate(context.Background(), dc)
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	if !strings.Contains(d.Justification, "80000") {
		t.Errorf("accept message should carry the price, got %q", d.Justification)
	}
	if strings.Contains(d.Justification, "Deal!") {
		t.Errorf("got the English catalog for ja: %q", d.Justification)
	}
}

func TestDeterministic_UnknownLanguageFallsBackToEnglish(t *testing.T) {
	dc := baseContext()
	dc.OfferPrice = 80000
	dc.Language = "xx"

	d, err := Deterministic{}.Negotiate(context.Background(), dc)
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	if !strings.Contains(d.Justification, "Deal!") {
		t.Errorf("unknown language should use English, got %q", d.Justification)
	}
}
