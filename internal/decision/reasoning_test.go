package decision

import (
	"strings"
	"testing"

	"github.com/anthropics/negotiation-engine/internal/domain"
)

func TestParseDecision(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    domain.DecisionStatus
		wantErr bool
	}{
		{
			name: "plain JSON",
			raw:  `{"status": "counter", "counter_price": 92500, "justification": "meet in the middle"}`,
			want: domain.DecisionCounter,
		},
		{
			name: "fenced JSON",
			raw:  "```json\n{\"status\": \"accept\", \"counter_price\": 80000, \"justification\": \"deal\"}\n```",
			want: domain.DecisionAccept,
		},
		{
			name: "uppercase status normalized",
			raw:  `{"status": "FINAL", "counter_price": 85000, "justification": "last offer"}`,
			want: domain.DecisionFinal,
		},
		{
			name:    "unknown status",
			raw:     `{"status": "maybe", "counter_price": 1}`,
			wantErr: true,
		},
		{
			name:    "not JSON",
			raw:     "I think we should counter at 92500.",
			wantErr: true,
		},
		{
			name:    "empty",
			raw:     "",
			wantErr: true,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d, err := parseDecision(tc.raw)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseDecision: %v", err)
			}
			if d.Status != tc.want {
				t.Errorf("Status = %s, want %s", d.Status, tc.want)
			}
		})
	}
}

func TestParseDecision_RoundsFractionalPrice(t *testing.T) {
	d, err := parseDecision(`{"status": "counter", "counter_price": 92500.6}`)
	if err != nil {
		t.Fatalf("parseDecision: %v", err)
	}
	if d.CounterPrice != 92501 {
		t.Errorf("CounterPrice = %d, want 92501", d.CounterPrice)
	}
}

func TestStripCodeFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no fence", `{"a": 1}`, `{"a": 1}`},
		{"json fence", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"bare fence", "```\n{\"a\": 1}\n```", `{"a": 1}`},
		{"surrounding whitespace", "  \n```json\n{\"a\": 1}\n```\n  ", `{"a": 1}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := stripCodeFences(tc.in); got != tc.want {
				t.Errorf("stripCodeFences(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestBuildPrompt_CarriesContext(t *testing.T) {
	dc := baseContext()
	dc.OfferPrice = 50000
	dc.Perks = []string{"free shipping"}
	dc.History = []domain.Round{
		{RoundNumber: 1, UserOffer: 40000, Decision: domain.Decision{
			Status: domain.DecisionCounter, CounterPrice: 91000, Justification: "too low",
		}},
	}

	prompt := buildPrompt(dc)
	for _, want := range []string{"sku-1", "75000", "50000", "free shipping", "Round 1 of 3", "buyer offered 40000"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}
