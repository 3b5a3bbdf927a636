package decision

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/anthropics/negotiation-engine/internal/domain"
)

// ReasoningBackend delegates the negotiation decision to Gemini with a
// role-conditioned prompt and a strict JSON response contract. The raw
// response is treated as untrusted input: it is parsed tolerantly, validated,
// and clamped before it can affect a session. Any failure is returned to the
// caller, which falls back to the deterministic negotiator without retrying.
type ReasoningBackend struct {
	model   *genai.GenerativeModel
	timeout time.Duration
}

// NewReasoningBackend creates a Gemini-backed decision provider.
func NewReasoningBackend(ctx context.Context, apiKey, modelName string, timeout time.Duration) (*ReasoningBackend, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	model := client.GenerativeModel(modelName)
	model.ResponseMIMEType = "application/json"

	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &ReasoningBackend{model: model, timeout: timeout}, nil
}

// Negotiate implements Provider.
func (b *ReasoningBackend) Negotiate(ctx context.Context, dc domain.DecisionContext) (domain.Decision, error) {
	callCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	resp, err := b.model.GenerateContent(callCtx, genai.Text(buildPrompt(dc)))
	if err != nil {
		return domain.Decision{}, domain.WrapEngineError(domain.ErrBackendUnavailable.Code, "generate content", err)
	}

	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return domain.Decision{}, domain.ErrBackendResponse
	}
	text, ok := resp.Candidates[0].Content.Parts[0].(genai.Text)
	if !ok {
		return domain.Decision{}, domain.ErrBackendResponse
	}

	d, err := parseDecision(string(text))
	if err != nil {
		return domain.Decision{}, err
	}
	d.Source = domain.SourceReasoning
	return Clamp(d, dc), nil
}

// wireDecision is the JSON shape the prompt instructs the model to emit.
type wireDecision struct {
	Status            string   `json:"status"`
	CounterPrice      float64  `json:"counter_price"`
	Justification     string   `json:"justification"`
	AltPerks          []string `json:"alt_perks"`
	BundleSuggestions []string `json:"bundle_suggestions"`
}

// parseDecision decodes a backend response, tolerating markdown code fences
// around the JSON body. A missing or unknown status is a hard failure.
func parseDecision(raw string) (domain.Decision, error) {
	cleaned := stripCodeFences(raw)

	var wire wireDecision
	if err := json.Unmarshal([]byte(cleaned), &wire); err != nil {
		return domain.Decision{}, domain.WrapEngineError(domain.ErrBackendResponse.Code, "parse decision JSON", err)
	}

	status := domain.DecisionStatus(strings.ToLower(strings.TrimSpace(wire.Status)))
	switch status {
	case domain.DecisionCounter, domain.DecisionAccept, domain.DecisionReject, domain.DecisionFinal:
	default:
		return domain.Decision{}, domain.WrapEngineError(domain.ErrBackendResponse.Code,
			fmt.Sprintf("unknown decision status %q", wire.Status), nil)
	}

	return domain.Decision{
		Status:            status,
		CounterPrice:      int64(math.Round(wire.CounterPrice)),
		Justification:     wire.Justification,
		AltPerks:          wire.AltPerks,
		BundleSuggestions: wire.BundleSuggestions,
	}, nil
}

// stripCodeFences removes a surrounding ```json ... ``` fence if present.
func stripCodeFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[idx+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func buildPrompt(dc domain.DecisionContext) string {
	var history strings.Builder
	for _, r := range dc.History {
		fmt.Fprintf(&history, "- Round %d: buyer offered %d, we replied %s at %d (%s)\n",
			r.RoundNumber, r.UserOffer, r.Decision.Status, r.Decision.CounterPrice, r.Decision.Justification)
	}
	if history.Len() == 0 {
		history.WriteString("(none)\n")
	}

	stock := "normal"
	if dc.StockLevel < lowStockThreshold {
		stock = "low (create urgency)"
	}
	clearance := "no"
	if dc.OnClearance {
		clearance = "yes (prioritize closing the sale)"
	}

	return fmt.Sprintf(`You are the seller's negotiation agent for an online storefront.
Negotiate firmly but courteously to close the sale at the highest price the buyer will accept.

Item context:
- SKU: %s (%s)
- List price for this quantity: %d
- Absolute floor price (you MUST NOT go below this): %d
- Stock: %s (%d units)
- Clearance item: %s
- Buyer segment: %s
- Round %d of %d
- Perks you may offer instead of a lower price: %s
- Bundle pairings you may suggest: %s

Prior rounds:
%s
Current buyer offer: %d

Rules:
1. If the offer is at or above the floor price, you may accept it.
2. If you counter, the counter price must be strictly greater than the buyer's offer and never below the floor price or above the list price.
3. On the final round, mark your counter as "final".
4. Reject only when the offer is below the floor and no rounds remain.
5. Write the justification in language code %q.

Respond with JSON only, no prose, matching exactly:
{
  "status": "counter" | "accept" | "reject" | "final",
  "counter_price": 0,
  "justification": "message shown to the buyer",
  "alt_perks": ["optional non-price concessions"],
  "bundle_suggestions": ["optional bundle pairings"]
}`,
		dc.SKU, dc.ProductName, dc.BasePrice, dc.FloorPrice,
		stock, dc.StockLevel, clearance, dc.Segment,
		dc.CurrentRound, dc.MaxRounds,
		formatList(dc.Perks), formatList(dc.BundlePairs),
		history.String(), dc.OfferPrice, dc.Language)
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}
	return strings.Join(items, ", ")
}
