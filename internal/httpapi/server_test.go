package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/anthropics/negotiation-engine/internal/domain"
	"github.com/anthropics/negotiation-engine/internal/engine"
	"github.com/anthropics/negotiation-engine/internal/guard"
	"github.com/anthropics/negotiation-engine/internal/rules"
	"github.com/anthropics/negotiation-engine/internal/store"
)

func newTestHandler(t *testing.T, rateLimit int) http.Handler {
	t.Helper()
	db, err := store.NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	e := engine.New(db, engine.Config{MaxRounds: 3, SessionTTL: 30 * time.Minute})
	provider := &rules.SQLiteProvider{DB: db}
	e.Rules = provider
	e.Catalog = &rules.SQLiteCatalog{DB: db}
	e.Features = rules.AllowAllFlags{}
	e.History = rules.StaticHistory{Segment: domain.SegmentReturning}
	e.Limiter = &guard.RateLimiter{Store: guard.NewMemoryRateStore(), Limit: rateLimit, Window: time.Hour}
	e.Replay = &guard.ReplayGuard{Store: guard.NewMemoryReplayStore(), TTL: 30 * time.Minute}
	e.Fraud = guard.NewFraudHeuristics(guard.NewMemoryActivityStore(), guard.FraudConfig{})

	if err := provider.UpsertRule(context.Background(), domain.Rule{
		SKU:            "sku-1",
		BasePrice:      100000,
		MinPrice:       70000,
		MaxDiscountPct: 25,
		MaxRounds:      3,
		StockLevel:     50,
		Enabled:        true,
	}); err != nil {
		t.Fatalf("seed rule: %v", err)
	}

	return NewServer(&Handler{Engine: e}, ":0").httpServer.Handler
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeSession(t *testing.T, rec *httptest.ResponseRecorder) SessionResponse {
	t.Helper()
	var resp SessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v (body %s)", err, rec.Body.String())
	}
	return resp
}

func TestHealth(t *testing.T) {
	h := newTestHandler(t, 10)
	rec := doJSON(t, h, http.MethodGet, "/api/v1/health", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestStartNegotiation_Accept(t *testing.T) {
	h := newTestHandler(t, 10)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/negotiations", StartRequest{
		SKU: "sku-1", UserID: "u1", OfferPrice: 80000, Quantity: 1,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (body %s)", rec.Code, rec.Body.String())
	}

	resp := decodeSession(t, rec)
	if resp.Status != domain.StatusAccepted {
		t.Errorf("Status = %s, want accepted", resp.Status)
	}
	if resp.FinalPrice != 80000 {
		t.Errorf("FinalPrice = %d, want 80000", resp.FinalPrice)
	}
	if resp.DiscountToken == "" {
		t.Error("accepted response missing discount token")
	}
}

func TestStartNegotiation_Validation(t *testing.T) {
	h := newTestHandler(t, 10)

	tests := []struct {
		name string
		body StartRequest
	}{
		{"missing sku", StartRequest{UserID: "u1", OfferPrice: 80000}},
		{"missing user", StartRequest{SKU: "sku-1", OfferPrice: 80000}},
		{"non-positive offer", StartRequest{SKU: "sku-1", UserID: "u1", OfferPrice: 0}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, h, http.MethodPost, "/api/v1/negotiations", tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestContinueNegotiation_FlowAndErrors(t *testing.T) {
	h := newTestHandler(t, 10)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/negotiations", StartRequest{
		SKU: "sku-1", UserID: "u1", OfferPrice: 50000, Quantity: 1,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("start status = %d (body %s)", rec.Code, rec.Body.String())
	}
	started := decodeSession(t, rec)
	if started.CounterPrice == 0 {
		t.Fatalf("expected a counter, got %+v", started)
	}

	rec = doJSON(t, h, http.MethodPost, "/api/v1/negotiations/"+started.SessionID+"/offers",
		ContinueRequest{OfferPrice: 80000})
	if rec.Code != http.StatusOK {
		t.Fatalf("continue status = %d (body %s)", rec.Code, rec.Body.String())
	}
	continued := decodeSession(t, rec)
	if continued.Status != domain.StatusAccepted {
		t.Errorf("Status = %s, want accepted", continued.Status)
	}

	// Unknown session.
	rec = doJSON(t, h, http.MethodPost, "/api/v1/negotiations/ns_missing/offers",
		ContinueRequest{OfferPrice: 80000})
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown session status = %d, want 404", rec.Code)
	}
}

func TestContinueNegotiation_DuplicateOffer(t *testing.T) {
	h := newTestHandler(t, 10)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/negotiations", StartRequest{
		SKU: "sku-1", UserID: "u1", OfferPrice: 50000, Quantity: 1,
	})
	started := decodeSession(t, rec)

	rec = doJSON(t, h, http.MethodPost, "/api/v1/negotiations/"+started.SessionID+"/offers",
		ContinueRequest{OfferPrice: 50000})
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate offer status = %d, want 409", rec.Code)
	}

	var apiErr APIError
	if err := json.Unmarshal(rec.Body.Bytes(), &apiErr); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if apiErr.Code != domain.ErrDuplicateOffer.Code {
		t.Errorf("error code = %d, want %d", apiErr.Code, domain.ErrDuplicateOffer.Code)
	}
}

func TestStartNegotiation_RateLimited(t *testing.T) {
	h := newTestHandler(t, 1)

	body := StartRequest{SKU: "sku-1", UserID: "u1", OfferPrice: 80000}
	if rec := doJSON(t, h, http.MethodPost, "/api/v1/negotiations", body); rec.Code != http.StatusCreated {
		t.Fatalf("first start status = %d", rec.Code)
	}
	rec := doJSON(t, h, http.MethodPost, "/api/v1/negotiations", body)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", rec.Code)
	}
}

func TestGetNegotiation(t *testing.T) {
	h := newTestHandler(t, 10)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/negotiations", StartRequest{
		SKU: "sku-1", UserID: "u1", OfferPrice: 50000, Quantity: 1,
	})
	started := decodeSession(t, rec)

	rec = doJSON(t, h, http.MethodGet, "/api/v1/negotiations/"+started.SessionID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (body %s)", rec.Code, rec.Body.String())
	}

	var detail SessionDetail
	if err := json.Unmarshal(rec.Body.Bytes(), &detail); err != nil {
		t.Fatalf("decode detail: %v", err)
	}
	if detail.SKU != "sku-1" || detail.FloorPrice != 75000 {
		t.Errorf("detail mismatch: %+v", detail)
	}
	if len(detail.Rounds) != 1 {
		t.Errorf("len(Rounds) = %d, want 1", len(detail.Rounds))
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/negotiations/ns_missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing session status = %d, want 404", rec.Code)
	}
}

func TestRedemption_ExactlyOnce(t *testing.T) {
	h := newTestHandler(t, 10)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/negotiations", StartRequest{
		SKU: "sku-1", UserID: "u1", OfferPrice: 80000, Quantity: 1,
	})
	started := decodeSession(t, rec)
	if started.DiscountToken == "" {
		t.Fatal("no token minted")
	}

	rec = doJSON(t, h, http.MethodPost, "/api/v1/redemptions", RedeemRequest{Token: started.DiscountToken})
	if rec.Code != http.StatusOK {
		t.Fatalf("redeem status = %d (body %s)", rec.Code, rec.Body.String())
	}
	var redeemed RedeemResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &redeemed); err != nil {
		t.Fatalf("decode redeem: %v", err)
	}
	if redeemed.Discount != 20000 || redeemed.DiscountedPrice != 80000 {
		t.Errorf("redeem response = %+v", redeemed)
	}

	rec = doJSON(t, h, http.MethodPost, "/api/v1/redemptions", RedeemRequest{Token: started.DiscountToken})
	if rec.Code != http.StatusConflict {
		t.Errorf("second redeem status = %d, want 409", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/api/v1/redemptions", RedeemRequest{Token: "bogus"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("bogus token status = %d, want 404", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/api/v1/redemptions", RedeemRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty token status = %d, want 400", rec.Code)
	}
}

func TestListDiscounts(t *testing.T) {
	h := newTestHandler(t, 10)

	doJSON(t, h, http.MethodPost, "/api/v1/negotiations", StartRequest{
		SKU: "sku-1", UserID: "u1", OfferPrice: 80000, Quantity: 1,
	})

	rec := doJSON(t, h, http.MethodGet, "/api/v1/analytics/discounts?limit=5", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var records []domain.DiscountRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &records); err != nil {
		t.Fatalf("decode records: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("len(records) = %d, want 1", len(records))
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		trustProxy bool
		forwarded  string
		remoteAddr string
		want       string
	}{
		{"direct connection", false, "", "198.51.100.7:4312", "198.51.100.7"},
		{"header ignored without proxy trust", false, "203.0.113.9", "198.51.100.7:4312", "198.51.100.7"},
		{"trusted proxy single hop", true, "203.0.113.9", "198.51.100.7:4312", "203.0.113.9"},
		{"trusted proxy takes first hop", true, "203.0.113.9, 10.0.0.1, 10.0.0.2", "198.51.100.7:4312", "203.0.113.9"},
		{"trusted proxy without header", true, "", "198.51.100.7:4312", "198.51.100.7"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := &Handler{TrustProxy: tc.trustProxy}
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remoteAddr
			if tc.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tc.forwarded)
			}
			if got := h.clientIP(req); got != tc.want {
				t.Errorf("clientIP = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	h := newTestHandler(t, 10)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/negotiations", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS allow-origin header")
	}
}
