// Package httpapi provides the HTTP API for the negotiation engine.
package httpapi

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/anthropics/negotiation-engine/internal/domain"
	"github.com/anthropics/negotiation-engine/internal/engine"
)

// Handler holds all dependencies for the HTTP handlers.
type Handler struct {
	Engine *engine.Engine
	// TrustProxy enables X-Forwarded-For parsing. Leave off unless a
	// trusted reverse proxy sets the header, it is client-controlled
	// otherwise and feeds the per-IP fraud heuristics.
	TrustProxy bool
}

// StartRequest is the body for POST /api/v1/negotiations.
type StartRequest struct {
	SKU        string `json:"sku"`
	UserID     string `json:"user_id"`
	OfferPrice int64  `json:"offer_price"`
	Quantity   int    `json:"quantity"`
	Language   string `json:"language"`
	DeviceType string `json:"device_type"`
	Referrer   string `json:"referrer"`
}

// ContinueRequest is the body for POST /api/v1/negotiations/{sessionID}/offers.
type ContinueRequest struct {
	OfferPrice int64  `json:"offer_price"`
	Language   string `json:"language"`
}

// RedeemRequest is the body for POST /api/v1/redemptions.
type RedeemRequest struct {
	Token string `json:"token"`
}

// SessionResponse is the response shape for start and continue.
type SessionResponse struct {
	SessionID          string               `json:"session_id"`
	Status             domain.SessionStatus `json:"status"`
	DecisionStatus     domain.DecisionStatus `json:"decision_status"`
	CounterPrice       int64                `json:"counter_price,omitempty"`
	Justification      string               `json:"justification"`
	AltPerks           []string             `json:"alt_perks"`
	BundleSuggestions  []string             `json:"bundle_suggestions"`
	CurrentRound       int                  `json:"current_round"`
	MaxRounds          int                  `json:"max_rounds"`
	ExpiresAtUnix      int64                `json:"expires_at_unix"`
	RateLimitRemaining int                  `json:"rate_limit_remaining"`
	FinalPrice         int64                `json:"final_price,omitempty"`
	DiscountToken      string               `json:"discount_token,omitempty"`
}

// RedeemResponse is the response for POST /api/v1/redemptions.
type RedeemResponse struct {
	SKU             string   `json:"sku"`
	OriginalPrice   int64    `json:"original_price"`
	DiscountedPrice int64    `json:"discounted_price"`
	Discount        int64    `json:"discount"`
	Quantity        int      `json:"quantity"`
	ExpiresAtUnix   int64    `json:"expires_at_unix"`
	Perks           []string `json:"perks"`
}

// RoundView is one round in the session detail response.
type RoundView struct {
	RoundNumber   int                   `json:"round_number"`
	UserOffer     int64                 `json:"user_offer"`
	Status        domain.DecisionStatus `json:"status"`
	CounterPrice  int64                 `json:"counter_price"`
	Justification string                `json:"justification"`
	Source        domain.DecisionSource `json:"source"`
	CreatedAtUnix int64                 `json:"created_at_unix"`
}

// SessionDetail is the response for GET /api/v1/negotiations/{sessionID}.
type SessionDetail struct {
	SessionID     string               `json:"session_id"`
	SKU           string               `json:"sku"`
	Status        domain.SessionStatus `json:"status"`
	Segment       domain.Segment       `json:"segment"`
	Quantity      int                  `json:"quantity"`
	BasePrice     int64                `json:"base_price"`
	FloorPrice    int64                `json:"floor_price"`
	CurrentRound  int                  `json:"current_round"`
	MaxRounds     int                  `json:"max_rounds"`
	FinalPrice    int64                `json:"final_price,omitempty"`
	ExpiresAtUnix int64                `json:"expires_at_unix"`
	Rounds        []RoundView          `json:"rounds"`
	FraudFlags    []domain.FraudFlag   `json:"fraud_flags"`
}

// APIError is a structured error response.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Health handles GET /api/v1/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// StartNegotiation handles POST /api/v1/negotiations.
func (h *Handler) StartNegotiation(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "invalid request body"})
		return
	}
	if req.SKU == "" || req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "sku and user_id are required"})
		return
	}
	if req.OfferPrice <= 0 {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "offer_price must be positive"})
		return
	}

	summary, err := h.Engine.Start(r.Context(), engine.StartRequest{
		SKU:        req.SKU,
		UserID:     req.UserID,
		OfferPrice: req.OfferPrice,
		Quantity:   req.Quantity,
		Language:   req.Language,
		DeviceType: req.DeviceType,
		Referrer:   req.Referrer,
		IP:         h.clientIP(r),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSessionResponse(summary))
}

// ContinueNegotiation handles POST /api/v1/negotiations/{sessionID}/offers.
func (h *Handler) ContinueNegotiation(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionID")
	var req ContinueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "invalid request body"})
		return
	}
	if req.OfferPrice <= 0 {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "offer_price must be positive"})
		return
	}

	summary, err := h.Engine.Continue(r.Context(), engine.ContinueRequest{
		SessionID:  sessionID,
		OfferPrice: req.OfferPrice,
		Language:   req.Language,
		IP:         h.clientIP(r),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(summary))
}

// GetNegotiation handles GET /api/v1/negotiations/{sessionID}.
func (h *Handler) GetNegotiation(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionID")
	session, rounds, flags, err := h.Engine.GetSession(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}

	detail := SessionDetail{
		SessionID:     session.SessionID,
		SKU:           session.SKU,
		Status:        session.Status,
		Segment:       session.Segment,
		Quantity:      session.Quantity,
		BasePrice:     session.BasePrice,
		FloorPrice:    session.FloorPrice,
		CurrentRound:  session.CurrentRound,
		MaxRounds:     session.MaxRounds,
		FinalPrice:    session.FinalPrice,
		ExpiresAtUnix: session.ExpiresAtUnix,
		Rounds:        []RoundView{},
		FraudFlags:    []domain.FraudFlag{},
	}
	for _, rd := range rounds {
		detail.Rounds = append(detail.Rounds, RoundView{
			RoundNumber:   rd.RoundNumber,
			UserOffer:     rd.UserOffer,
			Status:        rd.Decision.Status,
			CounterPrice:  rd.Decision.CounterPrice,
			Justification: rd.Decision.Justification,
			Source:        rd.Decision.Source,
			CreatedAtUnix: rd.CreatedAtUnix,
		})
	}
	if flags != nil {
		detail.FraudFlags = flags
	}
	writeJSON(w, http.StatusOK, detail)
}

// Redeem handles POST /api/v1/redemptions.
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req RedeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "invalid request body"})
		return
	}
	if req.Token == "" {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "token is required"})
		return
	}

	summary, err := h.Engine.Redeem(r.Context(), req.Token)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, RedeemResponse{
		SKU:             summary.SKU,
		OriginalPrice:   summary.OriginalPrice,
		DiscountedPrice: summary.DiscountedPrice,
		Discount:        summary.Discount,
		Quantity:        summary.Quantity,
		ExpiresAtUnix:   summary.ExpiresAtUnix,
		Perks:           summary.Perks,
	})
}

// ListDiscounts handles GET /api/v1/analytics/discounts?limit=N.
func (h *Handler) ListDiscounts(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if s := r.URL.Query().Get("limit"); s != "" {
		if parsed, err := strconv.Atoi(s); err == nil {
			limit = parsed
		}
	}

	records, err := h.Engine.Discounts.ListRecent(r.Context(), h.Engine.DB, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if records == nil {
		records = []domain.DiscountRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func toSessionResponse(s *domain.SessionSummary) SessionResponse {
	return SessionResponse{
		SessionID:          s.SessionID,
		Status:             s.Status,
		DecisionStatus:     s.Decision.Status,
		CounterPrice:       s.Decision.CounterPrice,
		Justification:      s.Decision.Justification,
		AltPerks:           s.Decision.AltPerks,
		BundleSuggestions:  s.Decision.BundleSuggestions,
		CurrentRound:       s.CurrentRound,
		MaxRounds:          s.MaxRounds,
		ExpiresAtUnix:      s.ExpiresAtUnix,
		RateLimitRemaining: s.RateLimitRemaining,
		FinalPrice:         s.FinalPrice,
		DiscountToken:      s.DiscountToken,
	}
}

// clientIP resolves the peer address for the fraud heuristics. Behind a
// trusted proxy the first X-Forwarded-For hop is the client; everywhere else
// the header is ignored.
func (h *Handler) clientIP(r *http.Request) string {
	if h.TrustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			if i := strings.IndexByte(fwd, ','); i >= 0 {
				fwd = fwd[:i]
			}
			return strings.TrimSpace(fwd)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	if engErr, ok := err.(*domain.EngineError); ok {
		status := http.StatusInternalServerError
		switch engErr.Code {
		case domain.ErrRateLimitExceeded.Code:
			status = http.StatusTooManyRequests
		case domain.ErrFeatureDisabled.Code, domain.ErrFraudBlocked.Code:
			status = http.StatusForbidden
		case domain.ErrSessionNotFound.Code, domain.ErrInvalidToken.Code:
			status = http.StatusNotFound
		case domain.ErrSessionExpired.Code, domain.ErrTokenExpired.Code:
			status = http.StatusGone
		case domain.ErrDuplicateOffer.Code, domain.ErrAlreadyRedeemed.Code,
			domain.ErrInsufficientStock.Code, domain.ErrProductUnavailable.Code,
			domain.ErrDuplicateSession.Code, domain.ErrOptimisticLock.Code:
			status = http.StatusConflict
		case domain.ErrMaxRoundsReached.Code:
			status = http.StatusUnprocessableEntity
		case domain.ErrStoreInit.Code, domain.ErrStoreQuery.Code, domain.ErrStoreWrite.Code:
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, APIError{Code: engErr.Code, Message: engErr.Message})
		return
	}
	writeJSON(w, http.StatusInternalServerError, APIError{Code: -1, Message: err.Error()})
}
