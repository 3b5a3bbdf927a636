// Package engine orchestrates negotiation sessions: guards, rule resolution,
// decision backends, and the session state machine.
package engine

import (
	"context"
	cryptorand "crypto/rand"
	"database/sql"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/anthropics/negotiation-engine/internal/decision"
	"github.com/anthropics/negotiation-engine/internal/domain"
	"github.com/anthropics/negotiation-engine/internal/guard"
	"github.com/anthropics/negotiation-engine/internal/rules"
	"github.com/anthropics/negotiation-engine/internal/store"
)

// Config holds the engine-level defaults applied when a rule does not
// specify its own.
type Config struct {
	MaxRounds       int
	SessionTTL      time.Duration
	DefaultSegment  domain.Segment
	DefaultLanguage string
}

// Engine wires guards, rules, decision backends, and the session store into
// the start/continue/redeem operations.
type Engine struct {
	DB        *sql.DB
	Sessions  *store.SessionRepo
	Rounds    *store.RoundRepo
	Flags     *store.FraudFlagRepo
	Discounts *store.DiscountRepo

	Rules    rules.Provider
	Catalog  rules.Catalog
	Features rules.FeatureFlags
	History  rules.PurchaseHistory

	Limiter *guard.RateLimiter
	Replay  *guard.ReplayGuard
	Fraud   *guard.FraudHeuristics

	// Primary may be nil; Fallback must always be usable without a network.
	Primary  decision.Provider
	Fallback decision.Provider

	Config Config

	mu    sync.Mutex
	locks map[string]*sessionLock
}

// New creates an engine with the standard repos wired in.
func New(db *sql.DB, cfg Config) *Engine {
	if cfg.MaxRounds == 0 {
		cfg.MaxRounds = 3
	}
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = 30 * time.Minute
	}
	if cfg.DefaultSegment == "" {
		cfg.DefaultSegment = domain.SegmentReturning
	}
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = "en"
	}
	return &Engine{
		DB:        db,
		Sessions:  &store.SessionRepo{},
		Rounds:    &store.RoundRepo{},
		Flags:     &store.FraudFlagRepo{},
		Discounts: &store.DiscountRepo{},
		Fallback:  decision.Deterministic{},
		Config:    cfg,
		locks:     make(map[string]*sessionLock),
	}
}

// StartRequest is the input for Start.
type StartRequest struct {
	SKU        string
	UserID     string
	OfferPrice int64
	Quantity   int
	Language   string
	DeviceType string
	Referrer   string
	IP         string
}

// ContinueRequest is the input for Continue.
type ContinueRequest struct {
	SessionID  string
	OfferPrice int64
	Language   string
	IP         string
}

// Start creates a negotiation session and processes the opening offer.
func (e *Engine) Start(ctx context.Context, req StartRequest) (*domain.SessionSummary, error) {
	rate, err := e.Limiter.Allow(ctx, req.UserID)
	if err != nil {
		return nil, domain.WrapEngineError(domain.ErrStoreQuery.Code, "rate limit check", err)
	}
	if !rate.Allowed {
		return nil, rateLimitError(rate)
	}

	// Segment lookup is best-effort and never blocks a negotiation.
	segment, err := e.History.SegmentFor(ctx, req.UserID)
	if err != nil || segment == "" {
		segment = e.Config.DefaultSegment
	}

	if !e.Features.IsEnabled(ctx, req.UserID, req.SKU, segment) {
		return nil, domain.ErrFeatureDisabled
	}

	rule, product, err := e.resolveRule(ctx, req.SKU, true)
	if err != nil {
		return nil, err
	}

	if req.Quantity < 1 {
		req.Quantity = 1
	}
	if rule.StockLevel < req.Quantity {
		return nil, domain.ErrInsufficientStock
	}

	basePrice := rule.BasePrice * int64(req.Quantity)
	floorPrice := floorFor(rule, segment, req.Quantity, basePrice)

	flags, err := e.Fraud.Score(ctx, guard.FraudInput{
		UserID:     req.UserID,
		SKU:        req.SKU,
		OfferPrice: req.OfferPrice,
		BasePrice:  basePrice,
		IP:         req.IP,
	})
	if err != nil {
		return nil, domain.WrapEngineError(domain.ErrStoreQuery.Code, "fraud score", err)
	}
	if guard.HasHighSeverity(flags) {
		// Hard block: no session, no partial record.
		return nil, domain.ErrFraudBlocked
	}

	now := time.Now()
	language := req.Language
	if language == "" {
		language = e.Config.DefaultLanguage
	}
	session := domain.Session{
		SessionID:     newSessionID(),
		SKU:           req.SKU,
		UserID:        req.UserID,
		Segment:       segment,
		Quantity:      req.Quantity,
		Language:      language,
		BasePrice:     basePrice,
		FloorPrice:    floorPrice,
		MaxRounds:     rule.MaxRounds,
		CurrentRound:  0,
		Status:        domain.StatusActive,
		StateVersion:  1,
		ExpiresAtUnix: now.Add(e.Config.SessionTTL).Unix(),
		CreatedAtUnix: now.Unix(),
		UpdatedAtUnix: now.Unix(),
	}

	return e.processOffer(ctx, &session, rule, product, req.OfferPrice, language, rate, true, flags)
}

// Continue processes a follow-up offer against an existing session.
func (e *Engine) Continue(ctx context.Context, req ContinueRequest) (*domain.SessionSummary, error) {
	unlock := e.lockSession(req.SessionID)
	defer unlock()

	session, err := e.Sessions.GetByID(ctx, e.DB, req.SessionID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if now.Unix() > session.ExpiresAtUnix {
		// Lazy expiry: persist the terminal status best-effort.
		if err := e.Sessions.MarkExpired(ctx, e.DB, session.SessionID, now.Unix()); err != nil {
			log.Printf("mark session %s expired: %v", session.SessionID, err)
		}
		return nil, domain.ErrSessionExpired
	}
	if session.Status != domain.StatusActive {
		return nil, domain.ErrSessionExpired
	}

	seen, err := e.Replay.Seen(ctx, session.SessionID, req.OfferPrice)
	if err != nil {
		return nil, domain.WrapEngineError(domain.ErrStoreQuery.Code, "replay check", err)
	}
	if seen {
		return nil, domain.ErrDuplicateOffer
	}

	rate, err := e.Limiter.Allow(ctx, session.UserID)
	if err != nil {
		return nil, domain.WrapEngineError(domain.ErrStoreQuery.Code, "rate limit check", err)
	}
	if !rate.Allowed {
		return nil, rateLimitError(rate)
	}

	// Rules may change between rounds; a vanished or disabled rule ends the
	// negotiation. Session price bounds stay as computed at creation.
	rule, product, err := e.resolveRule(ctx, session.SKU, false)
	if err != nil {
		return nil, err
	}

	if session.CurrentRound >= session.MaxRounds {
		return nil, domain.ErrMaxRoundsReached
	}

	// Per-round fraud scoring: flags accrue on the session but never block
	// an already-created negotiation.
	flags, err := e.Fraud.Score(ctx, guard.FraudInput{
		UserID:     session.UserID,
		SKU:        session.SKU,
		OfferPrice: req.OfferPrice,
		BasePrice:  session.BasePrice,
		IP:         req.IP,
	})
	if err != nil {
		return nil, domain.WrapEngineError(domain.ErrStoreQuery.Code, "fraud score", err)
	}

	language := req.Language
	if language == "" {
		language = session.Language
	}

	return e.processOffer(ctx, session, rule, product, req.OfferPrice, language, rate, false, flags)
}

// Redeem consumes a discount token exactly once and returns the discount
// summary for checkout to apply.
func (e *Engine) Redeem(ctx context.Context, token string) (*domain.RedemptionSummary, error) {
	session, err := e.Sessions.GetByToken(ctx, e.DB, token)
	if err != nil {
		return nil, err
	}

	unlock := e.lockSession(session.SessionID)
	defer unlock()

	if session.DiscountApplied {
		return nil, domain.ErrAlreadyRedeemed
	}
	if time.Now().Unix() > session.ExpiresAtUnix {
		return nil, domain.ErrTokenExpired
	}

	summary := &domain.RedemptionSummary{
		SKU:             session.SKU,
		OriginalPrice:   session.BasePrice,
		DiscountedPrice: session.FinalPrice,
		Discount:        session.BasePrice - session.FinalPrice,
		Quantity:        session.Quantity,
		ExpiresAtUnix:   session.ExpiresAtUnix,
		Perks:           []string{},
	}
	if last, err := e.Rounds.LastBySession(ctx, e.DB, session.SessionID); err == nil && last != nil {
		summary.Perks = last.Decision.AltPerks
	}

	if err := e.Sessions.MarkRedeemed(ctx, e.DB, session.SessionID, time.Now().Unix()); err != nil {
		return nil, err
	}
	return summary, nil
}

// GetSession returns a session with its full round history and fraud flags.
func (e *Engine) GetSession(ctx context.Context, sessionID string) (*domain.Session, []domain.Round, []domain.FraudFlag, error) {
	session, err := e.Sessions.GetByID(ctx, e.DB, sessionID)
	if err != nil {
		return nil, nil, nil, err
	}
	// Lazy expiry applies to any access, not just offers.
	if session.Status == domain.StatusActive && time.Now().Unix() > session.ExpiresAtUnix {
		if err := e.Sessions.MarkExpired(ctx, e.DB, session.SessionID, time.Now().Unix()); err != nil {
			log.Printf("mark session %s expired: %v", session.SessionID, err)
		}
		session.Status = domain.StatusExpired
	}
	rounds, err := e.Rounds.ListBySession(ctx, e.DB, sessionID)
	if err != nil {
		return nil, nil, nil, err
	}
	flags, err := e.Flags.ListBySession(ctx, e.DB, sessionID)
	if err != nil {
		return nil, nil, nil, err
	}
	return session, rounds, flags, nil
}

// processOffer runs the shared decision core for one round and commits the
// resulting state transition atomically. Everything before persistence is
// pure computation and cannot fail.
func (e *Engine) processOffer(ctx context.Context, session *domain.Session, rule *domain.Rule, product *domain.Product, offer int64, language string, rate domain.RateStatus, create bool, flags []domain.FraudFlag) (*domain.SessionSummary, error) {
	var history []domain.Round
	if !create {
		h, err := e.Rounds.ListBySession(ctx, e.DB, session.SessionID)
		if err != nil {
			return nil, domain.WrapEngineError(domain.ErrStoreQuery.Code, "load round history", err)
		}
		history = h
	}

	roundNo := session.CurrentRound + 1
	dc := domain.DecisionContext{
		SKU:          session.SKU,
		BasePrice:    session.BasePrice,
		FloorPrice:   session.FloorPrice,
		OfferPrice:   offer,
		CurrentRound: roundNo,
		MaxRounds:    session.MaxRounds,
		Segment:      session.Segment,
		StockLevel:   rule.StockLevel,
		BundlePairs:  rule.BundlePairs,
		Perks:        rule.FallbackPerks,
		History:      history,
		Language:     language,
	}
	if product != nil {
		dc.ProductName = product.Name
		dc.OnClearance = product.OnClearance
	}

	d := e.decide(ctx, dc)

	now := time.Now()
	updated := *session
	updated.CurrentRound = roundNo
	updated.UpdatedAtUnix = now.Unix()

	switch d.Status {
	case domain.DecisionAccept:
		updated.Status = domain.StatusAccepted
		updated.FinalPrice = offer
		updated.AcceptedAtUnix = now.Unix()
		updated.DiscountToken = MintToken(session.SessionID, offer, now)
	case domain.DecisionReject:
		updated.Status = domain.StatusRejected
		updated.RejectedRound = roundNo
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, domain.WrapEngineError(domain.ErrStoreWrite.Code, "begin tx", err)
	}
	defer tx.Rollback()

	if create {
		if err := e.Sessions.CreateTx(ctx, tx, *session); err != nil {
			return nil, err
		}
	}
	for _, f := range flags {
		f.SessionID = session.SessionID
		if err := e.Flags.InsertTx(ctx, tx, f); err != nil {
			return nil, domain.WrapEngineError(domain.ErrStoreWrite.Code, "record fraud flag", err)
		}
	}

	round := domain.Round{
		SessionID:     session.SessionID,
		RoundNumber:   roundNo,
		UserOffer:     offer,
		Decision:      d,
		CreatedAtUnix: now.Unix(),
	}
	if err := e.Rounds.AppendTx(ctx, tx, round); err != nil {
		return nil, err
	}

	if err := e.Sessions.UpdateStateTx(ctx, tx, updated); err != nil {
		return nil, err
	}

	if d.Status == domain.DecisionAccept {
		record := domain.DiscountRecord{
			SessionID:         session.SessionID,
			SKU:               session.SKU,
			UserID:            session.UserID,
			BasePrice:         session.BasePrice,
			FinalPrice:        offer,
			DiscountAmount:    session.BasePrice - offer,
			DiscountPct:       discountPct(session.BasePrice, offer),
			Rounds:            roundNo,
			SecondsToDecision: now.Unix() - session.CreatedAtUnix,
			CreatedAtUnix:     now.Unix(),
		}
		if err := e.Discounts.InsertTx(ctx, tx, record); err != nil {
			return nil, domain.WrapEngineError(domain.ErrStoreWrite.Code, "record discount", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, domain.WrapEngineError(domain.ErrStoreWrite.Code, "commit round", err)
	}

	// Record the offer digest only after the round committed, so a failed
	// append can be retried with the same offer.
	if err := e.Replay.Record(ctx, session.SessionID, offer); err != nil {
		log.Printf("record replay digest for %s: %v", session.SessionID, err)
	}

	*session = updated
	return &domain.SessionSummary{
		SessionID:          session.SessionID,
		Status:             session.Status,
		Decision:           d,
		CurrentRound:       session.CurrentRound,
		MaxRounds:          session.MaxRounds,
		ExpiresAtUnix:      session.ExpiresAtUnix,
		RateLimitRemaining: rate.Remaining,
		FinalPrice:         session.FinalPrice,
		DiscountToken:      session.DiscountToken,
	}, nil
}

// decide calls the primary backend and absorbs any failure by falling back
// to the deterministic negotiator. It never returns an error.
func (e *Engine) decide(ctx context.Context, dc domain.DecisionContext) domain.Decision {
	if e.Primary != nil {
		d, err := e.Primary.Negotiate(ctx, dc)
		if err == nil {
			// Re-clamp at the commit boundary: the floor holds even for a
			// backend that skips its own validation.
			return decision.Clamp(d, dc)
		}
		log.Printf("decision backend failed, falling back: %v", err)
	}
	d, err := e.Fallback.Negotiate(ctx, dc)
	if err != nil {
		// The deterministic negotiator is pure and cannot fail; guard anyway.
		log.Printf("fallback negotiator failed: %v", err)
		return decision.Clamp(domain.Decision{
			Status:       domain.DecisionFinal,
			CounterPrice: dc.BasePrice,
			Source:       domain.SourceDeterministic,
		}, dc)
	}
	return d
}

// resolveRule loads the rule for a SKU. At session creation a missing rule is
// synthesized from the catalog; mid-session a missing or disabled rule ends
// the negotiation.
func (e *Engine) resolveRule(ctx context.Context, sku string, synthesize bool) (*domain.Rule, *domain.Product, error) {
	rule, err := e.Rules.GetRule(ctx, sku)
	if err != nil {
		return nil, nil, domain.WrapEngineError(domain.ErrStoreQuery.Code, "resolve rule", err)
	}

	var product *domain.Product
	if e.Catalog != nil {
		p, err := e.Catalog.GetProduct(ctx, sku)
		if err != nil {
			log.Printf("catalog lookup for %s: %v", sku, err)
		} else {
			product = p
		}
	}

	if rule == nil {
		if !synthesize {
			return nil, nil, domain.ErrProductUnavailable
		}
		if product == nil {
			return nil, nil, domain.ErrProductUnavailable
		}
		rule = rules.SynthesizeDefault(product, e.Config.MaxRounds)
	}
	if !rule.Enabled {
		return nil, nil, domain.ErrProductUnavailable
	}
	if rule.MaxRounds == 0 {
		rule.MaxRounds = e.Config.MaxRounds
	}
	return rule, product, nil
}

// floorFor computes the session floor price: the configured per-unit minimum
// scaled by quantity, but never lower than the maximum-discount bound.
func floorFor(rule *domain.Rule, segment domain.Segment, quantity int, basePrice int64) int64 {
	effectivePct := rule.MaxDiscountPct
	if override, ok := rule.SegmentRules[segment]; ok && override > effectivePct {
		effectivePct = override
	}
	discountBound := int64(math.Round(float64(basePrice) * (1 - effectivePct/100)))
	floor := rule.MinPrice * int64(quantity)
	if discountBound > floor {
		floor = discountBound
	}
	if floor > basePrice {
		floor = basePrice
	}
	return floor
}

func discountPct(base, final int64) float64 {
	if base == 0 {
		return 0
	}
	return float64(base-final) / float64(base) * 100
}

func rateLimitError(rate domain.RateStatus) error {
	return domain.NewEngineError(domain.ErrRateLimitExceeded.Code,
		fmt.Sprintf("%s, resets at %s", domain.ErrRateLimitExceeded.Message,
			time.Unix(rate.ResetAtUnix, 0).UTC().Format(time.RFC3339)))
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// lockSession serializes operations against one session. Combined with the
// optimistic version check in the store this closes the concurrent-continue
// race within a single process and across processes respectively.
// Entries are refcounted and evicted once no caller holds or awaits them,
// so the map stays bounded by in-flight requests.
func (e *Engine) lockSession(sessionID string) func() {
	e.mu.Lock()
	l, ok := e.locks[sessionID]
	if !ok {
		l = &sessionLock{}
		e.locks[sessionID] = l
	}
	l.refs++
	e.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		e.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(e.locks, sessionID)
		}
		e.mu.Unlock()
	}
}

// The session ID doubles as the bearer credential for continue and lookup,
// so the entropy source must be cryptographic.
var ulidEntropy = ulid.Monotonic(cryptorand.Reader, 0)
var ulidMu sync.Mutex

// newSessionID generates an opaque, unguessable session identifier.
func newSessionID() string {
	ulidMu.Lock()
	defer ulidMu.Unlock()
	return "ns_" + ulid.MustNew(ulid.Now(), ulidEntropy).String()
}
