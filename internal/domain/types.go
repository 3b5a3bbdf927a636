// Package domain defines the core types for the negotiation engine.
package domain

// Segment classifies a buyer for discount-ceiling purposes.
type Segment string

const (
	SegmentNew       Segment = "new"
	SegmentReturning Segment = "returning"
	SegmentVIP       Segment = "vip"
)

// SessionStatus represents the lifecycle state of a negotiation session.
// Once a session leaves "active" it never returns.
type SessionStatus string

const (
	StatusActive   SessionStatus = "active"
	StatusAccepted SessionStatus = "accepted"
	StatusRejected SessionStatus = "rejected"
	StatusExpired  SessionStatus = "expired"
)

// DecisionStatus is the outcome of a single negotiation round.
type DecisionStatus string

const (
	DecisionCounter DecisionStatus = "counter"
	DecisionAccept  DecisionStatus = "accept"
	DecisionReject  DecisionStatus = "reject"
	DecisionFinal   DecisionStatus = "final"
)

// DecisionSource identifies which backend produced a decision.
type DecisionSource string

const (
	SourceReasoning     DecisionSource = "reasoning"
	SourceDeterministic DecisionSource = "deterministic"
)

// Session is the central entity: one record per negotiation attempt.
// Prices are integer currency units for the full requested quantity.
type Session struct {
	SessionID       string
	SKU             string
	UserID          string
	Segment         Segment
	Quantity        int
	Language        string
	BasePrice       int64
	FloorPrice      int64
	MaxRounds       int
	CurrentRound    int
	Status          SessionStatus
	StateVersion    int64
	FinalPrice      int64
	DiscountToken   string
	DiscountApplied bool
	AcceptedAtUnix  int64
	RejectedRound   int
	ExpiresAtUnix   int64
	CreatedAtUnix   int64
	UpdatedAtUnix   int64
}

// Round is one offer/decision exchange, append-only once written.
type Round struct {
	ID            int64
	SessionID     string
	RoundNumber   int
	UserOffer     int64
	Decision      Decision
	CreatedAtUnix int64
}

// Decision is the structured output of a decision backend, already
// validated and clamped to the session's price bounds.
type Decision struct {
	Status            DecisionStatus
	CounterPrice      int64
	Justification     string
	AltPerks          []string
	BundleSuggestions []string
	Source            DecisionSource
}

// DecisionContext carries everything a decision backend needs for one round.
type DecisionContext struct {
	SKU         string
	ProductName string
	BasePrice   int64
	FloorPrice  int64
	OfferPrice  int64
	// CurrentRound is the round being processed (1-based).
	CurrentRound int
	MaxRounds    int
	Segment      Segment
	StockLevel   int
	OnClearance  bool
	BundlePairs  []string
	Perks        []string
	History      []Round
	Language     string
}

// Rule is the per-SKU negotiation configuration. Prices are per unit.
type Rule struct {
	SKU            string
	BasePrice      int64
	MinPrice       int64
	MaxDiscountPct float64
	MaxRounds      int
	StockLevel     int
	SegmentRules   map[Segment]float64
	FallbackPerks  []string
	BundlePairs    []string
	Enabled        bool
}

// Product is the narrow catalog view the engine consumes.
type Product struct {
	SKU         string
	Name        string
	Price       int64
	StockLevel  int
	OnClearance bool
}

// FraudSeverity grades a fraud flag. High severity blocks session creation.
type FraudSeverity string

const (
	SeverityMedium FraudSeverity = "medium"
	SeverityHigh   FraudSeverity = "high"
)

// FraudFlag records one suspicious pattern observed for a session.
type FraudFlag struct {
	SessionID     string
	UserID        string
	Kind          string
	Severity      FraudSeverity
	Detail        string
	CreatedAtUnix int64
}

// RateStatus is the result of a rate-limit check.
type RateStatus struct {
	Allowed     bool
	Remaining   int
	ResetAtUnix int64
}

// SessionSummary is the response shape for start and continue.
// FinalPrice and DiscountToken are populated only on acceptance.
type SessionSummary struct {
	SessionID          string
	Status             SessionStatus
	Decision           Decision
	CurrentRound       int
	MaxRounds          int
	ExpiresAtUnix      int64
	RateLimitRemaining int
	FinalPrice         int64
	DiscountToken      string
}

// RedemptionSummary is returned exactly once per discount token for the
// checkout collaborator to apply.
type RedemptionSummary struct {
	SKU             string
	OriginalPrice   int64
	DiscountedPrice int64
	Discount        int64
	Quantity        int
	ExpiresAtUnix   int64
	Perks           []string
}

// DiscountRecord is the analytics row written when a session is accepted.
type DiscountRecord struct {
	ID                int64
	SessionID         string
	SKU               string
	UserID            string
	BasePrice         int64
	FinalPrice        int64
	DiscountAmount    int64
	DiscountPct       float64
	Rounds            int
	SecondsToDecision int64
	CreatedAtUnix     int64
}
