package domain

import "fmt"

// EngineError is the unified error type for the engine.
// Each error has a numeric code and human-readable message.
type EngineError struct {
	Code    int
	Message string
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	return fmt.Sprintf("engine error %d: %s", e.Code, e.Message)
}

// NewEngineError creates a new EngineError.
func NewEngineError(code int, msg string) *EngineError {
	return &EngineError{Code: code, Message: msg}
}

// WrapEngineError creates an EngineError that includes a cause.
func WrapEngineError(code int, msg string, cause error) *EngineError {
	return &EngineError{Code: code, Message: fmt.Sprintf("%s: %v", msg, cause)}
}

// ---- Guard errors (-32010 to -32039) ----

var (
	ErrRateLimitExceeded = &EngineError{Code: -32010, Message: "rate limit exceeded"}
	ErrFeatureDisabled   = &EngineError{Code: -32011, Message: "negotiation is not enabled for this user or product"}
	ErrFraudBlocked      = &EngineError{Code: -32012, Message: "request blocked by fraud heuristics"}
	ErrDuplicateOffer    = &EngineError{Code: -32013, Message: "identical offer already submitted in this session"}
)

// ---- Session / engine errors (-32040 to -32069) ----

var (
	ErrSessionNotFound    = &EngineError{Code: -32040, Message: "negotiation session not found"}
	ErrSessionExpired     = &EngineError{Code: -32041, Message: "negotiation session has expired or is closed"}
	ErrInsufficientStock  = &EngineError{Code: -32042, Message: "insufficient stock for requested quantity"}
	ErrProductUnavailable = &EngineError{Code: -32043, Message: "product is no longer available for negotiation"}
	ErrMaxRoundsReached   = &EngineError{Code: -32044, Message: "maximum negotiation rounds reached"}
	ErrOptimisticLock     = &EngineError{Code: -32045, Message: "optimistic lock conflict: session was modified concurrently"}
	ErrDuplicateSession   = &EngineError{Code: -32046, Message: "session already exists"}
)

// ---- Redemption errors (-32070 to -32099) ----

var (
	ErrInvalidToken    = &EngineError{Code: -32070, Message: "discount token not recognized"}
	ErrAlreadyRedeemed = &EngineError{Code: -32071, Message: "discount token already redeemed"}
	ErrTokenExpired    = &EngineError{Code: -32072, Message: "discount token has expired"}
)

// ---- Decision backend errors (-32100 to -32129) ----
// These never cross the API boundary: the engine absorbs them by
// falling back to the deterministic negotiator.

var (
	ErrBackendUnavailable = &EngineError{Code: -32100, Message: "reasoning backend unavailable"}
	ErrBackendResponse    = &EngineError{Code: -32101, Message: "reasoning backend returned an unusable response"}
)

// ---- Store / config errors (-32130 to -32159) ----

var (
	ErrStoreInit     = &EngineError{Code: -32130, Message: "failed to initialize store"}
	ErrStoreQuery    = &EngineError{Code: -32131, Message: "store query failed"}
	ErrStoreWrite    = &EngineError{Code: -32132, Message: "store write failed"}
	ErrConfigInvalid = &EngineError{Code: -32136, Message: "invalid configuration"}
)
