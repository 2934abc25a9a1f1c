package orders

import (
	"errors"
	"fmt"
)

// Admission: expected rejections, caller only gets a reason.
var (
	ErrAdmissionRejected   = errors.New("admission rejected")
	ErrFlowControlled      = errors.New("request blocked by flow control")
	ErrActivityUnavailable = errors.New("activity unavailable")
	ErrNotInAudience       = errors.New("user not in activity audience")
	ErrParticipationLimit  = errors.New("participation limit reached")
	ErrTeamFull            = errors.New("team full")
	ErrInsufficientStock   = errors.New("insufficient stock")
)

// Integrity: never corrected, always aborted.
var (
	ErrPriceMismatch         = errors.New("price mismatch")
	ErrPaymentAmountMismatch = errors.New("payment amount mismatch")
	ErrSkuFamilyMismatch     = errors.New("sku not in team product family")
	ErrChannelBlocked        = errors.New("payment channel blocked")
	ErrInvalidNotify         = errors.New("invalid notify config")
)

// Guard misses on conditional updates.
var (
	ErrTeamClosed         = errors.New("team closed or expired")
	ErrTeamNotLockable    = errors.New("team not lockable")
	ErrConcurrentUpdate   = errors.New("concurrent update")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrDuplicateToken     = errors.New("duplicate out trade no")
	ErrRefundNotAllowed   = errors.New("refund not allowed")
	ErrRefundWindowClosed = errors.New("refund window closed")
	ErrRefundNotConfirmed = errors.New("refund not confirmed by gateway")
)

var (
	ErrActivityNotFound   = errors.New("activity not found")
	ErrSkuNotFound        = errors.New("sku not found")
	ErrTeamNotFound       = errors.New("team order not found")
	ErrTradeOrderNotFound = errors.New("trade order not found")
	ErrInvalidRequest     = errors.New("invalid request")
)

// Rejection is returned by the admission chain. It matches both
// ErrAdmissionRejected and the stage specific cause with errors.Is.
type Rejection struct {
	Stage  string
	Reason string
	Cause  error
}

func Reject(stage string, cause error, reason string) *Rejection {
	return &Rejection{Stage: stage, Reason: reason, Cause: cause}
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%s: %s", r.Stage, r.Reason)
}

func (r *Rejection) Unwrap() []error {
	if r.Cause == nil {
		return []error{ErrAdmissionRejected}
	}
	return []error{ErrAdmissionRejected, r.Cause}
}
