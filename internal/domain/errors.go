package domain

import "fmt"

type ErrorClass string

const (
	ClassValidation    ErrorClass = "validation"
	ClassState         ErrorClass = "state"
	ClassNotApplicable ErrorClass = "not_applicable"
	ClassNotFound      ErrorClass = "not_found"
	ClassConflict      ErrorClass = "conflict"
	ClassForbidden     ErrorClass = "forbidden"
)

// Error is the error type shared by the pricing, fulfillment and store
// layers. errors.Is matches a sentinel by Code, or by Class when the target
// sentinel has no Code.
type Error struct {
	Class  ErrorClass
	Code   string
	Detail string
}

func (e *Error) Error() string {
	label := e.Code
	if label == "" {
		label = string(e.Class)
	}
	if e.Detail == "" {
		return label
	}
	return label + ": " + e.Detail
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code == "" {
		return t.Class == e.Class
	}
	return t.Code == e.Code
}

// Withf returns a copy of the sentinel carrying a formatted detail.
func (e *Error) Withf(format string, args ...any) *Error {
	return &Error{Class: e.Class, Code: e.Code, Detail: fmt.Sprintf(format, args...)}
}

var (
	ErrValidation    = &Error{Class: ClassValidation}
	ErrState         = &Error{Class: ClassState}
	ErrNotApplicable = &Error{Class: ClassNotApplicable}
	ErrNotFound      = &Error{Class: ClassNotFound}
	ErrConflict      = &Error{Class: ClassConflict}
	ErrForbidden     = &Error{Class: ClassForbidden}
)

var (
	ErrInvalidInput        = &Error{Class: ClassValidation, Code: "invalid_input"}
	ErrInvalidRange        = &Error{Class: ClassValidation, Code: "invalid_range"}
	ErrOverlappingRanges   = &Error{Class: ClassValidation, Code: "overlapping_ranges"}
	ErrMissingTrackingInfo = &Error{Class: ClassValidation, Code: "missing_tracking_info"}

	ErrInvalidTransition      = &Error{Class: ClassState, Code: "invalid_transition"}
	ErrAlreadyFullyRefunded   = &Error{Class: ClassState, Code: "already_fully_refunded"}
	ErrRefundExceedsRemaining = &Error{Class: ClassState, Code: "refund_exceeds_remaining"}
	ErrOrderNotRefundable     = &Error{Class: ClassState, Code: "order_not_refundable"}
	ErrRefundNotPending       = &Error{Class: ClassState, Code: "refund_not_pending"}
	ErrCouponExhausted        = &Error{Class: ClassState, Code: "coupon_exhausted"}
	ErrCouponUserLimit        = &Error{Class: ClassState, Code: "coupon_user_limit_reached"}

	ErrCouponNotApplicable = &Error{Class: ClassNotApplicable, Code: "coupon_not_applicable"}
	ErrCouponInactive      = &Error{Class: ClassNotApplicable, Code: "coupon_inactive"}
	ErrCouponMinOrder      = &Error{Class: ClassNotApplicable, Code: "coupon_min_order_not_met"}
	ErrCouponAuthRequired  = &Error{Class: ClassNotApplicable, Code: "coupon_requires_auth"}
	ErrScopeMismatch       = &Error{Class: ClassNotApplicable, Code: "scope_mismatch"}

	ErrOrderItemNotFound = &Error{Class: ClassNotFound, Code: "order_item_not_found"}
	ErrRefundNotFound    = &Error{Class: ClassNotFound, Code: "refund_not_found"}
)
