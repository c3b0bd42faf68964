package protocol

import "github.com/xiaot623/gogo/locshare/internal/errs"

// Close codes sent in the WebSocket close frame.
const (
	CloseNormal           = 1000
	CloseInvalidSessionID = 4000
	ClosePolicyDenied     = 4403
	CloseSessionNotFound  = 4404
	CloseMessageTooLarge  = 4413
	CloseLimitExceeded    = 4429
	CloseInternalError    = 4500
)

// Close reasons sent alongside the code.
const (
	ReasonUserLeave         = "user_leave"
	ReasonInvalidSessionID  = "invalid_session_id"
	ReasonSessionNotFound   = "session_not_found"
	ReasonPolicyDenied      = "policy_denied"
	ReasonTooManyConnection = "too_many_connections"
	ReasonRateLimited       = "rate_limit_exceeded"
	ReasonMessageTooLarge   = "message_too_large"
	ReasonInternalError     = "internal_error"
)

// CloseCodeFor maps an error kind to the close code used when it ends a connection.
// Validation failures after admission do not close, so only admission callers use it for them.
func CloseCodeFor(kind errs.Kind) int {
	switch kind {
	case errs.KindValidation:
		return CloseInvalidSessionID
	case errs.KindNotFound, errs.KindExpired:
		return CloseSessionNotFound
	case errs.KindCapacity:
		return CloseLimitExceeded
	case errs.KindPolicy:
		return ClosePolicyDenied
	default:
		return CloseInternalError
	}
}
