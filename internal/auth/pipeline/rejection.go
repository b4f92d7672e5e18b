package pipeline

import (
	"errors"
	"fmt"

	dErrors "meshgate/pkg/domain-errors"
	"meshgate/pkg/platform/httputil"
)

// Reason is the internal cause of a rejection. It is logged and audited but
// only its category reaches the caller.
type Reason string

const (
	ReasonNoCredential        Reason = "no_credential"
	ReasonMalformedCredential Reason = "malformed_credential"
	ReasonInvalidCredential   Reason = "invalid_credential"
	ReasonForbidden           Reason = "forbidden"
	ReasonUpstreamUnavailable Reason = "upstream_unavailable"
)

// Public messages. Malformed and invalid credentials share one message so
// callers cannot tell a bad signature from a deactivated account.
const (
	msgNoCredential  = "authentication required"
	msgBadCredential = "invalid or expired credential"
	msgForbidden     = "insufficient permissions"
	msgUnavailable   = "identity service unavailable"
	msgTimeout       = "identity service timed out"
)

// Rejection is the structured error returned for a denied call. It unwraps
// to a coded domain error carrying the public message.
type Rejection struct {
	Reason Reason
	public *dErrors.Error
	cause  error
}

func newRejection(reason Reason, cause error) *Rejection {
	var public *dErrors.Error
	switch reason {
	case ReasonNoCredential:
		public = dErrors.New(dErrors.CodeUnauthorized, msgNoCredential)
	case ReasonMalformedCredential, ReasonInvalidCredential:
		public = dErrors.New(dErrors.CodeUnauthorized, msgBadCredential)
	case ReasonForbidden:
		public = dErrors.New(dErrors.CodeForbidden, msgForbidden)
	default:
		public = dErrors.New(dErrors.CodeUnavailable, msgUnavailable)
	}
	return &Rejection{Reason: reason, public: public, cause: cause}
}

func newTimeoutRejection(cause error) *Rejection {
	return &Rejection{
		Reason: ReasonUpstreamUnavailable,
		public: dErrors.New(dErrors.CodeTimeout, msgTimeout),
		cause:  cause,
	}
}

func (r *Rejection) Error() string {
	if r.cause != nil {
		return fmt.Sprintf("call rejected (%s): %v", r.Reason, r.cause)
	}
	return fmt.Sprintf("call rejected (%s)", r.Reason)
}

// Unwrap exposes the public domain error so the HTTP layer maps it to a
// status without seeing the cause.
func (r *Rejection) Unwrap() error { return r.public }

// Cause returns the internal error behind the rejection, if any.
func (r *Rejection) Cause() error { return r.cause }

// Category tells the caller whether to log in again, ask for access, or retry.
func (r *Rejection) Category() httputil.Category {
	return httputil.CategoryFor(r.public.Code)
}

// AsRejection extracts a Rejection from err.
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}
