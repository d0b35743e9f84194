package youtubeapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
)

// Kind classifies an upstream failure from its structured status and reason.
type Kind int

const (
	// KindTransient covers network errors, timeouts and 5xx responses.
	KindTransient Kind = iota
	// KindQuotaExceeded means the credential's daily quota is spent.
	KindQuotaExceeded
	// KindRateLimited means the upstream asked us to slow down (429 / rateLimitExceeded).
	KindRateLimited
	// KindForbidden covers permission failures and disabled chats.
	KindForbidden
	// KindNotFound covers missing videos and ended or unknown chats.
	KindNotFound
	// KindUnauthorized means the credential must be re-authorized externally.
	KindUnauthorized
	// KindInvalid is any other 4xx: a request the upstream will never accept.
	KindInvalid
	// KindCanceled means the caller's context was canceled.
	KindCanceled
)

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindRateLimited:
		return "rate_limited"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindUnauthorized:
		return "unauthorized"
	case KindInvalid:
		return "invalid"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Sentinels matched by errors.Is against *Error.
var (
	ErrTransient     = errors.New("youtube: transient failure")
	ErrQuotaExceeded = errors.New("youtube: quota exceeded")
	ErrRateLimited   = errors.New("youtube: rate limited")
	ErrForbidden     = errors.New("youtube: forbidden")
	ErrNotFound      = errors.New("youtube: not found")
	ErrUnauthorized  = errors.New("youtube: unauthorized")
	ErrInvalid       = errors.New("youtube: invalid request")
)

// Error is the typed result of a failed API call.
type Error struct {
	Op     string // e.g. "search.list"
	Kind   Kind
	Status int    // HTTP status, 0 when no response was received
	Reason string // first googleapi error reason, if any
	Err    error
}

func (e *Error) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("youtube %s: %s (status %d, reason %s): %v", e.Op, e.Kind, e.Status, e.Reason, e.Err)
	}
	if e.Status != 0 {
		return fmt.Sprintf("youtube %s: %s (status %d): %v", e.Op, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("youtube %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is maps the error kind onto the package sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrTransient:
		return e.Kind == KindTransient
	case ErrQuotaExceeded:
		return e.Kind == KindQuotaExceeded
	case ErrRateLimited:
		return e.Kind == KindRateLimited
	case ErrForbidden:
		return e.Kind == KindForbidden
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrUnauthorized:
		return e.Kind == KindUnauthorized
	case ErrInvalid:
		return e.Kind == KindInvalid
	}
	return false
}

// reasonKinds maps googleapi error reasons to kinds. Reasons take precedence over status codes
// because YouTube reports quota exhaustion and disabled chats with the same 403.
var reasonKinds = map[string]Kind{
	"quotaExceeded":           KindQuotaExceeded,
	"dailyLimitExceeded":      KindQuotaExceeded,
	"rateLimitExceeded":       KindRateLimited,
	"userRateLimitExceeded":   KindRateLimited,
	"liveChatEnded":           KindNotFound,
	"liveChatNotFound":        KindNotFound,
	"videoNotFound":           KindNotFound,
	"liveChatDisabled":        KindForbidden,
	"forbidden":               KindForbidden,
	"insufficientPermissions": KindForbidden,
	"authError":               KindUnauthorized,
}

// Classify derives the Kind of err. It never inspects error message text.
func Classify(err error) Kind {
	var ye *Error
	if errors.As(err, &ye) {
		return ye.Kind
	}
	kind, _, _ := classify(err)
	return kind
}

func classify(err error) (kind Kind, status int, reason string) {
	if errors.Is(err, context.Canceled) {
		return KindCanceled, 0, ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient, 0, ""
	}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		st := 0
		if re.Response != nil {
			st = re.Response.StatusCode
		}
		if st >= 500 {
			return KindTransient, st, re.ErrorCode
		}
		return KindUnauthorized, st, re.ErrorCode
	}
	var ge *googleapi.Error
	if errors.As(err, &ge) {
		for _, item := range ge.Errors {
			if k, ok := reasonKinds[item.Reason]; ok {
				return k, ge.Code, item.Reason
			}
		}
		if len(ge.Errors) > 0 {
			reason = ge.Errors[0].Reason
		}
		switch {
		case ge.Code == http.StatusUnauthorized:
			return KindUnauthorized, ge.Code, reason
		case ge.Code == http.StatusForbidden:
			return KindForbidden, ge.Code, reason
		case ge.Code == http.StatusNotFound:
			return KindNotFound, ge.Code, reason
		case ge.Code == http.StatusTooManyRequests:
			return KindRateLimited, ge.Code, reason
		case ge.Code >= 500:
			return KindTransient, ge.Code, reason
		case ge.Code >= 400:
			return KindInvalid, ge.Code, reason
		}
		return KindTransient, ge.Code, reason
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return KindTransient, 0, ""
	}
	// Unrecognized failures are retried rather than given up on.
	return KindTransient, 0, ""
}

// wrap converts a raw client error into *Error. nil stays nil.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	kind, status, reason := classify(err)
	return &Error{Op: op, Kind: kind, Status: status, Reason: reason, Err: err}
}

// IsBreakerFailure reports whether err signals an unhealthy upstream and should
// count toward a circuit breaker threshold. Definitive answers (not found,
// forbidden, quota, auth) and errors from outside this package do not count,
// except timeouts and network errors.
func IsBreakerFailure(err error) bool {
	if err == nil {
		return false
	}
	var ye *Error
	if errors.As(err, &ye) {
		return ye.Kind == KindTransient || ye.Kind == KindRateLimited
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}
