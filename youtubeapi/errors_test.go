package youtubeapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
)

func apiErr(code int, reason string) error {
	e := &googleapi.Error{Code: code, Message: http.StatusText(code)}
	if reason != "" {
		e.Errors = []googleapi.ErrorItem{{Reason: reason}}
	}
	return e
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"quota reason beats 403", apiErr(403, "quotaExceeded"), KindQuotaExceeded},
		{"daily limit", apiErr(403, "dailyLimitExceeded"), KindQuotaExceeded},
		{"rate limit reason", apiErr(403, "rateLimitExceeded"), KindRateLimited},
		{"chat disabled", apiErr(403, "liveChatDisabled"), KindForbidden},
		{"plain 403", apiErr(403, ""), KindForbidden},
		{"chat ended", apiErr(403, "liveChatEnded"), KindNotFound},
		{"chat not found", apiErr(404, "liveChatNotFound"), KindNotFound},
		{"plain 404", apiErr(404, ""), KindNotFound},
		{"401", apiErr(401, "authError"), KindUnauthorized},
		{"429", apiErr(429, ""), KindRateLimited},
		{"400", apiErr(400, "badRequest"), KindInvalid},
		{"500", apiErr(500, "backendError"), KindTransient},
		{"503", apiErr(503, ""), KindTransient},
		{"wrapped googleapi", fmt.Errorf("call: %w", apiErr(404, "")), KindNotFound},
		{"deadline", context.DeadlineExceeded, KindTransient},
		{"canceled", context.Canceled, KindCanceled},
		{"network", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, KindTransient},
		{"token revoked", &oauth2.RetrieveError{Response: &http.Response{StatusCode: 400}, ErrorCode: "invalid_grant"}, KindUnauthorized},
		{"token endpoint down", &oauth2.RetrieveError{Response: &http.Response{StatusCode: 503}}, KindTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}

// Message text must never drive classification.
func TestClassifyIgnoresMessageText(t *testing.T) {
	err := &googleapi.Error{Code: 500, Message: "quota forbidden not found"}
	if got := Classify(err); got != KindTransient {
		t.Errorf("Classify() = %v, want transient", got)
	}
}

func TestWrapIsSentinels(t *testing.T) {
	err := wrap("search.list", apiErr(403, "quotaExceeded"))
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Error("expected ErrQuotaExceeded")
	}
	if errors.Is(err, ErrForbidden) {
		t.Error("quota error must not match ErrForbidden")
	}
	var ye *Error
	if !errors.As(err, &ye) || ye.Status != 403 || ye.Reason != "quotaExceeded" || ye.Op != "search.list" {
		t.Errorf("unexpected typed error: %+v", ye)
	}
	var ge *googleapi.Error
	if !errors.As(err, &ge) {
		t.Error("expected original googleapi error to stay reachable")
	}
	if wrap("x", nil) != nil {
		t.Error("wrap(nil) must be nil")
	}
}

func TestIsBreakerFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"5xx", wrap("op", apiErr(502, "")), true},
		{"rate limited", wrap("op", apiErr(429, "")), true},
		{"timeout", wrap("op", context.DeadlineExceeded), true},
		{"bare deadline", context.DeadlineExceeded, true},
		{"not found", wrap("op", apiErr(404, "")), false},
		{"forbidden", wrap("op", apiErr(403, "forbidden")), false},
		{"quota", wrap("op", apiErr(403, "quotaExceeded")), false},
		{"unauthorized", wrap("op", apiErr(401, "")), false},
		{"canceled", wrap("op", context.Canceled), false},
		{"foreign error", errors.New("no credentials"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsBreakerFailure(tt.err); got != tt.want {
				t.Errorf("IsBreakerFailure() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestKindString(t *testing.T) {
	if KindQuotaExceeded.String() != "quota_exceeded" || Kind(99).String() != "unknown" {
		t.Error("unexpected kind names")
	}
}
