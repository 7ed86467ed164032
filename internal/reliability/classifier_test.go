package reliability

import (
	"errors"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestClassifyClosure(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want CloseClass
	}{
		{"local close", nil, CloseGraceful},
		{"normal closure", &websocket.CloseError{Code: websocket.CloseNormalClosure}, CloseGraceful},
		{"going away", &websocket.CloseError{Code: websocket.CloseGoingAway}, CloseGraceful},
		{"abnormal closure", &websocket.CloseError{Code: websocket.CloseAbnormalClosure}, CloseAbnormal},
		{"plain error", errors.New("read tcp: connection reset"), CloseAbnormal},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyClosure(tc.err); got != tc.want {
				t.Fatalf("ClassifyClosure() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestIsRetryableHTTPStatus(t *testing.T) {
	for _, code := range []int{429, 500, 502, 503, 504} {
		if !IsRetryableHTTPStatus(code) {
			t.Fatalf("status %d should be retryable", code)
		}
	}
	for _, code := range []int{200, 400, 401, 404} {
		if IsRetryableHTTPStatus(code) {
			t.Fatalf("status %d should not be retryable", code)
		}
	}
}

func TestExponentialBackoff(t *testing.T) {
	base := 100 * time.Millisecond
	cap := time.Second
	if got := ExponentialBackoff(0, base, cap); got != base {
		t.Fatalf("attempt 0 = %v, want %v", got, base)
	}
	if got := ExponentialBackoff(2, base, cap); got != 400*time.Millisecond {
		t.Fatalf("attempt 2 = %v, want 400ms", got)
	}
	if got := ExponentialBackoff(10, base, cap); got != cap {
		t.Fatalf("attempt 10 = %v, want cap %v", got, cap)
	}
}
