package reliability

import (
	"errors"
	"time"

	"github.com/gorilla/websocket"
)

// CloseClass categorizes how a duplex channel ended.
type CloseClass string

const (
	CloseGraceful CloseClass = "graceful"
	CloseAbnormal CloseClass = "abnormal"
)

// ClassifyClosure distinguishes a clean remote shutdown from an abnormal
// drop. A nil error means the close was locally initiated.
func ClassifyClosure(err error) CloseClass {
	if err == nil {
		return CloseGraceful
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		switch ce.Code {
		case websocket.CloseNormalClosure, websocket.CloseGoingAway:
			return CloseGraceful
		}
	}
	return CloseAbnormal
}

// IsRetryableHTTPStatus classifies retryable HTTP status codes for the
// summary and synthesis collaborators.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}
