package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Window is one token bucket: Capacity tokens that refill greedily over Period.
type Window struct {
	Capacity int
	Period   time.Duration
}

func (w Window) String() string {
	return fmt.Sprintf("%d/%s", w.Capacity, w.Period)
}

// DefaultWindows is 5 per minute, 20 per hour and 50 per day.
func DefaultWindows() []Window {
	return []Window{
		{Capacity: 5, Period: time.Minute},
		{Capacity: 20, Period: time.Hour},
		{Capacity: 50, Period: 24 * time.Hour},
	}
}

// ParseWindows parses "5/1m,20/1h,50/24h".
func ParseWindows(s string) ([]Window, error) {
	var windows []Window
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		capStr, periodStr, ok := strings.Cut(part, "/")
		if !ok {
			return nil, fmt.Errorf("invalid rate limit window %q: want capacity/period", part)
		}
		capacity, err := strconv.Atoi(strings.TrimSpace(capStr))
		if err != nil || capacity <= 0 {
			return nil, fmt.Errorf("invalid capacity in rate limit window %q", part)
		}
		period, err := time.ParseDuration(strings.TrimSpace(periodStr))
		if err != nil || period <= 0 {
			return nil, fmt.Errorf("invalid period in rate limit window %q", part)
		}
		windows = append(windows, Window{Capacity: capacity, Period: period})
	}
	if len(windows) == 0 {
		return nil, fmt.Errorf("no rate limit windows in %q", s)
	}
	return windows, nil
}

// Decision is the outcome of one TryConsume call.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// RetryAfterSeconds is RetryAfter in whole seconds, rounded down but
// never below one for a denied request.
func (d Decision) RetryAfterSeconds() int64 {
	if d.Allowed {
		return 0
	}
	secs := int64(d.RetryAfter / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Limiter gates credential issuance per identity key. A request is
// allowed only when every window has a token, and then one token is
// taken from each. Exhaustion is a decision, never an error.
type Limiter interface {
	TryConsume(ctx context.Context, key string) Decision
}
