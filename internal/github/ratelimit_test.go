package github

import (
	"fmt"
	"net/http"
	"testing"
	"time"
)

func responseWithHeaders(status int, headers map[string]string) *http.Response {
	h := http.Header{}
	for k, v := range headers {
		h.Set(k, v)
	}
	return &http.Response{StatusCode: status, Header: h}
}

func TestParseRateLimit(t *testing.T) {
	reset := time.Now().Add(10 * time.Minute).Unix()
	resp := responseWithHeaders(200, map[string]string{
		"X-RateLimit-Remaining": "42",
		"X-RateLimit-Reset":     fmt.Sprintf("%d", reset),
	})

	info := ParseRateLimit(resp)
	if info == nil {
		t.Fatal("expected rate limit info")
	}
	if info.Remaining != 42 {
		t.Errorf("expected remaining 42, got %d", info.Remaining)
	}
	if info.Reset.Unix() != reset {
		t.Errorf("expected reset %d, got %d", reset, info.Reset.Unix())
	}
}

func TestParseRateLimitMissingHeaders(t *testing.T) {
	if info := ParseRateLimit(responseWithHeaders(200, nil)); info != nil {
		t.Errorf("expected nil for missing headers, got %+v", info)
	}
	if info := ParseRateLimit(nil); info != nil {
		t.Error("expected nil for nil response")
	}
}

func TestShouldThrottle(t *testing.T) {
	tests := []struct {
		remaining int
		want      bool
	}{
		{0, true},
		{99, true},
		{100, false},
		{5000, false},
	}
	for _, tt := range tests {
		info := &RateLimitInfo{Remaining: tt.remaining}
		if got := info.ShouldThrottle(); got != tt.want {
			t.Errorf("remaining=%d: ShouldThrottle() = %v, want %v", tt.remaining, got, tt.want)
		}
	}

	var nilInfo *RateLimitInfo
	if nilInfo.ShouldThrottle() {
		t.Error("nil info should not throttle")
	}
}

func TestWaitDuration(t *testing.T) {
	past := &RateLimitInfo{Reset: time.Now().Add(-time.Minute)}
	if d := past.WaitDuration(); d != 0 {
		t.Errorf("expected 0 for past reset, got %v", d)
	}

	future := &RateLimitInfo{Reset: time.Now().Add(time.Minute)}
	if d := future.WaitDuration(); d <= 0 || d > time.Minute {
		t.Errorf("expected positive duration up to 1m, got %v", d)
	}
}

func TestHandleRateLimitError(t *testing.T) {
	t.Run("uses reset header", func(t *testing.T) {
		reset := time.Now().Add(30 * time.Second).Unix()
		resp := responseWithHeaders(429, map[string]string{
			"X-RateLimit-Remaining": "0",
			"X-RateLimit-Reset":     fmt.Sprintf("%d", reset),
		})
		wait, err := HandleRateLimitError(resp)
		if err != nil {
			t.Fatal(err)
		}
		if wait <= 0 || wait > 31*time.Second {
			t.Errorf("unexpected wait %v", wait)
		}
	})

	t.Run("uses retry-after", func(t *testing.T) {
		resp := responseWithHeaders(403, map[string]string{"Retry-After": "15"})
		wait, err := HandleRateLimitError(resp)
		if err != nil {
			t.Fatal(err)
		}
		if wait != 15*time.Second {
			t.Errorf("expected 15s, got %v", wait)
		}
	})

	t.Run("default fallback", func(t *testing.T) {
		wait, err := HandleRateLimitError(responseWithHeaders(429, nil))
		if err != nil {
			t.Fatal(err)
		}
		if wait != 60*time.Second {
			t.Errorf("expected 60s fallback, got %v", wait)
		}
	})

	t.Run("rejects non rate limit status", func(t *testing.T) {
		if _, err := HandleRateLimitError(responseWithHeaders(500, nil)); err == nil {
			t.Error("expected error for 500")
		}
	})
}

func TestBackoffDuration(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{10, maxBackoff},
		{-1, time.Second},
	}
	for _, tt := range tests {
		if got := BackoffDuration(tt.attempt); got != tt.want {
			t.Errorf("attempt %d: got %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestStatusPredicates(t *testing.T) {
	if !IsNotModified(responseWithHeaders(304, nil)) {
		t.Error("304 should be not modified")
	}
	if IsNotModified(nil) {
		t.Error("nil response is not not-modified")
	}
	if !IsServerError(responseWithHeaders(502, nil)) {
		t.Error("502 should be a server error")
	}
	if IsServerError(responseWithHeaders(404, nil)) {
		t.Error("404 is not a server error")
	}
	if !IsRateLimitError(responseWithHeaders(403, nil)) || !IsRateLimitError(responseWithHeaders(429, nil)) {
		t.Error("403 and 429 should be rate limit errors")
	}
	if IsRateLimitError(responseWithHeaders(200, nil)) {
		t.Error("200 is not a rate limit error")
	}
}
