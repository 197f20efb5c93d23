package executor

import (
	"testing"
	"time"

	"github.com/claudeutils/claude-queue/internal/config"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestClassifyRateLimit_NoSignal(t *testing.T) {
	outputs := []string{
		"",
		"Done. 3 files changed.",
		"error: compilation failed in main.go",
		"the limit of this approach is readability", // "limit" alone is not a signal
	}
	for _, out := range outputs {
		if info := ClassifyRateLimit(out, config.DefaultRateLimitKeywords, testNow, time.Minute); info != nil {
			t.Errorf("ClassifyRateLimit(%q) = %+v, want nil", out, info)
		}
	}
}

func TestClassifyRateLimit_KeywordCorpus(t *testing.T) {
	// Real and synthetic messages the executor has been seen to print.
	outputs := []string{
		"Rate limit reached. Your limit will reset at 10pm.",
		"HTTP 429: Too Many Requests",
		"You have exceeded your quota for this billing period.",
		"API error: retry after 120 seconds",
		"RATE LIMIT: please slow down",
	}
	for _, out := range outputs {
		info := ClassifyRateLimit(out, config.DefaultRateLimitKeywords, testNow, time.Minute)
		if info == nil || !info.Limited {
			t.Errorf("ClassifyRateLimit(%q) = %+v, want limited", out, info)
		}
	}
}

func TestClassifyRateLimit_DefaultBackoffWhenUnparseable(t *testing.T) {
	info := ClassifyRateLimit("rate limit exceeded, try again later", config.DefaultRateLimitKeywords, testNow, time.Minute)
	if info == nil {
		t.Fatal("expected rate limit info")
	}
	if info.ResetTime == nil {
		t.Fatal("expected fallback reset time")
	}
	want := testNow.Add(time.Minute)
	if !info.ResetTime.Equal(want) {
		t.Errorf("ResetTime = %v, want %v", info.ResetTime, want)
	}
}

func TestClassifyRateLimit_ISOResetTime(t *testing.T) {
	out := "Quota exhausted. Resets at 2025-06-01T18:30:00Z per your plan."
	info := ClassifyRateLimit(out, config.DefaultRateLimitKeywords, testNow, time.Minute)
	if info == nil || info.ResetTime == nil {
		t.Fatalf("ClassifyRateLimit() = %+v, want reset time", info)
	}
	want := time.Date(2025, 6, 1, 18, 30, 0, 0, time.UTC)
	if !info.ResetTime.Equal(want) {
		t.Errorf("ResetTime = %v, want %v", info.ResetTime, want)
	}
}

func TestClassifyRateLimit_RetryAfterSeconds(t *testing.T) {
	out := "too many requests\nretry-after: 90"
	info := ClassifyRateLimit(out, config.DefaultRateLimitKeywords, testNow, time.Minute)
	if info == nil || info.ResetTime == nil {
		t.Fatalf("ClassifyRateLimit() = %+v, want reset time", info)
	}
	want := testNow.Add(90 * time.Second)
	if !info.ResetTime.Equal(want) {
		t.Errorf("ResetTime = %v, want %v", info.ResetTime, want)
	}
}

func TestClassifyRateLimit_CustomKeywords(t *testing.T) {
	out := "backend throttled this request"
	if info := ClassifyRateLimit(out, config.DefaultRateLimitKeywords, testNow, time.Minute); info != nil {
		t.Errorf("default keywords should not match %q", out)
	}
	info := ClassifyRateLimit(out, []string{"throttled"}, testNow, time.Minute)
	if info == nil || !info.Limited {
		t.Errorf("custom keyword did not match %q", out)
	}
}

func TestCaptureBuffer_Bounded(t *testing.T) {
	buf := newCaptureBuffer(10)

	if _, err := buf.Write([]byte("hello ")); err != nil {
		t.Fatal(err)
	}
	if _, err := buf.Write([]byte("world!")); err != nil {
		t.Fatal(err)
	}

	if got := buf.String(); got != "llo world!" {
		t.Errorf("String() = %q, want last 10 bytes %q", got, "llo world!")
	}
	if buf.Dropped() != 2 {
		t.Errorf("Dropped() = %d, want 2", buf.Dropped())
	}
}

func TestCaptureBuffer_OversizedSingleWrite(t *testing.T) {
	buf := newCaptureBuffer(4)

	if _, err := buf.Write([]byte("0123456789")); err != nil {
		t.Fatal(err)
	}
	if got := buf.String(); got != "6789" {
		t.Errorf("String() = %q, want %q", got, "6789")
	}
}
