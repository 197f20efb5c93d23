package executor

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/claudeutils/claude-queue/internal/types"
)

// Timestamp layouts accepted for "reset at" values in executor output.
// The executor's wording varies between releases, so matching stays loose.
var resetLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

var (
	resetAtPattern    = regexp.MustCompile(`(?i)reset[s]?\s+at[:\s]+([0-9T:\-\+\.Z ]+)`)
	retryAfterPattern = regexp.MustCompile(`(?i)retry[\s-]after[:\s]+(\d+)`)
)

// ClassifyRateLimit scans combined executor output for rate-limit
// signals. It is a pure function over the captured bytes: keywords is
// the configured signal list (matched case-insensitively), now anchors
// relative reset times, and backoff is the fallback window when no
// reset time can be parsed. Returns nil when no signal matches.
func ClassifyRateLimit(output string, keywords []string, now time.Time, backoff time.Duration) *types.RateLimitInfo {
	lower := strings.ToLower(output)

	matched := ""
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(kw)) {
			matched = kw
			break
		}
	}
	if matched == "" {
		return nil
	}

	info := &types.RateLimitInfo{
		Limited: true,
		Message: "rate limit signal: " + matched,
	}

	if reset, ok := parseResetTime(output, now); ok {
		info.ResetTime = &reset
		return info
	}

	// No parseable reset time: defer by the fallback backoff window.
	reset := now.Add(backoff)
	info.ResetTime = &reset
	return info
}

// parseResetTime extracts a reset timestamp from output, either an
// absolute "reset at <ISO-8601>" or a relative "retry-after: <seconds>".
func parseResetTime(output string, now time.Time) (time.Time, bool) {
	if m := resetAtPattern.FindStringSubmatch(output); len(m) == 2 {
		raw := strings.TrimSpace(m[1])
		for _, layout := range resetLayouts {
			if t, err := time.Parse(layout, raw); err == nil {
				return t, true
			}
		}
		// The capture group is greedy over timestamp characters; retry
		// with trailing fragments trimmed at whitespace.
		if idx := strings.IndexByte(raw, ' '); idx > 0 {
			head := raw[:idx]
			for _, layout := range resetLayouts {
				if t, err := time.Parse(layout, head); err == nil {
					return t, true
				}
			}
		}
	}

	if m := retryAfterPattern.FindStringSubmatch(output); len(m) == 2 {
		if secs, err := strconv.Atoi(m[1]); err == nil && secs > 0 {
			return now.Add(time.Duration(secs) * time.Second), true
		}
	}

	return time.Time{}, false
}
