package notifications

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// ExecutionKey derives the delayed-execution name for an event:
// "f1-notification-<name>-<yyyymmddhhmm>" with each whitespace rune in the
// name replaced by "-", cut from the right to maxLen bytes.
//
// The key is a pure function of (name, start) and is the only guard against
// scheduling the same event twice across runs. Known limit: truncation keeps
// only the prefix, so two long names sharing their first ~50 bytes at the
// same start minute map to the same key, and the later one is never
// scheduled. Start times are compared at minute precision.
func ExecutionKey(name string, start time.Time, maxLen int) string {
	if maxLen <= 0 {
		maxLen = defaultMaxKeyLength
	}
	slug := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return '-'
		}
		return r
	}, name)

	key := keyPrefix + slug + "-" + start.UTC().Format(keyTimestamp)
	return truncateKey(key, maxLen)
}

// truncateKey cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncateKey(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
