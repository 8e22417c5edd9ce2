// Package duration parses durations with day and week units on top of
// time.ParseDuration, e.g. "7d", "2w" or "1w2d12h".
package duration

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	// Day is 24 hours.
	Day = 24 * time.Hour
	// Week is 7 days.
	Week = 7 * Day
)

var longUnitPattern = regexp.MustCompile(`(?i)(\d+)\s*(weeks?|w|days?|d)`)

// Parse parses a duration string. Week and day components are folded into
// hours before the remainder is handed to time.ParseDuration.
func Parse(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("duration: empty string")
	}

	negative := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	var hours int64
	rest := longUnitPattern.ReplaceAllStringFunc(s, func(match string) string {
		m := longUnitPattern.FindStringSubmatch(match)
		n, _ := strconv.ParseInt(m[1], 10, 64)
		if strings.HasPrefix(strings.ToLower(m[2]), "w") {
			hours += n * 7 * 24
		} else {
			hours += n * 24
		}
		return ""
	})
	rest = strings.Join(strings.Fields(rest), "")

	expr := rest
	if hours > 0 {
		expr = fmt.Sprintf("%dh%s", hours, rest)
	}
	if expr == "" {
		expr = "0s"
	}

	d, err := time.ParseDuration(expr)
	if err != nil {
		return 0, fmt.Errorf("duration: %w", err)
	}
	if negative {
		d = -d
	}
	return d, nil
}

// Format renders d using weeks and days where they apply; the sub-day
// remainder uses time.Duration formatting with zero components dropped.
func Format(d time.Duration) string {
	if d == 0 {
		return "0s"
	}
	var b strings.Builder
	if d < 0 {
		b.WriteByte('-')
		d = -d
	}
	if w := d / Week; w > 0 {
		fmt.Fprintf(&b, "%dw", w)
		d -= w * Week
	}
	if days := d / Day; days > 0 {
		fmt.Fprintf(&b, "%dd", days)
		d -= days * Day
	}
	if d > 0 {
		rem := d.String()
		rem = strings.Replace(rem, "h0m0s", "h", 1)
		rem = strings.Replace(rem, "m0s", "m", 1)
		b.WriteString(rem)
	}
	return b.String()
}
