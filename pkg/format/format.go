// Package format provides human-readable formatting for sizes, numbers,
// durations and cron schedules.
package format

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Bytes formats a byte count with binary units.
// Example: Bytes(1536) => "1.5 KB"
func Bytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	units := []string{"KB", "MB", "GB", "TB", "PB", "EB"}
	return fmt.Sprintf("%.1f %s", float64(n)/float64(div), units[exp]) //nolint:gosec // exp <= 5 for int64
}

var printer = message.NewPrinter(language.English)

// Number formats an integer with thousands separators.
// Example: Number(1234567) => "1,234,567"
func Number(n int64) string {
	return printer.Sprintf("%d", n)
}

// Percentage formats a percentage value.
// Example: Percentage(45.678, 1) => "45.7%"
func Percentage(value float64, decimals int) string {
	return fmt.Sprintf("%.*f%%", decimals, value)
}

// Duration formats a duration for reports, with millisecond precision below
// a minute and second precision above.
// Example: Duration(1530*time.Millisecond) => "1.53s"
func Duration(d time.Duration) string {
	switch {
	case d <= 0:
		return "0s"
	case d < time.Millisecond:
		return d.String()
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return strconv.FormatFloat(d.Seconds(), 'f', 2, 64) + "s"
	default:
		return d.Round(time.Second).String()
	}
}

// CronDescription describes common 6-field cron expressions
// (seconds minutes hours day-of-month month day-of-week). Expressions it does
// not recognise are returned unchanged.
// Example: CronDescription("0 0 * * * *") => "Every hour"
func CronDescription(expr string) string {
	fields := strings.Fields(expr)
	if len(fields) != 6 {
		return expr
	}
	sec, minute, hour, dom, month, dow := fields[0], fields[1], fields[2], fields[3], fields[4], fields[5]
	if dom != "*" || month != "*" || dow != "*" {
		return expr
	}

	switch {
	case strings.HasPrefix(sec, "*/") && minute == "*" && hour == "*":
		return "Every " + plural(step(sec), "second")
	case sec == "0" && strings.HasPrefix(minute, "*/") && hour == "*":
		return "Every " + plural(step(minute), "minute")
	case sec == "0" && minute == "*" && hour == "*":
		return "Every minute"
	case sec == "0" && isNumber(minute) && hour == "*":
		if minute == "0" {
			return "Every hour"
		}
		return fmt.Sprintf("Every hour at minute %s", minute)
	case sec == "0" && isNumber(minute) && strings.HasPrefix(hour, "*/"):
		return "Every " + plural(step(hour), "hour")
	case sec == "0" && isNumber(minute) && isNumber(hour):
		h, _ := strconv.Atoi(hour)
		m, _ := strconv.Atoi(minute)
		return fmt.Sprintf("Daily at %02d:%02d", h, m)
	default:
		return expr
	}
}

func step(field string) int {
	n, err := strconv.Atoi(strings.TrimPrefix(field, "*/"))
	if err != nil {
		return 0
	}
	return n
}

func plural(n int, unit string) string {
	if n == 1 {
		return unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

func isNumber(s string) bool {
	_, err := strconv.Atoi(s)
	return err == nil
}
