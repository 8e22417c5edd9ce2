// Package bytesize parses and formats human-readable byte sizes.
//
// All units use a binary (1024) base: "10MB", "10MiB" and "10m" are the same
// size. A bare number is a count of bytes.
package bytesize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Size is a count of bytes.
type Size int64

// Binary size units.
const (
	B  Size = 1
	KB Size = 1 << 10
	MB Size = 1 << 20
	GB Size = 1 << 30
	TB Size = 1 << 40
)

var units = map[string]Size{
	"": B, "b": B, "byte": B, "bytes": B,
	"k": KB, "kb": KB, "kib": KB,
	"m": MB, "mb": MB, "mib": MB,
	"g": GB, "gb": GB, "gib": GB,
	"t": TB, "tb": TB, "tib": TB,
}

var sizePattern = regexp.MustCompile(`(?i)^\s*([0-9]+(?:\.[0-9]+)?)\s*([a-z]*)\s*$`)

// Parse parses strings such as "25MB", "1.5 GiB" or "1024".
func Parse(s string) (Size, error) {
	m := sizePattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("bytesize: invalid size %q", s)
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("bytesize: invalid number %q: %w", m[1], err)
	}
	unit, ok := units[strings.ToLower(m[2])]
	if !ok {
		return 0, fmt.Errorf("bytesize: unknown unit %q", m[2])
	}
	return Size(value * float64(unit)), nil
}

// MustParse is like Parse but panics on error.
func MustParse(s string) Size {
	size, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return size
}

// Format renders s using the largest unit that keeps the value >= 1.
// Whole values print without decimals: Format(10*MB) == "10MB".
func Format(s Size) string {
	sign := ""
	if s < 0 {
		sign, s = "-", -s
	}
	for _, u := range []struct {
		size Size
		name string
	}{{TB, "TB"}, {GB, "GB"}, {MB, "MB"}, {KB, "KB"}} {
		if s >= u.size {
			v := strconv.FormatFloat(float64(s)/float64(u.size), 'f', 2, 64)
			v = strings.TrimRight(strings.TrimRight(v, "0"), ".")
			return sign + v + u.name
		}
	}
	return fmt.Sprintf("%s%dB", sign, s)
}

// Bytes returns the size as an int64.
func (s Size) Bytes() int64 { return int64(s) }

func (s Size) String() string { return Format(s) }
