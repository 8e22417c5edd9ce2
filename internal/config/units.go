package config

import (
	"encoding/json"
	"time"

	"github.com/jmylchreest/audex/pkg/bytesize"
	"github.com/jmylchreest/audex/pkg/duration"
)

// ByteSize is a byte count written as "10MB", "1.5GiB" or a plain number.
type ByteSize int64

// Duration is a time.Duration that also understands days and weeks ("7d", "2w").
type Duration time.Duration

// ParseByteSize parses s with the bytesize package rules.
func ParseByteSize(s string) (ByteSize, error) {
	n, err := bytesize.Parse(s)
	return ByteSize(n), err
}

// ParseDuration parses s with the duration package rules.
func ParseDuration(s string) (Duration, error) {
	d, err := duration.Parse(s)
	return Duration(d), err
}

// Bytes returns the size in bytes.
func (b ByteSize) Bytes() int64 { return int64(b) }

func (b ByteSize) String() string { return bytesize.Format(bytesize.Size(b)) }

func (b ByteSize) MarshalText() ([]byte, error) { return []byte(b.String()), nil }

func (b *ByteSize) UnmarshalText(text []byte) error {
	return parseInto(b, string(text), ParseByteSize)
}

// UnmarshalJSON takes a size string or a number of bytes.
func (b *ByteSize) UnmarshalJSON(data []byte) error {
	return numberOrText(b, data, ParseByteSize)
}

// Duration returns the value as a time.Duration.
func (d Duration) Duration() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return duration.Format(time.Duration(d)) }

func (d Duration) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Duration) UnmarshalText(text []byte) error {
	return parseInto(d, string(text), ParseDuration)
}

// UnmarshalJSON takes a duration string or a number of nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	return numberOrText(d, data, ParseDuration)
}

func parseInto[T ~int64](dst *T, s string, parse func(string) (T, error)) error {
	v, err := parse(s)
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

func numberOrText[T ~int64](dst *T, data []byte, parse func(string) (T, error)) error {
	var n int64
	if json.Unmarshal(data, &n) == nil {
		*dst = T(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	return parseInto(dst, s, parse)
}
