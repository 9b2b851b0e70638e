package repository

import "time"

// Interval is a candle bucket width.
type Interval string

const (
	I1m  Interval = "1m"
	I5m  Interval = "5m"
	I15m Interval = "15m"
	I1h  Interval = "1h"
)

// Millis returns the interval width in milliseconds.
func (i Interval) Millis() int64 {
	return int64(i.Duration() / time.Millisecond)
}

// Duration returns the interval width.
func (i Interval) Duration() time.Duration {
	switch i {
	case I1m:
		return time.Minute
	case I5m:
		return 5 * time.Minute
	case I15m:
		return 15 * time.Minute
	case I1h:
		return time.Hour
	default:
		return time.Minute
	}
}

// IsValidInterval returns true if iv is a supported interval.
func IsValidInterval(iv Interval) bool {
	switch iv {
	case I1m, I5m, I15m, I1h:
		return true
	default:
		return false
	}
}

// DefaultInterval returns the default candle interval.
func DefaultInterval() Interval { return I1m }

// NormalizeInterval converts a raw string to a valid interval (or default).
func NormalizeInterval(s string) Interval {
	if s == "" {
		return DefaultInterval()
	}
	iv := Interval(s)
	if IsValidInterval(iv) {
		return iv
	}
	return DefaultInterval()
}

// BucketStart floors a unix-ms timestamp to the interval boundary.
func (i Interval) BucketStart(tsMillis int64) int64 {
	w := i.Millis()
	return tsMillis / w * w
}
