package normalizer

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// isoMillisLayout renders instants the way the CRM tables store them:
// UTC with exactly three fractional digits.
const isoMillisLayout = "2006-01-02T15:04:05.000Z"

// maxEpochMillis is the largest instant a CRM timestamp column accepts
// (±100,000,000 days around the epoch).
const maxEpochMillis = 8.64e15

// EpochSecondsToISO converts a protocol timestamp (seconds since the epoch)
// into the millisecond ISO-8601 instant persisted in MessageRow.Timestamp.
// Missing, zero, non-numeric and out-of-range values map to the epoch.
func EpochSecondsToISO(v any) string {
	seconds, ok := toFloat(v)
	if !ok {
		seconds = 0
	}

	millis := math.Trunc(seconds * 1000)
	if math.IsNaN(millis) || math.Abs(millis) > maxEpochMillis {
		millis = 0
	}

	return time.UnixMilli(int64(millis)).UTC().Format(isoMillisLayout)
}

// toFloat coerces the numeric shapes the transport emits: JSON numbers,
// numeric strings and protobuf longs serialized as {low, high, unsigned}.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case nil:
		return 0, false
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		trimmed := strings.TrimSpace(n)
		if trimmed == "" {
			return 0, true
		}
		f, err := strconv.ParseFloat(trimmed, 64)
		return f, err == nil
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	case map[string]any:
		return longToFloat(n)
	default:
		return 0, false
	}
}

func longToFloat(m map[string]any) (float64, bool) {
	lowRaw, hasLow := m["low"]
	highRaw, hasHigh := m["high"]
	if !hasLow || !hasHigh {
		return 0, false
	}

	low, okLow := toFloat(lowRaw)
	high, okHigh := toFloat(highRaw)
	if !okLow || !okHigh {
		return 0, false
	}

	unsignedLow := float64(uint32(int64(low)))
	return high*4294967296 + unsignedLow, true
}

// numberOrZero is the absent-safe numeric default used for seconds and
// coordinates.
func numberOrZero(v any) float64 {
	f, ok := toFloat(v)
	if !ok || math.IsNaN(f) {
		return 0
	}
	return f
}

// object returns m[key] when it is a nested object.
func object(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	child, _ := m[key].(map[string]any)
	return child
}

// truthy reports whether the value at key would count as present on the
// wire: non-empty strings, true, non-zero numbers, any object or array.
func truthy(m map[string]any, key string) bool {
	if m == nil {
		return false
	}
	v, ok := m[key]
	if !ok {
		return false
	}
	switch val := v.(type) {
	case nil:
		return false
	case string:
		return val != ""
	case bool:
		return val
	case float64:
		return val != 0 && !math.IsNaN(val)
	case json.Number:
		return val.String() != "0"
	default:
		return true
	}
}

// optString returns m[key] as a string pointer, nil when absent. Numbers are
// rendered without a trailing fraction so ids survive the trip.
func optString(m map[string]any, key string) *string {
	if m == nil {
		return nil
	}
	switch val := m[key].(type) {
	case string:
		return &val
	case float64:
		s := strconv.FormatFloat(val, 'f', -1, 64)
		return &s
	case json.Number:
		s := val.String()
		return &s
	default:
		return nil
	}
}

// stringOr returns m[key] when it is a non-empty string, otherwise fallback.
func stringOr(m map[string]any, key, fallback string) string {
	if s := optString(m, key); s != nil && *s != "" {
		return *s
	}
	return fallback
}

// optValue returns m[key] untouched, nil when absent.
func optValue(m map[string]any, key string) any {
	if m == nil {
		return nil
	}
	return m[key]
}

// formatNumber renders a coordinate the way the UI shows it: shortest
// round-trip representation.
func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
