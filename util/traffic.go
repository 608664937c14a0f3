package util

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrUnknownUnit is returned by ParseTraffic for a unit token outside B..TB.
	ErrUnknownUnit = errors.New("unknown traffic unit")
	// ErrMalformedTraffic is returned when the text is not "<number> <unit>".
	ErrMalformedTraffic = errors.New("malformed traffic value")
)

var trafficUnits = []string{"B", "KB", "MB", "GB", "TB"}

// unitExp maps a lower-cased unit token to its power of 1024.
var unitExp = map[string]int{
	"b":  0,
	"kb": 1,
	"mb": 2,
	"gb": 3,
	"tb": 4,
}

// FormatTraffic renders a byte count in base-1024 units.
// Bytes are printed as an integer, larger units with two decimals.
func FormatTraffic(bytes int64) string {
	v := float64(bytes)
	idx := 0
	for v >= 1024 && idx < len(trafficUnits)-1 {
		v /= 1024
		idx++
	}
	if idx == 0 {
		return strconv.FormatInt(bytes, 10) + " " + trafficUnits[0]
	}
	return strconv.FormatFloat(v, 'f', 2, 64) + " " + trafficUnits[idx]
}

// ParseTraffic is the inverse of FormatTraffic. The unit is matched
// case-insensitively; an unknown unit is an error, never zero.
func ParseTraffic(text string) (float64, error) {
	num, unit, ok := strings.Cut(strings.TrimSpace(text), " ")
	if !ok || num == "" || unit == "" {
		return 0, fmt.Errorf("%w: %q", ErrMalformedTraffic, text)
	}
	exp, ok := unitExp[strings.ToLower(unit)]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownUnit, unit)
	}
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrMalformedTraffic, text, err)
	}
	for i := 0; i < exp; i++ {
		n *= 1024
	}
	return n, nil
}
