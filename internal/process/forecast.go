package process

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// sizeUnits maps forecast rate suffixes to byte counts.
var sizeUnits = map[byte]int64{
	'b': 1,
	'k': 1 << 10,
	'm': 1 << 20,
	'g': 1 << 30,
}

// ParseForecast parses a duration-forecast expression into a ForecastFunc.
//
// An expression is a '+'-separated sum of terms. A term is either a
// constant Go duration ("30s", "5m") or a rate "<duration>/<size>" meaning
// that duration per size of input ("1s/100b" is one second per hundred
// bytes, "200ms/1m" is 200 milliseconds per mebibyte). Sizes take an
// optional b/k/m/g suffix; a bare number means bytes.
func ParseForecast(expr string) (ForecastFunc, error) {
	type rate struct {
		dur  time.Duration
		size int64
	}

	var constant time.Duration
	var rates []rate

	terms := strings.Split(expr, "+")
	for _, term := range terms {
		term = strings.TrimSpace(term)
		if term == "" {
			return nil, fmt.Errorf("forecast %q: empty term", expr)
		}

		durPart, sizePart, isRate := strings.Cut(term, "/")
		dur, err := time.ParseDuration(strings.TrimSpace(durPart))
		if err != nil {
			return nil, fmt.Errorf("forecast %q: %w", expr, err)
		}
		if dur < 0 {
			return nil, fmt.Errorf("forecast %q: negative duration", expr)
		}

		if !isRate {
			constant += dur
			continue
		}

		size, err := parseSize(strings.TrimSpace(sizePart))
		if err != nil {
			return nil, fmt.Errorf("forecast %q: %w", expr, err)
		}
		rates = append(rates, rate{dur: dur, size: size})
	}

	return func(totalInputBytes int64) time.Duration {
		d := constant
		for _, r := range rates {
			d += time.Duration(totalInputBytes / r.size * int64(r.dur))
		}
		return d
	}, nil
}

func parseSize(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}

	unit := int64(1)
	last := s[len(s)-1]
	if u, ok := sizeUnits[last|0x20]; ok && (last < '0' || last > '9') {
		unit = u
		s = s[:len(s)-1]
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	if n <= 0 {
		return 0, fmt.Errorf("size must be positive, got %d", n)
	}
	return n * unit, nil
}
