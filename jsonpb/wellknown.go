package jsonpb

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/anirudhraja/protoevent/schema"
)

const (
	maxDurationSeconds  = 315576000000
	minTimestampSeconds = -62135596800 // 0001-01-01T00:00:00Z
	maxTimestampSeconds = 253402300799 // 9999-12-31T23:59:59Z
)

// formatDuration renders seconds and nanos as "<s>.<frac>s" with 0, 3, 6
// or 9 fractional digits.
func formatDuration(secs int64, nanos int32) (string, error) {
	if secs < -maxDurationSeconds || secs > maxDurationSeconds {
		return "", errors.Wrapf(ErrWellKnown, "duration seconds %d out of range", secs)
	}
	if nanos <= -1e9 || nanos >= 1e9 || (secs > 0 && nanos < 0) || (secs < 0 && nanos > 0) {
		return "", errors.Wrapf(ErrWellKnown, "duration nanos %d invalid for seconds %d", nanos, secs)
	}
	sign := ""
	if secs < 0 || nanos < 0 {
		sign = "-"
		secs, nanos = -secs, -nanos
	}
	x := fmt.Sprintf("%s%d.%09d", sign, secs, nanos)
	return trimFraction(x) + "s", nil
}

// formatTimestamp renders an RFC 3339 UTC time with 0, 3, 6 or 9
// fractional digits.
func formatTimestamp(secs int64, nanos int32) (string, error) {
	if secs < minTimestampSeconds || secs > maxTimestampSeconds {
		return "", errors.Wrapf(ErrWellKnown, "timestamp seconds %d out of range", secs)
	}
	if nanos < 0 || nanos >= 1e9 {
		return "", errors.Wrapf(ErrWellKnown, "timestamp nanos %d out of range", nanos)
	}
	x := time.Unix(secs, int64(nanos)).UTC().Format("2006-01-02T15:04:05.000000000")
	return trimFraction(x) + "Z", nil
}

func trimFraction(x string) string {
	x = strings.TrimSuffix(x, "000")
	x = strings.TrimSuffix(x, "000")
	return strings.TrimSuffix(x, ".000")
}

// parseDuration parses the JSON form of a Duration. Seconds and nanos carry
// the same sign.
func parseDuration(s string) (int64, int32, error) {
	core := strings.TrimSuffix(s, "s")
	if core == s || core == "" {
		return 0, 0, errors.Wrapf(ErrWellKnown, "invalid duration %q", s)
	}
	neg := strings.HasPrefix(core, "-")
	if neg {
		core = core[1:]
	}
	secPart, fracPart := core, ""
	if i := strings.IndexByte(core, '.'); i >= 0 {
		secPart, fracPart = core[:i], core[i+1:]
	}
	if secPart == "" || !digits(secPart) || (fracPart != "" && !digits(fracPart)) || len(fracPart) > 9 {
		return 0, 0, errors.Wrapf(ErrWellKnown, "invalid duration %q", s)
	}
	secs, err := strconv.ParseInt(secPart, 10, 64)
	if err != nil || secs > maxDurationSeconds {
		return 0, 0, errors.Wrapf(ErrWellKnown, "duration %q out of range", s)
	}
	var nanos int64
	if fracPart != "" {
		nanos, _ = strconv.ParseInt(fracPart+strings.Repeat("0", 9-len(fracPart)), 10, 32)
	}
	if neg {
		secs, nanos = -secs, -nanos
	}
	return secs, int32(nanos), nil
}

func digits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// parseTimestamp parses an RFC 3339 time with any offset into UTC seconds
// and nanos.
func parseTimestamp(s string) (int64, int32, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return 0, 0, errors.Wrapf(ErrWellKnown, "invalid timestamp %q: %v", s, err)
	}
	secs := t.Unix()
	if secs < minTimestampSeconds || secs > maxTimestampSeconds {
		return 0, 0, errors.Wrapf(ErrWellKnown, "timestamp %q out of range", s)
	}
	return secs, int32(t.Nanosecond()), nil
}

// parseFieldMask splits the comma separated JSON form into snake_case paths.
func parseFieldMask(s string) ([]string, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if strings.Contains(p, "_") {
			return nil, errors.Wrapf(ErrWellKnown, "field mask path %q is not lowerCamelCase", p)
		}
		out = append(out, camelToSnake(p))
	}
	return out, nil
}

// formatFieldMask joins paths in their lowerCamelCase form. A path that would
// not survive the round trip is rejected.
func formatFieldMask(paths []string) (string, error) {
	out := make([]string, len(paths))
	for i, p := range paths {
		c := schema.JSONName(p)
		if camelToSnake(c) != p {
			return "", errors.Wrapf(ErrWellKnown, "field mask path %q has no JSON form", p)
		}
		out[i] = c
	}
	return strings.Join(out, ","), nil
}

// camelToSnake converts lowerCamelCase to snake_case.
func camelToSnake(s string) string {
	out := make([]byte, 0, len(s)+4)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			out = append(out, '_')
			c = c - 'A' + 'a'
		}
		out = append(out, c)
	}
	return string(out)
}

// decodeBase64 accepts standard and URL-safe alphabets, padded or not.
func decodeBase64(s string) ([]byte, error) {
	enc := base64.StdEncoding
	if strings.ContainsAny(s, "-_") {
		enc = base64.URLEncoding
	}
	if len(s)%4 != 0 {
		enc = enc.WithPadding(base64.NoPadding)
	}
	return enc.DecodeString(s)
}
