package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var sizeUnits = map[string]float64{ //nolint:gochecknoglobals // lookup table
	"":    1,
	"B":   1,
	"K":   1e3,
	"KB":  1e3,
	"M":   1e6,
	"MB":  1e6,
	"G":   1e9,
	"GB":  1e9,
	"T":   1e12,
	"TB":  1e12,
	"KIB": 1 << 10,
	"MIB": 1 << 20,
	"GIB": 1 << 30,
	"TIB": 1 << 40,
}

// ParseSize parses a byte count such as 108100000000, 108.1GB or 100GiB.
// Bare and SI suffixes are decimal, the way plot and drive sizes are quoted;
// IEC suffixes (KiB, MiB, ...) are binary. Case-insensitive.
func ParseSize(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	i := strings.IndexFunc(s, func(r rune) bool {
		return (r < '0' || r > '9') && r != '.' && r != '_'
	})
	numStr, unit := s, ""
	if i >= 0 {
		numStr, unit = s[:i], strings.ToUpper(strings.TrimSpace(s[i:]))
	}
	numStr = strings.ReplaceAll(numStr, "_", "")

	mult, ok := sizeUnits[unit]
	if !ok || numStr == "" {
		return 0, fmt.Errorf("invalid size: %q", s)
	}

	// Try integer first, then float.
	if n, err := strconv.ParseUint(numStr, 10, 64); err == nil {
		if mult == 1 {
			return n, nil
		}
		if f := float64(n) * mult; f < math.MaxUint64 {
			return uint64(f), nil
		}
		return 0, fmt.Errorf("size out of range: %q", s)
	}
	f, err := strconv.ParseFloat(numStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size: %q", s)
	}
	f = math.Round(f * mult)
	if f >= math.MaxUint64 {
		return 0, fmt.Errorf("size out of range: %q", s)
	}
	return uint64(f), nil
}

// Size is a byte count that decodes from a TOML integer or a size string.
type Size uint64

func (s *Size) UnmarshalText(text []byte) error {
	n, err := ParseSize(string(text))
	if err != nil {
		return err
	}
	*s = Size(n)
	return nil
}

func (s Size) MarshalText() ([]byte, error) {
	return []byte(strconv.FormatUint(uint64(s), 10)), nil
}

// Duration decodes from a Go duration string such as "45s" or "1m30s".
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// D returns d as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }
