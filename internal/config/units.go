package config

import (
	"fmt"
	"strings"
)

// ParseFrequency parses a clock rate such as "125m" or "100mhz" to hertz.
// Units: k=1e3, m=1e6, g=1e9 (an optional "hz" suffix is ignored).
// Bare numbers are taken as hertz.
func ParseFrequency(s string) (uint64, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimSuffix(s, "hz")
	if s == "" {
		return 0, nil
	}

	multiplier := uint64(1)
	numStr := s
	switch s[len(s)-1] {
	case 'k':
		multiplier = 1_000
		numStr = s[:len(s)-1]
	case 'm':
		multiplier = 1_000_000
		numStr = s[:len(s)-1]
	case 'g':
		multiplier = 1_000_000_000
		numStr = s[:len(s)-1]
	}

	numStr = strings.TrimSpace(numStr)
	if numStr == "" {
		return 0, fmt.Errorf("invalid frequency value: %q", s)
	}

	var value float64
	if _, err := fmt.Sscanf(numStr, "%f", &value); err != nil {
		return 0, fmt.Errorf("invalid frequency value: %q", s)
	}
	if value < 0 {
		return 0, fmt.Errorf("frequency cannot be negative: %q", s)
	}

	return uint64(value * float64(multiplier)), nil
}

// ParseSize parses a human-readable size string to bytes.
// Supports formats: "100", "500kb", "4mb" (case insensitive).
// Units: kb=1000, mb=1000000 (decimal bytes).
func ParseSize(s string) (uint32, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	s = strings.ToLower(s)

	multiplier := uint64(1)
	numStr := s

	switch {
	case strings.HasSuffix(s, "kb"):
		multiplier = 1_000
		numStr = s[:len(s)-2]
	case strings.HasSuffix(s, "mb"):
		multiplier = 1_000_000
		numStr = s[:len(s)-2]
	}

	numStr = strings.TrimSpace(numStr)
	if numStr == "" {
		return 0, fmt.Errorf("invalid size value: %q", s)
	}

	var value float64
	if _, err := fmt.Sscanf(numStr, "%f", &value); err != nil {
		return 0, fmt.Errorf("invalid size value: %q", s)
	}

	if value < 0 {
		return 0, fmt.Errorf("size cannot be negative: %q", s)
	}

	return uint32(value * float64(multiplier)), nil
}
