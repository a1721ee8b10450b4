package util

import (
	"log/slog"
	"math"
	"testing"
)

func TestBoolValue(t *testing.T) {
	if got := BoolValue(nil, true); got != true {
		t.Fatalf("BoolValue(nil, true) = %v, want true", got)
	}
	if got := BoolValue(nil, false); got != false {
		t.Fatalf("BoolValue(nil, false) = %v, want false", got)
	}
	val := true
	if got := BoolValue(&val, false); got != true {
		t.Fatalf("BoolValue(true, false) = %v, want true", got)
	}
	val = false
	if got := BoolValue(&val, true); got != false {
		t.Fatalf("BoolValue(false, true) = %v, want false", got)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestFormatResults(t *testing.T) {
	if got := FormatMBps(1.40381); got != "1.4038 MB/s" {
		t.Fatalf("FormatMBps = %q", got)
	}
	if got := FormatMBps(math.NaN()); got != "NaN" {
		t.Fatalf("FormatMBps(NaN) = %q", got)
	}
	if got := FormatLossPercent(10); got != "10 %" {
		t.Fatalf("FormatLossPercent(10) = %q", got)
	}
	if got := FormatLossPercent(-0.2); got != "-0.2 %" {
		t.Fatalf("FormatLossPercent(-0.2) = %q", got)
	}
	if got := FormatBytes(1472000); got != "1.47 MB" {
		t.Fatalf("FormatBytes = %q", got)
	}
}
