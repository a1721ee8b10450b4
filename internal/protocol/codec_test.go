package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestPayload(t *testing.T) {
	p := Payload()
	if len(p) != PayloadSize {
		t.Fatalf("expected %d bytes, got %d", PayloadSize, len(p))
	}
	for i, b := range p {
		if b != 0xFE {
			t.Fatalf("byte %d = %#x, want 0xfe", i, b)
		}
	}
}

func TestSingleByteCommands(t *testing.T) {
	if got := EncodeResetCounter(); !bytes.Equal(got, []byte{0xAA}) {
		t.Fatalf("reset = %x", got)
	}
	if got := EncodeRequestReport(); !bytes.Equal(got, []byte{0xBB}) {
		t.Fatalf("report = %x", got)
	}
}

func TestEncodeStartRemoteSend(t *testing.T) {
	got, err := EncodeStartRemoteSend(500, 0x10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []byte{0xCC, 0x00, 0x00, 0x01, 0xF4, 0x00, 0x00, 0x00, 0x10}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %x, want %x", got, want)
	}

	count, delay, err := DecodeStartRemoteSend(got)
	if err != nil || count != 500 || delay != 0x10 {
		t.Fatalf("decode = %d %d %v", count, delay, err)
	}

	if _, err := EncodeStartRemoteSend(1<<32, 0); !errors.Is(err, ErrCountRange) {
		t.Fatalf("expected ErrCountRange for count, got %v", err)
	}
	if _, err := EncodeStartRemoteSend(1, -1); !errors.Is(err, ErrCountRange) {
		t.Fatalf("expected ErrCountRange for delay, got %v", err)
	}
}

func TestParseReport(t *testing.T) {
	v, err := ParseReport([]byte{0x03, 0xE8})
	if err != nil || v != 1000 {
		t.Fatalf("ParseReport(03E8) = %d, %v", v, err)
	}
	v, err = ParseReport([]byte{0x03, 0x84})
	if err != nil || v != 900 {
		t.Fatalf("ParseReport(0384) = %d, %v", v, err)
	}
	if _, err := ParseReport(nil); !errors.Is(err, ErrMalformedReply) {
		t.Fatalf("expected ErrMalformedReply for empty report, got %v", err)
	}
	if _, err := ParseReport(make([]byte, 9)); !errors.Is(err, ErrMalformedReply) {
		t.Fatalf("expected ErrMalformedReply for long report, got %v", err)
	}
}

func TestEncodeReportRoundTrip(t *testing.T) {
	if got := EncodeReport(0); !bytes.Equal(got, []byte{0x00}) {
		t.Fatalf("EncodeReport(0) = %x", got)
	}
	if got := EncodeReport(1000); !bytes.Equal(got, []byte{0x03, 0xE8}) {
		t.Fatalf("EncodeReport(1000) = %x", got)
	}
}

func TestIsEndMarker(t *testing.T) {
	if IsEndMarker(nil) {
		t.Fatalf("empty datagram is not a marker")
	}
	if !IsEndMarker([]byte{0xDD, 0x00}) {
		t.Fatalf("expected marker")
	}
	if IsEndMarker(Payload()) {
		t.Fatalf("payload is not a marker")
	}
}
