package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var (
	ErrMalformedReply = errors.New("malformed report")
	ErrCountRange     = errors.New("value does not fit in 32 bits")
)

// Payload returns a fresh filler datagram.
func Payload() []byte {
	buf := make([]byte, PayloadSize)
	for i := range buf {
		buf[i] = PayloadFill
	}
	return buf
}

func EncodeResetCounter() []byte {
	return []byte{CmdResetCounter}
}

func EncodeRequestReport() []byte {
	return []byte{CmdRequestReport}
}

// EncodeStartRemoteSend builds CC followed by the packet count and the
// inter-send delay (remote clock cycles), both 32-bit big-endian.
func EncodeStartRemoteSend(count, delayCycles int64) ([]byte, error) {
	if count < 0 || count > math.MaxUint32 {
		return nil, fmt.Errorf("packet count %d: %w", count, ErrCountRange)
	}
	if delayCycles < 0 || delayCycles > math.MaxUint32 {
		return nil, fmt.Errorf("inter-packet delay %d: %w", delayCycles, ErrCountRange)
	}
	buf := make([]byte, StartRemoteSendSize)
	buf[0] = CmdStartRemoteSend
	binary.BigEndian.PutUint32(buf[1:5], uint32(count))
	binary.BigEndian.PutUint32(buf[5:9], uint32(delayCycles))
	return buf, nil
}

// DecodeStartRemoteSend is the inverse of EncodeStartRemoteSend.
func DecodeStartRemoteSend(data []byte) (count, delayCycles uint32, err error) {
	if len(data) < StartRemoteSendSize || data[0] != CmdStartRemoteSend {
		return 0, 0, errors.New("invalid start command")
	}
	return binary.BigEndian.Uint32(data[1:5]), binary.BigEndian.Uint32(data[5:9]), nil
}

// EncodeReport renders a received-packet count the way the remote does:
// the minimal big-endian byte string, at least one byte.
func EncodeReport(count uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], count)
	i := 0
	for i < len(tmp)-1 && tmp[i] == 0 {
		i++
	}
	out := make([]byte, len(tmp)-i)
	copy(out, tmp[i:])
	return out
}

// ParseReport reads the whole datagram as one unsigned big-endian integer.
// On the wire this is the hex text of the raw bytes, so 0x03 0xE8 reads as
// 0x03E8 = 1000.
func ParseReport(data []byte) (uint64, error) {
	if len(data) == 0 || len(data) > MaxReportSize {
		return 0, fmt.Errorf("%d byte report: %w", len(data), ErrMalformedReply)
	}
	var v uint64
	for _, b := range data {
		v = v<<8 | uint64(b)
	}
	return v, nil
}

// IsEndMarker reports whether a remote-originated datagram closes the stream.
func IsEndMarker(data []byte) bool {
	return len(data) > 0 && data[0] == EndMarker
}
