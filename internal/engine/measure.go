package engine

import "time"

const bytesPerMB = 1024 * 1024

// throughputMBps is packets*payload/elapsed in MiB/s. A zero elapsed time
// yields 0 rather than +Inf.
func throughputMBps(packets int64, payloadSize int, elapsed time.Duration) float64 {
	secs := elapsed.Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(packets) * float64(payloadSize) / secs / bytesPerMB
}

// lossPercent is not clamped: a remote reporting more than it was sent
// produces a negative loss.
func lossPercent(target int64, delivered float64) float64 {
	return 100 * (float64(target) - delivered) / float64(target)
}
