package util

import (
	"fmt"
	"math"
)

// FormatMBps renders a throughput in MiB/s the way results are shown to users.
func FormatMBps(mbps float64) string {
	if math.IsNaN(mbps) {
		return "NaN"
	}
	return fmt.Sprintf("%.4f MB/s", mbps)
}

// FormatLossPercent keeps the sign: a negative loss means the remote counted
// more packets than were sent.
func FormatLossPercent(loss float64) string {
	if math.IsNaN(loss) {
		return "NaN"
	}
	return fmt.Sprintf("%g %%", loss)
}

// FormatBytes formats byte counts with appropriate units
func FormatBytes(bytes float64) string {
	return formatWithUnits(bytes, []string{"B", "KB", "MB", "GB", "TB", "PB"}, 1000)
}

func formatWithUnits(value float64, units []string, base float64) string {
	if value < 0 {
		return "0"
	}
	idx := 0
	for value >= base && idx < len(units)-1 {
		value /= base
		idx++
	}
	if value >= 100 {
		return fmt.Sprintf("%.0f %s", value, units[idx])
	}
	if value >= 10 {
		return fmt.Sprintf("%.1f %s", value, units[idx])
	}
	return fmt.Sprintf("%.2f %s", value, units[idx])
}
