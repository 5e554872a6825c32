package mutation

import "fmt"

// FormatRemaining renders a countdown: "Expired", "{m}m {s}s" or "{s}s".
func FormatRemaining(ms int64) string {
	if ms <= 0 {
		return "Expired"
	}
	totalSeconds := ms / 1000
	minutes := totalSeconds / 60
	seconds := totalSeconds % 60
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
