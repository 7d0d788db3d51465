package insights

import (
	"fmt"
	"math"
	"strings"
)

// FormatDuration renders seconds as "1d 2h 3m" or "45s" for sub-minute
// values. Non-positive or non-finite input renders as "0s".
func FormatDuration(totalSeconds float64) string {
	if totalSeconds <= 0 || math.IsNaN(totalSeconds) {
		return "0s"
	}

	total := int(math.Round(totalSeconds))
	days := total / 86400
	hours := (total % 86400) / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60

	var parts []string
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if minutes > 0 {
		parts = append(parts, fmt.Sprintf("%dm", minutes))
	}
	if len(parts) == 0 {
		parts = append(parts, fmt.Sprintf("%ds", seconds))
	}
	return strings.Join(parts, " ")
}

// FormatSigned renders a seconds delta with an explicit sign, "+5m" or
// "-1h 30m" style.
func FormatSigned(seconds float64) string {
	if seconds == 0 || math.IsNaN(seconds) {
		return "0s"
	}
	formatted := FormatDuration(math.Abs(seconds))
	if seconds < 0 {
		return "-" + formatted
	}
	return "+" + formatted
}
