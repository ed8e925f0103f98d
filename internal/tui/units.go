package tui

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

const metersPerKm = 1000.0

// formatDistance formats meters as kilometers
func formatDistance(meters *int) string {
	if meters == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f km", float64(*meters)/metersPerKm)
}

// formatDuration formats seconds as h:mm:ss or m:ss
func formatDuration(seconds *int) string {
	if seconds == nil {
		return "-"
	}
	s := *seconds
	if s >= 3600 {
		return fmt.Sprintf("%d:%02d:%02d", s/3600, (s%3600)/60, s%60)
	}
	return fmt.Sprintf("%d:%02d", s/60, s%60)
}

// formatPace formats min/km from seconds and meters
func formatPace(seconds, meters *int) string {
	if seconds == nil || meters == nil || *seconds <= 0 || *meters <= 0 {
		return "-"
	}
	pace := float64(*seconds) / (float64(*meters) / metersPerKm)
	return fmt.Sprintf("%d:%02d", int(pace)/60, int(pace)%60)
}

func formatInt(v *int) string {
	if v == nil {
		return "-"
	}
	return humanize.Comma(int64(*v))
}
