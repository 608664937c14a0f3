package util

// FormatSpeed renders an upload/download rate pair for the speed column.
// An idle pair renders as "-"; an idle direction is omitted.
func FormatSpeed(up, down int64) string {
	switch {
	case up == 0 && down == 0:
		return "-"
	case down == 0:
		return "↑ " + FormatTraffic(up) + "/s"
	case up == 0:
		return "↓ " + FormatTraffic(down) + "/s"
	default:
		return "↑ " + FormatTraffic(up) + "/s ↓ " + FormatTraffic(down) + "/s"
	}
}
