package util

// Delta returns curr - prev, or 0 if curr < prev (counter regression).
func Delta(prev, curr int64) int64 {
	if curr < prev {
		return 0
	}
	return curr - prev
}

// Regressed reports whether a cumulative counter went backwards.
func Regressed(prev, curr int64) bool {
	return curr < prev
}
