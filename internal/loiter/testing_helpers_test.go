package loiter

import "time"

var testEpoch = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

// at returns testEpoch plus secs seconds.
func at(secs float64) time.Time {
	return testEpoch.Add(time.Duration(secs * float64(time.Second)))
}

// standingAt returns a 20x60 box whose centroid is exactly (cx, cy).
func standingAt(cx, cy int) Box {
	return Box{X: cx - 10, Y: cy - 30, Width: 20, Height: 60}
}

// lyingAt returns a 60x20 box whose centroid is exactly (cx, cy).
func lyingAt(cx, cy int) Box {
	return Box{X: cx - 30, Y: cy - 10, Width: 60, Height: 20}
}

// wideROIConfig returns defaults with a region that contains the origin.
func wideROIConfig() Config {
	cfg := DefaultConfig()
	cfg.ROI = Region{X: -1000, Y: -1000, Width: 3000, Height: 3000}
	return cfg
}
