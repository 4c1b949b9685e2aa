//go:build race

package integration

import "time"

// Race-detector builds run several times slower.
var (
	perfP99Threshold = 25 * time.Millisecond
	perfP50Threshold = 10 * time.Millisecond
)
