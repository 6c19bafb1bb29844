package sensing

// Window selects the slice of a ranging scan checked for obstacles and the
// thresholds applied to it.
type Window struct {
	Start    int     `yaml:"start"`
	End      int     `yaml:"end"`
	Distance float64 `yaml:"distance"`
	MinRun   int     `yaml:"min_run"`
}

// Check runs HasObstacle with the window parameters.
func (w Window) Check(ranging []float64) bool {
	return HasObstacle(ranging, w.Start, w.End, w.Distance, w.MinRun)
}

// HasObstacle reports whether ranging[start:end] contains at least minRun
// consecutive samples closer than distance.
//
// end is clamped to len(ranging) and start to 0; an empty range never holds an
// obstacle.
func HasObstacle(ranging []float64, start, end int, distance float64, minRun int) bool {
	if start < 0 {
		start = 0
	}
	if end > len(ranging) {
		end = len(ranging)
	}
	if start >= end {
		return false
	}
	return LongestRunBelow(ranging[start:end], distance) >= minRun
}

// LongestRunBelow returns the length of the longest run of consecutive samples
// strictly below distance.
func LongestRunBelow(samples []float64, distance float64) int {
	longest, current := 0, 0
	for _, d := range samples {
		if d < distance {
			current++
			if current > longest {
				longest = current
			}
			continue
		}
		current = 0
	}
	return longest
}
