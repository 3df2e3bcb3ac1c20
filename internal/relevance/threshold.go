package relevance

import "sort"

// ThresholdConfig carries the empirically tuned shortlist sizing knobs.
// The defaults are deliberate tuning values, not invariants; callers may
// override them from configuration.
type ThresholdConfig struct {
	TargetShortlist int `json:"target_shortlist"`
	Floor           int `json:"floor"`
	Ceiling         int `json:"ceiling"`
	Pivot           int `json:"pivot"`
}

func DefaultThresholdConfig() ThresholdConfig {
	return ThresholdConfig{TargetShortlist: 15, Floor: 30, Ceiling: 80, Pivot: 50}
}

func (c ThresholdConfig) normalized() ThresholdConfig {
	d := DefaultThresholdConfig()
	if c.TargetShortlist <= 0 {
		c.TargetShortlist = d.TargetShortlist
	}
	if c.Floor <= 0 {
		c.Floor = d.Floor
	}
	if c.Ceiling <= c.Floor {
		c.Ceiling = d.Ceiling
	}
	if c.Pivot < c.Floor || c.Pivot > c.Ceiling {
		c.Pivot = d.Pivot
	}
	return c
}

// SelectThreshold picks a relevance cutoff from the best-per-candidate
// percentages of a run. Starting from the pivot, the cutoff is raised to the
// score at the target rank when too many candidates clear the pivot, and
// lowered toward the 30th-percentile score when too few do. The returned
// value is always within [Floor, Ceiling]; the cutoff informs shortlist
// sizing and is not a hard admission gate.
func SelectThreshold(percents []int, cfg ThresholdConfig) int {
	cfg = cfg.normalized()
	if len(percents) == 0 {
		return cfg.Floor
	}

	desc := make([]int, len(percents))
	copy(desc, percents)
	sort.Sort(sort.Reverse(sort.IntSlice(desc)))

	abovePivot := 0
	for _, p := range desc {
		if p >= cfg.Pivot {
			abovePivot++
		}
	}

	switch {
	case abovePivot*2 > cfg.TargetShortlist*3: // > 1.5 × target
		cutoff := desc[min(cfg.TargetShortlist, len(desc))-1]
		return clamp(cutoff, cfg.Pivot, cfg.Ceiling)
	case abovePivot*2 < cfg.TargetShortlist: // < 0.5 × target
		cutoff := percentile(desc, 30)
		return clamp(cutoff, cfg.Floor, cfg.Pivot)
	default:
		return cfg.Pivot
	}
}

// percentile returns the pth percentile of a descending-sorted slice using
// nearest-rank on the ascending order.
func percentile(desc []int, p int) int {
	n := len(desc)
	rank := (p*n + 99) / 100
	if rank < 1 {
		rank = 1
	}
	if rank > n {
		rank = n
	}
	// ascending index rank-1 is descending index n-rank.
	return desc[n-rank]
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
