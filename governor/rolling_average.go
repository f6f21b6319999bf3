package governor

import (
	"math"
	"time"
)

// averageBucket accumulates a sum and sample count for one minute.
type averageBucket struct {
	sum   float64
	count int
}

// RollingAverage tracks a mean value over a rolling 1-hour window using 60
// 1-minute buckets, the same fixed-memory windowing scheme as a rolling
// min/max tracker but folding every sample into a running sum instead of
// keeping extremes. Used to turn a rail's per-sample power readings into
// the smoothed "measured rail power" the release evaluator compares against
// its thresholds.
type RollingAverage struct {
	buckets       [60]averageBucket
	currentMinute int // -1 = uninitialized
}

// NewRollingAverage creates a new RollingAverage with all buckets empty.
func NewRollingAverage() RollingAverage {
	return RollingAverage{currentMinute: -1}
}

// Update records a sample at the current time.
func (r *RollingAverage) Update(value float64) {
	r.updateAt(value, time.Now().Minute())
}

// updateAt records a sample at the specified minute (for testing).
func (r *RollingAverage) updateAt(value float64, minute int) {
	if r.currentMinute >= 0 && minute != r.currentMinute {
		for i := (r.currentMinute + 1) % 60; i != minute; i = (i + 1) % 60 {
			r.buckets[i] = averageBucket{}
		}
	}

	if minute != r.currentMinute {
		r.buckets[minute] = averageBucket{sum: value, count: 1}
		r.currentMinute = minute
		return
	}

	b := &r.buckets[minute]
	b.sum += value
	b.count++
}

// Average returns the mean of every sample still inside the window, or NaN
// if no sample has landed yet (the core's "still collecting" sentinel).
func (r *RollingAverage) Average() float64 {
	var sum float64
	var count int
	for _, b := range r.buckets {
		sum += b.sum
		count += b.count
	}
	if count == 0 {
		return math.NaN()
	}
	return sum / float64(count)
}
