// Package analysis holds the pure scoring helpers shared by the pedagogy and
// master agents: dimension aggregation, engagement timelines, death-valley
// detection and speech/visual incongruence counting.
package analysis

import (
	"math"
	"sort"
)

// EngagementPoint is one sampled engagement observation.
type EngagementPoint struct {
	Timestamp  float64 `json:"timestamp"`
	Engagement float64 `json:"engagement"` // 0-100
}

// Bucket is one aggregated window of the engagement timeline.
type Bucket struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Level float64 `json:"level"` // 0-100 mean engagement
}

// Span is a contiguous time range.
type Span struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// OverallScore combines dimension scores using the given weights. Dimensions
// missing a weight default to 1. Returns a value in [0,100].
func OverallScore(dimensions map[string]float64, weights map[string]float64) float64 {
	if len(dimensions) == 0 {
		return 0
	}
	var acc, total float64
	for dim, score := range dimensions {
		w, ok := weights[dim]
		if !ok {
			w = 1
		}
		acc += clamp(score, 0, 100) * w
		total += w
	}
	if total == 0 {
		return 0
	}
	return round1(acc / total)
}

// Timeline buckets engagement points into fixed windows of bucketSec.
func Timeline(points []EngagementPoint, bucketSec float64) []Bucket {
	if len(points) == 0 || bucketSec <= 0 {
		return nil
	}
	sorted := make([]EngagementPoint, len(points))
	copy(sorted, points)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp < sorted[j].Timestamp })

	var buckets []Bucket
	start := 0.0
	var sum float64
	var n int
	flush := func(end float64) {
		if n > 0 {
			buckets = append(buckets, Bucket{Start: start, End: end, Level: round1(sum / float64(n))})
		}
		sum, n = 0, 0
	}
	for _, p := range sorted {
		for p.Timestamp >= start+bucketSec {
			flush(start + bucketSec)
			start += bucketSec
		}
		sum += clamp(p.Engagement, 0, 100)
		n++
	}
	flush(sorted[len(sorted)-1].Timestamp)
	return buckets
}

// DeathValleys returns spans where engagement stays below threshold for at
// least minDurSec.
func DeathValleys(timeline []Bucket, threshold, minDurSec float64) []Span {
	var valleys []Span
	var cur *Span
	for _, b := range timeline {
		if b.Level < threshold {
			if cur == nil {
				cur = &Span{Start: b.Start, End: b.End}
			} else {
				cur.End = b.End
			}
			continue
		}
		if cur != nil && cur.End-cur.Start >= minDurSec {
			valleys = append(valleys, *cur)
		}
		cur = nil
	}
	if cur != nil && cur.End-cur.Start >= minDurSec {
		valleys = append(valleys, *cur)
	}
	return valleys
}

// Incongruences counts windows where vocal energy and visual engagement
// disagree by more than gap (an animated voice over a static presence, or
// the reverse). Series are matched index-wise over the shorter length.
func Incongruences(vocal, visual []float64, gap float64) int {
	n := len(vocal)
	if len(visual) < n {
		n = len(visual)
	}
	count := 0
	for i := 0; i < n; i++ {
		if math.Abs(clamp(vocal[i], 0, 100)-clamp(visual[i], 0, 100)) > gap {
			count++
		}
	}
	return count
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
