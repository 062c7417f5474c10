package query

import (
	"sort"
	"time"
)

// Bucket is one fixed-width downsampling window. Windows are aligned to the
// range start; empty windows are omitted.
type Bucket struct {
	Start time.Time `json:"start"`
	Min   float64   `json:"min"`
	Max   float64   `json:"max"`
	Avg   float64   `json:"avg"`
	Count int       `json:"count"`
}

// Downsample folds raw points into fixed-width buckets. Points before start
// are dropped; the result holds at most ceil(span/interval) buckets, in
// ascending start order.
func Downsample(points []RawPoint, start time.Time, interval time.Duration) []Bucket {
	if interval <= 0 || len(points) == 0 {
		return nil
	}

	type acc struct {
		min, max, sum float64
		count         int
	}
	buckets := make(map[int64]*acc)

	for _, p := range points {
		offset := p.Timestamp.Sub(start)
		if offset < 0 {
			continue
		}
		idx := int64(offset / interval)
		a, ok := buckets[idx]
		if !ok {
			buckets[idx] = &acc{min: p.Value, max: p.Value, sum: p.Value, count: 1}
			continue
		}
		if p.Value < a.min {
			a.min = p.Value
		}
		if p.Value > a.max {
			a.max = p.Value
		}
		a.sum += p.Value
		a.count++
	}

	out := make([]Bucket, 0, len(buckets))
	for idx, a := range buckets {
		out = append(out, Bucket{
			Start: start.Add(time.Duration(idx) * interval),
			Min:   a.min,
			Max:   a.max,
			Avg:   a.sum / float64(a.count),
			Count: a.count,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}
