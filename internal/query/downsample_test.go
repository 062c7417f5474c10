package query

import (
	"math"
	"testing"
	"time"
)

var rangeStart = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func point(offset time.Duration, value float64) RawPoint {
	return RawPoint{Timestamp: rangeStart.Add(offset), Value: value}
}

func TestDownsampleBucketStats(t *testing.T) {
	points := []RawPoint{
		point(10*time.Second, 100),
		point(30*time.Second, 300),
		point(50*time.Second, 200),
		point(70*time.Second, 50),
	}

	buckets := Downsample(points, rangeStart, time.Minute)
	if len(buckets) != 2 {
		t.Fatalf("got %d buckets, want 2", len(buckets))
	}

	first := buckets[0]
	if !first.Start.Equal(rangeStart) {
		t.Errorf("first bucket start = %v, want range start", first.Start)
	}
	if first.Min != 100 || first.Max != 300 || first.Count != 3 {
		t.Errorf("first bucket min/max/count = %v/%v/%d, want 100/300/3", first.Min, first.Max, first.Count)
	}
	if math.Abs(first.Avg-200) > 1e-9 {
		t.Errorf("first bucket avg = %v, want 200", first.Avg)
	}

	second := buckets[1]
	if !second.Start.Equal(rangeStart.Add(time.Minute)) {
		t.Errorf("second bucket start = %v, want start+1m", second.Start)
	}
	if second.Count != 1 || second.Min != 50 || second.Max != 50 {
		t.Errorf("second bucket = %+v, want single point 50", second)
	}
}

func TestDownsampleOmitsEmptyBuckets(t *testing.T) {
	points := []RawPoint{
		point(5*time.Second, 1),
		point(10*time.Minute, 2),
	}

	buckets := Downsample(points, rangeStart, time.Minute)
	if len(buckets) != 2 {
		t.Fatalf("got %d buckets, want 2 (gaps omitted)", len(buckets))
	}
	if !buckets[1].Start.Equal(rangeStart.Add(10 * time.Minute)) {
		t.Errorf("second bucket start = %v, want start+10m", buckets[1].Start)
	}
}

func TestDownsampleDropsPointsBeforeStart(t *testing.T) {
	points := []RawPoint{
		{Timestamp: rangeStart.Add(-time.Second), Value: 999},
		point(time.Second, 1),
	}

	buckets := Downsample(points, rangeStart, time.Minute)
	if len(buckets) != 1 {
		t.Fatalf("got %d buckets, want 1", len(buckets))
	}
	if buckets[0].Max != 1 {
		t.Errorf("pre-start point leaked into bucket: %+v", buckets[0])
	}
}

func TestDownsampleBucketCountBound(t *testing.T) {
	span := time.Hour
	var points []RawPoint
	for offset := time.Duration(0); offset < span; offset += time.Second {
		points = append(points, point(offset, float64(offset/time.Second)))
	}

	interval := 5 * time.Minute
	buckets := Downsample(points, rangeStart, interval)
	limit := int(math.Ceil(float64(span) / float64(interval)))
	if len(buckets) > limit {
		t.Errorf("got %d buckets for %v/%v, limit %d", len(buckets), span, interval, limit)
	}
	for _, b := range buckets {
		if b.Min > b.Avg || b.Avg > b.Max {
			t.Errorf("bucket stats out of order: %+v", b)
		}
	}
}

func TestDownsampleEdgeInputs(t *testing.T) {
	if got := Downsample(nil, rangeStart, time.Minute); got != nil {
		t.Errorf("nil points produced %v", got)
	}
	if got := Downsample([]RawPoint{point(0, 1)}, rangeStart, 0); got != nil {
		t.Errorf("zero interval produced %v", got)
	}
}
