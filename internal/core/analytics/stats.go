package analytics

import (
	"fmt"
	"math"
	"sort"
)

// Statistic names accepted by aggregation windows
const (
	StatAvg    = "avg"
	StatMin    = "min"
	StatMax    = "max"
	StatSum    = "sum"
	StatCount  = "count"
	StatMedian = "median"
	StatP95    = "p95"
	StatP99    = "p99"
)

var knownStats = map[string]bool{
	StatAvg: true, StatMin: true, StatMax: true, StatSum: true,
	StatCount: true, StatMedian: true, StatP95: true, StatP99: true,
}

// ValidateStats rejects unknown statistic names
func ValidateStats(stats []string) error {
	for _, s := range stats {
		if !knownStats[s] {
			return fmt.Errorf("unknown statistic %q", s)
		}
	}
	return nil
}

// Compute evaluates the named statistics over values. An empty input yields an empty map.
func Compute(values []float64, stats []string) map[string]float64 {
	out := make(map[string]float64, len(stats))
	if len(values) == 0 {
		return out
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	for _, stat := range stats {
		switch stat {
		case StatAvg:
			out[stat] = Mean(values)
		case StatMin:
			out[stat] = sorted[0]
		case StatMax:
			out[stat] = sorted[len(sorted)-1]
		case StatSum:
			out[stat] = Sum(values)
		case StatCount:
			out[stat] = float64(len(values))
		case StatMedian:
			out[stat] = Median(sorted)
		case StatP95:
			out[stat] = Percentile(sorted, 0.95)
		case StatP99:
			out[stat] = Percentile(sorted, 0.99)
		}
	}
	return out
}

// Sum adds all values
func Sum(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum
}

// Mean is the arithmetic mean, 0 for no values
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return Sum(values) / float64(len(values))
}

// Median returns the middle of sorted values, the lower middle on an even count
func Median(sortedValues []float64) float64 {
	n := len(sortedValues)
	if n == 0 {
		return 0
	}
	return sortedValues[(n-1)/2]
}

// Percentile is the nearest-rank percentile of sorted values: index floor(n*p), clamped to n-1
func Percentile(sortedValues []float64, p float64) float64 {
	n := len(sortedValues)
	if n == 0 {
		return 0
	}
	index := int(math.Floor(float64(n) * p))
	if index > n-1 {
		index = n - 1
	}
	if index < 0 {
		index = 0
	}
	return sortedValues[index]
}

// StdDev is the population standard deviation
func StdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := Mean(values)
	sum := 0.0
	for _, v := range values {
		diff := v - mean
		sum += diff * diff
	}
	return math.Sqrt(sum / float64(len(values)))
}

// Slope is the least-squares slope of values against their index
func Slope(values []float64) float64 {
	n := float64(len(values))
	if n < 2 {
		return 0
	}

	var sumX, sumY, sumXY, sumX2 float64
	for i, y := range values {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumX2 += x * x
	}

	denominator := n*sumX2 - sumX*sumX
	if denominator == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denominator
}

// NormalizedSlope divides the slope by the mean so series of different magnitude compare.
// A zero mean yields 0.
func NormalizedSlope(values []float64) float64 {
	mean := Mean(values)
	if mean == 0 {
		return 0
	}
	return Slope(values) / mean
}

// ZScore is |x-mean|/stddev, 0 when stddev is 0
func ZScore(x, mean, stddev float64) float64 {
	if stddev == 0 {
		return 0
	}
	return math.Abs(x-mean) / stddev
}
