package metrics

import (
	"time"
)

// Sample is a single observation of a named metric. Samples are immutable once stored.
type Sample struct {
	// Seq is assigned by the store and identifies the sample within this process
	Seq                uint64        `json:"-"`
	Name               string        `json:"name"`
	Value              Value         `json:"value"`
	Timestamp          time.Time     `json:"timestamp"`
	CollectionDuration time.Duration `json:"collection_duration"`
}

// SampleListener is called synchronously for every stored sample
type SampleListener func(Sample)

// Scalars extracts one number per sample using the given field selector
func Scalars(samples []Sample, valueKey string) []float64 {
	values := make([]float64, len(samples))
	for i, s := range samples {
		values[i] = s.Value.Extract(valueKey)
	}
	return values
}
