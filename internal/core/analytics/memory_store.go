package analytics

import (
	"context"
	"sync"
	"time"
)

// MemoryRollupStore keeps rollups in process memory. It backs the engine when no
// database is configured.
type MemoryRollupStore struct {
	mu      sync.RWMutex
	records map[string][]Record
}

// NewMemoryRollupStore creates an empty in-memory rollup store
func NewMemoryRollupStore() *MemoryRollupStore {
	return &MemoryRollupStore{records: make(map[string][]Record)}
}

func rollupKey(metric, window string) string {
	return metric + "|" + window
}

// Append adds records to their (metric, window) logs
func (s *MemoryRollupStore) Append(ctx context.Context, records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		key := rollupKey(r.Metric, r.Window)
		s.records[key] = append(s.records[key], r)
	}
	return nil
}

// Prune removes records older than cutoff
func (s *MemoryRollupStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for key, records := range s.records {
		kept := records[:0]
		for _, r := range records {
			if r.Timestamp.Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, r)
		}
		if len(kept) == 0 {
			delete(s.records, key)
			continue
		}
		s.records[key] = kept
	}
	return removed, nil
}

// Query returns records of a metric and window at or after since, oldest first
func (s *MemoryRollupStore) Query(ctx context.Context, metric, window string, since time.Time) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Record
	for _, r := range s.records[rollupKey(metric, window)] {
		if !r.Timestamp.Before(since) {
			out = append(out, r)
		}
	}
	return out, nil
}
