// Package memory implements vector.Store in process memory, for tests and
// for running without Weaviate.
package memory

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/sitesage/sitesage/internal/vector"
)

// Store is an in-memory vector.Store using cosine similarity.
type Store struct {
	mu         sync.RWMutex
	namespaces map[string]map[string]vector.Record
}

// New creates an empty Store.
func New() *Store {
	return &Store{namespaces: make(map[string]map[string]vector.Record)}
}

// Upsert inserts or replaces records by ID.
func (s *Store) Upsert(_ context.Context, namespace string, records []vector.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns, ok := s.namespaces[namespace]
	if !ok {
		ns = make(map[string]vector.Record)
		s.namespaces[namespace] = ns
	}
	for _, rec := range records {
		ns[rec.ID] = rec
	}
	return nil
}

// Query returns up to k records ranked by cosine similarity, breaking score
// ties toward the later fragment on the page.
func (s *Store) Query(_ context.Context, namespace string, vec []float32, k int) ([]vector.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ns := s.namespaces[namespace]
	matches := make([]vector.Match, 0, len(ns))
	for _, rec := range ns {
		matches = append(matches, vector.Match{
			Record: rec,
			Score:  cosine(vec, rec.Vector),
		})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Ordinal > matches[j].Ordinal
	})
	if k > 0 && len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// Count reports the number of records in a namespace.
func (s *Store) Count(_ context.Context, namespace string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.namespaces[namespace]), nil
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
