// Package vectorindex is an in-process semantic index over unit vectors.
//
// Vectors are L2-normalised on insert, so the dot product of two stored vectors is
// their cosine similarity. The index is guarded by one coarse mutex; Search copies a
// snapshot under the lock and scores it outside, so a slow search never blocks writers.
// Nothing is persisted: callers rebuild the index from the relational store at startup.
package vectorindex

import (
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"sync"
)

// ErrDimensionMismatch is returned when a vector does not match the index dimension.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Result is a single search hit. Score is the cosine similarity, within (0, 1].
type Result struct {
	ID      string         `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

type entry struct {
	vector  []float32
	payload map[string]any
}

// Index is a thread-safe in-memory vector index.
type Index struct {
	mu      sync.Mutex
	dim     int
	entries map[string]entry
}

// New creates an empty index. A positive dim enforces that every vector has exactly
// dim components; dim <= 0 accepts any length.
func New(dim int) *Index {
	return &Index{
		dim:     dim,
		entries: make(map[string]entry),
	}
}

// Dimension returns the enforced vector dimension (0 when unchecked).
func (x *Index) Dimension() int {
	return x.dim
}

// Upsert stores or replaces the vector and payload for id.
// A zero vector is stored as-is and never matches a query.
func (x *Index) Upsert(id string, vec []float32, payload map[string]any) error {
	if id == "" {
		return fmt.Errorf("vector id cannot be empty")
	}
	if err := x.checkDimension(vec); err != nil {
		return err
	}

	e := entry{
		vector:  normalize(vec),
		payload: clonePayload(payload),
	}

	x.mu.Lock()
	x.entries[id] = e
	x.mu.Unlock()

	log.Printf("[VectorIndex] Upserted id=%s dim=%d type=%v", shortID(id), len(vec), e.payload["_type"])
	return nil
}

// Search returns up to limit entries ordered by descending similarity to vec.
// Entries scoring <= 0 are dropped, so fewer than limit results may be returned.
func (x *Index) Search(vec []float32, limit int) ([]Result, error) {
	if limit <= 0 {
		return []Result{}, nil
	}
	if err := x.checkDimension(vec); err != nil {
		return nil, err
	}
	query := normalize(vec)

	x.mu.Lock()
	ids := make([]string, 0, len(x.entries))
	vectors := make([][]float32, 0, len(x.entries))
	payloads := make([]map[string]any, 0, len(x.entries))
	for id, e := range x.entries {
		ids = append(ids, id)
		vectors = append(vectors, e.vector)
		payloads = append(payloads, e.payload)
	}
	x.mu.Unlock()

	// Stored vectors and payload maps are never mutated after insert, so the
	// snapshot can be read without the lock.
	scored := make([]Result, len(ids))
	for i := range ids {
		scored[i] = Result{ID: ids[i], Score: dot(query, vectors[i])}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score == scored[j].Score {
			return scored[i].ID < scored[j].ID
		}
		return scored[i].Score > scored[j].Score
	})

	if len(scored) > limit {
		scored = scored[:limit]
	}

	payloadByID := make(map[string]map[string]any, len(ids))
	for i, id := range ids {
		payloadByID[id] = payloads[i]
	}

	results := make([]Result, 0, len(scored))
	for _, r := range scored {
		if r.Score <= 0 {
			continue
		}
		if r.Score > 1 {
			r.Score = 1
		}
		r.Payload = clonePayload(payloadByID[r.ID])
		results = append(results, r)
	}

	return results, nil
}

// Get returns a copy of the payload stored for id.
func (x *Index) Get(id string) (map[string]any, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()

	e, ok := x.entries[id]
	if !ok {
		return nil, false
	}
	return clonePayload(e.payload), true
}

// Delete removes id from the index. Deleting an unknown id is a no-op.
func (x *Index) Delete(id string) {
	x.mu.Lock()
	delete(x.entries, id)
	x.mu.Unlock()
}

// Len returns the number of stored entries.
func (x *Index) Len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.entries)
}

func (x *Index) checkDimension(vec []float32) error {
	if x.dim > 0 && len(vec) != x.dim {
		return fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, x.dim, len(vec))
	}
	return nil
}

func normalize(vec []float32) []float32 {
	out := make([]float32, len(vec))
	copy(out, vec)

	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return out
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / norm)
	}
	return out
}

func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// clonePayload copies the top level of a payload map. Nested values are shared.
func clonePayload(p map[string]any) map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
