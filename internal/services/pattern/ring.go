package pattern

import (
	"sort"

	"GammaScalp/internal/domain/models"
)

// Ring is a fixed-capacity, index-addressed buffer of patterns kept in
// creation order. Pushing into a full ring evicts the oldest pattern
// regardless of its status.
type Ring struct {
	buf  []models.Pattern
	head int
	size int
	next uint64
}

// NewRing creates an empty ring. Capacity below 1 is raised to 1.
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{buf: make([]models.Pattern, capacity), next: 1}
}

func (r *Ring) Len() int { return r.size }

func (r *Ring) Cap() int { return len(r.buf) }

// NextSeq returns the creation sequence the next pushed pattern receives.
func (r *Ring) NextSeq() uint64 { return r.next }

// Push appends p, assigning its creation sequence. The evicted pattern, if
// any, is returned.
func (r *Ring) Push(p models.Pattern) (models.Pattern, bool) {
	p.Seq = r.next
	r.next++

	if r.size < len(r.buf) {
		r.buf[(r.head+r.size)%len(r.buf)] = p
		r.size++
		return models.Pattern{}, false
	}

	evicted := r.buf[r.head]
	r.buf[r.head] = p
	r.head = (r.head + 1) % len(r.buf)
	return evicted, true
}

// At returns a pointer to the i-th oldest pattern.
func (r *Ring) At(i int) *models.Pattern {
	if i < 0 || i >= r.size {
		return nil
	}
	return &r.buf[(r.head+i)%len(r.buf)]
}

// All returns a copy of the patterns, oldest first.
func (r *Ring) All() []models.Pattern {
	out := make([]models.Pattern, 0, r.size)
	for i := 0; i < r.size; i++ {
		out = append(out, *r.At(i))
	}
	return out
}

// Retain keeps the patterns for which keep returns true, preserving order.
// It returns the number removed.
func (r *Ring) Retain(keep func(models.Pattern) bool) int {
	kept := make([]models.Pattern, 0, r.size)
	for i := 0; i < r.size; i++ {
		if p := *r.At(i); keep(p) {
			kept = append(kept, p)
		}
	}
	removed := r.size - len(kept)
	if removed == 0 {
		return 0
	}
	r.reset(kept)
	return removed
}

// Clone returns an independent copy.
func (r *Ring) Clone() *Ring {
	c := &Ring{buf: make([]models.Pattern, len(r.buf)), next: r.next}
	c.reset(r.All())
	return c
}

// Restore replaces the contents with persisted patterns. Patterns are
// ordered by sequence and only the newest Cap() are kept.
func (r *Ring) Restore(patterns []models.Pattern) {
	sorted := append([]models.Pattern(nil), patterns...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Seq < sorted[j].Seq })
	if len(sorted) > len(r.buf) {
		sorted = sorted[len(sorted)-len(r.buf):]
	}
	r.reset(sorted)
	for _, p := range sorted {
		if p.Seq >= r.next {
			r.next = p.Seq + 1
		}
	}
}

func (r *Ring) reset(patterns []models.Pattern) {
	for i := range r.buf {
		r.buf[i] = models.Pattern{}
	}
	copy(r.buf, patterns)
	r.head = 0
	r.size = len(patterns)
}
