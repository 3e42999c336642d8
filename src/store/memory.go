package store

import (
	"context"
	"sync"
)

// MemoryJournal is an in-memory implementation of Journal.
// Useful for testing and local mode. When capacity is positive only the
// newest capacity deliveries are kept.
type MemoryJournal struct {
	mu         sync.RWMutex
	deliveries []Delivery
	capacity   int
	nextID     int64
}

// NewMemoryJournal creates a new in-memory journal.
func NewMemoryJournal(capacity int) *MemoryJournal {
	return &MemoryJournal{capacity: capacity}
}

// Append records one delivery and assigns its ID.
func (j *MemoryJournal) Append(ctx context.Context, d Delivery) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	j.nextID++
	d.ID = j.nextID
	j.deliveries = append(j.deliveries, d)

	if j.capacity > 0 && len(j.deliveries) > j.capacity {
		// Copy so the dropped prefix can be collected.
		kept := make([]Delivery, j.capacity)
		copy(kept, j.deliveries[len(j.deliveries)-j.capacity:])
		j.deliveries = kept
	}
	return nil
}

// Recent returns up to limit deliveries for topic, newest first.
func (j *MemoryJournal) Recent(ctx context.Context, topic string, limit int) ([]Delivery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit = normalizeLimit(limit)

	j.mu.RLock()
	defer j.mu.RUnlock()

	result := []Delivery{}
	for i := len(j.deliveries) - 1; i >= 0 && len(result) < limit; i-- {
		d := j.deliveries[i]
		if topic != "" && d.Topic != topic {
			continue
		}
		result = append(result, d)
	}
	return result, nil
}

// Len returns how many deliveries are held.
func (j *MemoryJournal) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.deliveries)
}

// Close closes the journal (no-op for memory journal).
func (j *MemoryJournal) Close() error {
	return nil
}
