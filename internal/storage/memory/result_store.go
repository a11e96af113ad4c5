package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/JakeFAU/payparse/internal/payment"
)

// ResultStore records parse outcomes in insertion order.
type ResultStore struct {
	mu      sync.RWMutex
	records []payment.ResultRecord
	ids     map[string]struct{}
}

// NewResultStore constructs a ResultStore.
func NewResultStore() *ResultStore {
	return &ResultStore{ids: make(map[string]struct{})}
}

// StoreResult appends record. IDs must be unique when set.
func (s *ResultStore) StoreResult(_ context.Context, record payment.ResultRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record.ID != "" {
		if _, exists := s.ids[record.ID]; exists {
			return errors.New("record already exists")
		}
		s.ids[record.ID] = struct{}{}
	}
	s.records = append(s.records, record)
	return nil
}

// Records returns a copy of the stored records.
func (s *ResultStore) Records() []payment.ResultRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]payment.ResultRecord(nil), s.records...)
}
