package payment

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Store persists payment requests. Transitions are conditional: MarkPaid and
// MarkExpired only succeed on pending requests and otherwise return
// ErrNotPending together with the current request, so that concurrent
// pollers (possibly in different processes) settle a request exactly once.
// MarkConsumed likewise succeeds once per paid request; later calls return
// ErrAlreadyConsumed.
type Store interface {
	Create(ctx context.Context, r *Request) error
	Get(ctx context.Context, id string) (*Request, error)
	MarkPaid(ctx context.Context, id, signature string, paidAt time.Time) (*Request, error)
	MarkExpired(ctx context.Context, id string) (*Request, error)
	MarkConsumed(ctx context.Context, id string, at time.Time) (*Request, error)
	ListPending(ctx context.Context) ([]*Request, error)
	DeleteSettledBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// MemoryStore is an in-process Store. Requests are lost on restart.
type MemoryStore struct {
	mu          sync.RWMutex
	byID        map[string]*Request
	bySignature map[string]string // transaction signature -> request id
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:        make(map[string]*Request),
		bySignature: make(map[string]string),
	}
}

// Create inserts r. Ids must be unique.
func (s *MemoryStore) Create(_ context.Context, r *Request) error {
	if r == nil || r.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidRequest)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[r.ID]; exists {
		return fmt.Errorf("%w: duplicate id %s", ErrInvalidRequest, r.ID)
	}
	s.byID[r.ID] = r.Clone()
	return nil
}

// Get returns a copy of the request or ErrNotFound.
func (s *MemoryStore) Get(_ context.Context, id string) (*Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

// MarkPaid settles a pending request with signature.
func (s *MemoryStore) MarkPaid(_ context.Context, id, signature string, paidAt time.Time) (*Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	if r.Status != StatusPending {
		return r.Clone(), ErrNotPending
	}
	if other, used := s.bySignature[signature]; used && other != id {
		return r.Clone(), ErrSignatureClaimed
	}

	at := paidAt
	r.Status = StatusPaid
	r.TransactionSignature = signature
	r.PaidAt = &at
	s.bySignature[signature] = id
	return r.Clone(), nil
}

// MarkExpired expires a pending request.
func (s *MemoryStore) MarkExpired(_ context.Context, id string) (*Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	if r.Status != StatusPending {
		return r.Clone(), ErrNotPending
	}
	r.Status = StatusExpired
	return r.Clone(), nil
}

// MarkConsumed records that a paid request unlocked its export.
func (s *MemoryStore) MarkConsumed(_ context.Context, id string, at time.Time) (*Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	if r.Status != StatusPaid {
		return r.Clone(), ErrPaymentRequired
	}
	if r.ConsumedAt != nil {
		return r.Clone(), ErrAlreadyConsumed
	}
	r.ConsumedAt = &at
	return r.Clone(), nil
}

// ListPending returns copies of every pending request.
func (s *MemoryStore) ListPending(_ context.Context) ([]*Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Request
	for _, r := range s.byID {
		if r.Status == StatusPending {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

// DeleteSettledBefore removes non-pending requests created before cutoff.
func (s *MemoryStore) DeleteSettledBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, r := range s.byID {
		if r.Status == StatusPending || !r.CreatedAt.Before(cutoff) {
			continue
		}
		if r.TransactionSignature != "" {
			delete(s.bySignature, r.TransactionSignature)
		}
		delete(s.byID, id)
		n++
	}
	return n, nil
}

var _ Store = (*MemoryStore)(nil)
