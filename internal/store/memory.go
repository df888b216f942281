package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/MuteaJohn/Donation/internal/models"
)

const maxIDAttempts = 5

type memoryStore struct {
	mu        sync.RWMutex
	records   map[string]*models.Transaction
	byGateway map[string]string // checkout request id -> local id
	ids       IDGenerator
	now       func() time.Time
}

func NewMemoryStore(opts ...Option) TransactionStore {
	s := &memoryStore{
		records:   make(map[string]*models.Transaction),
		byGateway: make(map[string]string),
		ids:       UUIDGenerator{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *memoryStore) Create(_ context.Context, phoneNumber string, amount decimal.Decimal) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for range maxIDAttempts {
		id := s.ids.NewID()
		if id == "" {
			continue
		}
		if _, taken := s.records[id]; taken {
			continue
		}

		now := s.now().UTC()
		s.records[id] = &models.Transaction{
			ID:          id,
			PhoneNumber: phoneNumber,
			Amount:      amount,
			Status:      models.StatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		return id, nil
	}

	return "", ErrIDCollision
}

func (s *memoryStore) AttachGatewayID(_ context.Context, id, checkoutRequestID string, opts ...AttachOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}

	if tx.CheckoutRequestID != "" {
		if tx.CheckoutRequestID == checkoutRequestID {
			return nil
		}
		return fmt.Errorf("%w: transaction %s already tracks %s", ErrGatewayIDConflict, id, tx.CheckoutRequestID)
	}
	if owner, taken := s.byGateway[checkoutRequestID]; taken {
		return fmt.Errorf("%w: %s is owned by transaction %s", ErrGatewayIDConflict, checkoutRequestID, owner)
	}

	tx.CheckoutRequestID = checkoutRequestID
	for _, opt := range opts {
		opt(tx)
	}
	tx.UpdatedAt = s.now().UTC()
	s.byGateway[checkoutRequestID] = id

	return nil
}

func (s *memoryStore) FindByGatewayID(_ context.Context, checkoutRequestID string) (*models.Transaction, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byGateway[checkoutRequestID]
	if !ok {
		return nil, false
	}
	return s.snapshot(id)
}

func (s *memoryStore) SetStatus(_ context.Context, id string, status models.TransactionStatus, opts ...StatusOption) (bool, error) {
	if !status.Terminal() {
		return false, ErrInvalidStatus
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.records[id]
	if !ok {
		return false, ErrNotFound
	}
	if tx.Status.Terminal() {
		return false, nil
	}

	tx.Status = status
	for _, opt := range opts {
		opt(tx)
	}
	tx.UpdatedAt = s.now().UTC()

	return true, nil
}

func (s *memoryStore) Get(_ context.Context, id string) (*models.Transaction, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.snapshot(id)
}

func (s *memoryStore) Counts(_ context.Context) map[models.TransactionStatus]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := map[models.TransactionStatus]int{
		models.StatusPending: 0,
		models.StatusSuccess: 0,
		models.StatusFailed:  0,
	}
	for _, tx := range s.records {
		counts[tx.Status]++
	}
	return counts
}

// snapshot must be called with mu held.
func (s *memoryStore) snapshot(id string) (*models.Transaction, bool) {
	tx, ok := s.records[id]
	if !ok {
		return nil, false
	}
	cp := *tx
	return &cp, true
}
