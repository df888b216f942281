package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/MuteaJohn/Donation/internal/models"
)

var (
	ErrNotFound          = errors.New("transaction not found")
	ErrGatewayIDConflict = errors.New("checkout request id conflicts with an existing assignment")
	ErrIDCollision       = errors.New("could not allocate a unique transaction id")
	ErrInvalidStatus     = errors.New("status must be terminal")
)

// TransactionStore holds every transaction for the lifetime of the process.
// Implementations serialize all writes; reads return copies.
type TransactionStore interface {
	Create(ctx context.Context, phoneNumber string, amount decimal.Decimal) (string, error)
	AttachGatewayID(ctx context.Context, id, checkoutRequestID string, opts ...AttachOption) error
	FindByGatewayID(ctx context.Context, checkoutRequestID string) (*models.Transaction, bool)
	// SetStatus moves a pending record to a terminal status. It reports
	// false without error when the record was already terminal.
	SetStatus(ctx context.Context, id string, status models.TransactionStatus, opts ...StatusOption) (bool, error)
	Get(ctx context.Context, id string) (*models.Transaction, bool)
	Counts(ctx context.Context) map[models.TransactionStatus]int
}

// IDGenerator produces local transaction ids.
type IDGenerator interface {
	NewID() string
}

type GeneratorFunc func() string

func (f GeneratorFunc) NewID() string { return f() }

// UUIDGenerator issues random (version 4) UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) NewID() string { return uuid.NewString() }

type Option func(*memoryStore)

func WithIDGenerator(gen IDGenerator) Option {
	return func(s *memoryStore) {
		s.ids = gen
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *memoryStore) {
		s.now = now
	}
}

type AttachOption func(*models.Transaction)

func WithMerchantRequestID(id string) AttachOption {
	return func(tx *models.Transaction) {
		tx.MerchantRequestID = id
	}
}

type StatusOption func(*models.Transaction)

func WithResultDesc(desc string) StatusOption {
	return func(tx *models.Transaction) {
		tx.ResultDesc = desc
	}
}

func WithReceiptNumber(receipt string) StatusOption {
	return func(tx *models.Transaction) {
		tx.ReceiptNumber = receipt
	}
}
