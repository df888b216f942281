package models

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type TransactionStatus string

const (
	StatusPending TransactionStatus = "pending"
	StatusSuccess TransactionStatus = "success"
	StatusFailed  TransactionStatus = "failed"
)

// Terminal reports whether no further status change is allowed.
func (s TransactionStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Transaction is one donation from creation until its final result.
// ID, PhoneNumber and Amount never change once the record exists.
type Transaction struct {
	ID                string            `json:"id"`
	PhoneNumber       string            `json:"phone"`
	Amount            decimal.Decimal   `json:"amount"`
	CheckoutRequestID string            `json:"checkoutRequestId,omitempty"` // set once, after the gateway acks
	MerchantRequestID string            `json:"merchantRequestId,omitempty"`
	Status            TransactionStatus `json:"status"`
	ResultDesc        string            `json:"resultDesc,omitempty"`
	ReceiptNumber     string            `json:"receiptNumber,omitempty"`
	CreatedAt         time.Time         `json:"createdAt"`
	UpdatedAt         time.Time         `json:"updatedAt"`
}

// TransactionEvent is published whenever a transaction reaches a terminal status.
type TransactionEvent struct {
	Type              string            `json:"type"`
	TransactionID     string            `json:"transactionId"`
	CheckoutRequestID string            `json:"checkoutRequestId,omitempty"`
	Status            TransactionStatus `json:"status"`
	Amount            decimal.Decimal   `json:"amount"`
	ResultDesc        string            `json:"resultDesc,omitempty"`
	ReceiptNumber     string            `json:"receiptNumber,omitempty"`
	OccurredAt        time.Time         `json:"occurredAt"`
}

const EventTransactionFinalized = "transaction.finalized"

func NewFinalizedEvent(tx Transaction) TransactionEvent {
	return TransactionEvent{
		Type:              EventTransactionFinalized,
		TransactionID:     tx.ID,
		CheckoutRequestID: tx.CheckoutRequestID,
		Status:            tx.Status,
		Amount:            tx.Amount,
		ResultDesc:        tx.ResultDesc,
		ReceiptNumber:     tx.ReceiptNumber,
		OccurredAt:        tx.UpdatedAt,
	}
}

var (
	ErrPhoneRequired        = errors.New("phone is required")
	ErrInvalidPhone         = errors.New("phone must be a Kenyan mobile number in the form 254XXXXXXXXX")
	ErrAmountMustBePositive = errors.New("amount must be greater than zero")
	ErrAmountNotWhole       = errors.New("amount must be a whole number")
	ErrAmountTooLarge       = errors.New("amount exceeds the M-Pesa per-transaction limit of 250000")
)

// MaxDonationAmount is the M-Pesa per-transaction ceiling in shillings.
var MaxDonationAmount = decimal.NewFromInt(250_000)

var phonePattern = regexp.MustCompile(`^254\d{9}$`)

// ValidateDonation checks a donation request and returns the phone number
// normalized to the 254XXXXXXXXX form Daraja expects.
func ValidateDonation(phone string, amount decimal.Decimal) (string, error) {
	normalized, err := NormalizePhone(phone)
	if err != nil {
		return "", err
	}
	if !amount.IsPositive() {
		return "", ErrAmountMustBePositive
	}
	if !amount.Equal(amount.Truncate(0)) {
		return "", ErrAmountNotWhole
	}
	if amount.GreaterThan(MaxDonationAmount) {
		return "", ErrAmountTooLarge
	}
	return normalized, nil
}

func NormalizePhone(phone string) (string, error) {
	p := strings.NewReplacer(" ", "", "-", "").Replace(strings.TrimSpace(phone))
	if p == "" {
		return "", ErrPhoneRequired
	}
	p = strings.TrimPrefix(p, "+")
	if strings.HasPrefix(p, "0") && len(p) == 10 {
		p = "254" + p[1:]
	}
	if !phonePattern.MatchString(p) {
		return "", ErrInvalidPhone
	}
	return p, nil
}
