package models_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/MuteaJohn/Donation/internal/models"
)

func TestValidateDonation(t *testing.T) {
	cases := []struct {
		name    string
		phone   string
		amount  decimal.Decimal
		want    string
		wantErr error
	}{
		{"canonical", "254700000000", decimal.NewFromInt(100), "254700000000", nil},
		{"plus prefix", "+254712345678", decimal.NewFromInt(1), "254712345678", nil},
		{"local format", "0712 345 678", decimal.NewFromInt(50), "254712345678", nil},
		{"whole decimal", "254700000000", decimal.RequireFromString("10.00"), "254700000000", nil},
		{"missing phone", "  ", decimal.NewFromInt(1), "", models.ErrPhoneRequired},
		{"letters", "2547abc00000", decimal.NewFromInt(1), "", models.ErrInvalidPhone},
		{"too short", "25470000", decimal.NewFromInt(1), "", models.ErrInvalidPhone},
		{"zero amount", "254700000000", decimal.Zero, "", models.ErrAmountMustBePositive},
		{"negative amount", "254700000000", decimal.NewFromInt(-5), "", models.ErrAmountMustBePositive},
		{"fractional amount", "254700000000", decimal.RequireFromString("10.5"), "", models.ErrAmountNotWhole},
		{"at limit", "254700000000", decimal.NewFromInt(250000), "254700000000", nil},
		{"over limit", "254700000000", decimal.NewFromInt(250001), "", models.ErrAmountTooLarge},
		{"beyond int64", "254700000000", decimal.RequireFromString("10000000000000000000"), "", models.ErrAmountTooLarge},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := models.ValidateDonation(tc.phone, tc.amount)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("expected no error, got: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestNewFinalizedEvent(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ev := models.NewFinalizedEvent(models.Transaction{
		ID:                "tx-1",
		CheckoutRequestID: "ws_CO_1",
		Status:            models.StatusSuccess,
		Amount:            decimal.NewFromInt(100),
		ReceiptNumber:     "NLJ7RT61SV",
		UpdatedAt:         at,
	})

	if ev.Type != models.EventTransactionFinalized {
		t.Fatalf("unexpected event type %q", ev.Type)
	}
	if ev.TransactionID != "tx-1" || ev.Status != models.StatusSuccess || !ev.OccurredAt.Equal(at) {
		t.Fatalf("unexpected event %+v", ev)
	}
}
