package models

import "time"

type CallbackOutcome string

const (
	CallbackApplied   CallbackOutcome = "applied"
	CallbackDuplicate CallbackOutcome = "duplicate"
	CallbackUnmatched CallbackOutcome = "unmatched"
	CallbackMalformed CallbackOutcome = "malformed"
	CallbackError     CallbackOutcome = "error"
)

// CallbackLog is the audit entry kept for every inbound STK callback,
// whether or not it could be reconciled.
type CallbackLog struct {
	CheckoutRequestID string          `bson:"checkout_request_id,omitempty" json:"checkoutRequestId,omitempty"`
	MerchantRequestID string          `bson:"merchant_request_id,omitempty" json:"merchantRequestId,omitempty"`
	TransactionID     string          `bson:"transaction_id,omitempty" json:"transactionId,omitempty"`
	ResultCode        *int64          `bson:"result_code,omitempty" json:"resultCode,omitempty"`
	ResultDesc        string          `bson:"result_desc,omitempty" json:"resultDesc,omitempty"`
	Outcome           CallbackOutcome `bson:"outcome" json:"outcome"`
	Payload           string          `bson:"payload" json:"payload"`
	ReceivedAt        time.Time       `bson:"received_at" json:"receivedAt"`
}
