package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	apperrors "github.com/MuteaJohn/Donation/internal/errors"
	"github.com/MuteaJohn/Donation/internal/metrics"
	"github.com/MuteaJohn/Donation/internal/models"
	"github.com/MuteaJohn/Donation/internal/store"
)

const (
	defaultGatewayTimeout = 10 * time.Second
	defaultSinkTimeout    = 2 * time.Second
)

type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

type PushGateway interface {
	STKPush(ctx context.Context, token string, push models.PushRequest) (*models.STKPushResponse, error)
}

// CallbackJournal keeps an audit copy of every inbound callback.
type CallbackJournal interface {
	Record(ctx context.Context, entry models.CallbackLog) error
}

// EventPublisher announces transactions that reached a terminal status.
type EventPublisher interface {
	Publish(ctx context.Context, event models.TransactionEvent) error
}

type nopJournal struct{}

func (nopJournal) Record(context.Context, models.CallbackLog) error { return nil }

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, models.TransactionEvent) error { return nil }

// PaymentService correlates STK push initiations with their asynchronous
// callbacks. The store is the only shared mutable state.
type PaymentService struct {
	transactions store.TransactionStore
	tokens       TokenProvider
	gateway      PushGateway
	journal      CallbackJournal
	events       EventPublisher
	logger       *slog.Logger
	timeout      time.Duration
	sinkTimeout  time.Duration
	now          func() time.Time
}

type PaymentOption func(*PaymentService)

func WithCallbackJournal(journal CallbackJournal) PaymentOption {
	return func(s *PaymentService) {
		if journal != nil {
			s.journal = journal
		}
	}
}

func WithEventPublisher(events EventPublisher) PaymentOption {
	return func(s *PaymentService) {
		if events != nil {
			s.events = events
		}
	}
}

func WithGatewayTimeout(d time.Duration) PaymentOption {
	return func(s *PaymentService) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithSinkTimeout bounds the journal write and event publish together, so
// slow sinks cannot delay a callback acknowledgement past d.
func WithSinkTimeout(d time.Duration) PaymentOption {
	return func(s *PaymentService) {
		if d > 0 {
			s.sinkTimeout = d
		}
	}
}

func NewPaymentService(transactions store.TransactionStore, tokens TokenProvider, gateway PushGateway, logger *slog.Logger, opts ...PaymentOption) *PaymentService {
	s := &PaymentService{
		transactions: transactions,
		tokens:       tokens,
		gateway:      gateway,
		journal:      nopJournal{},
		events:       nopPublisher{},
		logger:       logger,
		timeout:      defaultGatewayTimeout,
		sinkTimeout:  defaultSinkTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type InitiateInput struct {
	PhoneNumber string
	Amount      decimal.Decimal
}

type InitiateOutput struct {
	TransactionID string
	Response      *models.STKPushResponse
}

// InitiatePayment creates a pending record, then asks the gateway to push a
// payment prompt to the payer. Once a record exists every failure marks it
// failed, and the returned output still carries its id alongside the error.
func (s *PaymentService) InitiatePayment(ctx context.Context, in InitiateInput) (*InitiateOutput, error) {
	phone, err := models.ValidateDonation(in.PhoneNumber, in.Amount)
	if err != nil {
		metrics.InitiationsTotal.WithLabelValues("validation_error").Inc()
		return nil, apperrors.Validation(apperrors.WithMessage(err.Error()), apperrors.WithError(err))
	}

	// A client hanging up must not leave a record pending forever.
	ctx = context.WithoutCancel(ctx)

	id, err := s.transactions.Create(ctx, phone, in.Amount)
	if err != nil {
		metrics.InitiationsTotal.WithLabelValues("internal_error").Inc()
		s.logger.ErrorContext(ctx, "failed to create transaction", slog.String("error", err.Error()))
		return nil, apperrors.Unexpected(apperrors.WithError(err))
	}
	out := &InitiateOutput{TransactionID: id}
	logger := s.logger.With(slog.String("transaction_id", id))

	tokenCtx, cancel := context.WithTimeout(ctx, s.timeout)
	token, err := s.tokens.Token(tokenCtx)
	cancel()
	if err != nil {
		return out, s.failInitiation(ctx, id, classifyGatewayError(err, apperrors.Auth))
	}

	pushCtx, cancel := context.WithTimeout(ctx, s.timeout)
	resp, err := s.gateway.STKPush(pushCtx, token, models.PushRequest{
		PhoneNumber: phone,
		Amount:      in.Amount.IntPart(),
	})
	cancel()
	if err != nil {
		return out, s.failInitiation(ctx, id, classifyGatewayError(err, apperrors.Gateway))
	}
	if resp.CheckoutRequestID == "" {
		return out, s.failInitiation(ctx, id, apperrors.Gateway(apperrors.WithMessage("payment gateway returned no CheckoutRequestID")))
	}

	// Visible to FindByGatewayID before the client hears about success.
	if err := s.transactions.AttachGatewayID(ctx, id, resp.CheckoutRequestID, store.WithMerchantRequestID(resp.MerchantRequestID)); err != nil {
		return out, s.failInitiation(ctx, id, apperrors.Unexpected(apperrors.WithError(err)))
	}

	metrics.InitiationsTotal.WithLabelValues("initiated").Inc()
	logger.InfoContext(ctx, "stk push initiated",
		slog.String("checkout_request_id", resp.CheckoutRequestID),
		slog.String("phone", MaskPhone(phone)),
		slog.String("amount", in.Amount.String()),
	)

	out.Response = resp
	return out, nil
}

func (s *PaymentService) failInitiation(ctx context.Context, id string, exc *apperrors.Exception) error {
	metrics.InitiationsTotal.WithLabelValues(initiationOutcome(exc.Kind)).Inc()
	s.logger.ErrorContext(ctx, "stk push initiation failed",
		slog.String("transaction_id", id),
		slog.String("kind", string(exc.Kind)),
		slog.String("error", exc.Error()),
	)

	applied, err := s.transactions.SetStatus(ctx, id, models.StatusFailed, store.WithResultDesc(exc.Message))
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to mark transaction failed",
			slog.String("transaction_id", id),
			slog.String("error", err.Error()),
		)
	}
	if applied {
		sinkCtx, cancel := context.WithTimeout(ctx, s.sinkTimeout)
		s.publishFinalized(sinkCtx, id)
		cancel()
	}
	return exc
}

func initiationOutcome(kind apperrors.Kind) string {
	switch kind {
	case apperrors.KindAuth:
		return "auth_error"
	case apperrors.KindGateway:
		return "gateway_error"
	case apperrors.KindTimeout:
		return "timeout"
	default:
		return "internal_error"
	}
}

// HandleCallback applies a gateway result to the matching transaction. It
// never fails: anything that cannot be reconciled is logged, journaled and
// reported through the returned outcome only.
func (s *PaymentService) HandleCallback(ctx context.Context, raw []byte) models.CallbackOutcome {
	ctx = context.WithoutCancel(ctx)
	// One deadline covers both sinks; the store work before them is in-memory.
	ctx, cancel := context.WithTimeout(ctx, s.sinkTimeout)
	defer cancel()

	entry := models.CallbackLog{
		Payload:    string(raw),
		ReceivedAt: s.now().UTC(),
	}

	cb, err := models.ParseSTKCallback(raw)
	if err != nil {
		s.logger.WarnContext(ctx, "discarding malformed stk callback", slog.String("error", err.Error()))
		return s.finishCallback(ctx, entry, models.CallbackMalformed)
	}

	code, _ := cb.Code()
	entry.CheckoutRequestID = cb.CheckoutRequestID
	entry.MerchantRequestID = cb.MerchantRequestID
	entry.ResultCode = &code
	entry.ResultDesc = cb.ResultDesc

	logger := s.logger.With(
		slog.String("checkout_request_id", cb.CheckoutRequestID),
		slog.Int64("result_code", code),
	)

	tx, ok := s.transactions.FindByGatewayID(ctx, cb.CheckoutRequestID)
	if !ok {
		logger.WarnContext(ctx, "no transaction matches stk callback")
		return s.finishCallback(ctx, entry, models.CallbackUnmatched)
	}
	entry.TransactionID = tx.ID
	logger = logger.With(slog.String("transaction_id", tx.ID))

	status := models.StatusFailed
	if cb.Succeeded() {
		status = models.StatusSuccess
	}

	applied, err := s.transactions.SetStatus(ctx, tx.ID, status,
		store.WithResultDesc(cb.ResultDesc),
		store.WithReceiptNumber(cb.ReceiptNumber()),
	)
	switch {
	case err != nil:
		logger.ErrorContext(ctx, "failed to apply stk callback", slog.String("error", err.Error()))
		return s.finishCallback(ctx, entry, models.CallbackError)
	case !applied:
		logger.InfoContext(ctx, "ignoring callback for finalized transaction", slog.String("status", string(tx.Status)))
		return s.finishCallback(ctx, entry, models.CallbackDuplicate)
	}

	logger.InfoContext(ctx, "transaction finalized", slog.String("status", string(status)))
	s.publishFinalized(ctx, tx.ID)
	return s.finishCallback(ctx, entry, models.CallbackApplied)
}

func (s *PaymentService) finishCallback(ctx context.Context, entry models.CallbackLog, outcome models.CallbackOutcome) models.CallbackOutcome {
	entry.Outcome = outcome
	metrics.CallbacksTotal.WithLabelValues(string(outcome)).Inc()

	if err := s.journal.Record(ctx, entry); err != nil {
		s.logger.WarnContext(ctx, "failed to journal stk callback",
			slog.String("checkout_request_id", entry.CheckoutRequestID),
			slog.String("error", err.Error()),
		)
	}
	return outcome
}

func (s *PaymentService) publishFinalized(ctx context.Context, id string) {
	tx, ok := s.transactions.Get(ctx, id)
	if !ok {
		return
	}

	if err := s.events.Publish(ctx, models.NewFinalizedEvent(*tx)); err != nil {
		s.logger.WarnContext(ctx, "failed to publish transaction event",
			slog.String("transaction_id", id),
			slog.String("error", err.Error()),
		)
	}
}

// TransactionStatus returns the current record for a local transaction id.
func (s *PaymentService) TransactionStatus(ctx context.Context, id string) (*models.Transaction, error) {
	tx, ok := s.transactions.Get(ctx, id)
	if id == "" || !ok {
		return nil, apperrors.NotFound(apperrors.WithMessage("transaction not found"), apperrors.WithError(store.ErrNotFound))
	}
	return tx, nil
}
