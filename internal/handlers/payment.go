package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	apperrors "github.com/MuteaJohn/Donation/internal/errors"
	"github.com/MuteaJohn/Donation/internal/models"
	"github.com/MuteaJohn/Donation/internal/services"
)

const (
	maxRequestBody     = 1 << 20
	callbackAckMessage = "Callback received successfully."
)

type PaymentHandler struct {
	service *services.PaymentService
	logger  *slog.Logger
}

func NewPaymentHandler(service *services.PaymentService, logger *slog.Logger) *PaymentHandler {
	return &PaymentHandler{service: service, logger: logger}
}

func (h *PaymentHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/", h.Health).Methods(http.MethodGet, http.MethodHead)
	router.HandleFunc("/stk-push", h.InitiatePush).Methods(http.MethodPost)
	router.HandleFunc("/stk-callback", h.Callback).Methods(http.MethodPost)
	router.HandleFunc("/transaction-status/{transactionId}", h.TransactionStatus).Methods(http.MethodGet)
}

type pushRequest struct {
	Phone  string          `json:"phone"`
	Amount decimal.Decimal `json:"amount"`
}

type pushResponse struct {
	Message       string                  `json:"message"`
	TransactionID string                  `json:"transactionId"`
	Response      *models.STKPushResponse `json:"response"`
}

type statusResponse struct {
	Status models.TransactionStatus `json:"status"`
}

type errorResponse struct {
	Error         string `json:"error"`
	TransactionID string `json:"transactionId,omitempty"`
}

func (h *PaymentHandler) Health(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// InitiatePush starts an STK push for a donation. On failure after the
// record exists, the error body carries its transactionId for polling.
func (h *PaymentHandler) InitiatePush(w http.ResponseWriter, r *http.Request) {
	var body pushRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&body); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	out, err := h.service.InitiatePayment(r.Context(), services.InitiateInput{
		PhoneNumber: body.Phone,
		Amount:      body.Amount,
	})
	if err != nil {
		var txID string
		if out != nil {
			txID = out.TransactionID
		}
		h.writeError(w, err, txID)
		return
	}

	h.writeJSON(w, http.StatusOK, pushResponse{
		Message:       "STK push initiated successfully.",
		TransactionID: out.TransactionID,
		Response:      out.Response,
	})
}

// Callback is the Daraja webhook. It acknowledges every delivery so the
// gateway stops retrying, whatever the correlation outcome.
func (h *PaymentHandler) Callback(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		h.logger.WarnContext(r.Context(), "failed to read stk callback body", slog.String("error", err.Error()))
	}

	outcome := h.service.HandleCallback(r.Context(), raw)
	h.logger.DebugContext(r.Context(), "stk callback handled", slog.String("outcome", string(outcome)))

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(callbackAckMessage))
}

func (h *PaymentHandler) TransactionStatus(w http.ResponseWriter, r *http.Request) {
	tx, err := h.service.TransactionStatus(r.Context(), mux.Vars(r)["transactionId"])
	if err != nil {
		h.writeError(w, err, "")
		return
	}
	h.writeJSON(w, http.StatusOK, statusResponse{Status: tx.Status})
}

func (h *PaymentHandler) writeError(w http.ResponseWriter, err error, transactionID string) {
	exc, ok := apperrors.As(err)
	if !ok {
		exc = apperrors.Unexpected(apperrors.WithError(err))
	}
	if exc.Code >= http.StatusInternalServerError {
		h.logger.Error("request failed", slog.String("error", exc.Error()), slog.String("transaction_id", transactionID))
	}
	h.writeJSON(w, exc.Code, errorResponse{Error: exc.Message, TransactionID: transactionID})
}

func (h *PaymentHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", slog.String("error", err.Error()))
	}
}
