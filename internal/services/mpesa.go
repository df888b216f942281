package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/MuteaJohn/Donation/internal/config"
	apperrors "github.com/MuteaJohn/Donation/internal/errors"
	"github.com/MuteaJohn/Donation/internal/models"
)

const (
	tokenPath         = "/oauth/v1/generate?grant_type=client_credentials"
	stkPushPath       = "/mpesa/stkpush/v1/processrequest"
	timestampLayout   = "20060102150405"
	tokenExpiryMargin = time.Minute
	maxGatewayBody    = 1 << 20
)

// Daraja validates STK push timestamps against East Africa Time.
var eastAfricaTime = time.FixedZone("EAT", 3*60*60)

// MpesaService talks to the Safaricom Daraja API. It is both the token
// provider and the STK push gateway used by PaymentService.
type MpesaService struct {
	cfg    config.MpesaConfig
	client *http.Client
	logger *slog.Logger
	now    func() time.Time

	group     singleflight.Group
	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

type MpesaOption func(*MpesaService)

func WithHTTPClient(client *http.Client) MpesaOption {
	return func(s *MpesaService) {
		s.client = client
	}
}

func WithMpesaClock(now func() time.Time) MpesaOption {
	return func(s *MpesaService) {
		s.now = now
	}
}

func NewMpesaService(cfg config.MpesaConfig, logger *slog.Logger, opts ...MpesaOption) *MpesaService {
	s := &MpesaService{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Token returns a bearer token, reusing the cached one until shortly before
// it expires. Concurrent callers share a single credential exchange.
func (s *MpesaService) Token(ctx context.Context) (string, error) {
	if token, ok := s.cachedToken(); ok {
		return token, nil
	}

	v, err, _ := s.group.Do("token", func() (any, error) {
		if token, ok := s.cachedToken(); ok {
			return token, nil
		}
		return s.fetchToken(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (s *MpesaService) cachedToken() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token == "" || !s.now().Before(s.expiresAt) {
		return "", false
	}
	return s.token, true
}

func (s *MpesaService) invalidateToken() {
	s.mu.Lock()
	s.token = ""
	s.expiresAt = time.Time{}
	s.mu.Unlock()
}

func (s *MpesaService) fetchToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.BaseURL+tokenPath, nil)
	if err != nil {
		return "", apperrors.Auth(apperrors.WithError(err))
	}
	req.SetBasicAuth(s.cfg.ConsumerKey, s.cfg.ConsumerSecret)

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.ErrorContext(ctx, "token request failed", slog.String("error", err.Error()))
		return "", classifyGatewayError(err, apperrors.Auth)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxGatewayBody))
	if resp.StatusCode != http.StatusOK {
		s.logger.ErrorContext(ctx, "token request rejected",
			slog.Int("status", resp.StatusCode),
			slog.String("body", string(body)),
		)
		return "", apperrors.Auth(apperrors.WithError(fmt.Errorf("status %d: %s", resp.StatusCode, gatewayDetail(body))))
	}

	var result models.AccessTokenResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", apperrors.Auth(apperrors.WithError(fmt.Errorf("decode token response: %w", err)))
	}
	if result.AccessToken == "" {
		return "", apperrors.Auth(apperrors.WithError(errors.New("token response has no access_token")))
	}

	if seconds, err := strconv.Atoi(strings.TrimSpace(result.ExpiresIn)); err == nil {
		if ttl := time.Duration(seconds)*time.Second - tokenExpiryMargin; ttl > 0 {
			s.mu.Lock()
			s.token = result.AccessToken
			s.expiresAt = s.now().Add(ttl)
			s.mu.Unlock()
		}
	}

	s.logger.DebugContext(ctx, "obtained gateway token", slog.String("expires_in", result.ExpiresIn))
	return result.AccessToken, nil
}

// STKPush asks Daraja to prompt the payer's phone. A nil error means the
// gateway accepted the request; the final result arrives on the callback.
func (s *MpesaService) STKPush(ctx context.Context, token string, push models.PushRequest) (*models.STKPushResponse, error) {
	timestamp := s.now().In(eastAfricaTime).Format(timestampLayout)

	reqBody := models.STKPushRequest{
		BusinessShortCode: s.cfg.ShortCode,
		Password:          Password(s.cfg.ShortCode, s.cfg.PassKey, timestamp),
		Timestamp:         timestamp,
		TransactionType:   s.cfg.TransactionType,
		Amount:            push.Amount,
		PartyA:            push.PhoneNumber,
		PartyB:            s.cfg.ShortCode,
		PhoneNumber:       push.PhoneNumber,
		CallBackURL:       s.cfg.CallbackURL,
		AccountReference:  s.cfg.AccountReference,
		TransactionDesc:   s.cfg.TransactionDesc,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, apperrors.Unexpected(apperrors.WithError(err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+stkPushPath, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, apperrors.Unexpected(apperrors.WithError(err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	s.logger.DebugContext(ctx, "sending stk push",
		slog.String("phone", MaskPhone(push.PhoneNumber)),
		slog.Int64("amount", push.Amount),
	)

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.ErrorContext(ctx, "stk push request failed", slog.String("error", err.Error()))
		return nil, classifyGatewayError(err, apperrors.Gateway)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxGatewayBody))
	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusUnauthorized {
			s.invalidateToken()
		}
		s.logger.ErrorContext(ctx, "stk push rejected",
			slog.Int("status", resp.StatusCode),
			slog.String("body", string(body)),
		)
		return nil, apperrors.Gateway(apperrors.WithMessage(gatewayDetail(body)))
	}

	var result models.STKPushResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, apperrors.Gateway(apperrors.WithError(fmt.Errorf("decode stk push response: %w", err)))
	}
	if result.ResponseCode != "0" {
		msg := result.ResponseDescription
		if msg == "" {
			msg = "stk push not accepted: response code " + result.ResponseCode
		}
		return nil, apperrors.Gateway(apperrors.WithMessage(msg))
	}

	return &result, nil
}

// Password is the base64 of shortcode, passkey and timestamp concatenated.
func Password(shortCode, passKey, timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(shortCode + passKey + timestamp))
}

// MaskPhone keeps only the last four digits.
func MaskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return "****" + phone[len(phone)-4:]
}

// gatewayDetail extracts Daraja's errorMessage, falling back to the raw body.
func gatewayDetail(body []byte) string {
	var gwErr models.GatewayErrorResponse
	if err := json.Unmarshal(body, &gwErr); err == nil && gwErr.ErrorMessage != "" {
		return gwErr.ErrorMessage
	}
	if detail := strings.TrimSpace(string(body)); detail != "" {
		return detail
	}
	return "empty response from payment gateway"
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// classifyGatewayError keeps an existing Exception, turns deadline expiry
// into a Timeout and wraps anything else with fallback.
func classifyGatewayError(err error, fallback func(...apperrors.UserFriendlyExceptionOption) *apperrors.Exception) *apperrors.Exception {
	if exc, ok := apperrors.As(err); ok {
		return exc
	}
	if isTimeout(err) {
		return apperrors.Timeout(apperrors.WithError(err))
	}
	return fallback(apperrors.WithError(err))
}
