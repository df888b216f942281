package services_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MuteaJohn/Donation/internal/config"
	apperrors "github.com/MuteaJohn/Donation/internal/errors"
	"github.com/MuteaJohn/Donation/internal/models"
	"github.com/MuteaJohn/Donation/internal/services"
)

const (
	testShortCode = "174379"
	testPassKey   = "bfb279f9aa9bdbcf158e97dd71a467cd2e0c893059b10f78e6b72ada1ed2c919"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testMpesaConfig(baseURL string) config.MpesaConfig {
	return config.MpesaConfig{
		BaseURL:          baseURL,
		ConsumerKey:      "consumer-key",
		ConsumerSecret:   "consumer-secret",
		ShortCode:        testShortCode,
		PassKey:          testPassKey,
		CallbackURL:      "https://donate.example.com/stk-callback",
		TransactionType:  "CustomerPayBillOnline",
		AccountReference: "Donation",
		TransactionDesc:  "Donation",
		Timeout:          2 * time.Second,
	}
}

// fakeDaraja serves the token and STK push endpoints. The push handler can
// be swapped per test.
type fakeDaraja struct {
	tokenCalls atomic.Int32
	pushCalls  atomic.Int32
	tokenDelay time.Duration

	mu         sync.Mutex
	lastPush   models.STKPushRequest
	lastBearer string
	push       http.HandlerFunc
}

func newFakeDaraja(t *testing.T) (*fakeDaraja, *httptest.Server) {
	t.Helper()
	fd := &fakeDaraja{}
	fd.push = fd.acceptPush

	mux := http.NewServeMux()
	mux.HandleFunc("GET /oauth/v1/generate", func(w http.ResponseWriter, r *http.Request) {
		fd.tokenCalls.Add(1)
		if fd.tokenDelay > 0 {
			time.Sleep(fd.tokenDelay)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "consumer-key" || pass != "consumer-secret" || r.URL.Query().Get("grant_type") != "client_credentials" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"requestId":"1","errorCode":"400.008.01","errorMessage":"Invalid Authentication passed"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(models.AccessTokenResponse{
			AccessToken: fmt.Sprintf("token-%d", fd.tokenCalls.Load()),
			ExpiresIn:   "3599",
		})
	})
	mux.HandleFunc("POST /mpesa/stkpush/v1/processrequest", func(w http.ResponseWriter, r *http.Request) {
		fd.pushCalls.Add(1)
		var req models.STKPushRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		fd.mu.Lock()
		fd.lastPush = req
		fd.lastBearer = r.Header.Get("Authorization")
		handler := fd.push
		fd.mu.Unlock()
		handler(w, r)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return fd, srv
}

func (fd *fakeDaraja) setPush(h http.HandlerFunc) {
	fd.mu.Lock()
	fd.push = h
	fd.mu.Unlock()
}

func (fd *fakeDaraja) acceptPush(w http.ResponseWriter, _ *http.Request) {
	_ = json.NewEncoder(w).Encode(models.STKPushResponse{
		MerchantRequestID:   "29115-34620561-1",
		CheckoutRequestID:   "ws_CO_1",
		ResponseCode:        "0",
		ResponseDescription: "Success. Request accepted for processing",
		CustomerMessage:     "Success. Request accepted for processing",
	})
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestToken_CachedUntilExpiry(t *testing.T) {
	fd, srv := newFakeDaraja(t)
	clock := &manualClock{now: time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)}
	svc := services.NewMpesaService(testMpesaConfig(srv.URL), discardLogger(), services.WithMpesaClock(clock.Now))
	ctx := context.Background()

	first, err := svc.Token(ctx)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	second, err := svc.Token(ctx)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if first != second {
		t.Fatalf("expected cached token %q, got %q", first, second)
	}
	if n := fd.tokenCalls.Load(); n != 1 {
		t.Fatalf("expected 1 token exchange, got %d", n)
	}

	clock.Advance(time.Hour)
	if _, err := svc.Token(ctx); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if n := fd.tokenCalls.Load(); n != 2 {
		t.Fatalf("expected a fresh exchange after expiry, got %d calls", n)
	}
}

func TestToken_ConcurrentCallersShareExchange(t *testing.T) {
	fd, srv := newFakeDaraja(t)
	fd.tokenDelay = 50 * time.Millisecond
	svc := services.NewMpesaService(testMpesaConfig(srv.URL), discardLogger())

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Token(context.Background()); err != nil {
				t.Errorf("expected no error, got: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := fd.tokenCalls.Load(); n != 1 {
		t.Fatalf("expected 1 token exchange, got %d", n)
	}
}

func TestToken_RejectedCredentials(t *testing.T) {
	_, srv := newFakeDaraja(t)
	cfg := testMpesaConfig(srv.URL)
	cfg.ConsumerSecret = "wrong"
	svc := services.NewMpesaService(cfg, discardLogger())

	_, err := svc.Token(context.Background())
	if !apperrors.IsKind(err, apperrors.KindAuth) {
		t.Fatalf("expected auth error, got: %v", err)
	}
}

func TestToken_UnreachableGateway(t *testing.T) {
	_, srv := newFakeDaraja(t)
	srv.Close()
	svc := services.NewMpesaService(testMpesaConfig(srv.URL), discardLogger())

	_, err := svc.Token(context.Background())
	if !apperrors.IsKind(err, apperrors.KindAuth) {
		t.Fatalf("expected auth error, got: %v", err)
	}
}

func TestSTKPush_SendsSignedRequest(t *testing.T) {
	fd, srv := newFakeDaraja(t)
	clock := &manualClock{now: time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)}
	svc := services.NewMpesaService(testMpesaConfig(srv.URL), discardLogger(), services.WithMpesaClock(clock.Now))

	resp, err := svc.STKPush(context.Background(), "abc", models.PushRequest{PhoneNumber: "254700000000", Amount: 100})
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if resp.CheckoutRequestID != "ws_CO_1" {
		t.Fatalf("unexpected checkout request id %q", resp.CheckoutRequestID)
	}

	fd.mu.Lock()
	got, bearer := fd.lastPush, fd.lastBearer
	fd.mu.Unlock()

	if bearer != "Bearer abc" {
		t.Fatalf("unexpected authorization header %q", bearer)
	}
	// 09:00 UTC is noon in Nairobi.
	if got.Timestamp != "20260102120000" {
		t.Fatalf("unexpected timestamp %q", got.Timestamp)
	}
	if want := services.Password(testShortCode, testPassKey, got.Timestamp); got.Password != want {
		t.Fatalf("unexpected password %q, want %q", got.Password, want)
	}
	if got.Amount != 100 || got.PartyA != "254700000000" || got.PhoneNumber != "254700000000" {
		t.Fatalf("unexpected payer fields: %+v", got)
	}
	if got.PartyB != testShortCode || got.BusinessShortCode != testShortCode {
		t.Fatalf("unexpected shortcode fields: %+v", got)
	}
	if got.CallBackURL != "https://donate.example.com/stk-callback" {
		t.Fatalf("unexpected callback url %q", got.CallBackURL)
	}
}

func TestSTKPush_SurfacesGatewayErrorMessage(t *testing.T) {
	fd, srv := newFakeDaraja(t)
	fd.setPush(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"requestId":"16813-1590513-1","errorCode":"400.002.02","errorMessage":"Bad Request - Invalid PhoneNumber"}`))
	})
	svc := services.NewMpesaService(testMpesaConfig(srv.URL), discardLogger())

	_, err := svc.STKPush(context.Background(), "abc", models.PushRequest{PhoneNumber: "254700000000", Amount: 1})
	exc, ok := apperrors.As(err)
	if !ok || exc.Kind != apperrors.KindGateway {
		t.Fatalf("expected gateway error, got: %v", err)
	}
	if exc.Message != "Bad Request - Invalid PhoneNumber" {
		t.Fatalf("unexpected message %q", exc.Message)
	}
}

func TestSTKPush_NonZeroResponseCode(t *testing.T) {
	fd, srv := newFakeDaraja(t)
	fd.setPush(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"CheckoutRequestID":"ws_CO_2","ResponseCode":"1","ResponseDescription":"Rejected"}`))
	})
	svc := services.NewMpesaService(testMpesaConfig(srv.URL), discardLogger())

	_, err := svc.STKPush(context.Background(), "abc", models.PushRequest{PhoneNumber: "254700000000", Amount: 1})
	if !apperrors.IsKind(err, apperrors.KindGateway) {
		t.Fatalf("expected gateway error, got: %v", err)
	}
}

func TestSTKPush_UnauthorizedDropsCachedToken(t *testing.T) {
	fd, srv := newFakeDaraja(t)
	svc := services.NewMpesaService(testMpesaConfig(srv.URL), discardLogger())
	ctx := context.Background()

	token, err := svc.Token(ctx)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	fd.setPush(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"errorCode":"404.001.03","errorMessage":"Invalid Access Token"}`))
	})
	if _, err := svc.STKPush(ctx, token, models.PushRequest{PhoneNumber: "254700000000", Amount: 1}); err == nil {
		t.Fatal("expected an error for a rejected token")
	}

	if _, err := svc.Token(ctx); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if n := fd.tokenCalls.Load(); n != 2 {
		t.Fatalf("expected the token to be fetched again, got %d exchanges", n)
	}
}

func TestSTKPush_Timeout(t *testing.T) {
	fd, srv := newFakeDaraja(t)
	fd.setPush(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	svc := services.NewMpesaService(testMpesaConfig(srv.URL), discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := svc.STKPush(ctx, "abc", models.PushRequest{PhoneNumber: "254700000000", Amount: 1})
	if !apperrors.IsKind(err, apperrors.KindTimeout) {
		t.Fatalf("expected timeout error, got: %v", err)
	}
}

func TestMaskPhone(t *testing.T) {
	if got := services.MaskPhone("254712345678"); got != "****5678" {
		t.Fatalf("unexpected mask %q", got)
	}
	if got := services.MaskPhone("123"); got != "****" {
		t.Fatalf("unexpected mask %q", got)
	}
}
