package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moneygo/internal/config"
	"moneygo/internal/credential"
	"moneygo/internal/domain"
	"moneygo/internal/handler"
	"moneygo/internal/scheduler"
)

const testSecret = "router-test-secret"

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *handler.Error  `json:"error"`
}

func testConfig() *config.Config {
	return &config.Config{
		StoreDriver:               config.StoreDriverMemory,
		JWTSecret:                 testSecret,
		SchedulerInterval:         time.Minute,
		SchedulerBatchSize:        10,
		SchedulerExecutionTimeout: time.Second,
		QrTTL:                     10 * time.Minute,
		LockTimeout:               time.Second,
		LockRetryAttempts:         3,
		LockRetryBackoff:          time.Millisecond,
		DailyLimit:                decimal.NewFromInt(3_000_000),
		PerTransactionLimit:       decimal.NewFromInt(1_000_000),
		LargeAmountThreshold:      decimal.NewFromInt(1_000_000),
		BusinessTimezone:          "UTC",
		MaxAuthFailures:           5,
		WebhookTimeout:            time.Second,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testClient struct {
	t      *testing.T
	router *mux.Router
	auth   *handler.Authenticator
}

func newTestClient(t *testing.T) *testClient {
	t.Helper()

	srv, err := NewServer(testConfig(), discardLogger())
	require.NoError(t, err)

	return &testClient{t: t, router: srv.GetRouter(), auth: handler.NewAuthenticator(testSecret)}
}

func (c *testClient) token(userID int64, role string) string {
	token, err := c.auth.Sign(userID, role, time.Hour)
	require.NoError(c.t, err)
	return token
}

func (c *testClient) do(method, path, token string, body interface{}, headers ...string) (int, envelope) {
	c.t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(c.t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	rec := httptest.NewRecorder()
	c.router.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 && rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(c.t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec.Code, env
}

// open creates an account for userID and funds it through the admin route.
func (c *testClient) open(userID int64, balance string) handler.AccountResponse {
	c.t.Helper()

	status, env := c.do(http.MethodPost, "/accounts", c.token(userID, handler.RoleUser), map[string]string{"secret": "1234"})
	require.Equal(c.t, http.StatusCreated, status)

	var account handler.AccountResponse
	require.NoError(c.t, json.Unmarshal(env.Data, &account))

	if balance != "0" {
		path := "/admin/accounts/" + strconv.FormatInt(account.AccountID, 10) + "/deposit"
		status, _ = c.do(http.MethodPost, path, c.token(1, handler.RoleAdmin), map[string]string{"amount": balance})
		require.Equal(c.t, http.StatusCreated, status)
	}
	return account
}

func TestHealthAndMetricsArePublic(t *testing.T) {
	client := newTestClient(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	client.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec = httptest.NewRecorder()
	client.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthentication(t *testing.T) {
	client := newTestClient(t)

	forged, err := handler.NewAuthenticator("other-secret").Sign(7, handler.RoleUser, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		path   string
		token  string
		status int
		code   string
	}{
		{"missing token", "/accounts/me", "", http.StatusUnauthorized, "unauthorized"},
		{"forged token", "/accounts/me", forged, http.StatusUnauthorized, "unauthorized"},
		{"user on admin route", "/admin/accounts/1", client.token(7, handler.RoleUser), http.StatusForbidden, "forbidden"},
		{"no account yet", "/accounts/me", client.token(7, handler.RoleUser), http.StatusNotFound, "not_found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, env := client.do(http.MethodGet, tt.path, tt.token, nil)
			assert.Equal(t, tt.status, status)
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.code, env.Error.Code)
		})
	}
}

func TestTransferOverHTTP(t *testing.T) {
	client := newTestClient(t)
	client.open(10, "1000")
	bob := client.open(20, "0")

	body := map[string]string{
		"to_account_number": bob.AccountNumber,
		"amount":            "250.00",
		"secret":            "1234",
	}
	token := client.token(10, handler.RoleUser)

	status, env := client.do(http.MethodPost, "/transfers", token, body, handler.IdempotencyKeyHeader, "order-1")
	require.Equal(t, http.StatusCreated, status)
	var first handler.TransferResponse
	require.NoError(t, json.Unmarshal(env.Data, &first))
	assert.Equal(t, "750.00", first.BalanceAfter)
	assert.False(t, first.Replayed)
	require.NotNil(t, first.Entry.IdempotencyKey)
	assert.Equal(t, "order-1", *first.Entry.IdempotencyKey)

	status, env = client.do(http.MethodPost, "/transfers", token, body, handler.IdempotencyKeyHeader, "order-1")
	require.Equal(t, http.StatusOK, status)
	var replay handler.TransferResponse
	require.NoError(t, json.Unmarshal(env.Data, &replay))
	assert.True(t, replay.Replayed)
	assert.Equal(t, first.Entry.ID, replay.Entry.ID)

	status, env = client.do(http.MethodGet, "/accounts/me/transactions/"+first.Entry.ID.String(), client.token(20, handler.RoleUser), nil)
	require.Equal(t, http.StatusOK, status)
	var entry handler.EntryResponse
	require.NoError(t, json.Unmarshal(env.Data, &entry))
	assert.Equal(t, "COMPLETED", entry.Status)

	status, env = client.do(http.MethodGet, "/accounts/me", client.token(20, handler.RoleUser), nil)
	require.Equal(t, http.StatusOK, status)
	var account handler.AccountResponse
	require.NoError(t, json.Unmarshal(env.Data, &account))
	assert.Equal(t, "250.00", account.Balance)
}

func TestRequestValidation(t *testing.T) {
	client := newTestClient(t)
	client.open(10, "100")
	token := client.token(10, handler.RoleUser)

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		status int
		code   string
	}{
		{"unknown field", http.MethodPost, "/transfers", map[string]string{"to": "x"}, http.StatusBadRequest, "invalid_input"},
		{"malformed amount", http.MethodPost, "/deposits/self", map[string]string{"amount": "ten", "secret": "1234"}, http.StatusBadRequest, "invalid_amount"},
		{"bad entry id", http.MethodGet, "/accounts/me/transactions/not-a-uuid", nil, http.StatusBadRequest, "invalid_input"},
		{"bad pagination", http.MethodGet, "/accounts/me/transactions?limit=-1", nil, http.StatusBadRequest, "invalid_input"},
		{"unknown qr code", http.MethodGet, "/qr-payments/QR_19700101_00000000", nil, http.StatusNotFound, "not_found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, env := client.do(tt.method, tt.path, token, tt.body)
			assert.Equal(t, tt.status, status)
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.code, env.Error.Code)
		})
	}
}

func TestAdminStatusChanges(t *testing.T) {
	client := newTestClient(t)
	alice := client.open(10, "100")
	bob := client.open(20, "0")
	admin := client.token(1, handler.RoleAdmin)

	path := "/admin/accounts/" + strconv.FormatInt(bob.AccountID, 10)
	status, env := client.do(http.MethodPost, path+"/freeze", admin, nil)
	require.Equal(t, http.StatusOK, status)
	var frozen handler.AccountResponse
	require.NoError(t, json.Unmarshal(env.Data, &frozen))
	assert.Equal(t, "FROZEN", frozen.Status)

	status, env = client.do(http.MethodPost, "/transfers", client.token(10, handler.RoleUser), map[string]string{
		"to_account_number": bob.AccountNumber,
		"amount":            "10",
		"secret":            "1234",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, "account_not_active", env.Error.Code)

	status, env = client.do(http.MethodGet, "/admin/accounts/"+strconv.FormatInt(alice.AccountID, 10), admin, nil)
	require.Equal(t, http.StatusOK, status)
	var fetched handler.AccountResponse
	require.NoError(t, json.Unmarshal(env.Data, &fetched))
	assert.Equal(t, "100.00", fetched.Balance)
}

func TestQrPaymentOverHTTP(t *testing.T) {
	client := newTestClient(t)
	client.open(10, "0")
	client.open(20, "100")

	status, env := client.do(http.MethodPost, "/qr-payments", client.token(10, handler.RoleUser), map[string]string{"amount": "40"})
	require.Equal(t, http.StatusCreated, status)
	var payment handler.QrPaymentResponse
	require.NoError(t, json.Unmarshal(env.Data, &payment))
	assert.Equal(t, "PENDING", payment.Status)

	status, env = client.do(http.MethodPost, "/qr-payments/"+payment.QrCode+"/pay", client.token(20, handler.RoleUser), map[string]string{"secret": "1234"})
	require.Equal(t, http.StatusOK, status)
	var redemption handler.QrRedemptionResponse
	require.NoError(t, json.Unmarshal(env.Data, &redemption))
	assert.Equal(t, "COMPLETED", redemption.Payment.Status)
	assert.Equal(t, "60.00", redemption.BalanceAfter)
	assert.Equal(t, "QR_PAYMENT", redemption.Entry.Type)
}

func TestHistoryFiltersOverHTTP(t *testing.T) {
	client := newTestClient(t)
	client.open(10, "1000")
	bob := client.open(20, "0")
	token := client.token(10, handler.RoleUser)

	status, _ := client.do(http.MethodPost, "/transfers", token, map[string]string{
		"to_account_number": bob.AccountNumber,
		"amount":            "100",
		"secret":            "1234",
	})
	require.Equal(t, http.StatusCreated, status)

	today := time.Now().UTC().Format(time.DateOnly)
	status, env := client.do(http.MethodGet, "/accounts/me/transactions?type=transfer&from="+today+"&to="+today, token, nil)
	require.Equal(t, http.StatusOK, status)
	var entries []handler.EntryResponse
	require.NoError(t, json.Unmarshal(env.Data, &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "TRANSFER", entries[0].Type)

	status, env = client.do(http.MethodGet, "/accounts/me/transactions?from=2000-01-01&to=2000-01-02", token, nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(env.Data, &entries))
	assert.Empty(t, entries)

	for _, query := range []string{"type=refund", "from=yesterday", "from=2026-03-10&to=2026-03-09"} {
		status, env = client.do(http.MethodGet, "/accounts/me/transactions?"+query, token, nil)
		assert.Equal(t, http.StatusBadRequest, status, query)
		require.NotNil(t, env.Error, query)
		assert.Equal(t, "invalid_input", env.Error.Code, query)
	}
}

func TestLockedSecretUnlockedByAdmin(t *testing.T) {
	client := newTestClient(t)
	alice := client.open(10, "1000")
	bob := client.open(20, "0")
	token := client.token(10, handler.RoleUser)
	transfer := func(secret string) (int, envelope) {
		return client.do(http.MethodPost, "/transfers", token, map[string]string{
			"to_account_number": bob.AccountNumber,
			"amount":            "10",
			"secret":            secret,
		})
	}

	for i := 0; i < 5; i++ {
		status, _ := transfer("0000")
		require.Equal(t, http.StatusUnauthorized, status)
	}
	status, env := transfer("1234")
	require.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "0", env.Error.Meta["remaining_attempts"])

	status, env = client.do(http.MethodGet, "/accounts/me/secret", token, nil)
	require.Equal(t, http.StatusOK, status)
	var secret credential.Status
	require.NoError(t, json.Unmarshal(env.Data, &secret))
	assert.True(t, secret.Locked)

	unlockPath := "/admin/accounts/" + strconv.FormatInt(alice.AccountID, 10) + "/unlock-secret"
	status, _ = client.do(http.MethodPost, unlockPath, token, nil)
	assert.Equal(t, http.StatusForbidden, status)
	status, _ = client.do(http.MethodPost, unlockPath, client.token(1, handler.RoleAdmin), nil)
	require.Equal(t, http.StatusOK, status)

	status, _ = transfer("1234")
	require.Equal(t, http.StatusCreated, status)

	status, env = client.do(http.MethodPut, "/accounts/me/secret", token, map[string]string{"current_secret": "1234", "new_secret": "5678"})
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(env.Data, &secret))
	assert.False(t, secret.Locked)
	assert.Equal(t, 5, secret.RemainingAttempts)

	status, _ = transfer("1234")
	assert.Equal(t, http.StatusUnauthorized, status)
	status, _ = transfer("5678")
	assert.Equal(t, http.StatusCreated, status)
}

// blockingExecutor reports one due schedule and holds its execution until
// release is closed.
type blockingExecutor struct {
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func (e *blockingExecutor) ListDue(_ context.Context, _ int) ([]*domain.ScheduledTransfer, error) {
	var due []*domain.ScheduledTransfer
	e.once.Do(func() {
		due = []*domain.ScheduledTransfer{{ID: uuid.New(), Status: domain.ScheduleStatusPending}}
	})
	return due, nil
}

func (e *blockingExecutor) Execute(_ context.Context, id uuid.UUID) (*domain.ScheduledTransfer, error) {
	close(e.started)
	<-e.release
	return &domain.ScheduledTransfer{ID: id, Status: domain.ScheduleStatusExecuted}, nil
}

func TestRunWaitsForInFlightExecutionBeforeStopping(t *testing.T) {
	srv, err := NewServer(testConfig(), discardLogger())
	require.NoError(t, err)

	exec := &blockingExecutor{started: make(chan struct{}), release: make(chan struct{})}
	srv.poller = scheduler.NewPoller(exec, scheduler.Config{Interval: 10 * time.Millisecond, ExecutionTimeout: 5 * time.Second}, discardLogger(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- srv.Run(ctx, "0", time.Second)
	}()

	select {
	case <-exec.started:
	case <-time.After(5 * time.Second):
		t.Fatal("execution never started")
	}
	cancel()

	// The server stays up while the execution is still running.
	require.Never(t, func() bool { return len(done) > 0 }, 200*time.Millisecond, 20*time.Millisecond)
	resp, err := http.Get(srv.GetBaseURL() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	close(exec.release)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after the execution finished")
	}

	_, err = http.Get(srv.GetBaseURL() + "/health")
	assert.Error(t, err)
}
