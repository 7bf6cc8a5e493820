package handlers_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledger-platform/internal/platform/auth"
	"ledger-platform/internal/platform/config"
	"ledger-platform/internal/platform/money"
	"ledger-platform/internal/platform/observer"
	"ledger-platform/internal/txnsvc/client"
	"ledger-platform/internal/txnsvc/handlers"
	"ledger-platform/internal/txnsvc/limits"
	"ledger-platform/internal/txnsvc/orchestrator"
	"ledger-platform/internal/txnsvc/store"
)

// fakeAccountService is a minimal in-memory stand-in for the Account
// Service's HTTP facade, enough to drive handler tests without a real
// account-service process.
type fakeAccountService struct {
	balances map[string]money.Amount
	owners   map[string]string
}

func (f *fakeAccountService) server() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/accounts/", func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/accounts/")
		if strings.HasSuffix(path, "/operations") {
			accountID := strings.TrimSuffix(path, "/operations")
			_ = json.NewEncoder(w).Encode(client.OperationResult{AccountID: accountID, Applied: true, Status: "APPLIED"})
			return
		}
		owner, ok := f.owners[path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(client.Account{ID: path, OwnerID: owner, AccountType: "STANDARD", Balance: f.balances[path].String()})
	})
	return httptest.NewServer(mux)
}

func newTestEngine(t *testing.T, principal auth.Principal) (*gin.Engine, *fakeAccountService) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	fake := &fakeAccountService{balances: map[string]money.Amount{"acc-1": money.FromCents(10_000)}, owners: map[string]string{"acc-1": "alice"}}
	server := fake.server()
	t.Cleanup(server.Close)

	txStore := store.NewMemoryStore()
	accountClient := client.New(server.URL, config.ResilienceConfig{
		MaxAttempts: 1, BreakerWindow: 15, BreakerMinCalls: 100, BreakerFailureRatio: 0.99, BreakerHalfOpenMax: 3,
	}, "")
	evaluator := limits.New(txStore)
	orch := orchestrator.New(txStore, accountClient, evaluator, nil, nil, observer.NoOp{})
	h := handlers.New(orch, txStore, accountClient, nil)

	engine := gin.New()
	engine.Use(func(c *gin.Context) {
		c.Set("principal", principal)
		c.Next()
	})
	engine.POST("/api/transactions/transfer", h.Transfer)
	engine.POST("/api/transactions/deposit", h.Deposit)
	engine.POST("/api/transactions/withdraw", h.Withdraw)
	engine.POST("/api/transactions/:id/reverse", h.Reverse)
	engine.GET("/api/transactions/account/:id", h.ListByAccount)
	engine.GET("/api/transactions/search", h.Search)
	return engine, fake
}

func doRequest(engine *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func TestDeposit_Success(t *testing.T) {
	engine, _ := newTestEngine(t, auth.Principal{Name: "alice"})
	rec := doRequest(engine, http.MethodPost, "/api/transactions/deposit", `{"accountId":"acc-1","amount":"50.00","currency":"USD"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "COMPLETED", resp["status"])
}

func TestDeposit_InvalidAmount_Rejected(t *testing.T) {
	engine, _ := newTestEngine(t, auth.Principal{Name: "alice"})
	rec := doRequest(engine, http.MethodPost, "/api/transactions/deposit", `{"accountId":"acc-1","amount":"50.005","currency":"USD"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListByAccount_ForbiddenForNonOwner(t *testing.T) {
	engine, _ := newTestEngine(t, auth.Principal{Name: "mallory"})
	rec := doRequest(engine, http.MethodGet, "/api/transactions/account/acc-1", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestListByAccount_AllowedForOwner(t *testing.T) {
	engine, _ := newTestEngine(t, auth.Principal{Name: "alice"})
	rec := doRequest(engine, http.MethodGet, "/api/transactions/account/acc-1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListByAccount_UnknownAccount_NotFound(t *testing.T) {
	engine, _ := newTestEngine(t, auth.Principal{Name: "alice"})
	rec := doRequest(engine, http.MethodGet, "/api/transactions/account/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSearch_ScopedToOwnTransactionsByDefault(t *testing.T) {
	engine, _ := newTestEngine(t, auth.Principal{Name: "alice"})
	rec := doRequest(engine, http.MethodGet, "/api/transactions/search", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
