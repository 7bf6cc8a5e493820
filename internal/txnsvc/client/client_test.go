package client_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledger-platform/internal/platform/config"
	"ledger-platform/internal/platform/money"
	"ledger-platform/internal/txnsvc/client"
)

func testConfig() config.ResilienceConfig {
	return config.ResilienceConfig{
		Timeout:             2 * time.Second,
		MaxAttempts:         3,
		InitialBackoff:      10 * time.Millisecond,
		BreakerWindow:       15,
		BreakerMinCalls:     8,
		BreakerFailureRatio: 0.6,
		BreakerOpenTimeout:  time.Second,
		BreakerHalfOpenMax:  3,
	}
}

func TestGetAccount_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(client.Account{ID: "acc-1", OwnerID: "owner-1", Balance: "100.00"})
	}))
	defer server.Close()

	c := client.New(server.URL, testConfig(), "")
	account, err := c.GetAccount(context.Background(), "acc-1")
	require.NoError(t, err)
	assert.Equal(t, "acc-1", account.ID)
}

func TestGetAccount_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c := client.New(server.URL, testConfig(), "")
	_, err := c.GetAccount(context.Background(), "missing")
	require.ErrorIs(t, err, client.ErrAccountNotFound)
}

func TestApplyBalanceOperation_BusinessRejectionNotRetried(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"insufficient funds"}`))
	}))
	defer server.Close()

	c := client.New(server.URL, testConfig(), "")
	_, err := c.ApplyBalanceOperation(context.Background(), "acc-1", "op-1", "tx-1", money.Zero, "withdrawal", false)
	require.Error(t, err)
	assert.Equal(t, 1, attempts, "4xx business rejections must not be retried")
}

func TestApplyBalanceOperation_ServerErrorRetriedThenFails(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.MaxAttempts = 3
	cfg.InitialBackoff = time.Millisecond
	c := client.New(server.URL, cfg, "")

	_, err := c.ApplyBalanceOperation(context.Background(), "acc-1", "op-1", "tx-1", money.Zero, "withdrawal", false)
	require.ErrorIs(t, err, client.ErrAccountServiceUnavailable)
	assert.Equal(t, 3, attempts)
}
