// Package client implements the Resilient Account Client: every outbound
// call to the Account HTTP Facade passes through three composed layers —
// timeout wraps retry wraps circuit breaker — per Design Notes §9. The
// timeout bounds the whole retry loop, and every attempt goes through the
// breaker.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"ledger-platform/internal/platform/config"
	"ledger-platform/internal/platform/money"
)

// Sentinel errors surfaced to the Orchestrator, per §4.3's error taxonomy.
// The Orchestrator treats only ErrAccountServiceUnavailable as a
// partial-failure signal requiring compensation or manual-action marking.
var (
	ErrAccountNotFound         = errors.New("client: account not found")
	ErrAccountServiceUnavailable = errors.New("client: account service unavailable")
)

// BusinessRejectionError wraps a 4xx body other than 404 — a business
// decision by the Account Service, never treated as a partial failure.
type BusinessRejectionError struct {
	Status  int
	Message string
}

func (e *BusinessRejectionError) Error() string {
	return fmt.Sprintf("client: business rejection (%d): %s", e.Status, e.Message)
}

// Account is the subset of account fields the orchestrator needs.
type Account struct {
	ID          string `json:"id"`
	OwnerID     string `json:"ownerId"`
	AccountType string `json:"accountType"`
	Balance     string `json:"balance"`
	Closed      bool   `json:"closed"`
}

// OperationResult mirrors the Account Service's balance-operation response:
// {accountId, operationId, applied, newBalance, version, status}.
type OperationResult struct {
	AccountID   string `json:"accountId"`
	OperationID string `json:"operationId"`
	Applied     bool   `json:"applied"`
	NewBalance  string `json:"newBalance"`
	Version     int64  `json:"version"`
	Status      string `json:"status"`
}

// Client is the Resilient Account Client.
type Client struct {
	baseURL    string
	http       *http.Client
	breaker    *gobreaker.CircuitBreaker[any]
	maxAttempts int
	initialBackoff time.Duration
	timeout     time.Duration
	authToken   string
}

// New builds a Client wrapping calls to baseURL with the given resilience
// tunables, grounded on the defaults in §4.3: timeout 8s, 5 retry attempts
// starting at a 2s backoff, breaker window 15 with an 8-call minimum and a
// 60% failure ratio, 45s open timeout, 3 half-open probes.
func New(baseURL string, cfg config.ResilienceConfig, authToken string) *Client {
	breaker := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "account-service",
		MaxRequests: cfg.BreakerHalfOpenMax,
		Interval:    time.Duration(cfg.BreakerWindow) * time.Second,
		Timeout:     cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.BreakerMinCalls {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.BreakerFailureRatio
		},
	})

	return &Client{
		baseURL:        baseURL,
		http:           &http.Client{Timeout: cfg.Timeout},
		breaker:        breaker,
		maxAttempts:    cfg.MaxAttempts,
		initialBackoff: cfg.InitialBackoff,
		timeout:        cfg.Timeout,
		authToken:      authToken,
	}
}

// GetAccount fetches an account by id.
func (c *Client) GetAccount(ctx context.Context, accountID string) (*Account, error) {
	var account Account
	err := c.call(ctx, http.MethodGet, "/accounts/"+accountID, nil, &account)
	if err != nil {
		return nil, err
	}
	return &account, nil
}

type balanceOperationRequest struct {
	OperationID   string `json:"operationId"`
	TransactionID string `json:"transactionId"`
	Delta         string `json:"delta"`
	Reason        string `json:"reason"`
	AllowNegative bool   `json:"allowNegative"`
}

// ApplyBalanceOperation calls the Account Service's balance-operation
// endpoint. allowNegative and delta are the caller's decision; this layer
// does not interpret them.
func (c *Client) ApplyBalanceOperation(ctx context.Context, accountID, operationID, transactionID string, delta money.Amount, reason string, allowNegative bool) (*OperationResult, error) {
	body := balanceOperationRequest{
		OperationID:   operationID,
		TransactionID: transactionID,
		Delta:         delta.String(),
		Reason:        reason,
		AllowNegative: allowNegative,
	}
	var result OperationResult
	err := c.call(ctx, http.MethodPost, "/accounts/"+accountID+"/operations", body, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// call composes: timeout(retry(breaker(doRequest))). The timeout context
// covers every retry attempt; retry takes a func() error, and each attempt
// runs doRequest through breaker.Execute. A zero timeout sets no per-call
// deadline, as it does for the underlying http.Client.
func (c *Client) call(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	return c.retry(ctx, func() error {
		_, err := c.breaker.Execute(func() (interface{}, error) {
			return nil, c.doRequest(ctx, method, path, body, out)
		})
		return err
	})
}

// retry runs fn up to c.maxAttempts times with exponential backoff,
// starting at c.initialBackoff, retrying only on transport errors and 5xx
// (never on business 4xx) — per §4.3.
func (c *Client) retry(ctx context.Context, fn func() error) error {
	backoff := c.initialBackoff
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) {
			return err
		}
		if attempt == c.maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ErrAccountServiceUnavailable
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return fmt.Errorf("%w: %v", ErrAccountServiceUnavailable, lastErr)
}

func isRetryable(err error) bool {
	var rejection *BusinessRejectionError
	if errors.As(err, &rejection) {
		return false
	}
	if errors.Is(err, ErrAccountNotFound) {
		return false
	}
	return true
}

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("client: failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("client: failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("client: transport error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrAccountNotFound
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("client: upstream returned %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		return &BusinessRejectionError{Status: resp.StatusCode, Message: string(data)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("client: failed to decode response: %w", err)
	}
	return nil
}
