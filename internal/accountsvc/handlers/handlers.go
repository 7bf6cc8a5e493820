// Package handlers implements the Account Service's HTTP facade: thin Gin
// handlers that validate input, enforce the owner/privileged authorization
// rule from §4.4, and delegate every balance mutation to the engine.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"ledger-platform/internal/accountsvc/engine"
	"ledger-platform/internal/accountsvc/models"
	"ledger-platform/internal/accountsvc/store"
	"ledger-platform/internal/platform/apierr"
	"ledger-platform/internal/platform/httpserver"
	"ledger-platform/internal/platform/money"
)

// Handlers bundles the Account Service's dependencies, mirroring the
// teacher's container-held handler structs in internal/api/handlers.
type Handlers struct {
	Engine *engine.Engine
	Store  store.Repository
}

// New builds a Handlers bundle.
func New(eng *engine.Engine, repo store.Repository) *Handlers {
	return &Handlers{Engine: eng, Store: repo}
}

type createAccountRequest struct {
	OwnerID        string `json:"ownerId" binding:"required"`
	AccountType    string `json:"accountType" binding:"required"`
	InitialBalance string `json:"initialBalance"`
}

// CreateAccount handles POST /accounts.
func (h *Handlers) CreateAccount(c *gin.Context) {
	var req createAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpserver.RespondError(c, apierr.NewValidation(err.Error()))
		return
	}

	principal := httpserver.PrincipalFrom(c)
	if !principal.CanAccess(req.OwnerID) {
		httpserver.RespondError(c, apierr.NewForbidden("cannot create an account for another owner"))
		return
	}

	initial := money.Zero
	if req.InitialBalance != "" {
		parsed, err := money.FromStringStrict(req.InitialBalance)
		if err != nil {
			httpserver.RespondError(c, apierr.NewValidation(err.Error()))
			return
		}
		initial = parsed
	}

	accountType := models.AccountType(req.AccountType)
	if !validAccountType(accountType) {
		httpserver.RespondError(c, apierr.NewValidation("accountType must be one of CHECKING, SAVINGS, CREDIT, PREMIUM"))
		return
	}

	account, err := h.Store.CreateAccount(c.Request.Context(), req.OwnerID, accountType, initial)
	if err != nil {
		httpserver.RespondError(c, apierr.NewInternal("failed to create account"))
		return
	}

	c.JSON(http.StatusCreated, toAccountResponse(account))
}

func validAccountType(t models.AccountType) bool {
	switch t {
	case models.Checking, models.Savings, models.Credit, models.Premium:
		return true
	default:
		return false
	}
}

// GetAccount handles GET /accounts/:id.
func (h *Handlers) GetAccount(c *gin.Context) {
	accountID := c.Param("id")
	account, err := h.Store.GetAccount(c.Request.Context(), accountID)
	if err != nil {
		h.respondStoreError(c, err)
		return
	}

	principal := httpserver.PrincipalFrom(c)
	if !principal.CanAccess(account.OwnerID) {
		httpserver.RespondError(c, apierr.NewForbidden("not authorized to view this account"))
		return
	}

	c.JSON(http.StatusOK, toAccountResponse(account))
}

// ListAccounts handles GET /accounts?ownerId=.
func (h *Handlers) ListAccounts(c *gin.Context) {
	principal := httpserver.PrincipalFrom(c)
	ownerID := principal.EffectiveOwnerFilter(c.Query("ownerId"))

	accounts, err := h.Store.ListAccounts(c.Request.Context(), ownerID)
	if err != nil {
		httpserver.RespondError(c, apierr.NewInternal("failed to list accounts"))
		return
	}

	out := make([]accountResponse, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, toAccountResponse(a))
	}
	c.JSON(http.StatusOK, gin.H{"accounts": out})
}

// CloseAccount handles DELETE /accounts/:id.
func (h *Handlers) CloseAccount(c *gin.Context) {
	accountID := c.Param("id")
	account, err := h.Store.GetAccount(c.Request.Context(), accountID)
	if err != nil {
		h.respondStoreError(c, err)
		return
	}

	principal := httpserver.PrincipalFrom(c)
	if !principal.CanAccess(account.OwnerID) {
		httpserver.RespondError(c, apierr.NewForbidden("not authorized to close this account"))
		return
	}

	if err := h.Store.CloseAccount(c.Request.Context(), accountID); err != nil {
		httpserver.RespondError(c, apierr.NewInternal("failed to close account"))
		return
	}
	c.Status(http.StatusNoContent)
}

type balanceOperationRequest struct {
	OperationID   string `json:"operationId" binding:"required"`
	TransactionID string `json:"transactionId"`
	Delta         string `json:"delta" binding:"required"`
	Reason        string `json:"reason"`
	AllowNegative bool   `json:"allowNegative"`
}

// ApplyBalanceOperation handles POST /accounts/:id/operations, the single
// entry point into the Balance Engine from the HTTP layer.
func (h *Handlers) ApplyBalanceOperation(c *gin.Context) {
	accountID := c.Param("id")

	var req balanceOperationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpserver.RespondError(c, apierr.NewValidation(err.Error()))
		return
	}

	delta, err := money.FromStringStrict(req.Delta)
	if err != nil {
		httpserver.RespondError(c, apierr.NewValidation(err.Error()))
		return
	}

	account, err := h.Store.GetAccount(c.Request.Context(), accountID)
	if err != nil {
		h.respondStoreError(c, err)
		return
	}

	principal := httpserver.PrincipalFrom(c)
	if !principal.CanAccess(account.OwnerID) {
		httpserver.RespondError(c, apierr.NewForbidden("not authorized to operate on this account"))
		return
	}

	result, err := h.Engine.Apply(c.Request.Context(), engine.Request{
		OperationID:   req.OperationID,
		AccountID:     accountID,
		TransactionID: req.TransactionID,
		Delta:         delta,
		Reason:        req.Reason,
		AllowNegative: req.AllowNegative,
	})
	if err != nil {
		httpserver.RespondError(c, apierr.As(err))
		return
	}

	c.JSON(http.StatusOK, toOperationResponse(result))
}

func (h *Handlers) respondStoreError(c *gin.Context, err error) {
	if errors.Is(err, store.ErrAccountNotFound) {
		httpserver.RespondError(c, apierr.NewNotFound("account"))
		return
	}
	httpserver.RespondError(c, apierr.NewInternal("failed to read account"))
}

type accountResponse struct {
	ID          string `json:"id"`
	OwnerID     string `json:"ownerId"`
	AccountType string `json:"accountType"`
	Balance     string `json:"balance"`
	Version     int64  `json:"version"`
	Closed      bool   `json:"closed"`
}

func toAccountResponse(a *models.Account) accountResponse {
	return accountResponse{
		ID:          a.ID,
		OwnerID:     a.OwnerID,
		AccountType: string(a.AccountType),
		Balance:     a.Balance.String(),
		Version:     a.Version,
		Closed:      a.Closed,
	}
}

type operationResponse struct {
	AccountID   string `json:"accountId"`
	OperationID string `json:"operationId"`
	Applied     bool   `json:"applied"`
	NewBalance  string `json:"newBalance"`
	Version     int64  `json:"version"`
	Status      string `json:"status"`
}

func toOperationResponse(r *engine.Result) operationResponse {
	return operationResponse{
		AccountID:   r.Operation.AccountID,
		OperationID: r.Operation.OperationID,
		Applied:     r.Operation.Applied,
		NewBalance:  r.ResultingBalance.String(),
		Version:     r.Version,
		Status:      string(r.Outcome),
	}
}
