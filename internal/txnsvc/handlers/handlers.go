// Package handlers implements the Transaction Service's HTTP facade: thin
// Gin handlers that parse requests, extract idempotency keys, and delegate
// every state-changing operation to the Orchestrator.
package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"ledger-platform/internal/platform/apierr"
	"ledger-platform/internal/platform/httpserver"
	"ledger-platform/internal/platform/money"
	"ledger-platform/internal/txnsvc/cache"
	"ledger-platform/internal/txnsvc/client"
	"ledger-platform/internal/txnsvc/models"
	"ledger-platform/internal/txnsvc/orchestrator"
	"ledger-platform/internal/txnsvc/store"
)

// Handlers bundles the Transaction Service's dependencies.
type Handlers struct {
	Orchestrator *orchestrator.Orchestrator
	Store        store.TransactionStore
	Account      *client.Client
	Cache        *cache.Cache
}

// New builds a Handlers bundle. histCache may be nil to disable read caching.
func New(orch *orchestrator.Orchestrator, txStore store.TransactionStore, account *client.Client, histCache *cache.Cache) *Handlers {
	return &Handlers{Orchestrator: orch, Store: txStore, Account: account, Cache: histCache}
}

const idempotencyHeader = "Idempotency-Key"

type transferRequest struct {
	FromAccountID string `json:"fromAccountId" binding:"required"`
	ToAccountID   string `json:"toAccountId" binding:"required"`
	Amount        string `json:"amount" binding:"required"`
	Currency      string `json:"currency"`
	Description   string `json:"description"`
	Reference     string `json:"reference"`
}

// Transfer handles POST /api/transactions/transfer.
func (h *Handlers) Transfer(c *gin.Context) {
	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpserver.RespondError(c, apierr.NewValidation(err.Error()))
		return
	}
	amount, err := money.FromStringStrict(req.Amount)
	if err != nil {
		httpserver.RespondError(c, apierr.NewValidation(err.Error()))
		return
	}

	tx, err := h.Orchestrator.Transfer(c.Request.Context(), orchestrator.TransferRequest{
		FromAccountID:  req.FromAccountID,
		ToAccountID:    req.ToAccountID,
		Amount:         amount,
		Currency:       req.Currency,
		Description:    req.Description,
		Reference:      req.Reference,
		Principal:      httpserver.PrincipalFrom(c),
		IdempotencyKey: c.GetHeader(idempotencyHeader),
	})
	h.respondTransaction(c, tx, err)
}

type depositRequest struct {
	AccountID   string `json:"accountId" binding:"required"`
	Amount      string `json:"amount" binding:"required"`
	Currency    string `json:"currency"`
	Description string `json:"description"`
	Reference   string `json:"reference"`
}

// Deposit handles POST /api/transactions/deposit.
func (h *Handlers) Deposit(c *gin.Context) {
	var req depositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpserver.RespondError(c, apierr.NewValidation(err.Error()))
		return
	}
	amount, err := money.FromStringStrict(req.Amount)
	if err != nil {
		httpserver.RespondError(c, apierr.NewValidation(err.Error()))
		return
	}

	tx, err := h.Orchestrator.Deposit(c.Request.Context(), orchestrator.DepositRequest{
		AccountID:      req.AccountID,
		Amount:         amount,
		Currency:       req.Currency,
		Description:    req.Description,
		Reference:      req.Reference,
		Principal:      httpserver.PrincipalFrom(c),
		IdempotencyKey: c.GetHeader(idempotencyHeader),
	})
	h.respondTransaction(c, tx, err)
}

type withdrawRequest struct {
	AccountID   string `json:"accountId" binding:"required"`
	Amount      string `json:"amount" binding:"required"`
	Currency    string `json:"currency"`
	Description string `json:"description"`
	Reference   string `json:"reference"`
}

// Withdraw handles POST /api/transactions/withdraw.
func (h *Handlers) Withdraw(c *gin.Context) {
	var req withdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpserver.RespondError(c, apierr.NewValidation(err.Error()))
		return
	}
	amount, err := money.FromStringStrict(req.Amount)
	if err != nil {
		httpserver.RespondError(c, apierr.NewValidation(err.Error()))
		return
	}

	tx, err := h.Orchestrator.Withdrawal(c.Request.Context(), orchestrator.WithdrawalRequest{
		AccountID:      req.AccountID,
		Amount:         amount,
		Currency:       req.Currency,
		Description:    req.Description,
		Reference:      req.Reference,
		Principal:      httpserver.PrincipalFrom(c),
		IdempotencyKey: c.GetHeader(idempotencyHeader),
	})
	h.respondTransaction(c, tx, err)
}

type reverseRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// Reverse handles POST /api/transactions/:id/reverse.
func (h *Handlers) Reverse(c *gin.Context) {
	var req reverseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpserver.RespondError(c, apierr.NewValidation(err.Error()))
		return
	}

	tx, err := h.Orchestrator.Reverse(c.Request.Context(), orchestrator.ReverseRequest{
		OriginalTransactionID: c.Param("id"),
		Reason:                req.Reason,
		Principal:             httpserver.PrincipalFrom(c),
		IdempotencyKey:        c.GetHeader(idempotencyHeader),
	})
	h.respondTransaction(c, tx, err)
}

// ListByAccount handles GET /api/transactions/account/:id, authorizing
// against the account's owner via the resilient client before reading.
func (h *Handlers) ListByAccount(c *gin.Context) {
	accountID := c.Param("id")
	account, err := h.Account.GetAccount(c.Request.Context(), accountID)
	if err != nil {
		httpserver.RespondError(c, apierr.As(translateAccountErr(err)))
		return
	}
	principal := httpserver.PrincipalFrom(c)
	if !principal.CanAccess(account.OwnerID) {
		httpserver.RespondError(c, apierr.NewForbidden("not authorized to view this account's transactions"))
		return
	}

	page, size, sort := pagingParams(c)

	if h.Cache != nil {
		if cached, ok := h.Cache.GetHistoryPage(c.Request.Context(), accountID, page, size, sort); ok {
			c.JSON(http.StatusOK, toPageResponse(cached))
			return
		}
	}

	result, err := h.Store.ListByAccount(c.Request.Context(), accountID, page, size, sort)
	if err != nil {
		httpserver.RespondError(c, apierr.NewInternal("failed to list transactions"))
		return
	}
	if h.Cache != nil {
		h.Cache.PutHistoryPage(c.Request.Context(), accountID, page, size, sort, result)
	}
	c.JSON(http.StatusOK, toPageResponse(result))
}

// Search handles GET /api/transactions/search, filtered to the caller's own
// transactions unless the caller is privileged (§4.4's EffectiveOwnerFilter).
func (h *Handlers) Search(c *gin.Context) {
	principal := httpserver.PrincipalFrom(c)
	ownerFilter := principal.EffectiveOwnerFilter(c.Query("ownerId"))
	page, size, sort := pagingParams(c)

	cacheKey := "search:" + ownerFilter
	if h.Cache != nil {
		if cached, ok := h.Cache.GetHistoryPage(c.Request.Context(), cacheKey, page, size, sort); ok {
			c.JSON(http.StatusOK, toPageResponse(cached))
			return
		}
	}

	filter := store.ListFilter{
		OwnerID: ownerFilter,
		Type:    models.TransactionType(c.Query("type")),
		Status:  models.TransactionStatus(c.Query("status")),
		Page:    page,
		Size:    size,
		Sort:    sort,
	}
	result, err := h.Store.Search(c.Request.Context(), filter)
	if err != nil {
		httpserver.RespondError(c, apierr.NewInternal("failed to search transactions"))
		return
	}
	if h.Cache != nil {
		h.Cache.PutHistoryPage(c.Request.Context(), cacheKey, page, size, sort, result)
	}
	c.JSON(http.StatusOK, toPageResponse(result))
}

func pagingParams(c *gin.Context) (page, size int, sort string) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "0"))
	size, _ = strconv.Atoi(c.DefaultQuery("size", "20"))
	sort = c.DefaultQuery("sort", "desc")
	return
}

// respondTransaction answers a successful transfer/deposit/withdraw/reverse
// with 201: each call creates a new transaction row, even a reversal.
func (h *Handlers) respondTransaction(c *gin.Context, tx *models.Transaction, err error) {
	if err != nil {
		httpserver.RespondError(c, apierr.As(err))
		return
	}
	c.JSON(http.StatusCreated, toTransactionResponse(tx))
}

func translateAccountErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, client.ErrAccountNotFound) {
		return apierr.NewNotFound("account")
	}
	var rejection *client.BusinessRejectionError
	if errors.As(err, &rejection) {
		return apierr.NewBusinessRejection(rejection.Message)
	}
	return apierr.NewUpstreamUnavailable("account service unavailable")
}

type transactionResponse struct {
	ID                     string  `json:"id"`
	Type                   string  `json:"type"`
	Status                 string  `json:"status"`
	ProcessingState        string  `json:"processingState"`
	FromAccountID          string  `json:"fromAccountId"`
	ToAccountID            string  `json:"toAccountId"`
	Amount                 string  `json:"amount"`
	Currency               string  `json:"currency"`
	Description            string  `json:"description,omitempty"`
	Reference              string  `json:"reference,omitempty"`
	CreatedBy              string  `json:"createdBy"`
	FailureReason          string  `json:"failureReason,omitempty"`
	OriginalTransactionID  string  `json:"originalTransactionId,omitempty"`
	ReversalTransactionID  string  `json:"reversalTransactionId,omitempty"`
	ReversalReason         string  `json:"reversalReason,omitempty"`
	CreatedAt              string  `json:"createdAt"`
	UpdatedAt              string  `json:"updatedAt"`
}

func toTransactionResponse(t *models.Transaction) transactionResponse {
	return transactionResponse{
		ID:                    t.ID,
		Type:                  string(t.Type),
		Status:                string(t.Status),
		ProcessingState:       string(t.ProcessingState),
		FromAccountID:         t.FromAccountID,
		ToAccountID:           t.ToAccountID,
		Amount:                t.Amount.String(),
		Currency:              t.Currency,
		Description:           t.Description,
		Reference:             t.Reference,
		CreatedBy:             t.CreatedBy,
		FailureReason:         t.FailureReason,
		OriginalTransactionID: t.OriginalTransactionID,
		ReversalTransactionID: t.ReversalTransactionID,
		ReversalReason:        t.ReversalReason,
		CreatedAt:             t.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		UpdatedAt:             t.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}

type pageResponse struct {
	Items      []transactionResponse `json:"items"`
	TotalItems int                   `json:"totalItems"`
	Page       int                   `json:"page"`
	Size       int                   `json:"size"`
}

func toPageResponse(p *store.Page) pageResponse {
	items := make([]transactionResponse, 0, len(p.Items))
	for _, t := range p.Items {
		items = append(items, toTransactionResponse(t))
	}
	return pageResponse{Items: items, TotalItems: p.TotalItems, Page: p.Page, Size: p.Size}
}
