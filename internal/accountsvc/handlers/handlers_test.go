package handlers_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledger-platform/internal/accountsvc/engine"
	"ledger-platform/internal/accountsvc/handlers"
	"ledger-platform/internal/accountsvc/store"
	"ledger-platform/internal/platform/auth"
	"ledger-platform/internal/platform/observer"
)

func newTestEngine(t *testing.T, principal auth.Principal) (*gin.Engine, store.Repository) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := store.NewMemoryRepository()
	eng := engine.New(repo, nil, observer.NoOp{})
	h := handlers.New(eng, repo)

	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set("principal", principal)
		c.Next()
	})
	router.POST("/accounts", h.CreateAccount)
	router.GET("/accounts/:id", h.GetAccount)
	router.GET("/accounts", h.ListAccounts)
	router.DELETE("/accounts/:id", h.CloseAccount)
	router.POST("/accounts/:id/operations", h.ApplyBalanceOperation)
	return router, repo
}

func doRequest(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestCreateAccount_Success(t *testing.T) {
	router, _ := newTestEngine(t, auth.Principal{Name: "alice"})
	rec := doRequest(router, http.MethodPost, "/accounts", `{"ownerId":"alice","accountType":"CHECKING","initialBalance":"100.00"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "100.00", resp["balance"])
}

func TestCreateAccount_ForbiddenForAnotherOwner(t *testing.T) {
	router, _ := newTestEngine(t, auth.Principal{Name: "mallory"})
	rec := doRequest(router, http.MethodPost, "/accounts", `{"ownerId":"alice","accountType":"CHECKING"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCreateAccount_InvalidAccountType(t *testing.T) {
	router, _ := newTestEngine(t, auth.Principal{Name: "alice"})
	rec := doRequest(router, http.MethodPost, "/accounts", `{"ownerId":"alice","accountType":"BOGUS"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetAccount_NotFound(t *testing.T) {
	router, _ := newTestEngine(t, auth.Principal{Name: "alice"})
	rec := doRequest(router, http.MethodGet, "/accounts/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestApplyBalanceOperation_OverdraftRejected(t *testing.T) {
	router, _ := newTestEngine(t, auth.Principal{Name: "alice"})
	createRec := doRequest(router, http.MethodPost, "/accounts", `{"ownerId":"alice","accountType":"CHECKING","initialBalance":"10.00"}`)
	require.Equal(t, http.StatusCreated, createRec.Code)
	var created map[string]interface{}
	require.NoError(t, json.Unmarshal(createRec.Body.Bytes(), &created))
	id := created["id"].(string)

	rec := doRequest(router, http.MethodPost, "/accounts/"+id+"/operations",
		`{"operationId":"op-1","delta":"-50.00","reason":"withdrawal"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, false, resp["applied"])
	assert.Equal(t, "REJECTED", resp["status"])
	assert.Equal(t, "10.00", resp["newBalance"])
}
