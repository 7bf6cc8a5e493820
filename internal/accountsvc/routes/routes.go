// Package routes wires the Account Service's HTTP handlers onto a gin.Engine,
// generalizing the teacher's internal/api/routes/routes.go registration style.
package routes

import (
	"github.com/gin-gonic/gin"

	"ledger-platform/internal/accountsvc/handlers"
	"ledger-platform/internal/platform/auth"
	"ledger-platform/internal/platform/httpserver"
)

// Register attaches every Account Service route to engine.
func Register(engine *gin.Engine, h *handlers.Handlers, verifier *auth.Verifier) {
	authed := engine.Group("/accounts")
	authed.Use(httpserver.AuthRequired(verifier))

	authed.POST("", h.CreateAccount)
	authed.GET("", h.ListAccounts)
	authed.GET("/:id", h.GetAccount)
	authed.DELETE("/:id", h.CloseAccount)
	authed.POST("/:id/operations", h.ApplyBalanceOperation)
}
