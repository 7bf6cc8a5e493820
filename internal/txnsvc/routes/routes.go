// Package routes wires the Transaction Service's HTTP handlers onto a
// gin.Engine, mirroring the Account Service's registration style.
package routes

import (
	"github.com/gin-gonic/gin"

	"ledger-platform/internal/platform/auth"
	"ledger-platform/internal/platform/httpserver"
	"ledger-platform/internal/txnsvc/handlers"
)

// Register attaches every Transaction Service route to engine.
func Register(engine *gin.Engine, h *handlers.Handlers, verifier *auth.Verifier) {
	authed := engine.Group("/api/transactions")
	authed.Use(httpserver.AuthRequired(verifier))

	authed.POST("/transfer", h.Transfer)
	authed.POST("/deposit", h.Deposit)
	authed.POST("/withdraw", h.Withdraw)
	authed.POST("/:id/reverse", h.Reverse)
	authed.GET("/account/:id", h.ListByAccount)
	authed.GET("/search", h.Search)
}
