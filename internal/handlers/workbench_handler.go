package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"bank-reconciliation-backend/internal/models"
	"bank-reconciliation-backend/internal/services/posting"
	"bank-reconciliation-backend/internal/services/workbench"
)

// ResultSource provides the current match result for a transaction.
type ResultSource interface {
	CurrentResult(ctx context.Context, txID uuid.UUID) (*models.MatchResult, error)
}

// WorkbenchHandler serves the transaction-level review surface.
type WorkbenchHandler struct {
	wb      *workbench.Service
	poster  *posting.Service
	results ResultSource
}

func NewWorkbenchHandler(wb *workbench.Service, poster *posting.Service, results ResultSource) *WorkbenchHandler {
	return &WorkbenchHandler{wb: wb, poster: poster, results: results}
}

func txResponse(tx *models.BankTransaction) gin.H {
	return gin.H{
		"transaction_id": tx.ID,
		"state":          tx.State,
		"version":        tx.Version,
	}
}

// ApplyManualMapping records a reviewer's disposition: a chosen ledger
// record, or none to leave the transaction unmatched.
func (h *WorkbenchHandler) ApplyManualMapping(c *gin.Context) {
	txID, ok := parseID(c, "id")
	if !ok {
		return
	}

	var payload struct {
		LedgerRecordID *string `json:"ledger_record_id"` // null means "no match"
		ReviewerID     string  `json:"reviewer_id"`
		Version        int64   `json:"version"`
	}
	if err := c.BindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if payload.ReviewerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reviewer_id is required"})
		return
	}

	var ledgerID *uuid.UUID
	if payload.LedgerRecordID != nil {
		parsed, err := uuid.Parse(*payload.LedgerRecordID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid ledger_record_id"})
			return
		}
		ledgerID = &parsed
	}

	tx, err := h.wb.ApplyManualMapping(c.Request.Context(), txID, ledgerID, payload.ReviewerID, payload.Version)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, txResponse(tx))
}

// ApproveMapping confirms a mapped transaction for posting.
func (h *WorkbenchHandler) ApproveMapping(c *gin.Context) {
	txID, ok := parseID(c, "id")
	if !ok {
		return
	}

	var payload struct {
		ReviewerID string `json:"reviewer_id"`
		Version    int64  `json:"version"`
	}
	if err := c.BindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if payload.ReviewerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reviewer_id is required"})
		return
	}

	tx, err := h.wb.ApproveMapping(c.Request.Context(), txID, payload.ReviewerID, payload.Version)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, txResponse(tx))
}

// PostTransaction sends an approved mapping to the journal entry generator.
func (h *WorkbenchHandler) PostTransaction(c *gin.Context) {
	txID, ok := parseID(c, "id")
	if !ok {
		return
	}

	res, err := h.results.CurrentResult(c.Request.Context(), txID)
	if err != nil {
		writeError(c, err)
		return
	}
	if res == nil || res.LedgerRecordID == nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "transaction has no mapping to post"})
		return
	}

	if err := h.poster.PostTransaction(c.Request.Context(), txID, res); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "journal entry posted"})
}

// ResolveException explicitly resolves a transaction's open exceptions.
func (h *WorkbenchHandler) ResolveException(c *gin.Context) {
	txID, ok := parseID(c, "id")
	if !ok {
		return
	}

	var payload struct {
		Resolution string `json:"resolution"`
		ReviewerID string `json:"reviewer_id"`
		Version    int64  `json:"version"`
	}
	if err := c.BindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if payload.Resolution == "" || payload.ReviewerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "resolution and reviewer_id are required"})
		return
	}

	tx, err := h.wb.ResolveException(c.Request.Context(), txID, payload.Resolution, payload.ReviewerID, payload.Version)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, txResponse(tx))
}
