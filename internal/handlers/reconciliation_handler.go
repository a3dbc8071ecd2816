package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"bank-reconciliation-backend/internal/models"
	batchsvc "bank-reconciliation-backend/internal/services/batch"
	"bank-reconciliation-backend/internal/services/reconciliation"
	"bank-reconciliation-backend/internal/services/workbench"
)

// ReconciliationHandler serves the batch-level HTTP surface.
type ReconciliationHandler struct {
	recon *reconciliation.Service
	coord *batchsvc.Coordinator
}

func NewReconciliationHandler(recon *reconciliation.Service, coord *batchsvc.Coordinator) *ReconciliationHandler {
	return &ReconciliationHandler{recon: recon, coord: coord}
}

// RunMatching triggers a matching run over the batch.
func (h *ReconciliationHandler) RunMatching(c *gin.Context) {
	batchID, ok := parseID(c, "batchId")
	if !ok {
		return
	}

	outcomes, err := h.recon.RunMatching(c.Request.Context(), batchID)
	if err != nil {
		writeError(c, err)
		return
	}

	results := make([]gin.H, 0, len(outcomes))
	for _, o := range outcomes {
		row := gin.H{
			"transaction_id": o.Transaction.ID,
			"confidence":     o.Confidence,
			"band":           o.Band,
		}
		if o.Selected != nil {
			row["ledger_record_id"] = o.Selected.ID
		}
		if o.DataErr != nil {
			row["error"] = o.DataErr.Error()
		}
		results = append(results, row)
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

// GetBatchProgress reports the batch's lock state and per-state counts.
func (h *ReconciliationHandler) GetBatchProgress(c *gin.Context) {
	batchID, ok := parseID(c, "batchId")
	if !ok {
		return
	}
	p, err := h.coord.Progress(c.Request.Context(), batchID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"batch_id":     p.Batch.ID,
		"lock_state":   p.Batch.LockState,
		"total":        p.Batch.TotalTransactions,
		"state_counts": p.StateCounts,
		"approved_at":  p.Batch.ApprovedAt,
	})
}

// GetBatchStats reports per-band aggregates.
func (h *ReconciliationHandler) GetBatchStats(c *gin.Context) {
	batchID, ok := parseID(c, "batchId")
	if !ok {
		return
	}
	stats, err := h.recon.Stats(c.Request.Context(), batchID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// ListPending returns the review queue, optionally filtered by band.
func (h *ReconciliationHandler) ListPending(c *gin.Context) {
	batchID, ok := parseID(c, "batchId")
	if !ok {
		return
	}
	band := models.Band(c.Query("band"))
	switch band {
	case "", models.BandHigh, models.BandMedium, models.BandLow, models.BandUnmatched:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid band filter"})
		return
	}

	pending, err := h.recon.ListPending(c.Request.Context(), batchID, band)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pending": pending})
}

// LockBatch stops new automatic matching runs over the batch.
func (h *ReconciliationHandler) LockBatch(c *gin.Context) {
	batchID, ok := parseID(c, "batchId")
	if !ok {
		return
	}
	if err := h.coord.Lock(c.Request.Context(), batchID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "batch locked"})
}

// UnlockBatch reverses Lock.
func (h *ReconciliationHandler) UnlockBatch(c *gin.Context) {
	batchID, ok := parseID(c, "batchId")
	if !ok {
		return
	}
	if err := h.coord.Unlock(c.Request.Context(), batchID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "batch unlocked"})
}

// ApproveBatch approves the batch, or enumerates every blocking
// transaction.
func (h *ReconciliationHandler) ApproveBatch(c *gin.Context) {
	batchID, ok := parseID(c, "batchId")
	if !ok {
		return
	}

	var payload struct {
		ReviewerID string `json:"reviewer_id"`
	}
	_ = c.BindJSON(&payload)
	if payload.ReviewerID == "" {
		payload.ReviewerID = "system"
	}

	err := h.coord.Approve(c.Request.Context(), batchID, payload.ReviewerID)
	var approvalErr *batchsvc.ApprovalError
	if errors.As(err, &approvalErr) {
		c.JSON(http.StatusConflict, gin.H{
			"error":    "batch approval blocked",
			"blockers": approvalErr.Blockers,
		})
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "batch approved"})
}

func parseID(c *gin.Context, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + param})
		return uuid.Nil, false
	}
	return id, true
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, workbench.ErrConflict),
		errors.Is(err, batchsvc.ErrConflict),
		errors.Is(err, workbench.ErrApprovalInFlight):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, workbench.ErrInvalidTransition),
		errors.Is(err, workbench.ErrTerminalState):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, reconciliation.ErrBatchNotOpen),
		errors.Is(err, batchsvc.ErrBatchApproved):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
