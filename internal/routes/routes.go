package routes

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"bank-reconciliation-backend/internal/audit"
	"bank-reconciliation-backend/internal/config"
	handler "bank-reconciliation-backend/internal/handlers"
	"bank-reconciliation-backend/internal/repository"
	batchsvc "bank-reconciliation-backend/internal/services/batch"
	"bank-reconciliation-backend/internal/services/matching"
	"bank-reconciliation-backend/internal/services/posting"
	"bank-reconciliation-backend/internal/services/reconciliation"
	"bank-reconciliation-backend/internal/services/workbench"
)

// RegisterRoutes wires the repositories, services and handlers onto the
// router.
func RegisterRoutes(r *gin.Engine, db *gorm.DB, cfg *config.Config, poster posting.JournalPoster, logger *slog.Logger) (*audit.DBSink, error) {
	store := repository.NewStore(db)
	sink := audit.NewDBSink(db, logger, 256)

	engine, err := matching.NewEngine(cfg.Matching, logger)
	if err != nil {
		return nil, err
	}

	coordinator := batchsvc.NewCoordinator(store.BatchRepository, sink, logger)
	wbService := workbench.NewService(store, coordinator, sink, cfg.Matching, logger)
	postService := posting.NewService(poster, wbService, cfg.Matching, logger)
	reconService := reconciliation.NewService(
		engine,
		store.LedgerRecordRepository,
		store,
		wbService,
		cfg.Matching,
		sink,
		logger,
	)

	reconHandler := handler.NewReconciliationHandler(reconService, coordinator)
	wbHandler := handler.NewWorkbenchHandler(wbService, postService, store.MatchResultRepository)

	api := r.Group("/api")

	api.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	recon := api.Group("/reconciliation")
	recon.POST("/:batchId/run", reconHandler.RunMatching)
	recon.GET("/:batchId", reconHandler.GetBatchProgress)
	recon.GET("/:batchId/stats", reconHandler.GetBatchStats)
	recon.GET("/:batchId/pending", reconHandler.ListPending)
	recon.POST("/:batchId/lock", reconHandler.LockBatch)
	recon.POST("/:batchId/unlock", reconHandler.UnlockBatch)
	recon.POST("/:batchId/approve", reconHandler.ApproveBatch)

	tx := api.Group("/transactions")
	tx.POST("/:id/map", wbHandler.ApplyManualMapping)
	tx.POST("/:id/approve", wbHandler.ApproveMapping)
	tx.POST("/:id/post", wbHandler.PostTransaction)
	tx.POST("/:id/exception/resolve", wbHandler.ResolveException)

	return sink, nil
}
