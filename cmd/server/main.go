package main

import (
	"log"
	"os"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"bank-reconciliation-backend/internal/config"
	"bank-reconciliation-backend/internal/models"
	"bank-reconciliation-backend/internal/observability"
	"bank-reconciliation-backend/internal/routes"
	"bank-reconciliation-backend/internal/services/posting"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on system env")
	}

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}

	var cfg *config.Config
	if _, err := os.Stat(path); err == nil {
		loaded, err := config.Load(path)
		if err != nil {
			log.Fatalf("invalid configuration: %v", err)
		}
		cfg = loaded
	} else {
		cfg = config.Default()
		if err := cfg.Validate(); err != nil {
			log.Fatalf("invalid configuration: %v", err)
		}
		log.Printf("no config file at %s, using defaults", path)
	}

	logger := observability.NewLogger(cfg.Logging)

	db, err := config.InitDB(cfg.Database)
	if err != nil {
		log.Fatalf("database: %v", err)
	}

	if err := db.AutoMigrate(
		&models.LedgerRecord{},
		&models.BankTransaction{},
		&models.ReconciliationBatch{},
		&models.MatchResult{},
		&models.MappingException{},
		&models.MatchAuditLog{},
	); err != nil {
		log.Fatalf("migrating: %v", err)
	}

	var poster posting.JournalPoster
	if cfg.Journal.URL != "" {
		poster = posting.NewHTTPPoster(cfg.Journal.URL)
	} else {
		logger.Warn("no journal generator URL configured, entries will only be logged")
		poster = posting.LogPoster{Log: logger}
	}

	r := gin.Default()
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	sink, err := routes.RegisterRoutes(r, db, cfg, poster, logger)
	if err != nil {
		log.Fatalf("wiring services: %v", err)
	}
	defer sink.Close()

	if err := r.Run(cfg.Server.Addr); err != nil {
		log.Fatalf("server: %v", err)
	}
}
