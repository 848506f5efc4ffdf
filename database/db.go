package database

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"disputeflow-backend/models"
)

var DB *gorm.DB

// Connect opens the shared pool. TranslateError is on so unique-constraint
// violations surface as gorm.ErrDuplicatedKey; the store package depends on
// that for webhook dedupe.
func Connect() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file, using process environment")
	}

	host := os.Getenv("DB_HOST")
	if host == "" {
		host = "db"
	}
	port := os.Getenv("DB_PORT")
	if port == "" {
		port = "5432"
	}
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		host, os.Getenv("DB_USER"), os.Getenv("DB_PASSWORD"), os.Getenv("DB_NAME"), port)

	var err error
	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		log.Fatalf("could not connect to database: %v", err)
	}
}

// AutoMigrate covers the public (shared) schema only; tenant tables are
// created per schema by MigrateTenantSchema.
func AutoMigrate() {
	if err := DB.AutoMigrate(&models.Tenant{}, &models.User{}); err != nil {
		log.Fatalf("public schema migration failed: %v", err)
	}
}

// WithTenant runs fn inside a transaction whose search_path is pinned to the
// tenant schema with SET LOCAL. Every statement in fn is guaranteed to run on
// that one connection, and the pinning dies with the transaction instead of
// leaking back into the pool. Jobs, schedulers and webhook ingestion, which
// all run outside a request, go through here; requests use middlewares.TenantTx.
//
// The transaction commits even when fn fails: background consumers persist
// failure states (webhook ledger rows, letter errors, expired connections)
// that must survive the failing run. fn's error is still returned.
func WithTenant(schema string, fn func(tx *gorm.DB) error) error {
	schema = strings.TrimSpace(schema)
	if schema == "" {
		return fmt.Errorf("empty schema name")
	}
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	var fnErr error
	err := DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(`SET LOCAL search_path = "` + schema + `", public`).Error; err != nil {
			return fmt.Errorf("set search_path failed: %w", err)
		}
		fnErr = fn(tx)
		return nil
	})
	if err != nil {
		return err
	}
	return fnErr
}
