// Package testutil opens throwaway databases for repository and service
// tests. By default each call gets an isolated in-memory SQLite database;
// set TEST_POSTGRES_DSN to run the same tests against Postgres.
package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/aurafin/underwriting-engine/internal/domain"
	"github.com/aurafin/underwriting-engine/internal/platform/dbctx"
	"github.com/aurafin/underwriting-engine/internal/platform/logger"
)

var dbSeq atomic.Int64

// Logger returns a quiet logger for tests.
func Logger(tb testing.TB) *logger.Logger {
	tb.Helper()
	log, err := logger.New("dev")
	if err != nil {
		tb.Fatalf("logger: %v", err)
	}
	return log
}

// OpenDB opens a migrated test database. SQLite in-memory unless
// TEST_POSTGRES_DSN points at a Postgres instance.
func OpenDB(tb testing.TB) *gorm.DB {
	tb.Helper()

	var (
		db  *gorm.DB
		err error
	)
	cfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}
	if dsn := os.Getenv("TEST_POSTGRES_DSN"); dsn != "" {
		db, err = gorm.Open(postgres.Open(dsn), cfg)
	} else {
		name := fmt.Sprintf("file:enginetest%d?mode=memory&cache=shared", dbSeq.Add(1))
		db, err = gorm.Open(sqlite.Open(name), cfg)
		if err == nil {
			// Shared-cache in-memory DBs vanish when the last conn closes.
			sqlDB, derr := db.DB()
			if derr != nil {
				tb.Fatalf("sql db: %v", derr)
			}
			sqlDB.SetMaxOpenConns(1)
		}
	}
	if err != nil {
		tb.Fatalf("open test db: %v", err)
	}

	if err := db.AutoMigrate(
		&domain.Case{},
		&domain.CaseDocument{},
		&domain.Subscription{},
		&domain.CaseProcessorConfig{},
		&domain.Execution{},
		&domain.Factor{},
	); err != nil {
		tb.Fatalf("migrate test db: %v", err)
	}

	tb.Cleanup(func() {
		sqlDB, err := db.DB()
		if err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// Ctx wraps the db in a dbctx without a transaction, for tests that exercise
// concurrent access through goroutines.
func Ctx(tb testing.TB, db *gorm.DB) dbctx.Context {
	tb.Helper()
	return dbctx.New(context.Background(), db)
}

// Tx runs fn inside a transaction that is always rolled back.
func Tx(tb testing.TB, db *gorm.DB, fn func(dbc dbctx.Context)) {
	tb.Helper()
	tx := db.Begin()
	if tx.Error != nil {
		tb.Fatalf("begin tx: %v", tx.Error)
	}
	defer tx.Rollback()
	fn(dbctx.New(context.Background(), tx))
}

// SeedCase inserts a case with the given flattened fields.
func SeedCase(tb testing.TB, dbc dbctx.Context, orgID uuid.UUID, fields map[string]any) *domain.Case {
	tb.Helper()
	raw, err := jsonMarshal(fields)
	if err != nil {
		tb.Fatalf("marshal fields: %v", err)
	}
	c := &domain.Case{
		ID:             uuid.New(),
		OrganizationID: orgID,
		Status:         "open",
		Fields:         raw,
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}
	if err := dbc.Tx.WithContext(dbc.Ctx).Create(c).Error; err != nil {
		tb.Fatalf("seed case: %v", err)
	}
	return c
}

// SeedDocument attaches a classified document to a case.
func SeedDocument(tb testing.TB, dbc dbctx.Context, caseID uuid.UUID, stipulationType, uri string, metadata map[string]any) *domain.CaseDocument {
	tb.Helper()
	raw, err := jsonMarshal(metadata)
	if err != nil {
		tb.Fatalf("marshal metadata: %v", err)
	}
	d := &domain.CaseDocument{
		ID:              uuid.New(),
		CaseID:          caseID,
		RevisionID:      uuid.New(),
		StipulationType: stipulationType,
		URI:             uri,
		Metadata:        raw,
		CreatedAt:       time.Now().UTC(),
		UpdatedAt:       time.Now().UTC(),
	}
	if err := dbc.Tx.WithContext(dbc.Ctx).Create(d).Error; err != nil {
		tb.Fatalf("seed document: %v", err)
	}
	return d
}

// SeedSubscription subscribes an org to a processor.
func SeedSubscription(tb testing.TB, dbc dbctx.Context, orgID uuid.UUID, processor string, override map[string]any) *domain.Subscription {
	tb.Helper()
	raw, err := jsonMarshal(override)
	if err != nil {
		tb.Fatalf("marshal override: %v", err)
	}
	s := &domain.Subscription{
		ID:             uuid.New(),
		OrganizationID: orgID,
		ProcessorName:  processor,
		AutoRun:        true,
		Active:         true,
		ConfigOverride: raw,
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}
	if err := dbc.Tx.WithContext(dbc.Ctx).Create(s).Error; err != nil {
		tb.Fatalf("seed subscription: %v", err)
	}
	return s
}

// SeedConfig attaches a processor config to a case.
func SeedConfig(tb testing.TB, dbc dbctx.Context, c *domain.Case, sub *domain.Subscription, effective map[string]any) *domain.CaseProcessorConfig {
	tb.Helper()
	raw, err := jsonMarshal(effective)
	if err != nil {
		tb.Fatalf("marshal effective config: %v", err)
	}
	cfg := &domain.CaseProcessorConfig{
		ID:              uuid.New(),
		OrganizationID:  c.OrganizationID,
		CaseID:          c.ID,
		SubscriptionID:  sub.ID,
		ProcessorName:   sub.ProcessorName,
		Auto:            true,
		Enabled:         true,
		EffectiveConfig: raw,
		CreatedAt:       time.Now().UTC(),
		UpdatedAt:       time.Now().UTC(),
	}
	if err := dbc.Tx.WithContext(dbc.Ctx).Create(cfg).Error; err != nil {
		tb.Fatalf("seed config: %v", err)
	}
	return cfg
}

func jsonMarshal(m map[string]any) (datatypes.JSON, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}
