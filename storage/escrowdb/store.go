// Package escrowdb persists escrow accounts, their audit trail and HTTP
// idempotency records with gorm. Postgres is the production target; SQLite
// backs local development and tests.
package escrowdb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"pactum/escrow"
)

const defaultUpdateAttempts = 3

// Options tunes the connection pool.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	LogLevel        logger.LogLevel
}

// Open connects to driver ("postgres" or "sqlite") and migrates the schema.
// SQLite is limited to a single connection so transactions serialize.
func Open(driver, dsn string, opts Options) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres", "postgresql", "pgx":
		dialector = postgres.Open(dsn)
	case "sqlite", "sqlite3":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("escrowdb: unsupported driver %q", driver)
	}
	level := opts.LogLevel
	if level == 0 {
		level = logger.Warn
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(level),
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("escrowdb: open %s: %w", driver, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if db.Dialector.Name() == "sqlite" {
		sqlDB.SetMaxOpenConns(1)
	} else if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("escrowdb: migrate: %w", err)
	}
	return db, nil
}

// Store implements escrow.Store on top of gorm. Every update runs inside a
// transaction holding a row lock and is additionally guarded by the version
// column, so a write based on a stale read never lands.
type Store struct {
	db       *gorm.DB
	attempts int
}

// NewStore wraps db. The schema must already be migrated.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db, attempts: defaultUpdateAttempts}
}

// Insert persists a new account. A second open account for the same contract
// is rejected with escrow.ErrConflict.
func (s *Store) Insert(ctx context.Context, acc *escrow.Account) error {
	if acc == nil {
		return fmt.Errorf("%w: nil account", escrow.ErrInvalidRequest)
	}
	rec, err := newAccountRecord(acc)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if rec.ActiveContractID != nil {
			var existing AccountRecord
			err := tx.Select("id").First(&existing, "active_contract_id = ?", *rec.ActiveContractID).Error
			if err == nil {
				return fmt.Errorf("%w: contract %s already has active escrow %s", escrow.ErrConflict, rec.ContractID, existing.ID)
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
		}
		if err := tx.Create(rec).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("%w: account %s or contract %s already exists", escrow.ErrConflict, rec.ID, rec.ContractID)
			}
			return err
		}
		return nil
	})
}

// Get loads an account by id.
func (s *Store) Get(ctx context.Context, id string) (*escrow.Account, error) {
	var rec AccountRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", escrow.ErrNotFound, id)
		}
		return nil, err
	}
	return rec.toAccount()
}

// Update locks the account row, applies mutate and writes the result only if
// the version has not moved. Stale writes are retried a bounded number of
// times before escrow.ErrStaleVersion is returned.
func (s *Store) Update(ctx context.Context, id string, mutate func(*escrow.Account) error) (*escrow.Account, error) {
	var lastErr error
	for attempt := 0; attempt < s.attempts; attempt++ {
		acc, err := s.updateOnce(ctx, id, mutate)
		if !errors.Is(err, escrow.ErrStaleVersion) {
			return acc, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (s *Store) updateOnce(ctx context.Context, id string, mutate func(*escrow.Account) error) (*escrow.Account, error) {
	var updated *escrow.Account
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec AccountRecord
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&rec, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", escrow.ErrNotFound, id)
			}
			return err
		}
		acc, err := rec.toAccount()
		if err != nil {
			return err
		}
		read := acc.Version
		if err := mutate(acc); err != nil {
			return err
		}
		acc.ID = rec.ID
		acc.Version = read + 1
		next, err := newAccountRecord(acc)
		if err != nil {
			return err
		}
		res := tx.Model(&AccountRecord{}).
			Where("id = ? AND version = ?", id, read).
			Updates(next.columns())
		if res.Error != nil {
			if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("%w: contract %s already has an active escrow", escrow.ErrConflict, acc.ContractID)
			}
			return res.Error
		}
		if res.RowsAffected == 0 {
			return escrow.ErrStaleVersion
		}
		updated = acc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Events returns the audit trail of an account in emission order.
func (s *Store) Events(ctx context.Context, accountID string) ([]escrow.Event, error) {
	var records []EventRecord
	err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("id ASC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	events := make([]escrow.Event, 0, len(records))
	for i := range records {
		evt, err := records[i].toEvent()
		if err != nil {
			return nil, err
		}
		events = append(events, evt)
	}
	return events, nil
}
