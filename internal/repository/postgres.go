package repository

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// dbtx abstracts a pool or an open transaction so the same queries serve
// both paths.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store against Postgres via pgx.
type PostgresStore struct {
	db   dbtx
	pool *pgxpool.Pool

	versions *versionRepository
	branches *branchRepository
	merges   *mergeRepository
	audit    *auditRepository
}

// NewPostgresStore creates the store over a connection pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return newPostgresStore(pool, pool)
}

func newPostgresStore(db dbtx, pool *pgxpool.Pool) *PostgresStore {
	s := &PostgresStore{db: db, pool: pool}
	s.versions = &versionRepository{db: db}
	s.branches = &branchRepository{db: db}
	s.merges = &mergeRepository{db: db}
	s.audit = &auditRepository{db: db}
	return s
}

// Versions returns the version store.
func (s *PostgresStore) Versions() VersionStore { return s.versions }

// Branches returns the branch store.
func (s *PostgresStore) Branches() BranchStore { return s.branches }

// Merges returns the merge-record store.
func (s *PostgresStore) Merges() MergeStore { return s.merges }

// Audit returns the audit store.
func (s *PostgresStore) Audit() AuditStore { return s.audit }

// WithinTx executes fn against transaction-bound stores. An error from fn
// rolls back every write made inside it. Calls nested inside an open
// transaction join it rather than opening another.
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(ctx context.Context, stores Stores) error) error {
	if s.pool == nil {
		return fn(ctx, s)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Printf("Failed to rollback transaction: %v", rbErr)
			}
			panic(p)
		}
	}()

	if err := fn(ctx, newPostgresStore(tx, nil)); err != nil {
		return joinRollbackErr(err, tx.Rollback(ctx))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// joinRollbackErr reports both failures while keeping fn's error available
// to errors.Is / errors.As. Typed errors like OptimisticLockError drive
// caller behavior and must survive the wrapping.
func joinRollbackErr(err, rbErr error) error {
	if rbErr == nil {
		return err
	}
	return fmt.Errorf("transaction failed: %w (rollback failed: %v)", err, rbErr)
}
