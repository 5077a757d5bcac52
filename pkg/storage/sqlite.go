package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

// SQLStrategy persists one entity type as one row per entity with the JSON
// blob in a text column. The connection pool is capped at one connection per
// database file, so transactions buffer writes client-side and flush in one
// database transaction on commit. Overlapping transactions queue on the
// transaction gate.
type SQLStrategy struct {
	db    *sql.DB
	table string

	// txGate serializes transactions; held from BeginTransaction until the
	// matching commit or rollback
	txGate sync.Mutex

	mu        sync.Mutex
	inTx      bool
	txPuts    map[string][]byte
	txDeletes map[string]bool
}

var (
	sqlDBsMu sync.Mutex
	sqlDBs   = map[string]*sql.DB{}
)

func openSQLDB(dsn string) (*sql.DB, error) {
	sqlDBsMu.Lock()
	defer sqlDBsMu.Unlock()
	if db, ok := sqlDBs[dsn]; ok {
		return db, nil
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	// the sqlite file accepts one writer; serialize at the pool level
	db.SetMaxOpenConns(1)
	sqlDBs[dsn] = db
	return db, nil
}

// NewSQLStrategy opens the database and ensures the entity table exists
func NewSQLStrategy(cfg Config, entityType string) (Strategy, error) {
	dsn := cfg.Param("dsn", filepath.Join(cfg.Param("dir", "."), "paddock.sqlite"))
	db, err := openSQLDB(dsn)
	if err != nil {
		return nil, err
	}
	table := "entities_" + strings.ReplaceAll(entityType, "-", "_")
	if _, err := db.Exec(fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (id TEXT PRIMARY KEY, blob TEXT NOT NULL)`, table)); err != nil {
		return nil, fmt.Errorf("creating table %s: %w", table, err)
	}
	return &SQLStrategy{db: db, table: table}, nil
}

func (s *SQLStrategy) upsertSQL() string {
	return fmt.Sprintf(
		`INSERT INTO %s (id, blob) VALUES (?, ?) ON CONFLICT(id) DO UPDATE SET blob = excluded.blob`, s.table)
}

func (s *SQLStrategy) deleteSQL() string {
	return fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, s.table)
}

func (s *SQLStrategy) Save(ctx context.Context, id string, blob []byte) error {
	s.mu.Lock()
	if s.inTx {
		s.txPuts[id] = append([]byte{}, blob...)
		delete(s.txDeletes, id)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, s.upsertSQL(), id, string(blob))
	return err
}

func (s *SQLStrategy) FindByID(ctx context.Context, id string) ([]byte, bool, error) {
	s.mu.Lock()
	if s.inTx {
		if blob, ok := s.txPuts[id]; ok {
			s.mu.Unlock()
			return append([]byte{}, blob...), true, nil
		}
		if s.txDeletes[id] {
			s.mu.Unlock()
			return nil, false, nil
		}
	}
	s.mu.Unlock()
	var blob string
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT blob FROM %s WHERE id = ?`, s.table), id).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return []byte(blob), true, nil
}

func (s *SQLStrategy) FindAll(ctx context.Context) (map[string][]byte, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT id, blob FROM %s`, s.table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string][]byte{}
	for rows.Next() {
		var id, blob string
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, err
		}
		out[id] = []byte(blob)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// overlay buffered transaction state
	s.mu.Lock()
	if s.inTx {
		for id, blob := range s.txPuts {
			out[id] = append([]byte{}, blob...)
		}
		for id := range s.txDeletes {
			delete(out, id)
		}
	}
	s.mu.Unlock()
	return out, nil
}

func (s *SQLStrategy) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	if s.inTx {
		delete(s.txPuts, id)
		s.txDeletes[id] = true
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, s.deleteSQL(), id)
	return err
}

func (s *SQLStrategy) Exists(ctx context.Context, id string) (bool, error) {
	_, ok, err := s.FindByID(ctx, id)
	return ok, err
}

func (s *SQLStrategy) FindByCriteria(ctx context.Context, criteria []Criterion) ([][]byte, error) {
	all, err := s.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	return filterByCriteria(all, criteria), nil
}

func (s *SQLStrategy) SaveBatch(ctx context.Context, blobs map[string][]byte) error {
	for id, blob := range blobs {
		if err := s.Save(ctx, id, blob); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStrategy) DeleteBatch(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if err := s.Delete(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// BeginTransaction starts buffering writes. Blocks while another
// transaction is in flight.
func (s *SQLStrategy) BeginTransaction(ctx context.Context) error {
	s.txGate.Lock()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inTx = true
	s.txPuts = map[string][]byte{}
	s.txDeletes = map[string]bool{}
	return nil
}

func (s *SQLStrategy) CommitTransaction(ctx context.Context) error {
	s.mu.Lock()
	if !s.inTx {
		s.mu.Unlock()
		return fmt.Errorf("no transaction in progress")
	}
	puts, deletes := s.txPuts, s.txDeletes
	s.inTx = false
	s.txPuts, s.txDeletes = nil, nil
	s.mu.Unlock()
	defer s.txGate.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for id, blob := range puts {
		if _, err := tx.ExecContext(ctx, s.upsertSQL(), id, string(blob)); err != nil {
			tx.Rollback()
			return err
		}
	}
	for id := range deletes {
		if _, err := tx.ExecContext(ctx, s.deleteSQL(), id); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLStrategy) RollbackTransaction(ctx context.Context) error {
	s.mu.Lock()
	if !s.inTx {
		s.mu.Unlock()
		return fmt.Errorf("no transaction in progress")
	}
	s.inTx = false
	s.txPuts, s.txDeletes = nil, nil
	s.mu.Unlock()
	s.txGate.Unlock()
	return nil
}

func (s *SQLStrategy) Close() error { return nil }
