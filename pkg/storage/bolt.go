package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	bolt "go.etcd.io/bbolt"
)

// BoltStrategy persists one entity type in its own bbolt bucket. The
// database file is shared across entity types within the process, and bbolt
// allows a single writable transaction per database, so transactions buffer
// writes client-side and flush in one writable transaction on commit.
// Overlapping transactions queue on the transaction gate.
type BoltStrategy struct {
	db     *bolt.DB
	bucket []byte

	// txGate serializes transactions; held from BeginTransaction until the
	// matching commit or rollback
	txGate sync.Mutex

	mu        sync.Mutex
	inTx      bool
	txPuts    map[string][]byte
	txDeletes map[string]bool
}

var (
	boltDBsMu sync.Mutex
	boltDBs   = map[string]*bolt.DB{}
)

// openBoltDB returns the process-wide handle for a database path, opening it
// on first use. bbolt holds an exclusive file lock, so every strategy for
// the same path must share one handle.
func openBoltDB(path string) (*bolt.DB, error) {
	boltDBsMu.Lock()
	defer boltDBsMu.Unlock()
	if db, ok := boltDBs[path]; ok {
		return db, nil
	}
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	boltDBs[path] = db
	return db, nil
}

// NewBoltStrategy opens the shared database and ensures the entity bucket
// exists
func NewBoltStrategy(cfg Config, entityType string) (Strategy, error) {
	path := filepath.Join(cfg.Param("dir", "."), cfg.Param("file", "paddock.db"))
	db, err := openBoltDB(path)
	if err != nil {
		return nil, err
	}
	bucket := []byte(entityType)
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create bucket %s: %w", entityType, err)
	}
	return &BoltStrategy{db: db, bucket: bucket}, nil
}

func (s *BoltStrategy) Save(ctx context.Context, id string, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inTx {
		s.txPuts[id] = append([]byte{}, blob...)
		delete(s.txDeletes, id)
		return nil
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).Put([]byte(id), blob)
	})
}

func (s *BoltStrategy) FindByID(ctx context.Context, id string) ([]byte, bool, error) {
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
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(s.bucket).Get([]byte(id))
		if data != nil {
			out = append([]byte{}, data...)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, out != nil, nil
}

func (s *BoltStrategy) FindAll(ctx context.Context) (map[string][]byte, error) {
	out := map[string][]byte{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).ForEach(func(k, v []byte) error {
			out[string(k)] = append([]byte{}, v...)
			return nil
		})
	})
	if err != nil {
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

func (s *BoltStrategy) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inTx {
		delete(s.txPuts, id)
		s.txDeletes[id] = true
		return nil
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).Delete([]byte(id))
	})
}

func (s *BoltStrategy) Exists(ctx context.Context, id string) (bool, error) {
	_, ok, err := s.FindByID(ctx, id)
	return ok, err
}

func (s *BoltStrategy) FindByCriteria(ctx context.Context, criteria []Criterion) ([][]byte, error) {
	all, err := s.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	return filterByCriteria(all, criteria), nil
}

func (s *BoltStrategy) SaveBatch(ctx context.Context, blobs map[string][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inTx {
		for id, blob := range blobs {
			s.txPuts[id] = append([]byte{}, blob...)
			delete(s.txDeletes, id)
		}
		return nil
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		for id, blob := range blobs {
			if err := b.Put([]byte(id), blob); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStrategy) DeleteBatch(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inTx {
		for _, id := range ids {
			delete(s.txPuts, id)
			s.txDeletes[id] = true
		}
		return nil
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		for _, id := range ids {
			if err := b.Delete([]byte(id)); err != nil {
				return err
			}
		}
		return nil
	})
}

// BeginTransaction starts buffering writes. Blocks while another
// transaction is in flight.
func (s *BoltStrategy) BeginTransaction(ctx context.Context) error {
	s.txGate.Lock()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inTx = true
	s.txPuts = map[string][]byte{}
	s.txDeletes = map[string]bool{}
	return nil
}

func (s *BoltStrategy) CommitTransaction(ctx context.Context) error {
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

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		for id, blob := range puts {
			if err := b.Put([]byte(id), blob); err != nil {
				return err
			}
		}
		for id := range deletes {
			if err := b.Delete([]byte(id)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStrategy) RollbackTransaction(ctx context.Context) error {
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

func (s *BoltStrategy) Close() error {
	// The handle is shared across entity types; closing happens at process
	// shutdown via CloseBoltDBs.
	return nil
}

// CloseBoltDBs closes every database handle opened by bolt strategies
func CloseBoltDBs() error {
	boltDBsMu.Lock()
	defer boltDBsMu.Unlock()
	var firstErr error
	for path, db := range boltDBs {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(boltDBs, path)
	}
	return firstErr
}
