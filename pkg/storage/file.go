package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cuemby/paddock/pkg/log"
)

// FileStrategy persists one entity type as a single JSON document keyed by
// entity id. Writes are read-copy-update: the full document is rewritten via
// a temp file and atomic rename, with a .bak copy taken first. Concurrent
// access within the process is guarded by a reader-writer lock; overlapping
// transactions queue on the transaction gate. Multi-process coordination is
// not supported by this strategy.
type FileStrategy struct {
	path string

	// txGate serializes transactions; held from BeginTransaction until the
	// matching commit or rollback
	txGate sync.Mutex

	mu  sync.RWMutex
	doc map[string]json.RawMessage

	inTx     bool
	txShadow map[string]json.RawMessage
}

// NewFileStrategy opens (or creates) the document for one entity type under
// the configured directory
func NewFileStrategy(cfg Config, entityType string) (Strategy, error) {
	dir := cfg.Param("dir", ".")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}
	s := &FileStrategy{
		path: filepath.Join(dir, entityType+".json"),
		doc:  map[string]json.RawMessage{},
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// load reads the document, attempting backup recovery on deserialization
// failure and degrading to an empty document as a last resort
func (s *FileStrategy) load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", s.path, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, &s.doc); err == nil {
		return nil
	}
	backup, bakErr := os.ReadFile(s.path + ".bak")
	if bakErr == nil {
		if err := json.Unmarshal(backup, &s.doc); err == nil {
			log.WithComponent("storage").Warn().
				Str("path", s.path).
				Msg("document corrupt, recovered from backup")
			return nil
		}
	}
	log.WithComponent("storage").Warn().
		Str("path", s.path).
		Msg("document and backup corrupt, starting from empty store")
	s.doc = map[string]json.RawMessage{}
	return nil
}

// flush writes the current document with backup and atomic replace
func (s *FileStrategy) flush() error {
	if current, err := os.ReadFile(s.path); err == nil {
		if err := os.WriteFile(s.path+".bak", current, 0o644); err != nil {
			return fmt.Errorf("writing backup: %w", err)
		}
	}
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding document: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing document: %w", err)
	}
	return os.Rename(tmp, s.path)
}

func (s *FileStrategy) Save(ctx context.Context, id string, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc[id] = append(json.RawMessage{}, blob...)
	if s.inTx {
		return nil
	}
	return s.flush()
}

func (s *FileStrategy) FindByID(ctx context.Context, id string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	blob, ok := s.doc[id]
	if !ok {
		return nil, false, nil
	}
	return append([]byte{}, blob...), true, nil
}

func (s *FileStrategy) FindAll(ctx context.Context) (map[string][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]byte, len(s.doc))
	for id, blob := range s.doc {
		out[id] = append([]byte{}, blob...)
	}
	return out, nil
}

func (s *FileStrategy) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.doc, id)
	if s.inTx {
		return nil
	}
	return s.flush()
}

func (s *FileStrategy) Exists(ctx context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.doc[id]
	return ok, nil
}

func (s *FileStrategy) FindByCriteria(ctx context.Context, criteria []Criterion) ([][]byte, error) {
	all, err := s.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	return filterByCriteria(all, criteria), nil
}

func (s *FileStrategy) SaveBatch(ctx context.Context, blobs map[string][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, blob := range blobs {
		s.doc[id] = append(json.RawMessage{}, blob...)
	}
	if s.inTx {
		return nil
	}
	return s.flush()
}

func (s *FileStrategy) DeleteBatch(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.doc, id)
	}
	if s.inTx {
		return nil
	}
	return s.flush()
}

// BeginTransaction snapshots the document; mutations stay in memory until
// commit. Blocks while another transaction is in flight.
func (s *FileStrategy) BeginTransaction(ctx context.Context) error {
	s.txGate.Lock()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txShadow = make(map[string]json.RawMessage, len(s.doc))
	for id, blob := range s.doc {
		s.txShadow[id] = blob
	}
	s.inTx = true
	return nil
}

func (s *FileStrategy) CommitTransaction(ctx context.Context) error {
	s.mu.Lock()
	if !s.inTx {
		s.mu.Unlock()
		return fmt.Errorf("no transaction in progress")
	}
	s.inTx = false
	s.txShadow = nil
	err := s.flush()
	s.mu.Unlock()
	s.txGate.Unlock()
	return err
}

func (s *FileStrategy) RollbackTransaction(ctx context.Context) error {
	s.mu.Lock()
	if !s.inTx {
		s.mu.Unlock()
		return fmt.Errorf("no transaction in progress")
	}
	s.doc = s.txShadow
	s.inTx = false
	s.txShadow = nil
	s.mu.Unlock()
	s.txGate.Unlock()
	return nil
}

func (s *FileStrategy) Close() error { return nil }
