package storage

import (
	"context"
	"fmt"
	"sync"
)

// ErrUnsupportedStorage is returned when an unregistered storage type is
// requested
type ErrUnsupportedStorage struct {
	Type string
}

func (e *ErrUnsupportedStorage) Error() string {
	return fmt.Sprintf("unsupported storage type: %q", e.Type)
}

// Strategy is a key-value store over opaque blob values scoped to one entity
// type. BeginTransaction blocks until any in-flight transaction on the same
// strategy commits or rolls back; transactions do not nest.
type Strategy interface {
	Save(ctx context.Context, id string, blob []byte) error
	FindByID(ctx context.Context, id string) ([]byte, bool, error)
	FindAll(ctx context.Context) (map[string][]byte, error)
	Delete(ctx context.Context, id string) error
	Exists(ctx context.Context, id string) (bool, error)
	// FindByCriteria returns the blobs matching every criterion. Malformed
	// criteria yield an empty list, never an error.
	FindByCriteria(ctx context.Context, criteria []Criterion) ([][]byte, error)
	SaveBatch(ctx context.Context, blobs map[string][]byte) error
	DeleteBatch(ctx context.Context, ids []string) error

	BeginTransaction(ctx context.Context) error
	CommitTransaction(ctx context.Context) error
	RollbackTransaction(ctx context.Context) error

	Close() error
}

// Config carries per-strategy parameters from the configuration file
type Config struct {
	Type   string            `json:"type" yaml:"type"`
	Params map[string]string `json:"params,omitempty" yaml:"params,omitempty"`
}

// Param returns a parameter value with a fallback default
func (c Config) Param(key, fallback string) string {
	if v, ok := c.Params[key]; ok && v != "" {
		return v
	}
	return fallback
}

// StrategyFactory builds a strategy for one entity type
type StrategyFactory func(cfg Config, entityType string) (Strategy, error)

// ConfigFactory normalizes raw parameters for a storage type
type ConfigFactory func(cfg Config) (Config, error)

// Registration bundles the three factories a storage type provides
type Registration struct {
	Strategy StrategyFactory
	Config   ConfigFactory
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Registration{}
)

// Register makes a storage type available by name. Adding a new storage type
// is one Register call; existing code is untouched.
func Register(storageType string, reg Registration) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[storageType] = reg
}

// NewStrategy builds a strategy of the configured type for one entity type
func NewStrategy(cfg Config, entityType string) (Strategy, error) {
	registryMu.RLock()
	reg, ok := registry[cfg.Type]
	registryMu.RUnlock()
	if !ok {
		return nil, &ErrUnsupportedStorage{Type: cfg.Type}
	}
	if reg.Config != nil {
		normalized, err := reg.Config(cfg)
		if err != nil {
			return nil, fmt.Errorf("normalizing %s storage config: %w", cfg.Type, err)
		}
		cfg = normalized
	}
	return reg.Strategy(cfg, entityType)
}

// RegisteredTypes lists the storage types currently registered
func RegisteredTypes() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	types := make([]string, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}
	return types
}
