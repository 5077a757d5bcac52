package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// strategyUnderTest builds one strategy of each registered built-in type
// against a temp directory
func strategyUnderTest(t *testing.T, storageType string) Strategy {
	t.Helper()
	cfg := Config{Type: storageType, Params: map[string]string{"dir": t.TempDir()}}
	s, err := NewStrategy(cfg, EntityRequests)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func blobFor(fields map[string]any) []byte {
	blob, _ := json.Marshal(fields)
	return blob
}

func TestStrategyConformance(t *testing.T) {
	for _, storageType := range []string{TypeFile, TypeBolt, TypeSQLite} {
		t.Run(storageType, func(t *testing.T) {
			s := strategyUnderTest(t, storageType)
			ctx := context.Background()

			blob := blobFor(map[string]any{"id": "req-1", "status": "running"})
			require.NoError(t, s.Save(ctx, "req-1", blob))

			got, ok, err := s.FindByID(ctx, "req-1")
			require.NoError(t, err)
			require.True(t, ok)
			assert.JSONEq(t, string(blob), string(got))

			exists, err := s.Exists(ctx, "req-1")
			require.NoError(t, err)
			assert.True(t, exists)

			_, ok, err = s.FindByID(ctx, "req-absent")
			require.NoError(t, err)
			assert.False(t, ok)

			// save is an upsert
			updated := blobFor(map[string]any{"id": "req-1", "status": "complete"})
			require.NoError(t, s.Save(ctx, "req-1", updated))
			got, _, err = s.FindByID(ctx, "req-1")
			require.NoError(t, err)
			assert.JSONEq(t, string(updated), string(got))

			all, err := s.FindAll(ctx)
			require.NoError(t, err)
			assert.Len(t, all, 1)

			require.NoError(t, s.Delete(ctx, "req-1"))
			exists, err = s.Exists(ctx, "req-1")
			require.NoError(t, err)
			assert.False(t, exists)

			// deleting an absent id is a no-op
			require.NoError(t, s.Delete(ctx, "req-1"))
		})
	}
}

func TestStrategyBatches(t *testing.T) {
	for _, storageType := range []string{TypeFile, TypeBolt, TypeSQLite} {
		t.Run(storageType, func(t *testing.T) {
			s := strategyUnderTest(t, storageType)
			ctx := context.Background()

			batch := map[string][]byte{}
			for i := 0; i < 5; i++ {
				id := fmt.Sprintf("req-%d", i)
				batch[id] = blobFor(map[string]any{"id": id, "status": "pending"})
			}
			require.NoError(t, s.SaveBatch(ctx, batch))

			all, err := s.FindAll(ctx)
			require.NoError(t, err)
			assert.Len(t, all, 5)

			require.NoError(t, s.DeleteBatch(ctx, []string{"req-0", "req-1", "req-2"}))
			all, err = s.FindAll(ctx)
			require.NoError(t, err)
			assert.Len(t, all, 2)
		})
	}
}

func TestStrategyCriteria(t *testing.T) {
	for _, storageType := range []string{TypeFile, TypeBolt, TypeSQLite} {
		t.Run(storageType, func(t *testing.T) {
			s := strategyUnderTest(t, storageType)
			ctx := context.Background()
			require.NoError(t, s.Save(ctx, "req-1", blobFor(map[string]any{"id": "req-1", "status": "running", "type": "acquire"})))
			require.NoError(t, s.Save(ctx, "req-2", blobFor(map[string]any{"id": "req-2", "status": "failed", "type": "acquire"})))
			require.NoError(t, s.Save(ctx, "ret-1", blobFor(map[string]any{"id": "ret-1", "status": "complete", "type": "return"})))

			matched, err := s.FindByCriteria(ctx, []Criterion{Eq("type", "acquire")})
			require.NoError(t, err)
			assert.Len(t, matched, 2)

			matched, err = s.FindByCriteria(ctx, []Criterion{In("status", "running", "complete")})
			require.NoError(t, err)
			assert.Len(t, matched, 2)

			matched, err = s.FindByCriteria(ctx, []Criterion{Eq("type", "acquire"), Eq("status", "failed")})
			require.NoError(t, err)
			assert.Len(t, matched, 1)

			matched, err = s.FindByCriteria(ctx, []Criterion{Regex("id", `^ret-`)})
			require.NoError(t, err)
			assert.Len(t, matched, 1)

			// malformed regex matches nothing rather than failing
			matched, err = s.FindByCriteria(ctx, []Criterion{Regex("id", `ret-[`)})
			require.NoError(t, err)
			assert.Empty(t, matched)
		})
	}
}

func TestStrategyTransactions(t *testing.T) {
	for _, storageType := range []string{TypeFile, TypeBolt, TypeSQLite} {
		t.Run(storageType, func(t *testing.T) {
			s := strategyUnderTest(t, storageType)
			ctx := context.Background()

			require.NoError(t, s.BeginTransaction(ctx))
			require.NoError(t, s.Save(ctx, "req-1", blobFor(map[string]any{"id": "req-1"})))
			require.NoError(t, s.RollbackTransaction(ctx))
			exists, err := s.Exists(ctx, "req-1")
			require.NoError(t, err)
			assert.False(t, exists, "rolled back write must not persist")

			require.NoError(t, s.BeginTransaction(ctx))
			require.NoError(t, s.Save(ctx, "req-2", blobFor(map[string]any{"id": "req-2"})))
			require.NoError(t, s.CommitTransaction(ctx))
			exists, err = s.Exists(ctx, "req-2")
			require.NoError(t, err)
			assert.True(t, exists)
		})
	}
}

func TestOverlappingTransactionsQueue(t *testing.T) {
	for _, storageType := range []string{TypeFile, TypeBolt, TypeSQLite} {
		t.Run(storageType, func(t *testing.T) {
			s := strategyUnderTest(t, storageType)
			ctx := context.Background()

			const writers = 8
			var wg sync.WaitGroup
			errs := make(chan error, writers)
			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					id := fmt.Sprintf("req-%d", i)
					if err := s.BeginTransaction(ctx); err != nil {
						errs <- err
						return
					}
					if err := s.Save(ctx, id, blobFor(map[string]any{"id": id})); err != nil {
						s.RollbackTransaction(ctx)
						errs <- err
						return
					}
					errs <- s.CommitTransaction(ctx)
				}(i)
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				require.NoError(t, err)
			}

			all, err := s.FindAll(ctx)
			require.NoError(t, err)
			assert.Len(t, all, writers)
		})
	}
}

func TestFilePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{Type: TypeFile, Params: map[string]string{"dir": dir}}
	ctx := context.Background()

	s, err := NewStrategy(cfg, EntityRequests)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, "req-1", blobFor(map[string]any{"id": "req-1"})))
	require.NoError(t, s.Close())

	reopened, err := NewStrategy(cfg, EntityRequests)
	require.NoError(t, err)
	defer reopened.Close()
	_, ok, err := reopened.FindByID(ctx, "req-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUnsupportedStorageType(t *testing.T) {
	_, err := NewStrategy(Config{Type: "etcd"}, EntityRequests)
	require.Error(t, err)
	var unsupported *ErrUnsupportedStorage
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, "etcd", unsupported.Type)
}

func TestRegisteredTypes(t *testing.T) {
	types := RegisteredTypes()
	assert.Contains(t, types, TypeFile)
	assert.Contains(t, types, TypeBolt)
	assert.Contains(t, types, TypeSQLite)
}
