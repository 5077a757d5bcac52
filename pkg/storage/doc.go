/*
Package storage provides the pluggable persistence layer behind Paddock's
repositories.

A Strategy is a key-value store over opaque JSON blobs scoped to one entity
type. Four interchangeable strategies are registered at startup:

  - "file":     one JSON document per entity type with .bak backup and
    atomic rename replace (single-process, RWMutex guarded)
  - "bolt":     bbolt buckets with native transactions
  - "sqlite":   one row per entity through database/sql
  - "dynamodb": one item per entity, batches map to BatchWriteItem

The registry maps a storage-type string to a (strategy factory, config
factory, unit-of-work factory) triple; adding a storage type is one
Register call. Repositories layer typed CRUD and per-aggregate exclusion on
top of a Strategy, and the UnitOfWork groups repository mutations into a
single commit that dispatches collected domain events only after the
storage commit succeeds.
*/
package storage
