// Package storage provides the persistence backends behind the gateway's
// repository interfaces.
//
// Backends are selected by URI scheme through Factory: memory:// yields the
// in-process store used in tests and local development, postgres:// (or
// postgresql://) a pgx connection pool against the schema in schema.sql.
//
// Both backends implement the atomic primitives the security model needs
// without in-process coordination between replicas: conditional consume of
// nonces and jtis, and upsert-increment of fixed usage windows.
package storage
