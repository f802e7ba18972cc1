// Package storage defines the persistence seams shared by the control-plane stores.
//
// # DBTX
//
// Every store (users, instances, settings, invites, audit) is written against
// DBTX rather than *sql.DB. A *sql.DB, a *sql.Tx and the control-plane
// postgres.AppPool all satisfy it, so the application pool can be recreated
// after a connection-string change without rebuilding the stores.
//
// # Errors
//
// Stores return plain wrapped errors. Components that consume them as
// collaborators (the access resolver, the pool cache) wrap failures in a
// *StoreError so callers can tell a transient infrastructure failure from a
// security decision:
//
//	if errors.As(err, new(*storage.StoreError)) {
//		// retryable, 503
//	}
//
// Postgres error classification helpers (IsUniqueViolation, PgCode) sit on
// top of github.com/lib/pq.
package storage
