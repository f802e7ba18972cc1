// Package users stores application accounts in the control-plane database.
//
// An account is either Invited (no password yet) or Active. The very first
// account is created through CreateFirst, which succeeds at most once for the
// lifetime of the database: the insert is conditional on the table being
// empty and a partial unique index on the bootstrap flag rejects a concurrent
// second winner.
package users
