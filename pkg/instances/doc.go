// Package instances manages tenants ("instances") and the per-tenant
// memberships that grant users the Admin or User role.
//
// The reserved instance DefaultID always exists. Delete refuses it with
// ErrDefaultInstance and a database trigger enforces the same rule for any
// other writer.
//
// Memberships are keyed by (user, instance) and cascade when either side is
// deleted.
package instances
