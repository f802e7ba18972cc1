// Package access decides what a caller may do on an instance.
//
// The effective role is derived on the server from the caller's session:
//
//	SuperAdmin > instance Admin > instance User > none
//
// A SuperAdmin is SuperAdmin on every instance. Everyone else gets the role
// of their membership row, or no access when there is none. Collaborator
// failures are reported as *storage.StoreError and never turn into a grant.
//
// While the system has no accounts it is Bootstrapping. Only AdmitBootstrap
// honours that state, and once any account exists the resolver caches
// Operational for the life of the process.
package access
