// Package httputil provides JSON request and response helpers shared by the
// API handlers.
//
// Every error reply has the body {"error": "..."}. WriteAppError maps typed
// errors from the stores, the access resolver and the pool cache onto HTTP
// statuses:
//
//	NotAuthenticated            401
//	Forbidden / NoAccess        403
//	already exists / slug taken 409
//	MisconfiguredTenantError    428
//	ConnectionError             500
//	StoreError                  503
package httputil
