// Package middleware provides the HTTP middleware in front of the API router.
//
// RequestLogger assigns X-Request-ID and a request-scoped logger. Identity
// copies the vm_user session token and the requested instance (?instanceId=
// or the vm_instance cookie) into the context. RateLimit throttles the
// credential endpoints per client IP, in memory or through Redis when
// sessions are Redis-backed.
package middleware
