// Package api provides the HTTP JSON API of the version manager.
//
// # Overview
//
// The API is built on gorilla/mux and organized into handler groups, each
// with a constructor and a RegisterRoutes method:
//
//   - AuthHandlers: bootstrap, login, logout, invitations and passwords
//   - UserHandlers: account administration (SuperAdmin)
//   - ProfileHandlers: the caller's own name and password
//   - InstanceHandlers: instances, memberships, instance switching and pool status
//   - SettingsHandlers: per-instance connection and webhook settings
//   - VersionHandlers: workflow version history, metadata, bulk delete, prune,
//     export and workflow groups
//   - AuditHandlers: the audit trail of an instance
//
// # Authorization
//
// Handlers never trust client-supplied roles. The middleware.Identity
// middleware only copies the session token and the requested instance into
// the request context; every handler then asks the access.Resolver for the
// caller's effective role on the instance it operates on.
//
//	router := api.NewRouter(api.Deps{
//		Resolver:  resolver,
//		Users:     userStore,
//		Instances: instanceService,
//		Settings:  settingsStore,
//		Invites:   inviteStore,
//		Sessions:  sessionStore,
//		Pools:     poolCache,
//		Versions:  versions.NewService(poolCache, versions.NewMetadataStore(db)),
//		Groups:    versions.NewGroupStore(db),
//		Audit:     auditLogger,
//		Logger:    logger,
//	})
//
// # Errors
//
// All failures are written as {"error": "..."} bodies through
// httputil.WriteAppError, which maps NotAuthenticated to 401, NoAccess and
// Forbidden to 403, misconfigured instance settings to 428, pool connection
// failures to 500 and transient store failures to 503.
package api
