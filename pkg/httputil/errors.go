package httputil

import (
	"errors"
	"net/http"

	"github.com/platinummonkey/versionmanager/pkg/auth"
	"github.com/platinummonkey/versionmanager/pkg/instances"
	"github.com/platinummonkey/versionmanager/pkg/invites"
	"github.com/platinummonkey/versionmanager/pkg/observability"
	"github.com/platinummonkey/versionmanager/pkg/poolcache"
	"github.com/platinummonkey/versionmanager/pkg/settings"
	"github.com/platinummonkey/versionmanager/pkg/storage"
	"github.com/platinummonkey/versionmanager/pkg/users"
	"github.com/platinummonkey/versionmanager/pkg/versions"
)

const internalMessage = "Internal server error"

// StatusFor maps an application error to an HTTP status
func StatusFor(err error) int {
	var (
		forbidden *auth.ForbiddenError
		misconfig *poolcache.MisconfiguredTenantError
		connErr   *poolcache.ConnectionError
		storeErr  *storage.StoreError
	)
	switch {
	case errors.Is(err, auth.ErrNotAuthenticated):
		return http.StatusUnauthorized
	case errors.As(err, &forbidden), errors.Is(err, auth.ErrForbidden), errors.Is(err, auth.ErrNoAccess):
		return http.StatusForbidden
	case errors.As(err, &misconfig), errors.Is(err, versions.ErrTableMissing):
		return http.StatusPreconditionRequired
	case errors.As(err, &connErr):
		return http.StatusInternalServerError
	case errors.As(err, &storeErr):
		return http.StatusServiceUnavailable
	case errors.Is(err, users.ErrAlreadyBootstrapped),
		errors.Is(err, users.ErrEmailTaken),
		errors.Is(err, instances.ErrSlugTaken):
		return http.StatusConflict
	case errors.Is(err, users.ErrNotFound),
		errors.Is(err, instances.ErrNotFound),
		errors.Is(err, instances.ErrMembershipNotFound),
		errors.Is(err, invites.ErrNotFound),
		errors.Is(err, versions.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, instances.ErrDefaultInstance),
		errors.Is(err, instances.ErrInvalidSlug),
		errors.Is(err, instances.ErrNameRequired),
		errors.Is(err, settings.ErrInvalidSettings),
		errors.Is(err, poolcache.ErrNoTenant),
		errors.Is(err, versions.ErrInvalidInput),
		errors.Is(err, versions.ErrInvalidJSON),
		errors.Is(err, versions.ErrNoIDs),
		errors.Is(err, versions.ErrInvalidKeep):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// messageFor hides internals of unclassified errors
func messageFor(err error, status int) string {
	var (
		storeErr *storage.StoreError
		connErr  *poolcache.ConnectionError
	)
	switch {
	case errors.As(err, &connErr):
		return err.Error()
	case errors.As(err, &storeErr):
		return "Service temporarily unavailable"
	case status == http.StatusInternalServerError:
		return internalMessage
	}
	return err.Error()
}

// WriteAppError writes the mapped status and message. Server-side failures
// are logged with the request logger.
func WriteAppError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		observability.FromContext(r.Context()).
			WithError(err).
			WithField("status", status).
			WithField("path", r.URL.Path).
			Error("request failed")
	}
	WriteErrorMessage(w, status, messageFor(err, status))
}
