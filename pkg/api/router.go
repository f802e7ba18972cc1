package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/versionmanager/pkg/audit"
	"github.com/platinummonkey/versionmanager/pkg/httputil"
	"github.com/platinummonkey/versionmanager/pkg/middleware"
	"github.com/platinummonkey/versionmanager/pkg/observability"
	"github.com/platinummonkey/versionmanager/pkg/users"
)

// NewRouter builds the API router with every handler group registered
// under /api
func NewRouter(d Deps) *mux.Router {
	if d.Logger == nil {
		d.Logger = observability.NewNopLogger()
	}
	if d.Audit == nil {
		d.Audit = noopAudit{}
	}

	router := mux.NewRouter()
	router.Use(observability.RecoveryMiddleware(d.Logger))
	router.Use(middleware.RequestLogger(d.Logger))
	if d.Metrics != nil {
		router.Use(observability.HTTPMetricsMiddleware(d.Metrics))
	}
	router.Use(middleware.Identity)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(httputil.Chain(httputil.ContentTypeMiddleware, httputil.MaxBytesMiddleware(httputil.MaxBodyBytes)))

	NewAuthHandlers(d).RegisterRoutes(api)
	NewUserHandlers(d).RegisterRoutes(api)
	NewProfileHandlers(d).RegisterRoutes(api)
	NewInstanceHandlers(d).RegisterRoutes(api)
	NewSettingsHandlers(d).RegisterRoutes(api)
	NewVersionHandlers(d).RegisterRoutes(api)
	NewAuditHandlers(d).RegisterRoutes(api)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteNotFound(w, "Not found")
	})
	return router
}

// limited wraps credential endpoints with the auth rate limiter
func limited(d Deps, h http.HandlerFunc) http.Handler {
	if d.AuthLimiter == nil {
		return h
	}
	return middleware.RateLimit(d.AuthLimiter, d.Logger)(h)
}

// record writes an audit event attributed to actor, which may be nil while
// bootstrapping
func record(ctx context.Context, log audit.Logger, actor *users.User, event audit.Event) {
	if actor != nil {
		event.ActorEmail = actor.Email
	}
	log.Log(ctx, event)
}

type noopAudit struct {
	audit.NoopLogger
}

func (noopAudit) List(context.Context, audit.ListFilter) ([]*audit.Event, error) {
	return []*audit.Event{}, nil
}

func (noopAudit) Count(context.Context, string) (int64, error) {
	return 0, nil
}
