package api

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/versionmanager/pkg/audit"
	"github.com/platinummonkey/versionmanager/pkg/auth"
	"github.com/platinummonkey/versionmanager/pkg/poolcache"
	"github.com/platinummonkey/versionmanager/pkg/settings"
	"github.com/platinummonkey/versionmanager/pkg/storage"
)

func validSettings() map[string]interface{} {
	return map[string]interface{}{
		"db": map[string]string{
			"host": "db.internal", "port": "5432", "database": "n8n", "user": "n8n",
			"password": "secret", "sslMode": "require",
		},
		"webhook": map[string]string{"url": "https://hooks.example.com", "method": "POST"},
	}
}

func TestSettingsEffectiveInstance(t *testing.T) {
	env := newTestEnv(t)
	loner := env.addUser(t, "Loner", "loner@example.com", "", false)
	admin := env.addUser(t, "Admin", "admin@example.com", "", false)
	acme := env.addInstance(t, "Acme", "acme")
	env.addMember(t, admin.ID, acme.ID, auth.RoleAdmin)
	token := env.sessionFor(t, admin)

	// no membership and no instance requested
	rec := env.do(t, "GET", "/api/settings", env.sessionFor(t, loner), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// falls back to the first membership
	rec = env.do(t, "GET", "/api/settings", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, acme.ID, body["instanceId"])
	db := body["settings"].(map[string]interface{})["db"].(map[string]interface{})
	assert.Equal(t, settings.DefaultPort, db["port"])

	// an explicit instance is never trusted without a role on it
	rec = env.do(t, "GET", "/api/settings?instanceId=default", token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = env.do(t, "GET", "/api/settings", token, nil, withInstanceCookie("default"))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// the query parameter wins over the cookie
	rec = env.do(t, "GET", "/api/settings?instanceId="+acme.ID, token, nil, withInstanceCookie("default"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSettingsRequireAdmin(t *testing.T) {
	env := newTestEnv(t)
	user := env.addUser(t, "User", "user@example.com", "", false)
	env.addMember(t, user.ID, "default", auth.RoleUser)
	token := env.sessionFor(t, user)

	for _, tc := range []struct{ method, path string }{
		{"GET", "/api/settings"},
		{"PUT", "/api/settings"},
		{"POST", "/api/settings/test-connection"},
		{"GET", "/api/audit"},
	} {
		rec := env.do(t, tc.method, tc.path, token, validSettings())
		assert.Equal(t, http.StatusForbidden, rec.Code, tc.path)
	}
	assert.Empty(t, env.pools.invalidated)
}

func TestSaveSettings(t *testing.T) {
	env := newTestEnv(t)
	root := env.addUser(t, "Root", "root@example.com", "", true)
	token := env.sessionFor(t, root)

	bad := validSettings()
	bad["db"].(map[string]string)["sslMode"] = "prefer"
	rec := env.do(t, "PUT", "/api/settings", token, bad)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, env.pools.invalidated)

	rec = env.do(t, "PUT", "/api/settings", token, validSettings())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	db := decodeBody(t, rec)["settings"].(map[string]interface{})["db"].(map[string]interface{})
	assert.Equal(t, settings.RedactedPassword, db["password"])
	assert.Equal(t, []string{"default"}, env.pools.invalidated)

	rec = env.do(t, "GET", "/api/settings", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	db = decodeBody(t, rec)["settings"].(map[string]interface{})["db"].(map[string]interface{})
	assert.Equal(t, settings.RedactedPassword, db["password"])
	assert.Equal(t, "db.internal", db["host"])

	// saving the redacted value back keeps the stored password
	again := validSettings()
	again["db"].(map[string]string)["password"] = settings.RedactedPassword
	again["db"].(map[string]string)["host"] = "db2.internal"
	rec = env.do(t, "PUT", "/api/settings", token, again)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "secret", env.world.settings["default"].DB.Password)
	assert.Equal(t, []string{"default", "default"}, env.pools.invalidated)

	assert.Contains(t, env.audit.actions(), audit.ActionSettingsSave)
	for _, e := range env.audit.events {
		assert.NotContains(t, e.Details, "password")
	}
}

func TestTestConnection(t *testing.T) {
	env := newTestEnv(t)
	root := env.addUser(t, "Root", "root@example.com", "", true)
	token := env.sessionFor(t, root)

	rec := env.do(t, "POST", "/api/settings/test-connection", token, nil)
	assert.Equal(t, http.StatusPreconditionRequired, rec.Code)

	env.pools.err = &poolcache.ConnectionError{TenantID: "default", Err: errors.New("password authentication failed")}
	rec = env.do(t, "POST", "/api/settings/test-connection", token, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["error"], "password authentication failed")

	env.pools.err = storage.NewStoreError("load settings", errors.New("app db down"))
	rec = env.do(t, "POST", "/api/settings/test-connection", token, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotContains(t, rec.Body.String(), "app db down")
}

func TestListAuditEvents(t *testing.T) {
	env := newTestEnv(t)
	admin := env.addUser(t, "Admin", "admin@example.com", "", false)
	env.addMember(t, admin.ID, "default", auth.RoleAdmin)
	token := env.sessionFor(t, admin)

	env.audit.Log(t.Context(), audit.Event{Action: audit.ActionSettingsSave, InstanceID: "default"})
	env.audit.Log(t.Context(), audit.Event{Action: audit.ActionInstanceCreate, InstanceID: "other"})
	env.audit.Log(t.Context(), audit.Event{Action: audit.ActionUserDelete})

	rec := env.do(t, "GET", "/api/audit?limit=50", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Len(t, body["events"], 2)
	assert.EqualValues(t, 2, body["total"])
	assert.EqualValues(t, 50, body["limit"])

	rec = env.do(t, "GET", "/api/audit?limit=abc", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, "GET", "/api/audit", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
