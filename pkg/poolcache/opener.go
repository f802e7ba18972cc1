package poolcache

import (
	"context"
	"database/sql"
	"net"
	"net/url"

	"github.com/platinummonkey/versionmanager/pkg/settings"
	"github.com/platinummonkey/versionmanager/pkg/storage/postgres"
)

// Opener builds and verifies a pool for complete connection settings
type Opener func(ctx context.Context, db settings.Database) (*sql.DB, error)

// DSN renders connection settings as a lib/pq URL
func DSN(db settings.Database) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(db.User, db.Password),
		Host:   net.JoinHostPort(db.Host, db.EffectivePort()),
		Path:   "/" + db.Database,
	}
	q := url.Values{}
	q.Set("sslmode", db.EffectiveSSLMode())
	u.RawQuery = q.Encode()
	return u.String()
}

// PostgresOpener opens pools with lib/pq using cfg for sizing and ping timeout
func PostgresOpener(cfg postgres.ConnectionConfig) Opener {
	return func(ctx context.Context, db settings.Database) (*sql.DB, error) {
		return postgres.OpenDB(ctx, DSN(db), cfg)
	}
}
