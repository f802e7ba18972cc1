package poolcache

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/versionmanager/pkg/observability"
	"github.com/platinummonkey/versionmanager/pkg/settings"
	"github.com/platinummonkey/versionmanager/pkg/storage"
)

// DefaultMaxPools bounds the number of live tenant pools
const DefaultMaxPools = 10

// Eviction reasons reported to the Observer
const (
	ReasonCapacity        = "capacity"
	ReasonSettingsChanged = "settings_changed"
	ReasonInvalidated     = "invalidated"
	ReasonShutdown        = "shutdown"
)

var tracer = otel.Tracer("github.com/platinummonkey/versionmanager/pkg/poolcache")

// closePool is replaced in tests to count closes
var closePool = func(db *sql.DB) error {
	return db.Close()
}

// SettingsSource supplies the current connection settings of a tenant
type SettingsSource interface {
	ConnectionSettings(ctx context.Context, tenantID string) (settings.Database, error)
}

// Observer receives cache events; observability.Metrics implements it
type Observer interface {
	PoolHit()
	PoolMiss()
	PoolEvicted(reason string)
	PoolBuilt(duration time.Duration, err error)
	PoolCount(n int)
}

// Options configures a Cache
type Options struct {
	MaxPools int
	Opener   Opener
	Observer Observer
	Logger   *observability.Logger
	Now      func() time.Time
}

type entry struct {
	tenantID    string
	fingerprint string
	db          *sql.DB
	createdAt   time.Time
	lastUsedAt  time.Time
}

type retired struct {
	entry  *entry
	reason string
}

// PoolInfo describes one cached pool
type PoolInfo struct {
	TenantID        string    `json:"instanceId"`
	Fingerprint     string    `json:"fingerprint"`
	CreatedAt       time.Time `json:"createdAt"`
	LastUsedAt      time.Time `json:"lastUsedAt"`
	OpenConnections int       `json:"openConnections"`
	InUse           int       `json:"inUse"`
}

// Cache maps tenant ids to live pools
type Cache struct {
	source   SettingsSource
	open     Opener
	observer Observer
	logger   *observability.Logger
	now      func() time.Time
	maxPools int

	mu      sync.Mutex
	lru     *simplelru.LRU[string, *entry]
	reason  string
	retired []retired
	closed  bool

	group singleflight.Group
}

// New creates a Cache reading settings from source
func New(source SettingsSource, opts Options) (*Cache, error) {
	if source == nil {
		return nil, fmt.Errorf("settings source is required")
	}
	if opts.MaxPools <= 0 {
		opts.MaxPools = DefaultMaxPools
	}
	if opts.Opener == nil {
		return nil, fmt.Errorf("opener is required")
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.Logger == nil {
		opts.Logger = observability.NewNopLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	c := &Cache{
		source:   source,
		open:     opts.Opener,
		observer: opts.Observer,
		logger:   opts.Logger,
		now:      opts.Now,
		maxPools: opts.MaxPools,
	}
	lru, err := simplelru.NewLRU[string, *entry](opts.MaxPools, c.onEvict)
	if err != nil {
		return nil, fmt.Errorf("failed to create lru: %w", err)
	}
	c.lru = lru
	return c, nil
}

// onEvict runs under c.mu; pools are queued and closed after unlock
func (c *Cache) onEvict(_ string, e *entry) {
	reason := c.reason
	if reason == "" {
		reason = ReasonCapacity
	}
	c.retired = append(c.retired, retired{entry: e, reason: reason})
}

// unlockAndClose releases c.mu and closes every pool retired while it was held
func (c *Cache) unlockAndClose() {
	victims := c.retired
	c.retired = nil
	c.reason = ""
	n := c.lru.Len()
	c.mu.Unlock()

	c.observer.PoolCount(n)
	for _, v := range victims {
		c.observer.PoolEvicted(v.reason)
		c.logger.WithFields(map[string]interface{}{
			"instance_id": v.entry.tenantID,
			"reason":      v.reason,
		}).Info("closing tenant pool")
		if err := closePool(v.entry.db); err != nil {
			c.logger.WithError(err).WithField("instance_id", v.entry.tenantID).Warn("failed to close tenant pool")
		}
	}
}

// Get returns the pool for tenantID, building it if needed
func (c *Cache) Get(ctx context.Context, tenantID string) (*sql.DB, error) {
	ctx, span := tracer.Start(ctx, "poolcache.Get")
	defer span.End()
	span.SetAttributes(attribute.String("instance.id", tenantID))

	db, err := c.get(ctx, tenantID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return db, err
}

func (c *Cache) get(ctx context.Context, tenantID string) (*sql.DB, error) {
	if tenantID == "" {
		return nil, ErrNoTenant
	}

	conn, err := c.source.ConnectionSettings(ctx, tenantID)
	if err != nil {
		return nil, storage.NewStoreError("load instance settings", err)
	}
	if missing := conn.Missing(); len(missing) > 0 {
		return nil, &MisconfiguredTenantError{TenantID: tenantID, Missing: missing}
	}
	fp := conn.Fingerprint()

	db, err := c.lookup(tenantID, fp)
	if err != nil {
		return nil, err
	}
	if db != nil {
		c.observer.PoolHit()
		return db, nil
	}
	c.observer.PoolMiss()

	ch := c.group.DoChan(tenantID+"\x00"+fp, func() (interface{}, error) {
		// another flight may have stored the pool between our lookup and now
		if db, err := c.lookup(tenantID, fp); err != nil || db != nil {
			return db, err
		}

		start := c.now()
		db, err := c.open(context.WithoutCancel(ctx), conn)
		c.observer.PoolBuilt(c.now().Sub(start), err)
		if err != nil {
			c.logger.WithError(err).WithField("instance_id", tenantID).Error("failed to open tenant pool")
			return nil, &ConnectionError{TenantID: tenantID, Err: err}
		}
		if err := c.store(tenantID, fp, db); err != nil {
			return nil, err
		}
		return db, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*sql.DB), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// lookup returns the cached pool when its fingerprint matches. A stale entry
// is removed and closed.
func (c *Cache) lookup(tenantID, fp string) (*sql.DB, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	e, ok := c.lru.Get(tenantID)
	if ok && e.fingerprint == fp {
		e.lastUsedAt = c.now()
		c.mu.Unlock()
		return e.db, nil
	}
	if ok {
		c.reason = ReasonSettingsChanged
		c.lru.Remove(tenantID)
	}
	c.unlockAndClose()
	return nil, nil
}

func (c *Cache) store(tenantID, fp string, db *sql.DB) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		if err := closePool(db); err != nil {
			c.logger.WithError(err).WithField("instance_id", tenantID).Warn("failed to close tenant pool")
		}
		return ErrClosed
	}
	if old, ok := c.lru.Peek(tenantID); ok && old.db != db {
		c.reason = ReasonSettingsChanged
		c.lru.Remove(tenantID)
	}
	c.reason = ReasonCapacity
	now := c.now()
	c.lru.Add(tenantID, &entry{
		tenantID:    tenantID,
		fingerprint: fp,
		db:          db,
		createdAt:   now,
		lastUsedAt:  now,
	})
	c.unlockAndClose()
	return nil
}

// Invalidate removes and closes the pool of tenantID, if any
func (c *Cache) Invalidate(tenantID string) {
	c.mu.Lock()
	c.reason = ReasonInvalidated
	c.lru.Remove(tenantID)
	c.unlockAndClose()
}

// CloseAll closes every pool; later Get calls return ErrClosed
func (c *Cache) CloseAll() {
	c.mu.Lock()
	c.closed = true
	c.reason = ReasonShutdown
	c.lru.Purge()
	c.unlockAndClose()
}

// Len returns the number of live pools
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// MaxPools returns the capacity
func (c *Cache) MaxPools() int {
	return c.maxPools
}

// Snapshot lists cached pools from least to most recently used
func (c *Cache) Snapshot() []PoolInfo {
	c.mu.Lock()
	entries := make([]*entry, 0, c.lru.Len())
	for _, key := range c.lru.Keys() {
		if e, ok := c.lru.Peek(key); ok {
			entries = append(entries, e)
		}
	}
	infos := make([]PoolInfo, 0, len(entries))
	for _, e := range entries {
		infos = append(infos, PoolInfo{
			TenantID:    e.tenantID,
			Fingerprint: e.fingerprint[:12],
			CreatedAt:   e.createdAt,
			LastUsedAt:  e.lastUsedAt,
		})
	}
	c.mu.Unlock()

	// Stats takes the pool's own lock
	for i, e := range entries {
		stats := e.db.Stats()
		infos[i].OpenConnections = stats.OpenConnections
		infos[i].InUse = stats.InUse
	}
	return infos
}

type nopObserver struct{}

func (nopObserver) PoolHit()                      {}
func (nopObserver) PoolMiss()                     {}
func (nopObserver) PoolEvicted(string)            {}
func (nopObserver) PoolBuilt(time.Duration, error) {}
func (nopObserver) PoolCount(int)                 {}
