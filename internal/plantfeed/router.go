package plantfeed

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	defaultRegistryLookupTimeout = 5 * time.Second
	defaultPoolMaxOpenConns      = 10
	defaultPoolMaxIdleConns      = 5
)

// DSNResolver turns a registry record into a shard DSN. Incomplete or
// unknown connection parameters are a configuration error.
type DSNResolver func(record TenantRecord) (string, error)

// PoolOpener opens and verifies a connection pool for a shard DSN.
type PoolOpener func(ctx context.Context, dsn string) (*sql.DB, error)

// TenantHandle is a live shard pool for one tenant. Handles are owned
// exclusively by the Router's cache and closed at process shutdown.
type TenantHandle struct {
	tenantID  string
	name      string
	db        *sql.DB
	createdAt time.Time

	schemaOnce sync.Once
	schemaErr  error
}

func (h *TenantHandle) TenantID() string { return h.tenantID }
func (h *TenantHandle) TenantName() string { return h.name }
func (h *TenantHandle) DB() *sql.DB { return h.db }

type RouterOptions struct {
	Registry      TenantRegistry
	ResolveDSN    DSNResolver
	OpenPool      PoolOpener
	LookupTimeout time.Duration
	Logger        *slog.Logger
	Metrics       *Metrics
}

// Router resolves a tenant id to its shard pool, creating and caching
// the pool on first access. Registry lookups happen at most once per
// tenant per process lifetime absent failures; there is no eviction, so
// stale registry entries require a restart (documented limitation).
type Router struct {
	registry      TenantRegistry
	resolveDSN    DSNResolver
	openPool      PoolOpener
	lookupTimeout time.Duration
	logger        *slog.Logger
	metrics       *Metrics

	mu      sync.Mutex
	handles map[string]*TenantHandle
	creates map[string]*sync.Mutex
}

func NewRouter(opts RouterOptions) *Router {
	openPool := opts.OpenPool
	if openPool == nil {
		openPool = OpenPostgresPool
	}
	lookupTimeout := opts.LookupTimeout
	if lookupTimeout <= 0 {
		lookupTimeout = defaultRegistryLookupTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		registry:      opts.Registry,
		resolveDSN:    opts.ResolveDSN,
		openPool:      openPool,
		lookupTimeout: lookupTimeout,
		logger:        logger.With("component", "router"),
		metrics:       opts.Metrics,
		handles:       map[string]*TenantHandle{},
		creates:       map[string]*sync.Mutex{},
	}
}

// OpenPostgresPool is the default PoolOpener: open, bound the pool, and
// verify reachability before the handle is handed out.
func OpenPostgresPool(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(defaultPoolMaxOpenConns)
	db.SetMaxIdleConns(defaultPoolMaxIdleConns)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Resolve returns the cached handle for tenantID, creating it on first
// access. Creation is guarded by a tenant-scoped lock with a re-check
// after acquisition, so concurrent first access builds exactly one pool
// and tenant A's creation never blocks tenant B's.
func (r *Router) Resolve(ctx context.Context, tenantID string) (*TenantHandle, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenant id is required", ErrInvalidInput)
	}
	if handle := r.cached(tenantID); handle != nil {
		return handle, nil
	}

	lock := r.createLock(tenantID)
	lock.Lock()
	defer lock.Unlock()

	if handle := r.cached(tenantID); handle != nil {
		return handle, nil
	}

	lookupCtx, cancel := context.WithTimeout(ctx, r.lookupTimeout)
	defer cancel()
	record, err := r.registry.LookupTenant(lookupCtx, tenantID)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("%w: central registry lookup for tenant %s: %v", ErrConnectionFailure, tenantID, err)
		}
		return nil, err
	}

	dsn, err := r.resolveDSN(record)
	if err != nil {
		if errors.Is(err, ErrTenantMisconfigured) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: tenant %s: %v", ErrTenantMisconfigured, tenantID, err)
	}

	db, err := r.openPool(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: shard for tenant %s unreachable: %v", ErrConnectionFailure, tenantID, err)
	}

	handle := &TenantHandle{
		tenantID:  tenantID,
		name:      record.Name,
		db:        db,
		createdAt: time.Now().UTC(),
	}
	r.mu.Lock()
	r.handles[tenantID] = handle
	r.mu.Unlock()

	r.metrics.poolCreated()
	r.logger.Info("created tenant pool", "tenant", tenantID, "name", record.Name)
	return handle, nil
}

func (r *Router) cached(tenantID string) *TenantHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handles[tenantID]
}

// createLock returns the per-tenant creation lock. The shared map guard
// is held only for the map access, never across I/O.
func (r *Router) createLock(tenantID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.creates[tenantID]
	if !ok {
		lock = &sync.Mutex{}
		r.creates[tenantID] = lock
	}
	return lock
}

// Snapshot lists the cached pools, ordered by tenant id.
func (r *Router) Snapshot() []PoolInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	infos := make([]PoolInfo, 0, len(r.handles))
	for _, handle := range r.handles {
		stats := handle.db.Stats()
		infos = append(infos, PoolInfo{
			TenantID:        handle.tenantID,
			TenantName:      handle.name,
			CreatedAt:       handle.createdAt,
			OpenConnections: stats.OpenConnections,
			InUse:           stats.InUse,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].TenantID < infos[j].TenantID })
	return infos
}

// Close tears down every cached pool. Intended for process shutdown.
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for tenantID, handle := range r.handles {
		if err := handle.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(r.handles, tenantID)
	}
	return firstErr
}
