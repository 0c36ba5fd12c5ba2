package plantfeed

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	_ "github.com/lib/pq"
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// TenantRecord is the registry entry for one active tenant. The
// connection key selects a base DSN; the database key names the shard.
type TenantRecord struct {
	ID            string
	Name          string
	DatabaseKey   string
	ConnectionKey string
}

// TenantRegistry is the central registry store. The router is its only
// consumer and never writes through it.
type TenantRegistry interface {
	LookupTenant(ctx context.Context, tenantID string) (TenantRecord, error)
}

// PostgresRegistry reads plants_registry from the central database.
type PostgresRegistry struct {
	dsn    string
	openDB sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewPostgresRegistry(dsn string) (*PostgresRegistry, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	return &PostgresRegistry{
		dsn:    dsn,
		openDB: sql.Open,
	}, nil
}

func (r *PostgresRegistry) LookupTenant(ctx context.Context, tenantID string) (TenantRecord, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(tenantID), 10, 64)
	if err != nil {
		return TenantRecord{}, fmt.Errorf("%w: tenant id %q is not numeric", ErrTenantNotFound, tenantID)
	}
	if err := r.ensureReady(); err != nil {
		return TenantRecord{}, fmt.Errorf("%w: central registry: %v", ErrConnectionFailure, err)
	}

	const query = `
		SELECT name, database_key, connection_key
		FROM plants_registry
		WHERE id = $1 AND is_active = true`
	var record TenantRecord
	record.ID = strconv.FormatInt(id, 10)
	var databaseKey, connectionKey sql.NullString
	err = r.db.QueryRowContext(ctx, query, id).Scan(&record.Name, &databaseKey, &connectionKey)
	if errors.Is(err, sql.ErrNoRows) {
		return TenantRecord{}, fmt.Errorf("%w: tenant %s absent or inactive", ErrTenantNotFound, tenantID)
	}
	if err != nil {
		return TenantRecord{}, fmt.Errorf("%w: central registry lookup: %v", ErrConnectionFailure, err)
	}
	record.DatabaseKey = strings.TrimSpace(databaseKey.String)
	record.ConnectionKey = strings.TrimSpace(connectionKey.String)
	if record.DatabaseKey == "" || record.ConnectionKey == "" {
		return TenantRecord{}, fmt.Errorf("%w: tenant %s has incomplete connection parameters", ErrTenantMisconfigured, tenantID)
	}
	return record, nil
}

func (r *PostgresRegistry) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (r *PostgresRegistry) ensureReady() error {
	if r == nil {
		return ErrInvalidInput
	}
	r.initOnce.Do(func() {
		// No ping here: connectivity problems must surface per lookup so
		// the next request retries fresh instead of latching a transient
		// failure for the process lifetime.
		db, err := r.openDB("postgres", r.dsn)
		if err != nil {
			r.initErr = err
			return
		}
		r.db = db
	})
	return r.initErr
}
