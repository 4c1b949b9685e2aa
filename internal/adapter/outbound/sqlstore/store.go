// Package sqlstore persists policies in PostgreSQL or SQLite through sqlx.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"  // postgres driver
	_ "modernc.org/sqlite" // sqlite driver

	"github.com/Sentinel-Gate/accessgate/internal/domain/policy"
)

// Supported driver names.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

const policyColumns = `id, name, description, subject, object, conditions, action, priority, enabled, version, created_at, updated_at`

const schema = `
CREATE TABLE IF NOT EXISTS access_policies (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	subject     TEXT NOT NULL,
	object      TEXT NOT NULL,
	conditions  TEXT NOT NULL DEFAULT '{}',
	action      TEXT NOT NULL,
	priority    INTEGER NOT NULL DEFAULT 0,
	enabled     BOOLEAN NOT NULL DEFAULT TRUE,
	version     BIGINT NOT NULL DEFAULT 1,
	created_at  BIGINT NOT NULL,
	updated_at  BIGINT NOT NULL
)`

const enabledIndex = `CREATE INDEX IF NOT EXISTS idx_access_policies_enabled ON access_policies (enabled, priority)`

// policyRow is the column layout of access_policies.
// Timestamps are stored as Unix nanoseconds so both drivers round-trip them exactly.
type policyRow struct {
	ID          string `db:"id"`
	Name        string `db:"name"`
	Description string `db:"description"`
	Subject     string `db:"subject"`
	Object      string `db:"object"`
	Conditions  string `db:"conditions"`
	Action      string `db:"action"`
	Priority    int    `db:"priority"`
	Enabled     bool   `db:"enabled"`
	Version     int64  `db:"version"`
	CreatedAt   int64  `db:"created_at"`
	UpdatedAt   int64  `db:"updated_at"`
}

func rowFromPolicy(p *policy.Policy) (policyRow, error) {
	conds := p.Conditions
	if conds == nil {
		conds = map[string]string{}
	}
	raw, err := json.Marshal(conds)
	if err != nil {
		return policyRow{}, fmt.Errorf("encode conditions: %w", err)
	}
	return policyRow{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Subject:     p.Subject,
		Object:      p.Object,
		Conditions:  string(raw),
		Action:      string(p.Action),
		Priority:    p.Priority,
		Enabled:     p.Enabled,
		Version:     p.Version,
		CreatedAt:   p.CreatedAt.UTC().UnixNano(),
		UpdatedAt:   p.UpdatedAt.UTC().UnixNano(),
	}, nil
}

func (r policyRow) toPolicy() (policy.Policy, error) {
	conds := map[string]string{}
	if r.Conditions != "" {
		if err := json.Unmarshal([]byte(r.Conditions), &conds); err != nil {
			return policy.Policy{}, fmt.Errorf("decode conditions of policy %q: %w", r.ID, err)
		}
	}
	return policy.Policy{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Subject:     r.Subject,
		Object:      r.Object,
		Conditions:  conds,
		Action:      policy.Action(r.Action),
		Priority:    r.Priority,
		Enabled:     r.Enabled,
		Version:     r.Version,
		CreatedAt:   time.Unix(0, r.CreatedAt).UTC(),
		UpdatedAt:   time.Unix(0, r.UpdatedAt).UTC(),
	}, nil
}

// Store implements policy.PolicyRepository on a SQL database.
type Store struct {
	db *sqlx.DB
}

// NewStore wraps an open database. Call Migrate before first use.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Open connects to driver/dsn and returns a Store.
// SQLite connections are limited to one so ":memory:" databases stay shared.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	switch driver {
	case DriverPostgres, DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}

	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
	}
	return NewStore(db), nil
}

// Migrate creates the policy table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range []string{schema, enabledIndex} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate policy schema: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetEnabledPolicies returns all enabled policies. The hint is not used:
// object and subject patterns cannot be pushed into a plain WHERE clause.
func (s *Store) GetEnabledPolicies(ctx context.Context, _ policy.ScopeHint) ([]policy.Policy, error) {
	query := s.db.Rebind(`SELECT ` + policyColumns + ` FROM access_policies WHERE enabled = ? ORDER BY priority DESC, id ASC`)
	return s.selectPolicies(ctx, query, true)
}

// ListPolicies returns every policy ordered by priority.
func (s *Store) ListPolicies(ctx context.Context) ([]policy.Policy, error) {
	return s.selectPolicies(ctx, `SELECT `+policyColumns+` FROM access_policies ORDER BY priority DESC, id ASC`)
}

func (s *Store) selectPolicies(ctx context.Context, query string, args ...any) ([]policy.Policy, error) {
	var rows []policyRow
	if err := sqlx.SelectContext(ctx, s.db, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list policies: %w", err)
	}

	result := make([]policy.Policy, 0, len(rows))
	for _, r := range rows {
		p, err := r.toPolicy()
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, nil
}

// GetPolicy returns a policy by ID or policy.ErrPolicyNotFound.
func (s *Store) GetPolicy(ctx context.Context, id string) (*policy.Policy, error) {
	var r policyRow
	query := s.db.Rebind(`SELECT ` + policyColumns + ` FROM access_policies WHERE id = ?`)
	err := sqlx.GetContext(ctx, s.db, &r, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, policy.ErrPolicyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get policy: %w", err)
	}
	p, err := r.toPolicy()
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// SavePolicy inserts p or replaces the stored row with the same ID.
// The upsert is a single statement, so readers see the old or new row, never a mix.
func (s *Store) SavePolicy(ctx context.Context, p *policy.Policy) error {
	if p == nil {
		return fmt.Errorf("%w: nil policy", policy.ErrInvalidPolicy)
	}
	row, err := rowFromPolicy(p)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO access_policies (` + policyColumns + `)
		VALUES (:id, :name, :description, :subject, :object, :conditions, :action, :priority, :enabled, :version, :created_at, :updated_at)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			subject = excluded.subject,
			object = excluded.object,
			conditions = excluded.conditions,
			action = excluded.action,
			priority = excluded.priority,
			enabled = excluded.enabled,
			version = excluded.version,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at`
	if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("failed to save policy: %w", err)
	}
	return nil
}

// DeletePolicy removes a policy by ID or returns policy.ErrPolicyNotFound.
func (s *Store) DeletePolicy(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM access_policies WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete policy: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete policy: %w", err)
	}
	if n == 0 {
		return policy.ErrPolicyNotFound
	}
	return nil
}

var _ policy.PolicyRepository = (*Store)(nil)
