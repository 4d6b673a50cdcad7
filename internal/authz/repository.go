package authz

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/tenantguard/internal/platform/db"
)

type dbtx interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// scopeColumn names the one authoritative tenant column of a resource table.
type scopeColumn struct {
	table  string
	column string
}

// Column names come from this closed map, never from input.
var scopeColumns = map[ResourceType]scopeColumn{
	ResourceUser:        {table: "users", column: "company_id"},
	ResourceCompany:     {table: "companies", column: "id"},
	ResourceClient:      {table: "clients", column: "company_id"},
	ResourceProject:     {table: "projects", column: "company_id"},
	ResourceTask:        {table: "tasks", column: "company_id"},
	ResourcePayment:     {table: "payments", column: "company_id"},
	ResourceInvoice:     {table: "invoices", column: "company_id"},
	ResourceProduct:     {table: "products", column: "company_id"},
	ResourceLead:        {table: "leads", column: "company_id"},
	ResourceOpportunity: {table: "opportunities", column: "company_id"},
}

// Repository provides PostgreSQL backed persistence for the permission table
// and tenant scope lookups.
type Repository struct {
	db   dbtx
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool, pool: pool}
}

// TenantOf reads only the tenant-owning column of the resource.
func (r *Repository) TenantOf(ctx context.Context, resourceType ResourceType, resourceID string) (*string, error) {
	col, ok := scopeColumns[resourceType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoScope, resourceType)
	}
	query := fmt.Sprintf(`SELECT %s::text FROM %s WHERE id = $1`, col.column, col.table)
	var tenant pgtype.Text
	if err := r.db.QueryRow(ctx, query, resourceID).Scan(&tenant); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrResourceNotFound
		}
		return nil, fmt.Errorf("authz: tenant of %s: %w", resourceType, err)
	}
	if !tenant.Valid {
		return nil, nil
	}
	return TenantRef(tenant.String), nil
}

// RolesFor returns the roles granted for the pair.
func (r *Repository) RolesFor(ctx context.Context, action Action, resourceType ResourceType) ([]Role, error) {
	rows, err := r.db.Query(ctx, `SELECT role FROM permission_grants WHERE action = $1 AND resource_type = $2 ORDER BY role`, string(action), string(resourceType))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, err
		}
		roles = append(roles, Role(role))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

// ListGrants returns all grants ordered by resource type, action and role.
func (r *Repository) ListGrants(ctx context.Context) ([]Grant, error) {
	rows, err := r.db.Query(ctx, `SELECT action, resource_type, role FROM permission_grants ORDER BY resource_type, action, role`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var grants []Grant
	for rows.Next() {
		var action, rt, role string
		if err := rows.Scan(&action, &rt, &role); err != nil {
			return nil, err
		}
		grants = append(grants, Grant{Action: Action(action), ResourceType: ResourceType(rt), Role: Role(role)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return grants, nil
}

// InsertGrant adds the triple; the unique constraint makes repeats a no-op.
func (r *Repository) InsertGrant(ctx context.Context, grant Grant) (bool, error) {
	tag, err := r.db.Exec(ctx, `INSERT INTO permission_grants (action, resource_type, role) VALUES ($1, $2, $3) ON CONFLICT (action, resource_type, role) DO NOTHING`,
		string(grant.Action), string(grant.ResourceType), string(grant.Role))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// DeleteGrant removes the triple.
func (r *Repository) DeleteGrant(ctx context.Context, grant Grant) (bool, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM permission_grants WHERE action = $1 AND resource_type = $2 AND role = $3`,
		string(grant.Action), string(grant.ResourceType), string(grant.Role))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ReplaceRoles swaps the role set of a pair inside one transaction.
func (r *Repository) ReplaceRoles(ctx context.Context, action Action, resourceType ResourceType, roles []Role) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM permission_grants WHERE action = $1 AND resource_type = $2`, string(action), string(resourceType)); err != nil {
			return err
		}
		for _, role := range roles {
			if _, err := tx.Exec(ctx, `INSERT INTO permission_grants (action, resource_type, role) VALUES ($1, $2, $3) ON CONFLICT (action, resource_type, role) DO NOTHING`,
				string(action), string(resourceType), string(role)); err != nil {
				return err
			}
		}
		return nil
	})
}

var (
	_ GrantRepository = (*Repository)(nil)
	_ ScopeRepository = (*Repository)(nil)
)
