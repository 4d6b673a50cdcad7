package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type dbtx interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

const insertRecord = `
INSERT INTO audit_records (id, principal_id, tenant_id, action, resource_type, resource_id, outcome, detail, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO NOTHING`

const timelineWindow = `
SELECT id::text, principal_id, tenant_id, action, resource_type, resource_id, outcome, detail, occurred_at
FROM audit_records
WHERE ($1::text IS NULL OR tenant_id = $1)
  AND ($2::text IS NULL OR principal_id = $2)
  AND ($3::timestamptz IS NULL OR occurred_at >= $3)
  AND ($4::timestamptz IS NULL OR occurred_at < $4)
  AND ($5::text IS NULL OR action = $5)
  AND ($6::text IS NULL OR resource_type = $6)
  AND ($7::text IS NULL OR outcome = $7)
ORDER BY occurred_at DESC, id DESC
OFFSET $8 LIMIT $9`

// PGRepository stores audit records in PostgreSQL. It is both the direct
// sink and the timeline reader.
type PGRepository struct {
	db dbtx
}

// NewPGRepository constructs the repository over a pool.
func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{db: pool}
}

// Insert appends the record. A repeated id is a no-op so redelivered queue
// messages never duplicate rows.
func (r *PGRepository) Insert(ctx context.Context, rec Record) error {
	var detail []byte
	if len(rec.Detail) > 0 {
		detail = rec.Detail
	}
	_, err := r.db.Exec(ctx, insertRecord,
		rec.ID,
		rec.PrincipalID,
		nullableText(rec.TenantID),
		rec.Action,
		rec.ResourceType,
		nullableText(rec.ResourceID),
		string(rec.Outcome),
		detail,
		rec.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("audit: insert record: %w", err)
	}
	return nil
}

// Write satisfies Sink.
func (r *PGRepository) Write(ctx context.Context, rec Record) error {
	return r.Insert(ctx, rec)
}

// Window returns one slice of the timeline, newest first.
func (r *PGRepository) Window(ctx context.Context, params WindowParams) ([]Record, error) {
	rows, err := r.db.Query(ctx, timelineWindow,
		optionalText(params.TenantID),
		optionalText(params.PrincipalID),
		toPgTime(params.From),
		toPgTime(params.To),
		optionalText(params.Action),
		optionalText(params.ResourceType),
		optionalText(string(params.Outcome)),
		int64(params.Offset),
		int64(params.Limit),
	)
	if err != nil {
		return nil, fmt.Errorf("audit: timeline: %w", err)
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var (
			rec        Record
			tenant     pgtype.Text
			resourceID pgtype.Text
			outcome    string
			detail     []byte
			at         pgtype.Timestamptz
		)
		if err := rows.Scan(&rec.ID, &rec.PrincipalID, &tenant, &rec.Action, &rec.ResourceType, &resourceID, &outcome, &detail, &at); err != nil {
			return nil, err
		}
		if tenant.Valid {
			rec.TenantID = &tenant.String
		}
		if resourceID.Valid {
			rec.ResourceID = &resourceID.String
		}
		rec.Outcome = Outcome(outcome)
		if len(detail) > 0 {
			rec.Detail = json.RawMessage(detail)
		}
		if at.Valid {
			rec.OccurredAt = at.Time.UTC()
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func toPgTime(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func optionalText(value string) pgtype.Text {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: trimmed, Valid: true}
}

func nullableText(value *string) pgtype.Text {
	if value == nil {
		return pgtype.Text{}
	}
	return pgtype.Text{String: *value, Valid: true}
}

var (
	_ Repository = (*PGRepository)(nil)
	_ Sink       = (*PGRepository)(nil)
)
