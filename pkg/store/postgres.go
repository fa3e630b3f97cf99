package store

import (
	"context"
	"embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/voxline-ai/voxline/pkg/core/tools"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Postgres implements Store on a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to the database and runs pending migrations.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := migrate(pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Postgres{pool: pool}, nil
}

// migrate applies embedded migrations through goose. Goose needs a
// database/sql handle, so the pool config is bridged via stdlib.
func migrate(pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set migration dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

// TransferRules loads the organization's rules ordered by priority.
func (p *Postgres) TransferRules(ctx context.Context, organizationID string) ([]tools.TransferRule, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT keywords, destination, display_name, announcement, priority
		FROM transfer_rules
		WHERE organization_id = $1
		ORDER BY priority ASC`, organizationID)
	if err != nil {
		return nil, fmt.Errorf("query transfer rules: %w", err)
	}
	defer rows.Close()

	var rules []tools.TransferRule
	for rows.Next() {
		var r tools.TransferRule
		if err := rows.Scan(&r.Keywords, &r.Destination, &r.DisplayName, &r.Announcement, &r.Priority); err != nil {
			return nil, fmt.Errorf("scan transfer rule: %w", err)
		}
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read transfer rules: %w", err)
	}
	return rules, nil
}

// CreateCallRecord inserts the record, assigning an id when unset.
func (p *Postgres) CreateCallRecord(ctx context.Context, rec *CallRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now().UTC()
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO call_records (id, call_sid, stream_sid, organization_id, assistant_id, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID, rec.CallSID, rec.StreamSID, rec.OrganizationID, rec.AssistantID, rec.StartedAt)
	if err != nil {
		return fmt.Errorf("insert call record: %w", err)
	}
	return nil
}

// FinishCallRecord closes out the record with its outcome.
func (p *Postgres) FinishCallRecord(ctx context.Context, id uuid.UUID, outcome string, turnCount int, endedAt time.Time) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE call_records
		SET ended_at = $2, outcome = $3, turn_count = $4
		WHERE id = $1`,
		id, endedAt, outcome, turnCount)
	if err != nil {
		return fmt.Errorf("update call record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

var _ Store = (*Postgres)(nil)
