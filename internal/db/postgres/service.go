// Package postgres implements db.Service on PostgreSQL. Each collection maps
// to a table with managed id/created_at/updated_at columns and the
// application fields in a jsonb column, created on first use so the provider
// stays schemaless like the offline one.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/apexkit/backend/internal/db"
	"github.com/apexkit/backend/internal/dbx"
	"github.com/apexkit/backend/internal/logging"
)

var identRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// wellFormedID reports whether id can exist in a uuid primary-key column.
// Malformed ids are treated as absent rather than surfacing a driver
// syntax error, keeping parity with the offline provider.
func wellFormedID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// Service is the hosted data provider.
//
// Subscriptions fan out changes made through this instance only; changes
// written by other processes are not observed.
type Service struct {
	db    *sql.DB
	clock clock.Clock
	log   logging.Logger
	hub   *db.Hub

	mu      sync.Mutex
	ensured map[string]bool
}

var _ db.Service = (*Service)(nil)

// Open connects to PostgreSQL via the pgx stdlib driver and verifies the
// connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return conn, nil
}

// New constructs the provider over an open connection. clk may be nil for
// the wall clock.
func New(conn *sql.DB, clk clock.Clock, log logging.Logger) *Service {
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Service{
		db:      conn,
		clock:   clk,
		log:     log,
		hub:     db.NewHub(),
		ensured: make(map[string]bool),
	}
}

// ensureTable creates the backing table on first use of a collection name.
func (s *Service) ensureTable(ctx context.Context, table string) error {
	if !identRe.MatchString(table) {
		return fmt.Errorf("%w: %q", db.ErrInvalidTable, table)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ensured[table] {
		return nil
	}

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %q (
			id uuid PRIMARY KEY,
			data jsonb NOT NULL DEFAULT '{}',
			created_at timestamptz NOT NULL,
			updated_at timestamptz NOT NULL
		);
	`, table)
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("ensure table %s: %w", table, err)
	}
	s.ensured[table] = true
	return nil
}

// appData strips the managed fields so they cannot be smuggled through the
// jsonb payload.
func appData(data db.Record) ([]byte, error) {
	fields := make(db.Record, len(data))
	for k, v := range data {
		switch k {
		case "id", "created_at", "updated_at":
			continue
		}
		fields[k] = v
	}
	payload, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	return payload, nil
}

func buildRecord(id string, payload []byte, createdAt, updatedAt time.Time) (db.Record, error) {
	record := db.Record{}
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	record["id"] = id
	record["created_at"] = createdAt.UTC().Format(time.RFC3339Nano)
	record["updated_at"] = updatedAt.UTC().Format(time.RFC3339Nano)
	return record, nil
}

func (s *Service) Create(ctx context.Context, table string, data db.Record) (db.Record, error) {
	if err := s.ensureTable(ctx, table); err != nil {
		return nil, err
	}
	payload, err := appData(data)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	now := s.clock.Now().UTC()

	query := fmt.Sprintf(`INSERT INTO %q (id, data, created_at, updated_at) VALUES ($1, $2, $3, $4);`, table)
	if _, err := s.db.ExecContext(ctx, query, id, payload, now, now); err != nil {
		return nil, fmt.Errorf("insert into %s: %w", table, err)
	}

	record, err := buildRecord(id, payload, now, now)
	if err != nil {
		return nil, err
	}
	s.hub.Publish(table, db.Event{Kind: db.EventInsert, Record: record})
	return record, nil
}

func (s *Service) Read(ctx context.Context, table, id string) (db.Record, error) {
	if err := s.ensureTable(ctx, table); err != nil {
		return nil, err
	}
	if !wellFormedID(id) {
		return nil, nil
	}

	query := fmt.Sprintf(`SELECT data, created_at, updated_at FROM %q WHERE id = $1;`, table)
	var (
		payload              []byte
		createdAt, updatedAt time.Time
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(&payload, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select from %s: %w", table, err)
	}
	return buildRecord(id, payload, createdAt, updatedAt)
}

// Update merges the patch over the stored fields inside a transaction: the
// row is locked, merged in Go, and written back, so concurrent patches to
// the same record cannot interleave. The event is published after commit.
func (s *Service) Update(ctx context.Context, table, id string, data db.Record) (db.Record, error) {
	if err := s.ensureTable(ctx, table); err != nil {
		return nil, err
	}
	if !wellFormedID(id) {
		return nil, fmt.Errorf("%w: %s/%s", db.ErrNotFound, table, id)
	}

	var record db.Record
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		selectQ := fmt.Sprintf(`SELECT data, created_at, updated_at FROM %q WHERE id = $1 FOR UPDATE;`, table)
		var (
			payload              []byte
			createdAt, updatedAt time.Time
		)
		err := tx.QueryRowContext(ctx, selectQ, id).Scan(&payload, &createdAt, &updatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s/%s", db.ErrNotFound, table, id)
		}
		if err != nil {
			return fmt.Errorf("select for update %s: %w", table, err)
		}

		merged := db.Record{}
		if err := json.Unmarshal(payload, &merged); err != nil {
			return fmt.Errorf("unmarshal record: %w", err)
		}
		for k, v := range data {
			switch k {
			case "id", "created_at", "updated_at":
				continue
			}
			merged[k] = v
		}
		mergedPayload, err := json.Marshal(merged)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}

		// updated_at never decreases, even if the clock steps back.
		now := s.clock.Now().UTC()
		if now.Before(updatedAt) {
			now = updatedAt
		}

		updateQ := fmt.Sprintf(`UPDATE %q SET data = $2, updated_at = $3 WHERE id = $1;`, table)
		if _, err := tx.ExecContext(ctx, updateQ, id, mergedPayload, now); err != nil {
			return fmt.Errorf("update %s: %w", table, err)
		}

		record, err = buildRecord(id, mergedPayload, createdAt, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.hub.Publish(table, db.Event{Kind: db.EventUpdate, Record: record})
	return record, nil
}

// Delete locks and removes the row in a transaction so the removed record
// published to subscribers is exactly the row that was deleted.
func (s *Service) Delete(ctx context.Context, table, id string) error {
	if err := s.ensureTable(ctx, table); err != nil {
		return err
	}
	if !wellFormedID(id) {
		return fmt.Errorf("%w: %s/%s", db.ErrNotFound, table, id)
	}

	var record db.Record
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		selectQ := fmt.Sprintf(`SELECT data, created_at, updated_at FROM %q WHERE id = $1 FOR UPDATE;`, table)
		var (
			payload              []byte
			createdAt, updatedAt time.Time
		)
		err := tx.QueryRowContext(ctx, selectQ, id).Scan(&payload, &createdAt, &updatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s/%s", db.ErrNotFound, table, id)
		}
		if err != nil {
			return fmt.Errorf("select for delete %s: %w", table, err)
		}

		deleteQ := fmt.Sprintf(`DELETE FROM %q WHERE id = $1;`, table)
		if _, err := tx.ExecContext(ctx, deleteQ, id); err != nil {
			return fmt.Errorf("delete from %s: %w", table, err)
		}

		record, err = buildRecord(id, payload, createdAt, updatedAt)
		return err
	})
	if err != nil {
		return err
	}

	s.hub.Publish(table, db.Event{Kind: db.EventDelete, Record: record})
	return nil
}

// whereClause pushes exact-match filters down to SQL: an "id" filter becomes
// a column predicate, everything else a single jsonb containment check.
func whereClause(filters map[string]any) (string, []any, error) {
	if len(filters) == 0 {
		return "", nil, nil
	}

	var (
		conds []string
		args  []any
	)
	contained := make(db.Record)
	for k, v := range filters {
		if k == "id" {
			args = append(args, v)
			conds = append(conds, fmt.Sprintf("id = $%d", len(args)))
			continue
		}
		contained[k] = v
	}
	if len(contained) > 0 {
		payload, err := json.Marshal(contained)
		if err != nil {
			return "", nil, fmt.Errorf("marshal filters: %w", err)
		}
		args = append(args, payload)
		conds = append(conds, fmt.Sprintf("data @> $%d", len(args)))
	}
	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

func orderClause(orderBy *db.OrderBy) (string, error) {
	if orderBy == nil {
		return " ORDER BY id", nil
	}
	if !identRe.MatchString(orderBy.Column) {
		return "", fmt.Errorf("invalid order column: %q", orderBy.Column)
	}

	var expr string
	switch orderBy.Column {
	case "id", "created_at", "updated_at":
		expr = orderBy.Column
	default:
		expr = fmt.Sprintf("data->>'%s'", orderBy.Column)
	}
	if orderBy.Descending {
		expr += " DESC"
	}
	// id as tiebreaker keeps pagination deterministic.
	return " ORDER BY " + expr + ", id", nil
}

func (s *Service) Query(ctx context.Context, table string, opts db.QueryOptions) ([]db.Record, error) {
	if err := s.ensureTable(ctx, table); err != nil {
		return nil, err
	}

	if f, ok := opts.Filters["id"].(string); ok && !wellFormedID(f) {
		return nil, nil
	}

	where, args, err := whereClause(opts.Filters)
	if err != nil {
		return nil, err
	}
	order, err := orderClause(opts.OrderBy)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT id, data, created_at, updated_at FROM %q`, table) + where + order
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	query += ";"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	var results []db.Record
	for rows.Next() {
		var (
			id                   string
			payload              []byte
			createdAt, updatedAt time.Time
		)
		if err := rows.Scan(&id, &payload, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		record, err := buildRecord(id, payload, createdAt, updatedAt)
		if err != nil {
			return nil, err
		}
		results = append(results, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) Count(ctx context.Context, table string, filters map[string]any) (int, error) {
	if err := s.ensureTable(ctx, table); err != nil {
		return 0, err
	}

	if f, ok := filters["id"].(string); ok && !wellFormedID(f) {
		return 0, nil
	}

	where, args, err := whereClause(filters)
	if err != nil {
		return 0, err
	}

	query := fmt.Sprintf(`SELECT count(*) FROM %q`, table) + where + ";"
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

func (s *Service) Subscribe(table string, callback func(db.Event), filters map[string]any) db.Subscription {
	return s.hub.Subscribe(table, callback, filters)
}

// SQL runs a raw query and returns the rows as generic records.
func (s *Service) SQL(ctx context.Context, query string, args ...any) ([]db.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("raw query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var results []db.Record
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		record := make(db.Record, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				record[col] = string(b)
				continue
			}
			record[col] = values[i]
		}
		results = append(results, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
