// Package mock implements db.Service in memory with durable persistence:
// every record is mirrored into the key-value store and rehydrated at
// construction, so offline development data survives restarts.
package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/apexkit/backend/internal/db"
	"github.com/apexkit/backend/internal/kvstore"
	"github.com/apexkit/backend/internal/logging"
)

// recordKeyPrefix namespaces persisted records; the full key is
// "mock-db-<table>:<id>".
const recordKeyPrefix = "mock-db-"

// Service is the offline data provider.
type Service struct {
	mu     sync.Mutex
	kv     kvstore.Store
	clock  clock.Clock
	log    logging.Logger
	hub    *db.Hub
	tables map[string]map[string]db.Record
}

var _ db.Service = (*Service)(nil)

// New constructs the mock provider and rehydrates any records persisted by
// earlier runs. clk may be nil for the wall clock.
func New(ctx context.Context, kv kvstore.Store, clk clock.Clock, log logging.Logger) (*Service, error) {
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = logging.Nop()
	}

	s := &Service{
		kv:     kv,
		clock:  clk,
		log:    log,
		hub:    db.NewHub(),
		tables: make(map[string]map[string]db.Record),
	}
	if err := s.rehydrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func recordKey(table, id string) string {
	return recordKeyPrefix + table + ":" + id
}

func (s *Service) rehydrate(ctx context.Context) error {
	entries, err := s.kv.List(ctx, recordKeyPrefix)
	if err != nil {
		return fmt.Errorf("%w: %w", db.ErrTransport, err)
	}

	for key, data := range entries {
		table, _, ok := strings.Cut(strings.TrimPrefix(key, recordKeyPrefix), ":")
		if !ok {
			s.log.Warn(ctx, "skipping malformed record key", "key", key)
			continue
		}

		var record db.Record
		if err := json.Unmarshal(data, &record); err != nil {
			s.log.Warn(ctx, "skipping corrupt persisted record", "key", key, "error", err)
			continue
		}
		id, _ := record["id"].(string)
		if id == "" {
			s.log.Warn(ctx, "skipping persisted record without id", "key", key)
			continue
		}

		if s.tables[table] == nil {
			s.tables[table] = make(map[string]db.Record)
		}
		s.tables[table][id] = record
	}
	return nil
}

func (s *Service) persist(ctx context.Context, table string, record db.Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	if err := s.kv.Set(ctx, recordKey(table, record["id"].(string)), data); err != nil {
		return fmt.Errorf("%w: %w", db.ErrTransport, err)
	}
	return nil
}

func (s *Service) now() string {
	return s.clock.Now().UTC().Format(time.RFC3339Nano)
}

// laterOf keeps updated_at non-decreasing even if the wall clock steps
// backwards between writes.
func (s *Service) laterOf(prev any, now string) string {
	prevStr, ok := prev.(string)
	if !ok {
		return now
	}
	prevTime, err1 := time.Parse(time.RFC3339Nano, prevStr)
	nowTime, err2 := time.Parse(time.RFC3339Nano, now)
	if err1 == nil && err2 == nil && prevTime.After(nowTime) {
		return prevStr
	}
	return now
}

func cloneRecord(r db.Record) db.Record {
	out := make(db.Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

func (s *Service) Create(ctx context.Context, table string, data db.Record) (db.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := cloneRecord(data)
	now := s.now()
	record["id"] = uuid.NewString()
	record["created_at"] = now
	record["updated_at"] = now

	if s.tables[table] == nil {
		s.tables[table] = make(map[string]db.Record)
	}
	s.tables[table][record["id"].(string)] = record

	if err := s.persist(ctx, table, record); err != nil {
		return nil, err
	}

	s.hub.Publish(table, db.Event{Kind: db.EventInsert, Record: cloneRecord(record)})
	return cloneRecord(record), nil
}

func (s *Service) Read(ctx context.Context, table, id string) (db.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.tables[table][id]
	if !ok {
		return nil, nil
	}
	return cloneRecord(record), nil
}

func (s *Service) Update(ctx context.Context, table, id string, data db.Record) (db.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.tables[table][id]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", db.ErrNotFound, table, id)
	}

	record := cloneRecord(existing)
	for k, v := range data {
		record[k] = v
	}
	// id and created_at are immutable; updated_at never decreases.
	record["id"] = id
	record["created_at"] = existing["created_at"]
	record["updated_at"] = s.laterOf(existing["updated_at"], s.now())

	s.tables[table][id] = record
	if err := s.persist(ctx, table, record); err != nil {
		return nil, err
	}

	s.hub.Publish(table, db.Event{Kind: db.EventUpdate, Record: cloneRecord(record)})
	return cloneRecord(record), nil
}

func (s *Service) Delete(ctx context.Context, table, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.tables[table][id]
	if !ok {
		return fmt.Errorf("%w: %s/%s", db.ErrNotFound, table, id)
	}

	delete(s.tables[table], id)
	if err := s.kv.Delete(ctx, recordKey(table, id)); err != nil {
		return fmt.Errorf("%w: %w", db.ErrTransport, err)
	}

	s.hub.Publish(table, db.Event{Kind: db.EventDelete, Record: cloneRecord(record)})
	return nil
}

func (s *Service) Query(ctx context.Context, table string, opts db.QueryOptions) ([]db.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var results []db.Record
	for _, record := range s.tables[table] {
		if opts.Filters != nil && !db.MatchFilters(record, opts.Filters) {
			continue
		}
		results = append(results, cloneRecord(record))
	}

	// Map iteration order is random; establish a deterministic base order
	// before the stable sort so pagination is reproducible.
	sort.Slice(results, func(i, j int) bool {
		return db.Compare(results[i]["id"], results[j]["id"]) < 0
	})

	if opts.OrderBy != nil {
		col := opts.OrderBy.Column
		desc := opts.OrderBy.Descending
		sort.SliceStable(results, func(i, j int) bool {
			c := db.Compare(results[i][col], results[j][col])
			if desc {
				return c > 0
			}
			return c < 0
		})
	}

	if opts.Offset > 0 {
		if opts.Offset >= len(results) {
			return nil, nil
		}
		results = results[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(results) {
		results = results[:opts.Limit]
	}
	return results, nil
}

func (s *Service) Count(ctx context.Context, table string, filters map[string]any) (int, error) {
	results, err := s.Query(ctx, table, db.QueryOptions{Filters: filters})
	if err != nil {
		return 0, err
	}
	return len(results), nil
}

func (s *Service) Subscribe(table string, callback func(db.Event), filters map[string]any) db.Subscription {
	return s.hub.Subscribe(table, callback, filters)
}

// SQL is not available offline.
func (s *Service) SQL(ctx context.Context, query string, args ...any) ([]db.Record, error) {
	return nil, fmt.Errorf("%w: raw sql requires the hosted provider", db.ErrNotImplemented)
}
