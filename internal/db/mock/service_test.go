package mock

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/apexkit/backend/internal/db"
	"github.com/apexkit/backend/internal/kvstore"
)

func newTestService(t *testing.T) (*Service, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	s, err := New(context.Background(), kvstore.NewMemoryStore(), clk, nil)
	require.NoError(t, err)
	return s, clk
}

func TestCreateRead(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	created, err := s.Create(ctx, "items", db.Record{"name": "a"})
	require.NoError(t, err)
	require.NotEmpty(t, created["id"])
	require.Equal(t, "a", created["name"])
	require.Equal(t, created["created_at"], created["updated_at"])

	got, err := s.Read(ctx, "items", created["id"].(string))
	require.NoError(t, err)
	require.Equal(t, created, got)
}

func TestRead_Missing(t *testing.T) {
	s, _ := newTestService(t)

	got, err := s.Read(context.Background(), "items", "nope")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestUpdate_StampsNewUpdatedAt(t *testing.T) {
	s, clk := newTestService(t)
	ctx := context.Background()

	created, err := s.Create(ctx, "items", db.Record{"name": "a"})
	require.NoError(t, err)

	clk.Add(time.Second)

	updated, err := s.Update(ctx, "items", created["id"].(string), db.Record{"name": "b"})
	require.NoError(t, err)
	require.Equal(t, "b", updated["name"])
	require.Equal(t, created["created_at"], updated["created_at"])
	require.Greater(t, updated["updated_at"], updated["created_at"])

	// id is immutable even if the caller tries to smuggle a new one.
	clk.Add(time.Second)
	again, err := s.Update(ctx, "items", created["id"].(string), db.Record{"id": "hijacked"})
	require.NoError(t, err)
	require.Equal(t, created["id"], again["id"])
}

func TestUpdateDelete_MissingID(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	_, err := s.Update(ctx, "items", "nope", db.Record{"name": "x"})
	require.ErrorIs(t, err, db.ErrNotFound)

	err = s.Delete(ctx, "items", "nope")
	require.ErrorIs(t, err, db.ErrNotFound)
}

func TestDelete(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	created, err := s.Create(ctx, "items", db.Record{"name": "a"})
	require.NoError(t, err)
	id := created["id"].(string)

	require.NoError(t, s.Delete(ctx, "items", id))

	got, err := s.Read(ctx, "items", id)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestQuery_FiltersAreExactMatchConjunctions(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	_, err := s.Create(ctx, "items", db.Record{"name": "a", "color": "red"})
	require.NoError(t, err)
	_, err = s.Create(ctx, "items", db.Record{"name": "b", "color": "red"})
	require.NoError(t, err)
	_, err = s.Create(ctx, "items", db.Record{"name": "b", "color": "blue"})
	require.NoError(t, err)

	results, err := s.Query(ctx, "items", db.QueryOptions{
		Filters: map[string]any{"name": "b", "color": "red"},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "b", results[0]["name"])
	require.Equal(t, "red", results[0]["color"])
}

func TestQuery_OrderAndPagination(t *testing.T) {
	s, clk := newTestService(t)
	ctx := context.Background()

	for _, name := range []string{"c", "a", "d", "b"} {
		_, err := s.Create(ctx, "items", db.Record{"name": name})
		require.NoError(t, err)
		clk.Add(time.Millisecond)
	}

	results, err := s.Query(ctx, "items", db.QueryOptions{
		OrderBy: &db.OrderBy{Column: "name"},
	})
	require.NoError(t, err)
	require.Len(t, results, 4)
	names := make([]string, 0, 4)
	for _, r := range results {
		names = append(names, r["name"].(string))
	}
	require.Equal(t, []string{"a", "b", "c", "d"}, names)

	// Descending with offset applied before limit.
	results, err = s.Query(ctx, "items", db.QueryOptions{
		OrderBy: &db.OrderBy{Column: "name", Descending: true},
		Offset:  1,
		Limit:   2,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "c", results[0]["name"])
	require.Equal(t, "b", results[1]["name"])

	// Offset past the end yields an empty result, not an error.
	results, err = s.Query(ctx, "items", db.QueryOptions{Offset: 10})
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestCount(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	for range 3 {
		_, err := s.Create(ctx, "items", db.Record{"kind": "x"})
		require.NoError(t, err)
	}
	_, err := s.Create(ctx, "items", db.Record{"kind": "y"})
	require.NoError(t, err)

	n, err := s.Count(ctx, "items", map[string]any{"kind": "x"})
	require.NoError(t, err)
	require.Equal(t, 3, n)

	n, err = s.Count(ctx, "items", nil)
	require.NoError(t, err)
	require.Equal(t, 4, n)
}

func TestSubscribe_DeliveryOrderAndKinds(t *testing.T) {
	s, clk := newTestService(t)
	ctx := context.Background()

	var events []db.Event
	sub := s.Subscribe("items", func(ev db.Event) {
		events = append(events, ev)
	}, nil)
	defer sub.Unsubscribe()

	created, err := s.Create(ctx, "items", db.Record{"name": "a"})
	require.NoError(t, err)
	id := created["id"].(string)

	clk.Add(time.Second)
	_, err = s.Update(ctx, "items", id, db.Record{"name": "b"})
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, "items", id))

	require.Len(t, events, 3)
	require.Equal(t, db.EventInsert, events[0].Kind)
	require.Equal(t, db.EventUpdate, events[1].Kind)
	require.Equal(t, db.EventDelete, events[2].Kind)
	require.Equal(t, "b", events[2].Record["name"])
}

func TestSubscribe_FilteredSubscriberNeverSeesNonMatching(t *testing.T) {
	s, clk := newTestService(t)
	ctx := context.Background()

	var events []db.Event
	sub := s.Subscribe("items", func(ev db.Event) {
		events = append(events, ev)
	}, map[string]any{"name": "b"})
	defer sub.Unsubscribe()

	created, err := s.Create(ctx, "items", db.Record{"name": "a"})
	require.NoError(t, err)
	_, err = s.Create(ctx, "items", db.Record{"name": "c"})
	require.NoError(t, err)
	require.Empty(t, events)

	clk.Add(time.Second)
	_, err = s.Update(ctx, "items", created["id"].(string), db.Record{"name": "b"})
	require.NoError(t, err)

	require.Len(t, events, 1)
	require.Equal(t, db.EventUpdate, events[0].Kind)
	require.Equal(t, "b", events[0].Record["name"])
}

func TestSubscribe_OtherTablesNotDelivered(t *testing.T) {
	s, _ := newTestService(t)

	var events []db.Event
	sub := s.Subscribe("items", func(ev db.Event) {
		events = append(events, ev)
	}, nil)
	defer sub.Unsubscribe()

	_, err := s.Create(context.Background(), "users", db.Record{"name": "a"})
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestUnsubscribe_StopsDelivery(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	var count int
	sub := s.Subscribe("items", func(db.Event) { count++ }, nil)

	_, err := s.Create(ctx, "items", db.Record{"name": "a"})
	require.NoError(t, err)
	require.Equal(t, 1, count)

	sub.Unsubscribe()

	_, err = s.Create(ctx, "items", db.Record{"name": "b"})
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestSQL_NotImplemented(t *testing.T) {
	s, _ := newTestService(t)

	_, err := s.SQL(context.Background(), "select 1")
	require.ErrorIs(t, err, db.ErrNotImplemented)
}

func TestPersistence_SurvivesRestart(t *testing.T) {
	kv := kvstore.NewMemoryStore()
	ctx := context.Background()

	clk := clock.NewMock()
	clk.Set(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	first, err := New(ctx, kv, clk, nil)
	require.NoError(t, err)

	created, err := first.Create(ctx, "items", db.Record{"name": "a"})
	require.NoError(t, err)
	deleted, err := first.Create(ctx, "items", db.Record{"name": "gone"})
	require.NoError(t, err)
	require.NoError(t, first.Delete(ctx, "items", deleted["id"].(string)))

	// A new provider over the same store sees exactly the surviving data.
	second, err := New(ctx, kv, clk, nil)
	require.NoError(t, err)

	got, err := second.Read(ctx, "items", created["id"].(string))
	require.NoError(t, err)
	require.Equal(t, created, got)

	n, err := second.Count(ctx, "items", nil)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}
