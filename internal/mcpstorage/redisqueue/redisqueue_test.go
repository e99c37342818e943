package redisqueue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, time.Hour)
}

func TestEnqueueListPreservesOrder(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		m, err := q.Enqueue(ctx, "sess-1", []byte(`{"n":1}`))
		if err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
		ids = append(ids, m.ID)
	}

	list, err := q.List(ctx, "sess-1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("List len = %d, want 3", len(list))
	}
	for i, m := range list {
		if m.ID != ids[i] {
			t.Fatalf("List[%d].ID = %s, want %s (FIFO order)", i, m.ID, ids[i])
		}
	}
}

func TestDeleteRemovesFromQueue(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	m, err := q.Enqueue(ctx, "sess-1", []byte(`{}`))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := q.Delete(ctx, m.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	list, err := q.List(ctx, "sess-1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("List after delete = %+v, want empty", list)
	}
}

func TestDeleteUnknownIDIsNoop(t *testing.T) {
	q := newTestQueue(t)
	if err := q.Delete(context.Background(), "does-not-exist"); err != nil {
		t.Fatalf("Delete on unknown id: %v", err)
	}
}

func TestListEmptySession(t *testing.T) {
	q := newTestQueue(t)
	list, err := q.List(context.Background(), "never-seen")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("List = %+v, want empty", list)
	}
}
