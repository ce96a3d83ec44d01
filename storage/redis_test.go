package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"taskboard/domain"
)

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(m.Close)
	rc := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { rc.Close() })
	return rc
}

func newTestStore(t *testing.T) *RedisStore {
	s := NewRedisStore(newRedis(t))
	clock := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}
	return s
}

func strPtr(s string) *string { return &s }

func TestRedisStoreCreateAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.CreateTask(ctx, domain.Task{Title: "Deliver", Priority: "high", CreatedBy: "alice"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := s.CreateTask(ctx, domain.Task{Title: "Pick up", Priority: "urgent", CreatedBy: "alice"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if first.ID != "1" || second.ID != "2" {
		t.Fatalf("unexpected ids %q %q", first.ID, second.ID)
	}
	if second.Priority != domain.PriorityLow {
		t.Fatalf("unknown priority should fall back to low, got %q", second.Priority)
	}

	got, err := s.GetTask(ctx, "1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != "Deliver" || got.CreatedBy != "alice" || got.CreatedAt.IsZero() {
		t.Fatalf("unexpected task %+v", got)
	}
	if _, err := s.GetTask(ctx, "99"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRedisStoreTitleUniquePerCreator(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateTask(ctx, domain.Task{Title: "Deliver", CreatedBy: "alice"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.CreateTask(ctx, domain.Task{Title: "Deliver", CreatedBy: "alice"}); !errors.Is(err, ErrDuplicateTitle) {
		t.Fatalf("expected ErrDuplicateTitle, got %v", err)
	}
	if _, err := s.CreateTask(ctx, domain.Task{Title: "Deliver", CreatedBy: "bob"}); err != nil {
		t.Fatalf("other creator may reuse the title: %v", err)
	}
}

func TestRedisStoreRecordStateGuardsDoubleClick(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	task, _ := s.CreateTask(ctx, domain.Task{Title: "Deliver", CreatedBy: "alice"})

	steps := []struct {
		state string
		by    *string
		want  bool
	}{
		{domain.StateNew, strPtr("alice"), true},
		{domain.StateAccepted, strPtr("dave"), true},
		{domain.StateAccepted, strPtr("dave"), false},
		{domain.StateAccepted, nil, true},
		{domain.StateCompleted, strPtr("dave"), true},
	}
	for i, st := range steps {
		ok, err := s.RecordState(ctx, task.ID, st.state, st.by)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if ok != st.want {
			t.Fatalf("step %d: recorded=%v, want %v", i, ok, st.want)
		}
	}

	records, err := s.ListStates(ctx, task.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"new", "accepted", "accepted", "completed"}
	if len(records) != len(want) {
		t.Fatalf("expected %d records, got %d", len(want), len(records))
	}
	for i, r := range records {
		if r.State != want[i] {
			t.Fatalf("record %d: state %q, want %q", i, r.State, want[i])
		}
		if i > 0 && !r.At.After(records[i-1].At) {
			t.Fatalf("records not ordered by time")
		}
	}
	if records[2].By != nil {
		t.Fatalf("system transition should have no actor")
	}

	if _, err := s.RecordState(ctx, "99", domain.StateNew, nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRedisStoreDeleteTask(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	task, _ := s.CreateTask(ctx, domain.Task{Title: "Deliver", CreatedBy: "alice"})
	s.RecordState(ctx, task.ID, domain.StateNew, strPtr("alice"))

	if err := s.DeleteTask(ctx, task.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetTask(ctx, task.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected task to be gone, got %v", err)
	}
	records, _ := s.ListStates(ctx, task.ID)
	if len(records) != 0 {
		t.Fatalf("expected transitions to be gone, got %d", len(records))
	}
	if err := s.DeleteTask(ctx, task.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
	if _, err := s.CreateTask(ctx, domain.Task{Title: "Deliver", CreatedBy: "alice"}); err != nil {
		t.Fatalf("title should be free again: %v", err)
	}
}

func TestRedisStoreCountOpenAccepted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	dave := strPtr("dave")

	var ids []domain.TaskID
	for _, title := range []string{"a", "b", "c", "d"} {
		task, err := s.CreateTask(ctx, domain.Task{Title: title, CreatedBy: "alice"})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		s.RecordState(ctx, task.ID, domain.StateAccepted, dave)
		ids = append(ids, task.ID)
	}
	s.RecordState(ctx, ids[0], domain.StateCompleted, dave)
	s.RecordState(ctx, ids[1], domain.StateDeclined, strPtr("erin"))
	if err := s.DeleteTask(ctx, ids[2]); err != nil {
		t.Fatalf("delete: %v", err)
	}

	n, err := s.CountOpenAccepted(ctx, "dave")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 open accepted task, got %d", n)
	}
	if n, _ := s.CountOpenAccepted(ctx, "nobody"); n != 0 {
		t.Fatalf("expected 0 for unknown actor, got %d", n)
	}
}

func TestRedisQueuePriorityOrder(t *testing.T) {
	q := NewRedisQueue(newRedis(t))
	ctx := context.Background()

	if head, err := q.Peek(ctx); err != nil || head != nil {
		t.Fatalf("expected empty queue, got %v %v", head, err)
	}
	for _, task := range []domain.Task{
		{ID: "1", Title: "low", Priority: "low"},
		{ID: "2", Title: "medium", Priority: "medium"},
		{ID: "3", Title: "high", Priority: "high"},
		{ID: "4", Title: "high again", Priority: "high"},
	} {
		if err := q.Push(ctx, task); err != nil {
			t.Fatalf("push: %v", err)
		}
	}

	head, err := q.Peek(ctx)
	if err != nil || head == nil || head.ID != "3" {
		t.Fatalf("unexpected peek %+v %v", head, err)
	}
	var order []domain.TaskID
	for {
		task, err := q.Pop(ctx)
		if err != nil {
			t.Fatalf("pop: %v", err)
		}
		if task == nil {
			break
		}
		order = append(order, task.ID)
	}
	want := []domain.TaskID{"3", "4", "2", "1"}
	if len(order) != len(want) {
		t.Fatalf("unexpected order %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("unexpected order %v", order)
		}
	}
}
