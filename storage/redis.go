package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"taskboard/domain"
	"taskboard/internal/consts"
)

// RedisStore keeps tasks as JSON strings and transitions as one list per
// task. Ids come from an INCR counter.
type RedisStore struct {
	rdb *redis.Client
	now func() time.Time
}

// NewRedisStore creates a new RedisStore instance.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	if rdb == nil {
		panic("storage.NewRedisStore: redis client is nil")
	}
	return &RedisStore{rdb: rdb, now: time.Now}
}

func taskKey(id domain.TaskID) string        { return consts.TaskKeyPrefix + id.String() }
func transitionsKey(id domain.TaskID) string { return consts.TransitionsKeyPrefix + id.String() }
func titlesKey(creator string) string        { return consts.TitleIndexPrefix + creator }
func actorKey(by string) string              { return consts.ActorTasksPrefix + by }

func (s *RedisStore) CreateTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	seq, err := s.rdb.Incr(ctx, consts.TaskSequenceKey).Result()
	if err != nil {
		return domain.Task{}, fmt.Errorf("next task id: %w", err)
	}
	t.ID = domain.TaskID(strconv.FormatInt(seq, 10))
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now().UTC()
	}
	t.Priority = queuePriority(t.Priority)

	ok, err := s.rdb.HSetNX(ctx, titlesKey(t.CreatedBy), t.Title, t.ID.String()).Result()
	if err != nil {
		return domain.Task{}, fmt.Errorf("reserve title: %w", err)
	}
	if !ok {
		return domain.Task{}, ErrDuplicateTitle
	}
	data, err := json.Marshal(t)
	if err != nil {
		return domain.Task{}, err
	}
	if err := s.rdb.Set(ctx, taskKey(t.ID), data, 0).Err(); err != nil {
		_ = s.rdb.HDel(ctx, titlesKey(t.CreatedBy), t.Title).Err()
		return domain.Task{}, fmt.Errorf("store task: %w", err)
	}
	return t, nil
}

func (s *RedisStore) GetTask(ctx context.Context, id domain.TaskID) (domain.Task, error) {
	data, err := s.rdb.Get(ctx, taskKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Task{}, ErrNotFound
	}
	if err != nil {
		return domain.Task{}, err
	}
	var t domain.Task
	if err := json.Unmarshal(data, &t); err != nil {
		return domain.Task{}, fmt.Errorf("decode task %s: %w", id, err)
	}
	return t, nil
}

func (s *RedisStore) DeleteTask(ctx context.Context, id domain.TaskID) error {
	t, err := s.GetTask(ctx, id)
	if err != nil {
		return err
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, taskKey(id), transitionsKey(id))
		pipe.HDel(ctx, titlesKey(t.CreatedBy), t.Title)
		return nil
	})
	return err
}

func (s *RedisStore) RecordState(ctx context.Context, id domain.TaskID, state string, by *string) (bool, error) {
	records, err := s.ListStates(ctx, id)
	if err != nil {
		return false, err
	}
	if last := lastByActor(records, by); last != nil && last.State == state {
		return false, nil
	}
	n, err := s.rdb.Exists(ctx, taskKey(id)).Result()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, ErrNotFound
	}
	data, err := json.Marshal(domain.StateRecord{State: state, At: s.now().UTC(), By: by})
	if err != nil {
		return false, err
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, transitionsKey(id), data)
		if by != nil {
			pipe.SAdd(ctx, actorKey(*by), id.String())
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("record %s for task %s: %w", state, id, err)
	}
	return true, nil
}

func (s *RedisStore) ListStates(ctx context.Context, id domain.TaskID) ([]domain.StateRecord, error) {
	items, err := s.rdb.LRange(ctx, transitionsKey(id), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	records := make([]domain.StateRecord, 0, len(items))
	for _, item := range items {
		var r domain.StateRecord
		if err := json.Unmarshal([]byte(item), &r); err != nil {
			return nil, fmt.Errorf("decode transition of task %s: %w", id, err)
		}
		records = append(records, r)
	}
	return records, nil
}

func (s *RedisStore) CountOpenAccepted(ctx context.Context, by string) (int, error) {
	ids, err := s.rdb.SMembers(ctx, actorKey(by)).Result()
	if err != nil {
		return 0, err
	}
	count := 0
	for _, id := range ids {
		last, err := s.rdb.LIndex(ctx, transitionsKey(domain.TaskID(id)), -1).Result()
		if errors.Is(err, redis.Nil) {
			// task was deleted
			_ = s.rdb.SRem(ctx, actorKey(by), id).Err()
			continue
		}
		if err != nil {
			return 0, err
		}
		var r domain.StateRecord
		if err := json.Unmarshal([]byte(last), &r); err != nil {
			return 0, fmt.Errorf("decode transition of task %s: %w", id, err)
		}
		if r.State == domain.StateAccepted {
			count++
		}
	}
	return count, nil
}

// RedisQueue keeps one list per priority.
type RedisQueue struct {
	rdb *redis.Client
}

// NewRedisQueue creates a new RedisQueue instance.
func NewRedisQueue(rdb *redis.Client) *RedisQueue {
	return &RedisQueue{rdb: rdb}
}

func queueKey(priority string) string { return consts.QueueKeyPrefix + priority }

func (q *RedisQueue) Push(ctx context.Context, t domain.Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return q.rdb.RPush(ctx, queueKey(queuePriority(t.Priority)), data).Err()
}

func (q *RedisQueue) Peek(ctx context.Context) (*domain.Task, error) {
	return q.head(func(key string) (string, error) {
		return q.rdb.LIndex(ctx, key, 0).Result()
	})
}

func (q *RedisQueue) Pop(ctx context.Context) (*domain.Task, error) {
	return q.head(func(key string) (string, error) {
		return q.rdb.LPop(ctx, key).Result()
	})
}

func (q *RedisQueue) head(read func(key string) (string, error)) (*domain.Task, error) {
	for _, p := range Priorities {
		data, err := read(queueKey(p))
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var t domain.Task
		if err := json.Unmarshal([]byte(data), &t); err != nil {
			return nil, fmt.Errorf("decode queued task: %w", err)
		}
		return &t, nil
	}
	return nil, nil
}
