package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/google/uuid"

	"taskboard/domain"
)

const (
	edmInt64      = "Edm.Int64"
	taskPartition = "task"
)

type tableClient interface {
	AddEntity(ctx context.Context, entity []byte, options *aztables.AddEntityOptions) (aztables.AddEntityResponse, error)
	GetEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.GetEntityOptions) (aztables.GetEntityResponse, error)
	DeleteEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.DeleteEntityOptions) (aztables.DeleteEntityResponse, error)
	NewListEntitiesPager(listOptions *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse]
}

type entity struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

type taskEntity struct {
	entity
	Title         string `json:"Title"`
	Priority      string `json:"Priority"`
	CreatedBy     string `json:"CreatedBy"`
	CreatedAt     int64  `json:"CreatedAt,string"`
	CreatedAtType string `json:"CreatedAt@odata.type"`
}

type transitionEntity struct {
	entity
	State  string `json:"State"`
	At     int64  `json:"At,string"`
	AtType string `json:"At@odata.type"`
	By     string `json:"By,omitempty"`
	System bool   `json:"System"`
}

// TableStore keeps tasks and transitions in two Azure tables. Transitions
// are partitioned by task id and their row keys sort by time.
type TableStore struct {
	tasks       tableClient
	transitions tableClient
	now         func() time.Time
	newID       func() string
}

// NewTableStore creates a TableStore from a storage connection string.
func NewTableStore(connStr, tasksTable, transitionsTable string) (*TableStore, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: 15 * time.Second,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	return newTableStore(svc.NewClient(tasksTable), svc.NewClient(transitionsTable)), nil
}

func newTableStore(tasks, transitions tableClient) *TableStore {
	return &TableStore{
		tasks:       tasks,
		transitions: transitions,
		now:         time.Now,
		newID:       uuid.NewString,
	}
}

func (s *TableStore) CreateTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	filter := fmt.Sprintf("PartitionKey eq '%s' and CreatedBy eq '%s' and Title eq '%s'",
		taskPartition, odataQuote(t.CreatedBy), odataQuote(t.Title))
	existing, err := listEntities[taskEntity](ctx, s.tasks, filter)
	if err != nil {
		return domain.Task{}, err
	}
	if len(existing) > 0 {
		return domain.Task{}, ErrDuplicateTitle
	}

	t.ID = domain.TaskID(s.newID())
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now().UTC()
	}
	t.Priority = queuePriority(t.Priority)
	payload, err := json.Marshal(toTaskEntity(t))
	if err != nil {
		return domain.Task{}, err
	}
	if _, err := s.tasks.AddEntity(ctx, payload, nil); err != nil {
		return domain.Task{}, fmt.Errorf("add task: %w", err)
	}
	return t, nil
}

func (s *TableStore) GetTask(ctx context.Context, id domain.TaskID) (domain.Task, error) {
	resp, err := s.tasks.GetEntity(ctx, taskPartition, id.String(), nil)
	if err != nil {
		if isNotFound(err) {
			return domain.Task{}, ErrNotFound
		}
		return domain.Task{}, err
	}
	var ent taskEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return domain.Task{}, err
	}
	return ent.task(), nil
}

func (s *TableStore) DeleteTask(ctx context.Context, id domain.TaskID) error {
	if _, err := s.tasks.DeleteEntity(ctx, taskPartition, id.String(), nil); err != nil {
		if isNotFound(err) {
			return ErrNotFound
		}
		return err
	}
	rows, err := s.transitionRows(ctx, id)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if _, err := s.transitions.DeleteEntity(ctx, row.PartitionKey, row.RowKey, nil); err != nil && !isNotFound(err) {
			return fmt.Errorf("delete transition %s: %w", row.RowKey, err)
		}
	}
	return nil
}

func (s *TableStore) RecordState(ctx context.Context, id domain.TaskID, state string, by *string) (bool, error) {
	records, err := s.ListStates(ctx, id)
	if err != nil {
		return false, err
	}
	if last := lastByActor(records, by); last != nil && last.State == state {
		return false, nil
	}
	if _, err := s.GetTask(ctx, id); err != nil {
		return false, err
	}
	at := s.now().UTC()
	ent := transitionEntity{
		entity: entity{
			PartitionKey: id.String(),
			RowKey:       fmt.Sprintf("%019d-%s", at.UnixNano(), s.newID()),
		},
		State:  state,
		At:     at.UnixNano(),
		AtType: edmInt64,
		System: by == nil,
	}
	if by != nil {
		ent.By = *by
	}
	payload, err := json.Marshal(ent)
	if err != nil {
		return false, err
	}
	if _, err := s.transitions.AddEntity(ctx, payload, nil); err != nil {
		return false, fmt.Errorf("record %s for task %s: %w", state, id, err)
	}
	return true, nil
}

func (s *TableStore) ListStates(ctx context.Context, id domain.TaskID) ([]domain.StateRecord, error) {
	rows, err := s.transitionRows(ctx, id)
	if err != nil {
		return nil, err
	}
	records := make([]domain.StateRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.record())
	}
	return records, nil
}

func (s *TableStore) CountOpenAccepted(ctx context.Context, by string) (int, error) {
	rows, err := listEntities[transitionEntity](ctx, s.transitions, fmt.Sprintf("By eq '%s'", odataQuote(by)))
	if err != nil {
		return 0, err
	}
	seen := make(map[string]bool)
	count := 0
	for _, row := range rows {
		if seen[row.PartitionKey] {
			continue
		}
		seen[row.PartitionKey] = true
		history, err := s.transitionRows(ctx, domain.TaskID(row.PartitionKey))
		if err != nil {
			return 0, err
		}
		if len(history) > 0 && history[len(history)-1].State == domain.StateAccepted {
			count++
		}
	}
	return count, nil
}

func (s *TableStore) transitionRows(ctx context.Context, id domain.TaskID) ([]transitionEntity, error) {
	return listEntities[transitionEntity](ctx, s.transitions, fmt.Sprintf("PartitionKey eq '%s'", odataQuote(id.String())))
}

func listEntities[T any](ctx context.Context, c tableClient, filter string) ([]T, error) {
	pager := c.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	var out []T
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			var ent T
			if err := json.Unmarshal(e, &ent); err != nil {
				return nil, err
			}
			out = append(out, ent)
		}
	}
	return out, nil
}

func toTaskEntity(t domain.Task) taskEntity {
	return taskEntity{
		entity:        entity{PartitionKey: taskPartition, RowKey: t.ID.String()},
		Title:         t.Title,
		Priority:      t.Priority,
		CreatedBy:     t.CreatedBy,
		CreatedAt:     t.CreatedAt.UnixNano(),
		CreatedAtType: edmInt64,
	}
}

func (e taskEntity) task() domain.Task {
	return domain.Task{
		ID:        domain.TaskID(e.RowKey),
		Title:     e.Title,
		Priority:  e.Priority,
		CreatedBy: e.CreatedBy,
		CreatedAt: time.Unix(0, e.CreatedAt).UTC(),
	}
}

func (e transitionEntity) record() domain.StateRecord {
	r := domain.StateRecord{State: e.State, At: time.Unix(0, e.At).UTC()}
	if !e.System {
		by := e.By
		r.By = &by
	}
	return r
}

func odataQuote(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}
