package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"

	"taskboard/domain"
)

type queueClient interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
	PeekMessage(ctx context.Context, o *azqueue.PeekMessageOptions) (azqueue.PeekMessagesResponse, error)
	DequeueMessage(ctx context.Context, o *azqueue.DequeueMessageOptions) (azqueue.DequeueMessagesResponse, error)
	DeleteMessage(ctx context.Context, messageID string, popReceipt string, o *azqueue.DeleteMessageOptions) (azqueue.DeleteMessageResponse, error)
}

// QueueDispatcher publishes created tasks to one Azure queue per priority,
// named <prefix>-<priority>.
type QueueDispatcher struct {
	queues map[string]queueClient
}

// QueueName is the Azure queue holding tasks of the given priority.
func QueueName(prefix, priority string) string {
	return prefix + "-" + priority
}

// NewQueueDispatcher creates clients for every priority queue.
func NewQueueDispatcher(connStr, prefix string) (*QueueDispatcher, error) {
	opts := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: 30 * time.Second,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	queues := make(map[string]queueClient, len(Priorities))
	for _, p := range Priorities {
		q, err := azqueue.NewQueueClientFromConnectionString(connStr, QueueName(prefix, p), &opts)
		if err != nil {
			return nil, err
		}
		queues[p] = q
	}
	return &QueueDispatcher{queues: queues}, nil
}

func (d *QueueDispatcher) Push(ctx context.Context, t domain.Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	q := d.queues[queuePriority(t.Priority)]
	if _, err := q.EnqueueMessage(ctx, string(data), nil); err != nil {
		return fmt.Errorf("enqueue task %s: %w", t.ID, err)
	}
	return nil
}

func (d *QueueDispatcher) Peek(ctx context.Context) (*domain.Task, error) {
	for _, p := range Priorities {
		resp, err := d.queues[p].PeekMessage(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("peek %s queue: %w", p, err)
		}
		if len(resp.Messages) == 0 || resp.Messages[0].MessageText == nil {
			continue
		}
		return decodeQueued(*resp.Messages[0].MessageText)
	}
	return nil, nil
}

// Pop dequeues the head and deletes it from its queue.
func (d *QueueDispatcher) Pop(ctx context.Context) (*domain.Task, error) {
	for _, p := range Priorities {
		q := d.queues[p]
		resp, err := q.DequeueMessage(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("dequeue %s queue: %w", p, err)
		}
		if len(resp.Messages) == 0 {
			continue
		}
		msg := resp.Messages[0]
		if msg.MessageID != nil && msg.PopReceipt != nil {
			if _, err := q.DeleteMessage(ctx, *msg.MessageID, *msg.PopReceipt, nil); err != nil {
				return nil, fmt.Errorf("delete from %s queue: %w", p, err)
			}
		}
		if msg.MessageText == nil {
			continue
		}
		return decodeQueued(*msg.MessageText)
	}
	return nil, nil
}

func decodeQueued(text string) (*domain.Task, error) {
	var t domain.Task
	if err := json.Unmarshal([]byte(text), &t); err != nil {
		return nil, fmt.Errorf("decode queued task: %w", err)
	}
	return &t, nil
}

// Provision creates the given tables and queues, ignoring those that exist.
func Provision(ctx context.Context, connStr string, tables, queues []string) error {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, nil)
	if err != nil {
		return err
	}
	for _, name := range tables {
		if name == "" {
			continue
		}
		if _, err := svc.NewClient(name).CreateTable(ctx, nil); err != nil && !alreadyExists(err, string(aztables.TableAlreadyExists)) {
			return fmt.Errorf("create table %s: %w", name, err)
		}
	}
	for _, name := range queues {
		if name == "" {
			continue
		}
		q, err := azqueue.NewQueueClientFromConnectionString(connStr, name, nil)
		if err != nil {
			return err
		}
		if _, err := q.Create(ctx, nil); err != nil && !alreadyExists(err, "QueueAlreadyExists") {
			return fmt.Errorf("create queue %s: %w", name, err)
		}
	}
	return nil
}

func alreadyExists(err error, code string) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.ErrorCode == code
}
