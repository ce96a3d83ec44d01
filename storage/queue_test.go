package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"

	"taskboard/domain"
)

type fakeQueue struct {
	mu       sync.Mutex
	messages []string
	deleted  int
	seq      int
	failPeek bool
}

func (f *fakeQueue) EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, content)
	return azqueue.EnqueueMessagesResponse{}, nil
}

func (f *fakeQueue) PeekMessage(ctx context.Context, o *azqueue.PeekMessageOptions) (azqueue.PeekMessagesResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPeek {
		return azqueue.PeekMessagesResponse{}, errors.New("peek failure")
	}
	if len(f.messages) == 0 {
		return azqueue.PeekMessagesResponse{}, nil
	}
	text := f.messages[0]
	var resp azqueue.PeekMessagesResponse
	resp.Messages = []*azqueue.PeekedMessage{{MessageText: &text}}
	return resp, nil
}

func (f *fakeQueue) DequeueMessage(ctx context.Context, o *azqueue.DequeueMessageOptions) (azqueue.DequeueMessagesResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.messages) == 0 {
		return azqueue.DequeueMessagesResponse{}, nil
	}
	text := f.messages[0]
	f.messages = f.messages[1:]
	f.seq++
	id, receipt := fmt.Sprintf("m%d", f.seq), "r"
	var resp azqueue.DequeueMessagesResponse
	resp.Messages = []*azqueue.DequeuedMessage{{
		MessageID:   &id,
		PopReceipt:  &receipt,
		MessageText: &text,
	}}
	return resp, nil
}

func (f *fakeQueue) DeleteMessage(ctx context.Context, messageID, popReceipt string, o *azqueue.DeleteMessageOptions) (azqueue.DeleteMessageResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted++
	return azqueue.DeleteMessageResponse{}, nil
}

func newTestDispatcher() (*QueueDispatcher, map[string]*fakeQueue) {
	fakes := map[string]*fakeQueue{}
	queues := map[string]queueClient{}
	for _, p := range Priorities {
		fakes[p] = &fakeQueue{}
		queues[p] = fakes[p]
	}
	return &QueueDispatcher{queues: queues}, fakes
}

func TestQueueDispatcherRoutesByPriority(t *testing.T) {
	d, fakes := newTestDispatcher()
	ctx := context.Background()

	for _, task := range []domain.Task{
		{ID: "1", Priority: "low"},
		{ID: "2", Priority: "high"},
		{ID: "3", Priority: ""},
	} {
		if err := d.Push(ctx, task); err != nil {
			t.Fatalf("push: %v", err)
		}
	}
	if len(fakes["high"].messages) != 1 || len(fakes["low"].messages) != 2 || len(fakes["medium"].messages) != 0 {
		t.Fatalf("unexpected distribution high=%d medium=%d low=%d",
			len(fakes["high"].messages), len(fakes["medium"].messages), len(fakes["low"].messages))
	}

	head, err := d.Peek(ctx)
	if err != nil || head == nil || head.ID != "2" {
		t.Fatalf("unexpected peek %+v %v", head, err)
	}
	if len(fakes["high"].messages) != 1 {
		t.Fatal("peek must not consume")
	}

	var order []domain.TaskID
	for {
		task, err := d.Pop(ctx)
		if err != nil {
			t.Fatalf("pop: %v", err)
		}
		if task == nil {
			break
		}
		order = append(order, task.ID)
	}
	if fmt.Sprint(order) != "[2 1 3]" {
		t.Fatalf("unexpected order %v", order)
	}
	if fakes["high"].deleted != 1 || fakes["low"].deleted != 2 {
		t.Fatal("popped messages must be deleted")
	}
}

func TestQueueDispatcherPeekError(t *testing.T) {
	d, fakes := newTestDispatcher()
	fakes["high"].failPeek = true
	if _, err := d.Peek(context.Background()); err == nil {
		t.Fatal("expected peek error")
	}
}

func TestQueueName(t *testing.T) {
	if got := QueueName("dispatch", "high"); got != "dispatch-high" {
		t.Fatalf("unexpected queue name %q", got)
	}
}
