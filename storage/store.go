// Package storage persists tasks and their state transitions and keeps the
// per-priority dispatch queues.
package storage

import (
	"context"
	"errors"

	"taskboard/domain"
)

var (
	ErrNotFound       = errors.New("task not found")
	ErrDuplicateTitle = errors.New("task with this title already exists")
)

// Priorities lists the dispatch queues from the most to the least urgent.
var Priorities = []string{domain.PriorityHigh, domain.PriorityMedium, domain.PriorityLow}

// Store keeps tasks and their transition history.
type Store interface {
	// CreateTask assigns an id and stores t. Titles are unique per creator.
	CreateTask(ctx context.Context, t domain.Task) (domain.Task, error)
	GetTask(ctx context.Context, id domain.TaskID) (domain.Task, error)
	// DeleteTask removes the task together with its transitions.
	DeleteTask(ctx context.Context, id domain.TaskID) error
	// RecordState appends a transition. It reports false without recording
	// when the last transition by the same actor already has this state.
	RecordState(ctx context.Context, id domain.TaskID, state string, by *string) (bool, error)
	// ListStates returns the transitions oldest first.
	ListStates(ctx context.Context, id domain.TaskID) ([]domain.StateRecord, error)
	// CountOpenAccepted counts the tasks the actor took part in whose latest
	// state is accepted.
	CountOpenAccepted(ctx context.Context, by string) (int, error)
}

// Queue holds tasks waiting for a delivery person, served by priority.
type Queue interface {
	Push(ctx context.Context, t domain.Task) error
	// Peek returns the head without removing it, nil when all queues are empty.
	Peek(ctx context.Context) (*domain.Task, error)
	// Pop removes and returns the head, nil when all queues are empty.
	Pop(ctx context.Context) (*domain.Task, error)
}

func queuePriority(p string) string {
	if domain.ValidPriority(p) {
		return p
	}
	return domain.PriorityLow
}

// lastByActor returns the most recent record of by, or nil.
func lastByActor(records []domain.StateRecord, by *string) *domain.StateRecord {
	for i := len(records) - 1; i >= 0; i-- {
		r := records[i]
		if (r.By == nil) != (by == nil) {
			continue
		}
		if r.By == nil || *r.By == *by {
			return &records[i]
		}
	}
	return nil
}
