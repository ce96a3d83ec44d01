package hub

import (
	"context"
	"errors"
	"fmt"

	"taskboard/domain"
	"taskboard/internal/consts"
	"taskboard/storage"
)

// ErrWrongGroup is returned for commands the session's JOIN marker does not
// allow.
var ErrWrongGroup = errors.New("command not allowed for this group")

// requiredMarker names the JOIN marker a command needs, empty for JOIN itself.
func requiredMarker(cmd domain.Outbound) string {
	switch cmd.(type) {
	case domain.CreateTask, domain.CancelTask, domain.ListStates:
		return domain.GroupStoreManager
	case domain.AcceptTask, domain.DeclineTask, domain.CompleteTask, domain.GetNewTask:
		return domain.GroupDeliveryPerson
	}
	return ""
}

func (h *Hub) handle(ctx context.Context, s *session, cmd domain.Outbound) error {
	if want := requiredMarker(cmd); want != "" && s.marker != want {
		return fmt.Errorf("%w: %s needs %q, session joined %q", ErrWrongGroup, cmd.Tag(), want, s.marker)
	}
	switch m := cmd.(type) {
	case domain.Join:
		return h.join(ctx, s, m)
	case domain.CreateTask:
		return h.createTask(ctx, s, m)
	case domain.CancelTask:
		return h.cancelTask(ctx, s, m)
	case domain.ListStates:
		return h.listStates(ctx, s, m)
	case domain.AcceptTask:
		return h.acceptTask(ctx, s, m)
	case domain.DeclineTask:
		return h.declineTask(ctx, s, m)
	case domain.CompleteTask:
		return h.completeTask(ctx, s, m)
	case domain.GetNewTask:
		return h.dispatchHead(ctx)
	default:
		return fmt.Errorf("unhandled command %T", cmd)
	}
}

func (h *Hub) join(ctx context.Context, s *session, m domain.Join) error {
	group, ok := groupFor(m.Group)
	if !ok {
		return fmt.Errorf("unknown group %q", m.Group)
	}
	h.groups.add(group, s)
	h.groups.add(personalGroup(m.Group, s.user), s)
	s.marker = m.Group
	s.logger.WithField("group", group).Info("joined")
	if m.Group == domain.GroupDeliveryPerson {
		return h.dispatchHead(ctx)
	}
	return nil
}

func (h *Hub) createTask(ctx context.Context, s *session, m domain.CreateTask) error {
	task, err := h.store.GetTask(ctx, m.Task.ID)
	if err != nil {
		return fmt.Errorf("task %s: %w", m.Task.ID, err)
	}
	by := s.user
	if _, err := h.store.RecordState(ctx, task.ID, domain.StateNew, &by); err != nil {
		return err
	}
	if h.queue != nil {
		if err := h.queue.Push(ctx, task); err != nil {
			return err
		}
	}
	if err := h.dispatchHead(ctx); err != nil {
		return err
	}
	return h.sendTo(ctx, personalGroup(domain.GroupStoreManager, s.user), domain.NewTask{Task: task})
}

func (h *Hub) cancelTask(ctx context.Context, s *session, m domain.CancelTask) error {
	if err := h.store.DeleteTask(ctx, m.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	if err := h.sendTo(ctx, personalGroup(domain.GroupStoreManager, s.user), domain.TaskCancelledAck{ID: m.ID}); err != nil {
		return err
	}
	return h.dispatchHead(ctx)
}

func (h *Hub) listStates(ctx context.Context, s *session, m domain.ListStates) error {
	task, err := h.store.GetTask(ctx, m.ID)
	if err != nil {
		return fmt.Errorf("task %s: %w", m.ID, err)
	}
	records, err := h.store.ListStates(ctx, m.ID)
	if err != nil {
		return err
	}
	return h.sendTo(ctx, personalGroup(domain.GroupStoreManager, s.user), domain.StatesListed{Title: task.Title, States: records})
}

func (h *Hub) acceptTask(ctx context.Context, s *session, m domain.AcceptTask) error {
	own := personalGroup(domain.GroupDeliveryPerson, s.user)
	pending, err := h.store.CountOpenAccepted(ctx, s.user)
	if err != nil {
		return err
	}
	if pending >= h.limit {
		return h.sendEvent(ctx, own, domain.EventTaskPending, consts.PendingLimitMessage)
	}
	task, recorded, err := h.transition(ctx, s, m.ID, domain.StateAccepted)
	if err != nil || !recorded {
		return err
	}
	if err := h.takeFromQueue(ctx, task.ID); err != nil {
		return err
	}
	if err := h.sendEvent(ctx, own, domain.EventTaskAccepted, map[string]domain.TaskID{"id": task.ID}); err != nil {
		return err
	}
	return h.dispatchHead(ctx)
}

func (h *Hub) declineTask(ctx context.Context, s *session, m domain.DeclineTask) error {
	task, recorded, err := h.transition(ctx, s, m.ID, domain.StateDeclined)
	if err != nil || !recorded {
		return err
	}
	if h.queue != nil {
		if err := h.takeFromQueue(ctx, task.ID); err != nil {
			return err
		}
		if err := h.queue.Push(ctx, task); err != nil {
			return err
		}
	}
	own := personalGroup(domain.GroupDeliveryPerson, s.user)
	if err := h.sendEvent(ctx, own, domain.EventTaskDeclinedAck, map[string]domain.TaskID{"id": task.ID}); err != nil {
		return err
	}
	creator := personalGroup(domain.GroupStoreManager, task.CreatedBy)
	if err := h.sendEvent(ctx, creator, domain.EventTaskDeclinedAckSM, map[string]any{"id": task.ID, "task": task.Title}); err != nil {
		return err
	}
	return h.dispatchHead(ctx)
}

func (h *Hub) completeTask(ctx context.Context, s *session, m domain.CompleteTask) error {
	task, recorded, err := h.transition(ctx, s, m.ID, domain.StateCompleted)
	if err != nil || !recorded {
		return err
	}
	own := personalGroup(domain.GroupDeliveryPerson, s.user)
	return h.sendEvent(ctx, own, domain.EventTaskCompletedAck, map[string]domain.TaskID{"id": task.ID})
}

// transition records state for the task and tells the creator's dashboards.
// Repeated clicks by the same user report recorded=false and send nothing.
func (h *Hub) transition(ctx context.Context, s *session, id domain.TaskID, state string) (domain.Task, bool, error) {
	by := s.user
	recorded, err := h.store.RecordState(ctx, id, state, &by)
	if err != nil {
		return domain.Task{}, false, fmt.Errorf("task %s: %w", id, err)
	}
	if !recorded {
		s.logger.WithField("task", id).Debugf("%s already recorded, ignoring", state)
		return domain.Task{}, false, nil
	}
	task, err := h.store.GetTask(ctx, id)
	if err != nil {
		return domain.Task{}, false, err
	}
	update := domain.StateUpdated{ID: id, State: domain.DisplayState(state)}
	if err := h.sendTo(ctx, personalGroup(domain.GroupStoreManager, task.CreatedBy), update); err != nil {
		return domain.Task{}, false, err
	}
	return task, true, nil
}

// takeFromQueue removes id from the head of the queue if it is there.
func (h *Hub) takeFromQueue(ctx context.Context, id domain.TaskID) error {
	if h.queue == nil {
		return nil
	}
	head, err := h.queue.Peek(ctx)
	if err != nil || head == nil || head.ID != id {
		return err
	}
	_, err = h.queue.Pop(ctx)
	return err
}

// dispatchHead shows the head of the dispatch queue to every delivery
// person, or a null task when the queue is empty. Queued tasks that were
// deleted meanwhile are discarded.
func (h *Hub) dispatchHead(ctx context.Context) error {
	if h.queue == nil {
		return nil
	}
	var head *domain.Task
	for {
		t, err := h.queue.Peek(ctx)
		if err != nil {
			return err
		}
		if t == nil {
			break
		}
		_, err = h.store.GetTask(ctx, t.ID)
		if errors.Is(err, storage.ErrNotFound) {
			if _, err := h.queue.Pop(ctx); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}
		head = t
		break
	}
	var message any
	if head != nil {
		message = domain.NewTask{Task: *head}
	}
	return h.sendEvent(ctx, consts.GroupDeliveryPerson, domain.EventNewTask, message)
}

func (h *Hub) sendTo(ctx context.Context, group string, msg domain.Inbound) error {
	frame, err := domain.EncodeInbound(msg)
	if err != nil {
		return err
	}
	h.groupSend(ctx, group, frame)
	return nil
}

func (h *Hub) sendEvent(ctx context.Context, group string, tag domain.Tag, message any) error {
	env, err := domain.NewEnvelope(tag, message)
	if err != nil {
		return err
	}
	frame, err := domain.EncodeFrame(env)
	if err != nil {
		return err
	}
	h.groupSend(ctx, group, frame)
	return nil
}
