// Package router reconciles inbound task events into the dashboard view and
// turns operator actions into outbound commands.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"taskboard/domain"
	"taskboard/view"
)

const (
	tracerName = "taskboard/router"
	eventAttr  = "taskboard.event"
	taskAttr   = "taskboard.task_id"

	// FocusField is the first field of the create form.
	FocusField = "title"
)

// Sender delivers commands to the server. Delivery is best effort.
type Sender interface {
	Send(msg domain.Outbound)
}

// Creator calls the synchronous create-task endpoint. Validation failures
// are reported as *ValidationError.
type Creator interface {
	CreateTask(ctx context.Context, fields url.Values) (domain.Task, error)
}

// Router applies inbound events to a dashboard and sends operator commands.
type Router struct {
	view   *view.Dashboard
	sender Sender
	logger *log.Entry
	tracer trace.Tracer
}

// New creates a Router. A nil logger falls back to the standard logger.
func New(v *view.Dashboard, sender Sender, logger *log.Logger) *Router {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Router{
		view:   v,
		sender: sender,
		logger: logger.WithField("component", "router"),
		tracer: otel.Tracer(tracerName),
	}
}

// Dispatch decodes an unwrapped payload and applies it. Malformed payloads
// are logged and dropped.
func (r *Router) Dispatch(ctx context.Context, payload json.RawMessage) {
	ctx, span := r.tracer.Start(ctx, "router.dispatch")
	defer span.End()

	msg, err := domain.DecodeInbound(payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decode")
		r.logger.WithError(err).Warn("dropping malformed event")
		return
	}
	span.SetAttributes(attribute.String(eventAttr, string(msg.Tag())))
	r.Apply(ctx, msg)
}

// Apply reconciles one decoded event into the view.
func (r *Router) Apply(_ context.Context, msg domain.Inbound) {
	switch m := msg.(type) {
	case domain.NewTask:
		r.displayNewTask(m)
	case domain.StatesListed:
		r.displayStates(m)
	case domain.StateUpdated:
		r.updateState(m)
	case domain.TaskCancelledAck:
		r.deleteTask(m)
	case domain.Unknown:
		r.logger.WithField("event", m.Event).Info("no handler for event - ignoring it")
	default:
		r.logger.Errorf("unhandled inbound message %T", msg)
	}
}

func (r *Router) displayNewTask(m domain.NewTask) {
	r.view.AppendTask(m.Task)
	r.logger.WithField("task", m.Task.ID).Debug("task added")
}

func (r *Router) displayStates(m domain.StatesListed) {
	r.view.ShowStates(m.Title, m.States)
}

func (r *Router) updateState(m domain.StateUpdated) {
	if n := r.view.SetState(m.ID, m.State); n == 0 {
		r.logger.WithField("task", m.ID).Debug("state update for task not on the dashboard")
	}
}

func (r *Router) deleteTask(m domain.TaskCancelledAck) {
	if n := r.view.Remove(m.ID); n == 0 {
		r.logger.WithField("task", m.ID).Debug("cancel ack for task not on the dashboard")
	}
}

// CancelTask asks the server to cancel id. The row disappears once the
// acknowledgment arrives.
func (r *Router) CancelTask(ctx context.Context, id domain.TaskID) {
	r.send(ctx, domain.CancelTask{ID: id}, id)
}

// ListStates asks for a fresh batch of state records for id.
func (r *Router) ListStates(ctx context.Context, id domain.TaskID) {
	r.send(ctx, domain.ListStates{ID: id}, id)
}

// NotifyCreated broadcasts a task confirmed by the create endpoint so every
// connected dashboard, this one included, receives NEW_TASK.
func (r *Router) NotifyCreated(ctx context.Context, task domain.Task) {
	r.send(ctx, domain.CreateTask{Task: task}, task.ID)
}

// OpenForm shows the create form.
func (r *Router) OpenForm() {
	r.view.OpenForm(FocusField)
}

// SubmitTask posts the create form. On success the task is announced on the
// channel and the form is reset; on validation failure the first message of
// each field is shown and focus returns to the first field.
func (r *Router) SubmitTask(ctx context.Context, creator Creator, fields url.Values) error {
	task, err := creator.CreateTask(ctx, fields)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			r.view.FailForm(verr.FirstMessages(), FocusField)
		}
		return err
	}
	r.NotifyCreated(ctx, task)
	r.view.ResetForm()
	return nil
}

func (r *Router) send(ctx context.Context, msg domain.Outbound, id domain.TaskID) {
	_, span := r.tracer.Start(ctx, "router.command", trace.WithAttributes(
		attribute.String(eventAttr, string(msg.Tag())),
		attribute.String(taskAttr, id.String()),
	))
	defer span.End()
	r.sender.Send(msg)
}
