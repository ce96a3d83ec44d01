package domain

import "encoding/json"

// Tag selects the event type of an envelope and with it the payload shape.
type Tag string

// Client to server.
const (
	EventJoin          Tag = "JOIN"
	EventCreateTask    Tag = "CREATE_TASK"
	EventTaskCancelled Tag = "TASK_CANCELLED"
	EventListStates    Tag = "LIST_STATES"
	EventTaskAccepted  Tag = "TASK_ACCEPTED"
	EventTaskDeclined  Tag = "TASK_DECLINED"
	EventTaskCompleted Tag = "TASK_COMPLETED"
	EventGetNewTask    Tag = "GET_NEW_TASK"
)

// Server to client.
const (
	EventNewTask          Tag = "NEW_TASK"
	EventListStatesReply  Tag = "LIST_STATES_REPLY"
	EventUpdateState      Tag = "UPDATE_STATE"
	EventTaskCancelledAck Tag = "TASK_CANCELLED_ACK"

	// Only delivery persons receive these.
	EventTaskPending      Tag = "TASK_PENDING"
	EventTaskDeclinedAck  Tag = "TASK_DECLINED_ACK"
	EventTaskCompletedAck Tag = "TASK_COMPLETED_ACK"
	// Sent to the creator of a declined task.
	EventTaskDeclinedAckSM Tag = "TASK_DECLINED_ACK_SM"
)

// Group markers announced with JOIN.
const (
	GroupStoreManager   = "sm"
	GroupDeliveryPerson = "dp"
)

// Inbound is a message delivered by the server. The concrete types are
// NewTask, StatesListed, StateUpdated, TaskCancelledAck and Unknown.
type Inbound interface {
	Tag() Tag
	isInbound()
}

// NewTask announces a task. The hub also sends it with a null message when
// the dispatch queue is empty.
type NewTask struct {
	Task Task `json:"task"`
}

type StatesListed struct {
	Title  string        `json:"title"`
	States []StateRecord `json:"state"`
}

// StateUpdated carries the display label of a task's latest state.
type StateUpdated struct {
	ID    TaskID `json:"id"`
	State string `json:"state"`
}

type TaskCancelledAck struct {
	ID TaskID `json:"id"`
}

// Unknown carries any inbound event whose tag the dashboard does not handle.
type Unknown struct {
	Event   Tag
	Message json.RawMessage
}

func (NewTask) Tag() Tag          { return EventNewTask }
func (StatesListed) Tag() Tag     { return EventListStatesReply }
func (StateUpdated) Tag() Tag     { return EventUpdateState }
func (TaskCancelledAck) Tag() Tag { return EventTaskCancelledAck }
func (u Unknown) Tag() Tag        { return u.Event }

func (NewTask) isInbound()          {}
func (StatesListed) isInbound()     {}
func (StateUpdated) isInbound()     {}
func (TaskCancelledAck) isInbound() {}
func (Unknown) isInbound()          {}

// Outbound is a command sent to the server.
type Outbound interface {
	Tag() Tag
	isOutbound()
}

// Join announces interest in task updates for a group. Its message is the
// bare group marker string.
type Join struct {
	Group string
}

type CreateTask struct {
	Task Task `json:"task"`
}

type CancelTask struct {
	ID TaskID `json:"id"`
}

type ListStates struct {
	ID TaskID `json:"id"`
}

type AcceptTask struct {
	ID TaskID `json:"id"`
}

type DeclineTask struct {
	ID TaskID `json:"id"`
}

type CompleteTask struct {
	ID TaskID `json:"id"`
}

// GetNewTask asks for the head of the dispatch queue.
type GetNewTask struct{}

func (Join) Tag() Tag         { return EventJoin }
func (CreateTask) Tag() Tag   { return EventCreateTask }
func (CancelTask) Tag() Tag   { return EventTaskCancelled }
func (ListStates) Tag() Tag   { return EventListStates }
func (AcceptTask) Tag() Tag   { return EventTaskAccepted }
func (DeclineTask) Tag() Tag  { return EventTaskDeclined }
func (CompleteTask) Tag() Tag { return EventTaskCompleted }
func (GetNewTask) Tag() Tag   { return EventGetNewTask }

func (Join) isOutbound()         {}
func (CreateTask) isOutbound()   {}
func (CancelTask) isOutbound()   {}
func (ListStates) isOutbound()   {}
func (AcceptTask) isOutbound()   {}
func (DeclineTask) isOutbound()  {}
func (CompleteTask) isOutbound() {}
func (GetNewTask) isOutbound()   {}
