package consts

// Redis keys used by the redis task store and dispatch queue.
const (
	TaskKeyPrefix        = "task:"
	TaskSequenceKey      = "seq:task"
	TransitionsKeyPrefix = "transitions:"
	TitleIndexPrefix     = "titles:"
	ActorTasksPrefix     = "actor:"
	QueueKeyPrefix       = "queue:"
)

// GroupChannelPrefix prefixes the redis pub/sub channel of every group.
const GroupChannelPrefix = "taskboard:group:"

// Hub groups. Personal groups are "user-<sm|dp>-<username>".
const (
	GroupStoreManager   = "store_manager"
	GroupDeliveryPerson = "delivery_person"
)

// PendingLimitMessage is sent with TASK_PENDING when a delivery person has
// too many accepted tasks.
const PendingLimitMessage = "USER EXCEEDS TOTAL PENDING TASKS"
