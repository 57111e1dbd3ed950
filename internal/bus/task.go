package bus

import "fmt"

// TaskID names a signaling task. Each registered task owns one FIFO queue.
type TaskID int

const (
	TaskUnknown TaskID = iota
	TaskS1AP
	TaskMMEApp
	TaskNAS
	TaskSGWApp
	TaskSGs
	TaskTimer
	TaskStateManager
)

func (t TaskID) String() string {
	switch t {
	case TaskS1AP:
		return "s1ap"
	case TaskMMEApp:
		return "mme_app"
	case TaskNAS:
		return "nas"
	case TaskSGWApp:
		return "sgw_app"
	case TaskSGs:
		return "sgs"
	case TaskTimer:
		return "timer"
	case TaskStateManager:
		return "state_manager"
	default:
		return fmt.Sprintf("task(%d)", int(t))
	}
}

// Instance identifies the originating instance of a task.
type Instance uint16

const InstanceDefault Instance = 0
