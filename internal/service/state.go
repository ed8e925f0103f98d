package service

// State is the orchestrator's position in one import
type State int

const (
	StateIdle State = iota
	StateValidating
	StateRefreshing
	StatePaging
	StateBackoff
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateValidating:
		return "validating"
	case StateRefreshing:
		return "refreshing"
	case StatePaging:
		return "paging"
	case StateBackoff:
		return "backoff"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
