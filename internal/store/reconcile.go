package store

// Action is what an update does to an optional sub-record (result or
// exception) of a checkpoint.
type Action int

const (
	// ActionNone: no sub-record before or after.
	ActionNone Action = iota
	// ActionInsert: create a sub-record and link it.
	ActionInsert
	// ActionUpdate: overwrite the linked sub-record in place, keeping its id.
	ActionUpdate
	// ActionDelete: unlink the sub-record and delete it.
	ActionDelete
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionInsert:
		return "insert"
	case ActionUpdate:
		return "update"
	case ActionDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Reconcile decides the action for one sub-record given whether the stored
// checkpoint links one (hasCurrent) and whether the incoming checkpoint
// carries a value for it (hasNew).
//
//	current  new      action
//	absent   absent   none
//	absent   present  insert
//	present  present  update
//	present  absent   delete
func Reconcile(hasCurrent, hasNew bool) Action {
	switch {
	case !hasCurrent && !hasNew:
		return ActionNone
	case !hasCurrent:
		return ActionInsert
	case hasNew:
		return ActionUpdate
	default:
		return ActionDelete
	}
}
