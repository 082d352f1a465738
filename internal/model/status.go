package model

import "fmt"

// RecordState is the lifecycle state of a queued message record.
type RecordState string

const (
	RecordPending   RecordState = "pending"
	RecordActive    RecordState = "active"
	RecordHiding    RecordState = "hiding"
	RecordDismissed RecordState = "dismissed"
)

// pending → active → hiding → (pending | dismissed); pending → dismissed
// hiding → pending covers preemption, suspension and scope deactivation
var validRecordTransitions = map[RecordState]map[RecordState]bool{
	RecordPending: {
		RecordActive:    true,
		RecordDismissed: true,
	},
	RecordActive: {
		RecordHiding: true,
	},
	RecordHiding: {
		RecordPending:   true,
		RecordDismissed: true,
	},
}

func IsRecordTerminal(s RecordState) bool {
	return s == RecordDismissed
}

// IsRecordVisible reports whether the record occupies its scope's display slot.
func IsRecordVisible(s RecordState) bool {
	return s == RecordActive || s == RecordHiding
}

func ValidateRecordTransition(from, to RecordState) error {
	if IsRecordTerminal(from) {
		return fmt.Errorf("cannot transition from terminal record state %q", from)
	}
	allowed, ok := validRecordTransitions[from]
	if !ok {
		return fmt.Errorf("unknown record state %q", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid record transition: %q → %q", from, to)
	}
	return nil
}
