package event

import (
	"fmt"
	"hash/fnv"
	"strconv"
)

const (
	taskNamespace  = "eventra/task/v1"
	alertNamespace = "eventra/alert/v1"
)

// TaskID identifies one scheduled delivery. It is a pure function of the
// event id and kind.
type TaskID uint64

// AlertID identifies one visible alert. A second delivery with the same
// AlertID replaces the first.
type AlertID uint64

// TaskIDFor derives the task id for (eventID, kind).
func TaskIDFor(eventID int64, kind Kind) TaskID {
	return TaskID(namespacedHash(taskNamespace, eventID, kind))
}

// AlertIDFor derives the alert id for (eventID, kind).
func AlertIDFor(eventID int64, kind Kind) AlertID {
	return AlertID(namespacedHash(alertNamespace, eventID, kind))
}

// TaskIDsFor returns the ids of every kind, in Kinds order.
func TaskIDsFor(eventID int64) []TaskID {
	out := make([]TaskID, 0, len(Kinds))
	for _, k := range Kinds {
		out = append(out, TaskIDFor(eventID, k))
	}
	return out
}

func namespacedHash(ns string, eventID int64, kind Kind) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(ns))
	_, _ = h.Write([]byte{'|'})
	_, _ = h.Write(strconv.AppendInt(nil, eventID, 10))
	_, _ = h.Write([]byte{'|'})
	_, _ = h.Write([]byte(kind.String()))
	return h.Sum64()
}

func (id TaskID) String() string  { return fmt.Sprintf("%016x", uint64(id)) }
func (id AlertID) String() string { return fmt.Sprintf("%016x", uint64(id)) }

// ParseTaskID parses the 16 hex digit form produced by String.
func ParseTaskID(s string) (TaskID, error) {
	if len(s) != 16 {
		return 0, fmt.Errorf("task id %q: want 16 hex digits", s)
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("task id %q: %w", s, err)
	}
	return TaskID(v), nil
}
