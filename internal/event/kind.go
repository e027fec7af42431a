package event

import (
	"fmt"
	"strings"
)

// Kind is the alert category of a scheduled task.
type Kind int

const (
	KindReminder Kind = iota + 1
	KindStart
	KindEnd
)

// Kinds lists every kind in scheduling order.
var Kinds = []Kind{KindReminder, KindStart, KindEnd}

func (k Kind) String() string {
	switch k {
	case KindReminder:
		return "reminder"
	case KindStart:
		return "start"
	case KindEnd:
		return "end"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

func (k Kind) Valid() bool { return k >= KindReminder && k <= KindEnd }

func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "reminder":
		return KindReminder, nil
	case "start":
		return KindStart, nil
	case "end":
		return KindEnd, nil
	default:
		return 0, fmt.Errorf("unknown kind %q (want reminder, start or end)", s)
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("invalid kind %d", int(k))
	}
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}
