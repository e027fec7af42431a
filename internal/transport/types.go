package transport

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"eventra/internal/alert"
)

// Sink shows alerts to the user.
//
// prevRef is the handle Show returned the last time the same alert id was
// shown on this sink, or "" if never. A sink that can replace messages
// should replace that one; the returned handle is stored for next time.
type Sink interface {
	Name() string
	Show(ctx context.Context, a alert.Alert, prevRef string) (ref string, err error)
}

// Stopper is implemented by sinks that hold resources.
type Stopper interface {
	Stop(ctx context.Context) error
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

// String encodes the ref as "chat:thread:message".
func (r MessageRef) String() string {
	return fmt.Sprintf("%d:%d:%d", r.ChatID, r.ThreadID, r.MessageID)
}

var ErrBadRef = errors.New("transport: malformed message ref")

func ParseMessageRef(s string) (MessageRef, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		return MessageRef{}, fmt.Errorf("%w: %q", ErrBadRef, s)
	}
	chat, err1 := strconv.ParseInt(parts[0], 10, 64)
	thread, err2 := strconv.Atoi(parts[1])
	msg, err3 := strconv.Atoi(parts[2])
	if err := errors.Join(err1, err2, err3); err != nil {
		return MessageRef{}, fmt.Errorf("%w: %q: %v", ErrBadRef, s, err)
	}
	return MessageRef{ChatID: chat, ThreadID: thread, MessageID: msg}, nil
}
