package transport

import (
	"errors"
	"testing"
)

func TestMessageRefRoundTrip(t *testing.T) {
	in := MessageRef{ChatID: -100123, ThreadID: 7, MessageID: 42}
	out, err := ParseMessageRef(in.String())
	if err != nil {
		t.Fatalf("ParseMessageRef: %v", err)
	}
	if out != in {
		t.Fatalf("got %+v, want %+v", out, in)
	}
	for _, bad := range []string{"", "1:2", "a:b:c", "1:2:3:4"} {
		if _, err := ParseMessageRef(bad); !errors.Is(err, ErrBadRef) {
			t.Fatalf("ParseMessageRef(%q) err = %v", bad, err)
		}
	}
}
