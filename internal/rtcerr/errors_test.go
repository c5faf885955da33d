package rtcerr

import (
	"errors"
	"testing"
)

func TestWrappingPreservesSentinel(t *testing.T) {
	err := BadRequest("roomName is required")
	if !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected ErrBadRequest")
	}
	if Message(err) != "roomName is required" {
		t.Fatalf("unexpected message %q", Message(err))
	}
}

func TestUpstreamHidesCause(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := Upstream("list rooms", cause)
	if !errors.Is(err, ErrUpstream) || !errors.Is(err, cause) {
		t.Fatalf("expected both sentinel and cause in chain")
	}
	if Message(err) != "upstream failure" {
		t.Fatalf("cause leaked: %q", Message(err))
	}
}

func TestMessageUnknown(t *testing.T) {
	if Message(errors.New("boom")) != "internal error" {
		t.Fatalf("expected generic message")
	}
}
