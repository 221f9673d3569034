package errs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindRoundtrip(t *testing.T) {
	err := New(NotFound, "missing")
	if !Is(err, NotFound) {
		t.Fatalf("kind lost: %v", err)
	}
	if Is(err, NotAuthorized) {
		t.Fatalf("wrong kind matched")
	}
	k, ok := KindOf(err)
	if !ok || k != NotFound {
		t.Fatalf("KindOf: %v %v", k, ok)
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(Unavailable, "appending", cause)
	if !errors.Is(err, cause) {
		t.Fatalf("cause lost")
	}
	if !Is(err, Unavailable) {
		t.Fatalf("kind lost")
	}
	// wrapping again keeps the innermost typed kind reachable
	outer := fmt.Errorf("handler: %w", err)
	if !Is(outer, Unavailable) {
		t.Fatalf("kind lost through fmt wrap")
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Kind]int{
		Unauthenticated:    http.StatusUnauthorized,
		InvalidCredentials: http.StatusUnauthorized,
		NotAuthorized:      http.StatusForbidden,
		EmptyMessage:       http.StatusBadRequest,
		InvalidInput:       http.StatusBadRequest,
		NotFound:           http.StatusNotFound,
		Unavailable:        http.StatusServiceUnavailable,
		AccountExists:      http.StatusConflict,
	}
	for kind, want := range cases {
		if got := HTTPStatus(New(kind, "x")); got != want {
			t.Fatalf("%v: expected %d got %d", kind, want, got)
		}
	}
	if got := HTTPStatus(errors.New("plain")); got != http.StatusInternalServerError {
		t.Fatalf("untyped: got %d", got)
	}
}

func TestMessage(t *testing.T) {
	if m := Message(New(NotFound, "conversation not found")); m != "conversation not found" {
		t.Fatalf("got %q", m)
	}
	if m := Message(errors.New("secret detail")); m != "internal error" {
		t.Fatalf("untyped errors must not leak: %q", m)
	}
}
