package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindClassification(t *testing.T) {
	cases := []struct {
		err    error
		kind   Kind
		status int
	}{
		{Validation("bad input %d", 1), KindValidation, http.StatusBadRequest},
		{Backend("query failed", stderrors.New("conn refused")), KindBackend, http.StatusInternalServerError},
		{Chain("eth_call", stderrors.New("timeout")), KindChain, http.StatusServiceUnavailable},
		{Auth("missing token"), KindAuth, http.StatusUnauthorized},
		{NotFound("no row"), KindNotFound, http.StatusNotFound},
		{stderrors.New("plain"), KindBackend, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := KindOf(tc.err); got != tc.kind {
			t.Errorf("KindOf(%v) = %s, want %s", tc.err, got, tc.kind)
		}
		if !Is(tc.err, tc.kind) {
			t.Errorf("Is(%v, %s) = false", tc.err, tc.kind)
		}
		if got := HTTPStatus(tc.err); got != tc.status {
			t.Errorf("HTTPStatus(%v) = %d, want %d", tc.err, got, tc.status)
		}
	}
}

func TestKindSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("verify payment: %w", Validation("bad hash"))
	if !Is(err, KindValidation) {
		t.Fatalf("kind lost through %%w: %v", err)
	}
	if HTTPStatus(err) != http.StatusBadRequest {
		t.Fatalf("status = %d", HTTPStatus(err))
	}
}

func TestUserMessageHidesCause(t *testing.T) {
	cause := stderrors.New("password=hunter2 dsn=postgres://")
	err := Backend("could not save record", cause)

	msg := UserMessage(err)
	if msg != "could not save record" {
		t.Fatalf("message = %q", msg)
	}

	if UserMessage(stderrors.New("raw internals")) != "internal error" {
		t.Fatal("unclassified error leaked its message")
	}

	// The cause stays reachable for logs.
	if !stderrors.Is(err, cause) {
		t.Fatal("cause not unwrappable")
	}
}
