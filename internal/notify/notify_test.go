package notify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type stubNotifier struct {
	err    error
	called bool
}

func (s *stubNotifier) Notify(ctx context.Context, event Event) error {
	s.called = true
	return s.err
}

func TestMultiCallsAllBackendsAndReturnsFirstError(t *testing.T) {
	first := &stubNotifier{err: errors.New("boom")}
	second := &stubNotifier{}
	m := Multi{Backends: []Notifier{first, second}}

	err := m.Notify(context.Background(), Event{TaskID: "t001", FromState: "complete", ToState: "pr_review"})
	if err == nil || err.Error() != "boom" {
		t.Fatalf("got %v", err)
	}
	if !first.called || !second.called {
		t.Fatal("expected both backends to be invoked")
	}
}

func TestMailNotifierNoopWithoutConfig(t *testing.T) {
	m := &MailNotifier{}
	if err := m.Notify(context.Background(), Event{TaskID: "t001"}); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
}

func TestChatNotifierPostsPayload(t *testing.T) {
	var gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewChatNotifier(srv.URL)
	if err := c.Notify(context.Background(), Event{TaskID: "t001", ToState: "verified"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if gotMethod != http.MethodPost {
		t.Fatalf("expected POST, got %s", gotMethod)
	}
}

func TestChatNotifierNoopWithoutURL(t *testing.T) {
	c := NewChatNotifier("")
	if err := c.Notify(context.Background(), Event{TaskID: "t001"}); err != nil {
		t.Fatalf("expected no-op with empty URL, got %v", err)
	}
}

func TestAudioNotifierRestrictsToStates(t *testing.T) {
	a := &AudioNotifier{OnlyStates: map[string]bool{"verified": true}}
	if err := a.Notify(context.Background(), Event{ToState: "running"}); err != nil {
		t.Fatalf("expected silent skip for unrestricted state, got %v", err)
	}
}
