package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSendMessageSucceeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sender := NewDiscordSender(DiscordConfig{Enabled: true, WebhookURL: srv.URL, Timeout: time.Second})
	msg, err := sender.SendMessage(context.Background(), 1, "hello", ParsePlain)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg == nil || msg.Text != "hello" {
		t.Errorf("unexpected message: %+v", msg)
	}
}

func TestSendMessageStripsHTMLForParseHTML(t *testing.T) {
	var received string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := make([]byte, r.ContentLength)
		r.Body.Read(body)
		received = string(body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sender := NewDiscordSender(DiscordConfig{Enabled: true, WebhookURL: srv.URL, Timeout: time.Second})
	if _, err := sender.SendMessage(context.Background(), 1, "<b>bold</b>", ParseHTML); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if received == `{"content":"<b>bold</b>"}` {
		t.Error("expected HTML stripped before sending to Discord")
	}
}

func TestSendMessageReturnsClientErrorWithoutRetry(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	sender := NewDiscordSender(DiscordConfig{Enabled: true, WebhookURL: srv.URL, Timeout: time.Second})
	_, err := sender.SendMessage(context.Background(), 1, "hello", ParsePlain)
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected exactly one attempt for a client error, got %d", calls)
	}
}

func TestSendMessageRetriesServerError(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sender := NewDiscordSender(DiscordConfig{Enabled: true, WebhookURL: srv.URL, Timeout: time.Second})
	sender.retryCfg.InitialDelay = time.Millisecond
	sender.retryCfg.MaxDelay = 5 * time.Millisecond

	_, err := sender.SendMessage(context.Background(), 1, "hello", ParsePlain)
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected a retry after server error, got %d calls", calls)
	}
}

func TestDisabledSenderIsSilent(t *testing.T) {
	sender := NewDiscordSender(DiscordConfig{Enabled: false})
	msg, err := sender.SendMessage(context.Background(), 1, "hello", ParsePlain)
	if msg != nil || err != nil {
		t.Errorf("expected silent nil/nil for disabled sender, got msg=%v err=%v", msg, err)
	}
}

func TestNoOpSenderIsAlwaysSilent(t *testing.T) {
	var sender Sender = NoOpSender{}
	msg, err := sender.SendMessage(context.Background(), 1, "hello", ParseNone)
	if msg != nil || err != nil {
		t.Errorf("expected silent nil/nil, got msg=%v err=%v", msg, err)
	}
}
