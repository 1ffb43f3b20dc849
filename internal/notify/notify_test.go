package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"coordline/internal/config"
	"coordline/internal/logging"
)

type failingSink struct{}

func (failingSink) Notify(context.Context, Notification) error { return errors.New("boom") }

func TestBusFanOutAndDrop(t *testing.T) {
	bus := NewBus()
	a := bus.Subscribe()
	b := bus.Subscribe()
	n := Notification{Kind: StateChanged, Event: "task.updated", Aliases: []string{"edgar"}}
	if err := bus.Notify(context.Background(), n); err != nil {
		t.Fatal(err)
	}
	for _, ch := range []chan Notification{a, b} {
		select {
		case got := <-ch:
			if got.Event != "task.updated" || !got.For("edgar") || got.For("thomas") {
				t.Fatalf("unexpected notification %+v", got)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber missed notification")
		}
	}
	bus.Unsubscribe(a)
	bus.Unsubscribe(a)
	// fill b past its buffer; Notify must not block
	for i := 0; i < 100; i++ {
		_ = bus.Notify(context.Background(), n)
	}
	bus.Unsubscribe(b)
}

func TestMultiJoinsErrors(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe()
	defer bus.Unsubscribe(ch)
	err := Multi{failingSink{}, nil, bus, Nop{}}.Notify(context.Background(), Notification{Event: "x"})
	if err == nil {
		t.Fatalf("expected joined error")
	}
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatalf("later sinks must still run after a failure")
	}
}

func TestWebhookSinkDelivers(t *testing.T) {
	got := make(chan Notification, 4)
	secrets := make(chan string, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var n Notification
		_ = json.NewDecoder(r.Body).Decode(&n)
		secrets <- r.Header.Get("X-Coordline-Secret")
		got <- n
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	off := false
	sink := NewWebhookSink([]config.Webhook{
		{ID: "ops", URL: srv.URL, Events: []string{"task_proposal.accepted"}, Secret: "s3cret"},
		{ID: "off", URL: srv.URL, Enabled: &off},
	}, logging.NopLogger())
	if !sink.Enabled() {
		t.Fatalf("sink should be enabled")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sink.Run(ctx)

	_ = sink.Notify(ctx, Notification{Kind: StateChanged, Event: "task.updated"})
	_ = sink.Notify(ctx, Notification{Kind: StateChanged, Event: "task_proposal.accepted", EntityID: "p1"})

	select {
	case n := <-got:
		if n.Event != "task_proposal.accepted" || n.EntityID != "p1" {
			t.Fatalf("filter let through %+v", n)
		}
		if s := <-secrets; s != "s3cret" {
			t.Fatalf("secret header %q", s)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("webhook not delivered")
	}
	select {
	case n := <-got:
		t.Fatalf("unexpected extra delivery %+v", n)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWebhookSinkDisabledIsNoop(t *testing.T) {
	sink := NewWebhookSink(nil, logging.NopLogger())
	for i := 0; i < defaultWebhookQueue+10; i++ {
		if err := sink.Notify(context.Background(), Notification{}); err != nil {
			t.Fatalf("disabled sink must not queue: %v", err)
		}
	}
}
