package notify

import (
	"context"
	"testing"
	"time"
)

func TestHubDeliversToJobSubscribers(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := hub.Subscribe(ctx, "job_a")
	if err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}
	_ = hub.Publish(ctx, Event{JobID: "job_b", Type: EventProgress, Progress: "other job"})
	_ = hub.Publish(ctx, Event{JobID: "job_a", Type: EventSucceeded, ResultRef: "https://cdn/a.png"})

	select {
	case ev := <-events:
		if ev.Type != EventSucceeded || ev.ResultRef != "https://cdn/a.png" || !ev.Terminal() {
			t.Fatalf("event = %+v", ev)
		}
		if ev.At.IsZero() {
			t.Fatal("publish should stamp the event time")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestHubUnsubscribesOnCancel(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	events, _ := hub.Subscribe(ctx, "job_a")
	if hub.Subscribers("job_a") != 1 {
		t.Fatalf("subscribers = %d, want 1", hub.Subscribers("job_a"))
	}
	cancel()

	select {
	case _, ok := <-events:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
	if hub.Subscribers("job_a") != 0 {
		t.Fatalf("subscribers = %d, want 0", hub.Subscribers("job_a"))
	}
	if err := hub.Publish(context.Background(), Event{JobID: "job_a", Type: EventFailed}); err != nil {
		t.Fatalf("Publish after unsubscribe error: %v", err)
	}
}

func TestTopic(t *testing.T) {
	if got := Topic("", "job_a"); got != "genforge:jobs:job_a" {
		t.Fatalf("Topic default = %q", got)
	}
	if got := Topic("dev:", "job_a"); got != "dev:job_a" {
		t.Fatalf("Topic custom = %q", got)
	}
}
