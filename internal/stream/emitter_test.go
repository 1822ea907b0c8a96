package stream

import (
	"io"
	"log"
	"testing"
)

func TestEmitterDeliversInInsertionOrder(t *testing.T) {
	var e emitter[int]
	var order []string
	e.subscribe(func(int) { order = append(order, "first") })
	e.subscribe(func(int) { order = append(order, "second") })
	e.subscribe(func(int) { order = append(order, "third") })

	e.emit(log.New(io.Discard, "", 0), 1)

	want := []string{"first", "second", "third"}
	if len(order) != len(want) {
		t.Fatalf("got %v want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("got %v want %v", order, want)
		}
	}
}

func TestEmitterIsolatesPanickingListener(t *testing.T) {
	var e emitter[string]
	reached := false
	e.subscribe(func(string) { panic("listener bug") })
	e.subscribe(func(string) { reached = true })

	e.emit(log.New(io.Discard, "", 0), "event")

	if !reached {
		t.Fatal("panic in one listener blocked delivery to the next")
	}
}

func TestEmitterUnsubscribe(t *testing.T) {
	var e emitter[int]
	calls := 0
	unsub := e.subscribe(func(int) { calls++ })
	e.subscribe(func(int) {})

	e.emit(nil, 1)
	unsub()
	unsub() // second call is harmless
	e.emit(nil, 2)

	if calls != 1 {
		t.Fatalf("expected 1 call after unsubscribe, got %d", calls)
	}
	if got := e.len(); got != 1 {
		t.Fatalf("expected 1 remaining subscriber, got %d", got)
	}
}
