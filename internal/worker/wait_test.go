package worker

import (
	"context"
	"testing"
	"time"
)

func TestWaitReportsClosedWakeChannel(t *testing.T) {
	r := &Runtime{}
	wake := make(chan struct{})
	close(wake)

	if r.wait(context.Background(), wake, time.Hour) {
		t.Fatal("expected wait to report the closed wake channel")
	}
}

func TestWaitWakesOnSignal(t *testing.T) {
	r := &Runtime{}
	wake := make(chan struct{}, 1)
	wake <- struct{}{}

	start := time.Now()
	if !r.wait(context.Background(), wake, time.Hour) {
		t.Fatal("expected an open wake channel to be reported as open")
	}
	if time.Since(start) > time.Second {
		t.Fatal("wait did not return on the wake signal")
	}
}

func TestWaitWithoutWatchTimesOut(t *testing.T) {
	r := &Runtime{}
	if !r.wait(context.Background(), nil, 10*time.Millisecond) {
		t.Fatal("expected a nil wake channel to stay usable")
	}
}
