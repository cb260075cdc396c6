package app

import (
	"context"
	"errors"
	"testing"
	"time"

	logAdapter "github.com/medtec-labs/caseship/internal/adapters/log"
	"github.com/medtec-labs/caseship/internal/domain"
)

func TestAgentOnceDrainsQueue(t *testing.T) {
	store := newFakeStore()
	queue := &fakeQueue{}
	b := newTestBuffer(t, store, queue)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := b.Submit(ctx, createOp(t, "Endoskop")); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	store.setOnline(true)

	agent := NewAgent(AgentConfig{Once: true}, b, logAdapter.NewNoopLogger(), nil)
	if err := agent.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n, _ := b.PendingCount(ctx); n != 0 {
		t.Fatalf("PendingCount = %d, want 0", n)
	}
	if got := store.appliedSeqs(); !equalSeqs(got, []int64{1, 2}) {
		t.Fatalf("applied seqs = %v, want [1 2]", got)
	}
}

func TestAgentOnceReturnsFlushError(t *testing.T) {
	store := newFakeStore()
	queue := &fakeQueue{}
	b := newTestBuffer(t, store, queue)
	ctx := context.Background()

	if _, err := b.Submit(ctx, createOp(t, "Endoskop")); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	// Store stays offline: the single flush must fail without retrying.

	agent := NewAgent(AgentConfig{Once: true}, b, logAdapter.NewNoopLogger(), nil)
	if err := agent.Run(ctx); !errors.Is(err, domain.ErrStoreUnreachable) {
		t.Fatalf("Run = %v, want ErrStoreUnreachable", err)
	}
	if n, _ := b.PendingCount(ctx); n != 1 {
		t.Fatalf("PendingCount = %d, want 1", n)
	}
}

func TestAgentKickTriggersFlush(t *testing.T) {
	store := newFakeStore()
	queue := &fakeQueue{}
	b := newTestBuffer(t, store, queue)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := b.Submit(ctx, createOp(t, "Endoskop")); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	kick := make(chan struct{}, 1)
	agent := NewAgent(AgentConfig{
		FlushInterval:  time.Hour,
		BackoffInitial: time.Millisecond,
		BackoffMax:     time.Millisecond,
	}, b, logAdapter.NewNoopLogger(), kick)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := agent.Run(ctx); err != nil {
			t.Errorf("Run: %v", err)
		}
	}()

	// Startup flush fails while offline. Bring the store up and kick.
	store.setOnline(true)
	kick <- struct{}{}

	deadline := time.After(2 * time.Second)
	for {
		if n, _ := b.PendingCount(ctx); n == 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("queue not drained after kick")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("agent did not stop on cancel")
	}
}

func TestAgentReadySignalsStartupFlushDone(t *testing.T) {
	store := newFakeStore()
	queue := &fakeQueue{}
	b := newTestBuffer(t, store, queue)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := 0; i < 2; i++ {
		if _, err := b.Submit(ctx, createOp(t, "Endoskop")); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	store.setOnline(true)

	agent := NewAgent(AgentConfig{FlushInterval: time.Hour}, b, logAdapter.NewNoopLogger(), nil)
	go agent.Run(ctx)

	select {
	case <-agent.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("agent not ready after startup flush")
	}

	// Ready implies the startup flush already ran.
	if n, _ := b.PendingCount(ctx); n != 0 {
		t.Fatalf("PendingCount at ready = %d, want 0", n)
	}
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	back := newBackoff(time.Second, 4*time.Second)

	within := func(d, base time.Duration) bool {
		lo := base - base/5
		hi := base + base/5
		return d >= lo && d <= hi
	}

	for i, base := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 4 * time.Second} {
		d := back.Next()
		if !within(d, base) {
			t.Fatalf("Next() #%d = %v, want around %v", i, d, base)
		}
	}

	back.Reset()
	if d := back.Next(); !within(d, time.Second) {
		t.Fatalf("Next() after Reset = %v, want around 1s", d)
	}
}
