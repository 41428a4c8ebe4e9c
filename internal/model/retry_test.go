package model

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

type fakeInvoker struct {
	calls   int
	failFor int // fail this many calls before succeeding
	output  string
	block   bool // ignore prompt, block until context is done
}

func (f *fakeInvoker) Invoke(ctx context.Context, prompt string) (string, error) {
	f.calls++
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if f.calls <= f.failFor {
		return "", fmt.Errorf("transient failure %d", f.calls)
	}
	return f.output, nil
}

func (f *fakeInvoker) Close() {}

func TestRetrySucceedsFirstAttempt(t *testing.T) {
	fake := &fakeInvoker{output: "hello"}
	inv := NewRetryInvoker(fake, 3, time.Second)

	out, err := inv.Invoke(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Invoke error: %v", err)
	}
	if out != "hello" {
		t.Errorf("out = %q", out)
	}
	if fake.calls != 1 {
		t.Errorf("calls = %d, want 1", fake.calls)
	}
}

func TestRetryRecoversFromTransientFailures(t *testing.T) {
	fake := &fakeInvoker{failFor: 2, output: "eventually"}
	inv := NewRetryInvoker(fake, 3, time.Second)

	out, err := inv.Invoke(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Invoke error: %v", err)
	}
	if out != "eventually" {
		t.Errorf("out = %q", out)
	}
	if fake.calls != 3 {
		t.Errorf("calls = %d, want 3", fake.calls)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	fake := &fakeInvoker{failFor: 10}
	inv := NewRetryInvoker(fake, 3, time.Second)

	_, err := inv.Invoke(context.Background(), "hi")
	if !errors.Is(err, ErrModelUnavailable) {
		t.Fatalf("err = %v, want ErrModelUnavailable", err)
	}
	if fake.calls != 3 {
		t.Errorf("calls = %d, want exactly 3", fake.calls)
	}
}

func TestRetryStopsOnCancelledContext(t *testing.T) {
	fake := &fakeInvoker{block: true}
	inv := NewRetryInvoker(fake, 3, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := inv.Invoke(ctx, "hi")
	if err == nil {
		t.Fatal("expected error after cancel")
	}
	if fake.calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry after cancel)", fake.calls)
	}
}

func TestRetryPerAttemptTimeout(t *testing.T) {
	fake := &fakeInvoker{block: true}
	inv := NewRetryInvoker(fake, 2, 10*time.Millisecond)

	start := time.Now()
	_, err := inv.Invoke(context.Background(), "hi")
	if !errors.Is(err, ErrModelUnavailable) {
		t.Fatalf("err = %v, want ErrModelUnavailable", err)
	}
	if fake.calls != 2 {
		t.Errorf("calls = %d, want 2 (each attempt timed out independently)", fake.calls)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("retry took too long: %v", elapsed)
	}
}
