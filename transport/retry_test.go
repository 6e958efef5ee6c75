package transport

import (
	"context"
	"errors"
	"testing"
)

func TestRetryPolicy_Do_SucceedsAfterRetries(t *testing.T) {
	p := DefaultRetryPolicy()
	p.BaseDelay = 0
	p.MaxDelay = 0

	attempts := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 2 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("attempts = %d, want 2", attempts)
	}
}

func TestRetryPolicy_Do_GivesUpAfterMaxAttempts(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 2, BaseDelay: 0, MaxDelay: 0, BackoffMultiplier: 1}
	attempts := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return errors.New("permanent")
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if attempts != 2 {
		t.Fatalf("attempts = %d, want 2", attempts)
	}
}

func TestRetryPolicy_Do_StopsOnContextCancel(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, BaseDelay: 0, MaxDelay: 0, BackoffMultiplier: 1}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	attempts := 0
	err := p.Do(ctx, func(ctx context.Context) error {
		attempts++
		return errors.New("fail")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts > 5 {
		t.Fatalf("attempts = %d, want <= 5", attempts)
	}
}

func TestIdempotentMethods_OnlyListsReadOnlyAndPing(t *testing.T) {
	for _, m := range []string{"tools/list", "resources/list", "prompts/list", "ping"} {
		if !IdempotentMethods[m] {
			t.Fatalf("expected %s to be idempotent", m)
		}
	}
	for _, m := range []string{"tools/call", "sampling/createMessage", "elicitation/create"} {
		if IdempotentMethods[m] {
			t.Fatalf("expected %s to NOT be idempotent", m)
		}
	}
}
