package chain_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"arenarank/internal/chain"
)

func TestRetrySucceedsAfterFailures(t *testing.T) {
	calls := 0
	got, err := chain.Retry(context.Background(), 3, time.Millisecond, func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("not yet")
		}
		return 7, nil
	})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if got != 7 {
		t.Errorf("value: got %d, want 7", got)
	}
	if calls != 3 {
		t.Errorf("calls: got %d, want 3", calls)
	}
}

func TestRetryExhaustion(t *testing.T) {
	calls := 0
	_, err := chain.Retry(context.Background(), 4, time.Millisecond, func(context.Context) (int, error) {
		calls++
		return 0, errors.New("down")
	})
	if !errors.Is(err, chain.ErrRetriesExhausted) {
		t.Fatalf("got %v, want ErrRetriesExhausted", err)
	}
	if calls != 4 {
		t.Errorf("calls: got %d, want 4", calls)
	}
}

func TestRetryHonorsContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := chain.Retry(ctx, 10, time.Minute, func(context.Context) (int, error) {
		calls++
		cancel()
		return 0, errors.New("down")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls: got %d, want 1", calls)
	}
}
