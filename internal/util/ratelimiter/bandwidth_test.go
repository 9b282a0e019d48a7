package ratelimiter

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBandwidth_Unlimited(t *testing.T) {
	for _, limit := range []int64{0, -1} {
		b := NewBandwidth(limit)
		if !b.Unlimited() {
			t.Errorf("NewBandwidth(%d).Unlimited() = false", limit)
		}
		if err := b.WaitN(context.Background(), 10<<20); err != nil {
			t.Errorf("WaitN on unlimited: %v", err)
		}
	}

	var nilB *Bandwidth
	if !nilB.Unlimited() {
		t.Error("nil Bandwidth should be unlimited")
	}
}

func TestBandwidth_Throttles(t *testing.T) {
	// the first 64KiB is the initial burst, the second takes ~1s
	b := NewBandwidth(64 * 1024)
	start := time.Now()
	for i := 0; i < 4; i++ {
		if err := b.WaitN(context.Background(), 32*1024); err != nil {
			t.Fatalf("WaitN: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 500*time.Millisecond {
		t.Errorf("128KiB passed in %v, expected throttling", elapsed)
	}
}

func TestBandwidth_ContextCancel(t *testing.T) {
	b := NewBandwidth(1024)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := b.WaitN(ctx, 4096); !errors.Is(err, context.Canceled) {
		t.Errorf("WaitN on cancelled context = %v, want context.Canceled", err)
	}
}
