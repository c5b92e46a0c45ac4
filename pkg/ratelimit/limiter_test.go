package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestTokenBucket(t *testing.T) {
	tb := NewTokenBucket(5, time.Second, 5)

	for i := 0; i < 5; i++ {
		if !tb.Allow() {
			t.Errorf("Expected token %d to be available", i+1)
		}
	}

	if tb.Allow() {
		t.Error("Expected no more tokens to be available")
	}

	tb.Reset()
	if !tb.Allow() {
		t.Error("Expected tokens to be available after reset")
	}
}

func TestTokenBucketWait(t *testing.T) {
	tb := NewTokenBucket(20, time.Second, 1)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := tb.Wait(ctx); err != nil {
			t.Fatalf("Wait returned %v", err)
		}
	}
	// one token up front, then two at 50ms intervals
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Errorf("Expected pacing of about 100ms, got %v", elapsed)
	}
}

func TestTokenBucketWaitCancelled(t *testing.T) {
	tb := NewTokenBucket(1, time.Hour, 1)
	tb.Allow()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := tb.Wait(ctx); err == nil {
		t.Error("Expected Wait to fail once the context expires")
	}
}

func TestSlidingWindow(t *testing.T) {
	sw := NewSlidingWindow(3, 200*time.Millisecond)

	for i := 0; i < 3; i++ {
		if !sw.Allow() {
			t.Errorf("Expected request %d to be allowed", i+1)
		}
	}

	if sw.Allow() {
		t.Error("Expected request to be denied when limit is reached")
	}

	time.Sleep(250 * time.Millisecond)
	if !sw.Allow() {
		t.Error("Expected request to be allowed after window slides")
	}

	sw.Reset()
	if len(sw.requests) != 0 {
		t.Error("Expected requests to be cleared after reset")
	}
}

func TestSlidingWindowWait(t *testing.T) {
	sw := NewSlidingWindow(1, 100*time.Millisecond)
	ctx := context.Background()

	if err := sw.Wait(ctx); err != nil {
		t.Fatalf("first Wait: %v", err)
	}
	start := time.Now()
	if err := sw.Wait(ctx); err != nil {
		t.Fatalf("second Wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("Expected second Wait to block, returned after %v", elapsed)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := sw.Wait(cancelled); err == nil {
		t.Error("Expected cancelled Wait to fail")
	}
}

func TestChainAndUnlimited(t *testing.T) {
	c := Chain{Unlimited(), NewSlidingWindow(1, time.Hour)}
	if !c.Allow() {
		t.Error("Expected first request through the chain")
	}
	if c.Allow() {
		t.Error("Expected chain to refuse once any limiter refuses")
	}
	c.Reset()
	if !c.Allow() {
		t.Error("Expected chain to admit after reset")
	}

	if PerMinute(0).Wait(context.Background()) != nil {
		t.Error("Expected unlimited limiter to admit immediately")
	}
}
