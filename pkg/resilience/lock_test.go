package resilience

import (
	"context"
	"testing"
	"time"
)

func TestLock_AcquireAndRelease(t *testing.T) {
	_, client := setupTestRedis(t)
	ctx := context.Background()

	l := NewLock(client, "tenant-a-recalc", time.Second)
	if err := l.Acquire(ctx, 5); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := l.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}

	// A second acquire after release must succeed immediately.
	l2 := NewLock(client, "tenant-a-recalc", time.Second)
	if err := l2.Acquire(ctx, 5); err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
}

func TestLock_SecondAcquireFailsWhileHeld(t *testing.T) {
	_, client := setupTestRedis(t)
	ctx := context.Background()

	l1 := NewLock(client, "resource-x", time.Second)
	if err := l1.Acquire(ctx, 5); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	l2 := NewLock(client, "resource-x", time.Second)
	if err := l2.Acquire(ctx, 2); err == nil {
		t.Fatal("expected second acquire to fail while the first lock is held")
	}
}

func TestLock_ReleaseRejectsWrongToken(t *testing.T) {
	_, client := setupTestRedis(t)
	ctx := context.Background()

	l1 := NewLock(client, "resource-y", time.Second)
	if err := l1.Acquire(ctx, 5); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	l2 := NewLock(client, "resource-y", time.Second)
	l2.token = "not-the-real-token"
	if err := l2.Release(ctx); err == nil {
		t.Fatal("expected release with a foreign token to fail")
	}
}
