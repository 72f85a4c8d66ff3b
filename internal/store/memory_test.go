package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStoreSetNX(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	ok, err := s.SetNX(ctx, "k", "v1", time.Minute)
	if err != nil {
		t.Fatalf("SetNX() error = %v", err)
	}
	if !ok {
		t.Fatal("SetNX() on absent key should succeed")
	}

	// Second write must be refused while the key lives
	ok, err = s.SetNX(ctx, "k", "v2", time.Minute)
	if err != nil {
		t.Fatalf("SetNX() error = %v", err)
	}
	if ok {
		t.Fatal("SetNX() on present key should fail")
	}

	v, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if v != "v1" {
		t.Errorf("Get() = %s, want v1", v)
	}
}

func TestMemoryStoreSetNXAfterExpiry(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if ok, _ := s.SetNX(ctx, "k", "v1", 10*time.Millisecond); !ok {
		t.Fatal("SetNX() on absent key should succeed")
	}

	time.Sleep(20 * time.Millisecond)

	ok, err := s.SetNX(ctx, "k", "v2", time.Minute)
	if err != nil {
		t.Fatalf("SetNX() error = %v", err)
	}
	if !ok {
		t.Fatal("SetNX() should succeed once the previous entry expired")
	}
}

func TestMemoryStoreGetMissing(t *testing.T) {
	s := NewMemoryStore()

	_, err := s.Get(context.Background(), "absent")
	if !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Get() error = %v, want ErrKeyNotFound", err)
	}
}

func TestMemoryStoreSetNoTTL(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	// ttl 0 means no expiry
	if err := s.Set(ctx, "k", "v", 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	time.Sleep(10 * time.Millisecond)

	v, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if v != "v" {
		t.Errorf("Get() = %s, want v", v)
	}
}

func TestMemoryStoreCompareAndSwap(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_ = s.Set(ctx, "k", "old", time.Minute)

	ok, err := s.CompareAndSwap(ctx, "k", "wrong", "new", time.Minute)
	if err != nil {
		t.Fatalf("CompareAndSwap() error = %v", err)
	}
	if ok {
		t.Fatal("CompareAndSwap() with wrong old value should fail")
	}

	ok, err = s.CompareAndSwap(ctx, "k", "old", "new", time.Minute)
	if err != nil {
		t.Fatalf("CompareAndSwap() error = %v", err)
	}
	if !ok {
		t.Fatal("CompareAndSwap() with matching old value should succeed")
	}

	v, _ := s.Get(ctx, "k")
	if v != "new" {
		t.Errorf("Get() = %s, want new", v)
	}
}

func TestMemoryStoreCompareAndDelete(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_ = s.Set(ctx, "k", "v", time.Minute)

	ok, err := s.CompareAndDelete(ctx, "k", "wrong")
	if err != nil {
		t.Fatalf("CompareAndDelete() error = %v", err)
	}
	if ok {
		t.Fatal("CompareAndDelete() with wrong value should fail")
	}

	ok, err = s.CompareAndDelete(ctx, "k", "v")
	if err != nil {
		t.Fatalf("CompareAndDelete() error = %v", err)
	}
	if !ok {
		t.Fatal("CompareAndDelete() with matching value should succeed")
	}

	if _, err := s.Get(ctx, "k"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrKeyNotFound", err)
	}
}

func TestMemoryStoreScan(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_ = s.Set(ctx, "seatlock:1:A1", "a", time.Minute)
	_ = s.Set(ctx, "seatlock:1:A2", "b", time.Minute)
	_ = s.Set(ctx, "seatlock:2:A1", "c", time.Minute)
	_ = s.Set(ctx, "other:1:A1", "d", time.Minute)

	keys, err := s.Scan(ctx, "seatlock:1:")
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("Scan() returned %d keys, want 2: %v", len(keys), keys)
	}

	keys, err = s.Scan(ctx, "seatlock:")
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(keys) != 3 {
		t.Errorf("Scan() returned %d keys, want 3: %v", len(keys), keys)
	}
}

func TestMemoryStoreScanDropsExpired(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_ = s.Set(ctx, "seatlock:1:A1", "a", 10*time.Millisecond)
	_ = s.Set(ctx, "seatlock:1:A2", "b", time.Minute)

	time.Sleep(20 * time.Millisecond)

	keys, err := s.Scan(ctx, "seatlock:1:")
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(keys) != 1 {
		t.Errorf("Scan() returned %d keys, want 1: %v", len(keys), keys)
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}

func TestMemoryStoreCancelledContext(t *testing.T) {
	s := NewMemoryStore()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.SetNX(ctx, "k", "v", time.Minute); err == nil {
		t.Error("SetNX() with cancelled context should fail")
	}
	if err := s.Ping(ctx); err == nil {
		t.Error("Ping() with cancelled context should fail")
	}
}

func TestKeyLayout(t *testing.T) {
	key := Key("seatlock", 42, "A1")
	if key != "seatlock:42:A1" {
		t.Errorf("Key() = %s, want seatlock:42:A1", key)
	}

	prefix := ShowtimePrefix("seatlock", 42)
	if prefix != "seatlock:42:" {
		t.Errorf("ShowtimePrefix() = %s, want seatlock:42:", prefix)
	}

	svc := ServicePrefix("seatlock")
	if svc != "seatlock:" {
		t.Errorf("ServicePrefix() = %s, want seatlock:", svc)
	}
}
