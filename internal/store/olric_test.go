package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

// newTestOlricStore starts a single-node embedded Olric on the given port.
func newTestOlricStore(t *testing.T, port int) *OlricStore {
	t.Helper()

	cfg := NewDefaultOlricConfig()
	cfg.BindAddr = "127.0.0.1"
	cfg.BindPort = port
	cfg.LogLevel = "ERROR"

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	st, err := NewOlricStore(ctx, cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("NewOlricStore() error = %v", err)
	}
	t.Cleanup(func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer closeCancel()
		if err := st.Close(closeCtx); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})
	return st
}

func TestOlricStoreSingleNode(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping embedded olric test in short mode")
	}

	st := newTestOlricStore(t, 13320)
	ctx := context.Background()
	key := Key("seatlock", 42, "A1")

	created, err := st.SetNX(ctx, key, "v1", time.Minute)
	if err != nil {
		t.Fatalf("SetNX() error = %v", err)
	}
	if !created {
		t.Fatal("SetNX() = false, want true for a new key")
	}

	created, err = st.SetNX(ctx, key, "v2", time.Minute)
	if err != nil {
		t.Fatalf("SetNX() error = %v", err)
	}
	if created {
		t.Fatal("SetNX() = true, want false for an existing key")
	}

	got, err := st.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != "v1" {
		t.Errorf("Get() = %q, want \"v1\": losing SetNX must not overwrite", got)
	}

	swapped, err := st.CompareAndSwap(ctx, key, "wrong", "v3", time.Minute)
	if err != nil {
		t.Fatalf("CompareAndSwap() error = %v", err)
	}
	if swapped {
		t.Error("CompareAndSwap() = true, want false on value mismatch")
	}

	swapped, err = st.CompareAndSwap(ctx, key, "v1", "v3", time.Minute)
	if err != nil {
		t.Fatalf("CompareAndSwap() error = %v", err)
	}
	if !swapped {
		t.Fatal("CompareAndSwap() = false, want true on matching value")
	}
	if got, _ := st.Get(ctx, key); got != "v3" {
		t.Errorf("Get() after swap = %q, want \"v3\"", got)
	}

	deleted, err := st.CompareAndDelete(ctx, key, "v1")
	if err != nil {
		t.Fatalf("CompareAndDelete() error = %v", err)
	}
	if deleted {
		t.Error("CompareAndDelete() = true, want false on value mismatch")
	}

	deleted, err = st.CompareAndDelete(ctx, key, "v3")
	if err != nil {
		t.Fatalf("CompareAndDelete() error = %v", err)
	}
	if !deleted {
		t.Fatal("CompareAndDelete() = false, want true on matching value")
	}

	if _, err := st.Get(ctx, key); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrKeyNotFound", err)
	}

	deleted, err = st.CompareAndDelete(ctx, key, "v3")
	if err != nil {
		t.Fatalf("CompareAndDelete() error = %v", err)
	}
	if deleted {
		t.Error("CompareAndDelete() = true, want false for a missing key")
	}
}

func TestOlricStoreScan(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping embedded olric test in short mode")
	}

	st := newTestOlricStore(t, 13321)
	ctx := context.Background()

	if err := st.Set(ctx, Key("seatlock", 7, "A1"), "v1", time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := st.Set(ctx, Key("seatlock", 7, "A2"), "v2", time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := st.Set(ctx, Key("seatlock", 8, "A1"), "v3", time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	keys, err := st.Scan(ctx, ShowtimePrefix("seatlock", 7))
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("Scan() returned %d keys, want 2: %v", len(keys), keys)
	}

	keys, err = st.Scan(ctx, ServicePrefix("seatlock"))
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(keys) != 3 {
		t.Errorf("Scan() returned %d keys, want 3: %v", len(keys), keys)
	}
}

func TestOlricStoreTTLExpiry(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping embedded olric test in short mode")
	}

	st := newTestOlricStore(t, 13322)
	ctx := context.Background()
	key := Key("seatlock", 9, "B1")

	if _, err := st.SetNX(ctx, key, "v1", 500*time.Millisecond); err != nil {
		t.Fatalf("SetNX() error = %v", err)
	}
	if _, err := st.Get(ctx, key); err != nil {
		t.Fatalf("Get() before expiry error = %v", err)
	}

	time.Sleep(time.Second)

	if _, err := st.Get(ctx, key); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Get() after expiry error = %v, want ErrKeyNotFound", err)
	}
}

func TestOlricStorePing(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping embedded olric test in short mode")
	}

	st := newTestOlricStore(t, 13323)

	if err := st.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}
