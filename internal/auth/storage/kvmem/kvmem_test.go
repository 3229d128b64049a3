package kvmem

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/palaverhq/palaver/internal/auth/storage"
)

func TestPutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := New()

	if err := store.Put(ctx, "challenge:abc", "user-1", time.Minute); err != nil {
		t.Fatalf("put: %v", err)
	}
	value, err := store.Get(ctx, "challenge:abc")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if value != "user-1" {
		t.Fatalf("value = %q", value)
	}
}

func TestGetMissingKey(t *testing.T) {
	store := New()
	_, err := store.Get(context.Background(), "absent")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestExpiredEntryBehavesLikeAbsent(t *testing.T) {
	ctx := context.Background()
	store := New()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return now })

	if err := store.Put(ctx, "challenge:x", "user-1", 5*time.Minute); err != nil {
		t.Fatalf("put: %v", err)
	}

	now = now.Add(5*time.Minute + time.Second)
	if _, err := store.Get(ctx, "challenge:x"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("get after expiry = %v, want ErrNotFound", err)
	}
	if _, err := store.GetDel(ctx, "challenge:x"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("getdel after expiry = %v, want ErrNotFound", err)
	}
}

func TestGetDelConsumesOnce(t *testing.T) {
	ctx := context.Background()
	store := New()
	if err := store.Put(ctx, "challenge:y", "login", time.Minute); err != nil {
		t.Fatalf("put: %v", err)
	}

	value, err := store.GetDel(ctx, "challenge:y")
	if err != nil {
		t.Fatalf("first getdel: %v", err)
	}
	if value != "login" {
		t.Fatalf("value = %q", value)
	}
	if _, err := store.GetDel(ctx, "challenge:y"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("second getdel = %v, want ErrNotFound", err)
	}
}

func TestGetDelSingleWinnerUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	store := New()
	if err := store.Put(ctx, "challenge:race", "user-1", time.Minute); err != nil {
		t.Fatalf("put: %v", err)
	}

	const attempts = 32
	var wg sync.WaitGroup
	wins := make(chan string, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if value, err := store.GetDel(ctx, "challenge:race"); err == nil {
				wins <- value
			}
		}()
	}
	wg.Wait()
	close(wins)

	count := 0
	for value := range wins {
		count++
		if value != "user-1" {
			t.Fatalf("winner observed %q", value)
		}
	}
	if count != 1 {
		t.Fatalf("winners = %d, want exactly 1", count)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := New()
	if err := store.Put(ctx, "session:t", "user-1", time.Minute); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Delete(ctx, "session:t"); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	if err := store.Delete(ctx, "session:t"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}
