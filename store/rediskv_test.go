package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) *Redis {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client)
}

func TestRedis_GetMiss(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	_, ok, err := s.Get(context.Background(), Fresh, "rate:Summer:FloatingPointResort:SingletonRoom")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected miss on empty store")
	}
}

func TestRedis_PutThenGet(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	key := "rate:Winter:GitawayHotel:BooleanTwin"

	if err := s.Put(ctx, Fresh, key, "120.50", time.Minute); err != nil {
		t.Fatalf("Put: %v", err)
	}
	v, ok, err := s.Get(ctx, Fresh, key)
	if err != nil || !ok || v != "120.50" {
		t.Fatalf("Get = %q, %v, %v, want 120.50, true, nil", v, ok, err)
	}
}

func TestRedis_NamespacesAreIsolated(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	key := "rate:Autumn:RecursionRetreat:RestfulKing"

	if err := s.Put(ctx, Stale, key, "99.00", time.Minute); err != nil {
		t.Fatalf("Put stale: %v", err)
	}
	if _, ok, err := s.Get(ctx, Fresh, key); err != nil || ok {
		t.Fatalf("fresh lookup should miss after only a stale write, ok=%v err=%v", ok, err)
	}
	if v, ok, err := s.Get(ctx, Stale, key); err != nil || !ok || v != "99.00" {
		t.Fatalf("Get stale = %q, %v, %v, want 99.00, true, nil", v, ok, err)
	}
}

func TestRedis_TTLExpires(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	s := New(client)

	ctx := context.Background()
	key := "rate:Spring:FloatingPointResort:SingletonRoom"
	if err := s.Put(ctx, Fresh, key, "1.00", time.Second); err != nil {
		t.Fatalf("Put: %v", err)
	}
	mr.FastForward(2 * time.Second)

	if _, ok, err := s.Get(ctx, Fresh, key); err != nil || ok {
		t.Fatalf("expected miss after TTL expiry, ok=%v err=%v", ok, err)
	}
}
