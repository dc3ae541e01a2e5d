// Package store implements the Cache Store (spec §4.C): a two-namespace
// key/value view over a shared Redis instance. Namespaces are plain key
// prefixes ("fresh:", "stale:"); TTLs are enforced by Redis itself, not
// by the caller, so clock skew between instances only affects log
// timestamps (spec §4.E edge cases).
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrUnavailable wraps any error reaching Redis that is not a plain
// cache miss. Callers map this to pricing.ErrStoreUnavailable.
var ErrUnavailable = errors.New("store: shared cache unavailable")

// Namespace distinguishes the two TTL tiers described in spec §3.
type Namespace string

const (
	Fresh Namespace = "fresh"
	Stale Namespace = "stale"
)

// Store is the Cache Store contract from spec §4.C. Both operations are
// atomic with respect to an individual key; concurrent Puts on the same
// key are last-writer-wins, which the spec accepts explicitly.
type Store interface {
	// Get returns the value for key in namespace ns, and false if absent.
	Get(ctx context.Context, ns Namespace, key string) (string, bool, error)
	// Put writes value for key in namespace ns with the given TTL.
	Put(ctx context.Context, ns Namespace, key string, value string, ttl time.Duration) error
}

// Redis implements Store over a *redis.Client.
type Redis struct {
	client *redis.Client
}

// New wraps an existing Redis client. The client's lifecycle (Close) is
// owned by the caller, matching how the teacher treats collaborators as
// explicitly constructed, passed-in values rather than ambient globals.
func New(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Get(ctx context.Context, ns Namespace, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, namespacedKey(ns, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return v, true, nil
}

func (r *Redis) Put(ctx context.Context, ns Namespace, key string, value string, ttl time.Duration) error {
	err := r.client.Set(ctx, namespacedKey(ns, key), value, ttl).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func namespacedKey(ns Namespace, key string) string {
	return string(ns) + ":" + key
}
