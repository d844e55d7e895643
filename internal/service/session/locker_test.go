package session

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"
)

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	defer goleak.VerifyNone(t)
	m := NewKeyedMutex()

	unlock, err := m.Lock(context.Background(), "ana")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = m.Lock(ctx, "ana")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock()

	again, err := m.Lock(context.Background(), "ana")
	require.NoError(t, err)
	again()
	assert.Equal(t, 0, m.Len())
}

func TestKeyedMutexDistinctKeysRunInParallel(t *testing.T) {
	defer goleak.VerifyNone(t)
	m := NewKeyedMutex()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var ready sync.WaitGroup
	ready.Add(2)
	g, gctx := errgroup.WithContext(ctx)
	for _, key := range []string{"ana", "bia"} {
		key := key
		g.Go(func() error {
			unlock, err := m.Lock(gctx, key)
			if err != nil {
				return err
			}
			defer unlock()
			ready.Done()
			// both holders must be inside at the same time
			done := make(chan struct{})
			go func() { ready.Wait(); close(done) }()
			select {
			case <-done:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, 0, m.Len())
}

func TestKeyedMutexProtectsSharedState(t *testing.T) {
	defer goleak.VerifyNone(t)
	m := NewKeyedMutex()

	counter := 0
	var g errgroup.Group
	for i := 0; i < 50; i++ {
		g.Go(func() error {
			unlock, err := m.Lock(context.Background(), "ana::Laura")
			if err != nil {
				return err
			}
			defer unlock()
			counter++
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, 50, counter)
	assert.Equal(t, 0, m.Len())
}

func TestRedisLockerUnavailable(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	defer client.Close()
	l := NewRedisLocker(client, RedisOptions{}, nil)

	_, err := l.Lock(context.Background(), "ana")
	assert.ErrorIs(t, err, ErrLockUnavailable)
}

func TestRedisLocker(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	l := NewRedisLocker(client, RedisOptions{Prefix: "roleplay:test:", TTL: time.Minute, Poll: 5 * time.Millisecond}, nil)

	unlock, err := l.Lock(context.Background(), t.Name())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, t.Name())
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	again, err := l.Lock(context.Background(), t.Name())
	require.NoError(t, err)
	again()
}
