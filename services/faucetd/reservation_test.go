package faucetd

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestMemoryReservationsExpire(t *testing.T) {
	store := NewMemoryReservations()
	now := time.Unix(1_700_000_000, 0)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	ok, err := store.Reserve(ctx, "ADDR", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.Reserve(ctx, "ADDR", time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	now = now.Add(2 * time.Minute)
	ok, err = store.Reserve(ctx, "ADDR", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, store.Len())
}

func TestMemoryReservationsRetainAndRelease(t *testing.T) {
	store := NewMemoryReservations()
	now := time.Unix(1_700_000_000, 0)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := store.Reserve(ctx, "ADDR", time.Second)
	require.NoError(t, err)
	require.NoError(t, store.Retain(ctx, "ADDR", time.Hour))

	now = now.Add(time.Minute)
	ok, err := store.Reserve(ctx, "ADDR", time.Second)
	require.NoError(t, err)
	require.False(t, ok, "retained reservation still held")

	require.NoError(t, store.Release(ctx, "ADDR"))
	require.Zero(t, store.Len())
}

func TestRedisReservations(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := NewRedisReservations(client, "")
	ctx := context.Background()

	ok, err := store.Reserve(ctx, "ADDR", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, srv.Exists("faucet:reservation:ADDR"))

	ok, err = store.Reserve(ctx, "ADDR", time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.Retain(ctx, "ADDR", time.Hour))
	require.Equal(t, time.Hour, srv.TTL("faucet:reservation:ADDR"))

	srv.FastForward(2 * time.Hour)
	ok, err = store.Reserve(ctx, "ADDR", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, store.Release(ctx, "ADDR"))
	require.False(t, srv.Exists("faucet:reservation:ADDR"))
	require.NoError(t, store.Release(ctx, "ADDR"))
}

func TestRedisReservationsRetainRecreatesExpiredKey(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := NewRedisReservations(client, "test:")

	require.NoError(t, store.Retain(context.Background(), "ADDR", time.Minute))
	require.True(t, srv.Exists("test:ADDR"))
}

func TestRedisReservationsSharedAcrossProcessors(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	first := newHarness(t)
	second := newHarnessWithFake(t, first.fake, first.custodian)
	shared := NewRedisReservations(client, "")
	first.processor.reservations = shared
	second.processor.reservations = shared

	target := newTarget()
	ok, err := shared.Reserve(context.Background(), target, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = second.processor.Disburse(context.Background(), request(target))
	require.Error(t, err)
	_, msg := HTTPStatus(err)
	require.Equal(t, MsgRateLimited, msg)
	require.Empty(t, first.fake.Builds())
}
