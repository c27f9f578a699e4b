// Copyright 2025 James Ross
package link

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func dialMini(t *testing.T) (*Link, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	l := Dial("d1", Coordinates{Hostname: mr.Host(), Port: port, Channel: "out"})
	t.Cleanup(func() { _ = l.Close() })
	return l, mr
}

func TestPushAndLength(t *testing.T) {
	l, _ := dialMini(t)
	ctx := context.Background()
	require.NoError(t, l.Push(ctx, []byte("x")))
	require.NoError(t, l.Push(ctx, []byte("y")))
	n, err := l.Length(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)
}

func TestTrimHeadRemovesFromFront(t *testing.T) {
	l, mr := dialMini(t)
	ctx := context.Background()
	for _, v := range []string{"a", "b", "c", "d"} {
		require.NoError(t, l.Push(ctx, []byte(v)))
	}
	require.NoError(t, l.TrimHead(ctx, 2))
	remaining, err := mr.List("out")
	require.NoError(t, err)
	require.Equal(t, []string{"c", "d"}, remaining)
}

func TestBlockingPopReturnsRedisNilOnTimeout(t *testing.T) {
	l, _ := dialMini(t)
	_, err := l.BlockingPop(context.Background(), 50*time.Millisecond)
	require.ErrorIs(t, err, redis.Nil)
}

func TestBlockingPopReturnsItem(t *testing.T) {
	l, _ := dialMini(t)
	ctx := context.Background()
	require.NoError(t, l.Push(ctx, []byte("hello")))
	v, err := l.BlockingPop(ctx, time.Second)
	require.NoError(t, err)
	require.Equal(t, "hello", v)
}
