// Copyright 2025 James Ross
package supervisor

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/juanmitaboada/redismultiplexer/internal/config"
	"github.com/juanmitaboada/redismultiplexer/internal/link"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestConfig(t *testing.T, src, dst *miniredis.Miniredis) *config.Config {
	t.Helper()
	srcPort, err := strconv.Atoi(src.Port())
	require.NoError(t, err)
	dstPort, err := strconv.Atoi(dst.Port())
	require.NoError(t, err)

	return &config.Config{
		Source:   config.Source{Name: "src", Hostname: src.Host(), Port: srcPort, Channel: "in"},
		Children: 1,
		Mode:     config.ModeReplicant,
		Clients: []config.ClientConfig{
			{Name: "d1", Hostname: dst.Host(), Port: dstPort, Channel: "out"},
		},
		Observability: config.ObservabilityConfig{MetricsPort: 9090, LogLevel: "info"},
	}
}

func TestSupervisorDeliversPoppedItemToDestination(t *testing.T) {
	src, err := miniredis.Run()
	require.NoError(t, err)
	defer src.Close()
	dst, err := miniredis.Run()
	require.NoError(t, err)
	defer dst.Close()

	cfg := newTestConfig(t, src, dst)

	srcPort, err := strconv.Atoi(src.Port())
	require.NoError(t, err)
	seed := link.Dial("seed", link.Coordinates{Hostname: src.Host(), Port: srcPort, Channel: "in"})
	require.NoError(t, seed.Push(context.Background(), []byte("hello")))
	require.NoError(t, seed.Close())
	sup := New(cfg, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	require.Eventually(t, func() bool {
		vals, err := dst.List("out")
		return err == nil && len(vals) == 1 && vals[0] == "hello"
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not shut down in time")
	}
}

func TestSupervisorDropsInvalidUTF8Item(t *testing.T) {
	src, err := miniredis.Run()
	require.NoError(t, err)
	defer src.Close()
	dst, err := miniredis.Run()
	require.NoError(t, err)
	defer dst.Close()

	cfg := newTestConfig(t, src, dst)

	srcPort, err := strconv.Atoi(src.Port())
	require.NoError(t, err)
	seed := link.Dial("seed", link.Coordinates{Hostname: src.Host(), Port: srcPort, Channel: "in"})
	require.NoError(t, seed.Push(context.Background(), []byte{0xff, 0xfe, 0xfd}))
	require.NoError(t, seed.Push(context.Background(), []byte("hello")))
	require.NoError(t, seed.Close())
	sup := New(cfg, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	require.Eventually(t, func() bool {
		vals, err := dst.List("out")
		return err == nil && len(vals) == 1 && vals[0] == "hello"
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not shut down in time")
	}
}

func TestValidateRegexesRejectsMalformedFilter(t *testing.T) {
	cfg := &config.Config{Filter: config.FilterConfig{Regex: "("}}
	require.Error(t, validateRegexes(cfg))
}

func TestValidateRegexesRejectsOrderingWithoutNamedCapture(t *testing.T) {
	cfg := &config.Config{Ordering: config.OrderingConfig{Regex: `ts=(\d+)`, BufferTime: 1, Limit: 64}}
	require.Error(t, validateRegexes(cfg))
}

func TestValidateRegexesAcceptsWellFormedConfig(t *testing.T) {
	cfg := &config.Config{
		Filter:   config.FilterConfig{Regex: "ok"},
		Ordering: config.OrderingConfig{Regex: `(?P<ts>\d+)`, BufferTime: 1, Limit: 64},
		Clients:  []config.ClientConfig{{Filter: config.FilterConfig{Regex: "ok2"}}},
	}
	require.NoError(t, validateRegexes(cfg))
}
