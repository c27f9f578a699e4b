// Copyright 2025 James Ross
package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeYAML(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

const minimalYAML = `
name: src
hostname: 127.0.0.1
port: 6379
channel: in
children: 2
mode: replicant
clients:
  - name: b1
    hostname: 127.0.0.1
    port: 6380
    channel: out1
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeYAML(t, minimalYAML))
	require.NoError(t, err)
	require.Equal(t, 2, cfg.Children)
	require.Equal(t, ModeReplicant, cfg.Mode)
	require.Equal(t, 9090, cfg.Observability.MetricsPort)
	require.Len(t, cfg.Clients, 1)
}

func TestValidateRejectsBadMode(t *testing.T) {
	cfg := defaultConfig()
	cfg.Mode = "broadcast"
	require.Error(t, Validate(cfg))
}

func TestValidateRejectsZeroChildren(t *testing.T) {
	cfg := defaultConfig()
	cfg.Source = Source{Name: "s", Hostname: "h", Channel: "c"}
	cfg.Clients = []ClientConfig{{Hostname: "h2", Channel: "c2"}}
	cfg.Children = 0
	require.Error(t, Validate(cfg))
}

func TestValidateRejectsPartialFilter(t *testing.T) {
	cfg := defaultConfig()
	cfg.Source = Source{Name: "s", Hostname: "h", Channel: "c"}
	cfg.Clients = []ClientConfig{{Hostname: "h2", Channel: "c2"}}
	cfg.Filter.Until = "x"
	require.Error(t, Validate(cfg))
}

func TestValidateRejectsPartialOrdering(t *testing.T) {
	cfg := defaultConfig()
	cfg.Source = Source{Name: "s", Hostname: "h", Channel: "c"}
	cfg.Clients = []ClientConfig{{Hostname: "h2", Channel: "c2"}}
	cfg.Ordering = OrderingConfig{Regex: `(?P<ts>\d+)`, BufferTime: 2}
	require.Error(t, Validate(cfg))
}

func TestValidateRejectsOrderingWithoutNamedCapture(t *testing.T) {
	cfg := defaultConfig()
	cfg.Source = Source{Name: "s", Hostname: "h", Channel: "c"}
	cfg.Clients = []ClientConfig{{Hostname: "h2", Channel: "c2"}}
	cfg.Ordering = OrderingConfig{Regex: `\d+`, BufferTime: 2, Limit: 64}
	require.Error(t, Validate(cfg))
}

func TestValidateRejectsDestinationCoincidingWithSource(t *testing.T) {
	cfg := defaultConfig()
	cfg.Source = Source{Name: "s", Hostname: "h", Port: 6379, Channel: "c"}
	cfg.Clients = []ClientConfig{{Hostname: "h", Port: 6379, Channel: "c"}}
	require.Error(t, Validate(cfg))
}

func TestValidateRejectsPartialLimits(t *testing.T) {
	cfg := defaultConfig()
	cfg.Source = Source{Name: "s", Hostname: "h", Channel: "c"}
	cfg.Clients = []ClientConfig{{Hostname: "h2", Channel: "c2", Limits: Limits{HardWatermark: 10}}}
	require.Error(t, Validate(cfg))
}

func TestValidateRejectsEmptyClients(t *testing.T) {
	cfg := defaultConfig()
	cfg.Source = Source{Name: "s", Hostname: "h", Channel: "c"}
	require.Error(t, Validate(cfg))
}

func TestCheckIntervalDefaultsWhenUnconfigured(t *testing.T) {
	l := Limits{}
	require.Equal(t, DefaultCheckIntervalSecs, int(l.CheckInterval().Seconds()))
}
