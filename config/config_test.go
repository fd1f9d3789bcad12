package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vellumdb/vellum/hnsw"
)

func TestDefaultConfigIsValid(t *testing.T) {
	assert.NoError(t, Validate(Default()))
}

func TestParseAppliesFlags(t *testing.T) {
	cfg, err := Parse([]string{
		"--port", "9000",
		"--log", "/tmp/x.log",
		"--dimension", "64",
		"--metric", "cosine",
		"--paxos",
		"--peers", "10.0.0.1:7777,10.0.0.2:7777",
		"--node-id", "3",
		"--metrics", ":9100",
		"--log-format", "json",
		"--audit-log", "/tmp/audit.zst",
	})
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "/tmp/x.log", cfg.LogPath)
	assert.Equal(t, 64, cfg.Dimension)
	assert.Equal(t, "cosine", cfg.Metric)
	assert.True(t, cfg.Paxos)
	assert.Equal(t, []string{"10.0.0.1:7777", "10.0.0.2:7777"}, cfg.Peers)
	assert.Equal(t, uint32(3), cfg.NodeID)
	assert.Equal(t, ":9100", cfg.MetricsAddr)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "/tmp/audit.zst", cfg.AuditLogPath)
	assert.NoError(t, Validate(cfg))
}

func TestParseHelpFlag(t *testing.T) {
	cfg, err := Parse([]string{"--help"})
	require.NoError(t, err)
	assert.True(t, cfg.Help)
}

func TestValidateRejectsBadPort(t *testing.T) {
	cfg := Default()
	cfg.Port = 0
	assert.ErrorIs(t, Validate(cfg), ErrInvalidPort)

	cfg.Port = 70000
	assert.ErrorIs(t, Validate(cfg), ErrInvalidPort)
}

func TestValidateRejectsBadMetric(t *testing.T) {
	cfg := Default()
	cfg.Metric = "manhattan"
	assert.ErrorIs(t, Validate(cfg), ErrInvalidMetric)
}

func TestValidateRejectsBadLogFormat(t *testing.T) {
	cfg := Default()
	cfg.LogFormat = "xml"
	assert.ErrorIs(t, Validate(cfg), ErrInvalidLogFormat)
}

func TestValidateRequiresNodeIDWhenPaxosEnabled(t *testing.T) {
	cfg := Default()
	cfg.Paxos = true
	assert.ErrorIs(t, Validate(cfg), ErrPaxosNeedsNodeID)

	cfg.NodeID = 1
	assert.NoError(t, Validate(cfg))
}

func TestParseMetric(t *testing.T) {
	m, err := ParseMetric("Euclidean")
	require.NoError(t, err)
	assert.Equal(t, hnsw.Euclidean, m)

	m, err = ParseMetric("COSINE")
	require.NoError(t, err)
	assert.Equal(t, hnsw.Cosine, m)

	_, err = ParseMetric("bogus")
	assert.ErrorIs(t, err, ErrInvalidMetric)
}
