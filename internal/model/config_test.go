package model_test

import (
	"strings"
	"testing"
	"time"

	"github.com/bioimg/chainproc/internal/model"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Parallel()
	const doc = `
version: 0
endpoint: imaging.example.org
import:
  tool: /opt/ome/bin/ome-import
supervise:
  pollInterval: 2s
  timeout: 1h30m
session:
  interpreter: /usr/local/bin/matlab
  args: ["-nodisplay", "-nosplash", "-nojvm"]
  settle: 5s
blocks:
  - type: bin
    name: ndsafir
    argv: ["-i", "{in}", "-o", "{out}"]
    timeout: 45m
service:
  verbose: true
`
	cfg, err := model.LoadConfig(strings.NewReader(doc))
	require.NoError(t, err)
	require.Equal(t, "imaging.example.org", cfg.Endpoint)
	require.Equal(t, "/opt/ome/bin/ome-import", cfg.Import.Tool)
	require.Equal(t, 2*time.Second, cfg.Supervise.Poll())
	require.Equal(t, 90*time.Minute, cfg.Supervise.TimeoutDuration())
	require.NotNil(t, cfg.Session)
	require.Equal(t, 5*time.Second, cfg.Session.SettleDuration())
	require.Len(t, cfg.Blocks, 1)
	require.Equal(t, "ndsafir", cfg.Blocks[0].Name)
	require.Equal(t, 45*time.Minute, cfg.Blocks[0].TimeoutDuration(time.Hour))
	require.True(t, cfg.Service.Verbose)
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Parallel()
	const doc = `
version: 0
import:
  tool: ome-import
service: {}
`
	cfg, err := model.LoadConfig(strings.NewReader(doc))
	require.NoError(t, err)
	require.Equal(t, 10*time.Second, cfg.Supervise.Poll())
	require.Zero(t, cfg.Supervise.TimeoutDuration())
	require.Nil(t, cfg.Session)
	require.False(t, cfg.Service.Verbose)
}

func TestLoadConfigRejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		doc  string
	}{
		{
			name: "bad version",
			doc:  "version: 1\nimport:\n  tool: x\nservice: {}\n",
		},
		{
			name: "empty import tool",
			doc:  "version: 0\nimport:\n  tool: \"\"\nservice: {}\n",
		},
		{
			name: "bad duration",
			doc:  "version: 0\nimport:\n  tool: x\nsupervise:\n  pollInterval: soon\nservice: {}\n",
		},
		{
			name: "unknown field",
			doc:  "version: 0\nimport:\n  tool: x\nservice: {}\nnope: true\n",
		},
		{
			name: "bad block type",
			doc:  "version: 0\nimport:\n  tool: x\nblocks:\n  - type: magic\n    name: x\nservice: {}\n",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := model.LoadConfig(strings.NewReader(tc.doc))
			require.Error(t, err)
			details := model.CueErrDetails(err)
			require.NotEmpty(t, details)
		})
	}
}

func TestDefaultConfigIsValid(t *testing.T) {
	t.Parallel()
	cfg := model.DefaultConfig()
	require.Equal(t, 0, cfg.Version)
	require.NotEmpty(t, cfg.Import.Tool)
	require.Equal(t, 10*time.Second, cfg.Supervise.Poll())
}
