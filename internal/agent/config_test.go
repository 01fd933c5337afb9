package agent

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
controller_url: https://ctl.example:8443
node_name: edge-7
node_address: 192.168.1.7
labels:
  node-tier: edge
capabilities: [gpu]
heartbeat_interval: 15s
`), 0o600))
	t.Setenv("EDGEFLEET_AGENT_REGION", "ap-south")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 15*time.Second, cfg.HeartbeatInterval.Std())
	assert.Equal(t, DefaultReportInterval, cfg.ReportInterval.Std())

	req := cfg.RegisterRequest()
	assert.Equal(t, "edge-7", req.Name)
	assert.Equal(t, "ap-south", req.Region)
	assert.Equal(t, "edge", req.Labels["node-tier"])
	assert.Equal(t, []string{"gpu"}, req.Capabilities)
	assert.Equal(t, "containerd", req.ContainerRuntime)
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ControllerURL = "ctl:8080"
	cfg.NodeAddress = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "controller_url")
	assert.Contains(t, err.Error(), "node_address")
}
