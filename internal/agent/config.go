package agent

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/VerteraIO/edgefleet/internal/config"
	"github.com/VerteraIO/edgefleet/internal/controlplane/nodes"
)

// Config is the agent's file format.
type Config struct {
	ControllerURL     string            `yaml:"controller_url"`
	NodeName          string            `yaml:"node_name"`
	NodeAddress       string            `yaml:"node_address"`
	Region            string            `yaml:"region"`
	Zone              string            `yaml:"zone"`
	Labels            map[string]string `yaml:"labels"`
	Capabilities      []string          `yaml:"capabilities"`
	KubernetesVersion string            `yaml:"kubernetes_version"`
	ContainerRuntime  string            `yaml:"container_runtime"`
	HeartbeatInterval config.Duration   `yaml:"heartbeat_interval"`
	ReportInterval    config.Duration   `yaml:"report_interval"`
	RequestTimeout    config.Duration   `yaml:"request_timeout"`
	DiskPath          string            `yaml:"disk_path"`
}

func DefaultConfig() Config {
	host, _ := os.Hostname()
	return Config{
		ControllerURL:     "http://localhost:8080",
		NodeName:          host,
		KubernetesVersion: "unknown",
		ContainerRuntime:  "containerd",
		HeartbeatInterval: config.Duration(DefaultHeartbeatInterval),
		ReportInterval:    config.Duration(DefaultReportInterval),
		RequestTimeout:    config.Duration(10 * time.Second),
		DiskPath:          "/",
	}
}

// LoadConfig reads path over DefaultConfig (an empty path skips the file) and
// applies EDGEFLEET_AGENT_* overrides.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read agent config: %w", err)
		}
		if err := yaml.Unmarshal(content, &cfg); err != nil {
			return cfg, fmt.Errorf("parse agent config: %w", err)
		}
	}
	for key, dst := range map[string]*string{
		"EDGEFLEET_AGENT_CONTROLLER_URL": &cfg.ControllerURL,
		"EDGEFLEET_AGENT_NODE_NAME":      &cfg.NodeName,
		"EDGEFLEET_AGENT_NODE_ADDRESS":   &cfg.NodeAddress,
		"EDGEFLEET_AGENT_REGION":         &cfg.Region,
		"EDGEFLEET_AGENT_ZONE":           &cfg.Zone,
	} {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	if v := os.Getenv("EDGEFLEET_AGENT_HEARTBEAT_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("EDGEFLEET_AGENT_HEARTBEAT_INTERVAL: %w", err)
		}
		cfg.HeartbeatInterval = config.Duration(d)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if !strings.HasPrefix(c.ControllerURL, "http://") && !strings.HasPrefix(c.ControllerURL, "https://") {
		errs = append(errs, fmt.Errorf("controller_url must be an http(s) URL, got %q", c.ControllerURL))
	}
	if strings.TrimSpace(c.NodeName) == "" {
		errs = append(errs, errors.New("node_name is required"))
	}
	if strings.TrimSpace(c.NodeAddress) == "" {
		errs = append(errs, errors.New("node_address is required"))
	}
	if c.HeartbeatInterval <= 0 {
		errs = append(errs, errors.New("heartbeat_interval must be positive"))
	}
	return errors.Join(errs...)
}

// RegisterRequest is what the agent sends when enrolling.
func (c Config) RegisterRequest() nodes.RegisterRequest {
	return nodes.RegisterRequest{
		Name:              c.NodeName,
		Address:           c.NodeAddress,
		Labels:            c.Labels,
		Capabilities:      c.Capabilities,
		Region:            c.Region,
		Zone:              c.Zone,
		KubernetesVersion: c.KubernetesVersion,
		ContainerRuntime:  c.ContainerRuntime,
	}
}
