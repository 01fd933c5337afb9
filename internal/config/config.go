// Package config loads controller settings from YAML with environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML files can say "30s" or "2m".
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalYAML() (any, error) { return time.Duration(d).String(), nil }

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	*d = Duration(v)
	return nil
}

type Config struct {
	Listen      string            `yaml:"listen"`
	GRPCListen  string            `yaml:"grpc_listen"`
	TLS         TLSConfig         `yaml:"tls"`
	Log         LogConfig         `yaml:"log"`
	Nodes       NodesConfig       `yaml:"nodes"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Monitoring  MonitoringConfig  `yaml:"monitoring"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Auth        AuthConfig        `yaml:"auth"`
	Shutdown    ShutdownConfig    `yaml:"shutdown"`
}

type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type NodesConfig struct {
	// HeartbeatInterval is the cadence agents are expected to run at. It is
	// only checked against StalenessThreshold, which must leave room for at
	// least one missed beat.
	HeartbeatInterval  Duration `yaml:"heartbeat_interval"`
	StalenessThreshold Duration `yaml:"staleness_threshold"`
	SweepPeriod        Duration `yaml:"sweep_period"`
	InitialStatus      string   `yaml:"initial_status"`
}

type SchedulerConfig struct {
	TickPeriod Duration `yaml:"tick_period"`
}

type MonitoringConfig struct {
	CollectPeriod Duration `yaml:"collect_period"`
}

type CredentialsConfig struct {
	TokenTTL       Duration `yaml:"token_ttl"`
	CertificateTTL Duration `yaml:"certificate_ttl"`
	RSAKeyBits     int      `yaml:"rsa_key_bits"`
	Organization   string   `yaml:"organization"`
	// SigningSecret signs issued tokens. A random secret is generated at start-up
	// when empty, which invalidates every token on restart anyway.
	SigningSecret string `yaml:"signing_secret"`
}

type AuthConfig struct {
	AdminID        string  `yaml:"admin_id"`
	AdminToken     string  `yaml:"admin_token"`
	BootstrapQPS   float64 `yaml:"bootstrap_qps"`
	BootstrapBurst int     `yaml:"bootstrap_burst"`
}

type ShutdownConfig struct {
	GracePeriod Duration `yaml:"grace_period"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Listen:     ":8080",
		GRPCListen: ":9090",
		Log:        LogConfig{Level: "info"},
		Nodes: NodesConfig{
			HeartbeatInterval:  Duration(30 * time.Second),
			StalenessThreshold: Duration(2 * time.Minute),
			SweepPeriod:        Duration(30 * time.Second),
			InitialStatus:      "ONLINE",
		},
		Scheduler:  SchedulerConfig{TickPeriod: Duration(10 * time.Second)},
		Monitoring: MonitoringConfig{CollectPeriod: Duration(time.Minute)},
		Credentials: CredentialsConfig{
			TokenTTL:       Duration(30 * 24 * time.Hour),
			CertificateTTL: Duration(365 * 24 * time.Hour),
			RSAKeyBits:     2048,
			Organization:   "EdgeFleet",
		},
		Auth: AuthConfig{
			AdminID:        "admin",
			BootstrapQPS:   5,
			BootstrapBurst: 20,
		},
		Shutdown: ShutdownConfig{GracePeriod: Duration(30 * time.Second)},
	}
}

// Load reads path over the defaults (an empty path skips the file) and then
// applies EDGEFLEET_* environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(content, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func applyEnv(cfg *Config) error {
	str := map[string]*string{
		"EDGEFLEET_LISTEN":         &cfg.Listen,
		"EDGEFLEET_GRPC_LISTEN":    &cfg.GRPCListen,
		"EDGEFLEET_TLS_CERT":       &cfg.TLS.CertFile,
		"EDGEFLEET_TLS_KEY":        &cfg.TLS.KeyFile,
		"EDGEFLEET_LOG_LEVEL":      &cfg.Log.Level,
		"EDGEFLEET_SIGNING_SECRET": &cfg.Credentials.SigningSecret,
		"EDGEFLEET_ADMIN_ID":       &cfg.Auth.AdminID,
		"EDGEFLEET_ADMIN_TOKEN":    &cfg.Auth.AdminToken,
		"EDGEFLEET_INITIAL_STATUS": &cfg.Nodes.InitialStatus,
	}
	for key, dst := range str {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	dur := map[string]*Duration{
		"EDGEFLEET_HEARTBEAT_INTERVAL":  &cfg.Nodes.HeartbeatInterval,
		"EDGEFLEET_STALENESS_THRESHOLD": &cfg.Nodes.StalenessThreshold,
		"EDGEFLEET_SWEEP_PERIOD":        &cfg.Nodes.SweepPeriod,
		"EDGEFLEET_SCHEDULER_TICK":      &cfg.Scheduler.TickPeriod,
		"EDGEFLEET_MONITORING_PERIOD":   &cfg.Monitoring.CollectPeriod,
		"EDGEFLEET_TOKEN_TTL":           &cfg.Credentials.TokenTTL,
		"EDGEFLEET_CERTIFICATE_TTL":     &cfg.Credentials.CertificateTTL,
		"EDGEFLEET_SHUTDOWN_GRACE":      &cfg.Shutdown.GracePeriod,
	}
	for key, dst := range dur {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = Duration(d)
	}
	if v := os.Getenv("EDGEFLEET_RSA_KEY_BITS"); v != "" {
		bits, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("EDGEFLEET_RSA_KEY_BITS: %w", err)
		}
		cfg.Credentials.RSAKeyBits = bits
	}
	if v := os.Getenv("EDGEFLEET_LOG_JSON"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("EDGEFLEET_LOG_JSON: %w", err)
		}
		cfg.Log.JSON = b
	}
	return nil
}

// Validate checks that periods are positive and mutually consistent.
func (c Config) Validate() error {
	var errs []error
	positive := map[string]Duration{
		"nodes.heartbeat_interval":    c.Nodes.HeartbeatInterval,
		"nodes.staleness_threshold":   c.Nodes.StalenessThreshold,
		"nodes.sweep_period":          c.Nodes.SweepPeriod,
		"scheduler.tick_period":       c.Scheduler.TickPeriod,
		"monitoring.collect_period":   c.Monitoring.CollectPeriod,
		"credentials.token_ttl":       c.Credentials.TokenTTL,
		"credentials.certificate_ttl": c.Credentials.CertificateTTL,
	}
	for name, d := range positive {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.Nodes.StalenessThreshold <= c.Nodes.HeartbeatInterval {
		errs = append(errs, fmt.Errorf("nodes.staleness_threshold (%s) must exceed nodes.heartbeat_interval (%s)",
			c.Nodes.StalenessThreshold.Std(), c.Nodes.HeartbeatInterval.Std()))
	}
	switch strings.ToUpper(c.Nodes.InitialStatus) {
	case "ONLINE", "REGISTERED":
	default:
		errs = append(errs, fmt.Errorf("nodes.initial_status must be ONLINE or REGISTERED, got %q", c.Nodes.InitialStatus))
	}
	if c.Credentials.RSAKeyBits < 2048 {
		errs = append(errs, fmt.Errorf("credentials.rsa_key_bits must be at least 2048"))
	}
	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		errs = append(errs, errors.New("tls.cert_file and tls.key_file must be set together"))
	}
	return errors.Join(errs...)
}
