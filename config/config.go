package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"DeploymentOrchestrator/deployment"
)

// Config is the full configuration surface of the orchestrator, built once
// at process start and passed into the coordinator. No ambient globals.
type Config struct {
	// One-shot deployment request fields.
	AppName         string   `mapstructure:"app_name"`
	ContainerName   string   `mapstructure:"container_name"`
	Image           string   `mapstructure:"image"`
	HostPort        int      `mapstructure:"host_port"`
	ContainerPort   int      `mapstructure:"container_port"`
	HealthCheckPath string   `mapstructure:"health_check_path"`
	RestartPolicy   string   `mapstructure:"restart_policy"`
	ExtraRunArgs    []string `mapstructure:"extra_run_args"`

	// Registry credentials, used directly unless Infisical is configured.
	RegistryURL      string `mapstructure:"registry_url"`
	RegistryUsername string `mapstructure:"registry_username"`
	RegistryPassword string `mapstructure:"registry_password"`

	// Pipeline tunables.
	HealthMaxAttempts int           `mapstructure:"health_max_attempts"`
	HealthInterval    time.Duration `mapstructure:"health_interval"`
	HealthTimeout     time.Duration `mapstructure:"health_timeout"`
	PortReleaseGrace  time.Duration `mapstructure:"port_release_grace"`
	PostStartGrace    time.Duration `mapstructure:"post_start_grace"`

	// Host wiring.
	Network   string `mapstructure:"network"`
	RecordDir string `mapstructure:"record_dir"`
	StateDir  string `mapstructure:"state_dir"`

	// Daemon mode (NATS JetStream).
	NatsURL           string `mapstructure:"nats_url"`
	NatsStream        string `mapstructure:"nats_stream"`
	NatsConsumer      string `mapstructure:"nats_consumer"`
	NatsSubject       string `mapstructure:"nats_subject"`
	NatsResultSubject string `mapstructure:"nats_result_subject"`

	// Infisical secret manager; empty client id disables it.
	InfisicalClientID     string `mapstructure:"infisical_client_id"`
	InfisicalClientSecret string `mapstructure:"infisical_client_secret"`
	InfisicalProjectID    string `mapstructure:"infisical_project_id"`
	InfisicalEnvironment  string `mapstructure:"infisical_environment"`
	RegistrySecretPath    string `mapstructure:"registry_secret_path"`
}

// DefaultConfig returns the defaults every option falls back to
// independently.
func DefaultConfig() *Config {
	return &Config{
		HealthCheckPath:    "/",
		RestartPolicy:      string(deployment.RestartPolicyUnlessStopped),
		HealthMaxAttempts:  6,
		HealthInterval:     10 * time.Second,
		HealthTimeout:      10 * time.Second,
		PortReleaseGrace:   5 * time.Second,
		PostStartGrace:     10 * time.Second,
		Network:            "deployer",
		RecordDir:          "/data/records",
		StateDir:           "/data/deployments",
		NatsStream:         "Deployments",
		NatsConsumer:       "DeploymentOrchestrator",
		NatsSubject:        "Deploy.Request.*",
		NatsResultSubject:  "Deploy.Completed",
		RegistrySecretPath: "/registry",
	}
}

// Load reads an optional config.yaml plus DEPLOYER_* environment overrides
// and validates the result.
func Load() (*Config, error) {
	config := DefaultConfig()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/deployer/")

	viper.SetEnvPrefix("DEPLOYER")
	viper.AutomaticEnv()

	viper.SetDefault("app_name", config.AppName)
	viper.SetDefault("container_name", config.ContainerName)
	viper.SetDefault("image", config.Image)
	viper.SetDefault("host_port", config.HostPort)
	viper.SetDefault("container_port", config.ContainerPort)
	viper.SetDefault("health_check_path", config.HealthCheckPath)
	viper.SetDefault("restart_policy", config.RestartPolicy)
	viper.SetDefault("extra_run_args", config.ExtraRunArgs)
	viper.SetDefault("registry_url", config.RegistryURL)
	viper.SetDefault("registry_username", config.RegistryUsername)
	viper.SetDefault("registry_password", config.RegistryPassword)
	viper.SetDefault("health_max_attempts", config.HealthMaxAttempts)
	viper.SetDefault("health_interval", config.HealthInterval)
	viper.SetDefault("health_timeout", config.HealthTimeout)
	viper.SetDefault("port_release_grace", config.PortReleaseGrace)
	viper.SetDefault("post_start_grace", config.PostStartGrace)
	viper.SetDefault("network", config.Network)
	viper.SetDefault("record_dir", config.RecordDir)
	viper.SetDefault("state_dir", config.StateDir)
	viper.SetDefault("nats_url", config.NatsURL)
	viper.SetDefault("nats_stream", config.NatsStream)
	viper.SetDefault("nats_consumer", config.NatsConsumer)
	viper.SetDefault("nats_subject", config.NatsSubject)
	viper.SetDefault("nats_result_subject", config.NatsResultSubject)
	viper.SetDefault("infisical_client_id", config.InfisicalClientID)
	viper.SetDefault("infisical_client_secret", config.InfisicalClientSecret)
	viper.SetDefault("infisical_project_id", config.InfisicalProjectID)
	viper.SetDefault("infisical_environment", config.InfisicalEnvironment)
	viper.SetDefault("registry_secret_path", config.RegistrySecretPath)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read configuration file: %w", err)
		}
	}

	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Validate checks the ambient settings. Request-level fields are validated
// per run, since daemon mode receives them from events instead.
func (c *Config) Validate() error {
	if c.HealthMaxAttempts <= 0 {
		return fmt.Errorf("health_max_attempts must be positive")
	}
	if c.HealthInterval < 0 || c.HealthTimeout <= 0 {
		return fmt.Errorf("health interval must be non-negative and timeout positive")
	}
	if c.PortReleaseGrace < 0 || c.PostStartGrace < 0 {
		return fmt.Errorf("grace periods must be non-negative")
	}
	if c.RecordDir == "" {
		return fmt.Errorf("record_dir cannot be empty")
	}
	if c.StateDir == "" {
		return fmt.Errorf("state_dir cannot be empty")
	}
	if _, err := deployment.ParseRestartPolicy(c.RestartPolicy); err != nil {
		return err
	}
	return nil
}

// Request builds the one-shot deployment request from the configured fields.
func (c *Config) Request() (deployment.DeploymentRequest, error) {
	policy, err := deployment.ParseRestartPolicy(c.RestartPolicy)
	if err != nil {
		return deployment.DeploymentRequest{}, err
	}

	req := deployment.DeploymentRequest{
		AppName:         c.AppName,
		ContainerName:   c.ContainerName,
		Image:           c.Image,
		HostPort:        c.HostPort,
		ContainerPort:   c.ContainerPort,
		HealthCheckPath: c.HealthCheckPath,
		RestartPolicy:   policy,
		ExtraRunArgs:    c.ExtraRunArgs,
	}
	if err := req.Validate(); err != nil {
		return deployment.DeploymentRequest{}, err
	}
	return req, nil
}

// Options maps the tunables onto the coordinator's options.
func (c *Config) Options() deployment.Options {
	return deployment.Options{
		PortReleaseGrace:  c.PortReleaseGrace,
		PostStartGrace:    c.PostStartGrace,
		HealthMaxAttempts: c.HealthMaxAttempts,
		HealthInterval:    c.HealthInterval,
		HealthTimeout:     c.HealthTimeout,
	}
}

// Registry returns the statically configured registry credentials.
func (c *Config) Registry() deployment.RegistryConfig {
	return deployment.RegistryConfig{
		URL:      c.RegistryURL,
		Username: c.RegistryUsername,
		Password: c.RegistryPassword,
	}
}

// InfisicalEnabled reports whether the Infisical secret manager should be
// used instead of static credentials.
func (c *Config) InfisicalEnabled() bool {
	return c.InfisicalClientID != ""
}
