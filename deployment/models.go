package deployment

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the final outcome of one orchestration run.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Stage identifies one discrete step of the deployment pipeline. The first
// stage to fail is recorded on the DeploymentRecord.
type Stage string

const (
	StageAuth           Stage = "auth"
	StagePortReconcile  Stage = "port-reconcile"
	StageImagePull      Stage = "image-pull"
	StageContainerStart Stage = "container-start"
	StageHealthCheck    Stage = "health-check"
)

// RestartPolicy mirrors the restart policies of the container runtime.
type RestartPolicy string

const (
	RestartPolicyNo            RestartPolicy = "no"
	RestartPolicyUnlessStopped RestartPolicy = "unless-stopped"
	RestartPolicyAlways        RestartPolicy = "always"
	RestartPolicyOnFailure     RestartPolicy = "on-failure"
)

// ParseRestartPolicy validates a restart policy string from configuration or
// an incoming event. The empty string maps to "no".
func ParseRestartPolicy(s string) (RestartPolicy, error) {
	switch RestartPolicy(s) {
	case RestartPolicyNo, RestartPolicyUnlessStopped, RestartPolicyAlways, RestartPolicyOnFailure:
		return RestartPolicy(s), nil
	case "":
		return RestartPolicyNo, nil
	}
	return "", fmt.Errorf("unknown restart policy %q", s)
}

// EnvVar is one environment variable injected into the new container.
type EnvVar struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

// SecretRef points at a secret to resolve at start time and inject as an
// environment variable named after the key.
type SecretRef struct {
	SecretPath string `json:"secretPath" yaml:"secretPath"`
	SecretKey  string `json:"secretKey" yaml:"secretKey"`
}

// DeploymentRequest is the immutable input to one deployment attempt.
type DeploymentRequest struct {
	AppName         string        `json:"appName" yaml:"appName"`
	ContainerName   string        `json:"containerName,omitempty" yaml:"containerName"`
	Image           string        `json:"image" yaml:"image"`
	HostPort        int           `json:"hostPort" yaml:"hostPort"`
	ContainerPort   int           `json:"containerPort" yaml:"containerPort"`
	HealthCheckPath string        `json:"healthCheckPath,omitempty" yaml:"healthCheckPath"`
	RestartPolicy   RestartPolicy `json:"restartPolicy,omitempty" yaml:"restartPolicy"`
	ExtraRunArgs    []string      `json:"extraRunArgs,omitempty" yaml:"extraRunArgs"`
	EnvVars         []EnvVar      `json:"envVars,omitempty" yaml:"envVars"`
	Secrets         []SecretRef   `json:"secrets,omitempty" yaml:"secrets"`
}

// Validate enforces the request invariants before any stage runs.
func (r DeploymentRequest) Validate() error {
	if r.AppName == "" {
		return fmt.Errorf("appName must not be empty")
	}
	if r.Image == "" {
		return fmt.Errorf("image reference must not be empty")
	}
	if r.HostPort <= 0 || r.HostPort > 65535 {
		return fmt.Errorf("hostPort %d out of range 1-65535", r.HostPort)
	}
	if r.ContainerPort <= 0 || r.ContainerPort > 65535 {
		return fmt.Errorf("containerPort %d out of range 1-65535", r.ContainerPort)
	}
	if _, err := ParseRestartPolicy(string(r.RestartPolicy)); err != nil {
		return err
	}
	return nil
}

// withDefaults returns a copy with derived fields filled in. The container
// name defaults to the app name plus a short revision suffix.
func (r DeploymentRequest) withDefaults() DeploymentRequest {
	if r.ContainerName == "" {
		r.ContainerName = r.AppName + "-" + uuid.NewString()[:8]
	}
	if r.HealthCheckPath == "" {
		r.HealthCheckPath = "/"
	}
	if r.RestartPolicy == "" {
		r.RestartPolicy = RestartPolicyNo
	}
	return r
}

// PortBinding is one published port of a running container.
type PortBinding struct {
	HostPort      int
	ContainerPort int
}

// ContainerDescriptor is a read-only snapshot of a container as reported by
// the runtime.
type ContainerDescriptor struct {
	ID      string
	Name    string
	Image   string
	State   string
	Created time.Time
	Ports   []PortBinding
}

// Running reports whether the runtime considers the container running.
func (c ContainerDescriptor) Running() bool {
	return c.State == "running"
}

// PublishesHostPort reports whether any published port of the container maps
// the given host port.
func (c ContainerDescriptor) PublishesHostPort(hostPort int) bool {
	for _, p := range c.Ports {
		if p.HostPort == hostPort {
			return true
		}
	}
	return false
}

// HealthCheckOutcome is one liveness probe attempt.
type HealthCheckOutcome struct {
	Attempt    int       `json:"attempt"`
	Timestamp  time.Time `json:"timestamp"`
	Succeeded  bool      `json:"succeeded"`
	HTTPStatus int       `json:"httpStatus,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// ImageMetadata is pull-time context about the deployed image, attached to
// the record for audit.
type ImageMetadata struct {
	ID      string    `json:"id"`
	Tags    []string  `json:"tags,omitempty"`
	Size    int64     `json:"size"`
	Created time.Time `json:"created"`
}

// DeploymentRecord is the durable audit artifact of one orchestration run.
// It is fully populated by the end of the run and never mutated afterwards.
type DeploymentRecord struct {
	ID                 string               `json:"id"`
	Request            DeploymentRequest    `json:"request"`
	Status             Status               `json:"status"`
	StartedAt          time.Time            `json:"startedAt"`
	FinishedAt         time.Time            `json:"finishedAt"`
	FailureStage       Stage                `json:"failureStage,omitempty"`
	Error              string               `json:"error,omitempty"`
	Image              *ImageMetadata       `json:"image,omitempty"`
	ContainerID        string               `json:"containerId,omitempty"`
	HealthCheckHistory []HealthCheckOutcome `json:"healthCheckHistory,omitempty"`
	Diagnostics        string               `json:"diagnostics,omitempty"`
}
