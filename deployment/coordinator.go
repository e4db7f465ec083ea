package deployment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
)

// ErrDeploymentInProgress is returned when a run is requested for an
// app/port pair that already has a deployment in flight.
var ErrDeploymentInProgress = errors.New("deployment already in progress for this app/port")

// diagnosticLogLines is how much container output is attached to a failure
// record after an unhealthy deployment.
const diagnosticLogLines = 50

// RegistryCredentialProvider resolves the auth material used to pull the
// requested image from a private registry.
type RegistryCredentialProvider interface {
	Credentials(ctx context.Context) (RegistryConfig, error)
}

// StaticCredentials is a provider returning fixed credentials from
// configuration.
type StaticCredentials RegistryConfig

func (s StaticCredentials) Credentials(ctx context.Context) (RegistryConfig, error) {
	return RegistryConfig(s), nil
}

// SecretResolver resolves a secret reference to its value at container start
// time. A nil resolver disables secret injection.
type SecretResolver interface {
	Resolve(path, key string) (string, error)
}

// Options are the tunables of one coordinator. Zero durations are valid and
// mean "do not wait".
type Options struct {
	PortReleaseGrace  time.Duration
	PostStartGrace    time.Duration
	HealthMaxAttempts int
	HealthInterval    time.Duration
	HealthTimeout     time.Duration
}

// DefaultOptions mirror the grace periods and probe bounds the pipeline has
// always used.
func DefaultOptions() Options {
	return Options{
		PortReleaseGrace:  5 * time.Second,
		PostStartGrace:    10 * time.Second,
		HealthMaxAttempts: 6,
		HealthInterval:    10 * time.Second,
		HealthTimeout:     10 * time.Second,
	}
}

// Coordinator sequences the deployment stages: credential resolution, port
// reconciliation, image pull, container replacement and health verification.
// The first failing stage aborts the rest; a record is persisted either way.
type Coordinator struct {
	credentials RegistryCredentialProvider
	secrets     SecretResolver
	runtime     ContainerRuntime
	reconciler  *PortReconciler
	fetcher     *ImageFetcher
	lifecycle   *ContainerLifecycleManager
	verifier    *HealthVerifier
	recorder    *DeploymentRecorder
	clock       Clock
	opts        Options

	// inflight guards against concurrent runs for the same app/port key.
	// Add is atomic: it fails when the key is already present.
	inflight *gocache.Cache
}

// NewCoordinator wires the pipeline. prober and clock may be nil, in which
// case the HTTP prober and the wall clock are used. secrets may be nil.
func NewCoordinator(runtime ContainerRuntime, credentials RegistryCredentialProvider, secrets SecretResolver, store Store, prober Prober, clock Clock, opts Options) *Coordinator {
	if clock == nil {
		clock = SystemClock()
	}
	if prober == nil {
		prober = HTTPProber{}
	}

	return &Coordinator{
		credentials: credentials,
		secrets:     secrets,
		runtime:     runtime,
		reconciler:  NewPortReconciler(runtime, clock, opts.PortReleaseGrace),
		fetcher:     NewImageFetcher(runtime),
		lifecycle:   NewLifecycleManager(runtime),
		verifier:    NewHealthVerifier(prober, clock, opts.HealthMaxAttempts, opts.HealthInterval, opts.HealthTimeout),
		recorder:    NewRecorder(store),
		clock:       clock,
		opts:        opts,
		inflight:    gocache.New(gocache.NoExpiration, 0),
	}
}

// Run executes one deployment attempt end to end and returns the persisted
// record. A non-nil error means the deployment failed; the record still
// describes the failure, except for ErrDeploymentInProgress, where the
// in-flight run owns the record and nil is returned.
func (c *Coordinator) Run(ctx context.Context, req DeploymentRequest) (*DeploymentRecord, error) {
	req = req.withDefaults()

	rec := &DeploymentRecord{
		ID:        uuid.NewString(),
		Request:   req,
		StartedAt: c.clock.Now(),
	}

	if err := req.Validate(); err != nil {
		return c.fail(rec, "", fmt.Errorf("invalid deployment request: %w", err))
	}

	key := fmt.Sprintf("%s:%d", req.AppName, req.HostPort)
	if err := c.inflight.Add(key, rec.ID, gocache.NoExpiration); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDeploymentInProgress, key)
	}
	defer c.inflight.Delete(key)

	log.Printf("Deployment %s: app %q image %q on port %d\n", rec.ID, req.AppName, req.Image, req.HostPort)

	// Stage: auth
	creds, err := c.credentials.Credentials(ctx)
	if err != nil {
		return c.fail(rec, StageAuth, fmt.Errorf("resolving registry credentials: %w", err))
	}
	if err := c.runtime.Login(ctx, creds); err != nil {
		return c.fail(rec, StageAuth, err)
	}

	// Housekeeping around the deployment, best effort.
	c.runtime.PruneExited(ctx)

	// Stage: port-reconcile
	reconciled, err := c.reconciler.Reconcile(ctx, req.HostPort, req.ContainerName)
	if err != nil {
		return c.fail(rec, StagePortReconcile, err)
	}
	if len(reconciled.ReleasedContainers) > 0 {
		log.Printf("Released port %d from containers %v\n", req.HostPort, reconciled.ReleasedContainers)
	}

	// Stage: image-pull
	fetched, err := c.fetcher.Fetch(ctx, req.Image)
	if err != nil {
		return c.fail(rec, StageImagePull, err)
	}
	rec.Image = fetched.Image

	c.runtime.PruneDanglingImages(ctx)

	// Stage: container-start
	env, err := c.assembleEnv(req)
	if err != nil {
		return c.fail(rec, StageContainerStart, err)
	}
	started, err := c.lifecycle.Replace(ctx, req, env)
	if err != nil {
		return c.fail(rec, StageContainerStart, err)
	}
	rec.ContainerID = started.ContainerID

	// Grace period so the process inside the container can bind its
	// listener before the first probe.
	c.clock.Sleep(ctx, c.opts.PostStartGrace)

	// Stage: health-check
	baseURL := fmt.Sprintf("http://localhost:%d", req.HostPort)
	verified, err := c.verifier.Verify(ctx, baseURL, req.HealthCheckPath)
	rec.HealthCheckHistory = verified.History
	if err != nil {
		return c.fail(rec, StageHealthCheck, err)
	}
	if !verified.Healthy {
		rec.Diagnostics = c.collectDiagnostics(ctx, started.ContainerID)
		return c.fail(rec, StageHealthCheck, fmt.Errorf("health check failed after %d attempts", len(verified.History)))
	}

	rec.Status = StatusSucceeded
	rec.FinishedAt = c.clock.Now()
	c.persist(rec)
	log.Printf("Deployment %s succeeded: container %s\n", rec.ID, rec.ContainerID)
	return rec, nil
}

// assembleEnv merges declared environment variables with resolved secrets.
func (c *Coordinator) assembleEnv(req DeploymentRequest) ([]string, error) {
	var env []string
	for _, v := range req.EnvVars {
		env = append(env, v.Name+"="+v.Value)
	}
	for _, ref := range req.Secrets {
		if c.secrets == nil {
			return nil, fmt.Errorf("request references secret %s%s but no secret manager is configured", ref.SecretPath, ref.SecretKey)
		}
		value, err := c.secrets.Resolve(ref.SecretPath, ref.SecretKey)
		if err != nil {
			return nil, fmt.Errorf("resolving secret %s%s: %w", ref.SecretPath, ref.SecretKey, err)
		}
		env = append(env, ref.SecretKey+"="+value)
	}
	return env, nil
}

// collectDiagnostics fetches the tail of the container log as context for a
// failure record. Read-only side channel, best effort.
func (c *Coordinator) collectDiagnostics(ctx context.Context, containerID string) string {
	logs, err := c.runtime.ContainerLogs(ctx, containerID, diagnosticLogLines)
	if err != nil {
		log.Printf("Could not fetch diagnostic logs for %s: %v\n", containerID, err)
		return ""
	}
	return logs
}

func (c *Coordinator) fail(rec *DeploymentRecord, stage Stage, err error) (*DeploymentRecord, error) {
	rec.Status = StatusFailed
	rec.FailureStage = stage
	rec.Error = err.Error()
	rec.FinishedAt = c.clock.Now()
	c.persist(rec)
	log.Printf("Deployment %s failed at stage %q: %v\n", rec.ID, stage, err)
	return rec, err
}

// persist writes the record. A record is produced for every run; persistence
// failures are logged, never escalated over the run's own outcome.
func (c *Coordinator) persist(rec *DeploymentRecord) {
	if err := c.recorder.Record(rec); err != nil {
		log.Printf("Error persisting deployment record %s: %v\n", rec.ID, err)
	}
}
