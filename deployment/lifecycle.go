package deployment

import (
	"context"
	"fmt"
	"log"
)

// LifecycleResult carries the identity of the newly started container.
type LifecycleResult struct {
	ContainerID string
}

// lifecycleState tracks the replace state machine for logging.
type lifecycleState string

const (
	stateStoppingOld lifecycleState = "stopping-old"
	stateStartingNew lifecycleState = "starting-new"
	stateStarted     lifecycleState = "started"
)

// ContainerLifecycleManager replaces the previous container instance with a
// new one built from the request. It does not roll back: once the old
// container is removed there is no path back to it on a failed start.
type ContainerLifecycleManager struct {
	runtime ContainerRuntime
}

// NewLifecycleManager returns a manager bound to the given runtime.
func NewLifecycleManager(runtime ContainerRuntime) *ContainerLifecycleManager {
	return &ContainerLifecycleManager{runtime: runtime}
}

// Replace removes any container named request.ContainerName (running or
// stopped; absence is not an error) and starts a new one with the declared
// run configuration. env is the fully assembled environment, secrets
// included.
func (m *ContainerLifecycleManager) Replace(ctx context.Context, req DeploymentRequest, env []string) (LifecycleResult, error) {
	log.Printf("Lifecycle %s: container %q\n", stateStoppingOld, req.ContainerName)
	if err := m.stopOld(ctx, req.ContainerName); err != nil {
		return LifecycleResult{}, err
	}

	log.Printf("Lifecycle %s: image %q on port %d:%d\n", stateStartingNew, req.Image, req.HostPort, req.ContainerPort)
	id, err := m.runtime.RunContainer(ctx, RunSpec{
		Name:          req.ContainerName,
		Image:         req.Image,
		HostPort:      req.HostPort,
		ContainerPort: req.ContainerPort,
		RestartPolicy: req.RestartPolicy,
		Env:           env,
		Cmd:           req.ExtraRunArgs,
	})
	if err != nil {
		return LifecycleResult{}, fmt.Errorf("starting new container: %w", err)
	}

	log.Printf("Lifecycle %s: container %s\n", stateStarted, id)
	return LifecycleResult{ContainerID: id}, nil
}

func (m *ContainerLifecycleManager) stopOld(ctx context.Context, name string) error {
	containers, err := m.runtime.ListContainers(ctx, true)
	if err != nil {
		return fmt.Errorf("enumerating containers: %w", err)
	}

	for _, c := range containers {
		if c.Name != name {
			continue
		}
		if c.Running() {
			if err := m.runtime.StopContainer(ctx, c.ID); err != nil {
				return fmt.Errorf("stopping previous container: %w", err)
			}
		}
		if err := m.runtime.RemoveContainer(ctx, c.ID); err != nil {
			return fmt.Errorf("removing previous container: %w", err)
		}
	}
	return nil
}
