package deployment

import (
	"context"
	"fmt"
	"log"
	"time"
)

// ReconcileResult lists the containers that were stopped to free the port.
type ReconcileResult struct {
	ReleasedContainers []string
}

// PortReconciler frees the target host port before a deployment binds to it.
// It stops and removes any running container, other than the one being
// replaced, whose published ports include the target port.
type PortReconciler struct {
	runtime ContainerRuntime
	clock   Clock
	grace   time.Duration
}

// NewPortReconciler returns a reconciler that waits grace after releasing a
// port, giving the runtime time to free the socket.
func NewPortReconciler(runtime ContainerRuntime, clock Clock, grace time.Duration) *PortReconciler {
	return &PortReconciler{runtime: runtime, clock: clock, grace: grace}
}

// Reconcile stops every running container occupying hostPort, except the one
// named exclude (the replacement target, handled by the lifecycle manager).
// Individual stop/remove failures are logged, not escalated: a real conflict
// will surface when the new container tries to bind.
func (p *PortReconciler) Reconcile(ctx context.Context, hostPort int, exclude string) (ReconcileResult, error) {
	containers, err := p.runtime.ListContainers(ctx, false)
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("enumerating running containers: %w", err)
	}

	var released []string
	for _, c := range containers {
		if c.Name == exclude || !c.PublishesHostPort(hostPort) {
			continue
		}

		log.Printf("Port %d is held by container %s (%s), stopping it\n", hostPort, c.Name, c.ID)
		if err := p.runtime.StopContainer(ctx, c.ID); err != nil {
			log.Printf("Error stopping container %s: %v\n", c.Name, err)
		}
		if err := p.runtime.RemoveContainer(ctx, c.ID); err != nil {
			log.Printf("Error removing container %s: %v\n", c.Name, err)
		}
		released = append(released, c.Name)
	}

	if len(released) > 0 {
		// Fixed grace period so the runtime can release the socket before
		// the new container binds. Deliberately not adaptive.
		p.clock.Sleep(ctx, p.grace)
	}

	return ReconcileResult{ReleasedContainers: released}, nil
}
