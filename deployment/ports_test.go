package deployment

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("PortReconciler", func() {
	var (
		ctx   context.Context
		clock *fakeClock
	)

	BeforeEach(func() {
		ctx = context.Background()
		clock = newFakeClock()
	})

	Context("when no container occupies the port", func() {
		It("is a repeatable no-op that never errors or sleeps", func() {
			rt := newFakeRuntime()
			reconciler := NewPortReconciler(rt, clock, 5*time.Second)

			for i := 0; i < 3; i++ {
				result, err := reconciler.Reconcile(ctx, 8080, "site-v2")
				Expect(err).ToNot(HaveOccurred())
				Expect(result.ReleasedContainers).To(BeEmpty())
			}
			Expect(clock.sleepCount()).To(BeZero())
			Expect(rt.stoppedIDs()).To(BeEmpty())
		})
	})

	Context("when an unrelated container holds the port", func() {
		It("stops and removes it, then waits the release grace period", func() {
			rt := newFakeRuntime(ContainerDescriptor{
				ID:    "old-1",
				Name:  "old-app",
				State: "running",
				Ports: []PortBinding{{HostPort: 8080, ContainerPort: 3000}},
			})
			reconciler := NewPortReconciler(rt, clock, 5*time.Second)

			result, err := reconciler.Reconcile(ctx, 8080, "site-v2")
			Expect(err).ToNot(HaveOccurred())
			Expect(result.ReleasedContainers).To(Equal([]string{"old-app"}))
			Expect(rt.stoppedIDs()).To(Equal([]string{"old-1"}))
			Expect(rt.removedIDs()).To(Equal([]string{"old-1"}))
			Expect(clock.sleeps).To(Equal([]time.Duration{5 * time.Second}))
		})
	})

	Context("when the occupant is the container being replaced", func() {
		It("leaves it alone for the lifecycle manager", func() {
			rt := newFakeRuntime(ContainerDescriptor{
				ID:    "self-1",
				Name:  "site-v2",
				State: "running",
				Ports: []PortBinding{{HostPort: 8080, ContainerPort: 8080}},
			})
			reconciler := NewPortReconciler(rt, clock, 5*time.Second)

			result, err := reconciler.Reconcile(ctx, 8080, "site-v2")
			Expect(err).ToNot(HaveOccurred())
			Expect(result.ReleasedContainers).To(BeEmpty())
			Expect(rt.stoppedIDs()).To(BeEmpty())
		})
	})

	Context("when a container publishes other ports only", func() {
		It("ignores it", func() {
			rt := newFakeRuntime(ContainerDescriptor{
				ID:    "other-1",
				Name:  "other-app",
				State: "running",
				Ports: []PortBinding{{HostPort: 9090, ContainerPort: 9090}},
			})
			reconciler := NewPortReconciler(rt, clock, 5*time.Second)

			result, err := reconciler.Reconcile(ctx, 8080, "site-v2")
			Expect(err).ToNot(HaveOccurred())
			Expect(result.ReleasedContainers).To(BeEmpty())
		})
	})

	Context("when stopping the occupant fails", func() {
		It("logs and carries on instead of failing the stage", func() {
			rt := newFakeRuntime(ContainerDescriptor{
				ID:    "old-1",
				Name:  "old-app",
				State: "running",
				Ports: []PortBinding{{HostPort: 8080, ContainerPort: 3000}},
			})
			rt.stopErr["old-1"] = errors.New("engine busy")
			reconciler := NewPortReconciler(rt, clock, 5*time.Second)

			result, err := reconciler.Reconcile(ctx, 8080, "site-v2")
			Expect(err).ToNot(HaveOccurred())
			Expect(result.ReleasedContainers).To(Equal([]string{"old-app"}))
		})
	})

	Context("when the runtime cannot list containers", func() {
		It("surfaces the error", func() {
			rt := newFakeRuntime()
			rt.listErr = errors.New("engine unreachable")
			reconciler := NewPortReconciler(rt, clock, 5*time.Second)

			_, err := reconciler.Reconcile(ctx, 8080, "site-v2")
			Expect(err).To(MatchError(ContainSubstring("engine unreachable")))
		})
	})
})
