package deployment

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("ContainerLifecycleManager", func() {
	var (
		ctx context.Context
		req DeploymentRequest
	)

	BeforeEach(func() {
		ctx = context.Background()
		req = DeploymentRequest{
			AppName:       "site",
			ContainerName: "site-v2",
			Image:         "registry/site:v2",
			HostPort:      8080,
			ContainerPort: 8080,
			RestartPolicy: RestartPolicyUnlessStopped,
			ExtraRunArgs:  []string{"--verbose"},
		}
	})

	Context("when no container of that name exists", func() {
		It("goes straight to starting the new container", func() {
			rt := newFakeRuntime()
			manager := NewLifecycleManager(rt)

			result, err := manager.Replace(ctx, req, []string{"A=1"})
			Expect(err).ToNot(HaveOccurred())
			Expect(result.ContainerID).To(Equal("cid-1"))
			Expect(rt.stoppedIDs()).To(BeEmpty())
			Expect(rt.removedIDs()).To(BeEmpty())

			specs := rt.startedSpecs()
			Expect(specs).To(HaveLen(1))
			Expect(specs[0].Name).To(Equal("site-v2"))
			Expect(specs[0].Image).To(Equal("registry/site:v2"))
			Expect(specs[0].RestartPolicy).To(Equal(RestartPolicyUnlessStopped))
			Expect(specs[0].Env).To(Equal([]string{"A=1"}))
			Expect(specs[0].Cmd).To(Equal([]string{"--verbose"}))
		})
	})

	Context("when a stopped container of that name exists", func() {
		It("removes it without stopping and proceeds identically", func() {
			rt := newFakeRuntime(ContainerDescriptor{
				ID:    "old-1",
				Name:  "site-v2",
				State: "exited",
			})
			manager := NewLifecycleManager(rt)

			result, err := manager.Replace(ctx, req, nil)
			Expect(err).ToNot(HaveOccurred())
			Expect(result.ContainerID).To(Equal("cid-1"))
			Expect(rt.stoppedIDs()).To(BeEmpty())
			Expect(rt.removedIDs()).To(Equal([]string{"old-1"}))
		})
	})

	Context("when a running container of that name exists", func() {
		It("stops and removes it before starting the new one", func() {
			rt := newFakeRuntime(ContainerDescriptor{
				ID:    "old-1",
				Name:  "site-v2",
				State: "running",
				Ports: []PortBinding{{HostPort: 8080, ContainerPort: 8080}},
			})
			manager := NewLifecycleManager(rt)

			result, err := manager.Replace(ctx, req, nil)
			Expect(err).ToNot(HaveOccurred())
			Expect(result.ContainerID).To(Equal("cid-1"))
			Expect(rt.stoppedIDs()).To(Equal([]string{"old-1"}))
			Expect(rt.removedIDs()).To(Equal([]string{"old-1"}))
		})
	})

	Context("when starting the new container fails", func() {
		It("fails without restoring the removed predecessor", func() {
			rt := newFakeRuntime(ContainerDescriptor{
				ID:    "old-1",
				Name:  "site-v2",
				State: "running",
			})
			rt.runErr = errors.New("port already allocated")
			manager := NewLifecycleManager(rt)

			_, err := manager.Replace(ctx, req, nil)
			Expect(err).To(MatchError(ContainSubstring("starting new container")))
			Expect(rt.removedIDs()).To(Equal([]string{"old-1"}))

			containers, listErr := rt.ListContainers(ctx, true)
			Expect(listErr).ToNot(HaveOccurred())
			Expect(containers).To(BeEmpty())
		})
	})

	Context("when removing the previous container fails", func() {
		It("aborts before starting the new one", func() {
			rt := newFakeRuntime(ContainerDescriptor{
				ID:    "old-1",
				Name:  "site-v2",
				State: "exited",
			})
			rt.removeErr["old-1"] = errors.New("device busy")
			manager := NewLifecycleManager(rt)

			_, err := manager.Replace(ctx, req, nil)
			Expect(err).To(MatchError(ContainSubstring("removing previous container")))
			Expect(rt.startedSpecs()).To(BeEmpty())
		})
	})
})
