package deployment

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("DeploymentRequest", func() {
	valid := func() DeploymentRequest {
		return DeploymentRequest{
			AppName:       "site",
			Image:         "registry/site:v2",
			HostPort:      8080,
			ContainerPort: 8080,
		}
	}

	DescribeTable("validation",
		func(mutate func(*DeploymentRequest), wantErr string) {
			req := valid()
			mutate(&req)
			err := req.Validate()
			if wantErr == "" {
				Expect(err).ToNot(HaveOccurred())
			} else {
				Expect(err).To(MatchError(ContainSubstring(wantErr)))
			}
		},
		Entry("valid request", func(r *DeploymentRequest) {}, ""),
		Entry("missing app name", func(r *DeploymentRequest) { r.AppName = "" }, "appName"),
		Entry("missing image", func(r *DeploymentRequest) { r.Image = "" }, "image reference"),
		Entry("zero host port", func(r *DeploymentRequest) { r.HostPort = 0 }, "hostPort"),
		Entry("host port too large", func(r *DeploymentRequest) { r.HostPort = 70000 }, "hostPort"),
		Entry("negative container port", func(r *DeploymentRequest) { r.ContainerPort = -1 }, "containerPort"),
		Entry("container port too large", func(r *DeploymentRequest) { r.ContainerPort = 65536 }, "containerPort"),
		Entry("unknown restart policy", func(r *DeploymentRequest) { r.RestartPolicy = "sometimes" }, "restart policy"),
		Entry("valid restart policy", func(r *DeploymentRequest) { r.RestartPolicy = RestartPolicyOnFailure }, ""),
	)

	Describe("withDefaults", func() {
		It("derives the container name from the app name with a suffix", func() {
			req := valid().withDefaults()
			Expect(req.ContainerName).To(HavePrefix("site-"))
			Expect(req.ContainerName).To(HaveLen(len("site-") + 8))
		})

		It("keeps an explicit container name", func() {
			r := valid()
			r.ContainerName = "site-v2"
			Expect(r.withDefaults().ContainerName).To(Equal("site-v2"))
		})

		It("defaults the health path and restart policy", func() {
			req := valid().withDefaults()
			Expect(req.HealthCheckPath).To(Equal("/"))
			Expect(req.RestartPolicy).To(Equal(RestartPolicyNo))
		})
	})
})

var _ = Describe("ParseRestartPolicy", func() {
	DescribeTable("parsing",
		func(in string, want RestartPolicy, wantErr bool) {
			got, err := ParseRestartPolicy(in)
			if wantErr {
				Expect(err).To(HaveOccurred())
				return
			}
			Expect(err).ToNot(HaveOccurred())
			Expect(got).To(Equal(want))
		},
		Entry("no", "no", RestartPolicyNo, false),
		Entry("always", "always", RestartPolicyAlways, false),
		Entry("unless-stopped", "unless-stopped", RestartPolicyUnlessStopped, false),
		Entry("on-failure", "on-failure", RestartPolicyOnFailure, false),
		Entry("empty maps to no", "", RestartPolicyNo, false),
		Entry("unknown", "sometimes", RestartPolicy(""), true),
	)
})

var _ = Describe("ContainerDescriptor", func() {
	It("matches a published host port", func() {
		c := ContainerDescriptor{Ports: []PortBinding{
			{HostPort: 9090, ContainerPort: 9090},
			{HostPort: 8080, ContainerPort: 3000},
		}}
		Expect(c.PublishesHostPort(8080)).To(BeTrue())
		Expect(c.PublishesHostPort(8081)).To(BeFalse())
	})

	It("reports running state", func() {
		Expect(ContainerDescriptor{State: "running"}.Running()).To(BeTrue())
		Expect(ContainerDescriptor{State: "exited"}.Running()).To(BeFalse())
	})
})
