package deployment

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"time"

	containertypes "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	imagetypes "github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
)

// RegistryConfig is the auth material used to pull from a private registry.
// A zero value means the registry is public and no login is performed.
type RegistryConfig struct {
	URL      string
	Username string
	Password string
}

// Empty reports whether no credentials were configured.
func (r RegistryConfig) Empty() bool {
	return r.Username == "" && r.Password == ""
}

// RunSpec describes the container the runtime should create and start.
type RunSpec struct {
	Name          string
	Image         string
	HostPort      int
	ContainerPort int
	RestartPolicy RestartPolicy
	Env           []string
	// Cmd is appended verbatim to the container command.
	Cmd []string
}

// ContainerRuntime is the narrow surface of the container engine the
// orchestrator consumes. The production binding talks to the Docker Engine
// API socket; tests substitute a fake.
type ContainerRuntime interface {
	Login(ctx context.Context, reg RegistryConfig) error
	ListContainers(ctx context.Context, all bool) ([]ContainerDescriptor, error)
	StopContainer(ctx context.Context, id string) error
	RemoveContainer(ctx context.Context, id string) error
	PullImage(ctx context.Context, ref string) error
	ImageMetadata(ctx context.Context, ref string) (*ImageMetadata, error)
	RunContainer(ctx context.Context, spec RunSpec) (string, error)
	ContainerLogs(ctx context.Context, id string, tailLines int) (string, error)
	PruneExited(ctx context.Context)
	PruneDanglingImages(ctx context.Context)
}

type dockerRuntime struct {
	cli     *client.Client
	network string

	auth       registry.AuthConfig
	authBase64 string
}

// NewDockerRuntime connects to the Docker Engine API (from the environment,
// with API version negotiation). New containers are attached to the named
// bridge network, created on first use.
func NewDockerRuntime(networkName string) (ContainerRuntime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}

	return &dockerRuntime{cli: cli, network: networkName}, nil
}

func (d *dockerRuntime) Login(ctx context.Context, reg RegistryConfig) error {
	if reg.Empty() {
		d.auth = registry.AuthConfig{}
		d.authBase64 = ""
		return nil
	}

	d.auth = registry.AuthConfig{
		Username:      reg.Username,
		Password:      reg.Password,
		ServerAddress: reg.URL,
	}
	authBytes, err := json.Marshal(d.auth)
	if err != nil {
		return fmt.Errorf("encoding registry auth: %w", err)
	}
	d.authBase64 = base64.URLEncoding.EncodeToString(authBytes)

	out, err := d.cli.RegistryLogin(ctx, d.auth)
	if err != nil {
		return fmt.Errorf("registry login to %s: %w", reg.URL, err)
	}
	log.Println("Logged into registry:", out.Status)
	return nil
}

func (d *dockerRuntime) ListContainers(ctx context.Context, all bool) ([]ContainerDescriptor, error) {
	containers, err := d.cli.ContainerList(ctx, containertypes.ListOptions{All: all})
	if err != nil {
		return nil, fmt.Errorf("listing containers: %w", err)
	}

	descriptors := make([]ContainerDescriptor, 0, len(containers))
	for _, c := range containers {
		name := ""
		if len(c.Names) > 0 {
			// The engine reports names with a leading slash.
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		var ports []PortBinding
		for _, p := range c.Ports {
			if p.PublicPort == 0 {
				continue
			}
			ports = append(ports, PortBinding{
				HostPort:      int(p.PublicPort),
				ContainerPort: int(p.PrivatePort),
			})
		}
		descriptors = append(descriptors, ContainerDescriptor{
			ID:      c.ID,
			Name:    name,
			Image:   c.Image,
			State:   c.State,
			Created: time.Unix(c.Created, 0),
			Ports:   ports,
		})
	}
	return descriptors, nil
}

func (d *dockerRuntime) StopContainer(ctx context.Context, id string) error {
	noWaitTimeout := 0 // do not wait for the container to exit gracefully
	err := d.cli.ContainerStop(ctx, id, containertypes.StopOptions{Timeout: &noWaitTimeout})
	if err != nil {
		return fmt.Errorf("stopping container %s: %w", id, err)
	}
	return nil
}

func (d *dockerRuntime) RemoveContainer(ctx context.Context, id string) error {
	err := d.cli.ContainerRemove(ctx, id, containertypes.RemoveOptions{Force: true})
	if err != nil {
		return fmt.Errorf("removing container %s: %w", id, err)
	}
	return nil
}

func (d *dockerRuntime) PullImage(ctx context.Context, ref string) error {
	out, err := d.cli.ImagePull(ctx, ref, imagetypes.PullOptions{RegistryAuth: d.authBase64})
	if err != nil {
		return fmt.Errorf("pulling %s: %w", ref, err)
	}
	defer out.Close()

	// The pull only completes once the progress stream has been drained.
	if err := drainPullStream(out); err != nil {
		return fmt.Errorf("pulling %s: %w", ref, err)
	}
	return nil
}

// drainPullStream consumes the engine's JSON progress stream and surfaces
// any in-band error message.
func drainPullStream(in io.Reader) error {
	dec := json.NewDecoder(in)
	for {
		var jm jsonmessage.JSONMessage
		if err := dec.Decode(&jm); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if jm.Error != nil {
			return jm.Error
		}
	}
}

func (d *dockerRuntime) ImageMetadata(ctx context.Context, ref string) (*ImageMetadata, error) {
	args := filters.NewArgs(filters.Arg("reference", ref))
	summaries, err := d.cli.ImageList(ctx, imagetypes.ListOptions{Filters: args})
	if err != nil {
		return nil, fmt.Errorf("listing image %s: %w", ref, err)
	}
	if len(summaries) == 0 {
		return nil, fmt.Errorf("image %s not present after pull", ref)
	}

	s := summaries[0]
	return &ImageMetadata{
		ID:      s.ID,
		Tags:    s.RepoTags,
		Size:    s.Size,
		Created: time.Unix(s.Created, 0),
	}, nil
}

func (d *dockerRuntime) RunContainer(ctx context.Context, spec RunSpec) (string, error) {
	containerPort := nat.Port(strconv.Itoa(spec.ContainerPort) + "/tcp")

	containerConfig := &containertypes.Config{
		Image:        spec.Image,
		Env:          spec.Env,
		Cmd:          spec.Cmd,
		ExposedPorts: nat.PortSet{containerPort: struct{}{}},
	}

	hostConfig := &containertypes.HostConfig{
		PortBindings: nat.PortMap{
			containerPort: []nat.PortBinding{{HostPort: strconv.Itoa(spec.HostPort)}},
		},
		RestartPolicy: containertypes.RestartPolicy{
			Name: containertypes.RestartPolicyMode(spec.RestartPolicy),
		},
	}

	var networkConfig *network.NetworkingConfig
	if d.network != "" {
		if err := d.ensureNetwork(ctx); err != nil {
			return "", err
		}
		networkConfig = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{
				d.network: {},
			},
		}
	}

	resp, err := d.cli.ContainerCreate(ctx, containerConfig, hostConfig, networkConfig, nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("creating container %s: %w", spec.Name, err)
	}

	if err := d.cli.ContainerStart(ctx, resp.ID, containertypes.StartOptions{}); err != nil {
		return "", fmt.Errorf("starting container %s: %w", spec.Name, err)
	}

	return resp.ID, nil
}

func (d *dockerRuntime) ensureNetwork(ctx context.Context) error {
	args := filters.NewArgs(filters.Arg("name", d.network))
	existing, err := d.cli.NetworkList(ctx, network.ListOptions{Filters: args})
	if err != nil {
		return fmt.Errorf("listing networks: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}

	log.Println("Creating network:", d.network)
	if _, err := d.cli.NetworkCreate(ctx, d.network, network.CreateOptions{}); err != nil {
		return fmt.Errorf("creating network %s: %w", d.network, err)
	}
	return nil
}

func (d *dockerRuntime) ContainerLogs(ctx context.Context, id string, tailLines int) (string, error) {
	out, err := d.cli.ContainerLogs(ctx, id, containertypes.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       strconv.Itoa(tailLines),
	})
	if err != nil {
		return "", fmt.Errorf("fetching logs for %s: %w", id, err)
	}
	defer out.Close()

	// Stdout and stderr arrive multiplexed on one stream.
	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, out); err != nil {
		return "", fmt.Errorf("reading logs for %s: %w", id, err)
	}
	return buf.String(), nil
}

// PruneExited removes exited containers. Best-effort housekeeping, failures
// are logged and swallowed.
func (d *dockerRuntime) PruneExited(ctx context.Context) {
	containers, err := d.cli.ContainerList(ctx, containertypes.ListOptions{All: true})
	if err != nil {
		log.Printf("Housekeeping: listing containers failed: %v\n", err)
		return
	}

	for _, c := range containers {
		if c.State != "exited" {
			continue
		}
		log.Printf("Housekeeping: removing exited container %s\n", c.ID)
		if err := d.cli.ContainerRemove(ctx, c.ID, containertypes.RemoveOptions{Force: true}); err != nil {
			log.Printf("Housekeeping: failed to remove container %s: %v\n", c.ID, err)
		}
	}
}

// PruneDanglingImages removes dangling images left behind by image updates.
func (d *dockerRuntime) PruneDanglingImages(ctx context.Context) {
	args := filters.NewArgs(filters.Arg("dangling", "true"))
	images, err := d.cli.ImageList(ctx, imagetypes.ListOptions{Filters: args})
	if err != nil {
		log.Printf("Housekeeping: listing dangling images failed: %v\n", err)
		return
	}

	for _, img := range images {
		log.Printf("Housekeeping: removing dangling image %s\n", img.ID)
		if _, err := d.cli.ImageRemove(ctx, img.ID, imagetypes.RemoveOptions{Force: true}); err != nil {
			log.Printf("Housekeeping: failed to remove image %s: %v\n", img.ID, err)
		}
	}
}
