package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"

	"DeploymentOrchestrator/config"
	"DeploymentOrchestrator/deployment"
	"DeploymentOrchestrator/nats"
	"DeploymentOrchestrator/secrets"
	"DeploymentOrchestrator/utils"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

// Subjects handled in daemon mode. The consumer filter (nats_subject)
// must cover both; the result subject must not.
const (
	subjectRequested      = "Deploy.Request.Container"
	subjectSecretsRotated = "Deploy.Request.SecretsRotated"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	mode := "deploy"
	if len(os.Args) > 1 {
		mode = os.Args[1]
	}

	if mode == "version" {
		fmt.Printf("deployment-orchestrator %s (built on %s)\n", Version, BuildTime)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Error loading configuration: %v\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runtime := initRuntime(cfg)
	manager := initSecretManager(cfg)
	coordinator := buildCoordinator(cfg, runtime, manager)
	requests := utils.Store{Dir: cfg.StateDir}

	switch mode {
	case "deploy":
		runOnce(ctx, cfg, coordinator, requests)
	case "listen":
		listen(ctx, cfg, coordinator, runtime, manager, requests)
	case "redeploy":
		if err := redeployAll(ctx, coordinator, runtime, requests); err != nil {
			log.Printf("Redeploy finished with errors: %v\n", err)
			os.Exit(1)
		}
	default:
		log.Fatalf("Unknown mode %q (want deploy, listen, redeploy or version)\n", mode)
	}
}

func initRuntime(cfg *config.Config) deployment.ContainerRuntime {
	log.Println("Creating container runtime client")
	start := time.Now()

	runtime, err := deployment.NewDockerRuntime(cfg.Network)
	if err != nil {
		log.Fatalf("Error creating container runtime client: %v\n", err)
	}

	log.Printf("Container runtime client created in %s", time.Since(start))
	return runtime
}

// initSecretManager connects to Infisical when configured, otherwise returns
// nil and static credentials from the configuration are used.
func initSecretManager(cfg *config.Config) *secrets.Manager {
	if !cfg.InfisicalEnabled() {
		return nil
	}

	log.Println("Creating secret manager client...")
	start := time.Now()

	manager, err := secrets.NewManager(secrets.InfisicalConfig{
		ClientID:     cfg.InfisicalClientID,
		ClientSecret: cfg.InfisicalClientSecret,
		ProjectID:    cfg.InfisicalProjectID,
		Environment:  cfg.InfisicalEnvironment,
	})
	if err != nil {
		log.Fatalf("Error creating secret manager client: %v\n", err)
	}

	log.Printf("Secret manager client created in %s", time.Since(start))
	return manager
}

func buildCoordinator(cfg *config.Config, runtime deployment.ContainerRuntime, manager *secrets.Manager) *deployment.Coordinator {
	var credentials deployment.RegistryCredentialProvider
	var resolver deployment.SecretResolver

	if manager != nil {
		credentials = &secrets.RegistryProvider{
			Manager:    manager,
			URL:        cfg.RegistryURL,
			SecretPath: cfg.RegistrySecretPath,
		}
		resolver = manager
	} else {
		credentials = deployment.StaticCredentials(cfg.Registry())
	}

	store := deployment.NewFileStore(cfg.RecordDir)
	return deployment.NewCoordinator(runtime, credentials, resolver, store, nil, nil, cfg.Options())
}

// runOnce performs a single deployment from the configured request. The
// process exits 0 only when the recorded status is "succeeded".
func runOnce(ctx context.Context, cfg *config.Config, coordinator *deployment.Coordinator, requests utils.Store) {
	req, err := cfg.Request()
	if err != nil {
		log.Fatalf("Invalid deployment request: %v\n", err)
	}

	rec, err := coordinator.Run(ctx, req)
	if err != nil {
		log.Printf("Deployment failed: %v\n", err)
	}
	if rec == nil || rec.Status != deployment.StatusSucceeded {
		os.Exit(1)
	}

	rememberRequest(requests, rec)
}

// rememberRequest persists the request keyed by the running container's ID
// so the container can be redeployed later.
func rememberRequest(requests utils.Store, rec *deployment.DeploymentRecord) {
	if rec.ContainerID == "" {
		return
	}
	if err := requests.Save(rec.ContainerID+".gob", rec.Request); err != nil {
		log.Printf("Error saving deployment request: %v\n", err)
	}
}

// listen consumes deployment requests from NATS JetStream and runs them one
// at a time, publishing each record for downstream automation.
func listen(ctx context.Context, cfg *config.Config, coordinator *deployment.Coordinator, runtime deployment.ContainerRuntime, manager *secrets.Manager, requests utils.Store) {
	if err := nats.Connect(cfg.NatsURL); err != nil {
		log.Fatalf("Error connecting to NATS: %v\n", err)
	}
	defer nats.Close()

	cons, err := nats.CreateDurableConsumer(ctx, cfg.NatsStream, cfg.NatsConsumer, cfg.NatsSubject)
	if err != nil {
		log.Fatalf("Error creating JetStream consumer: %v\n", err)
	}

	info, err := cons.Info(ctx)
	if err != nil {
		log.Fatalf("Error reading consumer info: %v\n", err)
	}
	log.Println("Connected to JetStream:", info.Stream)
	log.Println("Durable consumer name:", info.Name)
	log.Println("Messages pending:", info.NumPending)

	iter, err := cons.Messages()
	if err != nil {
		log.Fatalf("Error creating JetStream iterator: %v\n", err)
	}
	go func() {
		<-ctx.Done()
		iter.Stop()
	}()

	log.Println("Ready to listen...")

	for {
		msg, err := iter.Next()
		if err != nil {
			if ctx.Err() != nil {
				log.Println("Listener stopped")
				return
			}
			log.Printf("Error reading JetStream message: %v\n", err)
			return
		}

		switch msg.Subject() {
		case subjectRequested:
			if !handleDeployRequested(ctx, cfg, coordinator, requests, msg.Data()) {
				if err := msg.Nak(); err != nil {
					log.Printf("Error NAKing message: %v\n", err)
				}
				continue
			}
		case subjectSecretsRotated:
			if manager != nil {
				manager.Flush()
			}
			if err := redeployAll(ctx, coordinator, runtime, requests); err != nil {
				log.Printf("Error redeploying after secret rotation: %v\n", err)
			}
		default:
			log.Printf("Ignoring message on subject %s\n", msg.Subject())
		}

		if err := msg.Ack(); err != nil {
			log.Printf("Error acknowledging message: %v\n", err)
		}
	}
}

// handleDeployRequested runs one event-carried deployment. It returns false
// when the message should be redelivered (another run holds the slot).
func handleDeployRequested(ctx context.Context, cfg *config.Config, coordinator *deployment.Coordinator, requests utils.Store, data []byte) bool {
	event := cloudevents.NewEvent()
	if err := json.Unmarshal(data, &event); err != nil {
		log.Printf("Error unmarshalling event: %v\n", err)
		return true // poison message, do not redeliver
	}

	log.Println("Event Type:", event.Type())
	log.Println("Event ID:", event.ID())
	log.Println("Event Source:", event.Source())

	var req deployment.DeploymentRequest
	if err := json.Unmarshal(event.Data(), &req); err != nil {
		log.Printf("Error parsing the event data: %v\n", err)
		return true
	}

	rec, err := coordinator.Run(ctx, req)
	if errors.Is(err, deployment.ErrDeploymentInProgress) {
		log.Printf("Deferring request for %s: %v\n", req.AppName, err)
		return false
	}
	if err != nil {
		log.Printf("Error deploying container: %v\n", err)
	}
	if rec == nil {
		return true
	}

	if rec.Status == deployment.StatusSucceeded {
		rememberRequest(requests, rec)
	}
	publishRecord(ctx, cfg, rec)
	return true
}

func publishRecord(ctx context.Context, cfg *config.Config, rec *deployment.DeploymentRecord) {
	event := cloudevents.NewEvent()
	event.SetID(rec.ID)
	event.SetType("deployment.record")
	event.SetSource("deployment-orchestrator")
	event.SetTime(rec.FinishedAt)
	if err := event.SetData(cloudevents.ApplicationJSON, rec); err != nil {
		log.Printf("Error encoding record event: %v\n", err)
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("Error marshalling record event: %v\n", err)
		return
	}
	if err := nats.Publish(ctx, cfg.NatsResultSubject, data); err != nil {
		log.Printf("Error publishing record event: %v\n", err)
	}
}

// redeployAll replays the stored request of every managed running container.
func redeployAll(ctx context.Context, coordinator *deployment.Coordinator, runtime deployment.ContainerRuntime, requests utils.Store) error {
	containers, err := runtime.ListContainers(ctx, false)
	if err != nil {
		return fmt.Errorf("listing running containers: %w", err)
	}

	var failures []error
	for _, c := range containers {
		var req deployment.DeploymentRequest
		if err := requests.Load(c.ID+".gob", &req); err != nil {
			// Not managed by this orchestrator.
			continue
		}

		log.Printf("Redeploying %s (%s)\n", req.AppName, c.Name)
		rec, err := coordinator.Run(ctx, req)
		if err != nil {
			failures = append(failures, fmt.Errorf("redeploying %s: %w", req.AppName, err))
			continue
		}

		rememberRequest(requests, rec)
		if err := requests.Delete(c.ID + ".gob"); err != nil {
			log.Printf("Error deleting stale request file: %v\n", err)
		}
	}

	return errors.Join(failures...)
}
