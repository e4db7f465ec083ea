package deployment

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Store persists record artifacts by well-known name.
type Store interface {
	Write(name string, data []byte) error
}

// fileStore writes artifacts under a directory, overwriting per run.
type fileStore struct {
	dir string
}

// NewFileStore returns a Store rooted at dir. The directory is created on
// first write.
func NewFileStore(dir string) Store {
	return &fileStore{dir: dir}
}

func (s *fileStore) Write(name string, data []byte) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("creating record directory: %w", err)
	}
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// Well-known artifact names, overwritten once per run. Single-host,
// single-in-flight model: the latest run is the only one that matters to
// downstream automation.
const (
	RecordEnvFile  = "deploy-result.env"
	RecordJSONFile = "deploy-result.json"
)

// DeploymentRecorder persists the record as two artifacts derived from the
// same data: a flat KEY=VALUE file for shell pipelines and the structured
// JSON document.
type DeploymentRecorder struct {
	store Store
}

// NewRecorder returns a recorder writing to the given store.
func NewRecorder(store Store) *DeploymentRecorder {
	return &DeploymentRecorder{store: store}
}

// Record persists the record exactly once. Both artifacts are written even
// when one fails, so a partial write still leaves something to inspect.
func (r *DeploymentRecorder) Record(rec *DeploymentRecord) error {
	doc, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding deployment record: %w", err)
	}

	jsonErr := r.store.Write(RecordJSONFile, doc)
	envErr := r.store.Write(RecordEnvFile, encodeEnv(rec))

	if jsonErr != nil {
		return jsonErr
	}
	return envErr
}

func encodeEnv(rec *DeploymentRecord) []byte {
	var b strings.Builder
	put := func(key, value string) {
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(value)
		b.WriteByte('\n')
	}

	put("DEPLOY_ID", rec.ID)
	put("DEPLOY_APP", rec.Request.AppName)
	put("DEPLOY_CONTAINER", rec.Request.ContainerName)
	put("DEPLOY_IMAGE", rec.Request.Image)
	put("DEPLOY_HOST_PORT", fmt.Sprintf("%d", rec.Request.HostPort))
	put("DEPLOY_STATUS", string(rec.Status))
	if rec.FailureStage != "" {
		put("DEPLOY_FAILURE_STAGE", string(rec.FailureStage))
	}
	put("DEPLOY_STARTED_AT", rec.StartedAt.Format(time.RFC3339))
	put("DEPLOY_FINISHED_AT", rec.FinishedAt.Format(time.RFC3339))
	put("DEPLOY_HEALTH_ATTEMPTS", fmt.Sprintf("%d", len(rec.HealthCheckHistory)))
	return []byte(b.String())
}
