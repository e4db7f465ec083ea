package deployment

import (
	"context"
	"fmt"
	"log"
)

// FetchResult carries pull-time image metadata for the deployment record.
type FetchResult struct {
	Image *ImageMetadata
}

// ImageFetcher pulls the target image reference. A failed pull is fatal for
// the run: image availability is assumed transient-free and a pipeline rerun
// is the retry mechanism.
type ImageFetcher struct {
	runtime ContainerRuntime
}

// NewImageFetcher returns a fetcher bound to the given runtime.
func NewImageFetcher(runtime ContainerRuntime) *ImageFetcher {
	return &ImageFetcher{runtime: runtime}
}

// Fetch pulls ref and returns its metadata. Metadata lookup failures are
// logged but not fatal; the metadata is audit context only.
func (f *ImageFetcher) Fetch(ctx context.Context, ref string) (FetchResult, error) {
	log.Println("Pulling image:", ref)
	if err := f.runtime.PullImage(ctx, ref); err != nil {
		return FetchResult{}, fmt.Errorf("image pull: %w", err)
	}

	meta, err := f.runtime.ImageMetadata(ctx, ref)
	if err != nil {
		log.Printf("Could not read metadata for %s: %v\n", ref, err)
		return FetchResult{}, nil
	}
	return FetchResult{Image: meta}, nil
}
