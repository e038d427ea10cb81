package containers

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
)

// ImageAPI is the subset of the Docker client used for image cleanup.
type ImageAPI interface {
	ImageList(ctx context.Context, options image.ListOptions) ([]image.Summary, error)
	ImageRemove(ctx context.Context, imageID string, options image.RemoveOptions) ([]image.DeleteResponse, error)
}

// ImageCleaner force-removes images carrying a marker label.
type ImageCleaner struct {
	api    ImageAPI
	logger *log.Logger
}

// NewImageCleaner wraps a Docker image API.
func NewImageCleaner(api ImageAPI, logger *log.Logger) *ImageCleaner {
	if logger == nil {
		logger = log.Default()
	}
	return &ImageCleaner{api: api, logger: logger}
}

// RemoveLabeled removes every image matching label ("key=value" or "key").
// A failure on one image does not stop removal of the others; the returned
// error joins every individual failure.
func (c *ImageCleaner) RemoveLabeled(ctx context.Context, label string) (int, error) {
	images, err := c.api.ImageList(ctx, image.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", label)),
	})
	if err != nil {
		return 0, fmt.Errorf("listing images with label %s: %w", label, err)
	}

	removed := 0
	var errs []error
	for _, img := range images {
		if img.ID == "" {
			continue
		}
		if _, err := c.api.ImageRemove(ctx, img.ID, image.RemoveOptions{Force: true, PruneChildren: true}); err != nil {
			c.logger.Warn("image removal failed", "image", img.ID, "error", err)
			errs = append(errs, fmt.Errorf("removing image %s: %w", img.ID, err))
			continue
		}
		removed++
		c.logger.Debug("image removed", "image", img.ID)
	}
	return removed, errors.Join(errs...)
}
